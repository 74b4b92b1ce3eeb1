// Package history looks up prior repairs for a vehicle and shop. The store
// is optional: without a configured database the History Check stage is
// skipped entirely.
package history

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/garagehq/advisor/pkg/models"
)

//go:embed migrations
var migrationsFS embed.FS

// PriorRepair is one past repair record for a vehicle.
type PriorRepair struct {
	RepairedAt time.Time
	Complaint  string
	Resolution string
	Parts      []string
	// Outcome is "fixed", "comeback", or "unknown".
	Outcome string
}

// Store answers prior-repair queries.
type Store interface {
	PriorRepairs(ctx context.Context, v models.Vehicle, shopID string) ([]PriorRepair, error)
	Close() error
}

// PostgresStore backs Store with the shop's repair-order database.
type PostgresStore struct {
	db *stdsql.DB
}

// Open connects, runs migrations, and returns the store.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history database unreachable: %w", err)
	}
	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func runMigrations(db *stdsql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// PriorRepairs returns up to the last 20 repairs for the vehicle, most
// recent first. Vehicles are matched by VIN when present, else by
// year/make/model.
func (s *PostgresStore) PriorRepairs(ctx context.Context, v models.Vehicle, shopID string) ([]PriorRepair, error) {
	var (
		rows *stdsql.Rows
		err  error
	)
	const base = `
		SELECT repaired_at, complaint, resolution, parts, outcome
		FROM prior_repairs
		WHERE shop_id = $1`
	if v.VIN != "" {
		rows, err = s.db.QueryContext(ctx, base+` AND vin = $2 ORDER BY repaired_at DESC LIMIT 20`, shopID, v.VIN)
	} else {
		rows, err = s.db.QueryContext(ctx,
			base+` AND year = $2 AND lower(make) = lower($3) AND lower(model) = lower($4)
			ORDER BY repaired_at DESC LIMIT 20`,
			shopID, v.Year, v.Make, v.Model)
	}
	if err != nil {
		return nil, fmt.Errorf("querying prior repairs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PriorRepair
	for rows.Next() {
		var (
			r     PriorRepair
			parts stdsql.NullString
		)
		if err := rows.Scan(&r.RepairedAt, &r.Complaint, &r.Resolution, &parts, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scanning prior repair: %w", err)
		}
		if parts.Valid && parts.String != "" {
			r.Parts = strings.Split(parts.String, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error { return s.db.Close() }

// ConfidenceDelta derives the signed history adjustment for a diagnosis
// from prior repairs: each prior fix matching the diagnosis adds 0.05, each
// comeback on the same work subtracts 0.1. The result is clamped to
// [-0.2, +0.2] by the merge layer.
func ConfidenceDelta(repairs []PriorRepair, diagnosis string) float64 {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(diagnosis)) {
		if len(w) > 2 {
			words[w] = true
		}
	}
	var delta float64
	for _, r := range repairs {
		matched := 0
		for _, w := range strings.Fields(strings.ToLower(r.Resolution + " " + r.Complaint)) {
			if words[w] {
				matched++
			}
		}
		if matched < 2 {
			continue
		}
		switch r.Outcome {
		case "fixed":
			delta += 0.05
		case "comeback":
			delta -= 0.1
		}
	}
	return delta
}
