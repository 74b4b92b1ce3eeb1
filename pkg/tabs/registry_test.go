package tabs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagehq/advisor/pkg/faults"
)

func TestRegistry_RegisterAndRelease(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))
	assert.Len(t, r.Leases(), 1)

	r.Release("tab-1")
	assert.Empty(t, r.Leases())
}

func TestRegistry_ContendedTabFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))

	err := r.Register("tab-1", "identifix", "run-b")

	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.CodeTabContended))
}

func TestRegistry_OwnerReregisters(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))
}

func TestRegistry_StaleLeaseReclaimed(t *testing.T) {
	now := time.Now()
	current := now
	r := NewRegistry(
		WithStaleThreshold(time.Minute),
		WithNowFunc(func() time.Time { return current }),
	)
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))

	// Within the threshold the lease holds.
	current = now.Add(30 * time.Second)
	require.Error(t, r.Register("tab-1", "identifix", "run-b"))

	// Past the threshold another run reclaims it.
	current = now.Add(61 * time.Second)
	require.NoError(t, r.Register("tab-1", "identifix", "run-b"))

	leases := r.Leases()
	require.Len(t, leases, 1)
	assert.Equal(t, "run-b", leases[0].RunID)
}

func TestRegistry_TouchDefersStaleness(t *testing.T) {
	now := time.Now()
	current := now
	r := NewRegistry(
		WithStaleThreshold(time.Minute),
		WithNowFunc(func() time.Time { return current }),
	)
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))

	current = now.Add(45 * time.Second)
	r.Touch("tab-1")

	current = now.Add(90 * time.Second)
	require.Error(t, r.Register("tab-1", "identifix", "run-b"))
	assert.Empty(t, r.StaleTabs())
}

func TestRegistry_ReleaseRun(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))
	require.NoError(t, r.Register("tab-2", "nexpart", "run-a"))
	require.NoError(t, r.Register("tab-3", "identifix", "run-b"))

	released := r.ReleaseRun("run-a")

	assert.Equal(t, 2, released)
	require.Len(t, r.Leases(), 1)
	assert.Equal(t, "run-b", r.Leases()[0].RunID)
	assert.Empty(t, r.LeasesForRun("run-a"))
}

func TestRegistry_CleanupStale(t *testing.T) {
	now := time.Now()
	current := now
	r := NewRegistry(
		WithStaleThreshold(time.Minute),
		WithNowFunc(func() time.Time { return current }),
	)
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))
	require.NoError(t, r.Register("tab-2", "nexpart", "run-b"))
	current = now.Add(30 * time.Second)
	r.Touch("tab-2")

	current = now.Add(70 * time.Second)
	n := r.CleanupStale()

	assert.Equal(t, 1, n)
	require.Len(t, r.Leases(), 1)
	assert.Equal(t, "tab-2", r.Leases()[0].TabID)
}

func TestRegistry_AcquireWaitsForRelease(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))

	var wg sync.WaitGroup
	wg.Add(1)
	var acquireErr error
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		acquireErr = r.Acquire(ctx, "tab-1", "identifix", "run-b")
	}()

	time.Sleep(100 * time.Millisecond)
	r.Release("tab-1")
	wg.Wait()

	require.NoError(t, acquireErr)
	assert.Equal(t, "run-b", r.Leases()[0].RunID)
}

func TestRegistry_AcquireGivesUpOnDeadline(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("tab-1", "identifix", "run-a"))

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, "tab-1", "identifix", "run-b")

	require.Error(t, err)
	assert.True(t, faults.Is(err, faults.CodeTabContended))
}
