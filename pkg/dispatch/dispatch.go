// Package dispatch translates chat-gateway tool calls into orchestrator
// operations. Transports are out of scope; the gateway hands this package a
// tool name plus raw JSON arguments and relays the JSON reply.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/garagehq/advisor/pkg/adapters"
	"github.com/garagehq/advisor/pkg/faults"
	"github.com/garagehq/advisor/pkg/models"
	"github.com/garagehq/advisor/pkg/runs"
	"github.com/garagehq/advisor/pkg/store"
)

// Tool names in the registry.
const (
	ToolRunEstimate      = "run_estimate"
	ToolOrderParts       = "order_parts"
	ToolCustomerApproved = "customer_approved"
)

// Dispatcher routes tool calls. Follow-ups operate on the session store's
// last result for the chat and honor the customer-ready gate unless the shop
// explicitly overrides.
type Dispatcher struct {
	store   *store.Store
	manager *runs.Manager
	orderer adapters.PartsOrderer // optional
	log     *slog.Logger
}

// New creates a dispatcher.
func New(st *store.Store, manager *runs.Manager, orderer adapters.PartsOrderer, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: st, manager: manager, orderer: orderer, log: log}
}

type runEstimateArgs struct {
	ChatID   string                `json:"chat_id"`
	ShopID   string                `json:"shop_id,omitempty"`
	Vehicle  models.VehicleHints   `json:"vehicle,omitempty"`
	Query    string                `json:"query"`
	DTCs     []string              `json:"dtcs,omitempty"`
	Customer *models.CustomerHints `json:"customer,omitempty"`
	WantPDF  bool                  `json:"want_pdf,omitempty"`
}

type followUpArgs struct {
	ChatID       string `json:"chat_id"`
	ShopOverride bool   `json:"shop_override,omitempty"`
}

// Handle executes one tool call and returns its JSON-serializable reply.
func (d *Dispatcher) Handle(ctx context.Context, tool string, args json.RawMessage) (any, error) {
	switch tool {
	case ToolRunEstimate:
		var a runEstimateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decoding %s arguments: %w", tool, err)
		}
		return d.runEstimate(a)
	case ToolOrderParts:
		var a followUpArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decoding %s arguments: %w", tool, err)
		}
		return d.OrderParts(ctx, a.ChatID, a.ShopOverride)
	case ToolCustomerApproved:
		var a followUpArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("decoding %s arguments: %w", tool, err)
		}
		return d.CustomerApproved(ctx, a.ChatID, a.ShopOverride)
	default:
		return nil, fmt.Errorf("unknown tool %q", tool)
	}
}

func (d *Dispatcher) runEstimate(a runEstimateArgs) (any, error) {
	if a.ChatID == "" {
		return nil, fmt.Errorf("chat_id is required")
	}
	runID, err := d.manager.Submit(models.Request{
		ChatID:       a.ChatID,
		ShopID:       a.ShopID,
		VehicleHints: a.Vehicle,
		Query:        a.Query,
		DTCs:         a.DTCs,
		Customer:     a.Customer,
		WantPDF:      a.WantPDF,
	})
	if err != nil {
		return nil, err
	}
	d.log.Info("estimate run dispatched", "chat_id", a.ChatID, "run_id", runID)
	return map[string]string{"run_id": runID, "status": "running"}, nil
}

// OrderParts submits the last estimate's staged cart as a vendor order.
func (d *Dispatcher) OrderParts(ctx context.Context, chatID string, shopOverride bool) (*models.OrderResult, error) {
	res, or := d.gate(chatID, "order_parts", shopOverride)
	if res == nil || !or.Accepted {
		return or, nil
	}
	if d.orderer == nil {
		or.Accepted = false
		or.Message = "parts ordering is not configured"
		return or, nil
	}
	if !bundleOrderable(res.Bundle) {
		or.Accepted = false
		or.Message = "no priced parts to order"
		return or, nil
	}

	ctx = adapters.WithRunID(ctx, res.RunID)
	orderID, err := d.orderer.OrderParts(ctx, res.RunID, res.Bundle.Selections)
	if err != nil {
		or.Accepted = false
		or.Message = fmt.Sprintf("order failed: %s", faults.CodeOf(err))
		d.log.Warn("parts order failed", "chat_id", chatID, "error", err)
		return or, nil
	}
	or.OrderID = orderID
	or.OrderedAt = time.Now()
	or.Message = "order submitted"
	d.log.Info("parts ordered", "chat_id", chatID, "order_id", orderID)
	return or, nil
}

// CustomerApproved records approval of the last estimate.
func (d *Dispatcher) CustomerApproved(_ context.Context, chatID string, shopOverride bool) (*models.OrderResult, error) {
	res, or := d.gate(chatID, "customer_approved", shopOverride)
	if res == nil || !or.Accepted {
		return or, nil
	}
	or.Message = "approval recorded"
	if res.Estimate != nil {
		or.Message = fmt.Sprintf("approval recorded for estimate %s", res.Estimate.EstimateID)
	}
	d.log.Info("customer approval recorded", "chat_id", chatID, "run_id", res.RunID)
	return or, nil
}

// gate loads the chat's last result and applies the customer-ready rule.
func (d *Dispatcher) gate(chatID, action string, shopOverride bool) (*models.EstimateResult, *models.OrderResult) {
	or := &models.OrderResult{ChatID: chatID, Action: action}
	res := d.store.Get(chatID)
	if res == nil {
		or.Message = "no estimate on file for this chat"
		return nil, or
	}
	or.RunID = res.RunID
	if !res.CustomerReady && !shopOverride {
		or.Message = "estimate is not customer-ready; shop override required"
		return res, or
	}
	or.Accepted = true
	return res, or
}

func bundleOrderable(b *models.PartsBundle) bool {
	if b == nil {
		return false
	}
	for _, s := range b.Selections {
		if s.Quote != nil && !s.Part.Conditional {
			return true
		}
	}
	return false
}
