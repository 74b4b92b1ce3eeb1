// Package llm supplements knowledge-base answers with model-generated
// diagnosis ranking. It wraps the Anthropic Messages API behind a small
// interface so the pipeline can be tested with a fake.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/garagehq/advisor/pkg/models"
)

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Diagnoser produces ranked diagnoses for a symptom description.
type Diagnoser interface {
	Diagnose(ctx context.Context, req DiagnoseRequest) (*DiagnoseResult, error)
}

// DiagnoseRequest carries everything the model needs to rank causes.
type DiagnoseRequest struct {
	Vehicle models.Vehicle
	Query   string
	DTCs    []string
	// Seed diagnoses from the knowledge base, if any. The model refines
	// them instead of starting cold.
	Seed []models.Diagnosis
	// Fragments are research findings already gathered this run,
	// summarized into the prompt for grounding.
	Fragments []models.ResearchFragment
}

// DiagnoseResult is the model's ranked answer.
type DiagnoseResult struct {
	Diagnoses []models.Diagnosis   `json:"diagnoses"`
	Parts     []models.PartRequest `json:"parts"`
	LaborOp   string               `json:"labor_operation"`
}

// Client implements Diagnoser over Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// Options configures the client.
type Options struct {
	Model     string
	MaxTokens int64
}

// New builds the client from an existing Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("model identifier is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 2048
	}
	return &Client{msg: msg, model: opts.Model, maxTokens: opts.MaxTokens}, nil
}

// NewFromAPIKey constructs a client using the default Anthropic HTTP
// transport.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

const systemPrompt = `You are a master automotive diagnostic technician.
Given a vehicle, a customer complaint, and optionally diagnostic trouble
codes and research findings, return the most likely causes ranked by
probability. Respond with a single JSON object:
{"diagnoses":[{"cause":"...","confidence":0.0-1.0}],
 "parts":[{"name":"...","search_terms":["..."],"qty":1}],
 "labor_operation":"..."}
Confidence values must reflect real likelihood, not certainty theater.
Return JSON only, no prose.`

// Diagnose asks the model for ranked causes and parses the JSON reply.
func (c *Client) Diagnose(ctx context.Context, req DiagnoseRequest) (*DiagnoseResult, error) {
	if req.Query == "" && len(req.DTCs) == 0 {
		return nil, errors.New("nothing to diagnose: no query and no codes")
	}

	msg, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseResult(text.String())
}

func buildPrompt(req DiagnoseRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", req.Vehicle.Display())
	if req.Query != "" {
		fmt.Fprintf(&b, "Complaint: %s\n", req.Query)
	}
	if len(req.DTCs) > 0 {
		fmt.Fprintf(&b, "Trouble codes: %s\n", strings.Join(req.DTCs, ", "))
	}
	for _, d := range req.Seed {
		fmt.Fprintf(&b, "Knowledge-base candidate: %s (confidence %.2f)\n", d.Cause, d.Confidence)
	}
	for _, f := range req.Fragments {
		if f.Empty() {
			continue
		}
		fmt.Fprintf(&b, "Research from %s:\n", f.Source)
		for _, d := range f.Diagnoses {
			fmt.Fprintf(&b, "  - %s\n", d.Cause)
		}
		for _, fix := range f.Fixes {
			fmt.Fprintf(&b, "  - confirmed fix: %s\n", fix)
		}
	}
	return b.String()
}

// parseResult tolerates models that wrap JSON in a code fence.
func parseResult(text string) (*DiagnoseResult, error) {
	text = strings.TrimSpace(text)
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}
	if i := strings.LastIndex(text, "}"); i >= 0 {
		text = text[:i+1]
	}
	var res DiagnoseResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, fmt.Errorf("decoding model reply: %w", err)
	}
	for i := range res.Diagnoses {
		d := &res.Diagnoses[i]
		if d.Confidence < 0 {
			d.Confidence = 0
		}
		if d.Confidence > 1 {
			d.Confidence = 1
		}
	}
	// Models occasionally omit search_terms despite the prompt; a part
	// without any is unsearchable downstream, so default to its name.
	parts := res.Parts[:0]
	for _, p := range res.Parts {
		if p.Name == "" {
			continue
		}
		if len(p.SearchTerms) == 0 {
			p.SearchTerms = []string{p.Name}
		}
		parts = append(parts, p)
	}
	res.Parts = parts
	return &res, nil
}
