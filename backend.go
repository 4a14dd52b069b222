package ticketflow

import (
	"context"
	"fmt"
	"time"
)

// Client is the ability-backend interface. One implementation exists per
// backend classification: local execution in-process and external execution
// via a remote-capable client. The executor depends only on this interface.
type Client interface {
	Invoke(ctx context.Context, ability string, args map[string]any) (map[string]any, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, ability string, args map[string]any) (map[string]any, error)

// Invoke implements Client.
func (f ClientFunc) Invoke(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
	return f(ctx, ability, args)
}

// Handler performs one local ability.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// LocalBackend runs abilities in-process through registered handlers.
type LocalBackend struct {
	handlers map[string]Handler
}

// NewLocalBackend creates a local backend preloaded with the built-in
// state-management handlers.
func NewLocalBackend() *LocalBackend {
	b := &LocalBackend{handlers: make(map[string]Handler)}
	for name, status := range map[string]string{
		"accept_payload": "payload_accepted",
		"store_answer":   "answer_stored",
		"store_data":     "data_stored",
		"update_payload": "payload_updated",
	} {
		b.Register(name, stampedStatus(status))
	}
	b.Register("output_payload", func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"status": "payload_output", "final": true}, nil
	})
	return b
}

// Register adds a handler for a local ability. It panics if the ability is
// already registered; registration happens once at application startup.
func (b *LocalBackend) Register(name string, handler Handler) {
	if _, exists := b.handlers[name]; exists {
		panic(fmt.Sprintf("local handler %q is already registered", name))
	}
	b.handlers[name] = handler
}

// Invoke implements Client.
func (b *LocalBackend) Invoke(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
	handler, ok := b.handlers[ability]
	if !ok {
		return nil, &AbilityFailure{Ability: ability, Reason: "no local handler registered"}
	}
	return handler(ctx, args)
}

func stampedStatus(status string) Handler {
	return func(ctx context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{
			"status":    status,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil
	}
}

// StaticClient is an external client returning canned responses. It serves
// the CLI demo and tests; production deployments supply a real Client per
// endpoint.
type StaticClient struct {
	// Responses maps ability name to the value returned for it.
	Responses map[string]map[string]any
	// Latency is slept (honoring ctx) before each response.
	Latency time.Duration
}

// Invoke implements Client.
func (c *StaticClient) Invoke(ctx context.Context, ability string, args map[string]any) (map[string]any, error) {
	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if resp, ok := c.Responses[ability]; ok {
		return resp, nil
	}
	return map[string]any{"result": "ok"}, nil
}

// DemoClient returns a StaticClient with the canned responses used by the
// demo pipeline: a billing ticket whose knowledge-base match scores 95.
func DemoClient() *StaticClient {
	return &StaticClient{Responses: map[string]map[string]any{
		"parse_request_text": {
			"structured_data": map[string]any{
				"issue_type": "billing",
				"urgency":    "high",
				"keywords":   []any{"refund", "charge", "error"},
			},
		},
		"extract_entities": {
			"entities": map[string]any{
				"product":    "Premium Subscription",
				"account_id": "ACC-12345",
				"dates":      []any{"2024-01-15"},
			},
		},
		"normalize_fields": {
			"normalized": map[string]any{
				"date_format":   "ISO-8601",
				"priority_code": "P1",
			},
		},
		"enrich_records": {
			"enriched": map[string]any{
				"sla_deadline":     "2024-01-17T10:00:00Z",
				"customer_tier":    "Premium",
				"previous_tickets": 2,
			},
		},
		"add_flags_calculations": {
			"flags": map[string]any{
				"sla_risk":       "medium",
				"priority_score": 85,
				"auto_escalate":  false,
			},
		},
		"clarify_question": {
			"clarification": "Could you please provide your transaction ID for the billing issue?",
		},
		"extract_answer": {
			"customer_response": "Transaction ID: TXN-789456",
		},
		"knowledge_base_search": {
			"kb_results": []any{
				map[string]any{"article": "Billing FAQ", "relevance": 95},
				map[string]any{"article": "Refund Process", "relevance": 88},
			},
		},
		"solution_evaluation": {
			"solutions": []any{
				map[string]any{"solution": "Process refund", "score": 95},
				map[string]any{"solution": "Apply credit", "score": 78},
			},
		},
		"escalation_decision": {
			"assigned_to": "tier2-support",
		},
		"update_ticket": {
			"status":         "In Progress",
			"updated_fields": []any{"priority", "assignee"},
		},
		"close_ticket": {
			"status":          "Resolved",
			"resolution_time": "2 hours",
		},
		"response_generation": {
			"response": "We've processed your refund request. You should see the credit within 3-5 business days.",
		},
		"execute_api_calls": {
			"api_calls": []any{"CRM Update", "Billing System"},
			"success":   true,
		},
		"trigger_notifications": {
			"notifications":   []any{"Email sent", "SMS sent"},
			"delivery_status": "Success",
		},
	}}
}
