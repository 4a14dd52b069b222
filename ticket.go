package ticketflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Ticket is the input contract for one customer-support request.
type Ticket struct {
	CustomerName string   `json:"customer_name" jsonschema:"minLength=1"`
	Email        string   `json:"email" jsonschema:"pattern=@"`
	Query        string   `json:"query" jsonschema:"minLength=1"`
	Priority     Priority `json:"priority,omitempty"`
	TicketID     string   `json:"ticket_id" jsonschema:"pattern=^TKT-[0-9]{7}$"`
}

var (
	ticketSchemaOnce sync.Once
	ticketSchema     *jsonschema.Schema
	ticketSchemaErr  error
)

// ticketJSONSchema reflects the schema from the Ticket type itself so the
// wire contract cannot drift from the struct definition.
func ticketJSONSchema() (*jsonschema.Schema, error) {
	ticketSchemaOnce.Do(func() {
		reflector := invopop.Reflector{ExpandedStruct: true, DoNotReference: true}
		raw, err := json.Marshal(reflector.Reflect(&Ticket{}))
		if err != nil {
			ticketSchemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("ticket.json", bytes.NewReader(raw)); err != nil {
			ticketSchemaErr = err
			return
		}
		ticketSchema, ticketSchemaErr = compiler.Compile("ticket.json")
	})
	return ticketSchema, ticketSchemaErr
}

// ParseTicket decodes and validates a ticket payload. A *ValidationError is
// returned for any contract violation; the priority defaults to medium when
// omitted.
func ParseTicket(payload []byte) (Ticket, error) {
	var ticket Ticket
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return ticket, &ValidationError{Field: "payload", Reason: "is not valid JSON"}
	}
	schema, err := ticketJSONSchema()
	if err != nil {
		return ticket, fmt.Errorf("compiling ticket schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return ticket, &ValidationError{Field: schemaErrorField(err), Reason: "violates the ticket schema"}
	}
	if err := json.Unmarshal(payload, &ticket); err != nil {
		return ticket, &ValidationError{Field: "payload", Reason: "does not decode into a ticket"}
	}
	if err := ticket.Validate(); err != nil {
		return ticket, err
	}
	if ticket.Priority == "" {
		ticket.Priority = PriorityMedium
	}
	return ticket, nil
}

// Validate checks the ticket fields against the input contract.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.CustomerName) == "" {
		return &ValidationError{Field: "customer_name", Reason: "must be non-empty"}
	}
	if !strings.Contains(t.Email, "@") {
		return &ValidationError{Field: "email", Reason: "must contain @"}
	}
	if strings.TrimSpace(t.Query) == "" {
		return &ValidationError{Field: "query", Reason: "must be non-empty"}
	}
	switch t.Priority {
	case "", PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high, critical"}
	}
	if !ticketIDPattern(t.TicketID) {
		return &ValidationError{Field: "ticket_id", Reason: "must match TKT- followed by 7 digits"}
	}
	return nil
}

func ticketIDPattern(id string) bool {
	if len(id) != len("TKT-")+7 || !strings.HasPrefix(id, "TKT-") {
		return false
	}
	for _, r := range id[len("TKT-"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// schemaErrorField pulls the offending property out of a validation error so
// the caller sees which field broke the contract.
func schemaErrorField(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return "payload"
	}
	for _, cause := range append([]*jsonschema.ValidationError{ve}, flattenCauses(ve)...) {
		if loc := strings.Trim(cause.InstanceLocation, "/"); loc != "" {
			return loc
		}
		if strings.Contains(cause.Message, "missing propert") {
			if name := quotedToken(cause.Message); name != "" {
				return name
			}
		}
	}
	return "payload"
}

func flattenCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	var all []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		all = append(all, c)
		all = append(all, flattenCauses(c)...)
	}
	return all
}

func quotedToken(msg string) string {
	if i := strings.Index(msg, "'"); i >= 0 {
		rest := msg[i+1:]
		if j := strings.Index(rest, "'"); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

// args returns the ticket identity fields handed to every ability call.
func (t Ticket) args() map[string]any {
	return map[string]any{
		"ticket_id":     t.TicketID,
		"customer_name": t.CustomerName,
		"email":         t.Email,
		"query":         t.Query,
		"priority":      string(t.Priority),
	}
}
