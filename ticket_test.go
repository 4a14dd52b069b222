package ticketflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTicketValidPayload(t *testing.T) {
	payload := []byte(`{
		"customer_name": "John Doe",
		"email": "john.doe@email.com",
		"query": "I was charged twice for my subscription",
		"priority": "high",
		"ticket_id": "TKT-2024001"
	}`)

	ticket, err := ParseTicket(payload)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", ticket.CustomerName)
	assert.Equal(t, "john.doe@email.com", ticket.Email)
	assert.Equal(t, PriorityHigh, ticket.Priority)
	assert.Equal(t, "TKT-2024001", ticket.TicketID)
}

func TestParseTicketDefaultsPriority(t *testing.T) {
	payload := []byte(`{
		"customer_name": "John Doe",
		"email": "john.doe@email.com",
		"query": "double charge",
		"ticket_id": "TKT-2024001"
	}`)

	ticket, err := ParseTicket(payload)
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, ticket.Priority)
}

func TestParseTicketRejectsMalformedJSON(t *testing.T) {
	_, err := ParseTicket([]byte(`{"customer_name":`))

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "payload", vErr.Field)
}

func TestParseTicketRejectsMissingField(t *testing.T) {
	payload := []byte(`{
		"customer_name": "John Doe",
		"query": "double charge",
		"priority": "high",
		"ticket_id": "TKT-2024001"
	}`)

	_, err := ParseTicket(payload)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestValidateTicketFields(t *testing.T) {
	cases := []struct {
		name      string
		mutate    func(*Ticket)
		wantField string
	}{
		{"empty customer name", func(tk *Ticket) { tk.CustomerName = "  " }, "customer_name"},
		{"email without at sign", func(tk *Ticket) { tk.Email = "john.doe.email.com" }, "email"},
		{"empty query", func(tk *Ticket) { tk.Query = "" }, "query"},
		{"unknown priority", func(tk *Ticket) { tk.Priority = "urgent" }, "priority"},
		{"bad ticket id prefix", func(tk *Ticket) { tk.TicketID = "TIK-2024001" }, "ticket_id"},
		{"short ticket id", func(tk *Ticket) { tk.TicketID = "TKT-2024" }, "ticket_id"},
		{"non-digit ticket id", func(tk *Ticket) { tk.TicketID = "TKT-2024A01" }, "ticket_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticket := sampleTicket()
			tc.mutate(&ticket)

			err := ticket.Validate()
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tc.wantField, vErr.Field)
		})
	}
}

func TestValidateAcceptsEveryPriority(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical} {
		ticket := sampleTicket()
		ticket.Priority = p
		assert.NoError(t, ticket.Validate())
	}
}

func TestTicketArgs(t *testing.T) {
	args := sampleTicket().args()
	assert.Equal(t, map[string]any{
		"ticket_id":     "TKT-2024001",
		"customer_name": "John Doe",
		"email":         "john.doe@email.com",
		"query":         "double charge refund",
		"priority":      "high",
	}, args)
}
