package ingest

import (
	"encoding/json"
	"fmt"
)

func parseTicket(raw string) (Ticket, error) {
	var ticket Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return Ticket{}, fmt.Errorf("decoding ticket: %w", err)
	}
	if ticket.ID == "" {
		return Ticket{}, fmt.Errorf("ticket missing id")
	}
	return ticket, nil
}
