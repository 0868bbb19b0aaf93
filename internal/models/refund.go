package models

import "github.com/shopspring/decimal"

// RefundInstruction asks the wallet collaborator to return money for a cancelled reservation.
type RefundInstruction struct {
	ReservationID string          `json:"reservation_id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Destination   string          `json:"destination"`
	Reason        string          `json:"reason"`
}
