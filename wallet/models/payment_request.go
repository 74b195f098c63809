package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentRequestStatus string

const (
	RequestPending   PaymentRequestStatus = "pending"
	RequestCompleted PaymentRequestStatus = "completed"
	RequestCancelled PaymentRequestStatus = "cancelled"
)

func (s PaymentRequestStatus) IsTerminal() bool {
	return s == RequestCompleted || s == RequestCancelled
}

type PaymentRequest struct {
	ID          string               `json:"id"`
	AccountID   string               `json:"accountId"`
	Amount      decimal.Decimal      `json:"amount"`
	Description string               `json:"description"`
	To          string               `json:"to,omitempty"`
	Timestamp   time.Time            `json:"timestamp"`
	Status      PaymentRequestStatus `json:"status"`
}
