package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxSend           TransactionType = "send"
	TxReceive        TransactionType = "receive"
	TxConvert        TransactionType = "convert"
	TxAddFunds       TransactionType = "add_funds"
	TxPaymentRequest TransactionType = "payment_request"
	TxCardPayment    TransactionType = "card_payment"
)

// TransactionTypes lists every journal entry type.
var TransactionTypes = []TransactionType{
	TxSend, TxReceive, TxConvert, TxAddFunds, TxPaymentRequest, TxCardPayment,
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is a journal entry. Seq is the insertion order within the journal.
// CardAmount is the signed change the entry made to the CardID card.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	Seq         int64             `json:"seq"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Timestamp   time.Time         `json:"timestamp"`
	From        string            `json:"from,omitempty"`
	To          string            `json:"to,omitempty"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	CardID      string            `json:"cardId,omitempty"`
	CardAmount  decimal.Decimal   `json:"cardAmount"`
}
