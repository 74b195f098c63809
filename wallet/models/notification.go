package models

import "time"

type NotificationCategory string

const (
	NotifyTransaction NotificationCategory = "transaction"
	NotifySecurity    NotificationCategory = "security"
	NotifySystem      NotificationCategory = "system"
)

// Notification is a feed entry. TransactionID correlates it with the journal
// entry that produced it and is empty for security and system notices.
type Notification struct {
	ID            string               `json:"id"`
	UserID        string               `json:"userId"`
	Seq           int64                `json:"seq"`
	Category      NotificationCategory `json:"category"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	Timestamp     time.Time            `json:"timestamp"`
	Read          bool                 `json:"read"`
	TransactionID string               `json:"transactionId,omitempty"`
}
