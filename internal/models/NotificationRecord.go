package models

import (
	"time"

	"gorm.io/gorm"
)

// NotificationRecord is one attempt to notify a party about a visit event.
// The log is append-only history, not current state: repeated attempts for
// the same event each get their own record.
type NotificationRecord struct {
	gorm.Model
	VisitID   uint      `json:"visit_id" gorm:"index"`
	Type      string    `json:"type"`   // e.g. "status_change", "arrival", "emergency"
	Method    string    `json:"method"` // "push", "email", "sms"
	SentAt    time.Time `json:"sent_at"`
	Delivered bool      `json:"delivered"`

	Related EntityRef `json:"related" gorm:"embedded"`
}
