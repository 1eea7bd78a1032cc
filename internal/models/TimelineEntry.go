package models

import (
	"time"

	"gorm.io/gorm"
)

// TimelineEntry is one immutable record of a status transition. Entries are
// append-only and non-decreasing in Timestamp; the final entry's status
// always equals the owning visit's status.
type TimelineEntry struct {
	gorm.Model
	VisitID   uint        `json:"visit_id" gorm:"index"`
	Status    VisitStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`

	// Optional location snapshot at the moment of transition.
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	Notes           string `json:"notes"`
	AutomaticUpdate bool   `json:"automatic_update"`
}
