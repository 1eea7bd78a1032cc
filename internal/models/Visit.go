package models

import (
	"time"

	"gorm.io/gorm"
)

// Destination is where the visit takes place.
type Destination struct {
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// HasCoordinates reports whether the destination was geocoded.
func (d Destination) HasCoordinates() bool {
	return d.Latitude != 0 || d.Longitude != 0
}

// TeacherLocation is the teacher's last reported live position.
type TeacherLocation struct {
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Accuracy    float64    `json:"accuracy"` // GPS accuracy in meters
	Address     string     `json:"address"`
	LastUpdated *time.Time `json:"last_updated"`
}

// HasCoordinates reports whether a position was ever reported.
func (l TeacherLocation) HasCoordinates() bool {
	return l.LastUpdated != nil
}

// VisitResults holds the assessment outcome, populated on completion.
type VisitResults struct {
	Score       *float64   `json:"score"`
	Grade       string     `json:"grade"`
	Feedback    string     `json:"feedback"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Visit is a scheduled home-visit assessment tracked live between the
// teacher performing it and the student awaiting it.
type Visit struct {
	gorm.Model
	TeacherID uint `json:"teacher_id" gorm:"index"`
	Teacher   User `json:"teacher,omitempty" gorm:"foreignKey:TeacherID"`
	StudentID uint `json:"student_id" gorm:"index"`
	Student   User `json:"student,omitempty" gorm:"foreignKey:StudentID"`

	ScheduledDate     time.Time `json:"scheduled_date"`
	EstimatedDuration int       `json:"estimated_duration"` // minutes

	Destination     Destination     `json:"destination" gorm:"embedded;embeddedPrefix:destination_"`
	TeacherLocation TeacherLocation `json:"teacher_location" gorm:"embedded;embeddedPrefix:teacher_location_"`

	Status     VisitStatus `json:"status" gorm:"index;default:scheduled"`
	TravelMode TravelMode  `json:"travel_mode" gorm:"default:driving"`

	// Derived and cached; recomputed on every location update. Both stay
	// nil until teacher and destination coordinates are both known.
	DistanceToDestination *float64   `json:"distance_to_destination"` // meters
	EstimatedArrivalTime  *time.Time `json:"estimated_arrival_time"`

	Timeline []TimelineEntry `json:"timeline,omitempty" gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE;"`

	AssessmentType string       `json:"assessment_type"`
	Results        VisitResults `json:"results" gorm:"embedded;embeddedPrefix:results_"`

	StudentNotified bool                 `json:"student_notified"`
	SentLog         []NotificationRecord `json:"sent_log,omitempty" gorm:"foreignKey:VisitID;constraint:OnDelete:CASCADE;"`

	Department string `json:"department"`
	Subject    string `json:"subject"`
	Term       string `json:"term"`

	IsActive bool `json:"is_active" gorm:"default:true"`
}

// CurrentTimelineEntry returns the latest timeline entry, or nil for a
// visit that somehow has none.
func (v *Visit) CurrentTimelineEntry() *TimelineEntry {
	if len(v.Timeline) == 0 {
		return nil
	}
	return &v.Timeline[len(v.Timeline)-1]
}

// IsOverdue reports whether the teacher blew past the cached arrival
// estimate while still on the way. Stale positions are surfaced this way
// rather than expired by the hub.
func (v *Visit) IsOverdue(now time.Time) bool {
	if v.Status.IsTerminal() || v.EstimatedArrivalTime == nil {
		return false
	}
	switch v.Status {
	case StatusEnRoute, StatusNearby:
		return now.After(*v.EstimatedArrivalTime)
	}
	return false
}
