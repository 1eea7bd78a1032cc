// Package notify keeps the append-only log of notification attempts tied to
// visit transitions. Delivery itself is someone else's job: senders are
// injected, and a sender failure never fails the transition that triggered
// it.
package notify

import (
	"time"

	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/models"
)

// Store is the slice of persistence the ledger needs.
type Store interface {
	AppendNotification(rec *models.NotificationRecord) error
	SetStudentNotified(visitID uint) error
}

// Sender pushes a notification over one channel (push, email, sms).
type Sender interface {
	Method() string
	Send(visitID uint, notifType, message string) error
}

// Ledger records notification attempts and fans them out to senders.
type Ledger struct {
	store   Store
	senders []Sender
	now     func() time.Time
}

// NewLedger creates a ledger over the given store and senders.
func NewLedger(store Store, senders ...Sender) *Ledger {
	return &Ledger{store: store, senders: senders, now: time.Now}
}

// RecordAttempt appends a new attempt record. It never deduplicates: the
// log is history, not a current-state flag.
func (l *Ledger) RecordAttempt(visitID uint, notifType, method string, related models.EntityRef) (*models.NotificationRecord, error) {
	rec := &models.NotificationRecord{
		VisitID: visitID,
		Type:    notifType,
		Method:  method,
		SentAt:  l.now(),
		Related: related,
	}
	if err := l.store.AppendNotification(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Dispatch sends a notification through every configured sender, recording
// one attempt per channel. Failures are logged and swallowed so the
// triggering transition always goes through.
func (l *Ledger) Dispatch(visitID uint, notifType, message string) {
	related := models.EntityRef{Kind: models.RefVisit, ID: visitID}
	if len(l.senders) == 0 {
		if _, err := l.RecordAttempt(visitID, notifType, "none", related); err != nil {
			logrus.WithError(err).WithField("visit_id", visitID).Warn("Failed to record notification attempt.")
		}
		return
	}
	for _, s := range l.senders {
		rec := &models.NotificationRecord{
			VisitID: visitID,
			Type:    notifType,
			Method:  s.Method(),
			SentAt:  l.now(),
			Related: related,
		}
		if err := s.Send(visitID, notifType, message); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"visit_id": visitID,
				"method":   s.Method(),
				"type":     notifType,
			}).Warn("Notification send failed, recording undelivered attempt.")
		} else {
			rec.Delivered = true
		}
		if err := l.store.AppendNotification(rec); err != nil {
			logrus.WithError(err).WithField("visit_id", visitID).Warn("Failed to record notification attempt.")
		}
	}
}

// MarkStudentNotified flips the visit's student-notified flag. Independent
// of the attempt log.
func (l *Ledger) MarkStudentNotified(visitID uint) error {
	return l.store.SetStudentNotified(visitID)
}
