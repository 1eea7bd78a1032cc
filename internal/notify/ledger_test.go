package notify

import (
	"errors"
	"testing"

	"visit_tracker/internal/models"
)

type memStore struct {
	records  []models.NotificationRecord
	notified map[uint]bool
	failNext bool
}

func newMemStore() *memStore {
	return &memStore{notified: make(map[uint]bool)}
}

func (m *memStore) AppendNotification(rec *models.NotificationRecord) error {
	if m.failNext {
		m.failNext = false
		return errors.New("store unavailable")
	}
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) SetStudentNotified(visitID uint) error {
	m.notified[visitID] = true
	return nil
}

type stubSender struct {
	method string
	err    error
	sent   int
}

func (s *stubSender) Method() string { return s.method }

func (s *stubSender) Send(visitID uint, notifType, message string) error {
	s.sent++
	return s.err
}

func TestRecordAttemptAlwaysAppends(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)

	for i := 0; i < 3; i++ {
		rec, err := ledger.RecordAttempt(7, "status_change", "push", models.EntityRef{Kind: models.RefVisit, ID: 7})
		if err != nil {
			t.Fatalf("record attempt %d: %v", i, err)
		}
		if rec.Delivered {
			t.Error("bare attempt should not be marked delivered")
		}
	}
	if len(store.records) != 3 {
		t.Fatalf("got %d records, want 3 (no deduplication)", len(store.records))
	}
}

func TestDispatchRecordsPerSender(t *testing.T) {
	store := newMemStore()
	push := &stubSender{method: "push"}
	sms := &stubSender{method: "sms", err: errors.New("gateway down")}
	ledger := NewLedger(store, push, sms)

	ledger.Dispatch(12, "arrival", "Teacher has arrived")

	if len(store.records) != 2 {
		t.Fatalf("got %d records, want 2", len(store.records))
	}
	byMethod := map[string]models.NotificationRecord{}
	for _, r := range store.records {
		byMethod[r.Method] = r
	}
	if !byMethod["push"].Delivered {
		t.Error("push attempt should be delivered")
	}
	if byMethod["sms"].Delivered {
		t.Error("failed sms attempt should not be delivered")
	}
	if byMethod["push"].Related.Kind != models.RefVisit || byMethod["push"].Related.ID != 12 {
		t.Errorf("related ref = %+v, want visit/12", byMethod["push"].Related)
	}
}

func TestDispatchSurvivesStoreFailure(t *testing.T) {
	store := newMemStore()
	store.failNext = true
	ledger := NewLedger(store, &stubSender{method: "push"})

	// Must not panic or propagate; log-and-continue.
	ledger.Dispatch(3, "status_change", "En route")
}

func TestMarkStudentNotified(t *testing.T) {
	store := newMemStore()
	ledger := NewLedger(store)

	if err := ledger.MarkStudentNotified(9); err != nil {
		t.Fatalf("mark notified: %v", err)
	}
	if !store.notified[9] {
		t.Error("flag not set")
	}
	if len(store.records) != 0 {
		t.Error("flag must be independent of the attempt log")
	}
}
