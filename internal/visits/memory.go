package visits

import (
	"fmt"
	"sync"

	geomath "visit_tracker/internal/geo"
	"visit_tracker/internal/models"
)

// MemoryStore is an in-memory Store and notification store, used by tests
// and local development without Postgres.
type MemoryStore struct {
	mu     sync.Mutex
	nextID uint
	visits map[uint]*models.Visit
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, visits: make(map[uint]*models.Visit)}
}

func (s *MemoryStore) Load(visitID uint) (*models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[visitID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, visitID)
	}
	cp := *v
	cp.Timeline = append([]models.TimelineEntry(nil), v.Timeline...)
	cp.SentLog = append([]models.NotificationRecord(nil), v.SentLog...)
	return &cp, nil
}

func (s *MemoryStore) Save(v *models.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.nextID
		s.nextID++
		for i := range v.Timeline {
			v.Timeline[i].VisitID = v.ID
		}
	}
	cp := *v
	cp.Timeline = append([]models.TimelineEntry(nil), v.Timeline...)
	cp.SentLog = append([]models.NotificationRecord(nil), v.SentLog...)
	s.visits[v.ID] = &cp
	return nil
}

func (s *MemoryStore) QueryActive(role string, userID uint) ([]models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Visit
	for _, v := range s.visits {
		if !v.IsActive {
			continue
		}
		switch role {
		case "teacher":
			if v.TeacherID != userID {
				continue
			}
		case "student":
			if v.StudentID != userID {
				continue
			}
		case "admin":
		default:
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
		}
		out = append(out, *v)
	}
	return out, nil
}

func (s *MemoryStore) QueryNearby(userID uint, center geomath.Point, radiusKm float64) ([]models.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Visit
	for _, v := range s.visits {
		if !v.IsActive || (v.TeacherID != userID && v.StudentID != userID) {
			continue
		}
		if !v.Destination.HasCoordinates() {
			continue
		}
		d := geomath.Distance(center, geomath.Point{Latitude: v.Destination.Latitude, Longitude: v.Destination.Longitude})
		if d <= radiusKm*1000 {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendNotification(rec *models.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.visits[rec.VisitID]; ok {
		v.SentLog = append(v.SentLog, *rec)
	}
	return nil
}

func (s *MemoryStore) SetStudentNotified(visitID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[visitID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrNotFound, visitID)
	}
	v.StudentNotified = true
	return nil
}
