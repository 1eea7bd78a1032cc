// Package visits owns the visit lifecycle: the status state machine, the
// derived distance/ETA cache and the timeline. All mutations of one visit
// are serialized behind a per-visit mutex so timeline order matches real
// event order.
package visits

import (
	"fmt"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/geo"
	"visit_tracker/internal/hub"
	"visit_tracker/internal/models"
	"visit_tracker/internal/notify"
)

// movingThresholdM mirrors the minimum displacement treated as movement.
const movingThresholdM = 5.0

// Broadcaster is the slice of the realtime hub the service pushes state
// through. Satisfied by *hub.Hub.
type Broadcaster interface {
	Broadcast(room, event string, payload interface{}, exclude *hub.Connection)
	Direct(userID uint, event string, payload interface{})
}

// Service applies manual and automatic transitions to visits.
type Service struct {
	store  Store
	ledger *notify.Ledger
	hub    Broadcaster

	locks sync.Map // visit id -> *sync.Mutex
	now   func() time.Time
}

// NewService wires the state machine to its collaborators.
func NewService(store Store, ledger *notify.Ledger, b Broadcaster) *Service {
	return &Service{store: store, ledger: ledger, hub: b, now: time.Now}
}

func (s *Service) lockFor(visitID uint) *sync.Mutex {
	m, _ := s.locks.LoadOrStore(visitID, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// CreateInput is the payload for scheduling a visit.
type CreateInput struct {
	StudentID         uint               `json:"student_id"`
	ScheduledDate     time.Time          `json:"scheduled_date"`
	EstimatedDuration int                `json:"estimated_duration"`
	Destination       models.Destination `json:"destination"`
	TravelMode        models.TravelMode  `json:"travel_mode"`
	AssessmentType    string             `json:"assessment_type"`
	Department        string             `json:"department"`
	Subject           string             `json:"subject"`
	Term              string             `json:"term"`
}

// Create schedules a visit for the calling teacher. The timeline opens with
// a scheduled entry so its tail always matches the visit status.
func (s *Service) Create(p models.Principal, in CreateInput) (*models.Visit, error) {
	if !p.IsTeacher() && !p.IsAdmin() {
		return nil, fmt.Errorf("%w: only teachers schedule visits", ErrPermissionDenied)
	}
	if in.StudentID == 0 {
		return nil, fmt.Errorf("%w: student_id is required", ErrValidation)
	}
	if in.ScheduledDate.IsZero() {
		return nil, fmt.Errorf("%w: scheduled_date is required", ErrValidation)
	}
	mode := in.TravelMode
	if mode == "" {
		mode = models.ModeDriving
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: unknown travel mode %q", ErrValidation, in.TravelMode)
	}

	now := s.now()
	v := &models.Visit{
		TeacherID:         p.ID,
		StudentID:         in.StudentID,
		ScheduledDate:     in.ScheduledDate,
		EstimatedDuration: in.EstimatedDuration,
		Destination:       in.Destination,
		Status:            models.StatusScheduled,
		TravelMode:        mode,
		AssessmentType:    in.AssessmentType,
		Department:        in.Department,
		Subject:           in.Subject,
		Term:              in.Term,
		IsActive:          true,
		Timeline: []models.TimelineEntry{{
			Status:          models.StatusScheduled,
			Timestamp:       now,
			AutomaticUpdate: true,
		}},
	}
	if err := s.store.Save(v); err != nil {
		return nil, err
	}

	s.ledger.Dispatch(v.ID, "visit_scheduled", fmt.Sprintf("Visit scheduled for %s", in.ScheduledDate.Format(time.RFC3339)))
	if err := s.ledger.MarkStudentNotified(v.ID); err != nil {
		logrus.WithError(err).WithField("visit_id", v.ID).Warn("Could not mark student notified.")
	} else {
		v.StudentNotified = true
	}
	return v, nil
}

// ReportLocation ingests one live position from the visit's teacher. The
// lastUpdated stamp always moves; distance and ETA are recomputed whenever
// destination coordinates are known; a geofence transition fires only from
// en_route and only forward.
func (s *Service) ReportLocation(p models.Principal, visitID uint, lat, lon, accuracy float64, address string) (*models.Visit, error) {
	mu := s.lockFor(visitID)
	mu.Lock()
	defer mu.Unlock()

	v, err := s.store.Load(visitID)
	if err != nil {
		return nil, err
	}
	if !p.IsTeacher() || p.ID != v.TeacherID {
		return nil, fmt.Errorf("%w: only the visit's teacher reports location", ErrPermissionDenied)
	}

	now := s.now()
	here := geo.Point{Latitude: lat, Longitude: lon}

	var bearing *float64
	isMoving := false
	if v.TeacherLocation.HasCoordinates() {
		prev := geo.Point{Latitude: v.TeacherLocation.Latitude, Longitude: v.TeacherLocation.Longitude}
		moved := geo.Distance(prev, here)
		isMoving = moved >= movingThresholdM
		if isMoving {
			b := geo.Bearing(prev, here)
			bearing = &b
		}
	}

	v.TeacherLocation = models.TeacherLocation{
		Latitude:    lat,
		Longitude:   lon,
		Accuracy:    accuracy,
		Address:     address,
		LastUpdated: &now,
	}

	if v.Destination.HasCoordinates() {
		dest := geo.Point{Latitude: v.Destination.Latitude, Longitude: v.Destination.Longitude}
		d := geo.Distance(here, dest)
		v.DistanceToDestination = &d
		v.EstimatedArrivalTime = geo.EstimateETA(d, v.TravelMode, now)
	}

	// Automatic escalation: en_route only, forward only.
	transitioned := false
	if v.Status == models.StatusEnRoute && v.DistanceToDestination != nil {
		var target models.VisitStatus
		switch d := *v.DistanceToDestination; {
		case d <= geo.ArrivedThresholdM:
			target = models.StatusArrived
		case d <= geo.NearbyThresholdM:
			target = models.StatusNearby
		}
		if target != "" {
			s.applyTransition(v, target, "", &here, true, now)
			transitioned = true
		}
	}

	if err := s.store.Save(v); err != nil {
		return nil, err
	}

	s.broadcastLocation(v, bearing, isMoving, now)
	if transitioned {
		s.announceTransition(v, "", p.Name, true, now)
	}
	return v, nil
}

// SetStatus applies a manual transition. Any known status is accepted from
// any current status, including regressions; see TestManualRegressionAllowed
// before tightening this.
func (s *Service) SetStatus(p models.Principal, visitID uint, status models.VisitStatus, notes string, location *geo.Point) (*models.Visit, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	mu := s.lockFor(visitID)
	mu.Lock()
	defer mu.Unlock()

	v, err := s.store.Load(visitID)
	if err != nil {
		return nil, err
	}
	if !s.canMutate(p, v) {
		return nil, fmt.Errorf("%w: only the visit's teacher or an admin updates status", ErrPermissionDenied)
	}

	now := s.now()
	s.applyTransition(v, status, notes, location, notes == "", now)
	if err := s.store.Save(v); err != nil {
		return nil, err
	}

	s.announceTransition(v, notes, p.Name, false, now)
	return v, nil
}

// Complete records assessment results and transitions to completed in one
// serialized step.
func (s *Service) Complete(p models.Principal, visitID uint, results models.VisitResults) (*models.Visit, error) {
	mu := s.lockFor(visitID)
	mu.Lock()
	defer mu.Unlock()

	v, err := s.store.Load(visitID)
	if err != nil {
		return nil, err
	}
	if !s.canMutate(p, v) {
		return nil, fmt.Errorf("%w: only the visit's teacher or an admin completes a visit", ErrPermissionDenied)
	}

	now := s.now()
	v.Results.Score = results.Score
	v.Results.Grade = results.Grade
	v.Results.Feedback = results.Feedback
	s.applyTransition(v, models.StatusCompleted, results.Feedback, nil, results.Feedback == "", now)
	if err := s.store.Save(v); err != nil {
		return nil, err
	}

	s.announceTransition(v, results.Feedback, p.Name, false, now)
	s.hub.Broadcast(hub.VisitRoom(v.ID), "assessment_completed", map[string]interface{}{
		"visitId": v.ID,
		"results": v.Results,
	}, nil)
	s.hub.Direct(v.StudentID, "assessment_completed", map[string]interface{}{
		"visitId": v.ID,
		"results": v.Results,
	})
	return v, nil
}

// Cancel transitions to cancelled with the reason on the timeline.
func (s *Service) Cancel(p models.Principal, visitID uint, reason string) (*models.Visit, error) {
	return s.SetStatus(p, visitID, models.StatusCancelled, reason, nil)
}

// Get loads one visit.
func (s *Service) Get(visitID uint) (*models.Visit, error) {
	return s.store.Load(visitID)
}

// ListActive returns the caller's active visits.
func (s *Service) ListActive(role string, userID uint) ([]models.Visit, error) {
	return s.store.QueryActive(role, userID)
}

// Nearby returns the caller's active visits within radiusKm of a point.
func (s *Service) Nearby(userID uint, center geo.Point, radiusKm float64) ([]models.Visit, error) {
	return s.store.QueryNearby(userID, center, radiusKm)
}

// ListOverdue returns every active visit whose teacher is en route or nearby
// past the cached arrival estimate. Admin oversight only.
func (s *Service) ListOverdue(p models.Principal) ([]models.Visit, error) {
	if !p.IsAdmin() {
		return nil, fmt.Errorf("%w: only admins list overdue visits", ErrPermissionDenied)
	}
	active, err := s.store.QueryActive("admin", 0)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []models.Visit
	for _, v := range active {
		if v.IsOverdue(now) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Service) canMutate(p models.Principal, v *models.Visit) bool {
	if p.IsAdmin() {
		return true
	}
	return p.IsTeacher() && p.ID == v.TeacherID
}

// applyTransition is the single place status changes: it appends exactly
// one timeline entry and keeps the tail status equal to the visit status.
// Callers hold the visit lock.
func (s *Service) applyTransition(v *models.Visit, status models.VisitStatus, notes string, location *geo.Point, automatic bool, now time.Time) {
	entry := models.TimelineEntry{
		VisitID:         v.ID,
		Status:          status,
		Timestamp:       now,
		Notes:           notes,
		AutomaticUpdate: automatic,
	}
	if location != nil {
		lat, lon := location.Latitude, location.Longitude
		entry.Latitude = &lat
		entry.Longitude = &lon
	}
	v.Timeline = append(v.Timeline, entry)
	v.Status = status
	v.IsActive = !status.IsTerminal()
	if status == models.StatusCompleted {
		completedAt := now
		v.Results.CompletedAt = &completedAt
	}

	logrus.WithFields(logrus.Fields{
		"visit_id":  v.ID,
		"status":    status,
		"automatic": automatic,
	}).Info("Visit transitioned.")
}

// announceTransition records the notification attempt and pushes the status
// to the visit room and the student's connections. Ledger failures are
// logged inside Dispatch and never bubble up.
func (s *Service) announceTransition(v *models.Visit, notes, updatedBy string, automatic bool, now time.Time) {
	notifType := "status_change"
	message := fmt.Sprintf("Visit status changed to %s", v.Status.Label())
	if v.Status == models.StatusArrived {
		notifType = "arrival"
		message = "Teacher has arrived"
	}
	var distanceText string
	if v.DistanceToDestination != nil {
		distanceText = geo.FormatDistance(*v.DistanceToDestination)
		if v.Status == models.StatusNearby {
			message = fmt.Sprintf("Teacher is nearby (%s away)", distanceText)
		}
	}
	s.ledger.Dispatch(v.ID, notifType, message)

	payload := map[string]interface{}{
		"visitId":   v.ID,
		"status":    string(v.Status),
		"notes":     notes,
		"timestamp": now.UTC(),
		"updatedBy": updatedBy,
		"automatic": automatic,
	}
	if distanceText != "" {
		payload["distance"] = distanceText
	}
	s.hub.Broadcast(hub.VisitRoom(v.ID), "visit_status_update", payload, nil)
	s.hub.Direct(v.StudentID, "visit_status_update", payload)
}

func (s *Service) broadcastLocation(v *models.Visit, bearing *float64, isMoving bool, now time.Time) {
	location := map[string]interface{}{
		"latitude":    v.TeacherLocation.Latitude,
		"longitude":   v.TeacherLocation.Longitude,
		"accuracy":    v.TeacherLocation.Accuracy,
		"address":     v.TeacherLocation.Address,
		"lastUpdated": now.UTC(),
	}
	payload := map[string]interface{}{
		"visitId":   v.ID,
		"teacherId": v.TeacherID,
		"location":  location,
		"isMoving":  isMoving,
	}
	if bearing != nil {
		payload["bearing"] = *bearing
	}
	if v.DistanceToDestination != nil {
		payload["distance"] = *v.DistanceToDestination
		payload["distanceText"] = geo.FormatDistance(*v.DistanceToDestination)
	}
	if v.EstimatedArrivalTime != nil {
		payload["estimatedArrivalTime"] = v.EstimatedArrivalTime.UTC()
	}
	s.hub.Broadcast(hub.VisitRoom(v.ID), "teacher_location_update", payload, nil)
	s.hub.Broadcast(hub.VisitLocationRoom(v.ID), "teacher_location_update", payload, nil)
}
