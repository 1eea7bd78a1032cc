package visits

import (
	"errors"
	"sync"
	"testing"
	"time"

	"visit_tracker/internal/geo"
	"visit_tracker/internal/hub"
	"visit_tracker/internal/models"
	"visit_tracker/internal/notify"
)

var (
	teacher = models.Principal{ID: 1, Name: "Amina", Role: "teacher", Department: "Science"}
	student = models.Principal{ID: 2, Name: "Brian", Role: "student"}
	admin   = models.Principal{ID: 3, Name: "Grace", Role: "admin"}
)

type call struct {
	room    string
	userID  uint
	event   string
	payload map[string]interface{}
}

type fakeBroadcaster struct {
	mu         sync.Mutex
	broadcasts []call
	directs    []call
}

func (f *fakeBroadcaster) Broadcast(room, event string, payload interface{}, exclude *hub.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.(map[string]interface{})
	f.broadcasts = append(f.broadcasts, call{room: room, event: event, payload: p})
}

func (f *fakeBroadcaster) Direct(userID uint, event string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, _ := payload.(map[string]interface{})
	f.directs = append(f.directs, call{userID: userID, event: event, payload: p})
}

func (f *fakeBroadcaster) find(event, room string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.broadcasts {
		if c.event == event && (room == "" || c.room == room) {
			out = append(out, c)
		}
	}
	return out
}

func testService(t *testing.T) (*Service, *MemoryStore, *fakeBroadcaster) {
	t.Helper()
	store := NewMemoryStore()
	fb := &fakeBroadcaster{}
	svc := NewService(store, notify.NewLedger(store), fb)
	return svc, store, fb
}

// lonAt places a point meters east of the destination along the equator,
// where one degree of longitude is ~111195 m.
const destLon = 36.8

func lonAt(meters float64) float64 {
	return destLon + meters/111195.0
}

func makeVisit(t *testing.T, svc *Service) *models.Visit {
	t.Helper()
	v, err := svc.Create(teacher, CreateInput{
		StudentID:         student.ID,
		ScheduledDate:     time.Now().Add(24 * time.Hour),
		EstimatedDuration: 60,
		Destination: models.Destination{
			Name:      "Karibu Estate",
			Address:   "14 Riverside Walk",
			Latitude:  0,
			Longitude: destLon,
		},
		TravelMode:     models.ModeDriving,
		AssessmentType: "home_visit",
		Department:     "Science",
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}
	return v
}

func checkTimeline(t *testing.T, v *models.Visit) {
	t.Helper()
	if len(v.Timeline) == 0 {
		t.Fatal("visit has no timeline")
	}
	for i := 1; i < len(v.Timeline); i++ {
		if v.Timeline[i].Timestamp.Before(v.Timeline[i-1].Timestamp) {
			t.Errorf("timeline timestamps decrease at %d", i)
		}
	}
	if tail := v.Timeline[len(v.Timeline)-1]; tail.Status != v.Status {
		t.Errorf("timeline tail = %s, visit status = %s", tail.Status, v.Status)
	}
}

func TestCreateOpensTimeline(t *testing.T) {
	svc, store, _ := testService(t)
	v := makeVisit(t, svc)

	if v.Status != models.StatusScheduled {
		t.Errorf("status = %s, want scheduled", v.Status)
	}
	if len(v.Timeline) != 1 || v.Timeline[0].Status != models.StatusScheduled {
		t.Fatalf("timeline = %+v, want one scheduled entry", v.Timeline)
	}
	if !v.StudentNotified {
		t.Error("student not marked notified")
	}
	stored, err := store.Load(v.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(stored.SentLog) == 0 {
		t.Error("no notification attempt recorded for scheduling")
	}
}

func TestCreateRequiresTeacher(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.Create(student, CreateInput{StudentID: 2, ScheduledDate: time.Now()})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("err = %v, want ErrPermissionDenied", err)
	}
}

func TestDerivedFieldsNilUntilBothKnown(t *testing.T) {
	svc, _, _ := testService(t)
	v, err := svc.Create(teacher, CreateInput{
		StudentID:     student.ID,
		ScheduledDate: time.Now().Add(time.Hour),
		// No destination coordinates.
		Destination: models.Destination{Name: "TBD"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.DistanceToDestination != nil || v.EstimatedArrivalTime != nil {
		t.Error("derived fields set before any location")
	}

	v, err = svc.ReportLocation(teacher, v.ID, 0, lonAt(3000), 10, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if v.DistanceToDestination != nil || v.EstimatedArrivalTime != nil {
		t.Error("derived fields set without destination coordinates")
	}
}

func TestReportLocationComputesDistanceAndETA(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(15000), 8, "Thika Road")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if v.DistanceToDestination == nil {
		t.Fatal("distance not cached")
	}
	if d := *v.DistanceToDestination; d < 14800 || d > 15200 {
		t.Errorf("distance = %f, want ~15000", d)
	}
	if v.EstimatedArrivalTime == nil {
		t.Fatal("eta not cached")
	}
	// 15 km driving at 30 km/h is half an hour out.
	eta := time.Until(*v.EstimatedArrivalTime)
	if eta < 29*time.Minute || eta > 31*time.Minute {
		t.Errorf("eta offset = %v, want ~30m", eta)
	}
	if v.TeacherLocation.LastUpdated == nil {
		t.Error("lastUpdated not stamped")
	}
}

func TestAutoTransitionArrived(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(80), 5, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if v.Status != models.StatusArrived {
		t.Errorf("status = %s, want arrived", v.Status)
	}
	checkTimeline(t, v)
	if tail := v.CurrentTimelineEntry(); !tail.AutomaticUpdate {
		t.Error("geofence transition should be automatic")
	}
}

func TestAutoTransitionNearby(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	entriesBefore := len(v.Timeline) + 1 // en_route appended one
	v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(300), 5, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if v.Status != models.StatusNearby {
		t.Errorf("status = %s, want nearby", v.Status)
	}
	if len(v.Timeline) != entriesBefore+1 {
		t.Errorf("timeline grew by %d entries, want exactly 1", len(v.Timeline)-entriesBefore)
	}
	checkTimeline(t, v)
}

func TestNoAutoTransitionBeyondNearby(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(600), 5, "")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if v.Status != models.StatusEnRoute {
		t.Errorf("status = %s, want en_route at 600m", v.Status)
	}
}

func TestNoAutoTransitionOutsideEnRoute(t *testing.T) {
	svc, _, _ := testService(t)

	for _, start := range []models.VisitStatus{
		models.StatusScheduled,
		models.StatusNearby,
		models.StatusInProgress,
		models.StatusCompleted,
	} {
		v := makeVisit(t, svc)
		if start != models.StatusScheduled {
			if _, err := svc.SetStatus(teacher, v.ID, start, "setup", nil); err != nil {
				t.Fatalf("set %s: %v", start, err)
			}
		}
		entries := len(v.Timeline)
		if start != models.StatusScheduled {
			entries++
		}

		v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(50), 5, "")
		if err != nil {
			t.Fatalf("report from %s: %v", start, err)
		}
		if v.Status != start {
			t.Errorf("status moved %s -> %s on a 50m report", start, v.Status)
		}
		if len(v.Timeline) != entries {
			t.Errorf("timeline entry appended without a transition from %s", start)
		}
	}
}

func TestRepeatedIdenticalReportsOnlyTouchLastUpdated(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	v, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(300), 5, "")
	if err != nil {
		t.Fatalf("first report: %v", err)
	}
	first := *v.TeacherLocation.LastUpdated
	entries := len(v.Timeline)

	time.Sleep(2 * time.Millisecond)
	v, err = svc.ReportLocation(teacher, v.ID, 0, lonAt(300), 5, "")
	if err != nil {
		t.Fatalf("second report: %v", err)
	}
	if !v.TeacherLocation.LastUpdated.After(first) {
		t.Error("lastUpdated did not advance")
	}
	if len(v.Timeline) != entries {
		t.Errorf("timeline grew to %d on identical report, want %d", len(v.Timeline), entries)
	}
	if v.Status != models.StatusNearby {
		t.Errorf("status = %s, want nearby", v.Status)
	}
}

func TestNearbyScenarioBroadcasts(t *testing.T) {
	svc, _, fb := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	if _, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(300), 5, ""); err != nil {
		t.Fatalf("report: %v", err)
	}

	updates := fb.find("visit_status_update", hub.VisitRoom(v.ID))
	var nearby *call
	for i := range updates {
		if updates[i].payload["status"] == string(models.StatusNearby) {
			nearby = &updates[i]
		}
	}
	if nearby == nil {
		t.Fatal("no nearby status broadcast to the visit room")
	}
	if d, _ := nearby.payload["distance"].(string); d != "300m" {
		t.Errorf("distance = %q, want \"300m\"", d)
	}

	directNearby := false
	fb.mu.Lock()
	for _, c := range fb.directs {
		if c.userID == student.ID && c.event == "visit_status_update" && c.payload["status"] == string(models.StatusNearby) {
			directNearby = true
		}
	}
	fb.mu.Unlock()
	if !directNearby {
		t.Error("nearby update not delivered to the student's connections")
	}
}

func TestLocationBroadcastGoesToVisitAndSubRoom(t *testing.T) {
	svc, _, fb := testService(t)
	v := makeVisit(t, svc)

	if _, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(3000), 5, "Ngong Road"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(fb.find("teacher_location_update", hub.VisitRoom(v.ID))) != 1 {
		t.Error("location update missing from visit room")
	}
	if len(fb.find("teacher_location_update", hub.VisitLocationRoom(v.ID))) != 1 {
		t.Error("location update missing from location sub-room")
	}
}

func TestReportLocationPermission(t *testing.T) {
	svc, store, _ := testService(t)
	v := makeVisit(t, svc)

	_, err := svc.ReportLocation(student, v.ID, 0, lonAt(50), 5, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	// Admins are not the supervisor either.
	_, err = svc.ReportLocation(admin, v.ID, 0, lonAt(50), 5, "")
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("admin err = %v, want ErrPermissionDenied", err)
	}

	stored, _ := store.Load(v.ID)
	if stored.TeacherLocation.LastUpdated != nil {
		t.Error("rejected update mutated the visit")
	}
}

func TestSetStatusPermissionAndValidation(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	if _, err := svc.SetStatus(student, v.ID, models.StatusCancelled, "", nil); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("student err = %v, want ErrPermissionDenied", err)
	}
	if _, err := svc.SetStatus(teacher, v.ID, models.VisitStatus("teleported"), "", nil); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("bad status err = %v, want ErrInvalidStatus", err)
	}
	if _, err := svc.SetStatus(admin, v.ID, models.StatusPostponed, "family emergency", nil); err != nil {
		t.Errorf("admin override err = %v", err)
	}
	if _, err := svc.SetStatus(teacher, 9999, models.StatusEnRoute, "", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing visit err = %v, want ErrNotFound", err)
	}
}

// Manual transitions are deliberately unrestricted, regressions included.
func TestManualRegressionAllowed(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	if _, err := svc.SetStatus(teacher, v.ID, models.StatusCompleted, "done early", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	v, err := svc.SetStatus(teacher, v.ID, models.StatusScheduled, "reopening by mistake?", nil)
	if err != nil {
		t.Fatalf("regression rejected: %v", err)
	}
	if v.Status != models.StatusScheduled {
		t.Errorf("status = %s, want scheduled", v.Status)
	}
	checkTimeline(t, v)
}

func TestManualNotesDriveAutomaticFlag(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	v, _ = svc.SetStatus(teacher, v.ID, models.StatusPreparing, "", nil)
	if !v.CurrentTimelineEntry().AutomaticUpdate {
		t.Error("empty-notes transition should carry automaticUpdate=true")
	}
	v, _ = svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "leaving school now", nil)
	if v.CurrentTimelineEntry().AutomaticUpdate {
		t.Error("noted transition should carry automaticUpdate=false")
	}
}

func TestCompleteStampsResults(t *testing.T) {
	svc, _, fb := testService(t)
	v := makeVisit(t, svc)

	score := 87.5
	v, err := svc.Complete(teacher, v.ID, models.VisitResults{Score: &score, Grade: "A-", Feedback: "strong home support"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if v.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", v.Status)
	}
	if v.Results.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
	if v.IsActive {
		t.Error("completed visit still active")
	}
	checkTimeline(t, v)

	if len(fb.find("assessment_completed", hub.VisitRoom(v.ID))) != 1 {
		t.Error("assessment_completed not broadcast to visit room")
	}
}

func TestCancelRecordsReason(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	v, err := svc.Cancel(teacher, v.ID, "student family unavailable")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if v.Status != models.StatusCancelled || v.IsActive {
		t.Errorf("status = %s active=%v, want cancelled/inactive", v.Status, v.IsActive)
	}
	tail := v.CurrentTimelineEntry()
	if tail.Notes != "student family unavailable" || tail.AutomaticUpdate {
		t.Errorf("tail = %+v, want manual entry with reason", tail)
	}
}

func TestEveryTransitionRecordsNotification(t *testing.T) {
	svc, store, _ := testService(t)
	v := makeVisit(t, svc)

	svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil)
	svc.ReportLocation(teacher, v.ID, 0, lonAt(80), 5, "") // auto arrived

	stored, _ := store.Load(v.ID)
	// scheduled + en_route + arrived, one record each.
	if len(stored.SentLog) != 3 {
		t.Errorf("sent log has %d records, want 3", len(stored.SentLog))
	}
}

func TestListActiveScoping(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	makeVisit(t, svc)

	if _, err := svc.Cancel(teacher, v.ID, "dropped"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	teacherVisits, err := svc.ListActive("teacher", teacher.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(teacherVisits) != 1 {
		t.Errorf("teacher sees %d active visits, want 1", len(teacherVisits))
	}
	none, err := svc.ListActive("teacher", 42)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unrelated teacher sees %d visits, want 0", len(none))
	}
}

func TestListOverdue(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)
	makeVisit(t, svc) // never leaves scheduled, never overdue

	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}
	// Cache an arrival estimate: 15 km driving puts it half an hour out.
	if _, err := svc.ReportLocation(teacher, v.ID, 0, lonAt(15000), 5, ""); err != nil {
		t.Fatalf("report: %v", err)
	}

	overdue, err := svc.ListOverdue(admin)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 0 {
		t.Errorf("overdue before the estimate: %d visits", len(overdue))
	}

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	overdue, err = svc.ListOverdue(admin)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != v.ID {
		t.Fatalf("overdue = %+v, want just the en_route visit", overdue)
	}

	if _, err := svc.ListOverdue(teacher); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("teacher err = %v, want ErrPermissionDenied", err)
	}
}

func TestNearbyQuery(t *testing.T) {
	svc, _, _ := testService(t)
	v := makeVisit(t, svc)

	hits, err := svc.Nearby(teacher.ID, geo.Point{Latitude: 0, Longitude: lonAt(2000)}, 5)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != v.ID {
		t.Errorf("nearby hits = %+v, want the visit", hits)
	}
	far, err := svc.Nearby(teacher.ID, geo.Point{Latitude: 3, Longitude: 30}, 5)
	if err != nil {
		t.Fatalf("nearby far: %v", err)
	}
	if len(far) != 0 {
		t.Errorf("far query returned %d visits, want 0", len(far))
	}
}

func TestConcurrentMutationsKeepInvariants(t *testing.T) {
	svc, store, _ := testService(t)
	v := makeVisit(t, svc)
	if _, err := svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil); err != nil {
		t.Fatalf("set en_route: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				svc.ReportLocation(teacher, v.ID, 0, lonAt(float64(600+n*10+j)), 5, "")
				svc.SetStatus(teacher, v.ID, models.StatusEnRoute, "", nil)
			}
		}(i)
	}
	wg.Wait()

	stored, err := store.Load(v.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	checkTimeline(t, stored)
}
