package models

// VisitStatus is the single status enum shared by Visit and TimelineEntry,
// so the two can never drift apart.
type VisitStatus string

const (
	StatusScheduled  VisitStatus = "scheduled"
	StatusPreparing  VisitStatus = "preparing"
	StatusEnRoute    VisitStatus = "en_route"
	StatusNearby     VisitStatus = "nearby"
	StatusArrived    VisitStatus = "arrived"
	StatusInProgress VisitStatus = "in_progress"
	StatusCompleted  VisitStatus = "completed"
	StatusCancelled  VisitStatus = "cancelled"
	StatusPostponed  VisitStatus = "postponed"
)

// ValidStatuses is the set of statuses a visit may hold.
var ValidStatuses = []VisitStatus{
	StatusScheduled,
	StatusPreparing,
	StatusEnRoute,
	StatusNearby,
	StatusArrived,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
	StatusPostponed,
}

// IsValid checks if a status value is recognized.
func (s VisitStatus) IsValid() bool {
	for _, v := range ValidStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether automatic geofence transitions stop applying.
// Manual transitions remain possible from a terminal status.
func (s VisitStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusPostponed
}

// Label returns a human-readable label for the status.
func (s VisitStatus) Label() string {
	switch s {
	case StatusScheduled:
		return "Scheduled"
	case StatusPreparing:
		return "Preparing"
	case StatusEnRoute:
		return "En Route"
	case StatusNearby:
		return "Nearby"
	case StatusArrived:
		return "Arrived"
	case StatusInProgress:
		return "In Progress"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusPostponed:
		return "Postponed"
	default:
		return string(s)
	}
}

// TravelMode is how the teacher travels to the visit destination.
type TravelMode string

const (
	ModeWalking TravelMode = "walking"
	ModeCycling TravelMode = "cycling"
	ModeDriving TravelMode = "driving"
	ModeTransit TravelMode = "transit"
)

// IsValid checks if a travel mode is recognized.
func (m TravelMode) IsValid() bool {
	switch m {
	case ModeWalking, ModeCycling, ModeDriving, ModeTransit:
		return true
	}
	return false
}
