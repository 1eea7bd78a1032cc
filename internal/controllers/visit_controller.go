package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/geo"
	"visit_tracker/internal/middleware"
	"visit_tracker/internal/models"
	"visit_tracker/internal/visits"
)

// VisitController is the thin HTTP facade over the visit state machine.
type VisitController struct {
	Svc *visits.Service
}

func NewVisitController(svc *visits.Service) *VisitController {
	return &VisitController{Svc: svc}
}

// respondError maps the service error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, visits.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, visits.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, visits.ErrInvalidStatus), errors.Is(err, visits.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logrus.WithError(err).Error("Visit operation failed.")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func visitID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid visit id"})
		return 0, false
	}
	return uint(id), true
}

// CreateVisit schedules a new visit for the authenticated teacher.
func (vc *VisitController) CreateVisit(c *gin.Context) {
	var input visits.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := middleware.MustPrincipal(c)

	v, err := vc.Svc.Create(p, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"visit": v})
}

// GetVisit returns one visit with its timeline and notification log. The
// overdue flag is derived at read time so observers see staleness without
// the hub expiring anything.
func (vc *VisitController) GetVisit(c *gin.Context) {
	id, ok := visitID(c)
	if !ok {
		return
	}
	v, err := vc.Svc.Get(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visit": v, "is_overdue": v.IsOverdue(time.Now())})
}

// ListActive returns the caller's active visits.
func (vc *VisitController) ListActive(c *gin.Context) {
	p := middleware.MustPrincipal(c)
	out, err := vc.Svc.ListActive(p.Role, p.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": out})
}

// Nearby returns the caller's active visits within radius_km of a point.
func (vc *VisitController) Nearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("latitude"), 64)
	lon, lonErr := strconv.ParseFloat(c.Query("longitude"), 64)
	if latErr != nil || lonErr != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude and longitude are required"})
		return
	}
	radiusKm := 5.0
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid radius_km"})
			return
		}
		radiusKm = r
	}
	p := middleware.MustPrincipal(c)
	out, err := vc.Svc.Nearby(p.ID, geo.Point{Latitude: lat, Longitude: lon}, radiusKm)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": out})
}

// ListOverdue returns active visits whose teacher blew past the arrival
// estimate. Admin-scoped at the route layer and in the service.
func (vc *VisitController) ListOverdue(c *gin.Context) {
	p := middleware.MustPrincipal(c)
	out, err := vc.Svc.ListOverdue(p)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visits": out})
}

type locationPayload struct {
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
	Accuracy  float64 `json:"accuracy"`
	Address   string  `json:"address"`
}

// ReportLocation ingests a live teacher position over HTTP; the websocket
// path lands in the same service call.
func (vc *VisitController) ReportLocation(c *gin.Context) {
	id, ok := visitID(c)
	if !ok {
		return
	}
	var body locationPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := middleware.MustPrincipal(c)

	v, err := vc.Svc.ReportLocation(p, id, body.Latitude, body.Longitude, body.Accuracy, body.Address)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visit": v})
}

type statusPayload struct {
	Status    string   `json:"status" binding:"required"`
	Notes     string   `json:"notes"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// SetStatus applies a manual transition.
func (vc *VisitController) SetStatus(c *gin.Context) {
	id, ok := visitID(c)
	if !ok {
		return
	}
	var body statusPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var loc *geo.Point
	if body.Latitude != nil && body.Longitude != nil {
		loc = &geo.Point{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}
	p := middleware.MustPrincipal(c)

	v, err := vc.Svc.SetStatus(p, id, models.VisitStatus(body.Status), body.Notes, loc)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visit": v})
}

type completePayload struct {
	Score    *float64 `json:"score"`
	Grade    string   `json:"grade"`
	Feedback string   `json:"feedback"`
}

// Complete records results and closes out the visit.
func (vc *VisitController) Complete(c *gin.Context) {
	id, ok := visitID(c)
	if !ok {
		return
	}
	var body completePayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := middleware.MustPrincipal(c)

	v, err := vc.Svc.Complete(p, id, models.VisitResults{Score: body.Score, Grade: body.Grade, Feedback: body.Feedback})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visit": v})
}

type cancelPayload struct {
	Reason string `json:"reason"`
}

// Cancel calls off a visit with the reason on the timeline.
func (vc *VisitController) Cancel(c *gin.Context) {
	id, ok := visitID(c)
	if !ok {
		return
	}
	var body cancelPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p := middleware.MustPrincipal(c)

	v, err := vc.Svc.Cancel(p, id, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visit": v})
}
