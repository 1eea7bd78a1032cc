package visits

import (
	"errors"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"gorm.io/gorm"

	geomath "visit_tracker/internal/geo"
	"visit_tracker/internal/models"
)

// Store is the persistence collaborator for visits. The gorm implementation
// backs production; tests use MemoryStore.
type Store interface {
	Load(visitID uint) (*models.Visit, error)
	Save(v *models.Visit) error
	QueryActive(role string, userID uint) ([]models.Visit, error)
	QueryNearby(userID uint, center geomath.Point, radiusKm float64) ([]models.Visit, error)
}

// GormStore persists visits in Postgres. It also serves the notification
// ledger's store interface.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Load(visitID uint) (*models.Visit, error) {
	var v models.Visit
	err := s.db.
		Preload("Timeline", func(db *gorm.DB) *gorm.DB { return db.Order("timestamp asc") }).
		Preload("SentLog").
		First(&v, visitID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, visitID)
	}
	if err != nil {
		return nil, fmt.Errorf("load visit %d: %w", visitID, err)
	}
	return &v, nil
}

func (s *GormStore) Save(v *models.Visit) error {
	if err := s.db.Session(&gorm.Session{FullSaveAssociations: true}).Save(v).Error; err != nil {
		return fmt.Errorf("save visit %d: %w", v.ID, err)
	}
	return nil
}

func (s *GormStore) QueryActive(role string, userID uint) ([]models.Visit, error) {
	q := s.db.Where("is_active = ?", true)
	switch role {
	case "teacher":
		q = q.Where("teacher_id = ?", userID)
	case "student":
		q = q.Where("student_id = ?", userID)
	case "admin":
		// Admins see everything active.
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	var out []models.Visit
	if err := q.Order("scheduled_date asc").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query active visits: %w", err)
	}
	return out, nil
}

// QueryNearby finds the user's active visits whose destination lies within
// radiusKm of the center, via the PostGIS spherical index.
func (s *GormStore) QueryNearby(userID uint, center geomath.Point, radiusKm float64) ([]models.Visit, error) {
	pt, err := wkt.Marshal(geom.NewPointFlat(geom.XY, []float64{center.Longitude, center.Latitude}))
	if err != nil {
		return nil, fmt.Errorf("encode center point: %w", err)
	}
	var out []models.Visit
	err = s.db.
		Where("is_active = ?", true).
		Where("teacher_id = ? OR student_id = ?", userID, userID).
		Where(
			"ST_DWithin(ST_SetSRID(ST_MakePoint(destination_longitude, destination_latitude), 4326)::geography, ST_GeogFromText(?), ?)",
			"SRID=4326;"+pt, radiusKm*1000,
		).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query nearby visits: %w", err)
	}
	return out, nil
}

// AppendNotification implements the notification ledger's store.
func (s *GormStore) AppendNotification(rec *models.NotificationRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("append notification for visit %d: %w", rec.VisitID, err)
	}
	return nil
}

// SetStudentNotified implements the notification ledger's store.
func (s *GormStore) SetStudentNotified(visitID uint) error {
	res := s.db.Model(&models.Visit{}).Where("id = ?", visitID).Update("student_notified", true)
	if res.Error != nil {
		return fmt.Errorf("mark student notified for visit %d: %w", visitID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, visitID)
	}
	return nil
}
