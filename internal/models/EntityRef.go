package models

// RefKind discriminates which record an EntityRef points at.
type RefKind string

const (
	RefVisit    RefKind = "visit"
	RefReport   RefKind = "report"
	RefHomework RefKind = "homework"
)

// IsValid checks if a ref kind is recognized.
func (k RefKind) IsValid() bool {
	switch k {
	case RefVisit, RefReport, RefHomework:
		return true
	}
	return false
}

// EntityRef is a tagged reference to a related record elsewhere in the
// application. The kind and id travel together; neither is meaningful alone.
type EntityRef struct {
	Kind RefKind `json:"kind" gorm:"column:ref_kind"`
	ID   uint    `json:"id" gorm:"column:ref_id"`
}
