package models

// Principal is the authenticated identity bound to a request or a live
// connection. Not persisted.
type Principal struct {
	ID         uint   `json:"id"`
	Name       string `json:"name"`
	Role       string `json:"role"`
	Department string `json:"department"`
}

// IsTeacher reports whether the principal may act as a visit supervisor.
func (p Principal) IsTeacher() bool { return p.Role == "teacher" }

// IsAdmin reports whether the principal may override visit state.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }
