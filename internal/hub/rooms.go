package hub

import "fmt"

// Room names are plain strings; a room exists exactly as long as it has
// members. Unknown rooms are created lazily on join, never an error.

// PersonalRoom is the per-user room every connection auto-joins, e.g.
// "teacher_5". Direct delivery targets these.
func PersonalRoom(role string, userID uint) string {
	return fmt.Sprintf("%s_%d", role, userID)
}

// DepartmentRoom groups every connection from one department.
func DepartmentRoom(department string) string {
	return "department_" + department
}

// VisitRoom carries all live updates for one visit.
func VisitRoom(visitID uint) string {
	return fmt.Sprintf("visit_%d", visitID)
}

// VisitLocationRoom is the stricter location sub-room. Only the teacher
// sharing their position joins it today; reserved for future scoping.
func VisitLocationRoom(visitID uint) string {
	return fmt.Sprintf("visit_%d_location", visitID)
}
