package hub

import (
	"encoding/json"

	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/geo"
	"visit_tracker/internal/models"
)

// VisitService is the slice of the state machine the hub drives from
// inbound messages. The service broadcasts resulting state itself.
type VisitService interface {
	ReportLocation(p models.Principal, visitID uint, lat, lon, accuracy float64, address string) (*models.Visit, error)
	SetStatus(p models.Principal, visitID uint, status models.VisitStatus, notes string, location *geo.Point) (*models.Visit, error)
}

// inbound is the client→hub wire frame.
type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type visitRef struct {
	VisitID uint `json:"visitId"`
}

type locationUpdateMsg struct {
	VisitID   uint    `json:"visitId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Address   string  `json:"address"`
}

type statusUpdateMsg struct {
	VisitID uint   `json:"visitId"`
	Status  string `json:"status"`
	Notes   string `json:"notes"`
}

type emergencyMsg struct {
	VisitID uint   `json:"visitId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type chatMsg struct {
	VisitID uint   `json:"visitId"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type fileShareMsg struct {
	VisitID      uint   `json:"visitId"`
	AttachmentID uint   `json:"attachmentId"`
	FileName     string `json:"fileName"`
	FileType     string `json:"fileType"`
}

// HandleInbound dispatches one client frame. A rejected operation sends an
// error event back to the offending connection only; the connection stays
// open. Nothing here terminates a connection.
func (h *Hub) HandleInbound(c *Connection, raw []byte) {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.Emit("error", map[string]interface{}{"message": "malformed message"})
		return
	}

	switch msg.Type {
	case "join_visit":
		var ref visitRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "join_visit requires visitId"})
			return
		}
		h.Join(c, VisitRoom(ref.VisitID))
		logrus.WithFields(logrus.Fields{
			"user_id":  c.Principal.ID,
			"visit_id": ref.VisitID,
		}).Debug("Client joined visit room.")

	case "leave_visit":
		var ref visitRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "leave_visit requires visitId"})
			return
		}
		h.Leave(c, VisitRoom(ref.VisitID))

	case "location_update":
		var loc locationUpdateMsg
		if err := json.Unmarshal(msg.Data, &loc); err != nil || loc.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "invalid location update"})
			return
		}
		if h.svc == nil {
			c.Emit("error", map[string]interface{}{"message": "service unavailable"})
			return
		}
		if _, err := h.svc.ReportLocation(c.Principal, loc.VisitID, loc.Latitude, loc.Longitude, loc.Accuracy, loc.Address); err != nil {
			c.Emit("error", map[string]interface{}{"message": err.Error()})
			return
		}
		// The sharer earns a seat in the location sub-room only once the
		// report is accepted; no one else subscribes to it today.
		h.Join(c, VisitLocationRoom(loc.VisitID))

	case "visit_status_update":
		var upd statusUpdateMsg
		if err := json.Unmarshal(msg.Data, &upd); err != nil || upd.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "invalid status update"})
			return
		}
		if h.svc == nil {
			c.Emit("error", map[string]interface{}{"message": "service unavailable"})
			return
		}
		if _, err := h.svc.SetStatus(c.Principal, upd.VisitID, models.VisitStatus(upd.Status), upd.Notes, nil); err != nil {
			c.Emit("error", map[string]interface{}{"message": err.Error()})
		}

	case "emergency_alert":
		var alert emergencyMsg
		if err := json.Unmarshal(msg.Data, &alert); err != nil || alert.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "invalid emergency alert"})
			return
		}
		payload := map[string]interface{}{
			"visitId":   alert.VisitID,
			"message":   alert.Message,
			"type":      alert.Type,
			"userId":    c.Principal.ID,
			"userName":  c.Principal.Name,
			"userRole":  c.Principal.Role,
			"timestamp": h.now().UTC(),
		}
		h.Broadcast(VisitRoom(alert.VisitID), "emergency_alert", payload, nil)
		if c.Principal.Department != "" {
			h.Broadcast(DepartmentRoom(c.Principal.Department), "emergency_alert", payload, nil)
		}
		logrus.WithFields(logrus.Fields{
			"user_id":  c.Principal.ID,
			"visit_id": alert.VisitID,
			"type":     alert.Type,
		}).Warn("Emergency alert broadcast.")

	case "assessment_chat":
		var chat chatMsg
		if err := json.Unmarshal(msg.Data, &chat); err != nil || chat.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "invalid chat message"})
			return
		}
		h.Broadcast(VisitRoom(chat.VisitID), "assessment_chat", map[string]interface{}{
			"visitId":   chat.VisitID,
			"message":   chat.Message,
			"type":      chat.Type,
			"userId":    c.Principal.ID,
			"userName":  c.Principal.Name,
			"timestamp": h.now().UTC(),
		}, c)

	case "share_file":
		var file fileShareMsg
		if err := json.Unmarshal(msg.Data, &file); err != nil || file.VisitID == 0 {
			c.Emit("error", map[string]interface{}{"message": "invalid file share"})
			return
		}
		h.Broadcast(VisitRoom(file.VisitID), "file_shared", map[string]interface{}{
			"visitId":      file.VisitID,
			"attachmentId": file.AttachmentID,
			"fileName":     file.FileName,
			"fileType":     file.FileType,
			"userId":       c.Principal.ID,
			"userName":     c.Principal.Name,
			"timestamp":    h.now().UTC(),
		}, c)

	case "typing_start", "typing_stop":
		var ref visitRef
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.VisitID == 0 {
			return
		}
		h.Broadcast(VisitRoom(ref.VisitID), msg.Type, map[string]interface{}{
			"visitId":  ref.VisitID,
			"userId":   c.Principal.ID,
			"userName": c.Principal.Name,
		}, c)

	default:
		c.Emit("error", map[string]interface{}{"message": "unknown message type: " + msg.Type})
	}
}
