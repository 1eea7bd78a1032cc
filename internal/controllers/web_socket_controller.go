package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	logrus "github.com/sirupsen/logrus"

	"visit_tracker/internal/hub"
)

// upgrader configures the WebSocket connection.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all for development (restrict in production!)
	},
}

// SocketController owns the websocket endpoint and feeds frames into the hub.
type SocketController struct {
	Hub *hub.Hub
}

func NewSocketController(h *hub.Hub) *SocketController {
	return &SocketController{Hub: h}
}

// HandleVisitWebSocket upgrades the connection, authenticates it against
// the hub and then pumps inbound frames until the client goes away.
// Authentication failure is the one case that terminates the connection;
// every later rejection only earns the client an error event.
func (sc *SocketController) HandleVisitWebSocket(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		logrus.Warn("WebSocket connection attempt: missing token query parameter.")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authentication token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Error("Failed to upgrade WebSocket connection.")
		return
	}

	client, err := sc.Hub.Register(conn, token)
	if err != nil {
		// Register already closed the socket; nothing joined anything.
		return
	}
	// Deferred so membership is cleaned up even if a handler panics.
	defer sc.Hub.Disconnect(client)

	logrus.WithFields(logrus.Fields{
		"conn_id": client.ID,
		"user_id": client.Principal.ID,
		"role":    client.Principal.Role,
	}).Info("Visit WebSocket connection established.")

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithField("user_id", client.Principal.ID).Info("WebSocket closed by client.")
			} else {
				logrus.WithError(err).WithField("user_id", client.Principal.ID).Error("Error reading WebSocket message.")
			}
			break
		}
		if messageType == websocket.TextMessage {
			sc.Hub.HandleInbound(client, payload)
		}
	}
}
