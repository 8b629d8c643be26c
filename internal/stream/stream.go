package stream

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mycoool/tongbu/internal/syncer"
	"github.com/mycoool/tongbu/internal/types"
)

// WebSocket connection manager
type StreamManager struct {
	clients    map[*websocket.Conn]bool
	clientsMux sync.RWMutex
}

// global WebSocket manager instance
var Global = &StreamManager{
	clients: make(map[*websocket.Conn]bool),
}

// WebSocket message type
type WsMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // allow cross-origin
	},
	Subprotocols: []string{"Authorization"},
}

// add WebSocket connection
func (m *StreamManager) AddClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	m.clients[conn] = true
}

// remove WebSocket connection
func (m *StreamManager) RemoveClient(conn *websocket.Conn) {
	m.clientsMux.Lock()
	defer m.clientsMux.Unlock()
	delete(m.clients, conn)
}

// broadcast message to all connected clients
func (m *StreamManager) Broadcast(message WsMessage) {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		return
	}

	for client := range m.clients {
		err := client.WriteMessage(websocket.TextMessage, data)
		if err != nil {
			// connection disconnected, remove client
			go func(conn *websocket.Conn) {
				m.RemoveClient(conn)
				conn.Close()
			}(client)
		}
	}
}

// get client count
func (m *StreamManager) ClientCount() int {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients)
}

// Emit forwards one sync outcome to all connected clients, satisfying the
// engine's log sink alongside database persistence.
func (m *StreamManager) Emit(outcome syncer.Outcome) {
	m.Broadcast(WsMessage{
		Type:      "sync-outcome",
		Timestamp: time.Now(),
		Data:      outcome,
	})
}

// Publish forwards a task status transition to all connected clients.
func (m *StreamManager) Publish(status types.TaskRuntimeStatus) {
	m.Broadcast(WsMessage{
		Type:      "task-status",
		Timestamp: time.Now(),
		Data:      status,
	})
}

// handle WebSocket connection
func HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "WebSocket upgrade failed"})
		return
	}
	defer func() {
		Global.RemoveClient(conn)
		conn.Close()
	}()

	Global.AddClient(conn)
	log.Printf("WebSocket client connected, total clients: %d", Global.ClientCount())

	// send connected message
	connectedMsg := WsMessage{
		Type:      "connected",
		Timestamp: time.Now(),
		Data:      map[string]string{"message": "WebSocket connected successfully"},
	}
	connectedData, _ := json.Marshal(connectedMsg)
	if err := conn.WriteMessage(websocket.TextMessage, connectedData); err != nil {
		log.Printf("Error writing connected message: %v", err)
		return
	}

	// keep connection, handle heartbeat
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			break
		}

		var clientMsg map[string]interface{}
		if json.Unmarshal(message, &clientMsg) == nil {
			if msgType, ok := clientMsg["type"].(string); ok && msgType == "ping" {
				pongMsg := WsMessage{
					Type:      "pong",
					Timestamp: time.Now(),
					Data:      map[string]string{"message": "pong"},
				}
				pongData, _ := json.Marshal(pongMsg)
				if err := conn.WriteMessage(websocket.TextMessage, pongData); err != nil {
					return
				}
			}
		}
	}

	log.Printf("WebSocket client disconnected, remaining clients: %d", Global.ClientCount())
}
