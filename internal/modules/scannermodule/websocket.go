package scannermodule

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/pshap/abop-app-sub005/internal/events"
)

const wsWriteDeadline = 10 * time.Second

// scanEventTypes are the event types streamed to websocket clients
var scanEventTypes = []events.EventType{
	events.EventScanStarted,
	events.EventScanProgress,
	events.EventScanCompleted,
	events.EventScanFailed,
	events.EventScanPaused,
	events.EventScanResumed,
	events.EventScanCancelled,
	events.EventAudiobookFound,
	events.EventAudiobookRemoved,
}

// ProgressHub streams scan lifecycle events to websocket clients. Each
// connection gets its own event bus subscription so a slow client never
// stalls another.
type ProgressHub struct {
	eventBus events.EventBus
	logger   hclog.Logger
	upgrader websocket.Upgrader
}

// NewProgressHub creates a hub bound to the event bus
func NewProgressHub(eventBus events.EventBus, logger hclog.Logger) *ProgressHub {
	return &ProgressHub{
		eventBus: eventBus,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same-host deployment, reverse proxy handles origin
			},
		},
	}
}

// HandleWebSocket upgrades the connection and streams scan events until
// the client disconnects.
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to upgrade connection: " + err.Error()})
		return
	}
	defer conn.Close()

	// Writes may come from concurrent event handler goroutines
	var writeMu sync.Mutex
	send := func(event events.Event) error {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline))
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	sub, err := h.eventBus.Subscribe(c.Request.Context(), events.EventFilter{
		Types: scanEventTypes,
	}, func(event events.Event) error {
		return send(event)
	})
	if err != nil {
		h.logger.Error("failed to subscribe websocket client", "error", err)
		return
	}
	defer h.eventBus.Unsubscribe(sub.ID)

	h.logger.Debug("websocket client connected", "subscription", sub.ID)

	// Keep reading to detect disconnect; clients are not expected to
	// send anything beyond control frames.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Debug("websocket client disconnected", "subscription", sub.ID)
			return
		}
	}
}
