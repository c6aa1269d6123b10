package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/syncer"
)

// Handler bridges sync engine notifications to dashboard broadcasts.
// It implements syncer.EventSink.
type Handler struct {
	server *Server
	engine *engine.Engine
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
// engine may be nil; status snapshots are then skipped.
func NewHandler(server *Server, eng *engine.Engine, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		engine: eng,
		logger: logger,
	}
}

// Publish broadcasts one sync outcome. Terminal outcomes also push a
// fresh status snapshot so the counters on screen never lag behind the
// event feed.
func (h *Handler) Publish(e syncer.Event) {
	dataJSON, err := json.Marshal(e)
	if err != nil {
		h.logger.Printf("Failed to marshal sync event: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeSyncEvent,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})

	if e.Kind != syncer.EventRetryScheduled {
		h.BroadcastStatus(context.Background())
	}
}

// OnConnectivityChange broadcasts an online/offline transition.
func (h *Handler) OnConnectivityChange(online bool) {
	dataJSON, err := json.Marshal(ConnectivityData{Online: online})
	if err != nil {
		h.logger.Printf("Failed to marshal connectivity data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeConnectivity,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}

// BroadcastStatus snapshots entity counts from the engine and pushes
// them to all clients.
func (h *Handler) BroadcastStatus(ctx context.Context) {
	if h.engine == nil {
		return
	}

	summary, err := h.engine.StatusSummary(ctx)
	if err != nil {
		h.logger.Printf("Failed to read status summary: %v", err)
		return
	}

	data := StatusData{
		Counts: make(map[string]map[string]int, len(summary)),
		Depths: make(map[string]int),
	}
	for t, counts := range summary {
		byStatus := make(map[string]int, len(counts))
		for status, n := range counts {
			byStatus[string(status)] = n
		}
		data.Counts[string(t)] = byStatus
		data.Depths[string(t)] = counts[schema.StatusPending] + counts[schema.StatusSyncing]
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal status data: %v", err)
		return
	}

	h.server.Broadcast(Message{
		Type:      MessageTypeStatus,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
