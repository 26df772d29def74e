// Package ws streams an organization's live audit and approval events
// over WebSocket, fed by the same Redis channels the ingest and approval
// handlers publish to.
package ws

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/server/middleware"
	redisstore "github.com/wardenhq/warden/internal/store/redis"
)

// Hub manages WebSocket connections backed by Redis pub/sub.
type Hub struct {
	pubsub *redisstore.PubSub
}

func NewHub(pubsub *redisstore.PubSub) *Hub {
	return &Hub{pubsub: pubsub}
}

// ServeLogs streams the org's audit feed: every record accepted by log
// ingestion is forwarded as one JSON message.
func (h *Hub) ServeLogs(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing organization", http.StatusBadRequest)
		return
	}
	h.serve(w, r, redisstore.AuditChannel(orgID))
}

// ServeApprovals streams the org's approval queue: new requests and
// decisions, so dashboards update without polling.
func (h *Hub) ServeApprovals(w http.ResponseWriter, r *http.Request) {
	orgID, ok := middleware.OrgIDFromContext(r.Context())
	if !ok {
		http.Error(w, "missing organization", http.StatusBadRequest)
		return
	}
	h.serve(w, r, redisstore.ApprovalChannel(orgID))
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	messages, cleanup, err := h.pubsub.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
