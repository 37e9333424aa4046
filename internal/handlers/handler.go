package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/cache"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/store"
)

// Pinger is implemented by backends that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config carries the dependencies shared by all HTTP handlers.
type Config struct {
	Conversations store.ConversationStore
	Messages      store.MessageStore
	Cache         cache.PageCache
	Logger        zerolog.Logger

	// StrictInvalidate makes a failed cache invalidation after a successful
	// mutation an error for the caller. When false the failure is logged
	// and the stale entry ages out within the TTL.
	StrictInvalidate bool

	// Optional liveness probes for the health endpoint.
	StorePinger Pinger
	CachePinger Pinger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	cache         cache.PageCache
	logger        zerolog.Logger
	strict        bool
	storePing     Pinger
	cachePing     Pinger
}

// NewHandler creates a new Handler from the given dependencies.
func NewHandler(cfg Config) *Handler {
	return &Handler{
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		cache:         cfg.Cache,
		logger:        cfg.Logger,
		strict:        cfg.StrictInvalidate,
		storePing:     cfg.StorePinger,
		cachePing:     cfg.CachePinger,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// invalidatePage drops a conversation's cached message page after a
// mutation. convID must be the canonical ObjectID.Hex() form, never a
// raw request string. The returned error is non-nil only in strict mode;
// otherwise the failure is logged and the entry is left to expire.
func (h *Handler) invalidatePage(ctx context.Context, convID string) error {
	err := h.cache.Invalidate(ctx, convID)
	if err == nil {
		metrics.CacheInvalidations.WithLabelValues("ok").Inc()
		return nil
	}

	metrics.CacheInvalidations.WithLabelValues("error").Inc()
	if h.strict {
		return err
	}
	h.logger.Warn().Err(err).Str("conversation_id", convID).
		Msg("cache invalidation failed, entry will expire by TTL")
	return nil
}
