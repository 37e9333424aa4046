package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/parley-chat/parley/internal/access"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/cache"
	"github.com/parley-chat/parley/internal/metrics"
	"github.com/parley-chat/parley/internal/models"
	"github.com/parley-chat/parley/internal/store"
)

const (
	maxContentLength = 10000
	defaultListLimit = 50
)

// SendMessageRequest represents the send message request. Sender and
// timestamps are never part of the payload.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// SendMessageResponse represents the send message response.
type SendMessageResponse struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// SendMessage handles POST /messages.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		h.Error(w, http.StatusBadRequest, "message content cannot be empty")
		return
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		h.Error(w, http.StatusBadRequest, "message content too long (max 10000 characters)")
		return
	}

	convID, err := bson.ObjectIDFromHex(req.ConversationID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	conv, err := h.conversations.FindByID(r.Context(), convID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !access.CanAccessConversation(user.UserID(), conv) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	// Sender and sent_at come from the verified identity and server clock,
	// whatever the client sent.
	msg := &models.Message{
		ConversationID: convID,
		SenderID:       user.UserID(),
		Content:        content,
		SentAt:         time.Now().UTC(),
		Read:           false,
	}

	msgID, err := h.messages.Append(r.Context(), msg)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	metrics.MessagesSent.Inc()

	if err := h.invalidatePage(r.Context(), convID.Hex()); err != nil {
		h.Error(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.JSON(w, http.StatusCreated, SendMessageResponse{
		MessageID: msgID.Hex(),
		SentAt:    msg.SentAt,
	})
}

// ListMessages handles GET /conversations/{id}/messages?skip=&limit=.
// Only the default first page (skip 0, limit 50) is served from and
// written to the cache; every other shape goes straight to the store.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	convID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	skip, limit, err := parsePagination(r)
	if err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.FindByID(r.Context(), convID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !access.CanAccessConversation(user.UserID(), conv) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	// Cache keys always use the canonical lowercase hex form so a page
	// cached through one casing of the id is found by invalidation through
	// another.
	cacheKey := convID.Hex()

	cacheable := skip == 0 && limit == defaultListLimit
	if cacheable {
		// Cache unavailability on the read path falls back to the store.
		page, ok, err := h.cache.GetPage(r.Context(), cacheKey)
		if err != nil {
			h.logger.Warn().Err(err).Str("conversation_id", cacheKey).Msg("cache read failed")
		} else if ok {
			metrics.CacheHits.Inc()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(page)
			return
		} else {
			metrics.CacheMisses.Inc()
		}
	}

	messages, err := h.messages.ListByConversation(r.Context(), convID, skip, limit)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	if cacheable {
		if page, err := json.Marshal(messages); err == nil {
			if err := h.cache.PutPage(r.Context(), cacheKey, page, cache.PageTTL); err != nil {
				h.logger.Warn().Err(err).Str("conversation_id", cacheKey).Msg("cache populate failed")
			}
		}
	}

	h.JSON(w, http.StatusOK, messages)
}

// GetMessage handles GET /messages/{id}.
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	msg, status, errMsg := h.loadMessage(r)
	if msg == nil {
		h.Error(w, status, errMsg)
		return
	}

	conv, err := h.conversations.FindByID(r.Context(), msg.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !access.CanAccessConversation(user.UserID(), conv) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	h.JSON(w, http.StatusOK, msg)
}

// MarkRead handles PATCH /messages/{id}/read. The read flag only moves
// from false to true.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	msg, status, errMsg := h.loadMessage(r)
	if msg == nil {
		h.Error(w, status, errMsg)
		return
	}

	conv, err := h.conversations.FindByID(r.Context(), msg.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		h.Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "internal error")
		return
	}

	if !access.CanAccessConversation(user.UserID(), conv) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.messages.SetRead(r.Context(), msg.ID, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "message not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to update message")
		return
	}

	if err := h.invalidatePage(r.Context(), msg.ConversationID.Hex()); err != nil {
		h.Error(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "message marked as read"})
}

// DeleteMessage handles DELETE /messages/{id}. Only the sender may delete.
func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	msg, status, errMsg := h.loadMessage(r)
	if msg == nil {
		h.Error(w, status, errMsg)
		return
	}

	if !access.CanModifyMessage(user.UserID(), msg) {
		h.Error(w, http.StatusForbidden, "can only delete your own messages")
		return
	}

	if err := h.messages.Delete(r.Context(), msg.ID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete message")
		return
	}

	if err := h.invalidatePage(r.Context(), msg.ConversationID.Hex()); err != nil {
		h.Error(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "message deleted"})
}

// loadMessage parses the path id and fetches the message. A nil message
// means the request was already answered with the returned status.
func (h *Handler) loadMessage(r *http.Request) (*models.Message, int, string) {
	msgID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return nil, http.StatusBadRequest, "invalid message id"
	}

	msg, err := h.messages.FindByID(r.Context(), msgID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, http.StatusNotFound, "message not found"
	}
	if err != nil {
		return nil, http.StatusInternalServerError, "internal error"
	}
	return msg, http.StatusOK, ""
}

func parsePagination(r *http.Request) (skip, limit int64, err error) {
	limit = defaultListLimit

	if s := r.URL.Query().Get("skip"); s != "" {
		skip, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, errors.New("invalid skip parameter")
		}
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err = strconv.ParseInt(l, 10, 64)
		if err != nil {
			return 0, 0, errors.New("invalid limit parameter")
		}
	}
	return skip, limit, nil
}
