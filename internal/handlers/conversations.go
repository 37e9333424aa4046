package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/parley-chat/parley/internal/access"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/store"
)

// CreateConversationRequest represents the conversation creation request.
type CreateConversationRequest struct {
	Participants []string `json:"participants"`
}

// AddMemberRequest represents the add-participant request.
type AddMemberRequest struct {
	UserID string `json:"user_id"`
}

// CreateConversation handles POST /conversations. Creation is idempotent
// on the participant set: an existing conversation with the same set is
// returned instead of a duplicate.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	participants := make([]string, 0, len(req.Participants)+1)
	for _, p := range req.Participants {
		p = strings.TrimSpace(p)
		if p == "" {
			h.Error(w, http.StatusBadRequest, "participant ids must be non-empty")
			return
		}
		participants = append(participants, p)
	}

	// The requester is always a member of the conversations they create.
	requester := user.UserID()
	found := false
	for _, p := range participants {
		if p == requester {
			found = true
			break
		}
	}
	if !found {
		participants = append(participants, requester)
	}

	conv, err := h.conversations.CreateOrGet(r.Context(), participants)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	h.JSON(w, http.StatusCreated, conv)
}

// GetConversation handles GET /conversations/{id}.
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	convID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
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

	h.JSON(w, http.StatusOK, conv)
}

// DeleteConversation handles DELETE /conversations/{id}. Messages are not
// cascaded, but the cached page is dropped so a recreated conversation
// with the same participant set never serves a stale page.
func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	convID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
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

	if err := h.conversations.Delete(r.Context(), convID); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}

	if err := h.invalidatePage(r.Context(), convID.Hex()); err != nil {
		h.Error(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "conversation deleted"})
}

// AddMember handles POST /conversations/{id}/members.
func (h *Handler) AddMember(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	convID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req AddMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		h.Error(w, http.StatusBadRequest, "user_id is required")
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

	if err := h.conversations.AddParticipant(r.Context(), convID, req.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to add participant")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "participant added"})
}

// RemoveMember handles DELETE /conversations/{id}/members/{userId}.
// Leaving a conversation is always allowed; removing someone else
// requires membership.
func (h *Handler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	convID, err := bson.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	targetID := chi.URLParam(r, "userId")
	if targetID == "" {
		h.Error(w, http.StatusBadRequest, "user id is required")
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

	if !access.CanRemoveParticipant(user.UserID(), targetID, conv) {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	if err := h.conversations.RemoveParticipant(r.Context(), convID, targetID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusInternalServerError, "failed to remove participant")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "participant removed"})
}

// ListUserConversations handles GET /users/{userId}/conversations. Users
// may only list their own conversations.
func (h *Handler) ListUserConversations(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())

	userID := chi.URLParam(r, "userId")
	if user.UserID() != userID {
		h.Error(w, http.StatusForbidden, "access denied")
		return
	}

	conversations, err := h.conversations.FindByParticipant(r.Context(), userID)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to fetch conversations")
		return
	}

	h.JSON(w, http.StatusOK, conversations)
}
