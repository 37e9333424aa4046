package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/api"
	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/handlers"
	"github.com/parley-chat/parley/internal/store"
)

// fakeCache is an in-memory PageCache that can be told to fail.
type fakeCache struct {
	mu             sync.Mutex
	pages          map[string][]byte
	failInvalidate bool
	failGet        bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{pages: make(map[string][]byte)}
}

func (c *fakeCache) GetPage(ctx context.Context, convID string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failGet {
		return nil, false, errors.New("cache down")
	}
	page, ok := c.pages[convID]
	return page, ok, nil
}

func (c *fakeCache) PutPage(ctx context.Context, convID string, page []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[convID] = page
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, convID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failInvalidate {
		return errors.New("cache down")
	}
	delete(c.pages, convID)
	return nil
}

func (c *fakeCache) has(convID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pages[convID]
	return ok
}

type env struct {
	t        *testing.T
	router   http.Handler
	verifier *auth.Verifier
	store    *store.MemoryStore
	cache    *fakeCache
}

func newEnv(t *testing.T, strict bool) *env {
	t.Helper()
	st := store.NewMemoryStore()
	c := newFakeCache()
	v := auth.NewVerifier("test-secret")
	h := handlers.NewHandler(handlers.Config{
		Conversations:    st.Conversations,
		Messages:         st.Messages,
		Cache:            c,
		Logger:           zerolog.Nop(),
		StrictInvalidate: strict,
		StorePinger:      st,
	})
	return &env{
		t:        t,
		router:   api.NewRouter(zerolog.Nop(), h, v),
		verifier: v,
		store:    st,
		cache:    c,
	}
}

func (e *env) token(userID string) string {
	e.t.Helper()
	token, err := e.verifier.Sign(userID, userID+"@example.com", time.Minute)
	if err != nil {
		e.t.Fatal(err)
	}
	return token
}

func (e *env) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			e.t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type convResponse struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`
}

type msgResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"sent_at"`
	Read           bool      `json:"read"`
}

func (e *env) createConversation(userID string, participants ...string) convResponse {
	e.t.Helper()
	rec := e.do("POST", "/conversations", userID, map[string]interface{}{"participants": participants})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("create conversation: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var conv convResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		e.t.Fatal(err)
	}
	return conv
}

func (e *env) send(userID, convID, content string) string {
	e.t.Helper()
	rec := e.do("POST", "/messages", userID, map[string]string{
		"conversation_id": convID,
		"content":         content,
	})
	if rec.Code != http.StatusCreated {
		e.t.Fatalf("send message: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		e.t.Fatal(err)
	}
	return resp.MessageID
}

func (e *env) list(userID, convID string) []msgResponse {
	e.t.Helper()
	rec := e.do("GET", "/conversations/"+convID+"/messages", userID, nil)
	if rec.Code != http.StatusOK {
		e.t.Fatalf("list messages: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var msgs []msgResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		e.t.Fatal(err)
	}
	return msgs
}

func TestRequiresAuthentication(t *testing.T) {
	e := newEnv(t, true)

	rec := e.do("POST", "/conversations", "", map[string]interface{}{"participants": []string{"bob"}})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestCreateConversationIdempotent(t *testing.T) {
	e := newEnv(t, true)

	first := e.createConversation("alice", "bob")
	second := e.createConversation("alice", "bob", "alice")
	if first.ID != second.ID {
		t.Fatalf("expected same conversation id, got %s and %s", first.ID, second.ID)
	}

	// Requester is always added to the participant set.
	found := false
	for _, p := range first.Participants {
		if p == "alice" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected requester in participants, got %v", first.Participants)
	}
}

func TestCreateConversationRejectsBlankParticipant(t *testing.T) {
	e := newEnv(t, true)

	rec := e.do("POST", "/conversations", "alice", map[string]interface{}{"participants": []string{"bob", "  "}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestNonParticipantForbidden(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	if rec := e.do("GET", "/conversations/"+conv.ID, "mallory", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("get conversation: expected 403, got %d", rec.Code)
	}
	if rec := e.do("GET", "/conversations/"+conv.ID+"/messages", "mallory", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("list messages: expected 403, got %d", rec.Code)
	}
	rec := e.do("POST", "/messages", "mallory", map[string]string{
		"conversation_id": conv.ID,
		"content":         "let me in",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("send message: expected 403, got %d", rec.Code)
	}
	if rec := e.do("DELETE", "/conversations/"+conv.ID, "mallory", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("delete conversation: expected 403, got %d", rec.Code)
	}
}

func TestMalformedIDsRejected(t *testing.T) {
	e := newEnv(t, true)

	if rec := e.do("GET", "/conversations/not-a-hex-id", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed conversation id, got %d", rec.Code)
	}
	if rec := e.do("GET", "/messages/zzz", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed message id, got %d", rec.Code)
	}
	rec := e.do("POST", "/messages", "alice", map[string]string{
		"conversation_id": "nope",
		"content":         "hi",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id in body, got %d", rec.Code)
	}
}

func TestSendMessageContentValidation(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	cases := []string{"", "   \n\t  ", strings.Repeat("a", 10001)}
	for _, content := range cases {
		rec := e.do("POST", "/messages", "alice", map[string]string{
			"conversation_id": conv.ID,
			"content":         content,
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("content %q: expected 400, got %d", content[:min(len(content), 10)], rec.Code)
		}
	}

	// Nothing was stored
	if msgs := e.list("alice", conv.ID); len(msgs) != 0 {
		t.Fatalf("expected no stored messages, got %d", len(msgs))
	}

	// Exactly 10000 characters is accepted
	e.send("alice", conv.ID, strings.Repeat("b", 10000))
}

func TestMultibyteContentAtLimitAccepted(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	// 10000 characters, but well over 16KB on the wire. The length limit
	// counts runes and the body cap must leave room for worst-case UTF-8.
	content := strings.Repeat("é", 10000)
	e.send("alice", conv.ID, content)

	msgs := e.list("alice", conv.ID)
	if len(msgs) != 1 || msgs[0].Content != content {
		t.Fatalf("expected multibyte content stored intact, got %d messages", len(msgs))
	}
}

func TestSenderAlwaysFromToken(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	// A spoofed sender_id in the payload is ignored: the typed request has
	// no such field, and the stored document carries the token subject.
	rec := e.do("POST", "/messages", "bob", map[string]string{
		"conversation_id": conv.ID,
		"content":         "hi",
		"sender_id":       "alice",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	msgs := e.list("alice", conv.ID)
	if len(msgs) != 1 || msgs[0].SenderID != "bob" {
		t.Fatalf("expected sender bob, got %+v", msgs)
	}
}

func TestSendListInvalidateFlow(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	e.send("bob", conv.ID, "hi")
	time.Sleep(2 * time.Millisecond)

	// First list is a cache miss and populates the page.
	msgs := e.list("alice", conv.ID)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if !e.cache.has(conv.ID) {
		t.Fatal("expected list to populate the cache")
	}

	// A second send invalidates the cached page.
	e.send("bob", conv.ID, "there")
	if e.cache.has(conv.ID) {
		t.Fatal("expected send to invalidate the cache")
	}

	// Next list shows both messages, newest first.
	msgs = e.list("alice", conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "there" || msgs[1].Content != "hi" {
		t.Fatalf("expected newest first, got %q then %q", msgs[0].Content, msgs[1].Content)
	}
}

func TestCachedPageServedVerbatim(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	sentinel := []byte(`[{"content":"from-cache"}]`)
	e.cache.pages[conv.ID] = sentinel

	rec := e.do("GET", "/conversations/"+conv.ID+"/messages", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !bytes.Equal(bytes.TrimSpace(rec.Body.Bytes()), sentinel) {
		t.Fatalf("expected cached page bytes, got %s", rec.Body.String())
	}
}

func TestCacheReadFailureFallsBackToStore(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	e.send("bob", conv.ID, "hi")

	e.cache.failGet = true
	msgs := e.list("alice", conv.ID)
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Fatalf("expected store fallback to serve the message, got %+v", msgs)
	}
}

func TestDeepPagesBypassCache(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	e.send("bob", conv.ID, "hi")

	sentinel := []byte(`[{"content":"stale"}]`)
	e.cache.pages[conv.ID] = sentinel

	// Non-default shapes must not be served from or written to the cache.
	rec := e.do("GET", "/conversations/"+conv.ID+"/messages?skip=10", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("stale")) {
		t.Fatal("deep page must not be served from cache")
	}
	rec = e.do("GET", "/conversations/"+conv.ID+"/messages?limit=10", "alice", nil)
	if bytes.Contains(rec.Body.Bytes(), []byte("stale")) {
		t.Fatal("non-default limit must not be served from cache")
	}
	if !bytes.Equal(e.cache.pages[conv.ID], sentinel) {
		t.Fatal("non-default shapes must not overwrite the cached first page")
	}
}

func TestBadPaginationParamsRejected(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	if rec := e.do("GET", "/conversations/"+conv.ID+"/messages?skip=abc", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad skip, got %d", rec.Code)
	}
	if rec := e.do("GET", "/conversations/"+conv.ID+"/messages?limit=abc", "alice", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestMarkReadInvalidatesCache(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	msgID := e.send("bob", conv.ID, "hi")

	e.list("alice", conv.ID) // populate
	if !e.cache.has(conv.ID) {
		t.Fatal("expected populated cache")
	}

	rec := e.do("PATCH", "/messages/"+msgID+"/read", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if e.cache.has(conv.ID) {
		t.Fatal("expected mark-as-read to invalidate the cache")
	}

	rec = e.do("GET", "/messages/"+msgID, "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var msg msgResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
		t.Fatal(err)
	}
	if !msg.Read {
		t.Fatal("expected read=true after mark-as-read")
	}
}

func TestCacheKeyIgnoresHexCase(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	msgID := e.send("bob", conv.ID, "hi")

	// ObjectIDFromHex accepts uppercase hex, so a list through an
	// uppercase URL must still cache under the canonical lowercase key.
	upper := strings.ToUpper(conv.ID)
	rec := e.do("GET", "/conversations/"+upper+"/messages", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if e.cache.has(upper) {
		t.Fatal("page cached under the raw uppercase id instead of the canonical key")
	}
	if !e.cache.has(conv.ID) {
		t.Fatal("expected page cached under the canonical lowercase key")
	}

	rec = e.do("PATCH", "/messages/"+msgID+"/read", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read: expected 200, got %d", rec.Code)
	}
	if e.cache.has(conv.ID) {
		t.Fatal("expected mark-as-read to drop the page cached via the uppercase URL")
	}

	msgs := e.list("alice", conv.ID)
	if len(msgs) != 1 || !msgs[0].Read {
		t.Fatalf("expected fresh page with read=true, got %+v", msgs)
	}
}

func TestDeleteMessageSenderOnly(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	msgID := e.send("bob", conv.ID, "hi")

	if rec := e.do("DELETE", "/messages/"+msgID, "alice", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-sender delete, got %d", rec.Code)
	}

	e.list("alice", conv.ID) // populate
	if rec := e.do("DELETE", "/messages/"+msgID, "bob", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for sender delete, got %d", rec.Code)
	}
	if e.cache.has(conv.ID) {
		t.Fatal("expected delete to invalidate the cache")
	}
	if msgs := e.list("alice", conv.ID); len(msgs) != 0 {
		t.Fatalf("expected empty conversation after delete, got %d messages", len(msgs))
	}
}

func TestDeleteConversationInvalidatesCache(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")
	e.send("bob", conv.ID, "hi")
	e.list("alice", conv.ID) // populate

	if rec := e.do("DELETE", "/conversations/"+conv.ID, "alice", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if e.cache.has(conv.ID) {
		t.Fatal("expected conversation delete to drop the cached page")
	}
	if rec := e.do("GET", "/conversations/"+conv.ID, "alice", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestInvalidationFailureStrictVsLenient(t *testing.T) {
	strict := newEnv(t, true)
	conv := strict.createConversation("alice", "bob")
	strict.cache.failInvalidate = true

	rec := strict.do("POST", "/messages", "alice", map[string]string{
		"conversation_id": conv.ID,
		"content":         "hi",
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("strict mode: expected 500 on invalidation failure, got %d", rec.Code)
	}

	lenient := newEnv(t, false)
	conv = lenient.createConversation("alice", "bob")
	lenient.cache.failInvalidate = true

	rec = lenient.do("POST", "/messages", "alice", map[string]string{
		"conversation_id": conv.ID,
		"content":         "hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("lenient mode: expected 201 despite invalidation failure, got %d", rec.Code)
	}
}

func TestMembershipManagement(t *testing.T) {
	e := newEnv(t, true)
	conv := e.createConversation("alice", "bob")

	// Non-participants cannot see the conversation until added.
	if rec := e.do("GET", "/conversations/"+conv.ID, "carol", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 before add, got %d", rec.Code)
	}

	rec := e.do("POST", "/conversations/"+conv.ID+"/members", "alice", map[string]string{"user_id": "carol"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add member: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := e.do("GET", "/conversations/"+conv.ID, "carol", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after add, got %d", rec.Code)
	}

	// Missing user_id is a bad request.
	rec = e.do("POST", "/conversations/"+conv.ID+"/members", "alice", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing user_id, got %d", rec.Code)
	}

	// An outsider cannot remove someone else.
	if rec := e.do("DELETE", "/conversations/"+conv.ID+"/members/carol", "mallory", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	// Leaving is always allowed.
	if rec := e.do("DELETE", "/conversations/"+conv.ID+"/members/carol", "carol", nil); rec.Code != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", rec.Code)
	}
	if rec := e.do("GET", "/conversations/"+conv.ID, "carol", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 after leaving, got %d", rec.Code)
	}
}

func TestListUserConversationsSelfOnly(t *testing.T) {
	e := newEnv(t, true)
	e.createConversation("alice", "bob")
	e.createConversation("alice", "carol")

	rec := e.do("GET", "/users/alice/conversations", "alice", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var convs []convResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(convs))
	}

	if rec := e.do("GET", "/users/alice/conversations", "bob", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 listing someone else's conversations, got %d", rec.Code)
	}
}

func TestUnknownEntitiesNotFound(t *testing.T) {
	e := newEnv(t, true)

	// Valid-format but unknown ids
	if rec := e.do("GET", "/conversations/66b1f0a2c3d4e5f60718293a", "alice", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := e.do("GET", "/messages/66b1f0a2c3d4e5f60718293a", "alice", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec := e.do("POST", "/messages", "alice", map[string]string{
		"conversation_id": "66b1f0a2c3d4e5f60718293a",
		"content":         "hi",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 sending to unknown conversation, got %d", rec.Code)
	}
}

func TestHealthDegradedWithoutCache(t *testing.T) {
	e := newEnv(t, true)

	// The fixture wires no cache pinger, so health reports degraded.
	rec := e.do("GET", "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Checks["store"].Status != "pass" {
		t.Fatalf("expected store check to pass, got %+v", resp)
	}
	if resp.Checks["cache"].Status != "fail" {
		t.Fatalf("expected cache check to fail, got %+v", resp)
	}
}
