package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/internal/repository"
	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/hash"
	"line-gemini-relay/pkg/token"
)

const testSecret = "channel-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeChat struct {
	mu     sync.Mutex
	events []model.InboundEvent
	reply  string
	err    error
}

func (f *fakeChat) Dispatch(ctx context.Context, event model.InboundEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.reply, f.err
}

type sentReply struct {
	token string
	text  string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []sentReply
}

func (f *fakeReplier) ReplyText(ctx context.Context, replyToken, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentReply{token: replyToken, text: text})
	return nil
}

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func messageEvent(replyToken, sourceJSON, messageJSON string) string {
	return `{"type":"message","mode":"active","timestamp":1700000000000,"webhookEventId":"01H","deliveryContext":{"isRedelivery":false},` +
		`"replyToken":"` + replyToken + `","source":` + sourceJSON + `,"message":` + messageJSON + `}`
}

func callbackBody(events ...string) string {
	return `{"destination":"Ubot","events":[` + strings.Join(events, ",") + `]}`
}

func postCallback(h *CallbackHandler, body, signature string) *httptest.ResponseRecorder {
	r := gin.New()
	r.POST("/callback", h.Callback)
	req := httptest.NewRequest(http.MethodPost, "/callback", strings.NewReader(body))
	req.Header.Set("X-Line-Signature", signature)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallback_InvalidSignature(t *testing.T) {
	chat, replier := &fakeChat{reply: "x"}, &fakeReplier{}
	h := NewCallbackHandler(testSecret, chat, replier)
	body := callbackBody(messageEvent("rt", `{"type":"user","userId":"U1"}`, `{"type":"text","id":"1","quoteToken":"q","text":"hi"}`))

	w := postCallback(h, body, sign(body+"tampered"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, chat.events)
	assert.Empty(t, replier.replies)

	w = postCallback(h, body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCallback_DispatchesMessageEvents(t *testing.T) {
	chat, replier := &fakeChat{reply: "回复"}, &fakeReplier{}
	h := NewCallbackHandler(testSecret, chat, replier)
	body := callbackBody(
		messageEvent("rt-text", `{"type":"user","userId":"U1"}`, `{"type":"text","id":"1","quoteToken":"q","text":"hi"}`),
		messageEvent("rt-sticker", `{"type":"group","groupId":"G1","userId":"U2"}`, `{"type":"sticker","id":"2","quoteToken":"q","packageId":"1","stickerId":"1","stickerResourceType":"STATIC"}`),
		messageEvent("rt-loc", `{"type":"user","userId":"U3"}`, `{"type":"location","id":"3","title":"t","address":"台北101","latitude":25.0339,"longitude":121.5645}`),
		`{"type":"follow","mode":"active","timestamp":1700000000000,"webhookEventId":"01J","deliveryContext":{"isRedelivery":false},"replyToken":"rt-follow","source":{"type":"user","userId":"U4"},"follow":{"isUnblocked":false}}`,
	)

	w := postCallback(h, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())

	require.Len(t, chat.events, 3, "non-message events are ignored")
	assert.Equal(t, model.TextEvent{UserID: "U1", Text: "hi"}, chat.events[0])
	assert.Equal(t, model.StickerEvent{UserID: "U2"}, chat.events[1])
	assert.Equal(t, model.LocationEvent{UserID: "U3", Address: "台北101", Latitude: 25.0339, Longitude: 121.5645}, chat.events[2])

	require.Len(t, replier.replies, 3)
	assert.Equal(t, sentReply{token: "rt-text", text: "回复"}, replier.replies[0])
	assert.Equal(t, "rt-loc", replier.replies[2].token)
}

func TestCallback_RepliesEvenWhenPersistenceFails(t *testing.T) {
	chat := &fakeChat{reply: "answer", err: service.ErrPersistence}
	replier := &fakeReplier{}
	h := NewCallbackHandler(testSecret, chat, replier)
	body := callbackBody(messageEvent("rt", `{"type":"user","userId":"U1"}`, `{"type":"text","id":"1","quoteToken":"q","text":"hi"}`))

	w := postCallback(h, body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, replier.replies, 1)
	assert.Equal(t, "answer", replier.replies[0].text)
}

func TestCallback_EmptyEvents(t *testing.T) {
	chat, replier := &fakeChat{}, &fakeReplier{}
	body := callbackBody()

	w := postCallback(NewCallbackHandler(testSecret, chat, replier), body, sign(body))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

// failingRepo always fails to save.
type failingRepo struct{}

func (failingRepo) Load(ctx context.Context) ([]model.Conversation, error) { return nil, nil }
func (failingRepo) Save(ctx context.Context, entries []model.Conversation) error {
	return errors.New("read-only filesystem")
}

func newConversationRouter(conv service.ConversationService) *gin.Engine {
	r := gin.New()
	h := NewConversationHandler(conv)
	r.GET("/history", h.GetHistory)
	r.DELETE("/conversations/clear", h.ClearHistory)
	return r
}

func TestHistoryAndClear(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewFileConversationRepository(filepath.Join(t.TempDir(), "history.json"))
	conv := service.NewConversationService(repo)
	require.NoError(t, conv.Load(ctx))
	r := newConversationRouter(conv)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err := conv.Append(ctx, "U1", "hi", "hello")
	require.NoError(t, err)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/history", nil))
	var entries []model.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Answer)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversations/clear", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result":"历史对话已清空"}`, w.Body.String())
	assert.Empty(t, conv.All())
}

func TestClear_Failure(t *testing.T) {
	r := newConversationRouter(service.NewConversationService(failingRepo{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/conversations/clear", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "read-only filesystem")
}

type stubSearcher struct {
	results []model.Conversation
}

func (s stubSearcher) Search(ctx context.Context, query, userID string, size int) ([]model.Conversation, error) {
	return s.results, nil
}

func TestSearch(t *testing.T) {
	search := func(svc service.SearchService, target string) *httptest.ResponseRecorder {
		r := gin.New()
		r.GET("/history/search", NewSearchHandler(svc).Search)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
		return w
	}

	assert.Equal(t, http.StatusServiceUnavailable, search(service.NewSearchService(nil), "/history/search?q=hi").Code)

	enabled := service.NewSearchService(stubSearcher{results: []model.Conversation{{ID: 1, Question: "hi"}}})
	assert.Equal(t, http.StatusBadRequest, search(enabled, "/history/search").Code)

	w := search(enabled, "/history/search?q=hi&size=abc")
	assert.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data []model.Conversation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "hi", body.Data[0].Question)
}

func TestAdminLogin(t *testing.T) {
	passwordHash, err := hash.HashPassword("s3cret")
	require.NoError(t, err)
	jm := token.NewJWTManager("jwt-secret", 1)
	r := gin.New()
	r.POST("/admin/login", NewAdminHandler(service.NewAdminService(passwordHash, jm)).Login)

	login := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusBadRequest, login(`{}`).Code)
	assert.Equal(t, http.StatusUnauthorized, login(`{"password":"wrong"}`).Code)

	w := login(`{"password":"s3cret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	claims, err := jm.VerifyToken(body.Data.Token)
	require.NoError(t, err)
	assert.Equal(t, service.AdminRole, claims.Role)
}

func TestHealth(t *testing.T) {
	r := gin.New()
	r.GET("/health", Health)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}
