package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getditto/DittoChat-sub001/internal/handlers"
	"github.com/getditto/DittoChat-sub001/internal/metrics"
	"github.com/getditto/DittoChat-sub001/internal/models"
	"github.com/getditto/DittoChat-sub001/internal/remote/memstore"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t    *testing.T
	srv  *httptest.Server
	chat *services.Chat
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	m := metrics.New()
	c := services.New(services.Options{
		Store:                 memstore.New(),
		UserID:                "u1",
		UserName:              "Ada",
		ConsistencyCheckDelay: -1,
		Logger:                zerolog.Nop(),
		Metrics:               m,
	})
	require.NoError(t, c.Start(context.Background()))
	handlers.InitChatService(c, zerolog.Nop())

	r := chi.NewRouter()
	SetupRoutes(r, m)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		c.Dispose()
		handlers.InitChatService(nil, zerolog.Nop())
	})
	return &testServer{t: t, srv: srv, chat: c}
}

func (s *testServer) do(method, path string, body interface{}) (int, envelope) {
	s.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")
	return s.send(req)
}

func (s *testServer) send(req *http.Request) (int, envelope) {
	s.t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(s.srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "chat_messages_merged_total")
}

func TestMessageFlow(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodPost, "/api/rooms", map[string]interface{}{"id": "general", "name": "General"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	code, env = s.do(http.MethodPost, "/api/rooms/general/subscribe", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	assert.True(t, s.chat.IsSubscribed("general"))

	code, env = s.do(http.MethodPost, "/api/rooms/general/messages", map[string]interface{}{"text": "hello"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	msg := decode[models.Message](t, env.Data)

	code, env = s.do(http.MethodGet, "/api/rooms/general/messages", nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[struct {
		Messages []models.MessageWithUser `json:"messages"`
	}](t, env.Data)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, "hello", list.Messages[0].Message.Text)
	require.NotNil(t, list.Messages[0].User)
	assert.Equal(t, "Ada", list.Messages[0].User.Name)

	path := "/api/rooms/general/messages/" + msg.ID
	code, env = s.do(http.MethodPost, path+"/reactions", map[string]string{"emoji": "👍"})
	require.Equal(t, http.StatusOK, code, env.Message)
	reactions := decode[struct {
		Reactions []models.Reaction `json:"reactions"`
	}](t, env.Data)
	require.Len(t, reactions.Reactions, 1)
	assert.Equal(t, "u1", reactions.Reactions[0].UserID)

	code, env = s.do(http.MethodDelete, path+"/reactions?emoji=%F0%9F%91%8D", nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	reactions = decode[struct {
		Reactions []models.Reaction `json:"reactions"`
	}](t, env.Data)
	assert.Empty(t, reactions.Reactions)

	code, env = s.do(http.MethodPut, path, map[string]string{"text": "hello again"})
	require.Equal(t, http.StatusOK, code, env.Message)
	edited := decode[models.Message](t, env.Data)
	assert.True(t, edited.IsEdited)
	assert.Equal(t, msg.ID, edited.ArchivedMessage)

	code, env = s.do(http.MethodDelete, "/api/rooms/general/messages/"+edited.ID, nil)
	require.Equal(t, http.StatusOK, code, env.Message)
	deleted := decode[models.Message](t, env.Data)
	assert.True(t, deleted.IsDeleted)

	_, env = s.do(http.MethodGet, "/api/rooms/general/messages", nil)
	list = decode[struct {
		Messages []models.MessageWithUser `json:"messages"`
	}](t, env.Data)
	require.Len(t, list.Messages, 1)
	assert.Equal(t, models.DeletedMessageText, list.Messages[0].Message.Text)

	_, env = s.do(http.MethodGet, "/api/rooms/general/messages?archived=true", nil)
	list = decode[struct {
		Messages []models.MessageWithUser `json:"messages"`
	}](t, env.Data)
	assert.Len(t, list.Messages, 3)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	code, _ := s.do(http.MethodPost, "/api/rooms/nowhere/messages", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPost, "/api/rooms", map[string]string{"name": ""})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(http.MethodPost, "/api/rooms/dm", map[string]string{"userId": "stranger"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = s.do(http.MethodPatch, "/api/permissions", map[string]bool{"canCreateRoom": false})
	assert.Equal(t, http.StatusOK, code)
	code, _ = s.do(http.MethodPost, "/api/rooms", map[string]string{"name": "Locked"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = s.do(http.MethodPost, "/api/attachments/fetch", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/rooms", strings.NewReader("{"))
	require.NoError(t, err)
	code, _ = s.send(req)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestFileUploadAndFetch(t *testing.T) {
	s := newTestServer(t)
	code, env := s.do(http.MethodPost, "/api/rooms", map[string]interface{}{"id": "docs", "name": "Docs"})
	require.Equal(t, http.StatusCreated, code, env.Message)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("remember the milk"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, s.srv.URL+"/api/rooms/docs/files", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	code, env = s.send(req)
	require.Equal(t, http.StatusCreated, code, env.Message)
	msg := decode[models.Message](t, env.Data)
	require.NotNil(t, msg.FileAttachmentToken)
	assert.Equal(t, "notes.txt", msg.Text)

	code, env = s.do(http.MethodPost, "/api/attachments/fetch", map[string]interface{}{"token": msg.FileAttachmentToken})
	require.Equal(t, http.StatusOK, code, env.Message)
	got := decode[handlers.FetchAttachmentResponse](t, env.Data)
	assert.Equal(t, "remember the milk", string(got.Data))
	assert.Equal(t, "notes.txt", got.Metadata[models.AttachmentFilename])
}

func TestUserEndpointsAndLogout(t *testing.T) {
	s := newTestServer(t)

	code, env := s.do(http.MethodGet, "/api/me", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Ada", decode[models.ChatUser](t, env.Data).Name)

	code, _ = s.do(http.MethodPatch, "/api/me", map[string]string{"name": "Ada L."})
	require.Equal(t, http.StatusOK, code)
	_, env = s.do(http.MethodGet, "/api/users", nil)
	users := decode[struct {
		Users []models.ChatUser `json:"users"`
	}](t, env.Data)
	require.Len(t, users.Users, 1)
	assert.Equal(t, "Ada L.", users.Users[0].Name)

	code, env = s.do(http.MethodPost, "/api/logout", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 8, decode[map[string]int](t, env.Data)["cancelled"])
}

func TestUninitializedEngine(t *testing.T) {
	handlers.InitChatService(nil, zerolog.Nop())
	r := chi.NewRouter()
	SetupRoutes(r, nil)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
