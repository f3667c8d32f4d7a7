package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/workflow"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/sessions/" + sessionID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func exchange(t *testing.T, conn *websocket.Conn, frame any) wsReply {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))

	_, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	var reply wsReply
	require.NoError(t, json.Unmarshal(raw, &reply))
	return reply
}

func TestWebSocketTurns(t *testing.T) {
	engine := workflow.NewEngine(store.NewMemory(), echoGenerator{}, nil, workflow.PipelineConfig{})
	h := NewHandler(engine, Options{})
	r := chi.NewRouter()
	NewWebSocketHandler(h, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialSession(t, srv, "s1")

	reply := exchange(t, conn, map[string]string{"type": "ping"})
	assert.Equal(t, "pong", reply.Type)

	reply = exchange(t, conn, map[string]string{"type": "turn", "content": "What is a force?", "subject": "physics"})
	require.Equal(t, "result", reply.Type, reply.Error)
	require.NotNil(t, reply.Result)
	assert.Equal(t, "physics", reply.Result.AgentState.Subject)
	assert.NotEmpty(t, reply.Result.AgentState.CheckpointID)

	reply = exchange(t, conn, map[string]string{"type": "turn", "content": ""})
	assert.Equal(t, "error", reply.Type)

	reply = exchange(t, conn, map[string]string{"type": "dance"})
	assert.Equal(t, "error", reply.Type)

	assert.Equal(t, 1, h.Connections().Count("s1"))

	reply = exchange(t, conn, map[string]string{"type": "end"})
	assert.Equal(t, "ended", reply.Type)
	assert.Zero(t, engine.ActiveSessions())
}

func TestEndSessionClosesTurnChannels(t *testing.T) {
	engine := workflow.NewEngine(store.NewMemory(), echoGenerator{}, nil, workflow.PipelineConfig{})
	h := NewHandler(engine, Options{})
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	NewWebSocketHandler(h, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn := dialSession(t, srv, "s1")
	reply := exchange(t, conn, map[string]string{"type": "ping"})
	require.Equal(t, "pong", reply.Type)

	w := doJSON(t, r, "DELETE", "/api/sessions/s1", "")
	require.Equal(t, 200, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
}
