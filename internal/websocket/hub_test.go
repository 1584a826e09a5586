package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prima/internal/model"
	"prima/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = model.MustIdentity("0x1111111111111111111111111111111111111111")
	bob   = model.MustIdentity("0x2222222222222222222222222222222222222222")
)

type tokenSessions map[string]model.Identity

func (tokenSessions) IssueNonce(context.Context, service.NonceRequest) (service.NonceResponse, error) {
	return service.NonceResponse{}, errors.New("not used")
}

func (tokenSessions) OpenSession(context.Context, service.SessionRequest) (service.TokenResponse, error) {
	return service.TokenResponse{}, errors.New("not used")
}

func (s tokenSessions) ParseToken(token string) (model.Session, error) {
	actor, ok := s[token]
	if !ok {
		return model.Session{}, service.ErrInvalidToken
	}
	return model.Session{Actor: actor}, nil
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub([]string{"http://localhost:3000"})
	go hub.Run(ctx)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	sessions := tokenSessions{"alice": alice, "bob": bob}
	r.GET("/ws", func(c *gin.Context) { ServeWs(hub, c, sessions) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServeWsRejectsBadToken(t *testing.T) {
	_, url := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=mallory", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPublishReachesOnlyTheActor(t *testing.T) {
	hub, url := startHub(t)
	aliceConn := dial(t, url, "alice")
	bobConn := dial(t, url, "bob")
	require.Eventually(t, func() bool {
		return hub.Connections(alice.String()) == 1 && hub.Connections(bob.String()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	hub.Publish(alice.String(), service.PushTransaction, map[string]string{"phase": "SUBMITTED"})

	_ = aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := aliceConn.ReadMessage()
	require.NoError(t, err)
	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, service.PushTransaction, msg.Type)
	assert.Equal(t, "SUBMITTED", msg.Data["phase"])

	_ = bobConn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = bobConn.ReadMessage()
	assert.Error(t, err, "bob must not receive alice's push")
}

func TestPublishViewUsesViewEnvelope(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, "bob")
	require.Eventually(t, func() bool { return hub.Connections(bob.String()) == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.PublishView(service.ViewSnapshot{
		Key:        service.ViewKey{Role: model.RoleDebtor, Actor: bob},
		Generation: 4,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string               `json:"type"`
		Data service.ViewResponse `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, service.PushView, msg.Type)
	assert.Equal(t, uint64(4), msg.Data.Generation)
	assert.Equal(t, "debtor", msg.Data.Role)
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url, "alice")
	require.Eventually(t, func() bool { return hub.Connections(alice.String()) == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Connections(alice.String()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServeWsRejectsForeignOrigin(t *testing.T) {
	_, url := startHub(t)

	header := http.Header{"Origin": []string{"https://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(url+"?token=alice", header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://localhost:3000")
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=alice", header)
	require.NoError(t, err)
	_ = conn.Close()
}
