package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	iauth "github.com/adamstosho/grochain/internal/auth"
	"github.com/adamstosho/grochain/internal/database/testutil"
	"github.com/adamstosho/grochain/internal/models"
)

func newHandshakeFixture(t *testing.T) (*Handshaker, *Registry, *iauth.JWTService, models.User) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	user := models.User{
		Name:     "Amara",
		Email:    "amara@example.com",
		Role:     models.RoleFarmer,
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "grochain"})
	require.NoError(t, err)

	registry := NewRegistry()
	t.Cleanup(registry.Close)

	handshaker, err := NewHandshaker(registry, jwt, db)
	require.NoError(t, err)

	return handshaker, registry, jwt, user
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestHandshakeDeliversLiveEvents(t *testing.T) {
	handshaker, registry, jwt, user := newHandshakeFixture(t)

	server := httptest.NewServer(http.HandlerFunc(handshaker.Serve))
	defer server.Close()

	token, err := jwt.GenerateAccessToken(user.ID, user.Role)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return registry.IsOnline(user.ID)
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, 1, registry.CountOnlineByRole(user.Role))

	delivered := registry.SendToUser(user.ID, EventNotification, map[string]string{"title": "hello"})
	require.True(t, delivered)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var evt Event
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, EventNotification, evt.Event)
	require.False(t, evt.Timestamp.IsZero())
}

func TestHandshakeAcceptsHeaderCredential(t *testing.T) {
	handshaker, registry, jwt, user := newHandshakeFixture(t)

	server := httptest.NewServer(http.HandlerFunc(handshaker.Serve))
	defer server.Close()

	token, err := jwt.GenerateAccessToken(user.ID, user.Role)
	require.NoError(t, err)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(server), header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.Eventually(t, func() bool {
		return registry.IsOnline(user.ID)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsBeforeUpgrade(t *testing.T) {
	handshaker, registry, _, user := newHandshakeFixture(t)

	server := httptest.NewServer(http.HandlerFunc(handshaker.Serve))
	defer server.Close()

	// Missing credential.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Garbage token.
	_, resp, err = websocket.DefaultDialer.Dial(wsURL(server)+"?token=not-a-jwt", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	require.False(t, registry.IsOnline(user.ID))
}

func TestHandshakeRejectsInactiveUser(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := models.User{
		Name:  "Suspended",
		Email: "suspended@example.com",
		Role:  models.RoleBuyer,
	}
	require.NoError(t, db.Create(&user).Error)
	require.NoError(t, db.Model(&user).Update("is_active", false).Error)

	jwt, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "test-secret", Issuer: "grochain"})
	require.NoError(t, err)

	registry := NewRegistry()
	t.Cleanup(registry.Close)

	handshaker, err := NewHandshaker(registry, jwt, db)
	require.NoError(t, err)

	server := httptest.NewServer(http.HandlerFunc(handshaker.Serve))
	defer server.Close()

	token, err := jwt.GenerateAccessToken(user.ID, user.Role)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
