package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/adamstosho/grochain/internal/auth"
	"github.com/adamstosho/grochain/internal/models"
	"github.com/adamstosho/grochain/pkg/logger"
)

// Identity is the verified result of a connection handshake.
type Identity struct {
	UserID string
	Role   string
}

// Handshaker upgrades inbound HTTP requests to registered live connections.
// A connection that fails credential verification never reaches the
// registry.
type Handshaker struct {
	registry *Registry
	jwt      *iauth.JWTService
	db       *gorm.DB
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandshaker builds a Handshaker for the supplied registry and verifier.
func NewHandshaker(registry *Registry, jwt *iauth.JWTService, db *gorm.DB) (*Handshaker, error) {
	if registry == nil {
		return nil, errors.New("realtime: registry is required")
	}
	if jwt == nil {
		return nil, errors.New("realtime: jwt service is required")
	}
	if db == nil {
		return nil, errors.New("realtime: db is required")
	}

	return &Handshaker{
		registry: registry,
		jwt:      jwt,
		db:       db,
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return hostWithoutPort(origin) == hostWithoutPort(r.Host) || isLoopback(hostWithoutPort(origin))
			},
		},
	}, nil
}

// Verify resolves the request credential to an identity. The credential is
// accepted from the Authorization header, the token query parameter, or the
// X-Auth-Token header.
func (h *Handshaker) Verify(r *http.Request) (Identity, error) {
	token := extractCredential(r)
	if token == "" {
		return Identity{}, errors.New("handshake: missing credential")
	}

	claims, err := h.jwt.ValidateAccessToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("handshake: %w", err)
	}

	var user models.User
	if err := h.db.WithContext(r.Context()).
		Select("id", "role", "is_active").
		Where("id = ?", claims.UserID).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, errors.New("handshake: unknown user")
		}
		return Identity{}, fmt.Errorf("handshake: load user: %w", err)
	}
	if !user.IsActive {
		return Identity{}, errors.New("handshake: user is inactive")
	}

	role := user.Role
	if role == "" {
		role = claims.Role
	}
	return Identity{UserID: user.ID, Role: role}, nil
}

// Serve performs the full handshake: credential verification, websocket
// upgrade, registration, and the read/write pump. It blocks until the
// connection closes.
func (h *Handshaker) Serve(w http.ResponseWriter, r *http.Request) {
	identity, err := h.Verify(r)
	if err != nil {
		h.log.Info("handshake rejected", zap.Error(err))
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(socket, identity.UserID, func(c *wsConn) {
		h.registry.Unregister(identity.UserID, c)
	})
	h.registry.Register(identity.UserID, identity.Role, conn)

	go conn.writeLoop()
	conn.readLoop()
}

func extractCredential(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Auth-Token"))
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")
	if idx := strings.IndexByte(host, '/'); idx >= 0 {
		host = host[:idx]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
