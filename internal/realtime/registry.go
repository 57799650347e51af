package realtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/adamstosho/grochain/pkg/logger"
	"github.com/adamstosho/grochain/pkg/metrics"
)

// Conn is one live connection. Implementations must not block indefinitely
// in WriteEvent; the websocket implementation enqueues onto a buffered
// channel and drops the connection on backpressure.
type Conn interface {
	WriteEvent(event Event) error
	Close() error
}

type connInfo struct {
	userID string
	role   string
}

// Registry is the authoritative mapping from user identity to live
// connections and from role to the set of connected users. All methods are
// safe for concurrent use; no network I/O happens under the lock.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[Conn]struct{}
	roles map[string]map[string]struct{}
	conns map[Conn]connInfo
	log   *zap.Logger
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[Conn]struct{}),
		roles: make(map[string]map[string]struct{}),
		conns: make(map[Conn]connInfo),
		log:   logger.WithModule("realtime"),
	}
}

// Register joins the connection to its personal room and its role room.
// Both joins happen under one critical section, so a registered connection
// is always addressable both ways. Multiple connections per user are
// permitted; addressing the user reaches all of them.
func (r *Registry) Register(userID, role string, conn Conn) {
	if userID == "" || conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.users[userID] == nil {
		r.users[userID] = make(map[Conn]struct{})
	}
	r.users[userID][conn] = struct{}{}

	if role != "" {
		if r.roles[role] == nil {
			r.roles[role] = make(map[string]struct{})
		}
		r.roles[role][userID] = struct{}{}
	}

	r.conns[conn] = connInfo{userID: userID, role: role}
	metrics.LiveConnections.Inc()
}

// Unregister removes exactly the given connection. When it was the user's
// last connection the user leaves the registry and their role room. Safe to
// call concurrently with sends; an already removed connection is a no-op.
func (r *Registry) Unregister(userID string, conn Conn) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.conns[conn]
	if !ok {
		return
	}
	delete(r.conns, conn)
	metrics.LiveConnections.Dec()

	if userID == "" {
		userID = info.userID
	}

	userConns := r.users[userID]
	if userConns == nil {
		return
	}
	delete(userConns, conn)
	if len(userConns) > 0 {
		return
	}

	delete(r.users, userID)
	if roleUsers := r.roles[info.role]; roleUsers != nil {
		delete(roleUsers, userID)
		if len(roleUsers) == 0 {
			delete(r.roles, info.role)
		}
	}
}

// SendToUser delivers an event to every live connection of the user.
// It reports true iff at least one connection existed and accepted the
// write.
func (r *Registry) SendToUser(userID, event string, data any) bool {
	targets := r.snapshotUser(userID)
	if len(targets) == 0 {
		return false
	}

	evt := NewEvent(event, data)
	delivered := false
	for _, conn := range targets {
		if err := conn.WriteEvent(evt); err != nil {
			r.log.Warn("live send failed",
				zap.String("user_id", userID),
				zap.String("event", event),
				zap.Error(err),
			)
			continue
		}
		delivered = true
	}
	return delivered
}

// SendToRole fans an event out to every connected user holding the role.
// Individual connection failures do not abort the broadcast.
func (r *Registry) SendToRole(role, event string, data any) {
	r.mu.RLock()
	userIDs := make([]string, 0, len(r.roles[role]))
	for userID := range r.roles[role] {
		userIDs = append(userIDs, userID)
	}
	r.mu.RUnlock()

	for _, userID := range userIDs {
		r.SendToUser(userID, event, data)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// CountOnline returns the number of distinct connected users.
func (r *Registry) CountOnline() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// CountOnlineByRole returns the number of connected users holding the role.
func (r *Registry) CountOnlineByRole(role string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles[role])
}

// Close tears down every registered connection. Used during shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.conns))
	for conn := range r.conns {
		conns = append(conns, conn)
	}
	r.users = make(map[string]map[Conn]struct{})
	r.roles = make(map[string]map[string]struct{})
	r.conns = make(map[Conn]connInfo)
	metrics.LiveConnections.Set(0)
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (r *Registry) snapshotUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(conns))
	for conn := range conns {
		out = append(out, conn)
	}
	return out
}
