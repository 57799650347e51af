package realtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	closed bool
}

func (c *fakeConn) WriteEvent(evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("write failed")
	}
	c.events = append(c.events, evt)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestRegistrySendToUserReachesAllConnections(t *testing.T) {
	registry := NewRegistry()

	phone := &fakeConn{}
	laptop := &fakeConn{}
	registry.Register("user-1", "farmer", phone)
	registry.Register("user-1", "farmer", laptop)

	delivered := registry.SendToUser("user-1", EventNotification, map[string]string{"title": "hi"})
	require.True(t, delivered)
	require.Len(t, phone.received(), 1)
	require.Len(t, laptop.received(), 1)
	require.Equal(t, EventNotification, phone.received()[0].Event)

	require.False(t, registry.SendToUser("user-2", EventNotification, nil))
}

func TestRegistryUnregisterRemovesExactConnection(t *testing.T) {
	registry := NewRegistry()

	phone := &fakeConn{}
	laptop := &fakeConn{}
	registry.Register("user-1", "farmer", phone)
	registry.Register("user-1", "farmer", laptop)

	registry.Unregister("user-1", phone)
	require.True(t, registry.IsOnline("user-1"))
	require.Equal(t, 1, registry.CountOnlineByRole("farmer"))

	delivered := registry.SendToUser("user-1", EventNotification, nil)
	require.True(t, delivered)
	require.Len(t, phone.received(), 0)
	require.Len(t, laptop.received(), 1)

	registry.Unregister("user-1", laptop)
	require.False(t, registry.IsOnline("user-1"))
	require.Zero(t, registry.CountOnlineByRole("farmer"))

	// Removing an unknown connection is a no-op.
	registry.Unregister("user-1", laptop)
}

func TestRegistrySendToRole(t *testing.T) {
	registry := NewRegistry()

	farmerA := &fakeConn{}
	farmerB := &fakeConn{}
	buyer := &fakeConn{}
	registry.Register("farmer-a", "farmer", farmerA)
	registry.Register("farmer-b", "farmer", farmerB)
	registry.Register("buyer-1", "buyer", buyer)

	registry.SendToRole("farmer", EventHarvestStatus, map[string]string{"status": "approved"})

	require.Len(t, farmerA.received(), 1)
	require.Len(t, farmerB.received(), 1)
	require.Empty(t, buyer.received())

	require.Equal(t, 2, registry.CountOnlineByRole("farmer"))
	require.Equal(t, 3, registry.CountOnline())
}

func TestRegistrySendSkipsFailedConnections(t *testing.T) {
	registry := NewRegistry()

	broken := &fakeConn{fail: true}
	working := &fakeConn{}
	registry.Register("user-1", "buyer", broken)
	registry.Register("user-1", "buyer", working)

	delivered := registry.SendToUser("user-1", EventNotification, nil)
	require.True(t, delivered)
	require.Len(t, working.received(), 1)

	// All connections failing reports no delivery.
	registry2 := NewRegistry()
	registry2.Register("user-2", "buyer", &fakeConn{fail: true})
	require.False(t, registry2.SendToUser("user-2", EventNotification, nil))
}

func TestRegistryCloseClosesEverything(t *testing.T) {
	registry := NewRegistry()

	first := &fakeConn{}
	second := &fakeConn{}
	registry.Register("user-1", "farmer", first)
	registry.Register("user-2", "buyer", second)

	registry.Close()

	require.True(t, first.closed)
	require.True(t, second.closed)
	require.Zero(t, registry.CountOnline())
}
