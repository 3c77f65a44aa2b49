package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/smallbiznis/tableside/internal/restaurantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus() (*Registry, *Bus) {
	reg := NewRegistry(zap.NewNop())
	return reg, NewBus(BusParams{Log: zap.NewNop(), Registry: reg})
}

func TestBroadcastEmptyRoom(t *testing.T) {
	_, bus := newTestBus()
	delivered, err := bus.Broadcast(context.Background(), KitchenRoom(42), Message{Event: EventNewOrder, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, 0, delivered)
}

func TestBroadcastSerializesOnce(t *testing.T) {
	reg, bus := newTestBus()
	a := NewSession(42, "", restaurantctx.RoleKitchen, 4)
	b := NewSession(42, "", restaurantctx.RoleKitchen, 4)
	other := NewSession(43, "", restaurantctx.RoleKitchen, 4)
	for _, s := range []*Session{a, b, other} {
		reg.Register(s)
		require.NoError(t, reg.Join(s.ID, KitchenRoom(s.RestaurantID)))
	}

	at := time.Date(2025, 6, 14, 11, 30, 0, 123, time.UTC)
	delivered, err := bus.Broadcast(context.Background(), KitchenRoom(42), Message{
		Event:     EventNewOrder,
		Order:     map[string]string{"id": "1"},
		Timestamp: at,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)

	frameA := <-a.Outbound()
	frameB := <-b.Outbound()
	assert.Equal(t, frameA, frameB)
	assert.Empty(t, other.Outbound())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frameA, &decoded))
	assert.Equal(t, EventNewOrder, decoded["event"])
	assert.Equal(t, at.Format(time.RFC3339Nano), decoded["timestamp"])
}

func TestBroadcastSkipsSlowConsumer(t *testing.T) {
	reg, bus := newTestBus()
	slow := NewSession(42, "", restaurantctx.RoleKitchen, 1)
	fast := NewSession(42, "", restaurantctx.RoleKitchen, 4)
	for _, s := range []*Session{slow, fast} {
		reg.Register(s)
		require.NoError(t, reg.Join(s.ID, KitchenRoom(42)))
	}
	require.NoError(t, slow.Send([]byte("backlog")))

	delivered, err := bus.Broadcast(context.Background(), KitchenRoom(42), Message{Event: EventOrderStatusUpdated})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
	assert.Len(t, fast.Outbound(), 1)
}

func TestSessionSendAfterClose(t *testing.T) {
	s := NewSession(42, "", restaurantctx.RoleKitchen, 1)
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Send([]byte("x")), ErrSessionClosed)
}
