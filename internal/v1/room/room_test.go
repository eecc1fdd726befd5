package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jes11sy/realtime-gateway/internal/v1/registry"
	"github.com/jes11sy/realtime-gateway/internal/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSocket struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeSocket) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}
func (f *fakeSocket) Close() error                     { return nil }
func (f *fakeSocket) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeSocket) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeBus struct {
	mu        sync.Mutex
	published []types.Envelope
}

func (b *fakeBus) Publish(_ context.Context, env types.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, env)
	return nil
}
func (b *fakeBus) Subscribe(context.Context, func(types.Envelope)) error { return nil }
func (b *fakeBus) Close() error                                         { return nil }
func (b *fakeBus) Ready() bool                                          { return true }
func (b *fakeBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *fakeBus) {
	reg := registry.New(time.Second, zap.NewNop())
	bus := &fakeBus{}
	return New(reg, bus, zap.NewNop()), reg, bus
}

func authenticatedConn(t *testing.T, reg *registry.Registry, userID types.UserIDType, role types.RoleType) (*registry.Connection, *fakeSocket) {
	sock := &fakeSocket{}
	c := reg.Accept(sock, zap.NewNop())
	_, err := reg.Authenticate(c.SocketID(), types.User{UserID: userID, Role: role})
	require.NoError(t, err)
	return c, sock
}

func TestMayJoin_Directors(t *testing.T) {
	assert.True(t, MayJoin(types.User{Role: types.RoleDirector}, types.RoomDirectors))
	assert.False(t, MayJoin(types.User{Role: types.RoleOperator}, types.RoomDirectors))
}

func TestMayJoin_Operators(t *testing.T) {
	assert.True(t, MayJoin(types.User{Role: types.RoleOperator}, types.RoomOperators))
	assert.True(t, MayJoin(types.User{Role: types.RoleDirector}, types.RoomOperators))
}

func TestMayJoin_PerSubjectRoom_OwnID(t *testing.T) {
	assert.True(t, MayJoin(types.User{UserID: 7, Role: types.RoleOperator}, "operator:7"))
	assert.True(t, MayJoin(types.User{UserID: 7, Role: types.RoleOperator}, "user:7"))
}

func TestMayJoin_PerSubjectRoom_OtherID_RequiresDirector(t *testing.T) {
	assert.False(t, MayJoin(types.User{UserID: 7, Role: types.RoleOperator}, "operator:9"))
	assert.True(t, MayJoin(types.User{UserID: 7, Role: types.RoleDirector}, "operator:9"))
}

func TestMayJoin_OrderRoomUnrestricted(t *testing.T) {
	assert.True(t, MayJoin(types.User{UserID: 7, Role: types.RoleOperator}, "order:42"))
}

func TestMayJoin_ArbitraryRoomOpen(t *testing.T) {
	assert.True(t, MayJoin(types.User{Role: types.RoleOperator}, "some-custom-room"))
}

func TestBroadcastToRoom_DeliversLocallyAndPublishes(t *testing.T) {
	engine, reg, bus := newTestEngine(t)
	c1, sock1 := authenticatedConn(t, reg, 1, types.RoleOperator)
	defer reg.Remove(c1.SocketID())
	c2, sock2 := authenticatedConn(t, reg, 2, types.RoleDirector)
	defer reg.Remove(c2.SocketID())

	require.NoError(t, reg.JoinRoom(c1.SocketID(), "city:moscow", nil))

	err := engine.BroadcastToRoom(context.Background(), "city:moscow", "order:new", map[string]int{"id": 1})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return sock1.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sock2.count())
	assert.Equal(t, 1, bus.count())
}

func TestBroadcastToAll_DeliversToEveryAuthenticatedSocket(t *testing.T) {
	engine, reg, bus := newTestEngine(t)
	c1, sock1 := authenticatedConn(t, reg, 1, types.RoleOperator)
	defer reg.Remove(c1.SocketID())
	c2, sock2 := authenticatedConn(t, reg, 2, types.RoleDirector)
	defer reg.Remove(c2.SocketID())

	err := engine.BroadcastToAll(context.Background(), "avito-new-message", map[string]string{"text": "hi"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return sock1.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return sock2.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, bus.count())
}

func TestBroadcastToUser_OnlyTargetsThatUsersSockets(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	c1, sock1 := authenticatedConn(t, reg, 1, types.RoleOperator)
	defer reg.Remove(c1.SocketID())
	c2, sock2 := authenticatedConn(t, reg, 2, types.RoleOperator)
	defer reg.Remove(c2.SocketID())

	engine.BroadcastToUser(1, "notification:new", map[string]string{"title": "x"})

	assert.Eventually(t, func() bool { return sock1.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sock2.count())
}

func TestHandleBusEnvelope_RoomScoped(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	c1, sock1 := authenticatedConn(t, reg, 1, types.RoleOperator)
	defer reg.Remove(c1.SocketID())
	require.NoError(t, reg.JoinRoom(c1.SocketID(), types.RoomOperators, nil))

	raw, _ := json.Marshal(map[string]string{"a": "b"})
	engine.HandleBusEnvelope(types.Envelope{Event: "call:new", Data: raw, Room: string(types.RoomOperators), OriginInstanceID: "peer"})

	assert.Eventually(t, func() bool { return sock1.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHandleBusEnvelope_Global(t *testing.T) {
	engine, reg, _ := newTestEngine(t)
	c1, sock1 := authenticatedConn(t, reg, 1, types.RoleOperator)
	defer reg.Remove(c1.SocketID())

	engine.HandleBusEnvelope(types.Envelope{Event: "avito-new-message", OriginInstanceID: "peer"})

	assert.Eventually(t, func() bool { return sock1.count() == 1 }, time.Second, 5*time.Millisecond)
}
