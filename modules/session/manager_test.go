package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	domain "github.com/example/ephemeral-chat/domain/chat"
	"github.com/example/ephemeral-chat/events"
	"github.com/example/ephemeral-chat/modules/broadcast"
	"github.com/example/ephemeral-chat/modules/history"
	"github.com/example/ephemeral-chat/modules/presence"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any)          {}
func (m *mockLogger) Info(msg string, args ...any)           {}
func (m *mockLogger) Warn(msg string, args ...any)           {}
func (m *mockLogger) Error(msg string, args ...any)          {}
func (m *mockLogger) With(args ...any) types.Logger          { return m }
func (m *mockLogger) WithError(err error) types.Logger       { return m }
func (m *mockLogger) WithModule(module string) types.Logger { return m }

var errStoreDown = errors.New("store unavailable")

// flakyStore wraps a real store and fails selected operations on demand.
type flakyStore struct {
	history.Store

	mu         sync.Mutex
	failRecent bool
	failAppend bool
	failDelete bool
}

func (s *flakyStore) set(fn func(s *flakyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *flakyStore) Recent(ctx context.Context, roomID string, limit int) ([]domain.Message, error) {
	s.mu.Lock()
	fail := s.failRecent
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.Recent(ctx, roomID, limit)
}

func (s *flakyStore) Append(ctx context.Context, roomID, sender, text string) (*domain.Message, error) {
	s.mu.Lock()
	fail := s.failAppend
	s.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return s.Store.Append(ctx, roomID, sender, text)
}

func (s *flakyStore) DeleteMessages(ctx context.Context, roomID string) error {
	s.mu.Lock()
	fail := s.failDelete
	s.mu.Unlock()
	if fail {
		return errStoreDown
	}
	return s.Store.DeleteMessages(ctx, roomID)
}

type testEnv struct {
	registry *presence.MemoryRegistry
	router   *broadcast.Router
	store    *flakyStore
	manager  *Manager
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnv(t, func(s history.Store) history.Store { return s })
}

// setupCachedTestEnv runs the manager over the Redis history cache.
func setupCachedTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return newTestEnv(t, func(s history.Store) history.Store {
		return history.NewCachedStore(s, client, "chat:", time.Minute, &mockLogger{})
	})
}

func newTestEnv(t *testing.T, wrap func(history.Store) history.Store) *testEnv {
	t.Helper()

	db, err := history.OpenDB(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	registry := presence.NewMemoryRegistry()
	router := broadcast.NewRouter(registry, 1024, &mockLogger{})
	store := &flakyStore{Store: wrap(history.NewRepository(db))}

	return &testEnv{
		registry: registry,
		router:   router,
		store:    store,
		manager: NewManager(Options{
			Registry:     registry,
			Store:        store,
			Router:       router,
			HistoryLimit: 100,
			Logger:       &mockLogger{},
		}),
	}
}

// testClient pairs a session connection with its outbound queue.
type testClient struct {
	conn  *Connection
	queue *broadcast.Client
}

func (e *testEnv) connect(id string) *testClient {
	return &testClient{
		conn:  e.manager.NewConnection(id),
		queue: e.router.Attach(id),
	}
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (f frame) notice(t *testing.T) string {
	t.Helper()
	require.Equal(t, FrameNotice, f.Type)
	var n domain.Notice
	require.NoError(t, json.Unmarshal(f.Payload, &n))
	return n.Text
}

func (f frame) message(t *testing.T) domain.Message {
	t.Helper()
	require.Equal(t, FrameMessage, f.Type)
	var m domain.Message
	require.NoError(t, json.Unmarshal(f.Payload, &m))
	return m
}

func (f frame) history(t *testing.T) []domain.Message {
	t.Helper()
	require.Equal(t, FrameHistory, f.Type)
	var msgs []domain.Message
	require.NoError(t, json.Unmarshal(f.Payload, &msgs))
	return msgs
}

func (c *testClient) frames(t *testing.T) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case data := <-c.queue.Messages():
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func (e *testEnv) historyLen(t *testing.T, roomID string) int {
	t.Helper()
	msgs, err := e.store.Store.Recent(context.Background(), roomID, 0)
	require.NoError(t, err)
	return len(msgs)
}

func TestManager_AliceBobScenario(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	bob := env.connect("b")

	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	frames := alice.frames(t)
	require.Len(t, frames, 2)
	assert.Empty(t, frames[0].history(t))
	assert.Equal(t, "Alice joined.", frames[1].notice(t))

	_, err := alice.conn.Message(ctx, "r1", "hi")
	require.NoError(t, err)
	frames = alice.frames(t)
	require.Len(t, frames, 1)
	msg := frames[0].message(t)
	assert.Equal(t, "Alice", msg.Sender)
	assert.Equal(t, "hi", msg.Text)
	assert.NotEmpty(t, msg.ID)

	require.NoError(t, bob.conn.Join(ctx, "r1", "Bob"))
	frames = bob.frames(t)
	require.Len(t, frames, 2)
	hist := frames[0].history(t)
	require.Len(t, hist, 1)
	assert.Equal(t, msg.ID, hist[0].ID)
	assert.Equal(t, "Alice", hist[0].Sender)
	assert.Equal(t, "hi", hist[0].Text)
	assert.Equal(t, "Bob joined.", frames[1].notice(t))

	frames = alice.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "Bob joined.", frames[0].notice(t))

	alice.conn.Disconnect(ctx)
	frames = bob.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "Alice left.", frames[0].notice(t))
	assert.Equal(t, 1, env.historyLen(t, "r1"), "history must survive while the room has members")

	bob.conn.Disconnect(ctx)
	assert.Equal(t, 0, env.historyLen(t, "r1"))
	assert.Equal(t, 0, env.registry.MemberCount("r1"))
	assert.Empty(t, env.registry.Rooms())
	assert.Equal(t, 0, env.manager.locks.len())
}

func TestManager_CachedHistoryClearedOnLastLeave(t *testing.T) {
	for _, roomID := range []string{"r1", "r[1]", "r*"} {
		t.Run(roomID, func(t *testing.T) {
			env := setupCachedTestEnv(t)
			ctx := context.Background()

			alice := env.connect("a")
			require.NoError(t, alice.conn.Join(ctx, roomID, "Alice"))
			_, err := alice.conn.Message(ctx, roomID, "secret")
			require.NoError(t, err)

			bob := env.connect("b")
			require.NoError(t, bob.conn.Join(ctx, roomID, "Bob"))
			frames := bob.frames(t)
			require.NotEmpty(t, frames)
			require.Len(t, frames[0].history(t), 1)

			bob.conn.Disconnect(ctx)
			alice.conn.Disconnect(ctx)
			require.Equal(t, 0, env.registry.MemberCount(roomID))

			carol := env.connect("c")
			require.NoError(t, carol.conn.Join(ctx, roomID, "Carol"))
			frames = carol.frames(t)
			require.NotEmpty(t, frames)
			assert.Empty(t, frames[0].history(t), "a recreated room must start with empty history")
		})
	}
}

func TestManager_BroadcastOrder(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	bob := env.connect("b")
	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	require.NoError(t, bob.conn.Join(ctx, "r1", "Bob"))
	alice.frames(t)
	bob.frames(t)

	var wg sync.WaitGroup
	for _, c := range []*testClient{alice, bob} {
		wg.Add(1)
		go func(c *testClient) {
			defer wg.Done()
			for i := range 20 {
				_, err := c.conn.Message(ctx, "r1", fmt.Sprintf("%s-%d", c.conn.ID(), i))
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Wait()

	stored, err := env.store.Store.Recent(ctx, "r1", 100)
	require.NoError(t, err)
	require.Len(t, stored, 40)

	for _, c := range []*testClient{alice, bob} {
		frames := c.frames(t)
		require.Len(t, frames, 40)
		for i, f := range frames {
			assert.Equal(t, stored[i].ID, f.message(t).ID, "frame %d out of order for %s", i, c.conn.ID())
		}
	}
}

func TestManager_ConcurrentLastLeaveAndJoin(t *testing.T) {
	for i := range 50 {
		t.Run(fmt.Sprintf("iteration-%d", i), func(t *testing.T) {
			env := setupTestEnv(t)
			ctx := context.Background()

			old := env.connect("old")
			require.NoError(t, old.conn.Join(ctx, "r1", "Old"))
			_, err := old.conn.Message(ctx, "r1", "before")
			require.NoError(t, err)

			newcomer := env.connect("new")

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				old.conn.Disconnect(ctx)
			}()
			go func() {
				defer wg.Done()
				assert.NoError(t, newcomer.conn.Join(ctx, "r1", "New"))
			}()
			wg.Wait()

			assert.Equal(t, 1, env.registry.MemberCount("r1"))
			assert.Equal(t, []string{"new"}, env.registry.Members("r1"))

			// The newcomer's history frame tells which order won; the store must agree.
			hist := newcomer.frames(t)[0].history(t)
			stored := env.historyLen(t, "r1")
			switch len(hist) {
			case 0:
				assert.Equal(t, 0, stored, "fresh room must have empty history")
			case 1:
				assert.Equal(t, 1, stored, "surviving room must keep its history")
			default:
				t.Fatalf("unexpected history length %d", len(hist))
			}
		})
	}
}

func TestManager_DuplicateCleanupDecrementsOnce(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	bob := env.connect("b")
	carol := env.connect("c")
	for _, c := range []*testClient{alice, bob, carol} {
		require.NoError(t, c.conn.Join(ctx, "r1", c.conn.ID()))
	}
	require.Equal(t, 3, env.registry.MemberCount("r1"))

	alice.conn.Leave(ctx)
	alice.conn.Disconnect(ctx)
	alice.conn.Leave(ctx)

	assert.Equal(t, 2, env.registry.MemberCount("r1"))

	bob.frames(t)
	bob.conn.Disconnect(ctx)
	frames := carol.frames(t)
	var leaves int
	for _, f := range frames {
		if f.Type == FrameNotice && f.notice(t) == "a left." {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves)
	assert.Equal(t, 1, env.registry.MemberCount("r1"))

	state, room := alice.conn.State()
	assert.Equal(t, StateClosed, state)
	assert.Empty(t, room)
}

func TestManager_DroppedMessages(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	alice.frames(t)

	tests := []struct {
		name    string
		roomID  string
		text    string
		wantErr error
	}{
		{name: "empty text", roomID: "r1", text: ""},
		{name: "empty room", roomID: "", text: "hi"},
		{name: "oversized text", roomID: "r1", text: string(make([]byte, MaxTextLength+1))},
		{name: "other room", roomID: "r2", text: "hi", wantErr: ErrNotMember},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := alice.conn.Message(ctx, tt.roomID, tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, msg)
			assert.Empty(t, alice.frames(t))
		})
	}

	assert.Equal(t, 0, env.historyLen(t, "r1"))

	msg, err := env.manager.SendMessage(ctx, "r1", "a", "Alice", "")
	assert.NoError(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, 0, env.historyLen(t, "r1"))
}

func TestManager_UnboundMessageRejected(t *testing.T) {
	env := setupTestEnv(t)

	c := env.connect("a")
	_, err := c.conn.Message(context.Background(), "r1", "hi")
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, 0, env.historyLen(t, "r1"))
}

func TestManager_StoreFailures(t *testing.T) {
	t.Run("history read failure still joins", func(t *testing.T) {
		env := setupTestEnv(t)
		ctx := context.Background()
		env.store.set(func(s *flakyStore) { s.failRecent = true })

		alice := env.connect("a")
		require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))

		frames := alice.frames(t)
		require.Len(t, frames, 2)
		assert.Empty(t, frames[0].history(t))
		assert.Equal(t, "Alice joined.", frames[1].notice(t))
		assert.Equal(t, 1, env.registry.MemberCount("r1"))
	})

	t.Run("append failure is not broadcast", func(t *testing.T) {
		env := setupTestEnv(t)
		ctx := context.Background()

		alice := env.connect("a")
		require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
		alice.frames(t)
		env.store.set(func(s *flakyStore) { s.failAppend = true })

		msg, err := alice.conn.Message(ctx, "r1", "hi")
		assert.ErrorIs(t, err, errStoreDown)
		assert.Nil(t, msg)
		assert.Empty(t, alice.frames(t))
	})

	t.Run("delete failure still clears presence and is reaped later", func(t *testing.T) {
		env := setupTestEnv(t)
		ctx := context.Background()

		alice := env.connect("a")
		require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
		_, err := alice.conn.Message(ctx, "r1", "hi")
		require.NoError(t, err)

		env.store.set(func(s *flakyStore) { s.failDelete = true })
		alice.conn.Disconnect(ctx)

		assert.Equal(t, 0, env.registry.MemberCount("r1"))
		assert.Empty(t, env.registry.Rooms())
		assert.Equal(t, 1, env.historyLen(t, "r1"))

		env.store.set(func(s *flakyStore) { s.failDelete = false })
		reaped, err := env.manager.ReapOrphans(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, reaped)
		assert.Equal(t, 0, env.historyLen(t, "r1"))
	})
}

func TestManager_RebindLeavesOldRoom(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	bob := env.connect("b")
	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	_, err := alice.conn.Message(ctx, "r1", "hi")
	require.NoError(t, err)
	require.NoError(t, bob.conn.Join(ctx, "r2", "Bob"))
	alice.frames(t)
	bob.frames(t)

	// Same room again is ignored.
	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	assert.Empty(t, alice.frames(t))
	assert.Equal(t, 1, env.registry.MemberCount("r1"))

	require.NoError(t, alice.conn.Join(ctx, "r2", "Alice"))

	assert.Equal(t, 0, env.registry.MemberCount("r1"))
	assert.Equal(t, 0, env.historyLen(t, "r1"), "abandoned room must be destroyed")
	assert.Equal(t, 2, env.registry.MemberCount("r2"))

	state, room := alice.conn.State()
	assert.Equal(t, StateBound, state)
	assert.Equal(t, "r2", room)

	frames := bob.frames(t)
	require.Len(t, frames, 1)
	assert.Equal(t, "Alice joined.", frames[0].notice(t))

	_, err = alice.conn.Message(ctx, "r1", "stale")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestManager_ClosedConnectionIgnoresEvents(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	require.NoError(t, alice.conn.Join(ctx, "r1", "Alice"))
	alice.conn.Leave(ctx)

	assert.ErrorIs(t, alice.conn.Join(ctx, "r1", "Alice"), ErrConnectionClosed)
	_, err := alice.conn.Message(ctx, "r1", "hi")
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.Equal(t, 0, env.registry.MemberCount("r1"))
}

func TestManager_ReapOrphansSkipsOccupiedRooms(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	alice := env.connect("a")
	require.NoError(t, alice.conn.Join(ctx, "busy", "Alice"))
	_, err := alice.conn.Message(ctx, "busy", "still here")
	require.NoError(t, err)

	_, err = env.store.Append(ctx, "orphan", "Ghost", "left behind")
	require.NoError(t, err)

	reaped, err := env.manager.ReapOrphans(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, reaped)
	assert.Equal(t, 1, env.historyLen(t, "busy"))
	assert.Equal(t, 0, env.historyLen(t, "orphan"))
}

func TestNormalizeDisplayName(t *testing.T) {
	long := ""
	for range MaxDisplayNameLength + 10 {
		long += "é"
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Alice", want: "Alice"},
		{name: "trimmed", in: "  Bob  ", want: "Bob"},
		{name: "empty", in: "", want: domain.DefaultDisplayName},
		{name: "whitespace", in: "   ", want: domain.DefaultDisplayName},
		{name: "truncated by runes", in: long, want: long[:MaxDisplayNameLength*len("é")]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeDisplayName(tt.in))
		})
	}
}

type recordingPublisher struct {
	noopPublisher

	mu      sync.Mutex
	reasons []string
}

func (p *recordingPublisher) UserLeft(evt events.UserLeftEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reasons = append(p.reasons, evt.Reason)
}

func TestManager_LeaveReasonsMatchEvents(t *testing.T) {
	env := setupTestEnv(t)
	pub := &recordingPublisher{}
	env.manager = NewManager(Options{
		Registry:     env.registry,
		Store:        env.store,
		Router:       env.router,
		Publisher:    pub,
		HistoryLimit: 100,
		Logger:       &mockLogger{},
	})
	ctx := context.Background()

	a := env.connect("a")
	require.NoError(t, a.conn.Join(ctx, "r1", "Alice"))
	require.NoError(t, a.conn.Join(ctx, "r2", "Alice"))
	a.conn.Leave(ctx)

	b := env.connect("b")
	require.NoError(t, b.conn.Join(ctx, "r1", "Bob"))
	b.conn.Disconnect(ctx)

	assert.Equal(t, []string{
		events.LeaveReasonRebind,
		events.LeaveReasonExplicit,
		events.LeaveReasonAbrupt,
	}, pub.reasons)
}
