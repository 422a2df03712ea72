package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
	"github.com/osmanzeki/Twitch-Discord-Bot/state"
	"github.com/osmanzeki/Twitch-Discord-Bot/telemetry"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
)

type fakeStreams struct {
	mu        sync.Mutex
	streams   map[string][]twitchapi.Stream
	streamErr map[string]error
	profiles  map[string]*twitchapi.Channel
	queries   int
	// hook runs inside GetStreams, used to mutate state mid-cycle
	hook func(login string)
}

func (f *fakeStreams) GetStreams(_ context.Context, login string) ([]twitchapi.Stream, error) {
	f.mu.Lock()
	f.queries++
	hook := f.hook
	err := f.streamErr[login]
	s := f.streams[login]
	f.mu.Unlock()
	if hook != nil {
		hook(login)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeStreams) FindChannel(_ context.Context, login string) (*twitchapi.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.profiles[login]; ok {
		return p, nil
	}
	return nil, apierr.NotFound("fake search", fmt.Errorf("no %s", login))
}

type sinkCall struct {
	Op        string
	ChannelID string
	MessageID string
	N         Notification
}

type fakeSink struct {
	mu        sync.Mutex
	calls     []sinkCall
	nextID    int
	sendErr   error
	updateErr error
}

func (f *fakeSink) Send(_ context.Context, channelID string, n Notification) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{Op: "send", ChannelID: channelID, N: n})
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	return fmt.Sprintf("msg-%d", f.nextID), nil
}

func (f *fakeSink) Update(_ context.Context, channelID, messageID string, n Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sinkCall{Op: "update", ChannelID: channelID, MessageID: messageID, N: n})
	return f.updateErr
}

func (f *fakeSink) ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, c := range f.calls {
		out = append(out, c.Op)
	}
	return out
}

type memStore struct {
	mu    sync.Mutex
	doc   *state.Document
	saves int
}

func (m *memStore) Load(context.Context) (*state.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doc.Clone(), nil
}

func (m *memStore) Save(_ context.Context, doc *state.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.doc = doc.Clone()
	return nil
}

func newManager(t *testing.T, entries ...state.WatchEntry) (*state.Manager, *memStore) {
	t.Helper()
	store := &memStore{doc: &state.Document{
		Discord: state.DiscordConfig{ChannelID: "chan-1"},
		Twitch:  state.TwitchConfig{Channels: entries},
	}}
	m, err := state.NewManager(context.Background(), store)
	require.NoError(t, err)
	return m, store
}

func liveAlice(id string, viewers int) *fakeStreams {
	return &fakeStreams{
		streams: map[string][]twitchapi.Stream{
			"alice": {{ID: id, UserLogin: "alice", UserName: "Alice", Title: "Playing X", GameName: "X", ViewerCount: viewers}},
		},
		profiles: map[string]*twitchapi.Channel{
			"alice": {BroadcasterLogin: "alice", ThumbnailURL: "https://img/alice.png"},
		},
	}
}

func entry(t *testing.T, m *state.Manager, name string) state.WatchEntry {
	t.Helper()
	e := m.Snapshot().Entry(name)
	require.NotNil(t, e)
	return *e
}

func TestReconcile_NewSessionPosts(t *testing.T) {
	m, store := newManager(t, state.WatchEntry{ChannelName: "alice"})
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("123", 5), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Posted)
	require.Equal(t, []string{"send"}, sink.ops())
	assert.Equal(t, "chan-1", sink.calls[0].ChannelID)
	assert.Equal(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "msg-1"}, entry(t, m, "alice"))
	assert.Equal(t, 1, store.saves)
}

func TestReconcile_SameSessionUpdates(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "m1"})
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("123", 42), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Updated)
	require.Equal(t, []string{"update"}, sink.ops())
	assert.Equal(t, "m1", sink.calls[0].MessageID)
	assert.Equal(t, "42", sink.calls[0].N.Fields[1].Value)
	assert.Equal(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "m1"}, entry(t, m, "alice"))
}

func TestReconcile_MissingMessageResets(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "m1"})
	sink := &fakeSink{updateErr: apierr.NotFound("discord fetch", errors.New("unknown message"))}
	eng := NewEngine(liveAlice("123", 1), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Reset)
	assert.Equal(t, []string{"update"}, sink.ops(), "no post in the reset cycle")
	assert.Equal(t, state.WatchEntry{ChannelName: "alice"}, entry(t, m, "alice"))

	// the next cycle treats the session as new
	sink.updateErr = nil
	sum = eng.Reconcile(context.Background())
	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, []string{"update", "send"}, sink.ops())
	assert.Equal(t, "123", entry(t, m, "alice").StreamID)
}

func TestReconcile_OtherUpdateErrorKeepsIDs(t *testing.T) {
	m, store := newManager(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "m1"})
	sink := &fakeSink{updateErr: apierr.Transport("discord edit", errors.New("timeout"))}
	eng := NewEngine(liveAlice("123", 1), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, state.WatchEntry{ChannelName: "alice", StreamID: "123", MessageID: "m1"}, entry(t, m, "alice"))
	assert.Zero(t, store.saves)
}

func TestReconcile_Idempotent(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice"})
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("123", 1), sink, m)

	eng.Reconcile(context.Background())
	eng.Reconcile(context.Background())

	assert.Equal(t, []string{"send", "update"}, sink.ops())
	assert.Equal(t, "msg-1", sink.calls[1].MessageID)
}

func TestReconcile_OfflineNoCalls(t *testing.T) {
	m, store := newManager(t,
		state.WatchEntry{ChannelName: "alice"},
		state.WatchEntry{ChannelName: "bob", StreamID: "9", MessageID: "m9"},
	)
	sink := &fakeSink{}
	streams := &fakeStreams{streams: map[string][]twitchapi.Stream{}}
	eng := NewEngine(streams, sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 2, sum.Skipped)
	assert.Empty(t, sink.ops())
	assert.Zero(t, store.saves)
	assert.Equal(t, "m9", entry(t, m, "bob").MessageID, "offline keeps the tracked ids")
}

func TestReconcile_NewSessionReplacesOld(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice", StreamID: "100", MessageID: "m-old"})
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("200", 1), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, []string{"send"}, sink.ops())
	assert.Equal(t, state.WatchEntry{ChannelName: "alice", StreamID: "200", MessageID: "msg-1"}, entry(t, m, "alice"))
}

func TestReconcile_SameStreamEmptyMessagePosts(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice", StreamID: "123"})
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("123", 1), sink, m)

	sum := eng.Reconcile(context.Background())

	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, []string{"send"}, sink.ops())
	assert.Equal(t, "msg-1", entry(t, m, "alice").MessageID)
}

func TestReconcile_ProfileNotFoundSkips(t *testing.T) {
	m, store := newManager(t, state.WatchEntry{ChannelName: "alice"})
	streams := liveAlice("123", 1)
	streams.profiles = nil
	sink := &fakeSink{}
	sum := NewEngine(streams, sink, m).Reconcile(context.Background())

	assert.Equal(t, 1, sum.Skipped)
	assert.Empty(t, sink.ops())
	assert.Zero(t, store.saves)
}

func TestReconcile_QueryErrorIsolated(t *testing.T) {
	m, _ := newManager(t,
		state.WatchEntry{ChannelName: "broken"},
		state.WatchEntry{ChannelName: "alice"},
	)
	streams := liveAlice("123", 1)
	streams.streamErr = map[string]error{"broken": apierr.Auth("helix streams", errors.New("401"))}
	sink := &fakeSink{}

	sum := NewEngine(streams, sink, m).Reconcile(context.Background())

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, state.WatchEntry{ChannelName: "broken"}, entry(t, m, "broken"))
	assert.Equal(t, "123", entry(t, m, "alice").StreamID)
}

func TestReconcile_PanicIsolated(t *testing.T) {
	m, store := newManager(t,
		state.WatchEntry{ChannelName: "broken"},
		state.WatchEntry{ChannelName: "alice"},
	)
	streams := liveAlice("123", 1)
	streams.hook = func(login string) {
		if login == "broken" {
			panic("decoder exploded")
		}
	}
	sink := &fakeSink{}

	var sum Summary
	require.NotPanics(t, func() { sum = NewEngine(streams, sink, m).Reconcile(context.Background()) })

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Posted)
	assert.Equal(t, []string{"send"}, sink.ops())
	assert.Equal(t, state.WatchEntry{ChannelName: "broken"}, entry(t, m, "broken"))
	assert.Equal(t, "msg-1", entry(t, m, "alice").MessageID)
	assert.Equal(t, 1, store.saves)
}

func TestReconcile_RecordsDuration(t *testing.T) {
	telemetry.Init()
	hist, ok := telemetry.ReconcileDuration.(prometheus.Metric)
	require.True(t, ok)
	count := func() uint64 {
		var metric dto.Metric
		require.NoError(t, hist.Write(&metric))
		return metric.GetHistogram().GetSampleCount()
	}
	before := count()

	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice"})
	sum := NewEngine(liveAlice("123", 1), &fakeSink{}, m).Reconcile(context.Background())

	assert.Equal(t, before+1, count())
	assert.Positive(t, sum.Duration)
}

func TestReconcile_SendErrorNoMutation(t *testing.T) {
	m, store := newManager(t, state.WatchEntry{ChannelName: "alice"})
	sink := &fakeSink{sendErr: apierr.Transport("discord send", errors.New("boom"))}
	sum := NewEngine(liveAlice("123", 1), sink, m).Reconcile(context.Background())

	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, state.WatchEntry{ChannelName: "alice"}, entry(t, m, "alice"))
	assert.Zero(t, store.saves)
}

func TestReconcile_EmptyNameSkipped(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: ""})
	streams := liveAlice("123", 1)
	sum := NewEngine(streams, &fakeSink{}, m).Reconcile(context.Background())
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, streams.queries)
}

func TestReconcile_RemovedDuringCycleDropsResult(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice"})
	streams := liveAlice("123", 1)
	streams.hook = func(string) {
		_, err := m.RemoveChannel(context.Background(), "alice")
		assert.NoError(t, err)
	}
	sink := &fakeSink{}
	NewEngine(streams, sink, m).Reconcile(context.Background())

	assert.Equal(t, []string{"send"}, sink.ops())
	assert.Nil(t, m.Snapshot().Entry("alice"), "removed entry must not come back")
}

func TestReconcile_RoleMentionOnPostOnly(t *testing.T) {
	store := &memStore{doc: &state.Document{
		Discord: state.DiscordConfig{ChannelID: "chan-1", RoleID: "r1"},
		Twitch:  state.TwitchConfig{Channels: []state.WatchEntry{{ChannelName: "alice"}}},
	}}
	m, err := state.NewManager(context.Background(), store)
	require.NoError(t, err)
	sink := &fakeSink{}
	eng := NewEngine(liveAlice("123", 1), sink, m)

	eng.Reconcile(context.Background())
	eng.Reconcile(context.Background())

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "<@&r1>", sink.calls[0].N.Content)
	assert.Empty(t, sink.calls[1].N.Content)
}

func TestReconcile_NoDestinationSkipsAll(t *testing.T) {
	store := &memStore{doc: &state.Document{Twitch: state.TwitchConfig{Channels: []state.WatchEntry{{ChannelName: "alice"}}}}}
	m, err := state.NewManager(context.Background(), store)
	require.NoError(t, err)
	streams := liveAlice("123", 1)
	sum := NewEngine(streams, &fakeSink{}, m).Reconcile(context.Background())
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, streams.queries)
}

type blockingStreams struct {
	*fakeStreams
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingStreams) GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error) {
	n := b.inFlight.Add(1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	b.inFlight.Add(-1)
	return nil, nil
}

func TestReconcile_ConcurrencyBounded(t *testing.T) {
	entries := []state.WatchEntry{}
	for i := 0; i < 10; i++ {
		entries = append(entries, state.WatchEntry{ChannelName: fmt.Sprintf("c%d", i)})
	}
	m, _ := newManager(t, entries...)
	streams := &blockingStreams{fakeStreams: &fakeStreams{}}
	sum := NewEngine(streams, &fakeSink{}, m, WithConcurrency(2)).Reconcile(context.Background())

	assert.Equal(t, 10, sum.Skipped)
	assert.LessOrEqual(t, streams.peak.Load(), int32(2))
}

func TestReconcile_FreshNonceEachRender(t *testing.T) {
	m, _ := newManager(t, state.WatchEntry{ChannelName: "alice"})
	sink := &fakeSink{}
	n := 0
	eng := NewEngine(liveAlice("123", 1), sink, m, WithNonce(func() string {
		n++
		return fmt.Sprintf("n%d", n)
	}))
	eng.Reconcile(context.Background())
	eng.Reconcile(context.Background())

	require.Len(t, sink.calls, 2)
	assert.NotEqual(t, sink.calls[0].N.ImageURL, sink.calls[1].N.ImageURL)
	assert.Contains(t, sink.calls[1].N.ImageURL, "cacheBypass=n2")
}
