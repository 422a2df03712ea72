// Package watch reconciles the watch list against Twitch: for every entry it
// decides whether an announcement has to be posted, refreshed or forgotten,
// drives the chat sink accordingly and records the outcome in the state store.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/osmanzeki/Twitch-Discord-Bot/apierr"
	"github.com/osmanzeki/Twitch-Discord-Bot/state"
	"github.com/osmanzeki/Twitch-Discord-Bot/telemetry"
	"github.com/osmanzeki/Twitch-Discord-Bot/twitchapi"
)

// DefaultConcurrency bounds the entries polled at the same time.
const DefaultConcurrency = 4

// StreamSource answers live status and profile queries.
type StreamSource interface {
	GetStreams(ctx context.Context, login string) ([]twitchapi.Stream, error)
	FindChannel(ctx context.Context, login string) (*twitchapi.Channel, error)
}

// Sink posts and edits announcements. Update must return an apierr NotFound
// error when the message no longer exists.
type Sink interface {
	Send(ctx context.Context, channelID string, n Notification) (string, error)
	Update(ctx context.Context, channelID, messageID string, n Notification) error
}

// StateStore is the configuration document as the engine sees it.
type StateStore interface {
	Snapshot() *state.Document
	Update(ctx context.Context, fn func(doc *state.Document) error) error
}

// Action is the per-entry outcome of one cycle.
type Action string

const (
	ActionSkip   Action = "skip"
	ActionPost   Action = "post"
	ActionUpdate Action = "update"
	ActionReset  Action = "reset"
	ActionError  Action = "error"
)

// Summary counts the outcomes of one cycle.
type Summary struct {
	Entries  int
	Skipped  int
	Posted   int
	Updated  int
	Reset    int
	Errors   int
	Duration time.Duration
}

func (s *Summary) add(a Action) {
	switch a {
	case ActionSkip:
		s.Skipped++
	case ActionPost:
		s.Posted++
	case ActionUpdate:
		s.Updated++
	case ActionReset:
		s.Reset++
	case ActionError:
		s.Errors++
	}
}

// Engine runs reconciliation cycles. It holds no state of its own between
// cycles; everything persistent lives in the StateStore.
type Engine struct {
	streams     StreamSource
	sink        Sink
	state       StateStore
	concurrency int
	nonce       func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency sets how many entries are processed in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithNonce replaces the cache-busting value generator (tests).
func WithNonce(f func() string) Option {
	return func(e *Engine) {
		if f != nil {
			e.nonce = f
		}
	}
}

// NewEngine wires an engine to its collaborators.
func NewEngine(streams StreamSource, sink Sink, st StateStore, opts ...Option) *Engine {
	e := &Engine{
		streams:     streams,
		sink:        sink,
		state:       st,
		concurrency: DefaultConcurrency,
		nonce:       uuid.NewString,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// destination is the part of the document every entry task needs.
type destination struct {
	channelID string
	roleID    string
}

// Reconcile runs one cycle over a snapshot of the watch list and returns once
// every entry has settled. Failures are handled per entry and never abort the
// cycle.
func (e *Engine) Reconcile(ctx context.Context) Summary {
	ctx, span := telemetry.StartSpan(ctx, "watch", "watch.reconcile")
	defer span.End()

	telemetry.Init()
	telemetry.ReconcileCycles.Inc()

	var sum Summary
	sum.Duration = telemetry.TimeFunc(telemetry.ReconcileDuration, func() {
		sum = e.cycle(ctx)
	})

	span.SetAttributes(
		attribute.Int("entries", sum.Entries),
		attribute.Int("posted", sum.Posted),
		attribute.Int("updated", sum.Updated),
		attribute.Int("reset", sum.Reset),
		attribute.Int("errors", sum.Errors),
	)
	slog.Debug("reconcile cycle complete",
		slog.String("component", "watch"),
		slog.Int("entries", sum.Entries),
		slog.Int("posted", sum.Posted),
		slog.Int("updated", sum.Updated),
		slog.Int("reset", sum.Reset),
		slog.Int("errors", sum.Errors),
		slog.Duration("duration", sum.Duration))
	return sum
}

func (e *Engine) cycle(ctx context.Context) Summary {
	snap := e.state.Snapshot()
	entries := snap.Twitch.Channels
	sum := Summary{Entries: len(entries)}
	dest := destination{channelID: snap.Discord.ChannelID, roleID: snap.Discord.RoleID}

	if dest.channelID == "" && len(entries) > 0 {
		slog.Warn("no discord channel configured, skipping cycle", slog.String("component", "watch"))
		sum.Skipped = len(entries)
		return sum
	}

	results := make([]Action, len(entries))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			results[i] = e.safeEntry(ctx, dest, entry)
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	for _, a := range results {
		sum.add(a)
		telemetry.CountNotification(string(a))
	}

	tracked := 0
	after := e.state.Snapshot()
	for _, en := range after.Twitch.Channels {
		if en.Tracking() {
			tracked++
		}
	}
	telemetry.SetWatchGauges(len(after.Twitch.Channels), tracked)
	return sum
}

// safeEntry isolates a panicking entry from the rest of the cycle.
func (e *Engine) safeEntry(ctx context.Context, dest destination, entry state.WatchEntry) (a Action) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while reconciling entry",
				slog.String("component", "watch"),
				slog.String("channel", entry.ChannelName),
				slog.Any("panic", r))
			a = ActionError
		}
	}()
	return e.reconcileEntry(ctx, dest, entry)
}

func (e *Engine) reconcileEntry(ctx context.Context, dest destination, entry state.WatchEntry) Action {
	if entry.ChannelName == "" {
		return ActionSkip
	}
	ctx, span := telemetry.StartSpan(ctx, "watch", "watch.entry", attribute.String("channel", entry.ChannelName))
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(
		slog.String("component", "watch"),
		slog.String("channel", entry.ChannelName))

	streams, err := e.streams.GetStreams(ctx, entry.ChannelName)
	if err != nil {
		e.failure(log, "stream query failed", err)
		telemetry.RecordError(span, err)
		return ActionError
	}
	if len(streams) == 0 {
		return ActionSkip
	}
	stream := streams[0]

	profile, err := e.streams.FindChannel(ctx, entry.ChannelName)
	if err != nil {
		if apierr.IsNotFound(err) {
			log.Warn("channel profile not found, cannot render announcement")
			return ActionSkip
		}
		e.failure(log, "channel profile query failed", err)
		telemetry.RecordError(span, err)
		return ActionError
	}

	n := Render(stream, *profile, entry, e.nonce())

	if entry.StreamID == stream.ID && entry.MessageID != "" {
		err := e.sink.Update(ctx, dest.channelID, entry.MessageID, n)
		if err == nil {
			log.Debug("announcement refreshed", slog.String("message_id", entry.MessageID))
			telemetry.SetSpanSuccess(span)
			return ActionUpdate
		}
		if !apierr.IsNotFound(err) {
			e.failure(log, "announcement update failed", err)
			telemetry.RecordError(span, err)
			return ActionError
		}
		log.Info("announcement message is gone, resetting entry", slog.String("message_id", entry.MessageID))
		if err := e.apply(ctx, entry, "", ""); err != nil {
			log.Error("failed to persist reset", slog.Any("err", err))
			return ActionError
		}
		return ActionReset
	}

	if entry.StreamID == stream.ID {
		log.Warn("tracked stream has no message id, posting a new announcement", slog.String("stream_id", stream.ID))
	}
	if dest.roleID != "" {
		n.Content = RoleMention(dest.roleID)
	}
	msgID, err := e.sink.Send(ctx, dest.channelID, n)
	if err != nil {
		e.failure(log, "announcement post failed", err)
		telemetry.RecordError(span, err)
		return ActionError
	}
	if err := e.apply(ctx, entry, stream.ID, msgID); err != nil {
		log.Error("failed to persist new announcement", slog.String("message_id", msgID), slog.Any("err", err))
		return ActionError
	}
	log.Info("stream went live, announcement posted",
		slog.String("stream_id", stream.ID),
		slog.String("message_id", msgID))
	telemetry.SetSpanSuccess(span)
	return ActionPost
}

// errEntryChanged means the entry was edited or removed while the task ran.
var errEntryChanged = errors.New("watch entry changed during cycle")

// apply records new ids on the entry, but only if it still holds the ids this
// task observed. A concurrent remove or edit wins over the cycle's result.
func (e *Engine) apply(ctx context.Context, observed state.WatchEntry, streamID, messageID string) error {
	err := e.state.Update(ctx, func(doc *state.Document) error {
		cur := doc.Entry(observed.ChannelName)
		if cur == nil || cur.StreamID != observed.StreamID || cur.MessageID != observed.MessageID {
			return errEntryChanged
		}
		if cur.StreamID == streamID && cur.MessageID == messageID {
			return state.ErrNoChange
		}
		cur.StreamID = streamID
		cur.MessageID = messageID
		return nil
	})
	if errors.Is(err, errEntryChanged) {
		slog.Warn("entry changed while reconciling, result dropped",
			slog.String("component", "watch"),
			slog.String("channel", observed.ChannelName),
			slog.String("message_id", messageID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s: %w", observed.ChannelName, err)
	}
	return nil
}

func (e *Engine) failure(log *slog.Logger, msg string, err error) {
	kind := apierr.KindOf(err)
	telemetry.CountPollError(kind.String())
	log.Warn(msg, slog.String("kind", kind.String()), slog.Any("err", err))
}
