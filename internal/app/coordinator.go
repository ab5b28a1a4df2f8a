package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/metrics"
	"github.com/pairview/watchparty/internal/store"
)

const createCodeAttempts = 3

// Coordinator is the playback state machine. Every accepted command is one
// atomic load-validate-swap against the store; the broadcast goes out only
// after the write committed, so the fan-out order any connection observes
// matches the store's commit order for that party.
type Coordinator struct {
	Store    store.PartyStore
	Sessions *SessionRegistry
	Now      func() time.Time
}

func NewCoordinator(st store.PartyStore, sessions *SessionRegistry) *Coordinator {
	return &Coordinator{Store: st, Sessions: sessions, Now: time.Now}
}

func (c *Coordinator) clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// mutate runs one read-modify-write cycle against the store, retrying a
// conflicted swap exactly once with a fresh read. No in-process lock is
// held across the store round trip.
func (c *Coordinator) mutate(ctx context.Context, code domain.PartyCode, fn func(*domain.Party) error) (*store.Versioned, error) {
	for attempt := 0; ; attempt++ {
		v, err := c.Store.Load(ctx, code)
		if err != nil {
			return nil, err
		}
		if err := fn(&v.Party); err != nil {
			return nil, err
		}
		err = c.Store.CompareAndSwap(ctx, code, v.Version, &v.Party)
		if err == nil {
			v.Version++
			return v, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt > 0 {
			return nil, err
		}
		log.Warn().Str("module", "app.coordinator").Str("party", string(code)).Msg("swap conflict, retrying with fresh read")
	}
}

// Attach admits an authenticated identity into a party's live channel.
// Membership is checked against the durable record before anything touches
// the registry; on success the new handle alone receives the full party
// state and everyone else hears member-joined.
func (c *Coordinator) Attach(ctx context.Context, code domain.PartyCode, uid domain.UserID, conn core.SignalConnection) (*core.Handle, error) {
	v, err := c.Store.Load(ctx, code)
	if err != nil {
		return nil, err
	}
	if !v.Party.IsMember(uid) {
		return nil, domain.ErrNotAMember
	}

	h := &core.Handle{
		ID:   core.ConnID(uuid.NewString()),
		User: uid,
		Code: code,
		Conn: conn,
	}
	c.Sessions.Attach(h)

	if err := conn.TrySend(encode(newPartyStateEvent(&v.Party))); err != nil {
		log.Warn().Err(err).Str("module", "app.coordinator").Str("conn", string(h.ID)).Msg("party state send dropped")
	}
	c.Sessions.Broadcast(code, h.ID, encode(MemberEvent{Type: EvtMemberJoined, User: uid}))
	return h, nil
}

// Detach removes the handle and notifies the rest of the party. Best
// effort on both counts; a nil or already-detached handle is a no-op.
func (c *Coordinator) Detach(h *core.Handle) {
	if h == nil {
		return
	}
	c.Sessions.Detach(h)
	c.Sessions.Broadcast(h.Code, h.ID, encode(MemberEvent{Type: EvtMemberLeft, User: h.User}))
}

func (c *Coordinator) Play(ctx context.Context, code domain.PartyCode, uid domain.UserID, position float64) error {
	return c.control(ctx, code, uid, EvtVideoPlay, position)
}

func (c *Coordinator) Pause(ctx context.Context, code domain.PartyCode, uid domain.UserID, position float64) error {
	return c.control(ctx, code, uid, EvtVideoPause, position)
}

func (c *Coordinator) Seek(ctx context.Context, code domain.PartyCode, uid domain.UserID, position float64) error {
	return c.control(ctx, code, uid, EvtVideoSeek, position)
}

func (c *Coordinator) control(ctx context.Context, code domain.PartyCode, uid domain.UserID, evt string, position float64) error {
	var when time.Time
	_, err := c.mutate(ctx, code, func(p *domain.Party) error {
		if !p.CanControl(uid) {
			return core.ErrForbidden
		}
		when = c.clock()
		// updatedAt is monotonically non-decreasing per party even if the
		// wall clock hiccups.
		if when.Before(p.Playback.UpdatedAt) {
			when = p.Playback.UpdatedAt
		}
		next := p.Playback
		next.Position = position
		next.UpdatedAt = when
		next.UpdatedBy = uid
		switch evt {
		case EvtVideoPlay:
			next.IsPlaying = true
		case EvtVideoPause:
			next.IsPlaying = false
		case EvtVideoSeek:
			// play/pause flag unchanged
		}
		p.Playback = next
		return nil
	})
	if err != nil {
		metrics.CommandsTotal.WithLabelValues(evt, "rejected").Inc()
		return err
	}

	c.Sessions.Broadcast(code, "", encode(PlaybackEvent{
		Type:      evt,
		Position:  position,
		Timestamp: millis(when),
		Actor:     uid,
	}))
	metrics.CommandsTotal.WithLabelValues(evt, "accepted").Inc()
	log.Info().Str("module", "app.coordinator").Str("party", string(code)).
		Str("event", evt).Float64("position", position).Str("actor", string(uid)).Msg("playback command applied")
	return nil
}

// RequestSync replies with the store's current view, unicast to the
// requesting handle only. Read-only and unconditional: any attached member
// may re-anchor itself regardless of control rights.
func (c *Coordinator) RequestSync(ctx context.Context, h *core.Handle) error {
	v, err := c.Store.Load(ctx, h.Code)
	if err != nil {
		return err
	}
	return h.Conn.TrySend(encode(SyncEvent{
		Type:      EvtVideoSync,
		Position:  v.Party.Playback.Position,
		IsPlaying: v.Party.Playback.IsPlaying,
		Timestamp: millis(c.clock()),
	}))
}

// Message relays free-form chat verbatim to the whole party. No
// persistence, no validation beyond non-empty (the adapter enforces that).
func (c *Coordinator) Message(code domain.PartyCode, uid domain.UserID, text string) {
	c.Sessions.Broadcast(code, "", encode(ChatEvent{
		Type:      EvtNewMessage,
		Actor:     uid,
		Text:      text,
		Timestamp: millis(c.clock()),
	}))
}

// CreateParty mints a fresh record with the creator as host and first
// member. Regenerates the code on the unlikely collision.
func (c *Coordinator) CreateParty(ctx context.Context, name, service string, host domain.UserID, settings domain.Settings) (*domain.Party, error) {
	var lastErr error
	for i := 0; i < createCodeAttempts; i++ {
		p := domain.NewParty(name, service, host, settings, c.clock())
		if err := c.Store.Create(ctx, p); err != nil {
			if errors.Is(err, store.ErrExists) {
				lastErr = err
				continue
			}
			return nil, err
		}
		log.Info().Str("module", "app.coordinator").Str("party", string(p.Code)).Str("host", string(host)).Msg("party created")
		return p, nil
	}
	return nil, lastErr
}

// Join adds uid to the durable membership list, enforcing capacity before
// any real-time attach can happen.
func (c *Coordinator) Join(ctx context.Context, code domain.PartyCode, uid domain.UserID) (*store.Versioned, error) {
	return c.mutate(ctx, code, func(p *domain.Party) error {
		if !p.Active {
			return store.ErrNotFound
		}
		return p.AddMember(uid, c.clock())
	})
}

// Leave removes uid from the durable membership list; host reassignment
// and retirement happen inside the same swap.
func (c *Coordinator) Leave(ctx context.Context, code domain.PartyCode, uid domain.UserID) (*store.Versioned, error) {
	return c.mutate(ctx, code, func(p *domain.Party) error {
		return p.RemoveMember(uid)
	})
}

// SetContent replaces the loaded content, resetting playback to a paused
// zero position in the same write. Members pick the reset up via
// request-sync; no broadcast is sent.
func (c *Coordinator) SetContent(ctx context.Context, code domain.PartyCode, uid domain.UserID, content domain.Content) (*store.Versioned, error) {
	return c.mutate(ctx, code, func(p *domain.Party) error {
		if !p.IsMember(uid) {
			return domain.ErrNotAMember
		}
		p.SetContent(content, uid, c.clock())
		return nil
	})
}
