// Package app wires the process-local session registry to the durable
// party store and hosts the playback coordinator.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/metrics"
)

// SessionRegistry maps a party code to its live channel. Purely in-memory;
// durable membership lives in the party record, not here. Injected into the
// coordinator so tests can run several coordinators without shared globals.
type SessionRegistry struct {
	mu       sync.RWMutex
	channels map[domain.PartyCode]core.PartyChannel
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{channels: make(map[domain.PartyCode]core.PartyChannel)}
}

func (r *SessionRegistry) getOrCreate(code domain.PartyCode) core.PartyChannel {
	r.mu.RLock()
	ch, ok := r.channels[code]
	r.mu.RUnlock()
	if ok {
		return ch
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok = r.channels[code]; ok {
		return ch
	}
	ch = core.NewPartyChannel(code)
	r.channels[code] = ch
	return ch
}

func (r *SessionRegistry) Attach(h *core.Handle) {
	r.getOrCreate(h.Code).Attach(h)
	metrics.AttachedConnections.Inc()
}

// Detach is idempotent; the channel entry is pruned once the last handle
// for the party is gone.
func (r *SessionRegistry) Detach(h *core.Handle) {
	r.mu.RLock()
	ch, ok := r.channels[h.Code]
	r.mu.RUnlock()
	if !ok {
		return
	}
	before := ch.HandleCount()
	ch.Detach(h.ID)
	if before == ch.HandleCount() {
		return
	}
	metrics.AttachedConnections.Dec()

	if ch.HandleCount() == 0 {
		r.mu.Lock()
		if cur, ok := r.channels[h.Code]; ok && cur.HandleCount() == 0 {
			delete(r.channels, h.Code)
			log.Info().Str("module", "app.registry").Str("party", string(h.Code)).Msg("pruned empty channel")
		}
		r.mu.Unlock()
	}
}

// Targets returns the handles currently attached for code, skipping
// excluding when non-empty.
func (r *SessionRegistry) Targets(code domain.PartyCode, excluding core.ConnID) []*core.Handle {
	r.mu.RLock()
	ch, ok := r.channels[code]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return ch.Targets(excluding)
}

func (r *SessionRegistry) Broadcast(code domain.PartyCode, excluding core.ConnID, data core.Frame) core.PublishResult {
	r.mu.RLock()
	ch, ok := r.channels[code]
	r.mu.RUnlock()
	if !ok {
		return core.PublishResult{}
	}
	return ch.Broadcast(excluding, data)
}

func (r *SessionRegistry) HandleCount(code domain.PartyCode) int {
	r.mu.RLock()
	ch, ok := r.channels[code]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	return ch.HandleCount()
}
