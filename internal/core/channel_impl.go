package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/domain"
)

// channelImpl is a threadsafe in-memory channel. The lock covers only this
// party's handle set, so unrelated parties never contend.
type channelImpl struct {
	code    domain.PartyCode
	mu      sync.RWMutex
	handles map[ConnID]*Handle
}

func NewPartyChannel(code domain.PartyCode) PartyChannel {
	return &channelImpl{
		code:    code,
		handles: make(map[ConnID]*Handle),
	}
}

func (c *channelImpl) Code() domain.PartyCode { return c.code }

func (c *channelImpl) HandleCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}

func (c *channelImpl) Attach(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[h.ID] = h
	log.Info().Str("module", "core.channel").Str("party", string(c.code)).
		Str("conn", string(h.ID)).Str("user", string(h.User)).Msg("handle attached")
}

func (c *channelImpl) Detach(id ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handles, id)
	log.Info().Str("module", "core.channel").Str("party", string(c.code)).
		Str("conn", string(id)).Msg("handle detached")
}

func (c *channelImpl) Targets(excluding ConnID) []*Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Handle, 0, len(c.handles))
	for id, h := range c.handles {
		if excluding != "" && id == excluding {
			continue
		}
		out = append(out, h)
	}
	return out
}

func (c *channelImpl) Broadcast(excluding ConnID, data Frame) PublishResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := PublishResult{}
	for id, h := range c.handles {
		if excluding != "" && id == excluding {
			continue
		}
		if err := h.Conn.TrySend(data); err != nil {
			res.Dropped++
			continue
		}
		res.SentTo++
	}
	log.Debug().Str("module", "core.channel").Str("party", string(c.code)).
		Int("sent_to", res.SentTo).Int("dropped", res.Dropped).Msg("broadcast result")
	return res
}
