package app

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
)

// Outbound event types. Inbound command names live in the signal adapter.
const (
	EvtPartyState   = "party-state"
	EvtVideoPlay    = "video-play"
	EvtVideoPause   = "video-pause"
	EvtVideoSeek    = "video-seek"
	EvtVideoSync    = "video-sync"
	EvtMemberJoined = "member-joined"
	EvtMemberLeft   = "member-left"
	EvtNewMessage   = "new-message"
	EvtError        = "error"
)

type PlaybackEvent struct {
	Type      string        `json:"type"`
	Position  float64       `json:"position"`
	Timestamp int64         `json:"timestamp"`
	Actor     domain.UserID `json:"actor"`
}

type SyncEvent struct {
	Type      string  `json:"type"`
	Position  float64 `json:"position"`
	IsPlaying bool    `json:"is_playing"`
	Timestamp int64   `json:"timestamp"`
}

type PartyStateEvent struct {
	Type     string               `json:"type"`
	Code     domain.PartyCode     `json:"code"`
	Name     string               `json:"name"`
	Host     domain.UserID        `json:"host"`
	Content  *domain.Content      `json:"content,omitempty"`
	Playback domain.PlaybackState `json:"playback"`
	Members  []domain.Member      `json:"members"`
	Settings domain.Settings      `json:"settings"`
}

type MemberEvent struct {
	Type string        `json:"type"`
	User domain.UserID `json:"user"`
}

type ChatEvent struct {
	Type      string        `json:"type"`
	Actor     domain.UserID `json:"actor"`
	Text      string        `json:"text"`
	Timestamp int64         `json:"timestamp"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newPartyStateEvent(p *domain.Party) PartyStateEvent {
	return PartyStateEvent{
		Type:     EvtPartyState,
		Code:     p.Code,
		Name:     p.Name,
		Host:     p.Host,
		Content:  p.Content,
		Playback: p.Playback,
		Members:  p.Members,
		Settings: p.Settings,
	}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

// encode marshals an event into a frame. Marshalling our own structs only
// fails on programmer error, so a failure is logged and yields a nil frame
// that TrySend treats as an empty message.
func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.events").Msg("encode event")
		return nil
	}
	return core.Frame(b)
}
