package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPartyFull     = errors.New("party is full")
	ErrAlreadyMember = errors.New("already a member of this party")
	ErrNotAMember    = errors.New("not a member of this party")
)

type PartyCode string

// NewPartyCode generates a short shareable code, e.g. "3F2A9C41".
func NewPartyCode() PartyCode {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return PartyCode(strings.ToUpper(raw[:8]))
}

// Member is one durable membership entry. Unique by User within a party.
type Member struct {
	User     UserID    `json:"user"`
	JoinedAt time.Time `json:"joined_at"`
}

// Content describes what is currently loaded. Replaced wholesale, never
// patched field by field.
type Content struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// PlaybackState is the single shared mutable value all members converge on.
type PlaybackState struct {
	IsPlaying bool      `json:"is_playing"`
	Position  float64   `json:"position"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy UserID    `json:"updated_by"`
}

type Settings struct {
	MaxMembers         int  `json:"max_members"`
	AllowMemberControl bool `json:"allow_member_control"`
	RequireAuth        bool `json:"require_auth"`
}

func DefaultSettings() Settings {
	return Settings{MaxMembers: 10, AllowMemberControl: true, RequireAuth: true}
}

// Party is the durable record for one watch session.
type Party struct {
	Code      PartyCode     `json:"code"`
	Name      string        `json:"name"`
	Service   string        `json:"service"`
	Host      UserID        `json:"host"`
	Members   []Member      `json:"members"`
	Content   *Content      `json:"content,omitempty"`
	Playback  PlaybackState `json:"playback"`
	Settings  Settings      `json:"settings"`
	Active    bool          `json:"active"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewParty creates an active party with the host as its first member.
func NewParty(name, service string, host UserID, settings Settings, now time.Time) *Party {
	if settings.MaxMembers <= 0 {
		settings.MaxMembers = DefaultSettings().MaxMembers
	}
	return &Party{
		Code:      NewPartyCode(),
		Name:      name,
		Service:   service,
		Host:      host,
		Members:   []Member{{User: host, JoinedAt: now}},
		Playback:  PlaybackState{UpdatedAt: now, UpdatedBy: host},
		Settings:  settings,
		Active:    true,
		CreatedAt: now,
	}
}

func (p *Party) IsMember(uid UserID) bool {
	for _, m := range p.Members {
		if m.User == uid {
			return true
		}
	}
	return false
}

// CanControl reports whether uid may issue play/pause/seek commands.
func (p *Party) CanControl(uid UserID) bool {
	return uid == p.Host || p.Settings.AllowMemberControl
}

// AddMember appends uid, enforcing uniqueness and the capacity limit.
func (p *Party) AddMember(uid UserID, now time.Time) error {
	if p.IsMember(uid) {
		return ErrAlreadyMember
	}
	if len(p.Members) >= p.Settings.MaxMembers {
		return ErrPartyFull
	}
	p.Members = append(p.Members, Member{User: uid, JoinedAt: now})
	return nil
}

// RemoveMember drops uid from the membership list. If the host leaves and
// members remain, the earliest-joined remaining member becomes host in the
// same mutation; if nobody remains the party is retired.
func (p *Party) RemoveMember(uid UserID) error {
	if !p.IsMember(uid) {
		return ErrNotAMember
	}
	kept := p.Members[:0]
	for _, m := range p.Members {
		if m.User != uid {
			kept = append(kept, m)
		}
	}
	p.Members = kept

	if len(p.Members) == 0 {
		p.Active = false
		return nil
	}
	if p.Host == uid {
		host := p.Members[0]
		for _, m := range p.Members[1:] {
			if m.JoinedAt.Before(host.JoinedAt) {
				host = m
			}
		}
		p.Host = host.User
	}
	return nil
}

// SetContent replaces the loaded content and resets playback to a paused
// zero position attributed to the actor. The two never change independently
// so members cannot observe a stale position against new content.
func (p *Party) SetContent(c Content, actor UserID, now time.Time) {
	p.Content = &c
	p.Playback = PlaybackState{
		IsPlaying: false,
		Position:  0,
		UpdatedAt: now,
		UpdatedBy: actor,
	}
}
