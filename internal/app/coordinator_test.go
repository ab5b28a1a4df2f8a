package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/store"
)

// fakeConn records every frame pushed to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
}

func newFakeConn() *fakeConn { return &fakeConn{} }

func (f *fakeConn) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeConn) Close() {}

func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.frames))
	for _, fr := range f.frames {
		var m map[string]any
		if err := json.Unmarshal(fr, &m); err != nil {
			t.Fatalf("decode frame %q: %v", fr, err)
		}
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) lastEvent(t *testing.T) map[string]any {
	t.Helper()
	evts := f.events(t)
	if len(evts) == 0 {
		t.Fatal("no frames received")
	}
	return evts[len(evts)-1]
}

func (f *fakeConn) countType(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, e := range f.events(t) {
		if e["type"] == typ {
			n++
		}
	}
	return n
}

// memStore is an in-memory PartyStore with injectable swap conflicts.
type memStore struct {
	mu        sync.Mutex
	parties   map[domain.PartyCode]*store.Versioned
	failSwaps int
}

func newMemStore() *memStore {
	return &memStore{parties: make(map[domain.PartyCode]*store.Versioned)}
}

func (s *memStore) Create(_ context.Context, p *domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.parties[p.Code]; ok {
		return store.ErrExists
	}
	cp := *p
	s.parties[p.Code] = &store.Versioned{Party: cp, Version: 1}
	return nil
}

func (s *memStore) Load(_ context.Context, code domain.PartyCode) (*store.Versioned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.parties[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	cp.Party.Members = append([]domain.Member(nil), v.Party.Members...)
	return &cp, nil
}

func (s *memStore) CompareAndSwap(_ context.Context, code domain.PartyCode, expected int64, p *domain.Party) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSwaps > 0 {
		s.failSwaps--
		return store.ErrConflict
	}
	v, ok := s.parties[code]
	if !ok {
		return store.ErrNotFound
	}
	if v.Version != expected {
		return store.ErrConflict
	}
	cp := *p
	s.parties[code] = &store.Versioned{Party: cp, Version: expected + 1}
	return nil
}

func (s *memStore) ListActiveByMember(_ context.Context, uid domain.UserID) ([]store.Versioned, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Versioned
	for _, v := range s.parties {
		if v.Party.Active && v.Party.IsMember(uid) {
			out = append(out, *v)
		}
	}
	return out, nil
}

type fixture struct {
	coord *Coordinator
	store *memStore
	code  domain.PartyCode
	now   time.Time
}

// newFixture stores party ABC12345 with host u1 and member u2 and a
// ticking fake clock.
func newFixture(t *testing.T, allowMemberControl bool) *fixture {
	t.Helper()
	st := newMemStore()
	f := &fixture{
		store: st,
		now:   time.Unix(1700000000, 0),
	}
	coord := NewCoordinator(st, NewSessionRegistry())
	coord.Now = func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}
	f.coord = coord

	p := domain.NewParty("movie night", "custom", "u1", domain.DefaultSettings(), f.now)
	p.Code = "ABC12345"
	p.Settings.AllowMemberControl = allowMemberControl
	if err := p.AddMember("u2", f.now.Add(time.Minute)); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := st.Create(context.Background(), p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.code = p.Code
	return f
}

func (f *fixture) attach(t *testing.T, uid domain.UserID) (*core.Handle, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	h, err := f.coord.Attach(context.Background(), f.code, uid, conn)
	if err != nil {
		t.Fatalf("Attach %s: %v", uid, err)
	}
	return h, conn
}

func (f *fixture) playback(t *testing.T) domain.PlaybackState {
	t.Helper()
	v, err := f.store.Load(context.Background(), f.code)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return v.Party.Playback
}

func TestAttachSendsStateAndNotifiesOthers(t *testing.T) {
	f := newFixture(t, true)

	_, conn1 := f.attach(t, "u1")
	_, conn2 := f.attach(t, "u2")

	first := conn1.events(t)[0]
	if first["type"] != EvtPartyState {
		t.Fatalf("first frame type = %v, want %s", first["type"], EvtPartyState)
	}
	if first["code"] != "ABC12345" || first["host"] != "u1" {
		t.Fatalf("party state = %+v", first)
	}

	// u1 hears about u2's attach; u2 only gets its own snapshot.
	if n := conn1.countType(t, EvtMemberJoined); n != 1 {
		t.Fatalf("u1 member-joined count = %d, want 1", n)
	}
	if n := conn2.countType(t, EvtMemberJoined); n != 0 {
		t.Fatalf("u2 member-joined count = %d, want 0", n)
	}
}

func TestAttachRejectsNonMember(t *testing.T) {
	f := newFixture(t, true)

	conn := newFakeConn()
	_, err := f.coord.Attach(context.Background(), f.code, "stranger", conn)
	if !errors.Is(err, domain.ErrNotAMember) {
		t.Fatalf("error = %v, want ErrNotAMember", err)
	}
	if len(conn.events(t)) != 0 {
		t.Fatal("rejected attach must not receive any frames")
	}
	if got := f.coord.Sessions.HandleCount(f.code); got != 0 {
		t.Fatalf("registry handles = %d, want 0 after rejected attach", got)
	}
}

func TestAttachUnknownParty(t *testing.T) {
	f := newFixture(t, true)
	_, err := f.coord.Attach(context.Background(), "NOPE1234", "u1", newFakeConn())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestDetachNotifiesRemaining(t *testing.T) {
	f := newFixture(t, true)
	h1, conn1 := f.attach(t, "u1")
	_, conn2 := f.attach(t, "u2")

	f.coord.Detach(h1)

	if n := conn2.countType(t, EvtMemberLeft); n != 1 {
		t.Fatalf("u2 member-left count = %d, want 1", n)
	}
	if n := conn1.countType(t, EvtMemberLeft); n != 0 {
		t.Fatalf("u1 member-left count = %d, want 0", n)
	}
	// Idempotent.
	f.coord.Detach(h1)
	if n := conn2.countType(t, EvtMemberLeft); n != 1 {
		t.Fatalf("member-left after duplicate detach = %d, want 1", n)
	}
}

func TestHostCommandBroadcastToEveryone(t *testing.T) {
	f := newFixture(t, false)
	_, conn1 := f.attach(t, "u1")
	_, conn2 := f.attach(t, "u2")

	if err := f.coord.Pause(context.Background(), f.code, "u1", 42); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	for name, conn := range map[string]*fakeConn{"u1": conn1, "u2": conn2} {
		last := conn.lastEvent(t)
		if last["type"] != EvtVideoPause {
			t.Fatalf("%s last event = %+v, want %s", name, last, EvtVideoPause)
		}
		if last["position"] != 42.0 || last["actor"] != "u1" {
			t.Fatalf("%s pause payload = %+v", name, last)
		}
	}

	ps := f.playback(t)
	if ps.IsPlaying || ps.Position != 42 || ps.UpdatedBy != "u1" {
		t.Fatalf("stored playback = %+v", ps)
	}
}

func TestNonHostCommandForbidden(t *testing.T) {
	f := newFixture(t, false)
	_, conn1 := f.attach(t, "u1")
	f.attach(t, "u2")

	before := f.playback(t)
	err := f.coord.Pause(context.Background(), f.code, "u2", 42)
	if !errors.Is(err, core.ErrForbidden) {
		t.Fatalf("error = %v, want ErrForbidden", err)
	}

	after := f.playback(t)
	if after != before {
		t.Fatalf("playback changed on forbidden command: %+v -> %+v", before, after)
	}
	if n := conn1.countType(t, EvtVideoPause); n != 0 {
		t.Fatalf("forbidden command broadcast %d frames", n)
	}
}

func TestMemberControlWhenAllowed(t *testing.T) {
	f := newFixture(t, true)
	f.attach(t, "u1")
	f.attach(t, "u2")

	if err := f.coord.Play(context.Background(), f.code, "u2", 10); err != nil {
		t.Fatalf("Play: %v", err)
	}
	ps := f.playback(t)
	if !ps.IsPlaying || ps.Position != 10 || ps.UpdatedBy != "u2" {
		t.Fatalf("stored playback = %+v", ps)
	}
}

func TestSeekKeepsPlayFlag(t *testing.T) {
	f := newFixture(t, true)
	f.attach(t, "u1")

	if err := f.coord.Play(context.Background(), f.code, "u1", 5); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := f.coord.Seek(context.Background(), f.code, "u1", 120); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	ps := f.playback(t)
	if !ps.IsPlaying || ps.Position != 120 {
		t.Fatalf("playback after seek = %+v, want playing at 120", ps)
	}
}

func TestUpdatedAtMonotonic(t *testing.T) {
	f := newFixture(t, true)
	f.attach(t, "u1")

	if err := f.coord.Play(context.Background(), f.code, "u1", 5); err != nil {
		t.Fatalf("Play: %v", err)
	}
	first := f.playback(t).UpdatedAt

	// Clock jumps backwards; updatedAt must not.
	f.coord.Now = func() time.Time { return first.Add(-time.Hour) }
	if err := f.coord.Pause(context.Background(), f.code, "u1", 6); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if got := f.playback(t).UpdatedAt; got.Before(first) {
		t.Fatalf("updatedAt regressed: %v < %v", got, first)
	}
}

func TestRequestSyncIdempotent(t *testing.T) {
	f := newFixture(t, false)
	h, conn := f.attach(t, "u2") // read-only escape hatch works without control rights

	if err := f.coord.RequestSync(context.Background(), h); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	if err := f.coord.RequestSync(context.Background(), h); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}

	var syncs []map[string]any
	for _, e := range conn.events(t) {
		if e["type"] == EvtVideoSync {
			syncs = append(syncs, e)
		}
	}
	if len(syncs) != 2 {
		t.Fatalf("sync replies = %d, want 2", len(syncs))
	}
	for i, s := range syncs {
		if s["position"] != 0.0 || s["is_playing"] != false {
			t.Fatalf("sync %d = %+v, want position 0 paused", i, s)
		}
	}
}

func TestConflictRetriesOnceThenSucceeds(t *testing.T) {
	f := newFixture(t, true)
	f.attach(t, "u1")

	f.store.failSwaps = 1
	if err := f.coord.Play(context.Background(), f.code, "u1", 30); err != nil {
		t.Fatalf("Play with one conflict should retry and succeed, got %v", err)
	}
	if ps := f.playback(t); ps.Position != 30 {
		t.Fatalf("playback = %+v, want position 30", ps)
	}
}

func TestConflictExhaustsRetry(t *testing.T) {
	f := newFixture(t, true)
	_, conn := f.attach(t, "u1")

	f.store.failSwaps = 2
	err := f.coord.Play(context.Background(), f.code, "u1", 30)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if n := conn.countType(t, EvtVideoPlay); n != 0 {
		t.Fatalf("failed command broadcast %d frames", n)
	}
}

func TestContentChangeResetsPlayback(t *testing.T) {
	f := newFixture(t, true)
	h, _ := f.attach(t, "u1")

	if err := f.coord.Play(context.Background(), f.code, "u1", 900); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if _, err := f.coord.SetContent(context.Background(), f.code, "u2", domain.Content{
		ID: "c2", Title: "Episode 2", URL: "https://example.com/e2", Type: "series",
	}); err != nil {
		t.Fatalf("SetContent: %v", err)
	}

	// Any subsequent sync must show the reset state.
	if err := f.coord.RequestSync(context.Background(), h); err != nil {
		t.Fatalf("RequestSync: %v", err)
	}
	conn := h.Conn.(*fakeConn)
	last := conn.lastEvent(t)
	if last["type"] != EvtVideoSync || last["position"] != 0.0 || last["is_playing"] != false {
		t.Fatalf("sync after content change = %+v, want paused at zero", last)
	}
	if ps := f.playback(t); ps.UpdatedBy != "u2" {
		t.Fatalf("reset attribution = %+v, want u2", ps)
	}
}

func TestJoinEnforcesCapacity(t *testing.T) {
	f := newFixture(t, true)

	ctx := context.Background()
	v, err := f.store.Load(ctx, f.code)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	v.Party.Settings.MaxMembers = 2 // u1 and u2 already fill it
	if err := f.store.CompareAndSwap(ctx, f.code, v.Version, &v.Party); err != nil {
		t.Fatalf("CompareAndSwap: %v", err)
	}

	if _, err := f.coord.Join(ctx, f.code, "u3"); !errors.Is(err, domain.ErrPartyFull) {
		t.Fatalf("error = %v, want ErrPartyFull", err)
	}
	// And the rejection happened before any channel registration.
	if got := f.coord.Sessions.HandleCount(f.code); got != 0 {
		t.Fatalf("registry handles = %d, want 0", got)
	}
}

func TestLeaveReassignsHost(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	v, err := f.coord.Leave(ctx, f.code, "u1")
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if v.Party.Host != "u2" || !v.Party.Active {
		t.Fatalf("after host leave: host=%s active=%v, want u2/true", v.Party.Host, v.Party.Active)
	}

	v, err = f.coord.Leave(ctx, f.code, "u2")
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if v.Party.Active {
		t.Fatal("party must retire when the last member leaves")
	}
}

func TestMessageRelay(t *testing.T) {
	f := newFixture(t, true)
	_, conn1 := f.attach(t, "u1")
	_, conn2 := f.attach(t, "u2")

	f.coord.Message(f.code, "u2", "hello")

	for name, conn := range map[string]*fakeConn{"u1": conn1, "u2": conn2} {
		last := conn.lastEvent(t)
		if last["type"] != EvtNewMessage || last["text"] != "hello" || last["actor"] != "u2" {
			t.Fatalf("%s chat event = %+v", name, last)
		}
	}
}

func TestCreateParty(t *testing.T) {
	f := newFixture(t, true)

	p, err := f.coord.CreateParty(context.Background(), "second", "custom", "u5", domain.Settings{})
	if err != nil {
		t.Fatalf("CreateParty: %v", err)
	}
	if p.Host != "u5" || !p.IsMember("u5") || !p.Active {
		t.Fatalf("created party = %+v", p)
	}
	if p.Settings.MaxMembers <= 0 {
		t.Fatalf("zero max members not defaulted: %+v", p.Settings)
	}
	if _, err := f.store.Load(context.Background(), p.Code); err != nil {
		t.Fatalf("created party not persisted: %v", err)
	}
}
