package signal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/domain"
)

func (ctl *Controller) handleAttach(ctx context.Context, sess *connSession, c *wsConn, data []byte) {
	var p struct {
		Type      string `json:"type"`
		PartyCode string `json:"party_code"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.PartyCode == "" {
		ctl.sendError(c, "bad payload")
		return
	}
	code := domain.PartyCode(p.PartyCode)

	// Re-attaching to another party implicitly leaves the current one,
	// mirroring a leave before join.
	if sess.handle != nil {
		ctl.Coord.Detach(sess.handle)
		sess.handle = nil
	}

	h, err := ctl.Coord.Attach(ctx, code, sess.uid, c)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("party", p.PartyCode).
			Str("user", string(sess.uid)).Msg("attach rejected")
		ctl.reportErr(c, err)
		return
	}
	sess.handle = h
	log.Info().Str("module", "signal").Str("party", p.PartyCode).
		Str("user", string(sess.uid)).Msg("attached")
}

// handleDetach is the explicit leave; the connection itself stays open.
func (ctl *Controller) handleDetach(sess *connSession, c *wsConn) {
	if sess.handle == nil {
		ctl.sendError(c, "not attached to a party")
		return
	}
	log.Info().Str("module", "signal").Str("party", string(sess.handle.Code)).
		Str("user", string(sess.uid)).Msg("detached")
	ctl.Coord.Detach(sess.handle)
	sess.handle = nil
	ctl.sendJSON(c, map[string]any{"type": "detached"})
}

func (ctl *Controller) handleMessage(sess *connSession, c *wsConn, data []byte) {
	var p struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad payload")
		return
	}
	if strings.TrimSpace(p.Text) == "" {
		ctl.sendError(c, "empty message")
		return
	}
	if sess.handle == nil {
		ctl.sendError(c, "not attached to a party")
		return
	}
	ctl.Coord.Message(sess.handle.Code, sess.uid, p.Text)
}
