package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/app"
	"github.com/pairview/watchparty/internal/domain"
)

type playbackPayload struct {
	Type      string  `json:"type"`
	PartyCode string  `json:"party_code"`
	Position  float64 `json:"position"`
}

// partyCode resolves the target party: the payload wins, the current
// attachment is the fallback.
func (ctl *Controller) partyCode(sess *connSession, payload string) (domain.PartyCode, bool) {
	if payload != "" {
		return domain.PartyCode(payload), true
	}
	if sess.handle != nil {
		return sess.handle.Code, true
	}
	return "", false
}

func (ctl *Controller) handlePlayback(ctx context.Context, sess *connSession, c *wsConn, data []byte, evt string) {
	var p playbackPayload
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.sendError(c, "bad payload")
		return
	}
	code, ok := ctl.partyCode(sess, p.PartyCode)
	if !ok {
		ctl.sendError(c, "no party specified")
		return
	}

	var err error
	switch evt {
	case app.EvtVideoPlay:
		err = ctl.Coord.Play(ctx, code, sess.uid, p.Position)
	case app.EvtVideoPause:
		err = ctl.Coord.Pause(ctx, code, sess.uid, p.Position)
	case app.EvtVideoSeek:
		err = ctl.Coord.Seek(ctx, code, sess.uid, p.Position)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("party", string(code)).
			Str("event", evt).Str("user", string(sess.uid)).Msg("playback command rejected")
		ctl.reportErr(c, err)
	}
}

func (ctl *Controller) handleRequestSync(ctx context.Context, sess *connSession, c *wsConn) {
	if sess.handle == nil {
		ctl.sendError(c, "not attached to a party")
		return
	}
	if err := ctl.Coord.RequestSync(ctx, sess.handle); err != nil {
		ctl.reportErr(c, err)
	}
}
