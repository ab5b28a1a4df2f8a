package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/app"
	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/store"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, sess *connSession, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(sess.uid)).Msg("readPump closing")
		ctl.Coord.Detach(sess.handle)
		sess.handle = nil
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("user", string(sess.uid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("user", string(sess.uid)).Msg("readPump read error")
				return
			}
			ctl.dispatch(ctx, sess, c, data)
		}
	}
}

func (ctl *Controller) dispatch(ctx context.Context, sess *connSession, c *wsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(c, "bad payload")
		return
	}

	switch env.Type {
	case "attach":
		ctl.handleAttach(ctx, sess, c, data)
	case "detach":
		ctl.handleDetach(sess, c)
	case "play":
		ctl.handlePlayback(ctx, sess, c, data, app.EvtVideoPlay)
	case "pause":
		ctl.handlePlayback(ctx, sess, c, data, app.EvtVideoPause)
	case "seek":
		ctl.handlePlayback(ctx, sess, c, data, app.EvtVideoSeek)
	case "request-sync":
		ctl.handleRequestSync(ctx, sess, c)
	case "message":
		ctl.handleMessage(sess, c, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown command")
		ctl.sendError(c, "unknown command")
	}
}

func (ctl *Controller) sendJSON(c *wsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(core.Frame(b))
}

// sendError delivers the failure to the offending connection only; the
// connection stays open. Every rejected command yields exactly one of these.
func (ctl *Controller) sendError(c *wsConn, msg string) {
	ctl.sendJSON(c, app.ErrorEvent{Type: app.EvtError, Message: msg})
}

func (ctl *Controller) reportErr(c *wsConn, err error) {
	switch {
	case errors.Is(err, core.ErrForbidden):
		ctl.sendError(c, "only the host can control playback")
	case errors.Is(err, domain.ErrNotAMember):
		ctl.sendError(c, "not a member of this party")
	case errors.Is(err, store.ErrNotFound):
		ctl.sendError(c, "party not found")
	case errors.Is(err, store.ErrConflict):
		ctl.sendError(c, "concurrent update, retry")
	default:
		ctl.sendError(c, "command failed")
	}
}
