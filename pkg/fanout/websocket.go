package fanout

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// StreamOptions configures one websocket stream.
type StreamOptions struct {
	UserID string
	// Topics scopes the stream. Nil streams every event on the hub.
	Topics         []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	OriginPatterns []string
}

// ServeWebsocket upgrades the request and streams events until the peer goes
// away, stops answering pings, or falls behind.
func (h *Hub) ServeWebsocket(w http.ResponseWriter, r *http.Request, opts StreamOptions) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", opts.UserID).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	var sub *Subscriber
	scoped := opts.Topics != nil
	if scoped {
		topics := append([]string{UserTopic(opts.UserID)}, opts.Topics...)
		sub = h.Subscribe(topics...)
	} else {
		sub = h.Subscribe()
	}
	defer sub.Close()

	log := h.logger.With().Str("user_id", opts.UserID).Bool("scoped", scoped).Logger()
	log.Info().Int("workspaces", len(opts.Topics)).Msg("websocket stream opened")

	// observers never send; CloseRead keeps control frames flowing for Ping
	ctx := conn.CloseRead(r.Context())

	ticker := time.NewTicker(opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("websocket stream closed by peer")
			return

		case <-sub.Lagged():
			log.Warn().Uint64("dropped", sub.Dropped()).Msg("slow websocket peer disconnected")
			_ = conn.Close(websocket.StatusPolicyViolation, "too slow, re-read and reconnect")
			return

		case e, ok := <-sub.Events():
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			if scoped && e.grantsAccess(opts.UserID) {
				sub.AddTopic(e.WorkspaceID)
			}
			if err := writeEvent(ctx, conn, e, opts.WriteTimeout); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug().Err(err).Msg("websocket write failed")
				}
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e Event, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	e.Origin = ""
	return wsjson.Write(ctx, conn, e)
}
