package signal

import (
	"context"

	"github.com/dkeye/VoiceClient/internal/proto"
)

// keepalive sends an application-level ping while the connection is open.
// The server answers with "pong", which has no receiver and is dropped.
func (ch *Channel) keepalive(ctx context.Context, c *WsSignalConn) {
	ticker := ch.opts.Clock.Ticker(ch.opts.KeepaliveInterval)
	defer ticker.Stop()

	frame, _ := proto.Encode(proto.TypePing, nil)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.TrySend(frame); err != nil {
				ch.logger.Debug().Err(err).Str("conn_id", c.id).Msg("keepalive dropped")
			}
		}
	}
}
