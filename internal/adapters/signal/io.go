package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

func (ch *Channel) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				ch.logger.Debug().Str("conn_id", c.id).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ch.opts.WriteTimeout)); err != nil {
				ch.logger.Error().Err(err).Str("conn_id", c.id).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				ch.logger.Error().Err(err).Str("conn_id", c.id).Msg("writePump write error")
				return
			}
		}
	}
}

// readPump dispatches frames in arrival order until the connection fails.
func (ch *Channel) readPump(c *WsSignalConn) error {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			ch.logger.Info().Err(err).Str("conn_id", c.id).Msg("readPump closing")
			return err
		}
		ch.Dispatch(data)
	}
}
