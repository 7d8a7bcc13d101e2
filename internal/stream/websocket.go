package stream

import (
	"context"

	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

type wsTransport struct {
	conn *websocket.Conn
}

// WebsocketDialer is the default Dialer.
func WebsocketDialer(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Read(ctx context.Context) ([]byte, error) {
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *wsTransport) Write(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "close")
}
