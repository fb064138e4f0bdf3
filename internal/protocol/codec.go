package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

// Codec frames JSON control-channel messages onto a websocket
// connection. Reads accept both TEXT and BINARY messages (spec §4.5);
// writes always use TEXT, so outbound framing is consistent regardless
// of what the peer sends. A single Codec is safe for one reader and
// many concurrent writers.
type Codec struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewCodec wraps a websocket connection with frame encoding/decoding and
// applies the protocol's per-frame size cap.
func NewCodec(conn *websocket.Conn) *Codec {
	conn.SetReadLimit(MaxFrameSize)
	return &Codec{conn: conn}
}

// WriteFrame serialises v (one of the frame payload types) and sends it
// as a TEXT websocket message.
func (c *Codec) WriteFrame(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds maximum %d", len(data), MaxFrameSize)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame reads one websocket message, accepting either TEXT or
// BINARY encoding, and decodes it into its concrete frame type.
func (c *Codec) ReadFrame() (any, error) {
	msgType, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading websocket message: %w", err)
	}
	if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
		return nil, fmt.Errorf("unexpected websocket message type: %d", msgType)
	}
	return Decode(data)
}

// WriteControlPing sends a transport-level ping control frame.
func (c *Codec) WriteControlPing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, deadlineNow())
}

// Underlying returns the wrapped websocket connection, for callers that
// need to install pong/close handlers or set deadlines.
func (c *Codec) Underlying() *websocket.Conn {
	return c.conn
}

// Close closes the underlying websocket connection.
func (c *Codec) Close() error {
	return c.conn.Close()
}
