package link

import (
	"golang.org/x/net/websocket"
)

// Websocket carries the byte stream in binary websocket messages.
// Message boundaries are not significant.
type Websocket struct {
	conn *websocket.Conn
	buf  []byte
}

// NewWebsocket wraps websocket.Conn.
func NewWebsocket(conn *websocket.Conn) *Websocket {
	return &Websocket{conn: conn}
}

// DialWebsocket connects to a websocket serial bridge.
func DialWebsocket(url string) (*Websocket, error) {
	conn, err := websocket.Dial(url, "", "http://localhost/")
	if err != nil {
		return nil, err
	}
	return NewWebsocket(conn), nil
}

// Read implements io.Reader.
func (w *Websocket) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		if err := websocket.Message.Receive(w.conn, &w.buf); err != nil {
			return 0, err
		}
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

// Write implements io.Writer.
func (w *Websocket) Write(p []byte) (int, error) {
	if err := websocket.Message.Send(w.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements io.Closer.
func (w *Websocket) Close() error {
	return w.conn.Close()
}
