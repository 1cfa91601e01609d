package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// transportEvents are the raw events a binding reports. The Supervisor
// wires each binding to closures that carry that binding's generation,
// so events from a discarded binding are recognized and dropped.
type transportEvents struct {
	onOpen  func()
	onClose func(code int, reason string)
	onError func(err error)
	onFrame func(data []byte)
}

// transport owns one full-duplex connection. open is asynchronous: the
// outcome arrives as an onOpen or onError event.
type transport interface {
	open()
	send(data []byte) error
	close(code int)
}

// dialFunc creates a binding for one connection attempt. Tests substitute
// a fake; production uses newWSBinding.
type dialFunc func(url string, ev transportEvents) transport

// wsBinding is the gorilla/websocket transport.
type wsBinding struct {
	url string
	ev  transportEvents

	handshakeTimeout time.Duration
	writeTimeout     time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func newWSBindingDialer(handshakeTimeout, writeTimeout time.Duration) dialFunc {
	return func(url string, ev transportEvents) transport {
		return &wsBinding{
			url:              url,
			ev:               ev,
			handshakeTimeout: handshakeTimeout,
			writeTimeout:     writeTimeout,
		}
	}
}

// open dials in the background and starts the read loop on success.
func (b *wsBinding) open() {
	go func() {
		dialer := websocket.Dialer{
			HandshakeTimeout: b.handshakeTimeout,
		}

		conn, _, err := dialer.Dial(b.url, nil)
		if err != nil {
			b.ev.onError(err)
			return
		}

		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			conn.Close()
			return
		}
		b.conn = conn
		b.mu.Unlock()

		b.ev.onOpen()
		b.readLoop(conn)
	}()
}

// send writes one text frame.
func (b *wsBinding) send(data []byte) error {
	b.mu.Lock()
	conn := b.conn
	closed := b.closed
	b.mu.Unlock()

	if conn == nil || closed {
		return ErrNotConnected
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// close tears the binding down with the given close code. Idempotent;
// events after close are suppressed.
func (b *wsBinding) close(code int) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}
}

// readLoop delivers frames in arrival order until the connection dies.
func (b *wsBinding) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			closed := b.closed
			b.mu.Unlock()
			if closed {
				return
			}

			if ce, ok := err.(*websocket.CloseError); ok {
				b.ev.onClose(ce.Code, ce.Text)
			} else {
				b.ev.onError(err)
			}
			return
		}

		b.ev.onFrame(data)
	}
}
