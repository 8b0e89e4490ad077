package channel

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNoRequesterWindow is returned when a send is attempted while no
// requester window is attached.
var ErrNoRequesterWindow = errors.New("no requester window attached")

// websocketWriteTimeout bounds a single outbound write.
const websocketWriteTimeout = 3 * time.Second

// WebsocketTransport carries protocol envelopes over a websocket to the
// requester page. One page connection is active at a time: the requester
// window that opened the wallet.
//
// Origin semantics mirror window messaging: the sender origin of inbound
// messages is taken from the connection's Origin header, and an outbound
// envelope addressed to a non-matching origin is dropped silently.
type WebsocketTransport struct {
	upgrader websocket.Upgrader

	handlers   Handlers
	handlersMu sync.RWMutex

	conn       *websocket.Conn
	connOrigin string
	connMu     sync.Mutex

	// writeMu serializes writes to the connection.
	writeMu sync.Mutex
}

// NewWebsocketTransport creates a websocket transport. Attach it to an HTTP
// mux via ServeHTTP.
func NewWebsocketTransport() *WebsocketTransport {
	return &WebsocketTransport{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: websocketWriteTimeout,
			// The channel's own validation decides which origins
			// it answers; the handshake accepts everyone.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Listen registers the inbound handlers.
func (t *WebsocketTransport) Listen(handlers Handlers) {
	t.handlersMu.Lock()
	defer t.handlersMu.Unlock()

	t.handlers = handlers
}

// Send delivers an envelope to the attached requester window. An envelope
// addressed to an origin other than the connection's is dropped.
func (t *WebsocketTransport) Send(targetOrigin string, env Envelope) error {
	t.connMu.Lock()
	conn := t.conn
	connOrigin := t.connOrigin
	t.connMu.Unlock()

	if conn == nil {
		return ErrNoRequesterWindow
	}

	if targetOrigin != WildcardOrigin && targetOrigin != connOrigin {
		log.Debugf("Dropping %s envelope addressed to %s, "+
			"requester origin is %s", env.Method, targetOrigin,
			connOrigin)
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(websocketWriteTimeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}

	return conn.WriteJSON(env)
}

// ServeHTTP upgrades an incoming request to a websocket connection and
// pumps its messages into the registered handler. A new connection replaces
// any previous one.
func (t *WebsocketTransport) ServeHTTP(w http.ResponseWriter,
	r *http.Request) {

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("Websocket upgrade failed: %v", err)
		return
	}

	origin := r.Header.Get("Origin")

	t.connMu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.conn = conn
	t.connOrigin = origin
	t.connMu.Unlock()

	log.Infof("Requester window attached from origin %q", origin)

	t.handlersMu.RLock()
	handlers := t.handlers
	t.handlersMu.RUnlock()

	if handlers.OnConnect != nil {
		handlers.OnConnect()
	}

	t.readLoop(conn, origin, handlers)
}

// readLoop delivers inbound envelopes until the connection dies.
func (t *WebsocketTransport) readLoop(conn *websocket.Conn, origin string,
	handlers Handlers) {

	defer func() {
		t.connMu.Lock()
		if t.conn == conn {
			t.conn = nil
			t.connOrigin = ""
		}
		t.connMu.Unlock()

		_ = conn.Close()
	}()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
			) {

				log.Debugf("Requester connection from %q "+
					"closed: %v", origin, err)
			}
			return
		}

		if handlers.OnMessage != nil {
			handlers.OnMessage(env, origin)
		}
	}
}

// Close tears down the active connection, if any.
func (t *WebsocketTransport) Close() error {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn == nil {
		return nil
	}

	err := t.conn.Close()
	t.conn = nil
	t.connOrigin = ""

	return err
}

// Compile time check.
var _ Transport = (*WebsocketTransport)(nil)
