// Package wsr binds remotes.Transport to a websocket relay: a gateway
// server that bridges each subscribed topic to the wider network on the
// clone's behalf. It is the transport of choice for clones that cannot
// run a libp2p host directly (behind restrictive NATs, in browsers, in
// short-lived jobs).
package wsr

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/clerrors"
)

const pingInterval = 30 * time.Second

// Transport is a remotes.Transport that opens one websocket connection
// per topic against a gateway's pubsub relay endpoint.
type Transport struct {
	gatewayURL string
	dialer     *websocket.Dialer
	log        *zap.Logger

	mu    sync.Mutex
	conns map[string]*topicConn
}

type topicConn struct {
	conn     *websocket.Conn
	cancel   context.CancelFunc
	handler  func([]byte)
	writeMu  sync.Mutex
}

// New constructs a Transport that relays through gatewayURL, e.g.
// "wss://gateway.example.org/pubsub/ws".
func New(gatewayURL string, log *zap.Logger) *Transport {
	return &Transport{
		gatewayURL: gatewayURL,
		dialer:     websocket.DefaultDialer,
		log:        log,
		conns:      make(map[string]*topicConn),
	}
}

func (t *Transport) dial(topic string) (*websocket.Conn, error) {
	u, err := url.Parse(t.gatewayURL)
	if err != nil {
		return nil, clerrors.Wrap(err, "parse gateway url")
	}
	q := u.Query()
	q.Set("topic", topic)
	u.RawQuery = q.Encode()

	conn, _, err := t.dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, clerrors.Wrap(err, fmt.Sprintf("dial gateway for topic %s", topic))
	}
	return conn, nil
}

func (t *Transport) connFor(ctx context.Context, topic string) (*topicConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tc, ok := t.conns[topic]; ok {
		return tc, nil
	}
	conn, err := t.dial(topic)
	if err != nil {
		return nil, err
	}
	connCtx, cancel := context.WithCancel(context.Background())
	tc := &topicConn{conn: conn, cancel: cancel}
	t.conns[topic] = tc
	t.pump(connCtx, topic, tc)
	return tc, nil
}

// pump starts the writer keepalive and reader dispatch loops for one
// topic connection.
func (t *Transport) pump(ctx context.Context, topic string, tc *topicConn) {
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tc.writeMu.Lock()
				_ = tc.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
				tc.writeMu.Unlock()
			}
		}
	}()

	go func() {
		defer func() {
			tc.conn.Close()
			t.mu.Lock()
			if t.conns[topic] == tc {
				delete(t.conns, topic)
			}
			t.mu.Unlock()
		}()
		for {
			mt, data, err := tc.conn.ReadMessage()
			if err != nil {
				t.log.Debug("websocket relay connection closed", zap.String("topic", topic), zap.Error(err))
				return
			}
			if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
				continue
			}
			t.mu.Lock()
			h := tc.handler
			t.mu.Unlock()
			if h != nil {
				h(data)
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
}

// Publish implements remotes.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	tc, err := t.connFor(ctx, topic)
	if err != nil {
		return err
	}
	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()
	return tc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Subscribe implements remotes.Transport.
func (t *Transport) Subscribe(ctx context.Context, topic string, h func(data []byte)) error {
	tc, err := t.connFor(ctx, topic)
	if err != nil {
		return err
	}
	t.mu.Lock()
	tc.handler = h
	t.mu.Unlock()
	return nil
}

// Unsubscribe implements remotes.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	tc, ok := t.conns[topic]
	if ok {
		delete(t.conns, topic)
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	tc.cancel()
	return tc.conn.Close()
}

// Close implements remotes.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[string]*topicConn)
	t.mu.Unlock()

	for _, tc := range conns {
		tc.cancel()
		tc.conn.Close()
	}
	return nil
}
