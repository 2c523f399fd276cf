// Package libp2pr binds remotes.Transport to a libp2p gossipsub host,
// so clones on the same domain discover each other and exchange
// operations, presence and control messages over topics namespaced
// under the domain name.
package libp2pr

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/liveclone/gldb/pkg/clerrors"
)

// Transport is a remotes.Transport backed by a gossipsub host. One
// Transport is shared across all domains a clone participates in;
// namespacing happens in the caller's topic names.
type Transport struct {
	host   host.Host
	ps     *pubsub.PubSub
	log    *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*subscription
}

type subscription struct {
	sub    *pubsub.Subscription
	cancel context.CancelFunc
}

// Options configures the underlying host.
type Options struct {
	ListenAddrs    []string
	BootstrapPeers []string
	PrivateKey     crypto.PrivKey
}

// New constructs a Transport, starting a libp2p host with noise
// security and tcp+quic transports, then dialing any configured
// bootstrap peers directly so gossipsub has a mesh to join.
func New(ctx context.Context, opts Options, log *zap.Logger) (*Transport, error) {
	key := opts.PrivateKey
	if key == nil {
		var err error
		key, _, err = crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, clerrors.Wrap(err, "generate host identity")
		}
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(opts.ListenAddrs))
	for _, a := range opts.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(a)
		if err != nil {
			return nil, clerrors.Wrap(err, "parse listen address "+a)
		}
		listenAddrs = append(listenAddrs, ma)
	}
	if len(listenAddrs) == 0 {
		ma, _ := multiaddr.NewMultiaddr("/ip4/0.0.0.0/tcp/0")
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(key),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.DefaultMuxers,
	)
	if err != nil {
		return nil, clerrors.Wrap(err, "create libp2p host")
	}

	for _, addr := range opts.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			log.Warn("skipping malformed bootstrap peer", zap.String("addr", addr), zap.Error(err))
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			log.Warn("skipping malformed bootstrap peer", zap.String("addr", addr), zap.Error(err))
			continue
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := h.Connect(dialCtx, *info); err != nil {
			log.Warn("failed to connect to bootstrap peer", zap.String("peer", info.ID.String()), zap.Error(err))
		}
		cancel()
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, clerrors.Wrap(err, "create gossipsub")
	}

	return &Transport{
		host:   h,
		ps:     ps,
		log:    log,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*subscription),
	}, nil
}

func (t *Transport) getOrJoin(topic string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tp, ok := t.topics[topic]; ok {
		return tp, nil
	}
	tp, err := t.ps.Join(topic)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", topic, err)
	}
	t.topics[topic] = tp
	return tp, nil
}

// Publish implements remotes.Transport.
func (t *Transport) Publish(ctx context.Context, topic string, data []byte) error {
	tp, err := t.getOrJoin(topic)
	if err != nil {
		return err
	}
	return tp.Publish(ctx, data)
}

// Subscribe implements remotes.Transport.
func (t *Transport) Subscribe(ctx context.Context, topic string, h func(data []byte)) error {
	tp, err := t.getOrJoin(topic)
	if err != nil {
		return err
	}
	sub, err := tp.Subscribe()
	if err != nil {
		return fmt.Errorf("subscribe topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	t.mu.Lock()
	t.subs[topic] = &subscription{sub: sub, cancel: cancel}
	t.mu.Unlock()

	self := t.host.ID()
	go func() {
		defer sub.Cancel()
		for {
			msg, err := sub.Next(subCtx)
			if err != nil {
				return
			}
			if msg.ReceivedFrom == self {
				continue
			}
			h(msg.Data)
		}
	}()
	return nil
}

// Unsubscribe implements remotes.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subs[topic]; ok {
		s.cancel()
		delete(t.subs, topic)
	}
	if tp, ok := t.topics[topic]; ok {
		tp.Close()
		delete(t.topics, topic)
	}
	return nil
}

// Close implements remotes.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	for _, s := range t.subs {
		s.cancel()
	}
	for _, tp := range t.topics {
		tp.Close()
	}
	t.subs = make(map[string]*subscription)
	t.topics = make(map[string]*pubsub.Topic)
	t.mu.Unlock()

	return t.host.Close()
}
