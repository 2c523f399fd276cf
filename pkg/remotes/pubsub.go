package remotes

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/google/uuid"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
	"github.com/liveclone/gldb/pkg/wire"
)

// PubsubRemotes implements Remotes on top of a Transport, one instance
// per domain. It owns three logical channels, each namespaced under
// the domain: "<domain>.ops" for operation broadcasts, "<domain>.presence"
// for join/leave announcements, and "<domain>.control" for the
// request/reply primitives (newClock, snapshot, revupFrom).
type PubsubRemotes struct {
	domain string
	id     string
	t      Transport
	timeout time.Duration
	log     *zap.Logger

	mu       sync.Mutex
	local    LocalClone
	present  map[string]bool // peer id -> present, excludes self
	live     *bool
	liveSubs []chan *bool
	pending  map[string]chan envelope // request id -> reply channel

	updates chan OperationMessage
	closed  bool
}

// NewPubsubRemotes wires a Transport into the Remotes contract for one
// domain. id identifies this clone to peers on the presence channel.
func NewPubsubRemotes(t Transport, domain, id string, networkTimeout time.Duration, log *zap.Logger) (*PubsubRemotes, error) {
	if networkTimeout <= 0 {
		networkTimeout = 5 * time.Second
	}
	r := &PubsubRemotes{
		domain:  domain,
		id:      id,
		t:       t,
		timeout: networkTimeout,
		log:     log,
		present: make(map[string]bool),
		pending: make(map[string]chan envelope),
		updates: make(chan OperationMessage, 256),
	}

	ctx := context.Background()
	if err := t.Subscribe(ctx, r.opsTopic(), r.onOperation); err != nil {
		return nil, clerrors.Wrap(err, "subscribe ops")
	}
	if err := t.Subscribe(ctx, r.presenceTopic(), r.onPresence); err != nil {
		return nil, clerrors.Wrap(err, "subscribe presence")
	}
	if err := t.Subscribe(ctx, r.controlTopic(), r.onControl); err != nil {
		return nil, clerrors.Wrap(err, "subscribe control")
	}

	if err := r.announce(ctx, kindPresenceJoin); err != nil {
		r.log.Warn("presence announce failed", zap.Error(err))
	}

	return r, nil
}

func (r *PubsubRemotes) opsTopic() string      { return r.domain + ".ops" }
func (r *PubsubRemotes) presenceTopic() string { return r.domain + ".presence" }
func (r *PubsubRemotes) controlTopic() string  { return r.domain + ".control" }
func (r *PubsubRemotes) snapshotTopic(reqID string) string {
	return r.domain + ".snapshot." + reqID
}

func (r *PubsubRemotes) announce(ctx context.Context, kind envelopeKind) error {
	b, err := encodeEnvelope(envelope{Kind: kind, From: r.id})
	if err != nil {
		return err
	}
	return r.t.Publish(ctx, r.presenceTopic(), b)
}

// Updates implements Remotes.
func (r *PubsubRemotes) Updates() <-chan OperationMessage { return r.updates }

// LiveNow implements Remotes.
func (r *PubsubRemotes) LiveNow() *bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// LiveChanges implements Remotes.
func (r *PubsubRemotes) LiveChanges() <-chan *bool {
	ch := make(chan *bool, 1)
	r.mu.Lock()
	ch <- r.live
	r.liveSubs = append(r.liveSubs, ch)
	r.mu.Unlock()
	return ch
}

// SetLocal implements Remotes.
func (r *PubsubRemotes) SetLocal(l LocalClone) {
	r.mu.Lock()
	r.local = l
	r.mu.Unlock()
}

func (r *PubsubRemotes) setLiveLocked(v *bool) {
	r.live = v
	for _, ch := range r.liveSubs {
		select {
		case ch <- v:
		default:
			<-ch
			ch <- v
		}
	}
}

func (r *PubsubRemotes) onPresence(data []byte) {
	e, err := decodeEnvelope(data)
	if err != nil {
		return
	}
	if e.From == r.id {
		// Our transport is expected to filter back our own publications;
		// a presence announcement bearing our own id that still reaches
		// us means another live process claims this identity.
		r.mu.Lock()
		local := r.local
		r.mu.Unlock()
		if local != nil && e.Kind == kindPresenceJoin {
			local.HandleIdentityCollision()
		}
		return
	}
	r.mu.Lock()
	before := len(r.present)
	switch e.Kind {
	case kindPresenceJoin:
		r.present[e.From] = true
	case kindPresenceLeave:
		delete(r.present, e.From)
	default:
		r.mu.Unlock()
		return
	}
	after := len(r.present)
	if (before == 0) != (after == 0) {
		v := after > 0
		r.setLiveLocked(&v)
	}
	r.mu.Unlock()
}

func (r *PubsubRemotes) onOperation(data []byte) {
	op, err := wire.Unmarshal(data)
	if err != nil {
		r.log.Warn("dropped malformed operation broadcast", zap.Error(err))
		return
	}
	msg := OperationMessage{Op: op}
	r.mu.Lock()
	local := r.local
	r.mu.Unlock()
	if local != nil {
		local.HandleOperation(msg)
	}
	select {
	case r.updates <- msg:
	default:
		r.log.Warn("updates channel full, dropping operation")
	}
}

func (r *PubsubRemotes) onControl(data []byte) {
	e, err := decodeEnvelope(data)
	if err != nil || e.From == r.id {
		return
	}

	if e.Kind == kindResponse || e.Kind == kindRejected {
		r.mu.Lock()
		ch, ok := r.pending[e.RequestID]
		r.mu.Unlock()
		if ok {
			select {
			case ch <- e:
			default:
			}
		}
		return
	}

	if e.Kind != kindRequest {
		return
	}

	r.mu.Lock()
	local := r.local
	r.mu.Unlock()
	if local == nil {
		return
	}
	go r.serveRequest(e, local)
}

func (r *PubsubRemotes) serveRequest(e envelope, local LocalClone) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	switch e.Request {
	case requestNewClock:
		c, err := local.HandleNewClock(ctx)
		if err != nil {
			r.reject(e, err)
			return
		}
		b, err := c.ToJSON()
		if err != nil {
			r.reject(e, err)
			return
		}
		r.respond(e, b)

	case requestSnapshot:
		snap, err := local.HandleSnapshot(ctx)
		if err != nil {
			r.reject(e, err)
			return
		}
		r.serveSnapshot(ctx, e, snap)

	case requestRevup:
		var body struct {
			Since json.RawMessage `json:"since"`
		}
		if err := json.Unmarshal(e.Payload, &body); err != nil {
			r.reject(e, err)
			return
		}
		since, err := clock.FromJSON(body.Since)
		if err != nil {
			r.reject(e, err)
			return
		}
		recovery, ok, err := local.HandleRevupFrom(ctx, since)
		if err != nil {
			r.reject(e, err)
			return
		}
		if !ok {
			r.reject(e, fmt.Errorf("cannot serve revup from stated time"))
			return
		}
		encoded := make([][]byte, 0, len(recovery.Ops))
		for _, op := range recovery.Ops {
			b, err := wire.Marshal(op)
			if err != nil {
				r.reject(e, err)
				return
			}
			encoded = append(encoded, b)
		}
		payload, err := json.Marshal(struct {
			Ops [][]byte `json:"ops"`
		}{Ops: encoded})
		if err != nil {
			r.reject(e, err)
			return
		}
		r.respond(e, payload)

	default:
		r.reject(e, fmt.Errorf("unknown request kind %q", e.Request))
	}
}

func (r *PubsubRemotes) serveSnapshot(ctx context.Context, e envelope, snap Snapshot) {
	gwcClock := snap.GWC.AsClock()
	gwcJSON, err := gwcClock.ToJSON()
	if err != nil {
		r.reject(e, err)
		return
	}
	timeJSON, err := snap.Time.ToJSON()
	if err != nil {
		r.reject(e, err)
		return
	}
	header, err := json.Marshal(struct {
		GWC  json.RawMessage `json:"gwc"`
		Time json.RawMessage `json:"time"`
	}{GWC: gwcJSON, Time: timeJSON})
	if err != nil {
		r.reject(e, err)
		return
	}
	r.respond(e, header)

	topic := r.snapshotTopic(e.RequestID)
	for batch := range snap.Data {
		b, err := json.Marshal(batch)
		if err != nil {
			r.log.Warn("snapshot batch marshal failed", zap.Error(err))
			continue
		}
		env, _ := encodeEnvelope(envelope{Kind: kindSnapshotChunk, From: r.id, RequestID: e.RequestID, Payload: b})
		if err := r.t.Publish(ctx, topic, env); err != nil {
			r.log.Warn("snapshot batch publish failed", zap.Error(err))
			return
		}
	}
	end, _ := encodeEnvelope(envelope{Kind: kindSnapshotEnd, From: r.id, RequestID: e.RequestID})
	r.t.Publish(ctx, topic, end)
}

func (r *PubsubRemotes) respond(req envelope, payload []byte) {
	b, err := encodeEnvelope(envelope{Kind: kindResponse, From: r.id, RequestID: req.RequestID, Payload: payload})
	if err != nil {
		return
	}
	r.t.Publish(context.Background(), r.controlTopic(), b)
}

func (r *PubsubRemotes) reject(req envelope, cause error) {
	b, err := encodeEnvelope(envelope{Kind: kindRejected, From: r.id, RequestID: req.RequestID, Reason: cause.Error()})
	if err != nil {
		return
	}
	r.t.Publish(context.Background(), r.controlTopic(), b)
}

// request sends a control request to the domain and waits for a
// response or rejection, subject to the configured network timeout.
func (r *PubsubRemotes) request(ctx context.Context, kind requestKind, payload []byte) (envelope, error) {
	if r.LiveNow() == nil || !*r.LiveNow() {
		return envelope{}, clerrors.NoPeer()
	}

	reqID := uuid.NewString()
	reply := make(chan envelope, 1)
	r.mu.Lock()
	r.pending[reqID] = reply
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pending, reqID)
		r.mu.Unlock()
	}()

	b, err := encodeEnvelope(envelope{Kind: kindRequest, From: r.id, RequestID: reqID, Request: kind, Payload: payload})
	if err != nil {
		return envelope{}, err
	}
	if err := r.t.Publish(ctx, r.controlTopic(), b); err != nil {
		return envelope{}, err
	}

	timeout := time.NewTimer(r.timeout)
	defer timeout.Stop()
	select {
	case e := <-reply:
		if e.Kind == kindRejected {
			return envelope{}, fmt.Errorf("peer rejected %s: %s", kind, e.Reason)
		}
		return e, nil
	case <-timeout.C:
		return envelope{}, clerrors.Timeout(string(kind))
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

// NewClock implements Remotes.
func (r *PubsubRemotes) NewClock(ctx context.Context) (clock.Clock, error) {
	e, err := r.request(ctx, requestNewClock, nil)
	if err != nil {
		return clock.Clock{}, err
	}
	return clock.FromJSON(e.Payload)
}

// RequestSnapshot implements Remotes.
func (r *PubsubRemotes) RequestSnapshot(ctx context.Context) (Snapshot, error) {
	e, err := r.request(ctx, requestSnapshot, nil)
	if err != nil {
		return Snapshot{}, err
	}
	var header struct {
		GWC  json.RawMessage `json:"gwc"`
		Time json.RawMessage `json:"time"`
	}
	if err := json.Unmarshal(e.Payload, &header); err != nil {
		return Snapshot{}, clerrors.Wrap(err, "decode snapshot header")
	}
	gwcClock, err := clock.FromJSON(header.GWC)
	if err != nil {
		return Snapshot{}, err
	}
	t, err := clock.FromJSON(header.Time)
	if err != nil {
		return Snapshot{}, err
	}

	data := make(chan []wire.ReifiedTriple, 4)
	topic := r.snapshotTopic(e.RequestID)
	done := make(chan struct{})
	err = r.t.Subscribe(ctx, topic, func(b []byte) {
		env, err := decodeEnvelope(b)
		if err != nil {
			return
		}
		switch env.Kind {
		case kindSnapshotChunk:
			var batch []wire.ReifiedTriple
			if err := json.Unmarshal(env.Payload, &batch); err != nil {
				return
			}
			select {
			case data <- batch:
			case <-done:
			}
		case kindSnapshotEnd:
			close(done)
		}
	})
	if err != nil {
		close(data)
		return Snapshot{}, clerrors.Wrap(err, "subscribe snapshot stream")
	}

	go func() {
		<-done
		r.t.Unsubscribe(context.Background(), topic)
		close(data)
	}()

	return Snapshot{GWC: clock.GWCFromClock(gwcClock), Time: t, Data: data}, nil
}

// RevupFrom implements Remotes.
func (r *PubsubRemotes) RevupFrom(ctx context.Context, since clock.Clock) (Recovery, bool, error) {
	sinceJSON, err := since.ToJSON()
	if err != nil {
		return Recovery{}, false, err
	}
	payload, err := json.Marshal(struct {
		Since json.RawMessage `json:"since"`
	}{Since: sinceJSON})
	if err != nil {
		return Recovery{}, false, err
	}

	e, err := r.request(ctx, requestRevup, payload)
	if err != nil {
		if clerrors.Is(err, clerrors.CodeTimeout) || clerrors.Is(err, clerrors.CodeNoPeer) {
			return Recovery{}, false, err
		}
		// A peer-side rejection means it cannot serve this range; the
		// caller falls back to a snapshot rather than treating this as fatal.
		return Recovery{}, false, nil
	}

	var body struct {
		Ops [][]byte `json:"ops"`
	}
	if err := json.Unmarshal(e.Payload, &body); err != nil {
		return Recovery{}, false, clerrors.Wrap(err, "decode revup response")
	}
	ops := make([]*wire.Operation, 0, len(body.Ops))
	for _, b := range body.Ops {
		op, err := wire.Unmarshal(b)
		if err != nil {
			return Recovery{}, false, err
		}
		ops = append(ops, op)
	}
	return Recovery{Ops: ops}, true, nil
}

// Publish implements Remotes.
func (r *PubsubRemotes) Publish(ctx context.Context, op *wire.Operation) error {
	b, err := wire.Marshal(op)
	if err != nil {
		return err
	}
	return r.t.Publish(ctx, r.opsTopic(), b)
}

// Close implements Remotes.
func (r *PubsubRemotes) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	_ = r.announce(ctx, kindPresenceLeave)

	_ = r.t.Unsubscribe(ctx, r.opsTopic())
	_ = r.t.Unsubscribe(ctx, r.presenceTopic())
	_ = r.t.Unsubscribe(ctx, r.controlTopic())
	return r.t.Close()
}
