package remotes

import "encoding/json"

// envelopeKind discriminates the small set of message shapes exchanged
// on a domain's control and presence channels. Operation broadcasts
// travel on their own channel undecorated (they are already
// self-describing wire.Operation payloads).
type envelopeKind string

const (
	kindPresenceJoin  envelopeKind = "join"
	kindPresenceLeave envelopeKind = "leave"

	kindRequest  envelopeKind = "request"
	kindResponse envelopeKind = "response"
	kindRejected envelopeKind = "rejected"

	kindSnapshotChunk envelopeKind = "snapshot-chunk"
	kindSnapshotEnd   envelopeKind = "snapshot-end"
)

type requestKind string

const (
	requestNewClock requestKind = "new-clock"
	requestSnapshot requestKind = "snapshot"
	requestRevup    requestKind = "revup"
)

// envelope is the JSON frame carried on the presence and control
// channels. Payload holds a kind-specific nested JSON document (a
// clock, an operation list, a snapshot header) so the envelope itself
// stays fixed-shape and cheap to sniff.
type envelope struct {
	Kind      envelopeKind    `json:"kind"`
	From      string          `json:"from"`
	RequestID string          `json:"reqID,omitempty"`
	Request   requestKind     `json:"request,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func encodeEnvelope(e envelope) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEnvelope(b []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(b, &e)
	return e, err
}
