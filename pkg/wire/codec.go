package wire

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/liveclone/gldb/pkg/clerrors"
	"github.com/liveclone/gldb/pkg/clock"
)

// smallPayloadThreshold is the byte size at or below which a
// deletes/inserts payload is carried as plain JSON rather than
// gzip+msgpack.
const smallPayloadThreshold = 1024

// Encoding names the companion encoding chosen for a payload so a
// decoder can apply the reverse chain.
type Encoding string

const (
	EncodingJSON         Encoding = "json"
	EncodingGzipMsgpack  Encoding = "gzip+msgpack"
)

// Payload is a self-describing deletes/inserts blob.
type Payload struct {
	Encoding Encoding `msgpack:"e"`
	Data     []byte   `msgpack:"d"`
}

// Encoded is the wire form of an Operation: version, from, time,
// deletes and inserts, plus an optional statutory proof. msgpack
// encodes it as a map keyed by the short field tags below, not as a
// positional array.
type Encoded struct {
	Version int      `msgpack:"v"`
	From    uint64   `msgpack:"f"`
	Time    []byte   `msgpack:"t"`
	Deletes Payload  `msgpack:"d"`
	Inserts Payload  `msgpack:"i"`
	Proof   []byte   `msgpack:"p,omitempty"`
}

func encodePayload(v any) (Payload, error) {
	small, err := json.Marshal(v)
	if err != nil {
		return Payload{}, clerrors.Wrap(err, "encode payload")
	}
	if len(small) <= smallPayloadThreshold {
		return Payload{Encoding: EncodingJSON, Data: small}, nil
	}

	packed, err := msgpack.Marshal(v)
	if err != nil {
		return Payload{}, clerrors.Wrap(err, "msgpack payload")
	}

	var buf bytes.Buffer
	gz, _ := kgzip.NewWriterLevel(&buf, kgzip.BestSpeed)
	if _, err := gz.Write(packed); err != nil {
		return Payload{}, clerrors.Wrap(err, "gzip payload")
	}
	if err := gz.Close(); err != nil {
		return Payload{}, clerrors.Wrap(err, "gzip payload")
	}
	return Payload{Encoding: EncodingGzipMsgpack, Data: buf.Bytes()}, nil
}

func decodePayload(p Payload, out any) error {
	switch p.Encoding {
	case EncodingJSON, "":
		if len(p.Data) == 0 {
			return nil
		}
		return json.Unmarshal(p.Data, out)
	case EncodingGzipMsgpack:
		r, err := gzip.NewReader(bytes.NewReader(p.Data))
		if err != nil {
			return clerrors.Wrap(err, "open gzip payload")
		}
		defer r.Close()
		raw, err := io.ReadAll(r)
		if err != nil {
			return clerrors.Wrap(err, "read gzip payload")
		}
		return msgpack.Unmarshal(raw, out)
	default:
		return clerrors.BadUpdate("unknown payload encoding: " + string(p.Encoding))
	}
}

// Encode converts an in-memory Operation to its wire form.
func Encode(op *Operation) (Encoded, error) {
	timeJSON, err := op.Time.ToJSON()
	if err != nil {
		return Encoded{}, err
	}
	deletes, err := encodePayload(op.Deletes)
	if err != nil {
		return Encoded{}, err
	}
	inserts, err := encodePayload(op.Inserts)
	if err != nil {
		return Encoded{}, err
	}
	return Encoded{
		Version: op.Version,
		From:    op.From,
		Time:    timeJSON,
		Deletes: deletes,
		Inserts: inserts,
		Proof:   op.Proof,
	}, nil
}

// Decode converts a wire-form operation back to its in-memory form.
func Decode(enc Encoded) (*Operation, error) {
	t, err := clock.FromJSON(enc.Time)
	if err != nil {
		return nil, err
	}
	var deletes []ReifiedTriple
	if err := decodePayload(enc.Deletes, &deletes); err != nil {
		return nil, err
	}
	var inserts Inserts
	if err := decodePayload(enc.Inserts, &inserts); err != nil {
		return nil, err
	}
	return &Operation{
		Version: enc.Version,
		From:    enc.From,
		Time:    t,
		Deletes: deletes,
		Inserts: inserts,
		Proof:   enc.Proof,
	}, nil
}

// Marshal produces the over-the-wire byte form of an operation (a
// msgpack-encoded Encoded map).
func Marshal(op *Operation) ([]byte, error) {
	enc, err := Encode(op)
	if err != nil {
		return nil, err
	}
	b, err := msgpack.Marshal(enc)
	if err != nil {
		return nil, clerrors.Wrap(err, "marshal operation")
	}
	return b, nil
}

// Unmarshal is the inverse of Marshal.
func Unmarshal(b []byte) (*Operation, error) {
	var enc Encoded
	if err := msgpack.Unmarshal(b, &enc); err != nil {
		return nil, clerrors.Wrap(err, "unmarshal operation")
	}
	return Decode(enc)
}

// Size returns the encoded byte size of op, for maxOperationSize checks.
func Size(op *Operation) (int, error) {
	b, err := Marshal(op)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}
