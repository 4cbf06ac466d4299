package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
)

var jsonNull = json.RawMessage("null")

// Sealed is the wire representation of a packet and its payload.
//
// It has two variants. Bare carries only an identity and encodes as a JSON
// number. WithPayload carries an identity and a JSON payload and encodes as
// the pair [id, payload].
type Sealed struct {
	ID      ID
	Payload json.RawMessage

	hasPayload bool
}

// Bare returns the sealed value of a packet without payload.
func Bare(id ID) Sealed {
	return Sealed{ID: id}
}

// WithPayload returns the sealed value of a packet with payload.
// A nil payload is encoded as JSON null.
func WithPayload(id ID, payload json.RawMessage) Sealed {
	if payload == nil {
		payload = jsonNull
	}
	return Sealed{ID: id, Payload: payload, hasPayload: true}
}

// HasPayload reports whether s is the WithPayload variant.
func (s Sealed) HasPayload() bool {
	return s.hasPayload
}

// MarshalJSON implements json.Marshaler.
func (s Sealed) MarshalJSON() ([]byte, error) {
	if !s.hasPayload {
		return []byte(s.ID.String()), nil
	}

	payload := s.Payload
	if payload == nil {
		payload = jsonNull
	}

	buf := make([]byte, 0, len(payload)+8)
	buf = append(buf, '[')
	buf = strconv.AppendInt(buf, int64(s.ID), 10)
	buf = append(buf, ',')
	buf = append(buf, payload...)
	buf = append(buf, ']')
	return buf, nil
}

// UnmarshalJSON implements json.Unmarshaler. It branches on the shape of
// data: a number is a bare value, a two element array is a value with
// payload. Anything else is ErrMalformed.
func (s *Sealed) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ErrMalformed
	}

	if data[0] != '[' {
		id, err := parseID(data)
		if err != nil {
			return err
		}
		*s = Bare(id)
		return nil
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return ErrMalformed
	}
	if len(pair) != 2 {
		return ErrMalformed
	}

	id, err := parseID(pair[0])
	if err != nil {
		return err
	}

	*s = WithPayload(id, pair[1])
	return nil
}

// Encode returns the wire text of s.
func (s Sealed) Encode() ([]byte, error) {
	return s.MarshalJSON()
}

// parseID accepts only integral JSON numbers that fit in an ID on the
// running platform.
func parseID(raw []byte) (ID, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || (raw[0] != '-' && (raw[0] < '0' || raw[0] > '9')) {
		return 0, ErrMalformed
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, ErrMalformed
	}
	v, err := strconv.ParseInt(n.String(), 10, strconv.IntSize)
	if err != nil {
		return 0, ErrMalformed
	}
	return ID(v), nil
}

// Seal converts a packet and its payload to the wire representation.
// Packets defined with None seal to Bare, every other packet to
// WithPayload.
func Seal[T any](p Packet[T], v T) (Sealed, error) {
	if p.bare {
		return Bare(p.id), nil
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return Sealed{}, &PayloadError{ID: p.id, Op: "seal", Err: err}
	}
	return WithPayload(p.id, payload), nil
}

// Unseal parses wire text into a sealed value. Identities unknown to any
// schema are passed through; use Schema.Known to check them.
func Unseal(data []byte) (Sealed, error) {
	var s Sealed
	if err := s.UnmarshalJSON(data); err != nil {
		return Sealed{}, err
	}
	return s, nil
}

// Open decodes the payload of s as the payload type of p.
// A payload on a bare packet is ignored.
func Open[T any](p Packet[T], s Sealed) (T, error) {
	var v T
	if s.ID != p.id {
		return v, ErrPacketMismatch
	}
	if p.bare {
		return v, nil
	}
	if !s.hasPayload {
		return v, &PayloadError{ID: p.id, Op: "open", Err: ErrMissingPayload}
	}
	if err := json.Unmarshal(s.Payload, &v); err != nil {
		return v, &PayloadError{ID: p.id, Op: "open", Err: err}
	}
	return v, nil
}
