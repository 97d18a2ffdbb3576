package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrNotObject   = errors.New("protocol: frame is not a json object")
	ErrMissingKind = errors.New("protocol: frame has no kind tag")
)

// Envelope is one tagged frame: {"t": kind, "d": payload}.
type Envelope struct {
	Kind    string
	Payload json.RawMessage // nil when "d" is absent or null
}

// Decode parses the envelope of a text frame. Unknown kinds are returned as-is.
func Decode(text []byte) (Envelope, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(text, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrNotObject, err)
	}
	if raw == nil {
		return Envelope{}, ErrNotObject
	}
	var kind string
	if err := json.Unmarshal(raw["t"], &kind); err != nil || strings.TrimSpace(kind) == "" {
		return Envelope{}, ErrMissingKind
	}
	env := Envelope{Kind: kind}
	if d, ok := raw["d"]; ok && !isNull(d) {
		env.Payload = d
	}
	return env, nil
}

// DecodeMove reads a move payload leniently: a field with an unexpected type
// is treated as absent instead of failing the whole frame.
func DecodeMove(payload json.RawMessage) (MoveData, error) {
	fields, err := object(payload)
	if err != nil {
		return MoveData{}, err
	}
	var d MoveData
	d.UCI, _ = stringField(fields, "uci")
	d.U, _ = stringField(fields, "u")
	d.SAN, _ = stringField(fields, "san")
	d.FEN, _ = stringField(fields, "fen")
	d.Ply, d.HasPly = uintField(fields, "ply")
	d.Status, d.HasStatus = statusField(fields)
	d.Winner, d.HasWinner = presentString(fields, "winner")
	return d, nil
}

// DecodeEnd reads an endData payload. A nil payload yields an empty EndData.
func DecodeEnd(payload json.RawMessage) EndData {
	if payload == nil {
		return EndData{}
	}
	fields, err := object(payload)
	if err != nil {
		return EndData{}
	}
	var e EndData
	e.Status, _ = statusField(fields)
	e.Winner, _ = stringField(fields, "winner")
	return e
}

func object(payload json.RawMessage) (map[string]json.RawMessage, error) {
	if payload == nil {
		return nil, ErrNotObject
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return nil, ErrNotObject
	}
	return fields, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// presentString reports presence for any non-null value and returns its text
// when the value is a string.
func presentString(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", false
	}
	s, _ := stringField(fields, key)
	return s, true
}

func uintField(fields map[string]json.RawMessage, key string) (uint32, bool) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return 0, false
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(num.String(), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// statusField accepts either a bare string or an object with a "name".
func statusField(fields map[string]json.RawMessage) (string, bool) {
	raw, ok := fields["status"]
	if !ok || isNull(raw) {
		return "", false
	}
	if s, ok := stringField(fields, "status"); ok {
		return s, true
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name, true
	}
	return "", true
}
