package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes entries for byte backends.
type Codec interface {
	Encode(Entry) ([]byte, error)
	Decode([]byte) (Entry, error)
}

// Msgpack is the default codec: compact and fast. The zero value is ready.
type Msgpack struct{}

func (Msgpack) Encode(e Entry) ([]byte, error) { return msgpack.Marshal(e) }
func (Msgpack) Decode(b []byte) (Entry, error) {
	var e Entry
	err := msgpack.Unmarshal(b, &e)
	return e, err
}

// CBOR encodes entries with fxamacker/cbor using core deterministic
// encoding. Construct with NewCBOR.
type CBOR struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBOR() (CBOR, error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR{}, err
	}
	dm, err := (cbor.DecOptions{}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{enc: em, dec: dm}, nil
}

func (c CBOR) Encode(e Entry) ([]byte, error) { return c.enc.Marshal(e) }
func (c CBOR) Decode(b []byte) (Entry, error) {
	var e Entry
	err := c.dec.Unmarshal(b, &e)
	return e, err
}

// JSON is the human-readable codec, useful when inspecting a shared redis.
type JSON struct{}

func (JSON) Encode(e Entry) ([]byte, error) { return json.Marshal(e) }
func (JSON) Decode(b []byte) (Entry, error) {
	var e Entry
	err := json.Unmarshal(b, &e)
	return e, err
}

// CodecByName resolves "msgpack" (default), "cbor" or "json".
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "msgpack":
		return Msgpack{}, nil
	case "cbor":
		return NewCBOR()
	case "json":
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown cache codec %q", name)
	}
}
