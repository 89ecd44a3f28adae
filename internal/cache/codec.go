package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes cached payloads with a fixed schema. Payloads must stay
// decodable across deploys, so both codecs rely on explicit struct tags.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) ([]byte, error) { return json.Marshal(v) }
func (JSONCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// MsgpackCodec is the compact alternative for high-churn entries. Use
// `msgpack:"name"` tags when field names must be pinned.
type MsgpackCodec[T any] struct{}

func (MsgpackCodec[T]) Encode(v T) ([]byte, error) { return msgpack.Marshal(v) }
func (MsgpackCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := msgpack.Unmarshal(b, &v)
	return v, err
}
