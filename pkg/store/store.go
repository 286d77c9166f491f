// Package store defines persistence interfaces for events, snapshots and
// durable state, together with the codecs SQL backends use to serialize
// payloads. Implementations must provide identical semantics across backends
// so recovery is deterministic and portable.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Tagged lets a payload choose its own type tag.
type Tagged interface {
	TypeTag() string
}

// TypeTag returns the runtime discriminator stored next to a payload.
func TypeTag(v any) string {
	if t, ok := v.(Tagged); ok {
		return t.TypeTag()
	}
	return fmt.Sprintf("%T", v)
}

// Codec encodes payloads for byte-oriented stores. The tag returned by
// Encode is handed back to Decode.
type Codec[T any] interface {
	Encode(v T) (tag string, data []byte, err error)
	Decode(tag string, data []byte) (T, error)
}

// JSONCodec serializes a concrete type with encoding/json.
type JSONCodec[T any] struct{}

func (JSONCodec[T]) Encode(v T) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return TypeTag(v), b, nil
}

func (JSONCodec[T]) Decode(_ string, data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// TypedCodec serializes values of an interface type T by dispatching on the
// type tag. Every concrete type must be registered with RegisterType.
type TypedCodec[T any] struct {
	mu       sync.RWMutex
	decoders map[string]func([]byte) (T, error)
}

func NewTypedCodec[T any]() *TypedCodec[T] {
	return &TypedCodec[T]{decoders: map[string]func([]byte) (T, error){}}
}

// RegisterType makes the concrete type V decodable as T.
func RegisterType[T any, V any](c *TypedCodec[T]) error {
	var zero V
	if _, ok := any(zero).(T); !ok {
		var t T
		return fmt.Errorf("register %T: not assignable to %T", zero, &t)
	}
	tag := TypeTag(zero)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.decoders[tag]; dup {
		return fmt.Errorf("register %s: tag already registered", tag)
	}
	c.decoders[tag] = func(data []byte) (T, error) {
		var v V
		if err := json.Unmarshal(data, &v); err != nil {
			var t T
			return t, fmt.Errorf("decode %s: %w", tag, err)
		}
		return any(v).(T), nil
	}
	return nil
}

// MustRegisterType is RegisterType for package initialization.
func MustRegisterType[T any, V any](c *TypedCodec[T]) {
	if err := RegisterType[T, V](c); err != nil {
		panic(err)
	}
}

func (c *TypedCodec[T]) Encode(v T) (string, []byte, error) {
	tag := TypeTag(v)
	c.mu.RLock()
	_, ok := c.decoders[tag]
	c.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("encode %s: type not registered", tag)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	return tag, b, nil
}

func (c *TypedCodec[T]) Decode(tag string, data []byte) (T, error) {
	c.mu.RLock()
	dec, ok := c.decoders[tag]
	c.mu.RUnlock()
	if !ok {
		var t T
		return t, fmt.Errorf("decode %s: type not registered", tag)
	}
	return dec(data)
}
