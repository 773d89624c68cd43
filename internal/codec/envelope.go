package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	valuePath   = "value"
	historyPath = "history"
)

// Payload is a decoded storage entry.
type Payload[T any] struct {
	Value T
	// History is nil when the entry carried no history.
	History []T
	// Envelope reports whether the entry was written as {value, history}.
	Envelope bool
}

// EncodeValue encodes a bare value payload.
func EncodeValue[T any](v T, fallback func(T) any) ([]byte, error) {
	return Marshal(v, bindFallback(v, fallback))
}

// EncodeEnvelope encodes {"value": v, "history": history}. Each history
// entry is encoded in its own pass so shared references across entries are
// preserved.
func EncodeEnvelope[T any](v T, history []T, fallback func(T) any) ([]byte, error) {
	raw, err := Marshal(v, bindFallback(v, fallback))
	if err != nil {
		return nil, err
	}

	var list bytes.Buffer
	list.WriteByte('[')
	for i, h := range history {
		if i > 0 {
			list.WriteByte(',')
		}
		entry, err := Marshal(h, bindFallback(h, fallback))
		if err != nil {
			return nil, fmt.Errorf("history entry %d: %w", i, err)
		}
		list.Write(entry)
	}
	list.WriteByte(']')

	out, err := sjson.SetRawBytes([]byte(`{}`), valuePath, raw)
	if err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(out, historyPath, list.Bytes())
}

// Decode parses a stored entry. An object holding both "value" and
// "history" is read as an envelope; anything else is a bare value. When
// envelope is true, an object with only a "value" member is also accepted.
func Decode[T any](payload string, envelope bool) (Payload[T], error) {
	var p Payload[T]
	if !gjson.Valid(payload) {
		return p, fmt.Errorf("codec: invalid JSON payload")
	}

	root := gjson.Parse(payload)
	value := root.Get(valuePath)
	history := root.Get(historyPath)
	isEnvelope := root.IsObject() && value.Exists() &&
		(history.IsArray() || (envelope && !history.Exists()))
	if !isEnvelope {
		if err := json.Unmarshal([]byte(payload), &p.Value); err != nil {
			return p, err
		}
		return p, nil
	}

	p.Envelope = true
	if err := json.Unmarshal([]byte(value.Raw), &p.Value); err != nil {
		return p, fmt.Errorf("codec: decode value: %w", err)
	}
	if history.IsArray() {
		p.History = make([]T, 0, len(history.Array()))
		if err := json.Unmarshal([]byte(history.Raw), &p.History); err != nil {
			return p, fmt.Errorf("codec: decode history: %w", err)
		}
	}
	return p, nil
}

func bindFallback[T any](v T, fallback func(T) any) func() any {
	if fallback == nil {
		return nil
	}
	return func() any { return fallback(v) }
}
