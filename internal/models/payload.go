package models

import (
	"encoding/json"
	"fmt"
)

// Payload is the opaque, action-specific content of a message. Values are
// kept JSON-shaped (maps, slices, strings, float64, bool) so the in-memory
// and Redis brokers deliver identical structures.
type Payload map[string]any

// ToPayload converts a struct (or map) into its JSON-shaped Payload form.
func ToPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// String returns the string stored at key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Decode unmarshals the value stored at key into out. An empty key decodes
// the whole payload.
func (p Payload) Decode(key string, out any) error {
	var src any = map[string]any(p)
	if key != "" {
		v, ok := p[key]
		if !ok {
			return fmt.Errorf("payload: missing %q", key)
		}
		src = v
	}
	data, err := json.Marshal(src)
	if err != nil {
		return fmt.Errorf("payload: encode %q: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("payload: decode %q: %w", key, err)
	}
	return nil
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overlaid with other.
func (p Payload) Merge(other Payload) Payload {
	out := p.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Without returns a copy of p without the given keys.
func (p Payload) Without(keys ...string) Payload {
	out := p.Clone()
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
