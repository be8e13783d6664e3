package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Object is a JSON object that preserves member order. The access-token
// blob maps scope targets to token records, and lookup policy is "first
// superset in stored order", so a plain map would silently change cache
// behavior between runs.
type Object struct {
	keys   []string
	values map[string]json.RawMessage
}

// NewObject returns an empty ordered object.
func NewObject() *Object {
	return &Object{values: make(map[string]json.RawMessage)}
}

// Get returns the raw value for key.
func (o *Object) Get(key string) (json.RawMessage, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Set stores value under key. New keys append to the order; existing keys
// keep their position.
func (o *Object) Set(key string, value json.RawMessage) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// SetValue marshals v and stores it under key.
func (o *Object) SetValue(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	o.Set(key, raw)
	return nil
}

// Delete removes key, preserving the order of the remaining members.
func (o *Object) Delete(key string) {
	if _, exists := o.values[key]; !exists {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the member names in insertion/stored order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the member count.
func (o *Object) Len() int { return len(o.keys) }

// Merge copies every member of src into o, overwriting on collision.
func (o *Object) Merge(src *Object) {
	for _, k := range src.keys {
		o.Set(k, src.values[k])
	}
}

// MarshalJSON renders members in stored order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(o.values[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object preserving member order.
func (o *Object) UnmarshalJSON(data []byte) error {
	o.keys = nil
	o.values = make(map[string]json.RawMessage)

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("storage: expected JSON object, got %v", tok)
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("storage: expected object key, got %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		o.Set(key, raw)
	}

	// Consume the closing brace.
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
