package actor

import (
	"encoding/json"
	"fmt"
)

// Codec serializes identities into control-frame payloads and back.
// The wire form must round-trip every valid identity.
type Codec interface {
	Encode(id Identity) ([]byte, error)
	Decode(p []byte) (Identity, error)
}

// JSONCodec is the default identity codec: a compact JSON object with
// "type", "name" and optional "tags" members.
type JSONCodec struct{}

// NewJSONCodec returns the default identity codec.
func NewJSONCodec() JSONCodec {
	return JSONCodec{}
}

// Encode serializes the identity. Invalid identities are rejected so a
// peer can never assert an empty endpoint.
func (JSONCodec) Encode(id Identity) ([]byte, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	p, err := json.Marshal(id)
	if err != nil {
		return nil, fmt.Errorf("encode actor identity: %w", err)
	}
	return p, nil
}

// Decode parses an identity payload. Payloads that parse but carry an
// empty type or name are rejected.
func (JSONCodec) Decode(p []byte) (Identity, error) {
	var id Identity
	if err := json.Unmarshal(p, &id); err != nil {
		return Identity{}, fmt.Errorf("decode actor identity: %w", err)
	}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}
