// Package keyring supplies decryption keys for encrypted container chunks.
//
// Keys are looked up by their name, the opaque identifier stored in front of
// every encrypted chunk. Names and keys are written as hex in key files:
//
//	keys:
//	  fa505078126acb3e: bdc51862abed79b2de48c8e7e66c6200bdc51862abed79b2de48c8e7e66c6200
//
// A key file may be sealed with age so that it can be kept next to the store.
package keyring

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"

	"filippo.io/age"
	"gopkg.in/yaml.v3"

	"github.com/INLOpen/casc/blte"
)

// Static is an in-memory set of named keys. It is safe for concurrent use.
type Static struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

var _ blte.KeyResolver = (*Static)(nil)

// NewStatic returns an empty keyring.
func NewStatic() *Static {
	return &Static{keys: make(map[string][]byte)}
}

// Add stores a copy of key under name, replacing any earlier key.
func (s *Static) Add(name, key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[string(name)] = append([]byte(nil), key...)
}

// AddHex is Add for hex encoded names and keys.
func (s *Static) AddHex(name, key string) error {
	rawName, err := hex.DecodeString(strings.TrimSpace(name))
	if err != nil || len(rawName) == 0 {
		return fmt.Errorf("invalid key name %q", name)
	}
	rawKey, err := hex.DecodeString(strings.TrimSpace(key))
	if err != nil || len(rawKey) == 0 {
		return fmt.Errorf("invalid key for %s", name)
	}
	s.Add(rawName, rawKey)
	return nil
}

// ResolveKey returns a copy of the key stored under name.
func (s *Static) ResolveKey(name []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[string(name)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), key...), true
}

// Len returns the number of keys held.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

type keyFile struct {
	Keys map[string]string `yaml:"keys"`
}

// LoadFile parses a YAML key file.
func LoadFile(r io.Reader) (*Static, error) {
	var f keyFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode key file: %w", err)
	}
	s := NewStatic()
	for name, key := range f.Keys {
		if err := s.AddHex(name, key); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// LoadSealed decrypts an age encrypted key file with any of identities and
// parses the plaintext with LoadFile.
func LoadSealed(r io.Reader, identities ...age.Identity) (*Static, error) {
	if len(identities) == 0 {
		return nil, fmt.Errorf("at least one identity is required to open a sealed key file")
	}
	plain, err := age.Decrypt(r, identities...)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key file: %w", err)
	}
	return LoadFile(plain)
}

// ParseIdentities reads age identities, one per line, as written by
// age-keygen.
func ParseIdentities(r io.Reader) ([]age.Identity, error) {
	ids, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identities: %w", err)
	}
	return ids, nil
}

// Chain asks each resolver in turn and returns the first key found.
type Chain []blte.KeyResolver

func (c Chain) ResolveKey(name []byte) ([]byte, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if key, ok := r.ResolveKey(name); ok {
			return key, true
		}
	}
	return nil, false
}
