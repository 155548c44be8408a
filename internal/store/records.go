// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package store

import (
	"fmt"
	"path/filepath"
	"time"
)

const (
	clientsFile  = "clients.json"
	tokensFile   = "tokens.json"
	manifestFile = "manifest.json"
	visitorsFile = "visitors.json"
)

// Set groups the JSON documents kept in the data directory.
type Set struct {
	Clients  *ClientStore
	Tokens   *TokenStore
	Manifest *ManifestStore
	Visitors *VisitorStore
}

// Open returns the stores rooted at dir, creating missing files.
func Open(dir string, now func() time.Time) (*Set, error) {
	s := &Set{
		Clients:  &ClientStore{file: NewJSONFile(filepath.Join(dir, clientsFile), emptyMap[ClientRecord])},
		Tokens:   &TokenStore{file: NewJSONFile(filepath.Join(dir, tokensFile), emptyMap[TokenRecord])},
		Manifest: &ManifestStore{file: NewJSONFile(filepath.Join(dir, manifestFile), emptyManifest)},
		Visitors: &VisitorStore{file: NewJSONFile(filepath.Join(dir, visitorsFile), NewVisitorCounter), now: now},
	}
	for _, ensure := range []func() error{
		s.Clients.file.Ensure,
		s.Tokens.file.Ensure,
		s.Manifest.file.Ensure,
		s.Visitors.file.Ensure,
	} {
		if err := ensure(); err != nil {
			return nil, fmt.Errorf("failed to initialize data directory: %w", err)
		}
	}
	return s, nil
}

func emptyMap[T any]() map[string]T {
	return map[string]T{}
}

// ClientRecord is the metadata captured when a real-time
// connection opens.
type ClientRecord struct {
	IP           string            `json:"ip"`
	Headers      map[string]string `json:"headers"`
	ConnectedAt  string            `json:"connectedAt"`
	LastActivity *string           `json:"lastActivity"`
	Verification *string           `json:"verification"`
}

// ClientStore persists ClientRecords keyed by address prefix.
type ClientStore struct {
	file *JSONFile[map[string]ClientRecord]
}

// Upsert stores rec under key, replacing any previous record.
func (s *ClientStore) Upsert(key string, rec ClientRecord) error {
	return s.file.Update(func(m *map[string]ClientRecord) (bool, error) {
		if *m == nil {
			*m = map[string]ClientRecord{}
		}
		(*m)[key] = rec
		return true, nil
	})
}

// Get returns the record stored under key.
func (s *ClientStore) Get(key string) (ClientRecord, bool, error) {
	m, err := s.file.Read()
	if err != nil {
		return ClientRecord{}, false, err
	}
	rec, ok := m[key]
	return rec, ok, nil
}

// TokenRecord is a token registered over the real-time channel.
type TokenRecord struct {
	Token     string `json:"token"`
	Name      string `json:"name,omitempty"`
	IP        string `json:"ip"`
	Timestamp string `json:"timestamp"`
}

// TokenStore persists TokenRecords keyed by client name or IP.
type TokenStore struct {
	file *JSONFile[map[string]TokenRecord]
}

// Upsert stores rec under key, overwriting any previous record.
func (s *TokenStore) Upsert(key string, rec TokenRecord) error {
	return s.file.Update(func(m *map[string]TokenRecord) (bool, error) {
		if *m == nil {
			*m = map[string]TokenRecord{}
		}
		(*m)[key] = rec
		return true, nil
	})
}

// All returns every stored token record.
func (s *TokenStore) All() (map[string]TokenRecord, error) {
	return s.file.Read()
}
