// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package store

import (
	"slices"
	"strconv"
	"time"
)

// FileEntry describes a shared file. Only the attachment id and the
// timestamp are interpreted; every other field is kept verbatim.
type FileEntry map[string]any

// AttachmentID returns attachment.id as a string, or an empty string
// when the entry has no usable id.
func (f FileEntry) AttachmentID() string {
	att, ok := f["attachment"].(map[string]any)
	if !ok {
		return ""
	}
	switch id := att["id"].(type) {
	case string:
		return id
	case float64:
		if id == 0 {
			return ""
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// Time returns the entry timestamp. RFC 3339 strings and epoch
// milliseconds are understood; anything else yields the zero time.
func (f FileEntry) Time() time.Time {
	switch ts := f["timestamp"].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	case float64:
		return time.UnixMilli(int64(ts))
	}
	return time.Time{}
}

func emptyManifest() []FileEntry {
	return []FileEntry{}
}

// MergeManifest adds the incoming entries whose attachment id is set
// and not yet known, then sorts the whole collection by descending
// timestamp. It returns the existing slice unchanged and zero when
// nothing is new.
func MergeManifest(existing, incoming []FileEntry) ([]FileEntry, int) {
	known := make(map[string]struct{}, len(existing)+len(incoming))
	for _, f := range existing {
		if id := f.AttachmentID(); id != "" {
			known[id] = struct{}{}
		}
	}

	var added []FileEntry
	for _, f := range incoming {
		id := f.AttachmentID()
		if id == "" {
			continue
		}
		if _, dup := known[id]; dup {
			continue
		}
		known[id] = struct{}{}
		added = append(added, f)
	}
	if len(added) == 0 {
		return existing, 0
	}

	merged := make([]FileEntry, 0, len(added)+len(existing))
	merged = append(merged, added...)
	merged = append(merged, existing...)
	slices.SortStableFunc(merged, func(a, b FileEntry) int {
		return b.Time().Compare(a.Time())
	})
	return merged, len(added)
}

// ManifestStore persists the shared file manifest.
type ManifestStore struct {
	file *JSONFile[[]FileEntry]
}

// List returns the stored manifest.
func (s *ManifestStore) List() ([]FileEntry, error) {
	entries, err := s.file.Read()
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = emptyManifest()
	}
	return entries, nil
}

// Push merges the incoming entries into the manifest. The file is
// only written when at least one entry is new. It returns the number
// of added entries and the resulting manifest size.
func (s *ManifestStore) Push(incoming []FileEntry) (added, total int, err error) {
	err = s.file.Update(func(entries *[]FileEntry) (bool, error) {
		merged, n := MergeManifest(*entries, incoming)
		added, total = n, len(merged)
		if n == 0 {
			return false, nil
		}
		*entries = merged
		return true, nil
	})
	return added, total, err
}
