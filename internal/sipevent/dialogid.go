// SPDX-License-Identifier: MIT

// Package sipevent defines the unit of dispatch shared by the SIP stack,
// the presence router and the dialog workers.
package sipevent

import (
	"hash/fnv"
	"strings"
)

// DialogID identifies a SIP dialog as "<CallID>[;ft=<fromTag>][;tt=<toTag>]".
// Components are sanitised and truncated, so equal IDs mean the same dialog
// and the ID is safe as a map key, a log field and a document primary key.
type DialogID string

const (
	maxComponentLen = 256
	maxDialogIDLen  = 1024
)

// BuildDialogID assembles a DialogID from raw header values. Returns "" when
// the Call-ID sanitises to nothing, which callers must treat as invalid.
func BuildDialogID(callID, fromTag, toTag string) DialogID {
	cid := sanitizeComponent(callID)
	if cid == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(cid) + len(fromTag) + len(toTag) + 8)
	b.WriteString(cid)
	if ft := sanitizeComponent(fromTag); ft != "" {
		b.WriteString(";ft=")
		b.WriteString(ft)
	}
	if tt := sanitizeComponent(toTag); tt != "" {
		b.WriteString(";tt=")
		b.WriteString(tt)
	}
	return DialogID(b.String())
}

// Valid reports whether the ID is non-empty and within the size bound.
func (d DialogID) Valid() bool {
	return d != "" && len(d) <= maxDialogIDLen
}

func (d DialogID) String() string { return string(d) }

// Shard maps the ID to a worker index using FNV-1a, which is stable for the
// life of the process and cheap enough for the dispatch hot path.
func (d DialogID) Shard(n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(d)) //nolint:errcheck // fnv never fails
	return int(h.Sum32() % uint32(n))
}

// sanitizeComponent keeps printable ASCII minus ';' (the component separator)
// from at most the first maxComponentLen input bytes.
func sanitizeComponent(s string) string {
	if len(s) > maxComponentLen {
		s = s[:maxComponentLen]
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c <= 0x7e && c != ';' {
			b.WriteByte(c)
		}
	}
	return b.String()
}
