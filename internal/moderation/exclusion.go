// Package moderation hides tokens listed in a static exclusion list.
package moderation

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tag-gallery/internal/types"
)

// ExclusionList is an immutable set of token identities. The zero value
// excludes nothing.
type ExclusionList struct {
	keys map[types.TokenKey]struct{}
}

// NewExclusionList builds a list from keys
func NewExclusionList(keys ...types.TokenKey) *ExclusionList {
	l := &ExclusionList{keys: make(map[types.TokenKey]struct{}, len(keys))}
	for _, k := range keys {
		l.keys[k] = struct{}{}
	}
	return l
}

// ParseInline parses "KT1...:id,KT1...:id". Blank entries are skipped.
func ParseInline(s string) ([]types.TokenKey, error) {
	var keys []types.TokenKey
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		contract, id, ok := strings.Cut(item, ":")
		contract, id = strings.TrimSpace(contract), strings.TrimSpace(id)
		if !ok || contract == "" || id == "" {
			return nil, fmt.Errorf("invalid excluded token %q, want contract:tokenId", item)
		}
		keys = append(keys, types.TokenKey{ContractAddress: contract, TokenID: id})
	}
	return keys, nil
}

// LoadFile reads a JSON array of {"fa2_address": ..., "token_id": ...}
func LoadFile(path string) ([]types.TokenKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read exclusion file: %w", err)
	}
	var keys []types.TokenKey
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse exclusion file %s: %w", path, err)
	}
	for i, k := range keys {
		if k.ContractAddress == "" || k.TokenID == "" {
			return nil, fmt.Errorf("exclusion file %s: entry %d is incomplete", path, i)
		}
	}
	return keys, nil
}

// Load combines the inline list and the optional file
func Load(inline, file string) (*ExclusionList, error) {
	keys, err := ParseInline(inline)
	if err != nil {
		return nil, err
	}
	if file != "" {
		fromFile, err := LoadFile(file)
		if err != nil {
			return nil, err
		}
		keys = append(keys, fromFile...)
	}
	return NewExclusionList(keys...), nil
}

// Contains reports whether key is excluded
func (l *ExclusionList) Contains(key types.TokenKey) bool {
	if l == nil {
		return false
	}
	_, ok := l.keys[key]
	return ok
}

// Len returns the number of excluded tokens
func (l *ExclusionList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.keys)
}

// Filter returns tokens without excluded entries, preserving order. The input
// slice is not modified.
func (l *ExclusionList) Filter(tokens []*types.Token) []*types.Token {
	out := make([]*types.Token, 0, len(tokens))
	for _, t := range tokens {
		if t == nil || l.Contains(t.Key()) {
			continue
		}
		out = append(out, t)
	}
	return out
}
