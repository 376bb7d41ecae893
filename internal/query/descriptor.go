// Package query turns a gallery selection into the single aggregated GraphQL
// request sent upstream.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/tag-gallery/internal/types"
)

// Descriptor identifies one gallery query. Values are never mutated in place;
// the With* helpers return modified copies.
type Descriptor struct {
	Tags           []string        `json:"tags"`
	Sort           types.SortField `json:"sort"`
	Platform       types.Platform  `json:"platform"`
	PageSize       int             `json:"pageSize"`
	ExtraPredicate string          `json:"extraPredicate,omitempty"`
}

// Scope is the process-wide part of every descriptor, loaded once at startup
type Scope struct {
	Tags           []string
	ExtraPredicate string
}

// NewScope expands the configured campaign tag string into a scope
func NewScope(tagString, extraPredicate string) Scope {
	return Scope{
		Tags:           ExpandTags(tagString),
		ExtraPredicate: strings.TrimSpace(extraPredicate),
	}
}

// ExpandTags splits a space-separated tag string and emits, for every tag T,
// both T and #T in order.
func ExpandTags(tagString string) []string {
	fields := strings.Fields(tagString)
	tags := make([]string, 0, len(fields)*2)
	for _, tag := range fields {
		tags = append(tags, tag, "#"+tag)
	}
	return tags
}

// NewDescriptor builds a descriptor within scope
func NewDescriptor(scope Scope, sort types.SortField, platform types.Platform, pageSize int) Descriptor {
	tags := make([]string, len(scope.Tags))
	copy(tags, scope.Tags)
	return Descriptor{
		Tags:           tags,
		Sort:           sort,
		Platform:       platform,
		PageSize:       pageSize,
		ExtraPredicate: scope.ExtraPredicate,
	}
}

// WithSort returns a copy ordered by sort
func (d Descriptor) WithSort(sort types.SortField) Descriptor {
	d.Sort = sort
	return d
}

// WithPlatform returns a copy filtered to platform
func (d Descriptor) WithPlatform(platform types.Platform) Descriptor {
	d.Platform = platform
	return d
}

// WithPageSize returns a copy with a different limit
func (d Descriptor) WithPageSize(pageSize int) Descriptor {
	d.PageSize = pageSize
	return d
}

// Key derives the cache identity from the ordered tuple of all fields
func (d Descriptor) Key() string {
	data, _ := json.Marshal(d)
	hash := sha256.Sum256(data)
	return "gallery:" + hex.EncodeToString(hash[:16])
}

// Equal reports whether two descriptors name the same cache entry
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Key() == other.Key()
}

// Fields returns a loggable view of the descriptor
func (d Descriptor) Fields() map[string]interface{} {
	return map[string]interface{}{
		"tags":     strings.Join(d.Tags, ","),
		"sort":     d.Sort,
		"platform": d.Platform,
		"limit":    d.PageSize,
	}
}
