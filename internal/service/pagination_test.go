package service

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestPaginator(t *testing.T) {
	p := NewPaginator(30)
	assert.Equal(t, 30, p.PageSize())
	assert.Equal(t, 30, p.Increment())

	assert.Equal(t, 60, p.LoadMore())
	assert.Equal(t, 90, p.LoadMore())
	assert.Equal(t, 90, p.PageSize())

	p.Reset()
	assert.Equal(t, 30, p.PageSize())
}

func TestPaginator_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, NewPaginator(0).PageSize())
	assert.Equal(t, DefaultPageSize, NewPaginator(-5).PageSize())
}

func TestHasMore(t *testing.T) {
	tests := []struct {
		name     string
		returned int
		pageSize int
		want     bool
	}{
		{"full first page", 30, 30, true},
		{"short second page", 45, 60, false},
		{"full second page", 60, 60, true},
		{"one short", 29, 30, false},
		{"exact multiple costs one empty page", 0, 90, true},
		{"invalid page size", 10, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HasMore(tt.returned, tt.pageSize))
		})
	}
}

func TestHasMore_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("load more is offered iff returned is a multiple of the page size", prop.ForAll(
		func(returned, pageSize int) bool {
			return HasMore(returned, pageSize) == (returned%pageSize == 0)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(1, 300),
	))

	properties.Property("a short page never offers more", prop.ForAll(
		func(pageSize, missing int) bool {
			if missing >= pageSize {
				return true
			}
			return !HasMore(pageSize-missing, pageSize)
		},
		gen.IntRange(2, 300),
		gen.IntRange(1, 299),
	))

	properties.TestingRun(t)
}
