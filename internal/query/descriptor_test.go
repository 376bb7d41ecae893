package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tag-gallery/internal/types"
)

func TestDescriptor_Derivation(t *testing.T) {
	base := NewDescriptor(NewScope("art", `{"price":{"_gt":0}}`), types.SortMintedAt, types.PlatformAll, 30)

	sorted := base.WithSort(types.SortSalesVolume)
	assert.Equal(t, types.SortSalesVolume, sorted.Sort)
	assert.Equal(t, types.SortMintedAt, base.Sort, "original is unchanged")
	assert.False(t, sorted.Equal(base))

	filtered := base.WithPlatform(types.PlatformFxhash).WithPageSize(60)
	assert.Equal(t, types.PlatformFxhash, filtered.Platform)
	assert.Equal(t, 60, filtered.PageSize)
	assert.Equal(t, base.Tags, filtered.Tags)
	assert.Equal(t, base.ExtraPredicate, filtered.ExtraPredicate)

	roundTrip := filtered.WithPlatform(types.PlatformAll).WithPageSize(30)
	assert.True(t, roundTrip.Equal(base))
	assert.Equal(t, base.Key(), roundTrip.Key())
}
