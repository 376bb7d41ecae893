// Package types provides common type definitions for the tag gallery service.
package types

import "time"

// Platform identifies the marketplace a token was minted on
type Platform string

const (
	// PlatformHEN represents Hic et Nunc / Teia
	PlatformHEN Platform = "HEN"
	// PlatformOBJKT represents objkt.com
	PlatformOBJKT Platform = "OBJKT"
	// PlatformVersum represents versum.xyz
	PlatformVersum Platform = "VERSUM"
	// PlatformFxhash represents fxhash
	PlatformFxhash Platform = "FXHASH"
	// Platform8Bidou represents 8bidou
	Platform8Bidou Platform = "8BIDOU"
	// PlatformTyped represents typed.art
	PlatformTyped Platform = "TYPED"

	// PlatformAll is the filter sentinel matching every platform
	PlatformAll Platform = "__ALL__"
)

// AllPlatforms lists the closed platform set in facet order
var AllPlatforms = []Platform{
	PlatformHEN,
	PlatformOBJKT,
	PlatformVersum,
	PlatformFxhash,
	Platform8Bidou,
	PlatformTyped,
}

// IsKnown reports whether p belongs to the closed platform set
func (p Platform) IsKnown() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

// IsValidFilter reports whether p may be used as a platform filter value
func (p Platform) IsValidFilter() bool {
	return p == PlatformAll || p.IsKnown()
}

// Label returns the name shown to visitors. HEN tokens are listed as TEIA.
func (p Platform) Label() string {
	switch p {
	case PlatformHEN:
		return "TEIA"
	case PlatformAll:
		return "ALL"
	default:
		return string(p)
	}
}

// SortField represents the column tokens are ordered by (always descending)
type SortField string

const (
	// SortMintedAt orders by mint timestamp
	SortMintedAt SortField = "minted_at"
	// SortSalesCount orders by number of sales
	SortSalesCount SortField = "sales_count"
	// SortSalesVolume orders by sales volume, unknown volumes last
	SortSalesVolume SortField = "sales_volume"
)

// IsValid reports whether s is a supported sort field
func (s SortField) IsValid() bool {
	switch s {
	case SortMintedAt, SortSalesCount, SortSalesVolume:
		return true
	}
	return false
}

// Direction returns the GraphQL order direction used for this field
func (s SortField) Direction() string {
	if s == SortSalesVolume {
		return "desc_nulls_last"
	}
	return "desc"
}

// TokenKey is the global identity of a token
type TokenKey struct {
	ContractAddress string `json:"fa2_address"`
	TokenID         string `json:"token_id"`
}

// String returns the key as "contract:tokenID"
func (k TokenKey) String() string {
	return k.ContractAddress + ":" + k.TokenID
}

// ArtistProfile holds optional display data for an artist
type ArtistProfile struct {
	Twitter *string `json:"twitter"`
	Alias   *string `json:"alias"`
}

// Collection holds collection-level (fa2) attributes of a token
type Collection struct {
	ThumbnailURI *string `json:"collection_thumbnail_uri"`
}

// Token represents a single artwork as returned by the upstream API
type Token struct {
	ContractAddress string         `json:"fa2_address"`
	TokenID         string         `json:"token_id"`
	Platform        Platform       `json:"platform"`
	Editions        int64          `json:"editions"`
	SalesCount      int64          `json:"sales_count"`
	SalesVolume     *int64         `json:"sales_volume"` // minor units (mutez), nil when unknown
	ArtistAddress   string         `json:"artist_address"`
	ArtistProfile   *ArtistProfile `json:"artist_profile"`
	DisplayURI      *string        `json:"display_uri"`
	ThumbnailURI    *string        `json:"thumbnail_uri"`
	Collection      *Collection    `json:"fa2"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	MimeType        string         `json:"mime_type"`
	MintedAt        *time.Time     `json:"minted_at"`
	Price           *int64         `json:"price"` // minor units (mutez), nil when not listed
}

// Key returns the token identity
func (t *Token) Key() TokenKey {
	return TokenKey{ContractAddress: t.ContractAddress, TokenID: t.TokenID}
}

// CollectionThumbnail returns the collection-level fallback thumbnail or ""
func (t *Token) CollectionThumbnail() string {
	if t.Collection == nil || t.Collection.ThumbnailURI == nil {
		return ""
	}
	return *t.Collection.ThumbnailURI
}

// Aggregate holds server-side statistics for a query
type Aggregate struct {
	TotalCount       int64              `json:"totalCount"`
	ArtistsCount     int64              `json:"artistsCount"`
	TotalSalesCount  int64              `json:"totalSalesCount"`
	TotalSalesVolume *int64             `json:"totalSalesVolume"`
	PlatformCounts   map[Platform]int64 `json:"platformCounts"`
}

// TokensResult is the aggregated response of a single gallery query
type TokensResult struct {
	Stats  Aggregate `json:"stats"`
	Tokens []*Token  `json:"tokens"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
