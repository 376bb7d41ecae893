// Package resolver maps tokens to marketplace links and preview images.
package resolver

import (
	"fmt"

	"github.com/tag-gallery/internal/types"
)

// LinkResolver produces the marketplace URL of a token. ok is false when the
// token has no known page.
type LinkResolver interface {
	Link(t *types.Token) (url string, ok bool)
}

// tokenIDLink formats pages addressed by token id alone
type tokenIDLink string

func (f tokenIDLink) Link(t *types.Token) (string, bool) {
	return fmt.Sprintf(string(f), t.TokenID), true
}

// assetLink formats pages addressed by contract and token id
type assetLink string

func (f assetLink) Link(t *types.Token) (string, bool) {
	return fmt.Sprintf(string(f), t.ContractAddress, t.TokenID), true
}

// contractLinks dispatches on the contract address. 8bidou runs three legacy
// contracts, each with its own page scheme.
type contractLinks map[string]tokenIDLink

func (m contractLinks) Link(t *types.Token) (string, bool) {
	f, ok := m[t.ContractAddress]
	if !ok {
		return "", false
	}
	return f.Link(t)
}

// 8bidou contracts
const (
	EightBidou8x8Contract   = "KT1MxDwChiDwd6WBVs24g1NjERUoK622ZEFp"
	EightBidou24x24Contract = "KT1TR1ErEQPTdtaJ7hbvKTJSa1tsGnHGZTpf"
	EightBidouRGBContract   = "KT1VikAWA8wQHLZgHoAGL7Z9kCjgbCEnvWA3"
)

var objktLink = assetLink("https://objkt.com/asset/%s/%s")

// Links holds one resolver per platform
type Links struct {
	byPlatform map[types.Platform]LinkResolver
	fallback   LinkResolver
}

// NewLinks returns the resolvers for every known platform. Tokens from an
// unlisted platform link to objkt, which indexes every Tezos FA2 contract.
func NewLinks() *Links {
	return &Links{
		byPlatform: map[types.Platform]LinkResolver{
			types.PlatformHEN:    tokenIDLink("https://teia.art/objkt/%s"),
			types.PlatformFxhash: tokenIDLink("https://www.fxhash.xyz/gentk/%s"),
			types.PlatformVersum: tokenIDLink("https://versum.xyz/token/versum/%s"),
			types.PlatformOBJKT:  objktLink,
			types.PlatformTyped:  objktLink,
			types.Platform8Bidou: contractLinks{
				EightBidou8x8Contract:   "https://www.8bidou.com/listing/?id=%s",
				EightBidou24x24Contract: "https://ui.8bidou.com/item_g/?id=%s",
				EightBidouRGBContract:   "https://www.8bidou.com/r_item/?id=%s",
			},
		},
		fallback: objktLink,
	}
}

// Link resolves the marketplace URL of t
func (l *Links) Link(t *types.Token) (string, bool) {
	if t == nil {
		return "", false
	}
	if r, ok := l.byPlatform[t.Platform]; ok {
		return r.Link(t)
	}
	return l.fallback.Link(t)
}
