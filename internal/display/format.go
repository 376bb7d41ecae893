// Package display formats token attributes for visitors.
package display

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/tag-gallery/internal/types"
)

// TezSymbol is appended to formatted amounts
const TezSymbol = "ꜩ"

// Missing is shown for absent amounts
const Missing = "–"

// one tez is 10^6 mutez
const mutezExp = -6

// FormatTez renders a mutez amount with two decimals, dropping a ".00" suffix.
// 1_000_000 gives "1 ꜩ", 1_500_000 gives "1.50 ꜩ", nil gives "–".
func FormatTez(mutez *int64) string {
	if mutez == nil {
		return Missing
	}
	return FormatTezDecimal(decimal.New(*mutez, mutezExp))
}

// FormatTezDecimal formats an amount already expressed in tez
func FormatTezDecimal(tez decimal.Decimal) string {
	fixed := tez.StringFixed(2)
	fixed = strings.TrimSuffix(fixed, ".00")
	return fixed + " " + TezSymbol
}

// ShortenAddress keeps the first and last five characters of a Tezos address
func ShortenAddress(address string) string {
	if utf8.RuneCountInString(address) <= 10 {
		return address
	}
	runes := []rune(address)
	return string(runes[:5]) + "…" + string(runes[len(runes)-5:])
}

// ArtistLabel names the artist of t: "@twitter" when known, then the alias,
// then the shortened address. Tokens without an artist get "".
func ArtistLabel(t *types.Token) string {
	if t == nil || t.ArtistAddress == "" {
		return ""
	}
	if p := t.ArtistProfile; p != nil {
		if p.Twitter != nil && *p.Twitter != "" {
			return "@" + *p.Twitter
		}
		if p.Alias != nil && *p.Alias != "" {
			return *p.Alias
		}
	}
	return ShortenAddress(t.ArtistAddress)
}
