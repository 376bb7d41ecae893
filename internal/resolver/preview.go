package resolver

import (
	"strings"

	"github.com/tag-gallery/internal/types"
)

// DefaultPlaceholder is the thumbnail fxhash serves for tokens whose art has
// not been rendered yet
const DefaultPlaceholder = "ipfs://QmYwSwa5hP4346GqD7hAjutwJSmeYTdiLQ7Wec2C7Cez1D"

// NoPreview is returned when a token has no resolvable image
const NoPreview = ""

// Gateways maps content-addressed URIs to HTTP
type Gateways struct {
	Default    string
	ByPlatform map[types.Platform]string
}

// Previews resolves the image shown for a token in the grid
type Previews struct {
	gateways    Gateways
	placeholder string
}

// NewPreviews creates a preview resolver. An empty placeholder uses DefaultPlaceholder.
func NewPreviews(gateways Gateways, placeholder string) *Previews {
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if gateways.Default == "" {
		gateways.Default = "https://ipfs.io/ipfs/"
	}
	return &Previews{gateways: gateways, placeholder: placeholder}
}

// Preview returns the HTTP image URL for t, or NoPreview. The thumbnail is
// preferred; a placeholder thumbnail gives way to the collection thumbnail.
func (p *Previews) Preview(t *types.Token) string {
	if t == nil {
		return NoPreview
	}

	thumb := deref(t.ThumbnailURI)
	display := deref(t.DisplayURI)
	collection := t.CollectionThumbnail()

	var candidates []string
	if thumb == p.placeholder {
		candidates = []string{collection, display, thumb}
	} else {
		candidates = []string{thumb, display, collection}
	}

	for _, uri := range candidates {
		if url, ok := p.toHTTP(uri, t.Platform); ok {
			return url
		}
	}
	return NoPreview
}

// toHTTP rewrites ipfs:// through the platform gateway and passes http(s)
// through. Anything else cannot be displayed.
func (p *Previews) toHTTP(uri string, platform types.Platform) (string, bool) {
	uri = strings.TrimSpace(uri)
	switch {
	case uri == "":
		return "", false
	case strings.HasPrefix(uri, "ipfs://"):
		hash := strings.TrimPrefix(uri, "ipfs://")
		hash = strings.TrimPrefix(hash, "ipfs/")
		if hash == "" {
			return "", false
		}
		return p.gateway(platform) + hash, true
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		return uri, true
	}
	return "", false
}

func (p *Previews) gateway(platform types.Platform) string {
	if gw, ok := p.gateways.ByPlatform[platform]; ok && gw != "" {
		return withSlash(gw)
	}
	return withSlash(p.gateways.Default)
}

func withSlash(s string) string {
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
