package service

import (
	"strconv"
	"time"

	"github.com/tag-gallery/internal/display"
	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/moderation"
	"github.com/tag-gallery/internal/resolver"
	"github.com/tag-gallery/internal/storage"
	"github.com/tag-gallery/internal/types"
)

// ViewModel is the shaped gallery page consumed by the presentation layer
type ViewModel struct {
	Stats         StatsView   `json:"stats"`
	Facets        []FacetTab  `json:"facets"`
	Tokens        []TokenCard `json:"tokens"`
	HasMore       bool        `json:"hasMore"`
	ReturnedCount int         `json:"returnedCount"`
	PageSize      int         `json:"pageSize"`
}

// StatsView holds the aggregate numbers shown above the grid
type StatsView struct {
	Artworks        int64  `json:"artworks"`
	Artists         int64  `json:"artists"`
	Sales           int64  `json:"sales"`
	Volume          *int64 `json:"volume"`
	VolumeFormatted string `json:"volumeFormatted"`
}

// FacetTab is one platform filter tab. ALL is always first.
type FacetTab struct {
	Value    types.Platform `json:"value"`
	Label    string         `json:"label"`
	Count    int64          `json:"count"`
	Title    string         `json:"title"`
	Disabled bool           `json:"disabled"`
	Selected bool           `json:"selected"`
}

// TokenCard is one tile of the grid
type TokenCard struct {
	ContractAddress string     `json:"contractAddress"`
	TokenID         string     `json:"tokenId"`
	Key             string     `json:"key"`
	Name            string     `json:"name"`
	Platform        string     `json:"platform"`
	PlatformLabel   string     `json:"platformLabel"`
	Editions        int64      `json:"editions"`
	Sales           int64      `json:"sales"`
	Price           string     `json:"price"`
	Artist          string     `json:"artist"`
	ArtistAddress   string     `json:"artistAddress"`
	MimeType        string     `json:"mimeType,omitempty"`
	MintedAt        *time.Time `json:"mintedAt,omitempty"`
	Link            string     `json:"link,omitempty"`
	HasLink         bool       `json:"hasLink"`
	Preview         string     `json:"preview,omitempty"`
	HasPreview      bool       `json:"hasPreview"`
}

// Assembler shapes raw responses into view models
type Assembler struct {
	exclusions *moderation.ExclusionList
	links      *resolver.Links
	previews   *resolver.Previews
}

// NewAssembler creates an assembler. A nil exclusion list hides nothing.
func NewAssembler(exclusions *moderation.ExclusionList, links *resolver.Links, previews *resolver.Previews) *Assembler {
	return &Assembler{exclusions: exclusions, links: links, previews: previews}
}

// Assemble shapes result for a request of pageSize rows with selected as the
// active platform tab. HasMore looks at the count returned upstream, before
// moderation, so hidden tokens never stop pagination early.
func (a *Assembler) Assemble(result *types.TokensResult, pageSize int, selected types.Platform) *ViewModel {
	if result == nil {
		return nil
	}

	returned := len(result.Tokens)
	visible := a.exclusions.Filter(result.Tokens)

	cards := make([]TokenCard, 0, len(visible))
	for _, t := range visible {
		cards = append(cards, a.card(t))
	}

	return &ViewModel{
		Stats: StatsView{
			Artworks:        result.Stats.TotalCount,
			Artists:         result.Stats.ArtistsCount,
			Sales:           result.Stats.TotalSalesCount,
			Volume:          result.Stats.TotalSalesVolume,
			VolumeFormatted: display.FormatTez(result.Stats.TotalSalesVolume),
		},
		Facets:        facets(result.Stats, selected),
		Tokens:        cards,
		HasMore:       HasMore(returned, pageSize),
		ReturnedCount: returned,
		PageSize:      pageSize,
	}
}

func (a *Assembler) card(t *types.Token) TokenCard {
	link, hasLink := a.links.Link(t)
	preview := a.previews.Preview(t)

	return TokenCard{
		ContractAddress: t.ContractAddress,
		TokenID:         t.TokenID,
		Key:             t.Key().String(),
		Name:            t.Name,
		Platform:        string(t.Platform),
		PlatformLabel:   t.Platform.Label(),
		Editions:        t.Editions,
		Sales:           t.SalesCount,
		Price:           display.FormatTez(t.Price),
		Artist:          display.ArtistLabel(t),
		ArtistAddress:   t.ArtistAddress,
		MimeType:        t.MimeType,
		MintedAt:        t.MintedAt,
		Link:            link,
		HasLink:         hasLink,
		Preview:         preview,
		HasPreview:      preview != resolver.NoPreview,
	}
}

// facets builds the ALL tab followed by one tab per platform. Tabs without
// tokens are disabled.
func facets(stats types.Aggregate, selected types.Platform) []FacetTab {
	tabs := make([]FacetTab, 0, len(types.AllPlatforms)+1)
	tabs = append(tabs, tab(types.PlatformAll, stats.TotalCount, selected))
	for _, p := range types.AllPlatforms {
		tabs = append(tabs, tab(p, stats.PlatformCounts[p], selected))
	}
	return tabs
}

func tab(p types.Platform, count int64, selected types.Platform) FacetTab {
	return FacetTab{
		Value:    p,
		Label:    p.Label(),
		Count:    count,
		Title:    p.Label() + " (" + strconv.FormatInt(count, 10) + ")",
		Disabled: count == 0,
		Selected: p == selected,
	}
}

// ViewState is the full state of a session as served to clients
type ViewState struct {
	SessionID string              `json:"sessionId"`
	Sort      types.SortField     `json:"sort"`
	Platform  types.Platform      `json:"platform"`
	PageSize  int                 `json:"pageSize"`
	IsLoading bool                `json:"isLoading"`
	Lagging   bool                `json:"lagging"`
	Loaded    bool                `json:"loaded"`
	Fatal     bool                `json:"fatal"`
	Error     *types.ServiceError `json:"error,omitempty"`
	View      *ViewModel          `json:"view,omitempty"`
	Version   uint64              `json:"version"`
}

// State combines a snapshot with its view model. Fatal is only set when an
// error occurred and nothing was ever loaded; otherwise stale data is shown
// with the error beside it.
func (a *Assembler) State(sessionID string, snap storage.Snapshot) *ViewState {
	state := &ViewState{
		SessionID: sessionID,
		Sort:      snap.Descriptor.Sort,
		Platform:  snap.Descriptor.Platform,
		PageSize:  snap.Descriptor.PageSize,
		IsLoading: snap.IsLoading,
		Lagging:   snap.Lagging(),
		Loaded:    snap.EverLoaded,
		Version:   snap.Version,
	}
	if snap.Data != nil {
		state.View = a.Assemble(snap.Data, snap.DataDescriptor.PageSize, snap.Descriptor.Platform)
	}
	if snap.Error != nil {
		state.Error = apperrors.Categorize(snap.Error).ToServiceError()
		state.Fatal = !snap.EverLoaded
	}
	return state
}
