// Package adapter talks to the upstream token indexer.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tag-gallery/internal/circuitbreaker"
	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/types"
)

// Budget meters upstream requests. Acquire returns an error when none are left.
type Budget interface {
	Acquire(ctx context.Context) error
}

// Fetcher executes one aggregated gallery request
type Fetcher interface {
	FetchTokens(ctx context.Context, req *query.Request) (*types.TokensResult, error)
}

// TeztokClient executes gallery queries against a Hasura-style GraphQL endpoint
type TeztokClient struct {
	endpoint   string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	budget     Budget
	logger     *logging.Logger
}

// TeztokOption customizes a TeztokClient
type TeztokOption func(*TeztokClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) TeztokOption {
	return func(tc *TeztokClient) { tc.httpClient = c }
}

// WithCircuitBreaker fails fast while the upstream is unreachable
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) TeztokOption {
	return func(tc *TeztokClient) { tc.breaker = cb }
}

// WithBudget meters every request through b
func WithBudget(b Budget) TeztokOption {
	return func(tc *TeztokClient) { tc.budget = b }
}

// WithLogger sets the client logger
func WithLogger(l *logging.Logger) TeztokOption {
	return func(tc *TeztokClient) { tc.logger = l }
}

// NewTeztokClient creates a new upstream client
func NewTeztokClient(endpoint string, timeout time.Duration, opts ...TeztokOption) *TeztokClient {
	c := &TeztokClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("teztok")
	return c
}

// IsBreakerFailure reports whether err says the upstream itself is unhealthy.
// Query errors and budget refusals leave the circuit alone.
func IsBreakerFailure(err error) bool {
	catErr := apperrors.Categorize(err)
	return catErr.Category == apperrors.CategoryNetwork
}

// FetchTokens posts req and decodes the aggregated response. It never retries.
func (c *TeztokClient) FetchTokens(ctx context.Context, req *query.Request) (*types.TokensResult, error) {
	if c.budget != nil {
		if err := c.budget.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	var result *types.TokensResult
	call := func(ctx context.Context) error {
		var err error
		result, err = c.do(ctx, req)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(ctx, call)
		if stderrors.Is(err, circuitbreaker.ErrCircuitOpen) || stderrors.Is(err, circuitbreaker.ErrTooManyRequests) {
			err = apperrors.NewNetworkError(c.endpoint, err)
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *TeztokClient) do(ctx context.Context, req *query.Request) (*types.TokensResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode upstream request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.NewInternalError("failed to create upstream request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			// caller went away, the upstream is not at fault
			return nil, ctx.Err()
		}
		return nil, apperrors.NewNetworkError(c.endpoint, err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, apperrors.NewNetworkError(c.endpoint, err)
	}

	log := c.logger.WithFields(map[string]interface{}{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
		"limit":    req.Variables.Limit,
	})

	var envelope graphQLResponse
	parseErr := json.Unmarshal(body, &envelope)
	if len(envelope.Errors) > 0 {
		// Hasura answers rejected queries with 400 and an errors array
		log.WithField("error", envelope.Errors[0].Message).Warn("upstream query returned errors")
		return nil, apperrors.NewGraphQLError(envelope.Errors)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("upstream returned non-200 status")
		return nil, apperrors.NewUpstreamStatusError(c.endpoint, resp.StatusCode)
	}
	if parseErr != nil {
		return nil, apperrors.NewNetworkError(c.endpoint, fmt.Errorf("failed to parse response: %w", parseErr))
	}
	if envelope.Data == nil {
		return nil, apperrors.NewNetworkError(c.endpoint, stderrors.New("response has no data"))
	}

	result, err := envelope.Data.toResult()
	if err != nil {
		return nil, apperrors.NewNetworkError(c.endpoint, err)
	}
	log.WithField("tokens", len(result.Tokens)).Debug("upstream query completed")
	return result, nil
}

// graphQLResponse is the standard GraphQL response envelope
type graphQLResponse struct {
	Data   *galleryData               `json:"data"`
	Errors []apperrors.GraphQLMessage `json:"errors"`
}

// galleryData holds the aliased blocks of the gallery query. Facet aliases are
// dynamic, so the raw object is kept and read by alias.
type galleryData struct {
	raw map[string]json.RawMessage
}

func (g *galleryData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &g.raw)
}

type aggregateBlock struct {
	Aggregate struct {
		Count        flexInt `json:"count"`
		ArtistsCount flexInt `json:"artists_count"`
		Sum          struct {
			SalesCount  flexInt `json:"sales_count"`
			SalesVolume flexInt `json:"sales_volume"`
		} `json:"sum"`
	} `json:"aggregate"`
}

type tokenDTO struct {
	FA2Address    string               `json:"fa2_address"`
	TokenID       flexString           `json:"token_id"`
	Platform      string               `json:"platform"`
	Editions      flexInt              `json:"editions"`
	SalesCount    flexInt              `json:"sales_count"`
	SalesVolume   flexInt              `json:"sales_volume"`
	ArtistAddress string               `json:"artist_address"`
	ArtistProfile *types.ArtistProfile `json:"artist_profile"`
	DisplayURI    *string              `json:"display_uri"`
	ThumbnailURI  *string              `json:"thumbnail_uri"`
	FA2           *types.Collection    `json:"fa2"`
	Name          *string              `json:"name"`
	Description   *string              `json:"description"`
	MimeType      *string              `json:"mime_type"`
	MintedAt      *string              `json:"minted_at"`
	Price         flexInt              `json:"price"`
}

func (g *galleryData) toResult() (*types.TokensResult, error) {
	var stats aggregateBlock
	if err := g.decode(query.StatsAlias, &stats); err != nil {
		return nil, err
	}

	agg := types.Aggregate{
		TotalCount:       stats.Aggregate.Count.value(),
		ArtistsCount:     stats.Aggregate.ArtistsCount.value(),
		TotalSalesCount:  stats.Aggregate.Sum.SalesCount.value(),
		TotalSalesVolume: stats.Aggregate.Sum.SalesVolume.ptr(),
		PlatformCounts:   make(map[types.Platform]int64, len(types.AllPlatforms)),
	}
	for _, p := range types.AllPlatforms {
		var facet aggregateBlock
		if err := g.decode(query.FacetAlias(p), &facet); err != nil {
			return nil, err
		}
		agg.PlatformCounts[p] = facet.Aggregate.Count.value()
	}

	var dtos []tokenDTO
	if err := g.decode("tokens", &dtos); err != nil {
		return nil, err
	}
	tokens := make([]*types.Token, 0, len(dtos))
	for i := range dtos {
		tokens = append(tokens, dtos[i].toToken())
	}

	return &types.TokensResult{Stats: agg, Tokens: tokens}, nil
}

func (g *galleryData) decode(alias string, v interface{}) error {
	raw, ok := g.raw[alias]
	if !ok {
		return fmt.Errorf("response is missing %q", alias)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to parse %q: %w", alias, err)
	}
	return nil
}

func (d *tokenDTO) toToken() *types.Token {
	t := &types.Token{
		ContractAddress: d.FA2Address,
		TokenID:         string(d.TokenID),
		Platform:        types.Platform(d.Platform),
		Editions:        d.Editions.value(),
		SalesCount:      d.SalesCount.value(),
		SalesVolume:     d.SalesVolume.ptr(),
		ArtistAddress:   d.ArtistAddress,
		ArtistProfile:   d.ArtistProfile,
		DisplayURI:      d.DisplayURI,
		ThumbnailURI:    d.ThumbnailURI,
		Collection:      d.FA2,
		Name:            deref(d.Name),
		Description:     deref(d.Description),
		MimeType:        deref(d.MimeType),
		Price:           d.Price.ptr(),
	}
	if d.MintedAt != nil {
		if ts, err := time.Parse(time.RFC3339, *d.MintedAt); err == nil {
			t.MintedAt = &ts
		}
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// flexInt accepts a JSON number, a numeric string or null. Hasura serializes
// bigint and numeric columns as strings.
type flexInt struct {
	v     int64
	valid bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		*f = flexInt{}
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt{v: i, valid: true}
		return nil
	}
	// numeric columns may carry a fractional part
	fl, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid integer %s", string(data))
	}
	*f = flexInt{v: int64(fl), valid: true}
	return nil
}

func (f flexInt) value() int64 {
	return f.v
}

func (f flexInt) ptr() *int64 {
	if !f.valid {
		return nil
	}
	v := f.v
	return &v
}

// flexString accepts a JSON string or number
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString(strings.Trim(string(data), `"`))
	return nil
}
