package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/tag-gallery/internal/errors"
	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/moderation"
	"github.com/tag-gallery/internal/query"
	"github.com/tag-gallery/internal/resolver"
	"github.com/tag-gallery/internal/storage"
	"github.com/tag-gallery/internal/types"
)

// mockFetcher serves a fixed catalogue, truncated to the requested limit and
// filtered by platform
type mockFetcher struct {
	mu       sync.Mutex
	catalog  []*types.Token
	err      error
	requests []query.Variables
}

func newMockFetcher(n int) *mockFetcher {
	platforms := []types.Platform{types.PlatformHEN, types.PlatformOBJKT, types.PlatformFxhash}
	catalog := make([]*types.Token, n)
	for i := range catalog {
		catalog[i] = &types.Token{
			ContractAddress: "KT1catalog",
			TokenID:         strconv.Itoa(i),
			Platform:        platforms[i%len(platforms)],
			ArtistAddress:   "tz1abcdefghijklmnopqrstuvwxyz",
			ThumbnailURI:    strPtr("ipfs://Qm" + strconv.Itoa(i)),
		}
	}
	return &mockFetcher{catalog: catalog}
}

func strPtr(s string) *string { return &s }

func (m *mockFetcher) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockFetcher) lastRequest() query.Variables {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func (m *mockFetcher) FetchTokens(ctx context.Context, req *query.Request) (*types.TokensResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req.Variables)
	if m.err != nil {
		return nil, m.err
	}

	stats := types.Aggregate{
		TotalCount:     int64(len(m.catalog)),
		PlatformCounts: map[types.Platform]int64{},
	}
	var tokens []*types.Token
	for _, t := range m.catalog {
		stats.PlatformCounts[t.Platform]++
		if want, ok := req.Variables.Platform["_eq"]; ok && string(t.Platform) != want {
			continue
		}
		if len(tokens) < req.Variables.Limit {
			tokens = append(tokens, t)
		}
	}
	return &types.TokensResult{Stats: stats, Tokens: tokens}, nil
}

func newTestService(t *testing.T, f storage.Fetcher, exclusions *moderation.ExclusionList, maxSessions int) *GalleryService {
	t.Helper()
	cache := storage.NewFetchCache(f, storage.WithCacheLogger(logging.Discard()))
	assembler := NewAssembler(exclusions, resolver.NewLinks(), resolver.NewPreviews(resolver.Gateways{}, ""))
	svc := NewGalleryService(GalleryServiceConfig{
		Scope:           query.NewScope("art", ""),
		DefaultPageSize: 30,
		MaxSessions:     maxSessions,
		Logger:          logging.Discard(),
	}, cache, assembler)
	t.Cleanup(svc.Shutdown)
	return svc
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not complete")
	}
}

func TestGalleryService_LoadMoreScenario(t *testing.T) {
	f := newMockFetcher(45)
	svc := newTestService(t, f, nil, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	state, err := svc.View(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"art", "#art"}, f.lastRequest().Tags)
	assert.Equal(t, 30, state.View.ReturnedCount)
	assert.True(t, state.View.HasMore)
	assert.False(t, state.Fatal)

	done, err = svc.LoadMore(sess.ID)
	require.NoError(t, err)
	waitDone(t, done)

	state, err = svc.View(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, f.lastRequest().Limit)
	assert.Equal(t, 60, state.PageSize)
	assert.Equal(t, 45, state.View.ReturnedCount)
	assert.Len(t, state.View.Tokens, 45)
	assert.False(t, state.View.HasMore)
}

func TestGalleryService_FilterChanges(t *testing.T) {
	f := newMockFetcher(100)
	svc := newTestService(t, f, nil, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	done, err = svc.LoadMore(sess.ID)
	require.NoError(t, err)
	waitDone(t, done)

	sort := types.SortSalesVolume
	done, err = svc.SetFilter(sess.ID, FilterInput{Sort: &sort})
	require.NoError(t, err)
	waitDone(t, done)

	state, _ := svc.View(sess.ID)
	assert.Equal(t, 60, state.PageSize, "sort change keeps the page size")
	assert.Equal(t, map[string]string{"sales_volume": "desc_nulls_last"}, f.lastRequest().OrderBy)

	platform := types.PlatformFxhash
	done, err = svc.SetFilter(sess.ID, FilterInput{Platform: &platform})
	require.NoError(t, err)
	waitDone(t, done)

	state, _ = svc.View(sess.ID)
	assert.Equal(t, 30, state.PageSize, "platform change resets the page size")
	assert.Equal(t, types.PlatformFxhash, state.Platform)
	assert.Equal(t, map[string]string{"_eq": "FXHASH"}, f.lastRequest().Platform)
	for _, card := range state.View.Tokens {
		assert.Equal(t, "FXHASH", card.Platform)
	}
	for _, tab := range state.View.Facets {
		assert.Equal(t, tab.Value == types.PlatformFxhash, tab.Selected)
	}
}

func TestGalleryService_InvalidInput(t *testing.T) {
	svc := newTestService(t, newMockFetcher(10), nil, 0)

	badSort := types.SortField("price")
	_, _, err := svc.CreateSession(FilterInput{Sort: &badSort})
	assert.True(t, apperrors.IsUserError(err))

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	badPlatform := types.Platform("OPENSEA")
	_, err = svc.SetFilter(sess.ID, FilterInput{Platform: &badPlatform})
	require.Error(t, err)
	assert.Equal(t, "INVALID_PARAMETER", apperrors.Categorize(err).Code)

	_, err = svc.View("missing")
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
	_, err = svc.LoadMore("missing")
	assert.Error(t, err)
	_, err = svc.Refresh("missing")
	assert.Error(t, err)
	assert.Error(t, svc.CloseSession("missing"))
}

func TestGalleryService_ErrorPolicy(t *testing.T) {
	t.Run("error before any data is fatal", func(t *testing.T) {
		f := newMockFetcher(10)
		f.setError(apperrors.NewNetworkError("https://api.example", errors.New("refused")))
		svc := newTestService(t, f, nil, 0)

		sess, done, err := svc.CreateSession(FilterInput{})
		require.NoError(t, err)
		waitDone(t, done)

		state, err := svc.View(sess.ID)
		require.NoError(t, err)
		assert.True(t, state.Fatal)
		assert.Nil(t, state.View)
		require.NotNil(t, state.Error)
		assert.Equal(t, "NETWORK_ERROR", state.Error.Code)
	})

	t.Run("error after data keeps stale view", func(t *testing.T) {
		f := newMockFetcher(60)
		svc := newTestService(t, f, nil, 0)

		sess, done, err := svc.CreateSession(FilterInput{})
		require.NoError(t, err)
		waitDone(t, done)

		f.setError(apperrors.NewGraphQLError([]apperrors.GraphQLMessage{{Message: "bad"}}))
		done, err = svc.LoadMore(sess.ID)
		require.NoError(t, err)
		waitDone(t, done)

		state, err := svc.View(sess.ID)
		require.NoError(t, err)
		assert.False(t, state.Fatal)
		assert.True(t, state.Lagging)
		require.NotNil(t, state.View)
		assert.Len(t, state.View.Tokens, 30)
		assert.Equal(t, "GRAPHQL_ERROR", state.Error.Code)
	})
}

func TestGalleryService_Moderation(t *testing.T) {
	f := newMockFetcher(30)
	exclusions := moderation.NewExclusionList(
		types.TokenKey{ContractAddress: "KT1catalog", TokenID: "3"},
		types.TokenKey{ContractAddress: "KT1catalog", TokenID: "7"},
	)
	svc := newTestService(t, f, exclusions, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	state, _ := svc.View(sess.ID)
	assert.Len(t, state.View.Tokens, 28)
	assert.Equal(t, 30, state.View.ReturnedCount)
	assert.True(t, state.View.HasMore, "exhaustion uses the count before moderation")
	for _, card := range state.View.Tokens {
		assert.NotEqual(t, "KT1catalog:3", card.Key)
		assert.NotEqual(t, "KT1catalog:7", card.Key)
	}
}

func TestGalleryService_Refresh(t *testing.T) {
	f := newMockFetcher(30)
	svc := newTestService(t, f, nil, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	done, err = svc.Refresh(sess.ID)
	require.NoError(t, err)
	waitDone(t, done)

	f.mu.Lock()
	assert.Len(t, f.requests, 2)
	f.mu.Unlock()
}

func TestGalleryService_SessionsShareCache(t *testing.T) {
	f := newMockFetcher(30)
	svc := newTestService(t, f, nil, 0)

	a, doneA, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, doneA)
	b, doneB, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, doneB)

	assert.NotEqual(t, a.ID, b.ID)
	f.mu.Lock()
	assert.Len(t, f.requests, 1)
	f.mu.Unlock()
	assert.Equal(t, 2, svc.SessionCount())
	assert.Equal(t, 1, svc.CacheStats().Entries)
}

func TestGalleryService_MaxSessions(t *testing.T) {
	svc := newTestService(t, newMockFetcher(1), nil, 1)

	_, _, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)

	_, _, err = svc.CreateSession(FilterInput{})
	require.Error(t, err)
	assert.Equal(t, 503, apperrors.GetHTTPStatusCode(err))
}

type sessionGauge struct {
	mu sync.Mutex
	n  int
}

func (g *sessionGauge) SetActiveSessions(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = n
}

func TestGalleryService_ReapIdle(t *testing.T) {
	gauge := &sessionGauge{}
	cache := storage.NewFetchCache(newMockFetcher(1), storage.WithCacheLogger(logging.Discard()))
	svc := NewGalleryService(GalleryServiceConfig{
		Scope:    query.NewScope("art", ""),
		Observer: gauge,
		Logger:   logging.Discard(),
	}, cache, NewAssembler(nil, resolver.NewLinks(), resolver.NewPreviews(resolver.Gateways{}, "")))
	defer svc.Shutdown()

	now := time.Now()
	svc.now = func() time.Time { return now }

	old, _, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	now = now.Add(20 * time.Minute)
	fresh, _, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	assert.Equal(t, 2, gauge.n)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, svc.ReapIdle(30*time.Minute))

	_, err = svc.View(old.ID)
	assert.Error(t, err)
	_, err = svc.View(fresh.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, gauge.n)
}

func TestGalleryService_Subscribe(t *testing.T) {
	svc := newTestService(t, newMockFetcher(30), nil, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	updates, cancel, err := svc.Subscribe(sess.ID)
	require.NoError(t, err)
	defer cancel()

	platform := types.PlatformHEN
	done, err = svc.SetFilter(sess.ID, FilterInput{Platform: &platform})
	require.NoError(t, err)
	waitDone(t, done)

	var last *ViewState
	require.Eventually(t, func() bool {
		select {
		case last = <-updates:
		default:
		}
		return last != nil && !last.IsLoading
	}, time.Second, time.Millisecond)
	assert.Equal(t, types.PlatformHEN, last.Platform)

	require.NoError(t, svc.CloseSession(sess.ID))
	require.Eventually(t, func() bool {
		select {
		case _, open := <-updates:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestGalleryService_ClosedViewIsNotFound(t *testing.T) {
	f := newMockFetcher(30)
	svc := newTestService(t, f, nil, 0)

	sess, done, err := svc.CreateSession(FilterInput{})
	require.NoError(t, err)
	waitDone(t, done)

	f.mu.Lock()
	calls := len(f.requests)
	f.mu.Unlock()

	// the view is closed while the session is still registered, as when a
	// reap races a request that already looked the session up
	sess.view.Close()

	_, _, err = svc.Subscribe(sess.ID)
	require.Error(t, err)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)

	sort := types.SortSalesCount
	_, err = svc.SetFilter(sess.ID, FilterInput{Sort: &sort})
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
	_, err = svc.LoadMore(sess.ID)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)
	_, err = svc.Refresh(sess.ID)
	assert.Equal(t, apperrors.CategoryNotFound, apperrors.Categorize(err).Category)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, calls, len(f.requests))
}

func TestGalleryService_FilterDerivesDescriptor(t *testing.T) {
	svc := newTestService(t, newMockFetcher(90), nil, 0)

	platform := types.PlatformFxhash
	sess, done, err := svc.CreateSession(FilterInput{Platform: &platform})
	require.NoError(t, err)
	waitDone(t, done)

	done, err = svc.LoadMore(sess.ID)
	require.NoError(t, err)
	waitDone(t, done)

	sort := types.SortSalesCount
	done, err = svc.SetFilter(sess.ID, FilterInput{Sort: &sort})
	require.NoError(t, err)
	waitDone(t, done)

	sess.mu.Lock()
	d := sess.desc
	sess.mu.Unlock()
	assert.Equal(t, query.NewDescriptor(query.NewScope("art", ""), types.SortSalesCount, types.PlatformFxhash, 60), d)
	assert.Equal(t, d.Key(), sess.view.Snapshot().Key)
}
