package query

import (
	"fmt"
	"strings"

	"github.com/tag-gallery/internal/types"
)

// Request is the GraphQL payload sent to the upstream endpoint
type Request struct {
	Query         string    `json:"query"`
	OperationName string    `json:"operationName"`
	Variables     Variables `json:"variables"`
}

// Variables are the GraphQL variables of the TokensByTags operation
type Variables struct {
	Tags     []string          `json:"tags"`
	OrderBy  map[string]string `json:"orderBy"`
	Platform map[string]string `json:"platform"`
	Limit    int               `json:"limit"`
}

// OperationName of the aggregated gallery query
const OperationName = "TokensByTags"

// StatsAlias is the alias of the unfiltered aggregate block
const StatsAlias = "stats"

// FacetAlias returns the alias of a platform's facet count block
func FacetAlias(p types.Platform) string {
	return "stats_" + strings.ToLower(string(p))
}

// tokenFields lists every attribute requested for a token
const tokenFields = `
      fa2_address
      token_id
      platform
      editions
      sales_count
      sales_volume
      artist_address
      artist_profile {
        twitter
        alias
      }
      display_uri
      thumbnail_uri
      fa2 {
        collection_thumbnail_uri
      }
      name
      description
      mime_type
      minted_at
      price`

// Build renders a descriptor into the request parameter set. The extra
// predicate lands in every where clause so facet counts, totals and the token
// list share the same scope.
func Build(d Descriptor) *Request {
	var b strings.Builder

	b.WriteString("query TokensByTags($tags: [String], $orderBy: tokens_order_by!, $platform: String_comparison_exp!, $limit: Int!) {\n")

	fmt.Fprintf(&b, "  %s: tokens_aggregate(where: %s) {\n", StatsAlias, whereClause(d.ExtraPredicate))
	b.WriteString("    aggregate {\n      count\n      artists_count: count(distinct: true, columns: artist_address)\n      sum {\n        sales_count\n        sales_volume\n      }\n    }\n  }\n")

	for _, p := range types.AllPlatforms {
		where := whereClause(d.ExtraPredicate, fmt.Sprintf(`platform: { _eq: "%s" }`, p))
		fmt.Fprintf(&b, "  %s: tokens_aggregate(where: %s) {\n    aggregate {\n      count\n    }\n  }\n", FacetAlias(p), where)
	}

	listWhere := whereClause(d.ExtraPredicate, `editions: { _gt: "0" }`, "platform: $platform")
	fmt.Fprintf(&b, "  tokens(where: %s, limit: $limit, order_by: [$orderBy]) {%s\n  }\n}\n", listWhere, tokenFields)

	return &Request{
		Query:         b.String(),
		OperationName: OperationName,
		Variables:     buildVariables(d),
	}
}

func buildVariables(d Descriptor) Variables {
	tags := make([]string, len(d.Tags))
	copy(tags, d.Tags)

	platform := map[string]string{}
	if d.Platform != types.PlatformAll {
		platform["_eq"] = string(d.Platform)
	}

	return Variables{
		Tags:     tags,
		OrderBy:  map[string]string{string(d.Sort): d.Sort.Direction()},
		Platform: platform,
		Limit:    d.PageSize,
	}
}

// whereClause joins the base tag filter, extra conditions and the configured
// predicate into one GraphQL object literal.
func whereClause(extraPredicate string, conditions ...string) string {
	parts := []string{
		"tags: { tag: { _in: $tags } }",
		"display_uri: { _is_null: false }",
	}
	parts = append(parts, conditions...)
	if extraPredicate != "" {
		parts = append(parts, extraPredicate)
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}
