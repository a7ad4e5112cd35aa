package agents

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/emit"
	"deepresearch/graph/model"
	"deepresearch/graph/store"
	"deepresearch/internal/polymarket"
)

// Market-research subgraph node names.
const (
	NodeGenerateMarketQueries = "generate_market_queries"
	NodeFetchMarkets          = "fetch_markets"
	NodeRankMarkets           = "process_and_rank_markets"
	NodeEvaluateMarkets       = "evaluate_markets"
)

// Main-graph node names of the market stage.
const (
	NodeCallMarketResearch = "call_market_research"
	NodeRewritePolymarket  = "rewrite_polymarket_response"
)

// Tag selection stops after this many catalog pages even when the
// model keeps asking to continue.
const maxTagPages = 10

// maxSelectedTags bounds the accumulated tag ids.
const maxSelectedTags = 10

var tagSelectionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"tags": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"continue_search": map[string]any{"type": "boolean"},
	},
	"required":             []string{"tags", "continue_search"},
	"additionalProperties": false,
}

var rankingSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"slugs": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
		"reasoning": map[string]any{"type": "string"},
	},
	"required":             []string{"slugs", "reasoning"},
	"additionalProperties": false,
}

// MarketResearch holds the collaborators of the market-research
// subgraph and the polymarket rewrite node.
type MarketResearch struct {
	Model       model.ChatModel
	Catalog     polymarket.Catalog
	Fallback    int
	Temperature float64
}

func (mr *MarketResearch) fallback() int {
	if mr.Fallback < 1 {
		return 3
	}
	return mr.Fallback
}

// Graph builds the strictly sequential market-research subgraph.
func (mr *MarketResearch) Graph() (*graph.Graph, error) {
	g := graph.New("market", MarketSchema())
	nodes := []struct {
		name string
		fn   graph.NodeFunc
	}{
		{NodeGenerateMarketQueries, mr.generateMarketQueries},
		{NodeFetchMarkets, mr.fetchMarkets},
		{NodeRankMarkets, mr.rankMarkets},
		{NodeEvaluateMarkets, mr.evaluateMarkets},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, err
		}
	}
	for i := 0; i < len(nodes)-1; i++ {
		if err := g.AddEdge(nodes[i].name, nodes[i+1].name); err != nil {
			return nil, err
		}
	}
	if err := g.AddEdge(NodeEvaluateMarkets, graph.End); err != nil {
		return nil, err
	}
	if err := g.SetStart(NodeGenerateMarketQueries); err != nil {
		return nil, err
	}
	return g, g.Compile()
}

// generateMarketQueries walks the paginated tag catalog, letting the
// model pick relevant tag names per page until it has enough ids or
// declines to continue. Names are matched case-insensitively back to
// the page to recover ids.
func (mr *MarketResearch) generateMarketQueries(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	topic := graph.Str(s, FieldOriginalTopic)
	rc.EmitTrace("node_call", map[string]any{"node": NodeGenerateMarketQueries, "topic": topic})

	var selected []map[string]any
	chosen := make(map[string]bool)

	for page := 0; page < maxTagPages && len(selected) < maxSelectedTags; page++ {
		tags, err := mr.Catalog.FetchTags(ctx, page*polymarket.TagPageSize, polymarket.TagPageSize)
		if err != nil {
			return nil, err
		}
		if len(tags) == 0 {
			break
		}

		var decoded struct {
			Tags           []string `json:"tags"`
			ContinueSearch bool     `json:"continue_search"`
		}
		_, err = model.Decode(ctx, mr.Model, []model.Message{
			{Role: model.RoleSystem, Content: "From the tag list, pick the names relevant to the topic. Set continue_search true if later pages might hold better tags. Respond with JSON only."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Topic: %s\nTags: %s", topic, tagNames(tags))},
		}, model.Options{
			Temperature: mr.Temperature,
			JSONSchema:  tagSelectionSchema,
			SchemaName:  "tag_selection",
		}, &decoded)
		if err != nil {
			return nil, err
		}

		byName := make(map[string]polymarket.Tag, len(tags))
		for _, t := range tags {
			byName[strings.ToLower(t.Name)] = t
		}
		for _, name := range decoded.Tags {
			tag, ok := byName[strings.ToLower(strings.TrimSpace(name))]
			if !ok || chosen[tag.ID] {
				continue
			}
			chosen[tag.ID] = true
			selected = append(selected, map[string]any{"id": tag.ID, "name": tag.Name})
			if len(selected) == maxSelectedTags {
				break
			}
		}
		if !decoded.ContinueSearch {
			break
		}
	}

	rc.EmitCustom("tag_selected", map[string]any{"tags": selected})
	return graph.State{FieldSelectedTags: anySlice(selected)}, nil
}

// fetchMarkets flattens the events of every selected tag into one
// slug-deduplicated market list.
func (mr *MarketResearch) fetchMarkets(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	rc.EmitTrace("node_call", map[string]any{"node": NodeFetchMarkets})

	var events []polymarket.Event
	for _, item := range toList(s[FieldSelectedTags]) {
		tag, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := tag["id"].(string)
		if id == "" {
			continue
		}
		batch, err := mr.Catalog.FetchEventsByTagID(ctx, id)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	markets := polymarket.FlattenMarkets(events)
	raw := make([]any, 0, len(markets))
	for _, m := range markets {
		raw = append(raw, marketMap(m))
	}
	return graph.State{FieldRawEvents: raw}, nil
}

// rankMarkets asks the model to rank market slugs; full objects are
// rehydrated from raw_events so the model never round-trips them.
func (mr *MarketResearch) rankMarkets(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	raw := toList(s[FieldRawEvents])
	rc.EmitTrace("node_call", map[string]any{"node": NodeRankMarkets, "candidates": len(raw)})
	if len(raw) == 0 {
		return graph.State{FieldCandidateMarkets: []any{}}, nil
	}

	decoded, err := mr.pickSlugs(ctx, s, raw,
		"Rank the markets most relevant to the topic, best first. Return their slugs. Respond with JSON only.",
		"market_ranking")
	if err != nil {
		return nil, err
	}

	candidates := rehydrate(decoded.Slugs, raw)
	if len(candidates) == 0 {
		candidates = firstN(raw, mr.fallback())
	}
	return graph.State{
		FieldCandidateMarkets: candidates,
		FieldReasoningTrace:   []string{decoded.Reasoning},
	}, nil
}

// evaluateMarkets approves a subset of the candidates and emits one
// market_approved event per approval.
func (mr *MarketResearch) evaluateMarkets(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	candidates := toList(s[FieldCandidateMarkets])
	rc.EmitTrace("node_call", map[string]any{"node": NodeEvaluateMarkets, "candidates": len(candidates)})
	if len(candidates) == 0 {
		rc.EmitCustom("market_research_complete", map[string]any{"reasoning": "no candidate markets"})
		return graph.State{FieldApprovedMarkets: []any{}}, nil
	}

	decoded, err := mr.pickSlugs(ctx, s, candidates,
		"Approve only the markets genuinely useful for the response. Return their slugs. Respond with JSON only.",
		"market_approval")
	if err != nil {
		return nil, err
	}

	approved := rehydrate(decoded.Slugs, candidates)
	if len(approved) == 0 {
		approved = firstN(candidates, mr.fallback())
	}
	for _, item := range approved {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rc.EmitCustom("market_approved", map[string]any{
			"slug":         m["slug"],
			"clobTokenIds": m["clobTokenIds"],
			"question":     m["question"],
			"description":  m["description"],
			"rules":        m["rules"],
		})
	}
	rc.EmitCustom("market_research_complete", map[string]any{"reasoning": decoded.Reasoning})
	return graph.State{
		FieldApprovedMarkets: approved,
		FieldReasoningTrace:  []string{decoded.Reasoning},
	}, nil
}

type slugPick struct {
	Slugs     []string `json:"slugs"`
	Reasoning string   `json:"reasoning"`
}

func (mr *MarketResearch) pickSlugs(ctx context.Context, s graph.State, markets []any, instruction, schemaName string) (slugPick, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", graph.Str(s, FieldOriginalTopic))
	if response := graph.Str(s, FieldAIResponse); response != "" {
		fmt.Fprintf(&b, "Response under enrichment:\n%s\n", response)
	}
	b.WriteString("Markets:\n")
	for _, item := range markets {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %v: %v\n", m["slug"], m["question"])
	}

	var decoded slugPick
	_, err := model.Decode(ctx, mr.Model, []model.Message{
		{Role: model.RoleSystem, Content: instruction},
		{Role: model.RoleUser, Content: b.String()},
	}, model.Options{
		Temperature: mr.Temperature,
		JSONSchema:  rankingSchema,
		SchemaName:  schemaName,
	}, &decoded)
	return decoded, err
}

// rehydrate resolves slugs back to full market objects, preserving the
// model's order and dropping unknown slugs.
func rehydrate(slugs []string, markets []any) []any {
	bySlug := make(map[string]any, len(markets))
	for _, item := range markets {
		if m, ok := item.(map[string]any); ok {
			if slug, ok := m["slug"].(string); ok {
				bySlug[slug] = item
			}
		}
	}
	var out []any
	seen := make(map[string]bool)
	for _, slug := range slugs {
		slug = strings.TrimSpace(slug)
		if seen[slug] {
			continue
		}
		seen[slug] = true
		if m, ok := bySlug[slug]; ok {
			out = append(out, m)
		}
	}
	return out
}

func firstN(items []any, n int) []any {
	if len(items) < n {
		n = len(items)
	}
	return append([]any(nil), items[:n]...)
}

func marketMap(m polymarket.Market) map[string]any {
	ids := make([]any, 0, len(m.ClobTokenIDs))
	for _, id := range m.ClobTokenIDs {
		ids = append(ids, id)
	}
	return map[string]any{
		"slug":         m.Slug,
		"question":     m.Question,
		"description":  m.Description,
		"rules":        m.Rules,
		"clobTokenIds": ids,
		"event_title":  m.EventTitle,
		"event_slug":   m.EventSlug,
		"event_image":  m.EventImage,
	}
}

func tagNames(tags []polymarket.Tag) string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return strings.Join(names, ", ")
}

func anySlice[T any](items []T) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

// CallMarketResearch drives the market subgraph after the report is
// written. Market enrichment is best-effort: a subgraph failure leaves
// the report intact and the run continues without markets.
type CallMarketResearch struct {
	engine *graph.Engine
}

// NewCallMarketResearch compiles the market subgraph against the shared
// checkpoint store under its own namespace.
func NewCallMarketResearch(mr *MarketResearch, checkpoints store.Store) (*CallMarketResearch, error) {
	g, err := mr.Graph()
	if err != nil {
		return nil, err
	}
	engine, err := graph.NewEngine(g,
		graph.WithStore(checkpoints),
		graph.WithNamespace("market"),
	)
	if err != nil {
		return nil, err
	}
	return &CallMarketResearch{engine: engine}, nil
}

// Node runs the subgraph and maps its approved markets back into the
// parent state.
func (cm *CallMarketResearch) Node(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	stream := cm.engine.Run(ctx, rc.ThreadID, graph.State{
		FieldOriginalTopic: graph.Str(s, FieldUserRequest),
		FieldAIResponse:    graph.Str(s, FieldFinalReport),
	})
	for item := range stream.Items() {
		if item.Mode != graph.ModeCustom {
			continue
		}
		e := item.Envelope
		if e.Type == emit.TypeCustom || e.Type == emit.TypeTrace {
			rc.Forward(e)
		}
	}
	if err := stream.Err(); err != nil {
		if graph.IsCancellation(err) {
			return nil, err
		}
		rc.EmitTrace("custom", map[string]any{"market_research_error": err.Error()})
		return graph.State{FieldPredictionMarkets: []any{}}, nil
	}

	approved := toList(stream.Final()[FieldApprovedMarkets])
	return graph.State{FieldPredictionMarkets: approved}, nil
}

// RewriteNode appends a prediction-market blurb to the response. When a
// single outcome token id is available its recent price history is
// folded into the prompt; price lookups degrade silently.
func (mr *MarketResearch) RewriteNode(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	markets := toList(s[FieldPredictionMarkets])
	rc.EmitTrace("node_call", map[string]any{"node": NodeRewritePolymarket, "markets": len(markets)})
	if len(markets) == 0 {
		return graph.State{FieldPolymarketBlurb: ""}, nil
	}

	var b strings.Builder
	b.WriteString("Markets:\n")
	for _, item := range markets {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %v: %v\n", m["slug"], m["question"])
		if movement := mr.priceMovement(ctx, m); movement != "" {
			fmt.Fprintf(&b, "  price: %s\n", movement)
		}
	}

	out, err := mr.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Write a short paragraph relating these prediction markets (and prices, when given) to the response. Plain markdown, no preamble."},
		{Role: model.RoleUser, Content: fmt.Sprintf("Response:\n%s\n\n%s", graph.Str(s, FieldFinalReport), b.String())},
	}, &model.Options{Temperature: mr.Temperature})
	if err != nil {
		return nil, err
	}
	return graph.State{FieldPolymarketBlurb: strings.TrimSpace(out.Text)}, nil
}

// priceMovement summarizes the last day of prices for the market's
// first outcome token, or "" when unavailable.
func (mr *MarketResearch) priceMovement(ctx context.Context, m map[string]any) string {
	ids, _ := m["clobTokenIds"].([]any)
	if len(ids) == 0 {
		return ""
	}
	tokenID, _ := ids[0].(string)
	if tokenID == "" {
		return ""
	}
	points, err := mr.Catalog.FetchPriceHistory(ctx, tokenID, "1d", 60)
	if err != nil || len(points) == 0 {
		return ""
	}
	first, last := points[0].P, points[len(points)-1].P
	return fmt.Sprintf("now %.2f, 24h change %+.2f", last, last-first)
}
