package agents

import (
	"context"
	"fmt"
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/emit"
	"deepresearch/graph/model"
	"deepresearch/graph/store"
	"deepresearch/internal/search"
)

// Researcher subgraph node names.
const (
	NodeGenerateQueries = "generate_queries"
	NodePerformSearch   = "perform_search"
	NodeSynthesize      = "synthesize_research"
)

// NodeCallResearcher is the main-graph node that drives the subgraph.
const NodeCallResearcher = "call_researcher"

var queriesSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"queries": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
	"required":             []string{"queries"},
	"additionalProperties": false,
}

// Researcher holds the collaborators of the researcher subgraph.
type Researcher struct {
	Model       model.ChatModel
	Search      search.Searcher
	Temperature float64
}

// Graph builds the researcher subgraph: generate queries, search all of
// them in parallel, synthesize one summary.
func (r *Researcher) Graph() (*graph.Graph, error) {
	g := graph.New("researcher", ResearcherSchema())
	if err := g.AddNode(NodeGenerateQueries, r.generateQueries); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodePerformSearch, r.performSearch); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeSynthesize, r.synthesize); err != nil {
		return nil, err
	}
	if err := g.AddFanOut(NodeGenerateQueries, NodePerformSearch, searchBranches); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodePerformSearch, NodeSynthesize); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeSynthesize, graph.End); err != nil {
		return nil, err
	}
	if err := g.SetStart(NodeGenerateQueries); err != nil {
		return nil, err
	}
	return g, g.Compile()
}

// searchBranches produces one perform_search branch per query.
func searchBranches(s graph.State) []graph.State {
	queries := graph.Strings(s, FieldQueries)
	branches := make([]graph.State, 0, len(queries))
	for _, q := range queries {
		branches = append(branches, graph.State{
			FieldTopic:        s[FieldTopic],
			FieldQuery:        q,
			FieldQueryBreadth: s[FieldQueryBreadth],
		})
	}
	return branches
}

func (r *Researcher) generateQueries(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	topic := graph.Str(s, FieldTopic)
	target := graph.Int(s, FieldQueryBreadth)
	if target < 1 {
		target = 2
	}
	rc.EmitTrace("node_call", map[string]any{"node": NodeGenerateQueries, "topic": topic})

	var decoded struct {
		Queries []string `json:"queries"`
	}
	_, err := model.Decode(ctx, r.Model, []model.Message{
		{Role: model.RoleSystem, Content: fmt.Sprintf(
			"Produce %d distinct short web-search queries covering the topic. Respond with JSON only.", target)},
		{Role: model.RoleUser, Content: topic},
	}, model.Options{
		Temperature: r.Temperature,
		JSONSchema:  queriesSchema,
		SchemaName:  "search_queries",
	}, &decoded)
	if err != nil {
		return nil, err
	}

	queries := dedupeQueries(decoded.Queries, target)
	if len(queries) == 0 {
		queries = []string{topic}
	}
	rc.EmitCustom("generated_queries", map[string]any{"queries": queries})
	return graph.State{FieldQueries: queries}, nil
}

func dedupeQueries(queries []string, max int) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == max {
			break
		}
	}
	return out
}

// performSearch is the fan-out branch body: one web search per query.
func (r *Researcher) performSearch(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	query := graph.Str(s, FieldQuery)
	breadth := graph.Int(s, FieldQueryBreadth)
	if breadth < 1 {
		breadth = 2
	}

	rc.EmitCustom("search_start", map[string]any{"query": query})
	hits, err := r.Search.Search(ctx, query, breadth)
	if err != nil {
		return nil, err
	}
	rc.EmitTrace("search", map[string]any{"query": query, "hits": len(hits)})

	results := make([]any, 0, len(hits))
	for _, hit := range hits {
		rc.EmitCustom("web_search_url", map[string]any{
			"url":      hit.URL,
			"markdown": fmt.Sprintf("[%s](%s)", hit.Title, hit.URL),
		})
		results = append(results, map[string]any{
			"query":   query,
			"url":     hit.URL,
			"title":   hit.Title,
			"content": hit.Content,
		})
	}
	return graph.State{FieldSearchResults: results}, nil
}

func (r *Researcher) synthesize(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	topic := graph.Str(s, FieldTopic)
	results, _ := s[FieldSearchResults].([]any)

	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nSources:\n", topic)
	for _, item := range results {
		hit, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %v (%v): %v\n", hit["title"], hit["url"], hit["content"])
	}

	out, err := r.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: "Synthesize the sources into a single markdown research summary. Cite URLs inline."},
		{Role: model.RoleUser, Content: b.String()},
	}, &model.Options{Temperature: r.Temperature})
	if err != nil {
		return nil, err
	}

	summary := strings.TrimSpace(out.Text)
	rc.EmitCustom("research_synthesis_done", map[string]any{"summary": summary})
	return graph.State{FieldResearchSummary: summary}, nil
}

// CallResearcher drives one research cycle from the main graph. It owns
// the run-scoped URL set: across one main-graph run at most one
// web_search_url envelope is forwarded per distinct URL, even across
// research cycles. Construct one per main-graph run.
type CallResearcher struct {
	engine   *graph.Engine
	seenURLs map[string]bool
}

// NewCallResearcher compiles the researcher subgraph against the shared
// checkpoint store under its own namespace.
func NewCallResearcher(r *Researcher, checkpoints store.Store) (*CallResearcher, error) {
	g, err := r.Graph()
	if err != nil {
		return nil, err
	}
	engine, err := graph.NewEngine(g,
		graph.WithStore(checkpoints),
		graph.WithNamespace("researcher"),
	)
	if err != nil {
		return nil, err
	}
	return &CallResearcher{engine: engine, seenURLs: make(map[string]bool)}, nil
}

// Node runs the subgraph, forwards its envelopes and appends the
// resulting summary as one research note.
func (cr *CallResearcher) Node(ctx context.Context, s graph.State, rc *graph.RunContext) (graph.State, error) {
	topic := graph.Str(s, FieldNextTopic)
	breadth := 3
	if graph.Str(s, FieldAnswerFormat) == FormatReport {
		breadth = 5
	}

	stream := cr.engine.Run(ctx, rc.ThreadID, graph.State{
		FieldTopic:        topic,
		FieldQueryBreadth: breadth,
	})
	for item := range stream.Items() {
		if item.Mode != graph.ModeCustom {
			continue
		}
		cr.forward(rc, item.Envelope)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	summary := graph.Str(stream.Final(), FieldResearchSummary)
	note := fmt.Sprintf("### Research: %s\n\n%s", topic, summary)
	return graph.State{
		FieldResearchNotes: []string{note},
	}, nil
}

// forward republishes subgraph envelopes on the parent bus. Only custom
// and trace envelopes cross the boundary; subgraph state updates stay
// internal. web_search_url envelopes dedup by URL.
func (cr *CallResearcher) forward(rc *graph.RunContext, e emit.Envelope) {
	if e.Type != emit.TypeCustom && e.Type != emit.TypeTrace {
		return
	}
	if e.Event == "web_search_url" {
		url, _ := e.Payload["url"].(string)
		if url == "" || cr.seenURLs[url] {
			return
		}
		cr.seenURLs[url] = true
	}
	rc.Forward(e)
}
