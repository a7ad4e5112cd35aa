package agents

import (
	"strings"
	"testing"

	"deepresearch/graph"
	"deepresearch/graph/model"
	"deepresearch/graph/store"
	"deepresearch/internal/polymarket"
)

func marketCatalog() *fakeCatalog {
	return &fakeCatalog{
		tagPages: [][]polymarket.Tag{
			{{ID: "21", Name: "Politics"}, {ID: "7", Name: "Sports"}},
			{{ID: "33", Name: "Crypto"}},
		},
		events: map[string][]polymarket.Event{
			"21": {{
				Title: "2026 Election", Slug: "2026-election", Image: "img",
				Markets: []polymarket.EventMarket{
					{Slug: "dem-wins", Question: "Will the Democrat win?", ClobTokenIDs: `["111","222"]`},
					{Slug: "gop-wins", Question: "Will the Republican win?", ClobTokenIDs: `["333","444"]`},
				},
			}},
			"33": {{
				Title: "BTC 2026", Slug: "btc-2026",
				Markets: []polymarket.EventMarket{
					{Slug: "dem-wins", Question: "duplicate slug, dropped"},
					{Slug: "btc-100k", Question: "BTC above 100k?", ClobTokenIDs: `["555"]`},
				},
			}},
		},
	}
}

func TestGenerateMarketQueriesAccumulatesTagsAcrossPages(t *testing.T) {
	mock := model.NewMockModel(
		model.MockText(`{"tags":["politics"],"continue_search":true}`),
		model.MockText(`{"tags":["Crypto","Unknown Tag"],"continue_search":true}`),
	)
	catalog := marketCatalog()
	mr := &MarketResearch{Model: mock, Catalog: catalog}

	run := runNode(t, NodeGenerateMarketQueries, mr.generateMarketQueries, MarketSchema(), graph.State{
		FieldOriginalTopic: "us politics",
	})
	if run.err != nil {
		t.Fatalf("run: %v", run.err)
	}

	selected := toList(run.update[FieldSelectedTags])
	if len(selected) != 2 {
		t.Fatalf("selected_tags = %v", selected)
	}
	first := selected[0].(map[string]any)
	second := selected[1].(map[string]any)
	if first["id"] != "21" || first["name"] != "Politics" {
		t.Errorf("first tag = %v (case-insensitive name match should recover the id)", first)
	}
	if second["id"] != "33" {
		t.Errorf("second tag = %v", second)
	}

	picks := events(run.envelopes, "tag_selected")
	if len(picks) != 1 {
		t.Fatalf("tag_selected events = %d, want exactly 1", len(picks))
	}
	// Both pages consumed, then the empty third page stops the walk.
	if catalog.tagCalls != 3 {
		t.Errorf("tag pages fetched = %d", catalog.tagCalls)
	}
}

func TestGenerateMarketQueriesStopsWhenModelDeclines(t *testing.T) {
	mock := model.NewMockModel(model.MockText(`{"tags":["Sports"],"continue_search":false}`))
	catalog := marketCatalog()
	mr := &MarketResearch{Model: mock, Catalog: catalog}

	run := runNode(t, NodeGenerateMarketQueries, mr.generateMarketQueries, MarketSchema(), graph.State{
		FieldOriginalTopic: "sports",
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if catalog.tagCalls != 1 {
		t.Errorf("tag pages fetched = %d, want 1", catalog.tagCalls)
	}
	if len(mock.Calls()) != 1 {
		t.Errorf("model calls = %d, want 1", len(mock.Calls()))
	}
}

func TestFetchMarketsFlattensAndDedups(t *testing.T) {
	mr := &MarketResearch{Model: model.NewMockModel(), Catalog: marketCatalog()}

	run := runNode(t, NodeFetchMarkets, mr.fetchMarkets, MarketSchema(), graph.State{
		FieldSelectedTags: []any{
			map[string]any{"id": "21", "name": "Politics"},
			map[string]any{"id": "33", "name": "Crypto"},
		},
	})
	if run.err != nil {
		t.Fatal(run.err)
	}

	raw := toList(run.update[FieldRawEvents])
	if len(raw) != 3 {
		t.Fatalf("raw_events = %d, want 3 (duplicate slug dropped)", len(raw))
	}
	first := raw[0].(map[string]any)
	if first["slug"] != "dem-wins" || first["event_title"] != "2026 Election" {
		t.Errorf("first market = %v", first)
	}
}

func TestRankMarketsRehydratesBySlug(t *testing.T) {
	mock := model.NewMockModel(model.MockText(
		`{"slugs":["btc-100k","dem-wins","ghost-slug"],"reasoning":"crypto first"}`))
	mr := &MarketResearch{Model: mock, Catalog: marketCatalog()}

	raw := []any{
		map[string]any{"slug": "dem-wins", "question": "q1", "clobTokenIds": []any{"111"}},
		map[string]any{"slug": "gop-wins", "question": "q2"},
		map[string]any{"slug": "btc-100k", "question": "q3", "clobTokenIds": []any{"555"}},
	}
	run := runNode(t, NodeRankMarkets, mr.rankMarkets, MarketSchema(), graph.State{
		FieldOriginalTopic: "markets",
		FieldRawEvents:     raw,
	})
	if run.err != nil {
		t.Fatal(run.err)
	}

	candidates := toList(run.update[FieldCandidateMarkets])
	if len(candidates) != 2 {
		t.Fatalf("candidates = %v (unknown slug must drop)", candidates)
	}
	first := candidates[0].(map[string]any)
	if first["slug"] != "btc-100k" {
		t.Errorf("order not preserved: %v", first)
	}
	// Rehydration keeps fields the model never saw.
	ids, _ := first["clobTokenIds"].([]any)
	if len(ids) != 1 || ids[0] != "555" {
		t.Errorf("clobTokenIds lost in rehydration: %v", first)
	}
}

func TestEvaluateMarketsFallbackOnEmptyApproval(t *testing.T) {
	mock := model.NewMockModel(model.MockText(`{"slugs":[],"reasoning":"none convinced me"}`))
	mr := &MarketResearch{Model: mock, Catalog: marketCatalog(), Fallback: 2}

	candidates := []any{
		map[string]any{"slug": "a", "question": "qa", "clobTokenIds": []any{"1"}},
		map[string]any{"slug": "b", "question": "qb"},
		map[string]any{"slug": "c", "question": "qc"},
	}
	run := runNode(t, NodeEvaluateMarkets, mr.evaluateMarkets, MarketSchema(), graph.State{
		FieldCandidateMarkets: candidates,
	})
	if run.err != nil {
		t.Fatal(run.err)
	}

	approved := toList(run.update[FieldApprovedMarkets])
	if len(approved) != 2 {
		t.Fatalf("approved = %d, want fallback 2", len(approved))
	}
	if approved[0].(map[string]any)["slug"] != "a" || approved[1].(map[string]any)["slug"] != "b" {
		t.Errorf("fallback order = %v", approved)
	}

	if got := len(events(run.envelopes, "market_approved")); got != 2 {
		t.Errorf("market_approved events = %d", got)
	}
	done := events(run.envelopes, "market_research_complete")
	if len(done) != 1 || done[0].Payload["reasoning"] != "none convinced me" {
		t.Errorf("market_research_complete = %v", done)
	}
}

func TestCallMarketResearchDegradesOnFailure(t *testing.T) {
	// Decode exhausts both attempts on non-JSON output, a permanent
	// failure inside the subgraph; the parent node degrades to an empty
	// market list instead of failing the run.
	mock := model.NewMockModel(model.MockText("not json"))
	cm, err := NewCallMarketResearch(&MarketResearch{Model: mock, Catalog: marketCatalog()}, store.NewMemStore())
	if err != nil {
		t.Fatal(err)
	}

	run := runNode(t, NodeCallMarketResearch, cm.Node, SupervisorSchema(50), graph.State{
		FieldUserRequest: "anything",
		FieldFinalReport: "the report",
	})
	if run.err != nil {
		t.Fatalf("market failure must not fail the run: %v", run.err)
	}
	if markets := toList(run.update[FieldPredictionMarkets]); len(markets) != 0 {
		t.Errorf("prediction_markets = %v", markets)
	}
}

func TestRewriteNodeSkipsWithoutMarkets(t *testing.T) {
	mock := model.NewMockModel()
	mr := &MarketResearch{Model: mock, Catalog: marketCatalog()}

	run := runNode(t, NodeRewritePolymarket, mr.RewriteNode, SupervisorSchema(50), graph.State{
		FieldFinalReport:       "report",
		FieldPredictionMarkets: []any{},
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if blurb, ok := run.update[FieldPolymarketBlurb]; !ok || blurb != "" {
		t.Errorf("polymarket_blurb = %v", run.update[FieldPolymarketBlurb])
	}
	if len(mock.Calls()) != 0 {
		t.Error("model called with no markets")
	}
}

func TestRewriteNodeFoldsPriceHistory(t *testing.T) {
	mock := model.NewMockModel(model.MockText("Markets lean toward the Democrat."))
	catalog := marketCatalog()
	catalog.history = []polymarket.PricePoint{{T: 1, P: 0.40}, {T: 2, P: 0.45}}
	mr := &MarketResearch{Model: mock, Catalog: catalog}

	run := runNode(t, NodeRewritePolymarket, mr.RewriteNode, SupervisorSchema(50), graph.State{
		FieldFinalReport: "the report",
		FieldPredictionMarkets: []any{
			map[string]any{"slug": "dem-wins", "question": "Will the Democrat win?", "clobTokenIds": []any{"111", "222"}},
		},
	})
	if run.err != nil {
		t.Fatal(run.err)
	}
	if got := graph.Str(run.update, FieldPolymarketBlurb); got != "Markets lean toward the Democrat." {
		t.Errorf("blurb = %q", got)
	}

	if len(catalog.historyCalls) != 1 || catalog.historyCalls[0] != "111" {
		t.Errorf("price history calls = %v, want first token id", catalog.historyCalls)
	}
	prompt := mock.Calls()[0][1].Content
	if !strings.Contains(prompt, "now 0.45") || !strings.Contains(prompt, "+0.05") {
		t.Errorf("prompt lacks price movement: %q", prompt)
	}
}

func TestRewriteNodeDegradesWhenPricesUnavailable(t *testing.T) {
	mock := model.NewMockModel(model.MockText("blurb without prices"))
	catalog := marketCatalog()
	catalog.historyErr = graph.Transient("polymarket.price_history", errString("down"))
	mr := &MarketResearch{Model: mock, Catalog: catalog}

	run := runNode(t, NodeRewritePolymarket, mr.RewriteNode, SupervisorSchema(50), graph.State{
		FieldFinalReport: "the report",
		FieldPredictionMarkets: []any{
			map[string]any{"slug": "dem-wins", "question": "q", "clobTokenIds": []any{"111"}},
		},
	})
	if run.err != nil {
		t.Fatalf("price failure must degrade, not fail: %v", run.err)
	}
	if got := graph.Str(run.update, FieldPolymarketBlurb); got != "blurb without prices" {
		t.Errorf("blurb = %q", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
