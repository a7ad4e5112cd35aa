package agents

import (
	"strings"

	"deepresearch/graph"
	"deepresearch/graph/model"
	"deepresearch/graph/store"
	"deepresearch/internal/polymarket"
	"deepresearch/internal/search"
)

// GraphOptions are the collaborators and knobs of one main-graph
// instance. Build a fresh graph per run: the call_researcher node
// carries run-scoped URL-dedup state.
type GraphOptions struct {
	Model          model.ChatModel
	ThreadName     model.ChatModel
	Searcher       search.Searcher
	Catalog        polymarket.Catalog
	Checkpoints    store.Store
	Temperature    float64
	IterationCap   int
	HistoryCap     int
	MarketFallback int
}

// MainStateUpdateFields are the state fields the engine surfaces as
// state_update envelopes.
var MainStateUpdateFields = []string{
	FieldResearchNotes,
	FieldIterations,
	FieldFinalReport,
	FieldPredictionMarkets,
	FieldPolymarketBlurb,
}

// SupervisorRouter resolves the node after a supervisor step from the
// next_topic sentinel.
func SupervisorRouter(s graph.State) string {
	next := graph.Str(s, FieldNextTopic)
	switch {
	case strings.HasPrefix(next, ClarifyPrefix):
		return NodeClarification
	case next == DecisionFinish:
		if len(graph.Strings(s, FieldResearchNotes)) > 0 || graph.Str(s, FieldAnswerFormat) == FormatReport {
			return NodeFinalReport
		}
		return NodeDirectAnswer
	default:
		return NodeCallResearcher
	}
}

// NewMainGraph assembles and compiles the main supervisor graph,
// including its two subgraph-driving nodes.
func NewMainGraph(o GraphOptions) (*graph.Graph, error) {
	if o.IterationCap < 1 {
		o.IterationCap = 10
	}
	if o.HistoryCap < 1 {
		o.HistoryCap = 50
	}
	if o.Checkpoints == nil {
		o.Checkpoints = store.NewMemStore()
	}

	supervisor := &Supervisor{
		Model:       o.Model,
		NameModel:   o.ThreadName,
		Cap:         o.IterationCap,
		Temperature: o.Temperature,
	}
	report := &Report{Model: o.Model, Temperature: o.Temperature}
	summarizer := &Summarizer{Model: o.Model, Temperature: o.Temperature}
	market := &MarketResearch{
		Model:       o.Model,
		Catalog:     o.Catalog,
		Fallback:    o.MarketFallback,
		Temperature: o.Temperature,
	}

	callResearcher, err := NewCallResearcher(&Researcher{
		Model:       o.Model,
		Search:      o.Searcher,
		Temperature: o.Temperature,
	}, o.Checkpoints)
	if err != nil {
		return nil, err
	}
	callMarket, err := NewCallMarketResearch(market, o.Checkpoints)
	if err != nil {
		return nil, err
	}

	g := graph.New("main", SupervisorSchema(o.HistoryCap))
	nodes := map[string]graph.NodeFunc{
		NodeSupervisor:         supervisor.Node,
		NodeCallResearcher:     callResearcher.Node,
		NodeFinalReport:        report.FinalReportNode,
		NodeDirectAnswer:       report.DirectAnswerNode,
		NodeClarification:      report.ClarificationNode,
		NodeCallMarketResearch: callMarket.Node,
		NodeRewritePolymarket:  market.RewriteNode,
		NodeSummarize:          summarizer.Node,
	}
	for name, fn := range nodes {
		if err := g.AddNode(name, fn); err != nil {
			return nil, err
		}
	}

	if err := g.AddRouter(NodeSupervisor, SupervisorRouter); err != nil {
		return nil, err
	}
	edges := [][2]string{
		{NodeCallResearcher, NodeSupervisor},
		{NodeFinalReport, NodeCallMarketResearch},
		{NodeCallMarketResearch, NodeRewritePolymarket},
		{NodeRewritePolymarket, NodeSummarize},
		{NodeDirectAnswer, NodeSummarize},
		{NodeClarification, NodeSummarize},
		{NodeSummarize, graph.End},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, err
		}
	}
	if err := g.SetStart(NodeSupervisor); err != nil {
		return nil, err
	}
	return g, g.Compile()
}
