package agents

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"deepresearch/graph"
	"deepresearch/graph/emit"
	"deepresearch/internal/polymarket"
	"deepresearch/internal/search"
)

// nodeRun is the collected output of driving one node through a
// single-node graph.
type nodeRun struct {
	update    graph.State
	final     graph.State
	envelopes []emit.Envelope
	err       error
}

func runNode(t *testing.T, name string, fn graph.NodeFunc, schema *graph.Schema, initial graph.State) nodeRun {
	t.Helper()
	g := graph.New("test", schema)
	if err := g.AddNode(name, fn); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge(name, graph.End); err != nil {
		t.Fatal(err)
	}
	if err := g.SetStart(name); err != nil {
		t.Fatal(err)
	}
	if err := g.Compile(); err != nil {
		t.Fatal(err)
	}
	eng, err := graph.NewEngine(g)
	if err != nil {
		t.Fatal(err)
	}

	stream := eng.Run(context.Background(), "thread-1", initial)
	var run nodeRun
	for item := range stream.Items() {
		switch item.Mode {
		case graph.ModeUpdates:
			if run.update == nil {
				run.update = item.Update
			}
		case graph.ModeCustom:
			run.envelopes = append(run.envelopes, item.Envelope)
		}
	}
	run.final = stream.Final()
	run.err = stream.Err()
	return run
}

// events filters envelopes by event name.
func events(envelopes []emit.Envelope, name string) []emit.Envelope {
	var out []emit.Envelope
	for _, e := range envelopes {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}

type fakeSearcher struct {
	mu    sync.Mutex
	calls []string
	hits  func(query string) []search.Result
	err   error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.hits == nil {
		return []search.Result{{
			URL:     fmt.Sprintf("https://example.com/%s", query),
			Title:   "Result for " + query,
			Content: "content about " + query,
		}}, nil
	}
	return f.hits(query), nil
}

func (f *fakeSearcher) queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeCatalog struct {
	tagPages   [][]polymarket.Tag
	events     map[string][]polymarket.Event
	history    []polymarket.PricePoint
	historyErr error

	mu           sync.Mutex
	tagCalls     int
	historyCalls []string
}

func (f *fakeCatalog) FetchTags(ctx context.Context, offset, limit int) ([]polymarket.Tag, error) {
	f.mu.Lock()
	f.tagCalls++
	f.mu.Unlock()
	page := offset / polymarket.TagPageSize
	if page >= len(f.tagPages) {
		return nil, nil
	}
	return f.tagPages[page], nil
}

func (f *fakeCatalog) FetchEventsByTagID(ctx context.Context, tagID string) ([]polymarket.Event, error) {
	return f.events[tagID], nil
}

func (f *fakeCatalog) FetchPriceHistory(ctx context.Context, tokenID, interval string, fidelity int) ([]polymarket.PricePoint, error) {
	f.mu.Lock()
	f.historyCalls = append(f.historyCalls, tokenID)
	f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history, nil
}

var (
	_ search.Searcher    = (*fakeSearcher)(nil)
	_ polymarket.Catalog = (*fakeCatalog)(nil)
)
