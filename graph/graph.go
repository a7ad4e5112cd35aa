package graph

import "fmt"

// Start is the pseudo-node every run begins at; End terminates a run.
const (
	Start = "__start__"
	End   = "__end__"
)

// Router is a conditional edge: a pure function of the current state
// returning the next node name (or End). Routers must not have side
// effects; the engine may consult them more than once.
type Router func(s State) string

// Producer builds the per-branch child states for a fan-out edge. The
// engine schedules one branch of the child node per returned state and
// merges results in branch-index order.
type Producer func(s State) []State

type fanOut struct {
	child    string
	producer Producer
}

// Graph is a static DAG (plus conditional routing and loops) of named
// nodes. Build it with AddNode/AddEdge/AddRouter/AddFanOut, set the
// start node, then Compile before handing it to an engine.
type Graph struct {
	name     string
	schema   *Schema
	nodes    map[string]NodeFunc
	edges    map[string]string
	routers  map[string]Router
	fanOuts  map[string]fanOut
	start    string
	compiled bool
}

// New creates an empty graph with the given name and state schema.
// The name doubles as the default checkpoint namespace.
func New(name string, schema *Schema) *Graph {
	if schema == nil {
		schema = NewSchema()
	}
	return &Graph{
		name:    name,
		schema:  schema,
		nodes:   make(map[string]NodeFunc),
		edges:   make(map[string]string),
		routers: make(map[string]Router),
		fanOuts: make(map[string]fanOut),
	}
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Schema returns the graph's reducer table.
func (g *Graph) Schema() *Schema { return g.schema }

// AddNode registers a node. Node names must be unique and non-empty.
func (g *Graph) AddNode(name string, fn NodeFunc) error {
	if name == "" {
		return &BuildError{Graph: g.name, Message: "node name cannot be empty"}
	}
	if fn == nil {
		return &BuildError{Graph: g.name, Message: "node func cannot be nil: " + name}
	}
	if _, exists := g.nodes[name]; exists {
		return &BuildError{Graph: g.name, Message: "duplicate node: " + name}
	}
	g.nodes[name] = fn
	return nil
}

// AddEdge adds a static edge: after from completes, to executes.
func (g *Graph) AddEdge(from, to string) error {
	if from == "" || to == "" {
		return &BuildError{Graph: g.name, Message: "edge endpoints cannot be empty"}
	}
	if _, dup := g.edges[from]; dup {
		return &BuildError{Graph: g.name, Message: "duplicate edge from: " + from}
	}
	g.edges[from] = to
	return nil
}

// AddRouter adds a conditional edge from a node.
func (g *Graph) AddRouter(from string, r Router) error {
	if from == "" || r == nil {
		return &BuildError{Graph: g.name, Message: "router requires node and func"}
	}
	if _, dup := g.routers[from]; dup {
		return &BuildError{Graph: g.name, Message: "duplicate router from: " + from}
	}
	g.routers[from] = r
	return nil
}

// AddFanOut adds a fan-out edge: after from completes, producer builds
// N branch states and the engine runs N parallel invocations of child,
// merging results in branch-index order.
func (g *Graph) AddFanOut(from, child string, p Producer) error {
	if from == "" || child == "" || p == nil {
		return &BuildError{Graph: g.name, Message: "fan-out requires from, child and producer"}
	}
	if _, dup := g.fanOuts[from]; dup {
		return &BuildError{Graph: g.name, Message: "duplicate fan-out from: " + from}
	}
	g.fanOuts[from] = fanOut{child: child, producer: p}
	return nil
}

// SetStart names the node executed first.
func (g *Graph) SetStart(name string) error {
	if _, exists := g.nodes[name]; !exists {
		return &BuildError{Graph: g.name, Message: "start node does not exist: " + name}
	}
	g.start = name
	return nil
}

// Compile validates the graph: a start node is set, every edge and
// fan-out target exists, and every non-terminal node has some way
// forward. Compile must be called before NewEngine.
func (g *Graph) Compile() error {
	if g.start == "" {
		return &BuildError{Graph: g.name, Message: "start node not set"}
	}
	for from, to := range g.edges {
		if err := g.checkEndpoint("edge", from, to); err != nil {
			return err
		}
	}
	for from, fo := range g.fanOuts {
		if err := g.checkEndpoint("fan-out", from, fo.child); err != nil {
			return err
		}
		// A fan-out child rejoins the parent flow after the merge; it
		// cannot start another fan-out.
		if _, chained := g.fanOuts[fo.child]; chained {
			return &BuildError{Graph: g.name, Message: "fan-out child starts another fan-out: " + fo.child}
		}
	}
	for from := range g.routers {
		if _, ok := g.nodes[from]; !ok {
			return &BuildError{Graph: g.name, Message: "router from unknown node: " + from}
		}
	}
	g.compiled = true
	return nil
}

func (g *Graph) checkEndpoint(kind, from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return &BuildError{Graph: g.name, Message: fmt.Sprintf("%s from unknown node: %s", kind, from)}
	}
	if to == End {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return &BuildError{Graph: g.name, Message: fmt.Sprintf("%s to unknown node: %s", kind, to)}
	}
	return nil
}

// next resolves the node(s) following the just-completed node. It
// returns the fan-out (if any) or the single next target. Routers take
// precedence over static edges.
func (g *Graph) next(from string, s State) (string, *fanOut) {
	if fo, ok := g.fanOuts[from]; ok {
		return "", &fo
	}
	if r, ok := g.routers[from]; ok {
		return r(s), nil
	}
	if to, ok := g.edges[from]; ok {
		return to, nil
	}
	return End, nil
}
