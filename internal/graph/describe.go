package graph

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NodeInfo is one node of a Description.
type NodeInfo struct {
	ID       NodeID `json:"id"`
	Label    string `json:"label"`
	Index    int    `json:"index"`
	Dirty    bool   `json:"dirty,omitempty"`
	Retained bool   `json:"retained,omitempty"`
	Cycle    bool   `json:"cycle,omitempty"`
	Informed bool   `json:"informed,omitempty"`
}

// EdgeInfo is one edge of a Description.
type EdgeInfo struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
	Kind string `json:"kind"`
}

// Description is a point-in-time snapshot of the applied graph for debug
// tooling. Nodes are listed in topological order and edges sorted by the
// order of their endpoints.
type Description struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []EdgeInfo `json:"edges"`
}

// Describe snapshots the applied graph.
func (g *Graph) Describe() Description {
	d := Description{
		Nodes: make([]NodeInfo, 0, len(g.order)),
		Edges: []EdgeInfo{},
	}
	for i, id := range g.order {
		d.Nodes = append(d.Nodes, NodeInfo{
			ID:       id,
			Label:    label(g.nodes[id]),
			Index:    i,
			Dirty:    g.IsDirty(id),
			Retained: g.IsRetained(id),
			Cycle:    g.cycles[id] != nil,
			Informed: g.informed[id],
		})
		for _, to := range g.successors(id) {
			d.Edges = append(d.Edges, EdgeInfo{
				From: id,
				To:   to,
				Kind: g.forward[id][to].String(),
			})
		}
	}
	return d
}

func label(n Node) string {
	if l, ok := n.(Labeler); ok {
		if s := l.Label(); s != "" {
			return norm.NFC.String(s)
		}
	}
	return fmt.Sprintf("node-%d", n.NodeID())
}

// Label returns the label of id as used by Describe.
func (g *Graph) Label(id NodeID) string {
	if n, ok := g.staged[id]; ok {
		return label(n)
	}
	return fmt.Sprintf("node-%d", id)
}

// WriteDOT renders d as a Graphviz digraph. Retained nodes get a double
// border, cyclic nodes are red, and dirty nodes are filled orange. Soft
// edges are dashed and mixed edges bold.
func (d Description) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph ripple {")
	for _, n := range d.Nodes {
		attrs := []string{"label=" + strconv.Quote(n.Label)}
		if n.Retained {
			attrs = append(attrs, "peripheries=2")
		}
		if n.Cycle {
			attrs = append(attrs, "color=red")
		}
		if n.Dirty {
			attrs = append(attrs, "style=filled", "fillcolor=orange")
		}
		fmt.Fprintf(bw, "\tn%d [%s]\n", n.ID, strings.Join(attrs, ", "))
	}
	for _, e := range d.Edges {
		switch e.Kind {
		case EdgeSoft.String():
			fmt.Fprintf(bw, "\tn%d -> n%d [style=dashed]\n", e.From, e.To)
		case (EdgeHard | EdgeSoft).String():
			fmt.Fprintf(bw, "\tn%d -> n%d [style=bold]\n", e.From, e.To)
		default:
			fmt.Fprintf(bw, "\tn%d -> n%d\n", e.From, e.To)
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

// WriteJSON renders d as indented JSON.
func (d Description) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(d)
}
