// Package dag renders saga runs as Graphviz graphs.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// Graph is a directed graph whose graph, nodes and edges carry DOT attributes.
type Graph struct {
	*simple.DirectedGraph
	attrs     encoding.Attributes
	nodeAttrs encoding.Attributes
	edgeAttrs encoding.Attributes
}

func New() *Graph {
	return &Graph{DirectedGraph: simple.NewDirectedGraph()}
}

// DOTAttributers implements dot.Attributers for Graph.
func (g *Graph) DOTAttributers() (graph, node, edge encoding.Attributer) {
	return &g.attrs, &g.nodeAttrs, &g.edgeAttrs
}

// SetAttribute sets a graph-level attribute.
func (g *Graph) SetAttribute(attr encoding.Attribute) error {
	return g.attrs.SetAttribute(attr)
}

// SetNodeDefault sets an attribute applied to every node.
func (g *Graph) SetNodeDefault(attr encoding.Attribute) error {
	return g.nodeAttrs.SetAttribute(attr)
}

// SetEdgeDefault sets an attribute applied to every edge.
func (g *Graph) SetEdgeDefault(attr encoding.Attribute) error {
	return g.edgeAttrs.SetAttribute(attr)
}

// AddNamedNode adds a node with the given DOT ID and attributes.
func (g *Graph) AddNamedNode(dotID string, attrs ...encoding.Attribute) *Node {
	n := &Node{Node: g.DirectedGraph.NewNode(), dotID: dotID}
	n.attrs = append(n.attrs, attrs...)
	g.AddNode(n)
	return n
}

// Connect adds a directed edge from -> to with the given attributes.
func (g *Graph) Connect(from, to graph.Node, attrs ...encoding.Attribute) {
	e := &Edge{Edge: g.DirectedGraph.NewEdge(from, to)}
	e.attrs = append(e.attrs, attrs...)
	g.SetEdge(e)
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "\t")
	if err != nil {
		return "", fmt.Errorf("failed to export graph to DOT format: %w", err)
	}
	return string(data), nil
}

type Node struct {
	graph.Node
	dotID string
	attrs encoding.Attributes
}

// DOTID implements dot.Node for Node.
func (n *Node) DOTID() string {
	return n.dotID
}

func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

type Edge struct {
	graph.Edge
	attrs encoding.Attributes
}

func (e *Edge) Attributes() []encoding.Attribute {
	return e.attrs.Attributes()
}

func (e *Edge) SetAttribute(attr encoding.Attribute) error {
	return e.attrs.SetAttribute(attr)
}
