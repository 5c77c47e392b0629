package dot

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-graphviz"
)

// A small Graphviz document model. The checker dumps three kinds of graphs
// (modification order, predicate trees, the inter-function graph); all of
// them go through this package so the output stays uniform and
// deterministic.

type Attrs map[string]string

// String renders the attribute set as `k="v", ...` with keys in sorted
// order, so that dumps are reproducible.
func (a Attrs) String() string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, a[k]))
	}
	return strings.Join(parts, ", ")
}

type Node struct {
	// ID must be a valid Graphviz identifier (e. g. "N17").
	ID    string
	Attrs Attrs
}

type Edge struct {
	From, To string
	Attrs    Attrs
}

type Cluster struct {
	ID    string
	Attrs Attrs
	Nodes []*Node
}

type Graph struct {
	Name     string
	Attrs    Attrs
	Nodes    []*Node
	Edges    []*Edge
	Clusters []*Cluster
}

func New(name string) *Graph {
	return &Graph{Name: name, Attrs: Attrs{}}
}

func (g *Graph) AddNode(id string, attrs Attrs) *Node {
	n := &Node{ID: id, Attrs: attrs}
	g.Nodes = append(g.Nodes, n)
	return n
}

func (g *Graph) AddEdge(from, to string, attrs Attrs) *Edge {
	e := &Edge{From: from, To: to, Attrs: attrs}
	g.Edges = append(g.Edges, e)
	return e
}

func (g *Graph) AddCluster(id string, attrs Attrs) *Cluster {
	c := &Cluster{ID: id, Attrs: attrs}
	g.Clusters = append(g.Clusters, c)
	return c
}

func (c *Cluster) AddNode(id string, attrs Attrs) *Node {
	n := &Node{ID: id, Attrs: attrs}
	c.Nodes = append(c.Nodes, n)
	return n
}

func (g *Graph) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", g.Name)

	keys := make([]string, 0, len(g.Attrs))
	for k := range g.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\t%s=%q;\n", k, g.Attrs[k])
	}

	writeNode := func(indent string, n *Node) {
		if len(n.Attrs) == 0 {
			fmt.Fprintf(&b, "%s%s;\n", indent, n.ID)
		} else {
			fmt.Fprintf(&b, "%s%s [%s];\n", indent, n.ID, n.Attrs)
		}
	}

	for _, c := range g.Clusters {
		fmt.Fprintf(&b, "\tsubgraph cluster_%s {\n", c.ID)
		ckeys := make([]string, 0, len(c.Attrs))
		for k := range c.Attrs {
			ckeys = append(ckeys, k)
		}
		sort.Strings(ckeys)
		for _, k := range ckeys {
			fmt.Fprintf(&b, "\t\t%s=%q;\n", k, c.Attrs[k])
		}
		for _, n := range c.Nodes {
			writeNode("\t\t", n)
		}
		fmt.Fprintf(&b, "\t}\n")
	}

	for _, n := range g.Nodes {
		writeNode("\t", n)
	}

	for _, e := range g.Edges {
		if len(e.Attrs) == 0 {
			fmt.Fprintf(&b, "\t%s -> %s;\n", e.From, e.To)
		} else {
			fmt.Fprintf(&b, "\t%s -> %s [%s];\n", e.From, e.To, e.Attrs)
		}
	}

	fmt.Fprintf(&b, "}\n")
	return b.String()
}

// WriteFile writes the .dot file and returns its path.
func (g *Graph) WriteFile(outfname string) (string, error) {
	path := outfname + ".dot"
	if err := os.WriteFile(path, []byte(g.String()), 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Render writes the .dot file and renders it to an image in the requested
// format next to it, returning the image path.
func (g *Graph) Render(outfname, format string) (string, error) {
	if _, err := g.WriteFile(outfname); err != nil {
		return "", err
	}

	gv := graphviz.New()
	parsed, err := graphviz.ParseBytes([]byte(g.String()))
	if err != nil {
		return "", err
	}
	defer func() {
		if err := parsed.Close(); err != nil {
			log.Fatal(err)
		}
		gv.Close()
	}()

	img := fmt.Sprintf("%s.%s", outfname, format)
	if err := gv.RenderFilename(parsed, graphviz.Format(format), img); err != nil {
		return "", err
	}
	return filepath.Clean(img), nil
}
