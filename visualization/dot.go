// Package visualization renders machine topologies as Graphviz DOT.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/stratahq/strata"
)

// DOTGenerator generates Graphviz DOT format representations of a
// machine topology. Composite states become clusters, entry points are
// marked, and edges are labelled with their event.
type DOTGenerator[S comparable, E comparable] struct {
	snapshot strata.TopologySnapshot[S, E]
	options  DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowGuardMarks   bool
	ShowActionMarks  bool
	HighlightCurrent bool
	RankDirection    string // "TB", "LR", "BT", "RL"
	NodeShape        string
	ClusterStyle     string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowGuardMarks:   true,
		ShowActionMarks:  false,
		HighlightCurrent: true,
		RankDirection:    "TB",
		NodeShape:        "box",
		ClusterStyle:     "rounded",
	}
}

// NewDOTGenerator creates a new DOT generator for the given topology
// snapshot.
func NewDOTGenerator[S comparable, E comparable](snapshot strata.TopologySnapshot[S, E], options ...DOTOptions) *DOTGenerator[S, E] {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator[S, E]{
		snapshot: snapshot,
		options:  opts,
	}
}

// Generate creates a DOT representation of the machine topology
func (g *DOTGenerator[S, E]) Generate() string {
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	dot.WriteString("  // States\n")
	children := g.childrenByParent()
	for _, state := range g.snapshot.States {
		if _, hasParent := g.snapshot.Parents[state]; hasParent {
			continue
		}
		g.generateState(&dot, state, children, 1)
	}

	dot.WriteString("\n  // Transitions\n")
	g.generateTransitions(&dot)

	dot.WriteString("}\n")

	return dot.String()
}

func (g *DOTGenerator[S, E]) childrenByParent() map[S][]S {
	children := make(map[S][]S)
	for _, state := range g.snapshot.States {
		if parent, ok := g.snapshot.Parents[state]; ok {
			children[parent] = append(children[parent], state)
		}
	}
	return children
}

// generateState emits a node, or a cluster when the state has
// substates.
func (g *DOTGenerator[S, E]) generateState(dot *strings.Builder, state S, children map[S][]S, depth int) {
	indent := strings.Repeat("  ", depth)
	name := fmt.Sprint(state)

	kids, composite := children[state]
	if !composite {
		g.generateStateNode(dot, indent, state)
		return
	}

	dot.WriteString(fmt.Sprintf("%ssubgraph \"cluster_%s\" {\n", indent, name))
	dot.WriteString(fmt.Sprintf("%s  label=\"%s\";\n", indent, name))
	dot.WriteString(fmt.Sprintf("%s  style=%s;\n", indent, g.options.ClusterStyle))
	for _, child := range kids {
		g.generateState(dot, child, children, depth+1)
	}
	dot.WriteString(fmt.Sprintf("%s}\n", indent))
}

// generateStateNode emits a DOT node for a single leaf state
func (g *DOTGenerator[S, E]) generateStateNode(dot *strings.Builder, indent string, state S) {
	name := fmt.Sprint(state)
	fillColor := "lightblue"
	label := name

	if parent, ok := g.snapshot.Parents[state]; ok {
		if entry, hasEntry := g.snapshot.EntryPoints[parent]; hasEntry && entry == state {
			fillColor = "lightyellow"
			label += "\\n(entry)"
		}
	}

	if g.options.HighlightCurrent && state == g.snapshot.Current {
		fillColor = "lightgreen"
	}

	dot.WriteString(fmt.Sprintf("%s\"%s\" [style=\"filled\" fillcolor=%s label=\"%s\"];\n",
		indent, name, fillColor, label))
}

// generateTransitions emits DOT edges for all transition edges
func (g *DOTGenerator[S, E]) generateTransitions(dot *strings.Builder) {
	for _, edge := range g.snapshot.Edges {
		label := fmt.Sprint(edge.Event)
		if g.options.ShowGuardMarks && edge.Guarded {
			label += " [guarded]"
		}
		if g.options.ShowActionMarks && edge.HasAction {
			label += " / action"
		}
		dot.WriteString(fmt.Sprintf("  \"%v\" -> \"%v\" [label=\"%s\"];\n", edge.From, edge.To, label))
	}
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator[S, E]) GenerateToFile(filename string) error {
	return os.WriteFile(filename, []byte(g.Generate()), 0644)
}

// GenerateSVG creates an SVG representation by invoking the Graphviz
// dot command.
func (g *DOTGenerator[S, E]) GenerateSVG() (string, error) {
	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(g.Generate())

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}
