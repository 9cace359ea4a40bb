// Trace tree reconstruction and rendering
// Roots and siblings are ordered by start time so output is stable across runs
package spantree

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"
)

// Tree is one trace with parent-child links.
type Tree struct {
	TraceID string
	Roots   []*Node
	// Orphans counts spans whose parent was not in the input; they are promoted to roots.
	Orphans int
}

// Node is a span and its children.
type Node struct {
	Span     Span
	Children []*Node
}

// Build groups spans by trace and links children to parents. Trees are ordered
// by their earliest root start time.
func Build(spans []Span) []*Tree {
	byTrace := make(map[string][]Span)
	var order []string
	for _, s := range spans {
		if _, seen := byTrace[s.TraceID]; !seen {
			order = append(order, s.TraceID)
		}
		byTrace[s.TraceID] = append(byTrace[s.TraceID], s)
	}

	trees := make([]*Tree, 0, len(order))
	for _, id := range order {
		trees = append(trees, buildTree(id, byTrace[id]))
	}
	slices.SortStableFunc(trees, func(a, b *Tree) int {
		return earliest(a).Compare(earliest(b))
	})
	return trees
}

func buildTree(traceID string, spans []Span) *Tree {
	nodes := make(map[string]*Node, len(spans))
	all := make([]*Node, 0, len(spans))
	for _, s := range spans {
		n := &Node{Span: s}
		nodes[s.SpanID] = n
		all = append(all, n)
	}

	tree := &Tree{TraceID: traceID}
	for _, n := range all {
		if n.Span.ParentID == "" {
			tree.Roots = append(tree.Roots, n)
			continue
		}
		parent, ok := nodes[n.Span.ParentID]
		if !ok {
			tree.Orphans++
			tree.Roots = append(tree.Roots, n)
			continue
		}
		parent.Children = append(parent.Children, n)
	}

	byStart := func(a, b *Node) int { return a.Span.Start.Compare(b.Span.Start) }
	slices.SortStableFunc(tree.Roots, byStart)
	for _, n := range all {
		slices.SortStableFunc(n.Children, byStart)
	}
	return tree
}

func earliest(t *Tree) time.Time {
	if len(t.Roots) == 0 {
		return time.Time{}
	}
	return t.Roots[0].Span.Start
}

// highlighted are the attributes worth showing inline when present.
var highlighted = []string{
	"scenario.name",
	"http.response.status_code",
	"guard_result",
	"is_safe",
	"products_count",
	"tests_total",
	"tests_successful",
}

// Render writes each tree as an indented outline with durations and failures.
func Render(w io.Writer, trees []*Tree) error {
	for i, t := range trees {
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		header := "trace " + t.TraceID
		if t.Orphans > 0 {
			header += fmt.Sprintf(" (%d span(s) with missing parent)", t.Orphans)
		}
		if _, err := fmt.Fprintln(w, header); err != nil {
			return err
		}
		for _, root := range t.Roots {
			if err := renderNode(w, root, 1); err != nil {
				return err
			}
		}
	}
	return nil
}

func renderNode(w io.Writer, n *Node, depth int) error {
	var b strings.Builder
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(n.Span.Name)
	fmt.Fprintf(&b, "  %s", n.Span.Duration().Round(time.Millisecond))
	for _, key := range highlighted {
		if v, ok := n.Span.Attributes[key]; ok {
			fmt.Fprintf(&b, "  %s=%s", key, v)
		}
	}
	if n.Span.Error {
		msg := n.Span.Message
		if msg == "" {
			msg = n.Span.Exception
		}
		fmt.Fprintf(&b, "  ERROR: %s", firstLine(msg))
	}
	if _, err := fmt.Fprintln(w, b.String()); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := renderNode(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// NameStats summarises every span sharing one name.
type NameStats struct {
	Name   string
	Count  int
	Errors int
	Mean   time.Duration
	Max    time.Duration
}

// Summarize aggregates spans by name, ordered by name.
func Summarize(trees []*Tree) []NameStats {
	acc := make(map[string]*NameStats)
	totals := make(map[string]time.Duration)
	var walk func(*Node)
	walk = func(n *Node) {
		st, ok := acc[n.Span.Name]
		if !ok {
			st = &NameStats{Name: n.Span.Name}
			acc[n.Span.Name] = st
		}
		d := n.Span.Duration()
		st.Count++
		totals[n.Span.Name] += d
		st.Max = max(st.Max, d)
		if n.Span.Error {
			st.Errors++
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	for _, t := range trees {
		for _, r := range t.Roots {
			walk(r)
		}
	}

	out := make([]NameStats, 0, len(acc))
	for name, st := range acc {
		st.Mean = totals[name] / time.Duration(st.Count)
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b NameStats) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
