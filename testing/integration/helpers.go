package integration

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/chanz"
)

// MockCollector wraps a real collector with test utilities.
// Provides synchronous collection and verification helpers.
//
//nolint:govet // Field alignment optimized for test helper readability
type MockCollector struct {
	exported []chanz.Span
	*chanz.Collector
	t  *testing.T
	mu sync.Mutex
}

// NewMockCollector creates a synchronous collector registered on tracer.
func NewMockCollector(t *testing.T, tracer *chanz.Tracer, name string) *MockCollector {
	collector := chanz.NewCollector(name, 1000)
	collector.SetSyncMode(true)
	tracer.AddCollector(name, collector)
	return &MockCollector{
		Collector: collector,
		t:         t,
	}
}

// GetAll returns every span collected so far without losing earlier exports.
func (m *MockCollector) GetAll() []chanz.Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.Collector.Export(); len(current) > 0 {
		m.exported = append(m.exported, current...)
	}

	all := make([]chanz.Span, len(m.exported))
	copy(all, m.exported)
	return all
}

// WaitForSpans waits until at least expected spans were collected.
func (m *MockCollector) WaitForSpans(expected int, timeout time.Duration) []chanz.Span {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if spans := m.GetAll(); len(spans) >= expected {
			return spans
		}
		time.Sleep(5 * time.Millisecond)
	}

	spans := m.GetAll()
	m.t.Errorf("Timeout waiting for spans: expected %d, got %d", expected, len(spans))
	return spans
}

// AssertSpanNamed checks if a span with given name exists.
func (m *MockCollector) AssertSpanNamed(name string) *chanz.Span {
	spans := m.GetAll()
	for i := range spans {
		if spans[i].Name == name {
			return &spans[i]
		}
	}
	m.t.Errorf("Span named '%s' not found", name)
	return nil
}

// SpanTree represents a hierarchical view of spans.
type SpanTree struct {
	Span     chanz.Span
	Children []*SpanTree
}

// BuildSpanTree constructs a forest from a flat span list. Spans whose parent
// is not in the list become roots.
func BuildSpanTree(spans []chanz.Span) []*SpanTree {
	nodes := make(map[string]*SpanTree, len(spans))
	for _, span := range spans {
		nodes[span.SpanID] = &SpanTree{Span: span}
	}

	var roots []*SpanTree
	for _, span := range spans {
		node := nodes[span.SpanID]
		if parent, ok := nodes[span.ParentID]; ok && span.ParentID != "" {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}

// PrintSpanTree formats span tree for debugging.
func PrintSpanTree(trees []*SpanTree) string {
	var sb strings.Builder
	for _, tree := range trees {
		printTreeNode(&sb, tree, 0)
	}
	return sb.String()
}

func printTreeNode(sb *strings.Builder, node *SpanTree, depth int) {
	fmt.Fprintf(sb, "%s%s (%s)\n", strings.Repeat("  ", depth), node.Span.Name, node.Span.SpanID)
	for _, child := range node.Children {
		printTreeNode(sb, child, depth+1)
	}
}

// TraceAnalyzer provides trace-level assertions.
type TraceAnalyzer struct {
	byID    map[string]chanz.Span
	byTrace map[string][]chanz.Span
	trees   []*SpanTree
}

// NewTraceAnalyzer creates an analyzer for a set of spans.
func NewTraceAnalyzer(spans []chanz.Span) *TraceAnalyzer {
	a := &TraceAnalyzer{
		byID:    make(map[string]chanz.Span, len(spans)),
		byTrace: make(map[string][]chanz.Span),
	}
	for _, span := range spans {
		a.byID[span.SpanID] = span
		a.byTrace[span.TraceID] = append(a.byTrace[span.TraceID], span)
	}
	a.trees = BuildSpanTree(spans)
	return a
}

// CountTraces returns the number of distinct trace IDs.
func (a *TraceAnalyzer) CountTraces() int {
	return len(a.byTrace)
}

// CountTrees returns number of root spans.
func (a *TraceAnalyzer) CountTrees() int {
	return len(a.trees)
}

// Trees returns the span forest.
func (a *TraceAnalyzer) Trees() []*SpanTree {
	return a.trees
}

// Ancestry walks from the span up to its root and returns the span names,
// leaf first.
func (a *TraceAnalyzer) Ancestry(spanID string) []string {
	var names []string
	for spanID != "" {
		span, ok := a.byID[spanID]
		if !ok {
			break
		}
		names = append(names, span.Name)
		spanID = span.ParentID
	}
	return names
}

// VerifyChain checks that, within one trace, each named span is the child of
// the previous one. names lists the chain root first.
func (a *TraceAnalyzer) VerifyChain(leafID string, names ...string) error {
	got := a.Ancestry(leafID)
	if len(got) != len(names) {
		return fmt.Errorf("chain length %d, want %d: %v", len(got), len(names), got)
	}
	for i, name := range names {
		if got[len(got)-1-i] != name {
			return fmt.Errorf("broken chain at %d: got %s, want %s (%v)", i, got[len(got)-1-i], name, got)
		}
	}
	return nil
}
