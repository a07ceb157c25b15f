package callgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraph_Related_Hop0(t *testing.T) {
	data := map[string]*FileCallData{
		"a.go": {Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{}},
		"b.go": {Definitions: map[string]bool{}, Calls: map[string]bool{"foo": true}},
		"c.go": {Definitions: map[string]bool{}, Calls: map[string]bool{}},
	}
	g := Build(data)

	scores := g.Related([]string{"foo"}, 0)

	assert.Equal(t, 1.0, scores["a.go"])
	assert.Equal(t, 1.0, scores["b.go"])
	_, ok := scores["c.go"]
	assert.False(t, ok)
}

func TestGraph_Related_MultiHop(t *testing.T) {
	// a.go defines foo and calls bar; b.go calls foo and defines bar; c.go
	// calls bar. Hop 1 follows a.go's call to bar and reaches c.go.
	data := map[string]*FileCallData{
		"a.go": {Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{"bar": true}},
		"b.go": {Definitions: map[string]bool{"bar": true}, Calls: map[string]bool{"foo": true}},
		"c.go": {Definitions: map[string]bool{}, Calls: map[string]bool{"bar": true}},
	}
	g := Build(data)

	scores := g.Related([]string{"foo"}, 1)

	assert.Equal(t, 1.0, scores["a.go"])
	assert.Equal(t, 1.0, scores["b.go"])
	assert.InDelta(t, 0.5, scores["c.go"], 1e-9)
}

func TestGraph_Related_MaxScorePerFile(t *testing.T) {
	// b.go reachable at hop 0 (defines foo) and would also be reachable later;
	// its score must stay at the hop-0 value, not be overwritten downward.
	data := map[string]*FileCallData{
		"a.go": {Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{"bar": true}},
		"b.go": {Definitions: map[string]bool{"bar": true}, Calls: map[string]bool{}},
	}
	g := Build(data)

	scores := g.Related([]string{"foo", "bar"}, 2)

	assert.Equal(t, 1.0, scores["a.go"])
	assert.Equal(t, 1.0, scores["b.go"])
}

func TestGraph_Related_EmptySymbols(t *testing.T) {
	g := Build(map[string]*FileCallData{})
	scores := g.Related(nil, 2)
	assert.Empty(t, scores)
}

func TestGraph_Related_NilGraph(t *testing.T) {
	var g *Graph
	scores := g.Related([]string{"foo"}, 1)
	assert.Empty(t, scores)
}

func TestIndex_SetAndRelated(t *testing.T) {
	idx := NewIndex()
	idx.Set("a.go", &FileCallData{Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{}})

	scores := idx.Related([]string{"foo"}, 0)
	assert.Equal(t, 1.0, scores["a.go"])
}

func TestIndex_RemoveInvalidatesGraph(t *testing.T) {
	idx := NewIndex()
	idx.Set("a.go", &FileCallData{Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{}})
	_ = idx.Related([]string{"foo"}, 0) // build cache

	idx.Remove("a.go")
	scores := idx.Related([]string{"foo"}, 0)
	assert.Empty(t, scores)
}

func TestIndex_Reset(t *testing.T) {
	idx := NewIndex()
	idx.Set("a.go", &FileCallData{Definitions: map[string]bool{"foo": true}, Calls: map[string]bool{}})
	idx.Set("b.go", &FileCallData{Definitions: map[string]bool{"bar": true}, Calls: map[string]bool{}})

	idx.Reset()

	scores := idx.Related([]string{"foo", "bar"}, 1)
	assert.Empty(t, scores)
}
