package callgraph

import "sync"

// Graph is the inverted call-graph side index: three maps built from the
// current file-call-data set, kept until the next mutation of any entry.
type Graph struct {
	Defines   map[string][]string // symbol -> defining files
	CalledBy  map[string][]string // symbol -> calling files
	FileCalls map[string][]string // file -> called symbols
}

// Build composes a Graph from the current per-file call data.
func Build(data map[string]*FileCallData) *Graph {
	g := &Graph{
		Defines:   make(map[string][]string),
		CalledBy:  make(map[string][]string),
		FileCalls: make(map[string][]string),
	}
	for file, fc := range data {
		for sym := range fc.Definitions {
			g.Defines[sym] = append(g.Defines[sym], file)
		}
		for sym := range fc.Calls {
			g.CalledBy[sym] = append(g.CalledBy[sym], file)
			g.FileCalls[file] = append(g.FileCalls[file], sym)
		}
	}
	return g
}

// Related returns, for the given seed symbols, a map of file -> score. At
// hop 0, files that define or call any seed symbol score 1. Each additional
// hop (bounded by maxHops) follows the call graph outward through the union
// of definer/caller files of the current symbol frontier, then the union of
// those files' own called symbols becomes the next frontier; each file's
// final score is the maximum across the hops it appeared in.
func (g *Graph) Related(symbols []string, maxHops int) map[string]float64 {
	scores := make(map[string]float64)
	if g == nil || len(symbols) == 0 {
		return scores
	}

	visitedFiles := make(map[string]bool)
	frontier := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		frontier[s] = true
	}

	for hop := 0; hop <= maxHops; hop++ {
		if len(frontier) == 0 {
			break
		}
		score := 1.0 / float64(hop+1)

		hopFiles := make(map[string]bool)
		for sym := range frontier {
			for _, f := range g.Defines[sym] {
				hopFiles[f] = true
			}
			for _, f := range g.CalledBy[sym] {
				hopFiles[f] = true
			}
		}

		nextFrontier := make(map[string]bool)
		for f := range hopFiles {
			if visitedFiles[f] {
				continue
			}
			visitedFiles[f] = true
			if existing, ok := scores[f]; !ok || score > existing {
				scores[f] = score
			}
			for _, sym := range g.FileCalls[f] {
				nextFrontier[sym] = true
			}
		}

		frontier = nextFrontier
	}

	return scores
}

// Index lazily builds and caches a Graph over a mutable file-call-data set,
// invalidating whenever that set changes (a file is added, removed, or its
// call data is replaced).
type Index struct {
	mu    sync.Mutex
	data  map[string]*FileCallData
	graph *Graph // nil when stale
}

// NewIndex constructs an empty, invalidated side index.
func NewIndex() *Index {
	return &Index{data: make(map[string]*FileCallData)}
}

// Set replaces a file's call data and invalidates the cached graph.
func (idx *Index) Set(file string, data *FileCallData) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.data[file] = data
	idx.graph = nil
}

// Remove prunes a file's call data (used when a re-index removes it from the
// store) and invalidates the cached graph.
func (idx *Index) Remove(file string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.data[file]; ok {
		delete(idx.data, file)
		idx.graph = nil
	}
}

// Reset drops all file call data and invalidates the cached graph.
func (idx *Index) Reset() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.data = make(map[string]*FileCallData)
	idx.graph = nil
}

// Related rebuilds the graph on first call after invalidation, then answers
// the bounded-hop related-files query.
func (idx *Index) Related(symbols []string, maxHops int) map[string]float64 {
	idx.mu.Lock()
	if idx.graph == nil {
		idx.graph = Build(idx.data)
	}
	g := idx.graph
	idx.mu.Unlock()

	return g.Related(symbols, maxHops)
}
