package indexer

import (
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/quill/pkg/common"
)

// Factory builds the indexer of a collection.
type Factory func(collection string) (*Indexer, error)

// Registry hands out one Indexer per collection, created on first use.
type Registry struct {
	factory Factory

	mu       sync.Mutex
	indexers map[string]*Indexer
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, indexers: make(map[string]*Indexer)}
}

// Get returns the indexer of collection, building it if needed.
func (r *Registry) Get(collection string) (*Indexer, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, common.InvalidInput("collection is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if idx, ok := r.indexers[collection]; ok {
		return idx, nil
	}
	idx, err := r.factory(collection)
	if err != nil {
		return nil, err
	}
	r.indexers[collection] = idx
	return idx, nil
}

// Collections lists the collections built so far.
func (r *Registry) Collections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.indexers))
}
