package router

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/helios-trading/brain/pkg/types"
)

// Registry tracks execution venues and per-venue flow observations used by
// the allocation algorithms.
type Registry struct {
	mu      sync.RWMutex
	venues  map[string]types.Venue
	volumes map[string]decimal.Decimal // venueID|symbol -> recent traded volume
	depths  map[string]decimal.Decimal // venueID|symbol -> displayed size
}

// NewRegistry returns an empty venue registry.
func NewRegistry() *Registry {
	return &Registry{
		venues:  make(map[string]types.Venue),
		volumes: make(map[string]decimal.Decimal),
		depths:  make(map[string]decimal.Decimal),
	}
}

func flowKey(venueID, symbol string) string {
	return venueID + "|" + symbol
}

// Upsert adds or replaces a venue.
func (r *Registry) Upsert(v types.Venue) {
	r.mu.Lock()
	r.venues[v.ID] = v
	r.mu.Unlock()
}

// Venue returns a venue by id.
func (r *Registry) Venue(id string) (types.Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[id]
	return v, ok
}

// Active returns all active venues, ordered by id for determinism.
func (r *Registry) Active() []types.Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Venue, 0, len(r.venues))
	for _, v := range r.venues {
		if v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecordVolume folds observed traded volume for a venue and symbol.
func (r *Registry) RecordVolume(venueID, symbol string, volume decimal.Decimal) {
	key := flowKey(venueID, symbol)
	r.mu.Lock()
	r.volumes[key] = r.volumes[key].Add(volume)
	r.mu.Unlock()
}

// Volume returns the accumulated traded volume for a venue and symbol.
func (r *Registry) Volume(venueID, symbol string) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.volumes[flowKey(venueID, symbol)]
}

// SetDepth records the displayed size available at a venue.
func (r *Registry) SetDepth(venueID, symbol string, size decimal.Decimal) {
	r.mu.Lock()
	r.depths[flowKey(venueID, symbol)] = size
	r.mu.Unlock()
}

// Depth returns the displayed size at a venue, zero when unknown.
func (r *Registry) Depth(venueID, symbol string) decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.depths[flowKey(venueID, symbol)]
}
