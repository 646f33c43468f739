package catalog

import (
	"sort"
	"strings"
	"sync"

	"github.com/mytireplan/tire-plan-sub001/internal/domain"
)

// Directory holds the known locations and their display names.
type Directory struct {
	mu        sync.RWMutex
	locations map[string]domain.Location
}

func NewDirectory() *Directory {
	return &Directory{locations: make(map[string]domain.Location)}
}

func (d *Directory) Get(id string) (domain.Location, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	loc, ok := d.locations[strings.TrimSpace(id)]
	return loc, ok
}

// Require returns the location or a not-found error naming it.
func (d *Directory) Require(id string) (domain.Location, error) {
	loc, ok := d.Get(id)
	if !ok {
		return domain.Location{}, domain.NotFound("LOCATION_NOT_FOUND", "location %s not found", id)
	}
	return loc, nil
}

func (d *Directory) Put(loc domain.Location) {
	if loc.ID == "" {
		return
	}
	d.mu.Lock()
	d.locations[loc.ID] = loc
	d.mu.Unlock()
}

func (d *Directory) Remove(id string) {
	d.mu.Lock()
	delete(d.locations, id)
	d.mu.Unlock()
}

func (d *Directory) List() []domain.Location {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]domain.Location, 0, len(d.locations))
	for _, loc := range d.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
