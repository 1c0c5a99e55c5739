package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/fiscalsync/internal/canonical"
	"github.com/roach88/fiscalsync/internal/source"
)

// StaticSource is an in-memory source.Fetcher.
type StaticSource struct {
	mu      sync.Mutex
	events  map[string]canonical.Invoice
	fetches int
}

// NewStaticSource serves the given invoices keyed by source id.
func NewStaticSource(invoices ...canonical.Invoice) *StaticSource {
	s := &StaticSource{events: make(map[string]canonical.Invoice)}
	for _, inv := range invoices {
		s.events[inv.SourceID] = inv
	}
	return s
}

// Put adds or replaces an invoice.
func (s *StaticSource) Put(inv canonical.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[inv.SourceID] = inv
}

// Delete removes an invoice so later fetches report it missing.
func (s *StaticSource) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

// Fetches returns the number of FetchEvent calls.
func (s *StaticSource) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// FetchEvent implements source.Fetcher.
func (s *StaticSource) FetchEvent(_ context.Context, st canonical.SourceType, id string) (canonical.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	inv, ok := s.events[id]
	if !ok || inv.SourceType != st {
		return canonical.Invoice{}, fmt.Errorf("static %s %s: %w", st, id, source.ErrNotFound)
	}
	return inv.WithCustomerTaxID(inv.CustomerTaxID), nil
}

var _ source.Fetcher = (*StaticSource)(nil)
