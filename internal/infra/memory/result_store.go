package memory

import (
	"context"
	"sync"

	"classroom-live-service/internal/domain"
)

// SavedResult is one persisted graded result.
type SavedResult struct {
	Tenant   string
	Identity domain.Identity
	Result   domain.GradedResult
}

// ResultStore keeps graded results in memory: one slice per tenant plus the global aggregate.
type ResultStore struct {
	mu      sync.RWMutex
	tenants map[string][]SavedResult
	global  []SavedResult
}

func NewResultStore() *ResultStore {
	return &ResultStore{tenants: make(map[string][]SavedResult)}
}

func (s *ResultStore) Save(_ context.Context, tenant string, who domain.Identity, result domain.GradedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := SavedResult{Tenant: tenant, Identity: who, Result: result}
	s.tenants[tenant] = append(s.tenants[tenant], row)
	s.global = append(s.global, row)
	return nil
}

// Tenant returns the tenant-scoped log.
func (s *ResultStore) Tenant(tenant string) []SavedResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SavedResult(nil), s.tenants[tenant]...)
}

// Global returns the cross-tenant aggregate log.
func (s *ResultStore) Global() []SavedResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SavedResult(nil), s.global...)
}
