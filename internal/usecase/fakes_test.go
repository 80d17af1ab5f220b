package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phenrril/pharmastore/internal/domain"
)

type memProducts struct {
	mu       sync.Mutex
	items    map[string]domain.Product
	order    []string
	deleted  []string
	onAppend func(n int)
	failName string
	countErr error
	counts   map[time.Time]int64

	// failDeleteAt makes the n-th Delete call (1-based) fail.
	failDeleteAt   int
	deleteAttempts []string
}

func newMemProducts() *memProducts {
	return &memProducts{items: map[string]domain.Product{}, counts: map[time.Time]int64{}}
}

func (m *memProducts) Append(ctx context.Context, p *domain.Product) (string, error) {
	m.mu.Lock()
	if m.failName != "" && p.Name == m.failName {
		m.mu.Unlock()
		return "", errors.New("write rejected")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	id := p.ID.String()
	m.items[id] = *p
	m.order = append(m.order, id)
	n := len(m.order)
	hook := m.onAppend
	m.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return id, nil
}

func (m *memProducts) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteAttempts = append(m.deleteAttempts, id)
	if len(m.deleteAttempts) == m.failDeleteAt {
		return errors.New("delete failed")
	}
	if _, ok := m.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memProducts) CountSince(ctx context.Context, pharmacyID string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	if c, ok := m.counts[since]; ok {
		return c, nil
	}
	return 0, nil
}

func (m *memProducts) List(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Product{}
	for _, id := range m.order {
		p, ok := m.items[id]
		if !ok || (f.PharmacyID != "" && p.PharmacyID != f.PharmacyID) {
			continue
		}
		out = append(out, p)
	}
	return out, int64(len(out)), nil
}

func (m *memProducts) stored() []domain.Product {
	out, _, _ := m.List(context.Background(), domain.ProductFilter{})
	return out
}

type stubSearcher struct {
	mu      sync.Mutex
	calls   int
	byQuery map[string]int
	urls    []string
	err     error
	// failFirst makes the first n calls return no candidates.
	failFirst int
	// missing lists queries that never find anything.
	missing map[string]bool
}

func (s *stubSearcher) Search(ctx context.Context, query string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.byQuery == nil {
		s.byQuery = map[string]int{}
	}
	s.byQuery[query]++
	if s.err != nil {
		return nil, s.err
	}
	if s.calls <= s.failFirst || s.missing[query] {
		return nil, nil
	}
	return s.urls, nil
}

func (s *stubSearcher) CallsFor(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byQuery[query]
}

func (s *stubSearcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubChecker struct {
	dead map[string]bool
}

func (c stubChecker) Alive(ctx context.Context, u string) bool { return !c.dead[u] }

type stubEnricher struct {
	mu          sync.Mutex
	calls       int
	maxAttempts int
	model       string
	fields      func(raw domain.RawRecord) (domain.NormalizedFields, error)
}

func (e *stubEnricher) ResolveModel(model string) (string, error) {
	switch model {
	case "":
		return "default-model", nil
	case "unknown-model":
		return "", domain.ErrUnknownModel
	}
	return model, nil
}

func (e *stubEnricher) Enrich(ctx context.Context, raw domain.RawRecord, imageURL, model string, maxAttempts int) (domain.NormalizedFields, error) {
	e.mu.Lock()
	e.calls++
	e.maxAttempts = maxAttempts
	e.model = model
	e.mu.Unlock()
	if ctx.Err() != nil {
		return domain.NormalizedFields{}, domain.ErrAborted
	}
	if e.fields != nil {
		return e.fields(raw)
	}
	return domain.NormalizedFields{ProductName: raw.Field(domain.FieldName), Price: 10, Quantity: 1}, nil
}

type stubFetcher struct {
	text  string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls++
	return f.text, f.err
}

type stubLocker struct {
	err        error
	refreshErr error

	mu        sync.Mutex
	refreshes int
	released  bool
}

func (l *stubLocker) Acquire(ctx context.Context, pharmacyID string) (domain.RunLock, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l, nil
}

func (l *stubLocker) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshes++
	return l.refreshErr
}

func (l *stubLocker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

func (l *stubLocker) state() (refreshes int, released bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshes, l.released
}

type stubNotifier struct {
	results []*domain.IngestResult
}

func (n *stubNotifier) RunFinished(ctx context.Context, pharmacyID string, res *domain.IngestResult) error {
	n.results = append(n.results, res)
	return nil
}

type panicNotifier struct{}

func (panicNotifier) RunFinished(ctx context.Context, pharmacyID string, res *domain.IngestResult) error {
	panic("smtp client exploded")
}
