package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fjod/go_fulfillment/notification-service/internal/dedup"
	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"github.com/fjod/go_fulfillment/notification-service/internal/repository"
)

var errBoom = errors.New("boom")

type MockRepository struct {
	mu        sync.Mutex
	nextID    int
	records   map[string]*domain.Notification
	CreateErr error
	UpdateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{records: map[string]*domain.Notification{}}
}

func (m *MockRepository) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.nextID++
	n.ID = fmt.Sprintf("n%03d", m.nextID)
	cp := *n
	m.records[n.ID] = &cp
	return nil
}

func (m *MockRepository) Update(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.records[n.ID]; !ok {
		return repository.ErrNotificationNotFound
	}
	cp := *n
	m.records[n.ID] = &cp
	return nil
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotificationNotFound
	}
	return n, nil
}

func (m *MockRepository) ListByUserID(_ context.Context, userID int64) ([]*domain.Notification, error) {
	return m.filter(func(n *domain.Notification) bool { return n.UserID == userID }), nil
}

func (m *MockRepository) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Notification, error) {
	return m.filter(func(n *domain.Notification) bool { return n.Status == status }), nil
}

func (m *MockRepository) CountByUserAndStatus(_ context.Context, userID int64, status domain.Status) (int64, error) {
	return int64(len(m.filter(func(n *domain.Notification) bool {
		return n.UserID == userID && n.Status == status
	}))), nil
}

func (m *MockRepository) filter(keep func(*domain.Notification) bool) []*domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Notification
	for _, n := range m.records {
		if keep(n) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MockRepository) All() []*domain.Notification {
	return m.filter(func(*domain.Notification) bool { return true })
}

type MockSender struct {
	mu   sync.Mutex
	Err  error
	sent []*domain.Notification
}

func (m *MockSender) Send(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.sent = append(m.sent, &cp)
	return m.Err
}

func (m *MockSender) Sent() []*domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Notification(nil), m.sent...)
}

// MockDedup mirrors the pending/done claim states in memory.
type MockDedup struct {
	mu       sync.Mutex
	claims   map[string]dedup.State
	ClaimErr error
	released []string
}

func NewMockDedup() *MockDedup {
	return &MockDedup{claims: map[string]dedup.State{}}
}

func (m *MockDedup) Claim(_ context.Context, key string) (dedup.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return 0, m.ClaimErr
	}
	if state, ok := m.claims[key]; ok {
		return state, nil
	}
	m.claims[key] = dedup.InProgress
	return dedup.Claimed, nil
}

func (m *MockDedup) Complete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key] = dedup.Done
	return nil
}

func (m *MockDedup) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, key)
	m.released = append(m.released, key)
	return nil
}

// ExpireLease drops an in-progress claim, as Redis does when its lease lapses.
func (m *MockDedup) ExpireLease(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[key] == dedup.InProgress {
		delete(m.claims, key)
	}
}

// Hold leaves key claimed as if another handler were mid-delivery.
func (m *MockDedup) Hold(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claims[key] = dedup.InProgress
}

func (m *MockDedup) Released() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.released...)
}
