package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_fulfillment/notification-service/internal/domain"
	"github.com/fjod/go_fulfillment/notification-service/internal/repository"
	"github.com/segmentio/kafka-go"
)

// mockReader hands out queued messages once, then blocks until ctx is done.
type mockReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *mockReader) committedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type mockWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *mockWriter) topics() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, m := range w.messages {
		out = append(out, m.Topic)
	}
	return out
}

// MockRepository is a minimal in-memory notification store.
type MockRepository struct {
	mu      sync.Mutex
	records []*domain.Notification
}

func (m *MockRepository) Create(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = fmt.Sprintf("n%d", len(m.records)+1)
	cp := *n
	m.records = append(m.records, &cp)
	return nil
}

func (m *MockRepository) Update(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.records {
		if r.ID == n.ID {
			cp := *n
			m.records[i] = &cp
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (m *MockRepository) GetByID(context.Context, string) (*domain.Notification, error) {
	return nil, repository.ErrNotificationNotFound
}

func (m *MockRepository) ListByUserID(context.Context, int64) ([]*domain.Notification, error) {
	return m.all(), nil
}

func (m *MockRepository) ListByStatus(context.Context, domain.Status) ([]*domain.Notification, error) {
	return m.all(), nil
}

func (m *MockRepository) CountByUserAndStatus(context.Context, int64, domain.Status) (int64, error) {
	return int64(len(m.all())), nil
}

func (m *MockRepository) all() []*domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Notification(nil), m.records...)
}
