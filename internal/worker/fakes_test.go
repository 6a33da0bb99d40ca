package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/outbox"
	"github.com/spec-kit/sla-engine/internal/repository"
	"github.com/spec-kit/sla-engine/internal/service"
)

// memOutbox is an in-memory outbox table. WithTx restores the rows when fn
// fails or ctx ends before commit, which mirrors pgx rollback. Writes fail
// on a done ctx like a statement on a cancelled connection.
type memOutbox struct {
	mu     sync.Mutex
	rows   []domain.OutboxMessage
	nextID int64
	// failMarkSent, when set, decides per MarkSent call.
	failMarkSent func(id int64) error
}

func (m *memOutbox) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	snap := append([]domain.OutboxMessage(nil), m.rows...)
	m.mu.Unlock()

	err := fn(ctx)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		m.mu.Lock()
		m.rows = snap
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memOutbox) add(p outbox.Payload, dedupeKey string) int64 {
	raw, err := outbox.Encode(p)
	if err != nil {
		panic(err)
	}
	return m.addRaw(string(p.Kind()), dedupeKey, raw)
}

func (m *memOutbox) addRaw(kind, dedupeKey string, raw json.RawMessage) int64 {
	if _, err := m.Insert(context.Background(), kind, dedupeKey, raw); err != nil {
		panic(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID
}

func (m *memOutbox) Insert(_ context.Context, kind, dedupeKey string, payload json.RawMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DedupeKey == dedupeKey {
			return false, nil
		}
	}
	m.nextID++
	m.rows = append(m.rows, domain.OutboxMessage{
		ID:        m.nextID,
		Kind:      kind,
		DedupeKey: dedupeKey,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	return true, nil
}

func (m *memOutbox) ClaimPending(_ context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutboxMessage
	for _, r := range m.rows {
		if !r.Pending() {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memOutbox) MarkSent(ctx context.Context, id int64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failMarkSent != nil {
		if err := m.failMarkSent(id); err != nil {
			return err
		}
	}
	return m.update(id, func(r *domain.OutboxMessage) {
		r.SentAt = &at
	})
}

func (m *memOutbox) MarkFailed(ctx context.Context, f repository.DeliveryFailure) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.update(f.ID, func(r *domain.OutboxMessage) {
		r.Attempts = f.Attempts
		msg := f.LastError
		r.LastError = &msg
		r.NextAttemptAt = f.NextAttemptAt
		r.DeadLetteredAt = f.DeadLetteredAt
	})
}

func (m *memOutbox) CountPending(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.rows {
		if r.Pending() {
			n++
		}
	}
	return n, nil
}

func (m *memOutbox) GetByDedupeKey(_ context.Context, dedupeKey string) (*domain.OutboxMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DedupeKey == dedupeKey {
			row := r
			return &row, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memOutbox) update(id int64, fn func(*domain.OutboxMessage)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].ID == id {
			fn(&m.rows[i])
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *memOutbox) row(id int64) domain.OutboxMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.ID == id {
			return r
		}
	}
	return domain.OutboxMessage{}
}

type staticDirectory map[string]domain.Recipients

func (d staticDirectory) TicketRecipients(_ context.Context, ticketID string) (domain.Recipients, error) {
	return d[ticketID], nil
}

type sentMail struct {
	To      []string
	Subject string
	Body    string
}

// fakeMailer records deliveries. fail, when set, decides per call; delay
// simulates a slow relay.
type fakeMailer struct {
	mu    sync.Mutex
	sent  []sentMail
	fail  func(to []string) error
	delay time.Duration
}

func (f *fakeMailer) Send(ctx context.Context, to []string, subject, body string) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.fail != nil {
		if err := f.fail(to); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *fakeSweeper) SweepOnce(ctx context.Context, _ time.Time) (service.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if _, ok := ctx.Deadline(); !ok {
		return service.SweepResult{}, errors.New("sweep context has no deadline")
	}
	return service.SweepResult{Scanned: 3, Warned: 1}, s.err
}

func (s *fakeSweeper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeLease struct{ released bool }

func (l *fakeLease) Release(context.Context) error {
	l.released = true
	return nil
}

type fakeLeases struct {
	err   error
	lease *fakeLease
	ttl   time.Duration
}

func (f *fakeLeases) AcquireLease(_ context.Context, _ string, ttl time.Duration) (Releaser, error) {
	f.ttl = ttl
	if f.err != nil {
		return nil, f.err
	}
	f.lease = &fakeLease{}
	return f.lease, nil
}
