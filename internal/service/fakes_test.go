package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/repository"
)

// memStore backs the fake repositories. memStore.WithTx snapshots the mutable
// tables and restores them when fn fails, which mirrors savepoint rollback.
type memStore struct {
	mu         sync.Mutex
	statuses   map[string]domain.TicketSLAStatus
	policies   map[string]domain.SLAPolicy
	calendars  map[string]domain.BusinessCalendar
	history    []domain.SLAPauseHistory
	outbox     []domain.OutboxMessage
	recipients map[string]domain.Recipients
	nextID     int64
	failInsert error
	txCount    int
}

func newMemStore() *memStore {
	return &memStore{
		statuses:   map[string]domain.TicketSLAStatus{},
		policies:   map[string]domain.SLAPolicy{},
		calendars:  map[string]domain.BusinessCalendar{},
		recipients: map[string]domain.Recipients{},
	}
}

type snapshot struct {
	statuses map[string]domain.TicketSLAStatus
	history  []domain.SLAPauseHistory
	outbox   []domain.OutboxMessage
}

func (s *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.txCount++
	snap := snapshot{
		statuses: make(map[string]domain.TicketSLAStatus, len(s.statuses)),
		history:  append([]domain.SLAPauseHistory(nil), s.history...),
		outbox:   append([]domain.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.statuses {
		snap.statuses[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.statuses, s.history, s.outbox = snap.statuses, snap.history, snap.outbox
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m.Kind)
	}
	return out
}

func (s *memStore) keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, m.DedupeKey)
	}
	return out
}

func (s *memStore) status(ticketID string) domain.TicketSLAStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[ticketID]
}

// copyTimer detaches pointer fields so stored rows are not aliased by callers.
func copyTimer(t domain.DimensionTimer) domain.DimensionTimer {
	cp := func(v *time.Time) *time.Time {
		if v == nil {
			return nil
		}
		c := *v
		return &c
	}
	out := t
	if t.TargetMinutes != nil {
		v := *t.TargetMinutes
		out.TargetMinutes = &v
	}
	out.StartedAt, out.CompletedAt, out.DueAt = cp(t.StartedAt), cp(t.CompletedAt), cp(t.DueAt)
	out.PausedAt, out.LastResumeAt = cp(t.PausedAt), cp(t.LastResumeAt)
	return out
}

func copyStatus(s domain.TicketSLAStatus) domain.TicketSLAStatus {
	s.FirstResponse = copyTimer(s.FirstResponse)
	s.Resolution = copyTimer(s.Resolution)
	return s
}

type memStatusRepo struct{ s *memStore }

func (r memStatusRepo) Get(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	st, ok := r.s.statuses[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := copyStatus(st)
	return &out, nil
}

func (r memStatusRepo) GetForUpdate(ctx context.Context, ticketID string) (*domain.TicketSLAStatus, error) {
	return r.Get(ctx, ticketID)
}

func (r memStatusRepo) Save(ctx context.Context, status *domain.TicketSLAStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	status.UpdatedAt = time.Now()
	r.s.statuses[status.TicketID] = copyStatus(*status)
	return nil
}

func (r memStatusRepo) ListActiveTicketIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ids []string
	for id, st := range r.s.statuses {
		if id <= afterID {
			continue
		}
		if st.FirstResponse.Active() || st.Resolution.Active() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type memPolicyRepo struct{ s *memStore }

func (r memPolicyRepo) GetByID(ctx context.Context, id string) (*domain.SLAPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.policies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

type memCalendarRepo struct{ s *memStore }

func (r memCalendarRepo) GetByID(ctx context.Context, id string) (*domain.BusinessCalendar, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calendars[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

type memHistoryRepo struct{ s *memStore }

func (r memHistoryRepo) Create(ctx context.Context, entry *domain.SLAPauseHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.history = append(r.s.history, *entry)
	return nil
}

func (r memHistoryRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.SLAPauseHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.SLAPauseHistory
	for _, h := range r.s.history {
		if h.TicketID == ticketID {
			out = append(out, h)
		}
	}
	return out, nil
}

type memOutboxRepo struct{ s *memStore }

func (r memOutboxRepo) Insert(ctx context.Context, kind, dedupeKey string, payload json.RawMessage) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failInsert != nil {
		return false, r.s.failInsert
	}
	for _, m := range r.s.outbox {
		if m.DedupeKey == dedupeKey {
			return false, nil
		}
	}
	r.s.nextID++
	r.s.outbox = append(r.s.outbox, domain.OutboxMessage{
		ID:        r.s.nextID,
		Kind:      kind,
		DedupeKey: dedupeKey,
		Payload:   payload,
		CreatedAt: time.Now(),
	})
	return true, nil
}

func (r memOutboxRepo) ClaimPending(ctx context.Context, now time.Time, limit int) ([]domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.OutboxMessage
	for _, m := range r.s.outbox {
		if m.Pending() && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			out = append(out, m)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r memOutboxRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == id {
			r.s.outbox[i].SentAt = &at
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r memOutboxRepo) MarkFailed(ctx context.Context, f repository.DeliveryFailure) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if r.s.outbox[i].ID == f.ID {
			msg := f.LastError
			r.s.outbox[i].Attempts = f.Attempts
			r.s.outbox[i].LastError = &msg
			r.s.outbox[i].NextAttemptAt = f.NextAttemptAt
			r.s.outbox[i].DeadLetteredAt = f.DeadLetteredAt
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r memOutboxRepo) CountPending(ctx context.Context) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, m := range r.s.outbox {
		if m.Pending() {
			n++
		}
	}
	return n, nil
}

func (r memOutboxRepo) GetByDedupeKey(ctx context.Context, key string) (*domain.OutboxMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.outbox {
		if m.DedupeKey == key {
			out := m
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memDirectory struct{ s *memStore }

func (d memDirectory) TicketRecipients(ctx context.Context, ticketID string) (domain.Recipients, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	return d.s.recipients[ticketID], nil
}
