package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/events"
	"github.com/spec-kit/sla-engine/internal/observability"
)

type harness struct {
	store      *memStore
	metrics    *observability.Metrics
	writer     *OutboxWriter
	sla        *SLAService
	watcher    *ThresholdWatcher
	handler    *TicketEventHandler
	dispatcher events.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := newMemStore()
	store.calendars["office"] = domain.BusinessCalendar{
		ID:       "office",
		OrgID:    "org-1",
		Name:     "Office",
		Timezone: "UTC",
		Active:   true,
		Windows: []domain.WorkWindow{
			{Weekday: domain.Monday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: domain.Tuesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: domain.Wednesday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: domain.Thursday, StartMinute: 9 * 60, EndMinute: 17 * 60},
			{Weekday: domain.Friday, StartMinute: 9 * 60, EndMinute: 17 * 60},
		},
	}
	office := "office"
	store.policies["office-sla"] = domain.SLAPolicy{
		ID:                         "office-sla",
		OrgID:                      "org-1",
		Active:                     true,
		FirstResponseTargetMinutes: intPtr(120),
		ResolutionTargetMinutes:    intPtr(480),
		CalendarID:                 &office,
		TargetMatrix: map[domain.TicketPriority]domain.DimensionTargets{
			domain.TicketPriorityUrgent: {FirstResponseMinutes: intPtr(30)},
		},
	}
	store.policies["always-on"] = domain.SLAPolicy{
		ID:                         "always-on",
		OrgID:                      "org-1",
		Active:                     true,
		FirstResponseTargetMinutes: intPtr(60),
		ResolutionTargetMinutes:    intPtr(600),
	}
	store.recipients["t-1"] = domain.Recipients{
		Assignee:  []string{"agent@example.com"},
		Team:      []string{"team@example.com"},
		Watchers:  []string{"watcher@example.com"},
		Requester: []string{"customer@example.com"},
	}

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)
	logger := zaptest.NewLogger(t)

	writer := NewOutboxWriter(memOutboxRepo{store}, metrics, logger)
	slaService := NewSLAService(SLADependencies{
		UnitOfWork:   store,
		StatusRepo:   memStatusRepo{store},
		PolicyRepo:   memPolicyRepo{store},
		CalendarRepo: memCalendarRepo{store},
		HistoryRepo:  memHistoryRepo{store},
	})
	watcher := NewThresholdWatcher(WatcherDependencies{
		UnitOfWork:   store,
		StatusRepo:   memStatusRepo{store},
		PolicyRepo:   memPolicyRepo{store},
		CalendarRepo: memCalendarRepo{store},
		Directory:    memDirectory{store},
		Writer:       writer,
		Metrics:      metrics,
		Logger:       logger,
		BatchSize:    10,
	})
	handler := NewTicketEventHandler(store, slaService, writer, memDirectory{store}, nil, logger)
	dispatcher := events.NewInMemoryDispatcher()
	handler.RegisterHandlers(dispatcher)

	return &harness{
		store:      store,
		metrics:    metrics,
		writer:     writer,
		sla:        slaService,
		watcher:    watcher,
		handler:    handler,
		dispatcher: dispatcher,
	}
}

func intPtr(v int) *int { return &v }

func at(d, hh, mm int) time.Time {
	return time.Date(2024, time.January, d, hh, mm, 0, 0, time.UTC)
}
