package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/outbox"
)

func TestThresholdWatcher_RepeatedSweepAddsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)

	first, err := h.watcher.SweepOnce(ctx, at(1, 9, 30))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1, Warned: 1}, first)

	second, err := h.watcher.SweepOnce(ctx, at(1, 9, 30))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 1}, second)

	assert.Equal(t, []string{"sla.warn:first_response:t-1:0.5"}, h.store.keys())
}

func TestThresholdWatcher_CrossesThresholdsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)

	result, err := h.watcher.SweepOnce(ctx, at(1, 9, 55))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Warned)

	assert.Equal(t, []string{
		"sla.warn:first_response:t-1:0.5",
		"sla.warn:first_response:t-1:0.9",
	}, h.store.keys())

	var payload outbox.SLAWarnPayload
	require.NoError(t, json.Unmarshal(h.store.outbox[1].Payload, &payload))
	assert.Equal(t, "t-1", payload.TicketID)
	assert.Equal(t, domain.DimensionFirstResponse, payload.Dimension)
	assert.InDelta(t, 0.9, payload.Fraction, 1e-9)
}

func TestThresholdWatcher_BreachIsNotifiedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)

	result, err := h.watcher.SweepOnce(ctx, at(1, 10, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breached)
	assert.True(t, h.store.status("t-1").FirstResponse.Breached)
	assert.False(t, h.store.status("t-1").Resolution.Breached)

	keys := h.store.keys()
	assert.Contains(t, keys, "sla.breach:first_response:t-1")

	again, err := h.watcher.SweepOnce(ctx, at(1, 10, 30))
	require.NoError(t, err)
	assert.Equal(t, 0, again.Breached)
	assert.Equal(t, keys, h.store.keys())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Breaches.WithLabelValues("first_response")))

	msg, err := memOutboxRepo{h.store}.GetByDedupeKey(ctx, "sla.breach:first_response:t-1")
	require.NoError(t, err)
	var payload outbox.SLABreachPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, []string{"agent@example.com"}, payload.Recipients.Assignee)
	assert.Equal(t, []string{"customer@example.com"}, payload.Recipients.Requester)
	assert.Equal(t, at(1, 10, 0), *payload.DueAt)
}

func TestThresholdWatcher_PausedClockWarnsButNeverBreaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)
	_, err := h.sla.Pause(ctx, PauseInput{TicketID: "t-1", Dimension: domain.DimensionFirstResponse, ActorID: "a", At: at(1, 9, 30)})
	require.NoError(t, err)

	result, err := h.watcher.SweepOnce(ctx, at(1, 11, 0))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Breached)
	assert.Equal(t, []string{"sla.warn:first_response:t-1:0.5"}, h.store.keys())
	assert.False(t, h.store.status("t-1").FirstResponse.Breached)
}

func TestThresholdWatcher_SkipsCompletedTickets(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)
	for _, d := range domain.Dimensions {
		_, err := h.sla.Complete(ctx, "t-1", d, at(1, 9, 10))
		require.NoError(t, err)
	}

	result, err := h.watcher.SweepOnce(ctx, at(2, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, h.store.keys())
}

func TestThresholdWatcher_FailingTicketDoesNotStopSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)

	gone := "gone"
	start, due := at(1, 9, 0), at(1, 10, 0)
	h.store.statuses["t-0"] = domain.TicketSLAStatus{
		TicketID:   "t-0",
		SLAID:      "office-sla",
		CalendarID: &gone,
		FirstResponse: domain.DimensionTimer{
			TargetMinutes: intPtr(60),
			StartedAt:     &start,
			LastResumeAt:  &start,
			DueAt:         &due,
		},
	}

	result, err := h.watcher.SweepOnce(ctx, at(1, 9, 30))
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Scanned: 2, Warned: 1, Failed: 1}, result)
}

func TestThresholdWatcher_PagesThroughAllTickets(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 12; i++ {
		attachAndStart(t, h, domain.TicketRef{ID: fmt.Sprintf("t-%02d", i)}, "always-on", 1, 9, 0)
	}

	result, err := h.watcher.SweepOnce(context.Background(), at(1, 9, 30))
	require.NoError(t, err)
	assert.Equal(t, 12, result.Scanned)
	assert.Equal(t, 12, result.Warned)
}

func TestThresholdWatcher_StopsWhenCancelled(t *testing.T) {
	h := newHarness(t)
	attachAndStart(t, h, domain.TicketRef{ID: "t-1"}, "always-on", 1, 9, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.watcher.SweepOnce(ctx, at(1, 9, 30))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, result.Scanned)
	assert.Empty(t, h.store.keys())
}
