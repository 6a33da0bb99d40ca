//go:build integration

package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/domain"
	"github.com/spec-kit/sla-engine/internal/persistence"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	if !dockerAvailable() {
		fmt.Println("Docker is not available, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("sla_engine_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to get connection string: %v", err)
	}

	pg, err := persistence.NewPostgres(ctx, config.PostgresConfig{DSN: connStr, MaxConns: 10}, zap.NewNop())
	if err != nil {
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := persistence.RunMigrations(ctx, pg.PoolHandle(), zap.NewNop()); err != nil {
		pg.Close()
		_ = pgContainer.Terminate(ctx)
		log.Fatalf("failed to run migrations: %v", err)
	}
	testPool = pg.PoolHandle()

	code := m.Run()

	pg.Close()
	_ = pgContainer.Terminate(ctx)
	os.Exit(code)
}

func dockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `
		TRUNCATE outbox_messages, sla_pause_history, ticket_sla_status, sla_policies,
		         calendar_holidays, calendar_work_windows, business_calendars,
		         ticket_watchers, tickets, staff_members, users
		RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return testPool
}

func intPtr(v int) *int { return &v }

func seedPolicyAndTicket(t *testing.T, pool *pgxpool.Pool, ticketID string) {
	t.Helper()
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
		INSERT INTO sla_policies (id, org_id, first_response_target_minutes, resolution_target_minutes)
		VALUES ('p-1', 'org-1', 60, 480) ON CONFLICT DO NOTHING`)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO tickets (id, external_key, title) VALUES ($1, $2, 'x')`, ticketID, "KEY-"+ticketID)
	require.NoError(t, err)
}

func TestOutbox_InsertIsIdempotent(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewOutboxRepository(pool)
	uow := persistence.NewTxManager(pool)

	err := uow.WithTx(ctx, func(ctx context.Context) error {
		inserted, err := repo.Insert(ctx, "sla.breach", "breach:resolution:t-1", []byte(`{"ticket_id":"t-1"}`))
		require.NoError(t, err)
		assert.True(t, inserted)

		// A duplicate must not poison the surrounding transaction.
		inserted, err = repo.Insert(ctx, "sla.breach", "breach:resolution:t-1", []byte(`{"ticket_id":"t-1"}`))
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = repo.Insert(ctx, "sla.breach", "breach:first_response:t-1", []byte(`{"ticket_id":"t-1"}`))
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOutbox_ConcurrentClaimsAreDisjoint(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewOutboxRepository(pool)
	uow := persistence.NewTxManager(pool)

	for i := 0; i < 10; i++ {
		_, err := repo.Insert(ctx, "sla.warn", fmt.Sprintf("warn:%d", i), []byte(`{}`))
		require.NoError(t, err)
	}

	var (
		claimedBoth sync.WaitGroup
		done        sync.WaitGroup
		mu          sync.Mutex
		claimed     = map[int][]int64{}
	)
	claimedBoth.Add(2)
	for w := 0; w < 2; w++ {
		done.Add(1)
		go func(w int) {
			defer done.Done()
			err := uow.WithTx(ctx, func(ctx context.Context) error {
				msgs, err := repo.ClaimPending(ctx, time.Now(), 5)
				if err != nil {
					claimedBoth.Done()
					return err
				}
				mu.Lock()
				for _, m := range msgs {
					claimed[w] = append(claimed[w], m.ID)
				}
				mu.Unlock()

				// Hold the locks until both workers have claimed.
				claimedBoth.Done()
				claimedBoth.Wait()

				for _, m := range msgs {
					if err := repo.MarkSent(ctx, m.ID, time.Now()); err != nil {
						return err
					}
				}
				return nil
			})
			assert.NoError(t, err)
		}(w)
	}
	done.Wait()

	require.Len(t, claimed[0], 5)
	require.Len(t, claimed[1], 5)
	all := append(append([]int64{}, claimed[0]...), claimed[1]...)
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		assert.NotEqual(t, all[i-1], all[i], "row %d claimed twice", all[i])
	}

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOutbox_FailureBackoffAndDeadLetter(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewOutboxRepository(pool)
	uow := persistence.NewTxManager(pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	_, err := repo.Insert(ctx, "sla.warn", "retry", []byte(`{}`))
	require.NoError(t, err)
	_, err = repo.Insert(ctx, "sla.warn", "dead", []byte(`{}`))
	require.NoError(t, err)
	retry, err := repo.GetByDedupeKey(ctx, "retry")
	require.NoError(t, err)
	dead, err := repo.GetByDedupeKey(ctx, "dead")
	require.NoError(t, err)

	next := now.Add(time.Minute)
	require.NoError(t, repo.MarkFailed(ctx, DeliveryFailure{ID: retry.ID, Attempts: 1, LastError: "451", NextAttemptAt: &next}))
	require.NoError(t, repo.MarkFailed(ctx, DeliveryFailure{ID: dead.ID, Attempts: 10, LastError: "gone", DeadLetteredAt: &now}))

	require.NoError(t, uow.WithTx(ctx, func(ctx context.Context) error {
		msgs, err := repo.ClaimPending(ctx, now, 10)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = repo.ClaimPending(ctx, next.Add(time.Second), 10)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, retry.ID, msgs[0].ID)
		assert.Equal(t, 1, msgs[0].Attempts)
		require.NotNil(t, msgs[0].LastError)
		assert.Equal(t, "451", *msgs[0].LastError)
		return nil
	}))

	n, err := repo.CountPending(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestTxManager_SavepointRollsBackInnerWorkOnly(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewOutboxRepository(pool)
	uow := persistence.NewTxManager(pool)
	boom := errors.New("boom")

	err := uow.WithTx(ctx, func(ctx context.Context) error {
		if _, err := repo.Insert(ctx, "sla.warn", "outer", []byte(`{}`)); err != nil {
			return err
		}
		innerErr := uow.WithTx(ctx, func(ctx context.Context) error {
			if _, err := repo.Insert(ctx, "sla.warn", "inner", []byte(`{}`)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, innerErr, boom)
		return nil
	})
	require.NoError(t, err)

	_, err = repo.GetByDedupeKey(ctx, "outer")
	assert.NoError(t, err)
	_, err = repo.GetByDedupeKey(ctx, "inner")
	assert.Error(t, err)
}

func TestSLAStatus_RowLockSerialisesWriters(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewSLAStatusRepository(pool)
	uow := persistence.NewTxManager(pool)

	seedPolicyAndTicket(t, pool, "t-1")

	started := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.Save(ctx, &domain.TicketSLAStatus{
		TicketID:      "t-1",
		SLAID:         "p-1",
		FirstResponse: domain.DimensionTimer{TargetMinutes: intPtr(60), StartedAt: &started},
		Resolution:    domain.DimensionTimer{TargetMinutes: intPtr(480), StartedAt: &started},
	}))

	locked := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		err := uow.WithTx(ctx, func(ctx context.Context) error {
			status, err := repo.GetForUpdate(ctx, "t-1")
			if err != nil {
				close(locked)
				return err
			}
			close(locked)
			time.Sleep(200 * time.Millisecond)
			status.FirstResponse.ElapsedMinutes += 5
			return repo.Save(ctx, status)
		})
		assert.NoError(t, err)
	}()

	var seen int
	var waited time.Duration
	go func() {
		defer wg.Done()
		<-locked
		begin := time.Now()
		err := uow.WithTx(ctx, func(ctx context.Context) error {
			status, err := repo.GetForUpdate(ctx, "t-1")
			if err != nil {
				return err
			}
			waited = time.Since(begin)
			seen = status.FirstResponse.ElapsedMinutes
			status.FirstResponse.ElapsedMinutes += 7
			return repo.Save(ctx, status)
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.Equal(t, 5, seen, "second writer must observe the first commit")
	assert.GreaterOrEqual(t, waited, 100*time.Millisecond)

	final, err := repo.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 12, final.FirstResponse.ElapsedMinutes)

	ids, err := repo.ListActiveTicketIDs(ctx, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, ids)
}

func TestSLAStatus_FollowsTicketLifecycle(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()
	repo := NewSLAStatusRepository(pool)
	seedPolicyAndTicket(t, pool, "t-1")

	started := time.Now().UTC().Truncate(time.Microsecond)
	orphan := &domain.TicketSLAStatus{
		TicketID:      "t-404",
		SLAID:         "p-1",
		FirstResponse: domain.DimensionTimer{TargetMinutes: intPtr(60), StartedAt: &started},
	}
	err := repo.Save(ctx, orphan)
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "23503", pgErr.Code)

	require.NoError(t, repo.Save(ctx, &domain.TicketSLAStatus{
		TicketID:      "t-1",
		SLAID:         "p-1",
		FirstResponse: domain.DimensionTimer{TargetMinutes: intPtr(60), StartedAt: &started},
	}))
	_, err = pool.Exec(ctx, `DELETE FROM tickets WHERE id = 't-1'`)
	require.NoError(t, err)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM ticket_sla_status WHERE ticket_id = 't-1'`).Scan(&remaining))
	assert.Zero(t, remaining)
}

func TestRecipientDirectory_JoinsCollaboratorTables(t *testing.T) {
	pool := setup(t)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, name, email) VALUES ('u-1', 'Requester', 'requester@example.com');
		INSERT INTO staff_members (id, name, email, team_id, active_flag) VALUES
			('s-1', 'Agent', 'agent@example.com', 'team-1', TRUE),
			('s-2', 'Peer', 'peer@example.com', 'team-1', TRUE),
			('s-3', 'Gone', 'gone@example.com', 'team-1', FALSE);
		INSERT INTO tickets (id, external_key, requester_user_id, team_id, assignee_staff_id, title, status, priority)
			VALUES ('t-1', 'T-0001', 'u-1', 'team-1', 's-1', 'Printer on fire', 'OPEN', 'HIGH');
		INSERT INTO ticket_watchers (ticket_id, email) VALUES ('t-1', 'watcher@example.com');
	`)
	require.NoError(t, err)

	dir := NewRecipientDirectory(pool)
	got, err := dir.TicketRecipients(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"agent@example.com"}, got.Assignee)
	assert.ElementsMatch(t, []string{"agent@example.com", "peer@example.com"}, got.Team)
	assert.Equal(t, []string{"watcher@example.com"}, got.Watchers)
	assert.Equal(t, []string{"requester@example.com"}, got.Requester)

	empty, err := dir.TicketRecipients(ctx, "t-404")
	require.NoError(t, err)
	assert.Empty(t, empty.All())
}

func TestMigrations_RerunIsNoop(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, persistence.RunMigrations(ctx, testPool, zap.NewNop()))

	files, err := persistence.MigrationFiles()
	require.NoError(t, err)

	var recorded int
	require.NoError(t, testPool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&recorded))
	assert.Equal(t, len(files), recorded)
}
