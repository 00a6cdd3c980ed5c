//go:build integration

package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tarsy-run/tarsy/pkg/models"
)

// startPostgres brings up a disposable database for one test, grounded on
// the teacher's test/util/database.go shared-testcontainer helper, scoped
// down to one container per test since this module's suite is far smaller.
func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("tarsy_test"),
		postgres.WithUsername("tarsy"),
		postgres.WithPassword("tarsy"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestPostgresStore_CreateAndFetchSession(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	store, err := Connect(ctx, Config{DSN: dsn, PoolSize: 5})
	require.NoError(t, err)

	session := &models.AlertSession{
		AlertID:     "alert-1",
		AlertType:   "kubernetes",
		AgentType:   "kubernetes-agent",
		AlertData:   []byte(`{"namespace":"prod"}`),
		Status:      models.SessionInProgress,
		StartedAtUs: time.Now().UnixMicro(),
		ChainID:     "kubernetes-chain",
	}
	sessionID, err := store.CreateSession(ctx, session)
	require.NoError(t, err)
	require.NotEmpty(t, sessionID)

	detail, err := store.GetSessionWithStages(ctx, sessionID)
	require.NoError(t, err)
	require.Equal(t, models.SessionInProgress, detail.Session.Status)
	require.Equal(t, "kubernetes", detail.Session.AlertType)
	require.Empty(t, detail.Stages)

	changed, err := store.UpdateSessionStatus(ctx, sessionID, models.SessionCompleted, "", "pods are healthy")
	require.NoError(t, err)
	require.True(t, changed)

	page, err := store.GetSessionsList(ctx, SessionFilter{AlertType: "kubernetes"}, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalItems)
	require.Equal(t, models.SessionCompleted, page.Sessions[0].Status)
}

func TestPostgresStore_ListNonTerminalSessionsExcludesCompleted(t *testing.T) {
	ctx := context.Background()
	dsn := startPostgres(t)

	store, err := Connect(ctx, Config{DSN: dsn, PoolSize: 5})
	require.NoError(t, err)

	pending := &models.AlertSession{AlertID: "a1", AlertType: "kubernetes", Status: models.SessionInProgress, StartedAtUs: time.Now().UnixMicro(), ChainID: "c1"}
	done := &models.AlertSession{AlertID: "a2", AlertType: "kubernetes", Status: models.SessionCompleted, StartedAtUs: time.Now().UnixMicro(), ChainID: "c1"}

	pendingID, err := store.CreateSession(ctx, pending)
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, done)
	require.NoError(t, err)

	orphans, err := store.ListNonTerminalSessions(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, pendingID, orphans[0].SessionID)
}
