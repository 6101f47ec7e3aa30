package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/paperflow/internal/store"
)

func TestStoreAgainstPostgres(t *testing.T) {
	if testing.Short() || os.Getenv("PAPERFLOW_INTEGRATION") == "" {
		t.Skip("set PAPERFLOW_INTEGRATION=1 to run against a Postgres container")
	}
	ctx := context.Background()

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "paperflow",
				"POSTGRES_PASSWORD": "paperflow",
				"POSTGRES_DB":       "paperflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://paperflow:paperflow@%s:%s/paperflow?sslmode=disable", host, port.Port())

	require.NoError(t, store.Migrate("file://"+findMigrationsDir(t), dsn, "up", 0))
	require.NoError(t, store.Migrate("file://"+findMigrationsDir(t), dsn, "up", 0), "second up is a no-op")

	st, err := store.NewWithDSN(ctx, dsn)
	require.NoError(t, err)
	defer st.Close()

	id := uuid.NewString()
	require.NoError(t, st.CreateRun(ctx, store.RunRecord{ID: id, Kind: "workflow", Request: "survey", Status: store.StatusQueued}))
	require.NoError(t, st.MarkRunStarted(ctx, id))
	for seq := int64(1); seq <= 3; seq++ {
		require.NoError(t, st.AppendEvent(ctx, store.EventRecord{RunID: id, Seq: seq, Type: "stage", Payload: json.RawMessage(fmt.Sprintf(`{"n":%d}`, seq))}))
	}
	require.NoError(t, st.AppendEvent(ctx, store.EventRecord{RunID: id, Seq: 3, Type: "stage"}), "duplicate seq is ignored")
	require.NoError(t, st.FinishRun(ctx, id, store.StatusCompleted, json.RawMessage(`{"ok":true}`), nil))

	rec, ok, err := st.GetRun(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, store.StatusCompleted, rec.Status)
	assert.JSONEq(t, `{"ok":true}`, string(rec.Result))
	assert.NotNil(t, rec.StartedAt)
	assert.NotNil(t, rec.FinishedAt)

	events, err := st.ListEvents(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.EqualValues(t, 2, events[0].Seq)
	assert.JSONEq(t, `{"n":3}`, string(events[1].Payload))
}

// findMigrationsDir walks up from the package directory to the repo's migrations/.
func findMigrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		candidate := filepath.Join(dir, "migrations")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("migrations directory not found")
		}
		dir = parent
	}
}
