package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/licitaciones/platform/pkg/common/database"
	"github.com/licitaciones/platform/pkg/common/models"
	"github.com/licitaciones/platform/pkg/dedup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"
)

// startPostgres runs a throwaway Postgres. Set TENDERS_INTEGRATION=1 to enable.
func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	if os.Getenv("TENDERS_INTEGRATION") == "" {
		t.Skip("TENDERS_INTEGRATION not set")
	}
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "licitaciones",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s user=test password=test dbname=licitaciones port=%s sslmode=disable", host, port.Port())
	db, err := database.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, NewRepository(db).AutoMigrate())
	return db
}

func sampleTender(numero string) *models.Tender {
	t := &models.Tender{
		NumeroProcedimiento: numero,
		EntidadCompradora:   "Secretaría de Salud",
		Fuente:              "COMPRASMX",
		Estado:              models.EstadoVigente,
		FechaCaptura:        time.Now().UTC(),
	}
	t.IdentityHash = dedup.HashTender(t)
	return t
}

func TestRepositoryInsertIfAbsent(t *testing.T) {
	db := startPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	inserted, err := repo.InsertIfAbsent(ctx, sampleTender("LA-012M7B997-E1-2025"))
	require.NoError(t, err)
	require.True(t, inserted)

	again := sampleTender("la-012m7b997-e1-2025 ")
	again.EntidadCompradora = "SECRETARIA DE SALUD"
	again.IdentityHash = dedup.HashTender(again)
	inserted, err = repo.InsertIfAbsent(ctx, again)
	require.NoError(t, err)
	require.False(t, inserted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRepositoryConcurrentWritersProduceOneRow(t *testing.T) {
	db := startPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.InsertIfAbsent(ctx, sampleTender("AA-1"))
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	counts, err := repo.CountBySource(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, counts["COMPRASMX"])
}

func TestRepositoryUpdateExisting(t *testing.T) {
	db := startPostgres(t)
	repo := NewRepository(db)
	ctx := context.Background()

	first := sampleTender("LA-2")
	_, err := repo.InsertIfAbsent(ctx, first)
	require.NoError(t, err)

	fallo := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	later := sampleTender("LA-2")
	later.Estado = models.EstadoCerrado
	later.FechaFallo = &fallo
	updated, err := repo.UpdateExisting(ctx, later)
	require.NoError(t, err)
	require.True(t, updated)

	stored, err := repo.Get(ctx, first.IdentityHash)
	require.NoError(t, err)
	require.Equal(t, models.EstadoCerrado, stored.Estado)
	require.NotNil(t, stored.FechaFallo)

	updated, err = repo.UpdateExisting(ctx, later)
	require.NoError(t, err)
	require.False(t, updated)
}

func TestStateRepositoryRoundTrip(t *testing.T) {
	db := startPostgres(t)
	states := NewStateRepository(db)
	ctx := context.Background()

	fresh, err := states.Load(ctx, "DOF")
	require.NoError(t, err)
	require.Equal(t, "DOF", fresh.Source)
	require.Empty(t, fresh.Cursor)

	now := time.Now().UTC().Truncate(time.Second)
	fresh.Cursor = "20250301T080000.000000000|dof.txt"
	fresh.LastSuccessAt = &now
	fresh.LastOutcome = models.OutcomeSuccess
	require.NoError(t, states.Save(ctx, fresh))
	fresh.Totals.Runs = 2
	require.NoError(t, states.Save(ctx, fresh))

	loaded, err := states.Load(ctx, "DOF")
	require.NoError(t, err)
	require.Equal(t, fresh.Cursor, loaded.Cursor)
	require.EqualValues(t, 2, loaded.Totals.Runs)
	require.True(t, loaded.LastSuccessAt.Equal(now))

	all, err := states.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
