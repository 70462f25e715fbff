package store

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/edukpi/internal/contracts"
	"github.com/wonny/edukpi/internal/pipeline"
	"github.com/wonny/edukpi/pkg/config"
	"github.com/wonny/edukpi/pkg/database"
	"github.com/wonny/edukpi/pkg/logger"
)

func TestKPIArgs(t *testing.T) {
	args, err := kpiArgs("run-1", "graduation", contracts.KPIRow{
		Year:       2021,
		Metric:     "graduation_rate",
		EntityID:   "1001",
		EntityName: "Lincoln High",
		Group:      "Female",
		Value:      contracts.NA(),
	})
	require.NoError(t, err)
	require.Len(t, args, 9)

	assert.Equal(t, "graduation", args[0])
	assert.Equal(t, 2021, args[1])
	assert.Nil(t, args[6].(*float64))
	assert.Equal(t, []byte("{}"), args[7])

	args, err = kpiArgs("run-1", "graduation", contracts.KPIRow{
		Value:   contracts.Number(91.2),
		Context: map[string]string{"county": "Kent"},
	})
	require.NoError(t, err)
	assert.Equal(t, 91.2, *args[6].(*float64))
	assert.JSONEq(t, `{"county":"Kent"}`, string(args[7].([]byte)))
}

// recorder captures statements in execution order
type recorder struct {
	statements []string
	args       [][]any
}

func (r *recorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.statements = append(r.statements, strings.Join(strings.Fields(sql), " "))
	r.args = append(r.args, args)
	return pgconn.CommandTag{}, nil
}

func (r *recorder) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		r.statements = append(r.statements, strings.Join(strings.Fields(q.SQL), " "))
		r.args = append(r.args, q.Arguments)
	}
	return batchResults{}
}

type batchResults struct{}

func (batchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (batchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (batchResults) QueryRow() pgx.Row                { return nil }
func (batchResults) Close() error                     { return nil }

func TestReplaceKPIRows(t *testing.T) {
	rec := &recorder{}
	rows := []contracts.KPIRow{
		{Year: 2021, Metric: "graduation_rate", EntityID: "1", Group: "All Students", Value: contracts.Number(90)},
		{Year: 2021, Metric: "graduation_rate", EntityID: "2", Group: "All Students", Value: contracts.NA()},
	}

	require.NoError(t, replaceKPIRows(context.Background(), rec, "run-1", "graduation", rows))

	require.Len(t, rec.statements, 3)
	assert.Equal(t, "DELETE FROM kpi.metrics WHERE family = $1", rec.statements[0])
	assert.Equal(t, []any{"graduation"}, rec.args[0])
	for i, row := range rows {
		assert.True(t, strings.HasPrefix(rec.statements[i+1], "INSERT INTO kpi.metrics"))
		assert.Equal(t, row.EntityID, rec.args[i+1][3])
	}

	// an empty table still clears the family
	rec = &recorder{}
	require.NoError(t, replaceKPIRows(context.Background(), rec, "run-2", "graduation", nil))
	assert.Equal(t, []string{"DELETE FROM kpi.metrics WHERE family = $1"}, rec.statements)
}

func TestRepository_SaveRun(t *testing.T) {
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	ctx := context.Background()
	db, err := database.New(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db.Pool, logger.Nop())
	require.NoError(t, repo.EnsureSchema(ctx))

	family := "store_test_" + uuid.NewString()[:8]
	res := &pipeline.Result{
		RunID: uuid.NewString(),
		Families: []*pipeline.FamilyResult{{
			Family: family,
			Table: contracts.Table{
				Family: family,
				Rows: []contracts.KPIRow{
					{Year: 2021, Metric: "graduation_rate", EntityID: "1", Group: "All Students", Value: contracts.Number(90)},
					{Year: 2021, Metric: "graduation_rate", EntityID: "1", Group: "Female", Value: contracts.NA()},
				},
			},
		}},
	}

	require.NoError(t, repo.SaveRun(ctx, res))
	// saving twice keeps one row per key
	require.NoError(t, repo.SaveRun(ctx, res))

	n, err := repo.CountRows(ctx, family)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// a row that left the source data is gone after the next run
	res.Families[0].Table.Rows = res.Families[0].Table.Rows[:1]
	require.NoError(t, repo.SaveRun(ctx, res))

	n, err = repo.CountRows(ctx, family)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.Pool.Exec(ctx, `DELETE FROM kpi.metrics WHERE family = $1`, family)
	require.NoError(t, err)
	_, err = db.Pool.Exec(ctx, `DELETE FROM kpi.runs WHERE run_id = $1`, res.RunID)
	require.NoError(t, err)
}
