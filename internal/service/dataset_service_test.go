package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/domain"
	"curator/internal/etl"
	"curator/internal/service"
	"curator/internal/storage"
)

const sqlDataset = `{"data":[
	{"id":"q1","input_text":"users","generated_sql":"select * from users"},
	{"id":"q2","input_text":"orders","generated_sql":"select * from (orders"},
	{"id":"q3","input_text":"items","generated_sql":"select  id\nfrom items","status":"verified"}
]}`

func newDatasetService(t *testing.T) (*service.DatasetService, *storage.TransformRunStore, *service.MockEmitter) {
	t.Helper()
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	runs := storage.NewTransformRunStore(db)
	emitter := &service.MockEmitter{}
	return service.NewDatasetService(etl.NewEngine(4), runs, emitter), runs, emitter
}

func sqlOf(t *testing.T, r etl.Record) string {
	t.Helper()
	v, ok := r.Get("generated_sql")
	require.True(t, ok)
	return v.Text()
}

func TestDatasetService_IngestReplacesSet(t *testing.T) {
	svc, _, emitter := newDatasetService(t)
	ctx := context.Background()

	summary, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, []string{"input_text", "generated_sql"}, svc.Keys().Order)

	_, err = svc.Ingest(ctx, []byte(`[{"id":"only"}]`))
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Len())
	assert.Empty(t, svc.Keys().Order)

	assert.Equal(t, []string{service.EventDatasetIngested, service.EventDatasetIngested}, emitter.Names())
}

func TestDatasetService_FailedIngestKeepsSet(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)
	before := svc.Snapshot()

	_, err = svc.Ingest(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, etl.ErrInvalidJSON)

	_, err = svc.Ingest(ctx, []byte(`{"data": []}`))
	assert.ErrorIs(t, err, etl.ErrNoArrayFound)

	assert.Equal(t, before, svc.Snapshot())
}

func TestDatasetService_PartialTransformMergesByID(t *testing.T) {
	svc, runs, emitter := newDatasetService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)

	out, err := svc.Transform(ctx, etl.NewSelection(etl.StringID("q3"), etl.StringID("q2")), "normalize_sql")
	require.NoError(t, err)
	assert.False(t, out.Full)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, 1, out.Failed)

	records := svc.Snapshot()
	require.Len(t, records, 3)
	assert.Equal(t, "select * from users", sqlOf(t, records[0]))
	assert.Equal(t, etl.StatusError, records[1].Status())
	assert.Equal(t, "select * from (orders", sqlOf(t, records[1]))
	assert.Equal(t, "SELECT ID FROM ITEMS", sqlOf(t, records[2]))
	assert.Equal(t, "verified", records[2].Status())

	logged, err := runs.ListTransformRuns(10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "normalize_sql", logged[0].Transform)
	assert.Equal(t, domain.ScopeSelection, logged[0].Scope)
	assert.Equal(t, 2, logged[0].BatchSize)
	assert.Equal(t, 1, logged[0].Failed)

	assert.Contains(t, emitter.Names(), service.EventDatasetTransformed)
}

func TestDatasetService_FullTransformReplacesSet(t *testing.T) {
	svc, runs, _ := newDatasetService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)
	keys := svc.Keys()

	out, err := svc.Transform(ctx, etl.Selection{}, "openai_format")
	require.NoError(t, err)
	assert.True(t, out.Full)
	assert.Equal(t, 3, out.Applied)

	for _, r := range svc.Snapshot() {
		assert.False(t, r.Has("input_text"))
		assert.True(t, r.Has("messages"))
	}
	// Key statistics keep describing the ingested set.
	assert.Equal(t, keys, svc.Keys())

	logged, err := runs.ListTransformRuns(0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, domain.ScopeAll, logged[0].Scope)

	history, err := svc.TransformHistory(5)
	require.NoError(t, err)
	assert.Equal(t, logged, history)
}

func TestDatasetService_UnknownTransformChangesNothing(t *testing.T) {
	svc, runs, _ := newDatasetService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)
	before := svc.Snapshot()

	_, err = svc.Transform(ctx, etl.Selection{}, "shout")
	assert.ErrorIs(t, err, etl.ErrUnknownTransform)
	assert.Equal(t, before, svc.Snapshot())

	logged, err := runs.ListTransformRuns(0)
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestDatasetService_TransformBatchIsStateless(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()
	_, err := svc.Ingest(ctx, []byte(sqlDataset))
	require.NoError(t, err)
	before := svc.Snapshot()

	out, err := svc.TransformBatch(ctx, before[:1], "normalize_sql")
	require.NoError(t, err)
	require.Len(t, out.Records, 1)
	assert.Equal(t, "SELECT * FROM USERS", sqlOf(t, out.Records[0]))
	assert.Equal(t, before, svc.Snapshot())
}

func TestDatasetService_List(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	_, err := svc.Ingest(context.Background(), []byte(sqlDataset))
	require.NoError(t, err)

	all := svc.List(-1, "")
	assert.Len(t, all.Data, 3)
	assert.Equal(t, 3, all.Total)

	empty := svc.List(0, "")
	assert.Empty(t, empty.Data)
	assert.NotNil(t, empty.Data)
	assert.Equal(t, 3, empty.Total)

	pending := svc.List(1, etl.StatusPending)
	require.Len(t, pending.Data, 1)
	assert.Equal(t, etl.StringID("q1"), pending.Data[0].ID())
	assert.Equal(t, 2, pending.Total)

	none := svc.List(5, "archived")
	assert.Empty(t, none.Data)
	assert.NotNil(t, none.Data)
	assert.Equal(t, 0, none.Total)
}

func TestDatasetService_ExportFile(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	_, err := svc.Ingest(context.Background(), []byte(sqlDataset))
	require.NoError(t, err)

	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	content, name, err := svc.ExportFile(etl.NewSelection(etl.StringID("q1")), now)
	require.NoError(t, err)
	assert.Equal(t, "dataset-export-20240309-140507.json", name)
	assert.JSONEq(t, `[{"id":"q1","input_text":"users","generated_sql":"select * from users"}]`, string(content))

	assert.Len(t, svc.Export(etl.Selection{}), 3)
	assert.Empty(t, svc.Export(etl.NewSelection(etl.StringID("missing"))))
}

func TestDatasetService_ReadersNeverSeeHalfMergedSet(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 200; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id":%d,"generated_sql":"select %d"}`, i+1, i)
	}
	b.WriteString("]")
	_, err := svc.Ingest(ctx, []byte(b.String()))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var torn sync.Once
	tornSeen := false
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				upper := 0
				records := svc.Snapshot()
				for _, rec := range records {
					if v, _ := rec.Get("generated_sql"); strings.HasPrefix(v.Text(), "SELECT") {
						upper++
					}
				}
				if upper != 0 && upper != len(records) {
					torn.Do(func() { tornSeen = true })
				}
			}
		}()
	}

	_, err = svc.Transform(ctx, etl.Selection{}, "normalize_sql")
	require.NoError(t, err)
	close(stop)
	wg.Wait()

	assert.False(t, tornSeen, "a reader observed a partially transformed set")
	assert.Equal(t, "SELECT 199", sqlOf(t, svc.Snapshot()[199]))
}

func TestDatasetService_LoadFromJob(t *testing.T) {
	svc, _, _ := newDatasetService(t)
	ds, err := etl.Ingest([]byte(`[{"id":1},{"id":2}]`))
	require.NoError(t, err)

	require.NoError(t, svc.Load(context.Background(), ds))
	assert.Equal(t, 2, svc.Len())
	assert.Error(t, svc.Load(context.Background(), nil))
}
