package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/etl"
	_ "curator/internal/etl/sources"
	"curator/internal/service"
	"curator/internal/storage"
)

// blockingSource waits for release before returning its document.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (s *blockingSource) Spec() etl.SourceSpec {
	return etl.SourceSpec{Type: "test_blocking", Label: "Blocking"}
}

func (s *blockingSource) Fetch(ctx context.Context, _ etl.SourceConfig) ([]byte, error) {
	close(s.started)
	select {
	case <-s.release:
		return []byte(`[{"id":1}]`), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type jobFixture struct {
	jobs     *service.JobService
	datasets *service.DatasetService
	store    *storage.JobStore
	emitter  *service.MockEmitter
}

func newJobFixture(t *testing.T) *jobFixture {
	t.Helper()
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := etl.NewEngine(2)
	emitter := &service.MockEmitter{}
	datasets := service.NewDatasetService(engine, nil, emitter)
	store := storage.NewJobStore(db)
	jobs := service.NewJobService(store, datasets, engine, emitter)
	t.Cleanup(jobs.Stop)

	return &jobFixture{jobs: jobs, datasets: datasets, store: store, emitter: emitter}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestJobService_CreateValidation(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	cases := map[string]service.CreateJobInput{
		"missing name":      {SourceType: "json_file"},
		"unknown source":    {Name: "a", SourceType: "ftp"},
		"unknown transform": {Name: "a", SourceType: "json_file", Transforms: []string{"shout"}},
		"bad cron":          {Name: "a", SourceType: "json_file", TriggerType: etl.TriggerSchedule, TriggerConfig: "every day"},
		"watch no path":     {Name: "a", SourceType: "json_file", TriggerType: etl.TriggerFileWatch},
		"unknown trigger":   {Name: "a", SourceType: "json_file", TriggerType: "webhook"},
		"bad step":          {Name: "a", SourceType: "json_file", Steps: []etl.TransformConfig{{Type: etl.StepSelect}}},
		"unknown step":      {Name: "a", SourceType: "json_file", Steps: []etl.TransformConfig{{Type: "sort"}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.jobs.CreateJob(ctx, in)
			assert.ErrorIs(t, err, service.ErrInvalidInput)
		})
	}

	_, err := f.jobs.CreateJob(ctx, service.CreateJobInput{Name: "a", SourceType: "json_file", Transforms: []string{"shout"}})
	assert.ErrorIs(t, err, etl.ErrUnknownTransform)
}

func TestJobService_CRUD(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	disabled := false
	job, err := f.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:         "daily",
		SourceType:   "json_file",
		SourceConfig: map[string]any{"filePath": "/tmp/in.json"},
		Transforms:   []string{"normalize_sql"},
		Enabled:      &disabled,
	})
	require.NoError(t, err)
	assert.Equal(t, etl.TriggerManual, job.TriggerType)
	assert.False(t, job.Enabled)

	got, err := f.jobs.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "daily", got.Name)
	assert.Equal(t, []string{"normalize_sql"}, got.Transforms)
	assert.Equal(t, "/tmp/in.json", got.SourceCfg.String("filePath"))

	updated, err := f.jobs.UpdateJob(ctx, job.ID, service.CreateJobInput{
		Name:          "hourly",
		SourceType:    "json_file",
		SourceConfig:  map[string]any{"filePath": "/tmp/in.json"},
		TriggerType:   etl.TriggerSchedule,
		TriggerConfig: "0 * * * *",
	})
	require.NoError(t, err)
	assert.Equal(t, "hourly", updated.Name)
	assert.False(t, updated.Enabled, "enabled is kept when not given")

	jobs, err := f.jobs.ListJobs()
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, etl.TriggerSchedule, jobs[0].TriggerType)

	require.NoError(t, f.jobs.DeleteJob(ctx, job.ID))
	_, err = f.jobs.GetJob(job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, f.jobs.DeleteJob(ctx, job.ID), storage.ErrNotFound)
}

func TestJobService_RunLoadsSession(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "in.json", `{"export":{"rows":[
		{"id":"a","generated_sql":" select 1 "},
		{"id":"b","generated_sql":"select (1"}
	]}}`)
	exportDir := filepath.Join(dir, "out")

	job, err := f.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:         "rows",
		SourceType:   "json_file",
		SourceConfig: map[string]any{"filePath": path, "dataPath": "export.rows"},
		Transforms:   []string{"normalize_sql"},
		ExportDir:    exportDir,
	})
	require.NoError(t, err)

	result, err := f.jobs.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, etl.RunSuccess, result.Status)
	assert.Equal(t, 2, result.RecordsLoaded)
	assert.Equal(t, 1, result.RecordsFailed)
	assert.FileExists(t, result.ExportFile)
	assert.Equal(t, exportDir, filepath.Dir(result.ExportFile))

	records := f.datasets.Snapshot()
	require.Len(t, records, 2)
	v, _ := records[0].Get("generated_sql")
	assert.Equal(t, "SELECT 1", v.Text())
	assert.Equal(t, etl.StatusError, records[1].Status())

	stored, err := f.jobs.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, etl.RunSuccess, stored.LastStatus)
	assert.False(t, stored.LastRunAt.IsZero())

	logs, err := f.jobs.ListRunLogs(job.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, 2, logs[0].RecordsLoaded)

	assert.Contains(t, f.emitter.Names(), service.EventJobCompleted)
}

func TestJobService_RunAppliesSteps(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	path := writeFile(t, t.TempDir(), "in.json", `[
		{"id":1,"q":"count users","score":"0.75","debug":{"trace":"x"}},
		{"id":2,"q":"list users","score":"n/a"}
	]`)

	job, err := f.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:         "reshape",
		SourceType:   "json_file",
		SourceConfig: map[string]any{"filePath": path},
		Steps: []etl.TransformConfig{
			{Type: etl.StepRename, Config: map[string]any{"mapping": map[string]any{"q": "input_text"}}},
			{Type: etl.StepSelect, Config: map[string]any{"fields": []any{"input_text", "score"}}},
			{Type: etl.StepTypeCast, Config: map[string]any{"field": "score", "type": "number"}},
		},
	})
	require.NoError(t, err)

	result, err := f.jobs.RunJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, etl.RunSuccess, result.Status)
	assert.Equal(t, 1, result.RecordsFailed)

	records := f.datasets.Snapshot()
	require.Len(t, records, 2)
	out, err := records[0].Object().MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":1,"input_text":"count users","score":0.75}`, string(out))
	assert.Equal(t, etl.StatusError, records[1].Status())
	assert.Equal(t, []string{"input_text", "score", etl.FieldTransformError}, f.datasets.Keys().Order)
}

func TestJobService_FailedRunKeepsSession(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()
	_, err := f.datasets.Ingest(ctx, []byte(`[{"id":"keep"}]`))
	require.NoError(t, err)

	job, err := f.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:         "missing",
		SourceType:   "json_file",
		SourceConfig: map[string]any{"filePath": filepath.Join(t.TempDir(), "nope.json")},
	})
	require.NoError(t, err)

	result, err := f.jobs.RunJob(ctx, job.ID)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Equal(t, etl.RunError, result.Status)
	assert.NotEmpty(t, result.Error)

	records := f.datasets.Snapshot()
	require.Len(t, records, 1)
	assert.Equal(t, etl.StringID("keep"), records[0].ID())

	stored, err := f.jobs.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, etl.RunError, stored.LastStatus)
	assert.NotEmpty(t, stored.LastError)
}

func TestJobService_RunUnknownJob(t *testing.T) {
	f := newJobFixture(t)
	_, err := f.jobs.RunJob(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobService_RejectsConcurrentRun(t *testing.T) {
	f := newJobFixture(t)
	ctx := context.Background()

	src := &blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	etl.RegisterSource(src)

	job, err := f.jobs.CreateJob(ctx, service.CreateJobInput{Name: "slow", SourceType: "test_blocking"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.jobs.RunJob(ctx, job.ID)
		done <- err
	}()
	<-src.started

	_, err = f.jobs.RunJob(ctx, job.ID)
	assert.ErrorIs(t, err, service.ErrJobRunning)

	close(src.release)
	require.NoError(t, <-done)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	f.jobs.WaitRunning(waitCtx)
	assert.NoError(t, waitCtx.Err())
}

func TestJobService_FileWatchTrigger(t *testing.T) {
	f := newJobFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := writeFile(t, dir, "watched.json", `[{"id":1}]`)

	_, err := f.jobs.CreateJob(ctx, service.CreateJobInput{
		Name:          "watch",
		SourceType:    "json_file",
		SourceConfig:  map[string]any{"filePath": path},
		TriggerType:   etl.TriggerFileWatch,
		TriggerConfig: path,
	})
	require.NoError(t, err)
	f.jobs.Start(ctx)

	writeFile(t, dir, "watched.json", `[{"id":1},{"id":2},{"id":3}]`)

	require.Eventually(t, func() bool { return f.datasets.Len() == 3 }, 5*time.Second, 50*time.Millisecond)
}

func TestJobService_PreviewSourceJSON(t *testing.T) {
	f := newJobFixture(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "rows.csv", "id,sql\n1,select 1\n2,select 2\n")

	cfg := `{"filePath":` + quote(path) + `}`
	preview, err := f.jobs.PreviewSourceJSON(context.Background(), "csv_file", cfg)
	require.NoError(t, err)
	require.Len(t, preview.Records, 2)
	assert.Equal(t, etl.NumberID("1"), preview.Records[0].ID())
	assert.Equal(t, 2, preview.Keys.Density["sql"])
	assert.Equal(t, 0, f.datasets.Len())

	_, err = f.jobs.PreviewSourceJSON(context.Background(), "csv_file", `{not json`)
	assert.Error(t, err)
}

func TestJobService_StopIsIdempotent(t *testing.T) {
	f := newJobFixture(t)
	f.jobs.Stop()
	f.jobs.Stop()
}

func quote(s string) string {
	return `"` + filepath.ToSlash(s) + `"`
}
