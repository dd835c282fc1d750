package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticSource returns the "body" config value verbatim, or fails with "fail".
type staticSource struct{}

func (staticSource) Spec() SourceSpec {
	return SourceSpec{Type: "test_static", Label: "Static (test)"}
}

func (staticSource) Fetch(_ context.Context, cfg SourceConfig) ([]byte, error) {
	if msg := cfg.String("fail"); msg != "" {
		return nil, errors.New(msg)
	}
	return []byte(cfg.String("body")), nil
}

func init() {
	RegisterSource(staticSource{})
}

// memDest records what it was loaded with.
type memDest struct {
	loaded *Dataset
	err    error
}

func (d *memDest) Load(_ context.Context, ds *Dataset) error {
	if d.err != nil {
		return d.err
	}
	d.loaded = ds
	return nil
}

func staticJob(body string, transforms ...string) *IngestJob {
	return &IngestJob{
		ID:         "job-1",
		SourceType: "test_static",
		SourceCfg:  SourceConfig{"body": body},
		Transforms: transforms,
	}
}

func TestPipeline_Run(t *testing.T) {
	dest := &memDest{}
	p := &Pipeline{Dest: dest, Engine: NewEngine(2)}

	body := `{"data":[{"id":"a","generated_sql":" select 1 "},{"id":"b","generated_sql":"select (2"}]}`
	res, err := p.Run(context.Background(), staticJob(body, "normalize_sql"))
	require.NoError(t, err)

	assert.Equal(t, RunSuccess, res.Status)
	assert.Equal(t, len(body), res.BytesRead)
	assert.Equal(t, 2, res.RecordsLoaded)
	assert.Equal(t, 1, res.RecordsFailed)

	require.NotNil(t, dest.loaded)
	v, _ := dest.loaded.Records[0].Get("generated_sql")
	assert.Equal(t, "SELECT 1", v.Text())
	assert.Equal(t, StatusError, dest.loaded.Records[1].Status())
	assert.Contains(t, dest.loaded.Keys.Order, FieldTransformError)
}

func TestPipeline_TransformChainInOrder(t *testing.T) {
	dest := &memDest{}
	p := &Pipeline{Dest: dest}

	body := `[{"id":1,"input_text":"q","generated_sql":"select  1"}]`
	_, err := p.Run(context.Background(), staticJob(body, "normalize_sql", "openai_format"))
	require.NoError(t, err)

	out, err := dest.loaded.Records[0].MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":1,"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"SELECT 1"}]}`,
		string(out))
	assert.Equal(t, []string{"messages"}, dest.loaded.Keys.Order)
}

func TestPipeline_FailuresLeaveDestinationUntouched(t *testing.T) {
	cases := map[string]*IngestJob{
		"unknown transform": staticJob(`[{"x":1}]`, "nope"),
		"fetch error":       {ID: "j", SourceType: "test_static", SourceCfg: SourceConfig{"fail": "unreachable"}},
		"no array":          staticJob(`{"a":1}`),
		"invalid json":      staticJob(`{"a":`),
		"unknown source":    {ID: "j", SourceType: "carrier_pigeon"},
	}
	for name, job := range cases {
		t.Run(name, func(t *testing.T) {
			dest := &memDest{}
			p := &Pipeline{Dest: dest}

			res, err := p.Run(context.Background(), job)
			require.Error(t, err)
			assert.Equal(t, RunError, res.Status)
			assert.Equal(t, err.Error(), res.Error)
			assert.Nil(t, dest.loaded)
		})
	}
}

func TestPipeline_ErrorKinds(t *testing.T) {
	p := &Pipeline{}

	_, err := p.Run(context.Background(), staticJob(`{"a":1}`))
	assert.ErrorIs(t, err, ErrNoArrayFound)

	_, err = p.Run(context.Background(), staticJob(`[1]`, "nope"))
	assert.ErrorIs(t, err, ErrUnknownTransform)
}

func TestPipeline_DestinationError(t *testing.T) {
	p := &Pipeline{Dest: &memDest{err: errors.New("disk full")}}

	res, err := p.Run(context.Background(), staticJob(`[{"x":1}]`))
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, RunError, res.Status)
}

func TestPipeline_CancelledContext(t *testing.T) {
	dest := &memDest{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&Pipeline{Dest: dest}).Run(ctx, staticJob(`[{"x":1}]`))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, dest.loaded)
}

func TestPipeline_ExportDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	job := staticJob(`[{"id":"a"}]`)
	job.ExportDir = dir

	res, err := (&Pipeline{}).Run(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, res.ExportFile)
	assert.Equal(t, dir, filepath.Dir(res.ExportFile))

	content, err := os.ReadFile(res.ExportFile)
	require.NoError(t, err)
	assert.Equal(t, "[\n  {\n    \"id\": \"a\"\n  }\n]", string(content))
}

func TestPipeline_Preview(t *testing.T) {
	p := &Pipeline{}
	ds, err := p.Preview(context.Background(), "test_static",
		SourceConfig{"body": `[{"a":1},{"b":1},{"b":2}]`}, 2)
	require.NoError(t, err)

	assert.Len(t, ds.Records, 2)
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, ds.Keys.Density)
}

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	d := &FileDestination{Dir: dir, Now: func() time.Time { return fixedNow }}

	ds := ingestJSON(t, `[{"id":1}]`)
	require.NoError(t, d.Load(context.Background(), ds))

	want := filepath.Join(dir, "dataset-export-20240309-140507.json")
	assert.Equal(t, want, d.LastPath())
	assert.FileExists(t, want)
}

func TestSourceRegistry(t *testing.T) {
	s, err := GetSource("test_static")
	require.NoError(t, err)
	assert.Equal(t, "test_static", s.Spec().Type)

	_, err = GetSource("missing")
	assert.Error(t, err)

	types := make([]string, 0)
	for _, spec := range ListSources() {
		types = append(types, spec.Type)
	}
	assert.Contains(t, types, "test_static")
	assert.IsNonDecreasing(t, types)
}

func TestSourceConfigString(t *testing.T) {
	cfg := SourceConfig{"path": "/tmp/a.json", "limit": float64(50), "header": false, "nested": map[string]any{}}
	assert.Equal(t, "/tmp/a.json", cfg.String("path"))
	assert.Equal(t, "50", cfg.String("limit"))
	assert.Equal(t, "false", cfg.String("header"))
	assert.Equal(t, "", cfg.String("nested"))
	assert.Equal(t, "", cfg.String("missing"))
}
