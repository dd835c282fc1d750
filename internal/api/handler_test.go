package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"curator/internal/api"
	"curator/internal/etl"
	_ "curator/internal/etl/sources"
	"curator/internal/service"
	"curator/internal/storage"
)

type testEnv struct {
	handler  http.Handler
	datasets *service.DatasetService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := storage.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	engine := etl.NewEngine(2)
	emitter := &service.MockEmitter{}
	datasets := service.NewDatasetService(engine, storage.NewTransformRunStore(db), emitter)
	jobs := service.NewJobService(storage.NewJobStore(db), datasets, engine, emitter)
	t.Cleanup(jobs.Stop)

	h := api.NewHandler(datasets, jobs, nil)
	return &testEnv{handler: h.Routes(), datasets: datasets}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

const records = `{"items":[
	{"id":"r1","input_text":"all users","generated_sql":"select * from users","status":"verified"},
	{"id":"r2","input_text":"bad","generated_sql":"select ((","status":"pending"},
	{"id":"r3","input_text":"count","generated_sql":"select count(*) from t"}
]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestIngestThenList(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/ingest", records)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[service.IngestSummary](t, rec)
	assert.Equal(t, 3, summary.Count)
	assert.Equal(t, []string{"input_text", "generated_sql"}, summary.Keys.Order)

	rec = env.do(t, http.MethodGet, "/api/data?limit=1&status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}](t, rec)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "r2", page.Data[0]["id"])
	assert.Equal(t, 2, page.Total)

	rec = env.do(t, http.MethodGet, "/api/data?limit=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}](t, rec)
	assert.Empty(t, page.Data)
	assert.Equal(t, 3, page.Total)

	rec = env.do(t, http.MethodGet, "/api/keys", "")
	keys := decode[etl.KeyStats](t, rec)
	assert.Equal(t, 3, keys.Density["generated_sql"])
}

func TestListRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/data?limit=ten", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Kind)
}

func TestIngestErrorsKeepWorkingSet(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)

	rec := env.do(t, http.MethodPost, "/api/ingest", `{"items": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/ingest", `{"count": 3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "no_array_found", decode[errorBody](t, rec).Kind)

	assert.Equal(t, 3, env.datasets.Len())
}

func TestSessionTransformWithSelection(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)

	rec := env.do(t, http.MethodPost, "/api/transform",
		`{"transformation_type":"normalize_sql","selection":["r2","r3"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[struct {
		Data    []map[string]any `json:"data"`
		Count   int              `json:"count"`
		Applied int              `json:"applied"`
		Failed  int              `json:"failed"`
	}](t, rec)
	assert.Equal(t, 3, out.Count)
	assert.Equal(t, 1, out.Applied)
	assert.Equal(t, 1, out.Failed)

	assert.Equal(t, "select * from users", out.Data[0]["generated_sql"])
	assert.Equal(t, "error", out.Data[1]["status"])
	assert.NotEmpty(t, out.Data[1]["transform_error"])
	assert.Equal(t, "SELECT COUNT(*) FROM T", out.Data[2]["generated_sql"])
}

func TestStatelessTransformLeavesSession(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)
	before := env.datasets.Snapshot()

	rec := env.do(t, http.MethodPost, "/api/transform",
		`{"transformation_type":"openai_format","data":[{"id":7,"input_text":"q","generated_sql":"a"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t,
		`{"data":[{"id":7,"messages":[{"role":"user","content":"q"},{"role":"assistant","content":"a"}]}],"count":1,"applied":1,"failed":0}`,
		rec.Body.String())

	assert.Equal(t, before, env.datasets.Snapshot())
}

func TestTransformUnknownName(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)
	before := env.datasets.Snapshot()

	rec := env.do(t, http.MethodPost, "/api/transform", `{"transformation_type":"uppercase_all"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_transform", decode[errorBody](t, rec).Kind)
	assert.Equal(t, before, env.datasets.Snapshot())
}

func TestTransformRuns(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/transform",
		`{"transformation_type":"normalize_sql","selection":["r1"]}`).Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/transform",
		`{"transformation_type":"validate_bbox"}`).Code)

	rec := env.do(t, http.MethodGet, "/api/transforms/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]struct {
		Transform string `json:"transform"`
		Scope     string `json:"scope"`
		BatchSize int    `json:"batchSize"`
	}](t, rec)
	require.Len(t, runs, 2)
	assert.ElementsMatch(t, []string{"selection", "all"}, []string{runs[0].Scope, runs[1].Scope})

	rec = env.do(t, http.MethodGet, "/api/transforms/runs?limit=1", "")
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = env.do(t, http.MethodGet, "/api/transforms/runs?limit=-2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", records).Code)

	rec := env.do(t, http.MethodPost, "/api/export", `{"selection":["r3","r1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[struct {
		FileContent string `json:"file_content"`
		Filename    string `json:"filename"`
	}](t, rec)
	assert.Regexp(t, `^dataset-export-\d{8}-\d{6}\.json$`, out.Filename)

	var exported []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.FileContent), &exported))
	require.Len(t, exported, 2)
	assert.Equal(t, "r1", exported[0]["id"])
	assert.Equal(t, "r3", exported[1]["id"])
	assert.True(t, strings.HasPrefix(out.FileContent, "[\n  {"))
}

func TestExportDownload(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/ingest", `[{"id":1}]`).Code)

	rec := env.do(t, http.MethodPost, "/api/export?download=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"dataset-export-")
	assert.JSONEq(t, `[{"id":1}]`, rec.Body.String())
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)

	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"data":[{"id":1,"sql":"select 1"},{"id":2,"sql":"select  2"}]}`), 0o644))

	body, err := json.Marshal(map[string]any{
		"name":         "nightly",
		"sourceType":   "json_file",
		"sourceConfig": map[string]any{"filePath": path},
		"transforms":   []string{"normalize_sql"},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/jobs", string(body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[etl.IngestJob](t, rec)
	require.NotEmpty(t, job.ID)

	rec = env.do(t, http.MethodPost, "/api/jobs/"+job.ID+"/run", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[etl.RunResult](t, rec)
	assert.Equal(t, etl.RunSuccess, result.Status)
	assert.Equal(t, 2, result.RecordsLoaded)
	assert.Equal(t, 2, env.datasets.Len())

	sql, _ := env.datasets.Snapshot()[1].Get("sql")
	assert.Equal(t, "SELECT 2", sql.Text())

	rec = env.do(t, http.MethodGet, "/api/jobs/"+job.ID+"/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]etl.RunLog](t, rec), 1)

	rec = env.do(t, http.MethodDelete, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/jobs/"+job.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Kind)
}

func TestCreateJobValidation(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/jobs", `{"name":"x","sourceType":"ftp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/jobs", `{"name":"x","sourceType":"json_file","transforms":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/jobs", `{"name":"x","sourceType":"json_file","steps":[{"type":"rename","config":{"mapping":{"id":"key"}}}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[errorBody](t, rec).Kind)

	rec = env.do(t, http.MethodPost, "/api/jobs", `{"name":"x","sourceType":"json_file","steps":[{"type":"type_cast","config":{"field":"score","type":"number"}}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[etl.IngestJob](t, rec)
	require.Len(t, job.Steps, 1)
	assert.Equal(t, etl.StepTypeCast, job.Steps[0].Type)
}

func TestListStepTypes(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/transforms/steps", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	for _, spec := range decode[[]etl.TransformSpec](t, rec) {
		names = append(names, spec.Name)
	}
	assert.Equal(t, []string{"rename", "select", "type_cast"}, names)
}

func TestListSources(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var types []string
	for _, spec := range decode[[]etl.SourceSpec](t, rec) {
		types = append(types, spec.Type)
	}
	assert.Equal(t, []string{"csv_file", "database", "http", "json_file"}, types)
}

func TestPreviewSource(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("id,name\n1,a\n2,b\n"), 0o644))

	body := bytes.NewBufferString(`{"sourceType":"csv_file","sourceConfig":{"filePath":` + jsonString(path) + `}}`)
	rec := env.do(t, http.MethodPost, "/api/sources/preview", body.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	preview := decode[struct {
		Records []map[string]any `json:"records"`
	}](t, rec)
	require.Len(t, preview.Records, 2)
	assert.Equal(t, "a", preview.Records[0]["name"])
	assert.Equal(t, 0, env.datasets.Len())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/ingest", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
