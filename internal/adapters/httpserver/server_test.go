package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phenrril/pharmastore/internal/domain"
	"github.com/phenrril/pharmastore/internal/usecase"
)

const testSheetURL = "https://docs.google.com/spreadsheets/d/abc123/edit#gid=0"

type stubRunner struct {
	mu    sync.Mutex
	reqs  []domain.IngestRequest
	block bool
}

func (s *stubRunner) Run(ctx context.Context, req domain.IngestRequest, progress domain.ProgressFunc) *domain.IngestResult {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	progress(domain.Progress{Current: 1, Total: 1})
	if s.block {
		<-ctx.Done()
		return &domain.IngestResult{Status: domain.RunCancelled, Message: "Upload cancelled by user. 0 uploaded products were rolled back."}
	}
	return &domain.IngestResult{Success: true, Status: domain.RunCompleted, ProcessedCount: 1, TotalCount: 1}
}

func (s *stubRunner) requests() []domain.IngestRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.IngestRequest(nil), s.reqs...)
}

type memProducts struct {
	count int64
	items []domain.Product
}

func (m *memProducts) Append(ctx context.Context, p *domain.Product) (string, error) {
	return uuid.NewString(), nil
}
func (m *memProducts) Delete(ctx context.Context, id string) error { return nil }
func (m *memProducts) CountSince(ctx context.Context, pharmacyID string, since time.Time) (int64, error) {
	return m.count, nil
}
func (m *memProducts) List(ctx context.Context, f domain.ProductFilter) ([]domain.Product, int64, error) {
	return m.items, int64(len(m.items)), nil
}

type memPharmacies struct {
	byID map[uuid.UUID]*domain.Pharmacy
}

func (m *memPharmacies) FindByID(ctx context.Context, id uuid.UUID) (*domain.Pharmacy, error) {
	if p, ok := m.byID[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}
func (m *memPharmacies) Save(ctx context.Context, p *domain.Pharmacy) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.byID[p.ID] = p
	return nil
}

type testEnv struct {
	handler  http.Handler
	runner   *stubRunner
	registry *usecase.RunRegistry
	products *memProducts
	pharmID  uuid.UUID
}

func newTestEnv(t *testing.T, block bool) *testEnv {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{block: block}
	registry := usecase.NewRunRegistry(ctx, runner)
	t.Cleanup(func() {
		cancel()
		registry.Wait()
	})

	products := &memProducts{}
	pharmID := uuid.New()
	pharmacies := &memPharmacies{byID: map[uuid.UUID]*domain.Pharmacy{
		pharmID: {ID: pharmID, Name: "Nile Pharmacy"},
	}}
	quota := &usecase.QuotaUC{Products: products, DailyLimit: 10, MonthlyLimit: 100, Location: time.UTC}
	h := New(registry, quota, &usecase.ProductUC{Products: products}, pharmacies, 1<<20)
	return &testEnv{handler: h, runner: runner, registry: registry, products: products, pharmID: pharmID}
}

func (e *testEnv) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
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

func (e *testEnv) waitFinished(t *testing.T, id string) usecase.RunInfo {
	t.Helper()
	var info usecase.RunInfo
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/api/ingest/runs/"+id, nil, "")
		if rec.Code != http.StatusOK {
			return false
		}
		info = decode[usecase.RunInfo](t, rec)
		return info.State == usecase.RunFinished
	}, 2*time.Second, 10*time.Millisecond)
	return info
}

func TestIngestSheet_StartsRun(t *testing.T) {
	env := newTestEnv(t, false)
	body, _ := json.Marshal(map[string]string{
		"pharmacy_id": env.pharmID.String(),
		"sheet_url":   testSheetURL,
		"model":       "gemini-2.0-flash",
	})

	rec := env.do(t, http.MethodPost, "/api/ingest/sheet", body, "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	id := decode[map[string]string](t, rec)["run_id"]
	require.NotEmpty(t, id)

	info := env.waitFinished(t, id)
	require.NotNil(t, info.Result)
	assert.True(t, info.Result.Success)
	assert.Equal(t, env.pharmID.String(), info.PharmacyID)

	reqs := env.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Nile Pharmacy", reqs[0].PharmacyName)
	assert.Equal(t, testSheetURL, reqs[0].SheetURL)
	assert.Equal(t, "gemini-2.0-flash", reqs[0].Model)
	assert.Nil(t, reqs[0].File)
}

func TestIngestSheet_RejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, false)
	cases := []struct {
		name string
		body string
		kind string
	}{
		{"not json", "{", "invalid_json"},
		{"missing pharmacy", `{"sheet_url":"` + testSheetURL + `"}`, "pharmacy_required"},
		{"bad url", `{"pharmacy_id":"p1","sheet_url":"https://example.com/sheet"}`, "invalid_sheet_url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/ingest/sheet", []byte(tc.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.kind, decode[map[string]string](t, rec)["error"])
		})
	}
	assert.Empty(t, env.runner.requests())

	rec := env.do(t, http.MethodGet, "/api/ingest/sheet", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIngestSheet_UsesClientNameForUnknownPharmacy(t *testing.T) {
	env := newTestEnv(t, false)
	body := `{"pharmacy_id":"legacy-42","pharmacy_name":" Corner Pharmacy ","sheet_url":"` + testSheetURL + `"}`

	rec := env.do(t, http.MethodPost, "/api/ingest/sheet", []byte(body), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.waitFinished(t, decode[map[string]string](t, rec)["run_id"])

	reqs := env.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Corner Pharmacy", reqs[0].PharmacyName)
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, data []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		fw, err := mw.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return buf.Bytes(), mw.FormDataContentType()
}

func TestIngestUpload_StartsRun(t *testing.T) {
	env := newTestEnv(t, false)
	csv := []byte("Product Name,Price\nPanadol Extra,45\n")
	body, ct := multipartBody(t, map[string]string{"pharmacy_id": env.pharmID.String()}, "stock.csv", csv)

	rec := env.do(t, http.MethodPost, "/api/ingest/upload", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	env.waitFinished(t, decode[map[string]string](t, rec)["run_id"])

	reqs := env.runner.requests()
	require.Len(t, reqs, 1)
	require.NotNil(t, reqs[0].File)
	assert.Equal(t, "stock.csv", reqs[0].File.Name)
	assert.Equal(t, csv, reqs[0].File.Data)
	assert.Equal(t, domain.SourceUpload, reqs[0].Source())
}

func TestIngestUpload_Rejects(t *testing.T) {
	env := newTestEnv(t, false)

	body, ct := multipartBody(t, map[string]string{"pharmacy_id": "p1"}, "stock.pdf", []byte("%PDF"))
	rec := env.do(t, http.MethodPost, "/api/ingest/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_file", decode[map[string]string](t, rec)["error"])

	body, ct = multipartBody(t, map[string]string{"pharmacy_id": "p1"}, "", nil)
	rec = env.do(t, http.MethodPost, "/api/ingest/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file_required", decode[map[string]string](t, rec)["error"])

	body, ct = multipartBody(t, nil, "stock.csv", []byte("a,b\n1,2\n"))
	rec = env.do(t, http.MethodPost, "/api/ingest/upload", body, ct)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "pharmacy_required", decode[map[string]string](t, rec)["error"])

	assert.Empty(t, env.runner.requests())
}

func TestCancelRun(t *testing.T) {
	env := newTestEnv(t, true)
	body := `{"pharmacy_id":"p1","sheet_url":"` + testSheetURL + `"}`
	rec := env.do(t, http.MethodPost, "/api/ingest/sheet", []byte(body), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[map[string]string](t, rec)["run_id"]

	require.Eventually(t, func() bool {
		info, err := env.registry.Get(id)
		return err == nil && info.Progress.Current == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/ingest/runs/"+id+"/cancel", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/ingest/runs/"+id+"/cancel", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	info := env.waitFinished(t, id)
	require.NotNil(t, info.Result)
	assert.Equal(t, domain.RunCancelled, info.Result.Status)
	assert.False(t, info.Result.Success)
}

func TestIngestRun_UnknownRun(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/ingest/runs/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/ingest/runs/nope/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/ingest/runs/nope/retry", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuota(t *testing.T) {
	env := newTestEnv(t, false)
	env.products.count = 4

	rec := env.do(t, http.MethodGet, "/api/quota?pharmacy_id=p1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, true, got["canUpload"])
	assert.EqualValues(t, 4, got["dailyCount"])
	assert.EqualValues(t, 10, got["dailyLimit"])
	assert.EqualValues(t, 6, got["remaining"])
	assert.NotContains(t, got, "message")

	env.products.count = 10
	rec = env.do(t, http.MethodGet, "/api/quota?pharmacy_id=p1", nil, "")
	got = decode[map[string]any](t, rec)
	assert.Equal(t, false, got["canUpload"])
	assert.EqualValues(t, 0, got["remaining"])
	assert.True(t, strings.HasPrefix(got["message"].(string), "Daily limit reached (10/10)"))

	rec = env.do(t, http.MethodGet, "/api/quota", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProducts(t *testing.T) {
	env := newTestEnv(t, false)
	env.products.items = []domain.Product{{Name: "Panadol Extra", Price: 45}}

	rec := env.do(t, http.MethodGet, "/api/products?pharmacy_id=p1&page=1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[struct {
		Items []domain.Product `json:"items"`
		Total int64            `json:"total"`
	}](t, rec)
	assert.EqualValues(t, 1, got.Total)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Panadol Extra", got.Items[0].Name)

	rec = env.do(t, http.MethodGet, "/api/products", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/categories?pharmacy_id=p1", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"categories":[]}`, rec.Body.String())
}

func TestRegisterPharmacy(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodPost, "/api/pharmacies", []byte(`{"name":" Delta Pharmacy ","email":"owner@delta.example"}`), "application/json")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[domain.Pharmacy](t, rec)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.Equal(t, "Delta Pharmacy", got.Name)

	body := `{"pharmacy_id":"` + got.ID.String() + `","sheet_url":"` + testSheetURL + `"}`
	rec = env.do(t, http.MethodPost, "/api/ingest/sheet", []byte(body), "application/json")
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.waitFinished(t, decode[map[string]string](t, rec)["run_id"])
	reqs := env.runner.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Delta Pharmacy", reqs[0].PharmacyName)

	rec = env.do(t, http.MethodPost, "/api/pharmacies", []byte(`{"email":"x@y.z"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/pharmacies", []byte(`{"name":"A","email":"nope"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-1")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-1", rec.Header().Get(requestIDHeader))

	panicky := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), RequestID, Logging, Recovery)
	rec = httptest.NewRecorder()
	panicky.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", decode[map[string]string](t, rec)["error"])
}
