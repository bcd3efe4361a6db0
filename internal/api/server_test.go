package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/piwi3910/SlabQuote/internal/engine"
	"github.com/piwi3910/SlabQuote/internal/export"
	"github.com/piwi3910/SlabQuote/internal/model"
	"github.com/piwi3910/SlabQuote/internal/scheduler"
	"github.com/piwi3910/SlabQuote/internal/store"
)

var testDefaults = model.Defaults{
	Slab:          model.SlabSize{WidthMm: 3000, HeightMm: 1400},
	KerfMm:        8,
	AllowRotation: true,
}

const benchtopsBody = `{
	"pieces": [
		{"id": "P1", "lengthMm": 1200, "widthMm": 600, "thicknessMm": 20, "materialId": "calacatta", "rotationAllowed": true},
		{"id": "P2", "lengthMm": 1200, "widthMm": 600, "thicknessMm": 20, "materialId": "calacatta", "rotationAllowed": true},
		{"id": "P3", "lengthMm": 1200, "widthMm": 600, "thicknessMm": 20, "materialId": "calacatta", "rotationAllowed": true}
	]
}`

func newTestServer(t *testing.T, eng scheduler.Engine, timeout time.Duration) *Server {
	t.Helper()
	if eng == nil {
		eng = engine.New(engine.DefaultSettings())
	}
	logger := log.New(io.Discard)
	sched := scheduler.New(store.NewMemoryStore(), eng, scheduler.Options{
		Debounce: 20 * time.Millisecond,
		Timeout:  timeout,
		Logger:   logger,
	})
	t.Cleanup(sched.Close)
	return NewServer(sched, testDefaults, logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestOptimise_CommitsAndServesLayout(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)

	rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q1/optimise", benchtopsBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res model.OptimizationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Q1", res.QuoteID)
	assert.Equal(t, int64(1), res.Sequence)
	assert.Equal(t, 1, res.TotalSlabs)
	assert.Len(t, res.Placements, 3)
	assert.Equal(t, 8.0, res.KerfMm, "default kerf applied")

	rec = do(t, s, http.MethodGet, "/api/v1/quotes/Q1/layout", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest model.OptimizationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, res.Sequence, latest.Sequence)
	assert.Equal(t, res.TotalSlabs, latest.TotalSlabs)
}

func TestOptimise_KerfOverride(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	body := strings.Replace(benchtopsBody, `"pieces"`, `"kerfMm": 3, "pieces"`, 1)

	rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q1/optimise", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res model.OptimizationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 3.0, res.KerfMm)
}

func TestLayout_NotFound(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)

	for _, path := range []string{"/api/v1/quotes/nope/layout", "/api/v1/quotes/nope/layout.xlsx"} {
		rec := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, string(model.CodeNotFound), decodeError(t, rec).Code, path)
	}
}

func TestOptimise_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"pieces": [`},
		{"no pieces", `{"pieces": []}`},
		{"negative kerf", `{"kerfMm": -1, "pieces": [{"id": "P1", "lengthMm": 100, "widthMm": 100, "thicknessMm": 20, "materialId": "m"}]}`},
		{"zero length", `{"pieces": [{"id": "P1", "lengthMm": 0, "widthMm": 100, "thicknessMm": 20, "materialId": "m"}]}`},
		{"duplicate ids", `{"pieces": [
			{"id": "P1", "lengthMm": 100, "widthMm": 100, "thicknessMm": 20, "materialId": "m"},
			{"id": "P1", "lengthMm": 200, "widthMm": 100, "thicknessMm": 20, "materialId": "m"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, nil, 2*time.Second)
			rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q1/optimise", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, string(model.CodeInput), decodeError(t, rec).Code)

			// Nothing was committed.
			rec = do(t, s, http.MethodGet, "/api/v1/quotes/Q1/layout", "")
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestQuoteIDValidation(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	long := strings.Repeat("q", model.MaxQuoteIDLen+1)
	rec := do(t, s, http.MethodGet, "/api/v1/quotes/"+long+"/layout", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	longest := strings.Repeat("q", model.MaxQuoteIDLen)
	rec = do(t, s, http.MethodGet, "/api/v1/quotes/"+longest+"/layout", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type blockingEngine struct {
	release chan struct{}
}

func (b blockingEngine) Optimise(model.Snapshot) (model.OptimizationResult, error) {
	<-b.release
	return model.OptimizationResult{}, nil
}

func TestOptimise_TimeoutMapsTo504(t *testing.T) {
	eng := blockingEngine{release: make(chan struct{})}
	s := newTestServer(t, eng, 50*time.Millisecond)
	t.Cleanup(func() { close(eng.release) })

	rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q1/optimise", benchtopsBody)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, string(model.CodeTimeout), decodeError(t, rec).Code)
}

func TestSchedule_AcceptsAndCommitsInBackground(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)

	rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q7/schedule", benchtopsBody)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var ack scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, scheduleResponse{QuoteID: "Q7", Pending: true}, ack)

	require.Eventually(t, func() bool {
		return do(t, s, http.MethodGet, "/api/v1/quotes/Q7/layout", "").Code == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond)

	rec = do(t, s, http.MethodGet, "/api/v1/quotes/Q7/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "Q7", st.QuoteID)
	assert.Equal(t, int64(1), st.Sequence)
	require.NotNil(t, st.LastResult)
	assert.Equal(t, 1, st.LastResult.TotalSlabs)
}

func TestSchedule_RejectsInvalidSnapshot(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	rec := do(t, s, http.MethodPost, "/api/v1/quotes/Q7/schedule", `{"pieces": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatus_UnknownQuoteIsIdle(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	rec := do(t, s, http.MethodGet, "/api/v1/quotes/fresh/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, scheduler.StateIdle, st.State)
	assert.Nil(t, st.LastResult)
}

func TestLayoutReport(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/api/v1/quotes/Q1/optimise", benchtopsBody).Code)

	rec := do(t, s, http.MethodGet, "/api/v1/quotes/Q1/layout.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Q1-layout.xlsx"`)

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	quote, err := f.GetCellValue(export.SheetSummary, "B2")
	require.NoError(t, err)
	assert.Equal(t, "Q1", quote)
	rows, err := f.GetRows(export.SheetPlacements)
	require.NoError(t, err)
	assert.Len(t, rows, 4, "header plus three placements")
}

func TestHealthAndRequestID(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	rec := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err, "request id should be a uuid")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "from-client")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "from-client", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, 2*time.Second)
	do(t, s, http.MethodGet, "/healthz", "")

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "slabquote_http_requests_total")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(model.NewInputError("bad")))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(model.NewTimeoutError("slow")))
	assert.Equal(t, http.StatusNotFound, statusFor(model.ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(scheduler.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, statusFor(model.NewError(model.CodeStore, "disk full")))
}
