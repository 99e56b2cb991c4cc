package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datasmith/databench/gateway"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
	"github.com/datasmith/databench/workshop"
)

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	bench := workbench.New(logger, workshop.Default(), workbench.Limits{
		Timeout:         2 * time.Second,
		MemoryMB:        128,
		MaxOutputBytes:  1 << 20,
		MaxDatasetCells: 10_000,
		MaxCallStack:    256,
	})
	gw := gateway.New(logger, scanner.New(), bench, gateway.Config{
		Workers:         2,
		QueueWait:       100 * time.Millisecond,
		MaxCodeBytes:    64 * 1024,
		MaxDatasetCells: 10_000,
	})
	return New(logger, gw, cfg)
}

func postExecute(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/execute", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) executeResponse {
	t.Helper()
	var resp executeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestExecuteEndToEnd(t *testing.T) {
	s := newTestServer(t, Config{Port: 0})

	rec := postExecute(t, s, `{
		"code": "dataframe.fillna(dataframe.mean())",
		"dataset": {"columns": ["age"], "rows": [[1], [null], [3]]}
	}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	assert.Equal(t, workbench.StatusSuccess, resp.Status)
	assert.NotEmpty(t, resp.ID)
	require.NotNil(t, resp.Dataset)
	assert.Equal(t, float64(2), resp.Dataset.Rows[1][0])
}

func TestExecutePolicyRejected(t *testing.T) {
	s := newTestServer(t, Config{Port: 0})

	rec := postExecute(t, s, `{
		"code": "const fs = require(\"fs\"); fs.readFileSync(\"/etc/passwd\")",
		"dataset": {"columns": ["a"], "rows": [[1]]}
	}`)

	// Policy rejection is a terminal outcome, not a transport failure.
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, workbench.StatusPolicyRejected, resp.Status)
	assert.NotEmpty(t, resp.Violations)
}

func TestExecuteMalformedBody(t *testing.T) {
	s := newTestServer(t, Config{Port: 0})

	cases := []struct {
		name string
		body string
	}{
		{"NotJSON", `this is not json`},
		{"NestedCell", `{"code": "x", "dataset": {"columns": ["a"], "rows": [[{"nested": 1}]]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postExecute(t, s, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestExecuteRaggedRowsAreTerminal(t *testing.T) {
	// Structurally decodable but inconsistent datasets come back as a terminal
	// malformed_request outcome rather than a transport error.
	s := newTestServer(t, Config{Port: 0})

	rec := postExecute(t, s, `{"code": "x", "dataset": {"columns": ["a"], "rows": [[1, 2]]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, workbench.StatusMalformedRequest, resp.Status)
}

func TestExecuteMissingFieldsAreTerminal(t *testing.T) {
	s := newTestServer(t, Config{Port: 0})

	rec := postExecute(t, s, `{"dataset": {"columns": ["a"], "rows": [[1]]}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, workbench.StatusMalformedRequest, resp.Status)
	assert.Contains(t, resp.Diagnostics, "code")
}

func TestExecuteBodyTooLarge(t *testing.T) {
	s := newTestServer(t, Config{Port: 0, MaxBodyBytes: 256})

	var rows bytes.Buffer
	for i := 0; i < 100; i++ {
		if i > 0 {
			rows.WriteString(",")
		}
		fmt.Fprintf(&rows, "[%d]", i)
	}
	body := fmt.Sprintf(`{"code": "x", "dataset": {"columns": ["a"], "rows": [%s]}}`, rows.String())

	rec := postExecute(t, s, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{Port: 0, RateLimitRPS: 1, RateLimitBurst: 1})

	body := `{"code": "dataframe.head(1)", "dataset": {"columns": ["a"], "rows": [[1]]}}`

	first := postExecute(t, s, body)
	assert.Equal(t, http.StatusOK, first.Code)

	second := postExecute(t, s, body)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t, Config{Port: 0, RateLimitRPS: 1, RateLimitBurst: 1})

	for _, path := range []string{"/healthz", "/readyz"} {
		// Probes stay reachable even with the limiter exhausted.
		for i := 0; i < 3; i++ {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, Config{Port: 0})

	// Drive one execution so counters have been registered and bumped.
	postExecute(t, s, `{"code": "dataframe.head(1)", "dataset": {"columns": ["a"], "rows": [[1]]}}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "databench_executions_total")
}
