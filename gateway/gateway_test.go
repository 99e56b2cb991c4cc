package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/datasmith/databench/dataset"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
	"github.com/datasmith/databench/workshop"
)

// MockExecutor records invocations and returns a canned result.
type MockExecutor struct {
	mu     sync.Mutex
	calls  int
	result workbench.Result
	block  chan struct{} // when set, Execute waits until it closes
}

func (m *MockExecutor) Execute(_ context.Context, _ string, _ *dataset.Dataset, _ map[string]any) workbench.Result {
	m.mu.Lock()
	m.calls++
	block := m.block
	m.mu.Unlock()

	if block != nil {
		<-block
	}
	return m.result
}

func (m *MockExecutor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testConfig() Config {
	return Config{
		Workers:         2,
		QueueWait:       100 * time.Millisecond,
		MaxCodeBytes:    64 * 1024,
		MaxDatasetCells: 10_000,
	}
}

func newTestGateway(t *testing.T, exec Executor, cfg Config) *Gateway {
	t.Helper()
	return New(zaptest.NewLogger(t), scanner.New(), exec, cfg)
}

func smallDataset() *dataset.Dataset {
	return &dataset.Dataset{
		Columns: []string{"age"},
		Rows:    [][]dataset.Cell{{float64(1)}, {nil}},
	}
}

func TestHandleSuccess(t *testing.T) {
	out := smallDataset()
	exec := &MockExecutor{result: workbench.Result{Status: workbench.StatusSuccess, Output: out}}
	g := newTestGateway(t, exec, testConfig())

	resp, err := g.Handle(context.Background(), Request{
		Code:    `dataframe.fillna(0)`,
		Dataset: smallDataset(),
		Params:  map[string]any{"threshold": float64(2)},
	})

	require.NoError(t, err)
	assert.Equal(t, workbench.StatusSuccess, resp.Status)
	assert.Same(t, out, resp.Dataset)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, exec.Calls())
}

func TestHandlePolicyGatePrecedesExecution(t *testing.T) {
	exec := &MockExecutor{result: workbench.Result{Status: workbench.StatusSuccess}}
	g := newTestGateway(t, exec, testConfig())

	payloads := []string{
		`import fs from "fs"`,
		`require("child_process").exec("id")`,
		`({}).__proto__.polluted = 1`,
		`eval("dataframe")`,
	}

	for _, code := range payloads {
		resp, err := g.Handle(context.Background(), Request{Code: code, Dataset: smallDataset()})
		require.NoError(t, err, code)
		assert.Equal(t, workbench.StatusPolicyRejected, resp.Status, code)
		assert.NotEmpty(t, resp.Violations, code)
		assert.Contains(t, resp.Diagnostics, "forbidden", code)
	}

	// The executor must never have been touched.
	assert.Equal(t, 0, exec.Calls())
}

func TestHandleMalformedRequests(t *testing.T) {
	exec := &MockExecutor{}
	cfg := testConfig()
	cfg.MaxCodeBytes = 16
	cfg.MaxDatasetCells = 2
	g := newTestGateway(t, exec, cfg)

	cases := []struct {
		name string
		req  Request
		want string
	}{
		{"EmptyCode", Request{Dataset: smallDataset()}, "code must not be empty"},
		{"OversizedCode", Request{Code: "dataframe.head(1) // padding padding", Dataset: smallDataset()}, "byte limit"},
		{"NilDataset", Request{Code: "x = 1"}, "dataset is required"},
		{"OversizedDataset", Request{Code: "x = 1", Dataset: &dataset.Dataset{
			Columns: []string{"a"},
			Rows:    [][]dataset.Cell{{float64(1)}, {float64(2)}, {float64(3)}},
		}}, "cell limit"},
		{"InvalidDataset", Request{Code: "x = 1", Dataset: &dataset.Dataset{
			Columns: []string{"a", "a"},
		}}, "invalid dataset"},
		{"NonScalarParam", Request{Code: "x = 1", Dataset: smallDataset(),
			Params: map[string]any{"bad": []any{1}}}, "parameter"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := g.Handle(context.Background(), tc.req)
			require.NoError(t, err)
			assert.Equal(t, workbench.StatusMalformedRequest, resp.Status)
			assert.Contains(t, resp.Diagnostics, tc.want)
		})
	}

	assert.Equal(t, 0, exec.Calls())
}

func TestHandleBackpressure(t *testing.T) {
	block := make(chan struct{})
	exec := &MockExecutor{
		result: workbench.Result{Status: workbench.StatusSuccess},
		block:  block,
	}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueWait = 50 * time.Millisecond
	g := newTestGateway(t, exec, cfg)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = g.Handle(context.Background(), Request{Code: "x = 1", Dataset: smallDataset()})
	}()

	// Wait until the first request holds the only slot.
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, 5*time.Millisecond)

	_, err := g.Handle(context.Background(), Request{Code: "x = 1", Dataset: smallDataset()})
	assert.ErrorIs(t, err, ErrBusy)

	close(block)
	wg.Wait()

	// With the slot free the next request goes through.
	resp, err := g.Handle(context.Background(), Request{Code: "x = 1", Dataset: smallDataset()})
	require.NoError(t, err)
	assert.Equal(t, workbench.StatusSuccess, resp.Status)
}

func TestHandleCallerCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	exec := &MockExecutor{block: block}
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueWait = time.Minute
	g := newTestGateway(t, exec, cfg)

	go g.Handle(context.Background(), Request{Code: "x = 1", Dataset: smallDataset()})
	require.Eventually(t, func() bool { return exec.Calls() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Handle(ctx, Request{Code: "x = 1", Dataset: smallDataset()})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHandleWorkbenchEndToEnd(t *testing.T) {
	// Real scanner and real workbench wired through the gateway.
	bench := workbench.New(zaptest.NewLogger(t), workshop.Default(), workbench.Limits{
		Timeout:         2 * time.Second,
		MemoryMB:        128,
		MaxOutputBytes:  1 << 20,
		MaxDatasetCells: 10_000,
		MaxCallStack:    256,
	})
	g := newTestGateway(t, bench, testConfig())

	resp, err := g.Handle(context.Background(), Request{
		Code:    `dataframe.fillna(dataframe.mean())`,
		Dataset: smallDataset(),
	})

	require.NoError(t, err)
	require.Equal(t, workbench.StatusSuccess, resp.Status, resp.Diagnostics)
	assert.Equal(t, float64(1), resp.Dataset.Rows[1][0])
}
