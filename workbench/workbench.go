package workbench

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/datasmith/databench/dataset"
	"github.com/datasmith/databench/workshop"
)

// Status classifies the terminal outcome of one execution.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusPolicyRejected   Status = "policy_rejected"
	StatusRuntimeError     Status = "runtime_error"
	StatusTimeout          Status = "timeout"
	StatusResourceExceeded Status = "resource_exceeded"
	StatusMalformedRequest Status = "malformed_request"
)

// Limits is the resource budget for one execution.
type Limits struct {
	Timeout         time.Duration
	MemoryMB        int
	MaxOutputBytes  int
	MaxDatasetCells int
	MaxCallStack    int
}

// Result is the terminal outcome of one execution. Output is set only on
// success. Diagnostics is a single sanitized line suitable for showing to a
// human reviewer.
type Result struct {
	Status      Status
	Output      *dataset.Dataset
	Diagnostics string
}

// Workbench executes approved code inside a capability-restricted namespace.
//
// Each call builds a fresh interpreter whose namespace contains exactly the
// dataset binding, the request parameters and the workshop handles. The
// substrate exposes no module system and no host capability that is not
// explicitly bound, so the namespace is a closed allowlist rather than an
// ambient environment with holes punched out of it. That structural property
// is what must hold when the static scanner is bypassed.
type Workbench struct {
	logger   *zap.Logger
	registry *workshop.Registry
	limits   Limits
}

// New creates a workbench bound to the process-wide workshop registry.
func New(logger *zap.Logger, registry *workshop.Registry, limits Limits) *Workbench {
	return &Workbench{
		logger:   logger,
		registry: registry,
		limits:   limits,
	}
}

type interruptReason string

const (
	reasonTimeout  interruptReason = "wall-clock timeout"
	reasonCanceled interruptReason = "canceled by caller"
	reasonMemory   interruptReason = "memory ceiling"
)

// Execute runs the submitted code against a deep copy of the dataset under
// the configured budget. It is callable only after a positive policy
// decision, but remains safe if invoked directly: the namespace grants no
// capability beyond the dataset and the workshop handles.
func (w *Workbench) Execute(ctx context.Context, code string, ds *dataset.Dataset, params map[string]any) Result {
	program, err := goja.Compile("transform.js", code, false)
	if err != nil {
		return Result{
			Status:      StatusRuntimeError,
			Diagnostics: "code does not parse: " + firstLine(err.Error()),
		}
	}

	if ds == nil {
		ds = dataset.New()
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	if w.limits.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(w.limits.MaxCallStack)
	}

	// Dynamic code construction stays disabled even though it could not
	// reach the host: generated transformations have no business compiling
	// more code.
	vm.Set("eval", goja.Undefined())
	vm.Set("Function", goja.Undefined())

	frame := newFrame(vm, ds.Clone(), w.limits.MaxDatasetCells)
	vm.Set("dataframe", frame)
	if params == nil {
		params = map[string]any{}
	}
	vm.Set("params", params)

	for name, handle := range w.registry.Handles() {
		vm.Set(name, map[string]any(handle))
	}

	done := make(chan struct{})
	go w.watch(ctx, vm, done)

	runErr := w.run(vm, program)
	close(done)

	if runErr != nil {
		return w.classify(runErr)
	}

	output := frame.snapshot()
	if w.limits.MaxDatasetCells > 0 && output.CellCount() > w.limits.MaxDatasetCells {
		return Result{
			Status:      StatusResourceExceeded,
			Diagnostics: fmt.Sprintf("output exceeds the cell budget (%d cells)", w.limits.MaxDatasetCells),
		}
	}
	if w.limits.MaxOutputBytes > 0 {
		encoded, encErr := output.ToJSON()
		if encErr != nil {
			return Result{
				Status:      StatusRuntimeError,
				Diagnostics: "transformed dataset is not serializable: " + firstLine(encErr.Error()),
			}
		}
		if len(encoded) > w.limits.MaxOutputBytes {
			return Result{
				Status: StatusResourceExceeded,
				Diagnostics: fmt.Sprintf("output size %d bytes exceeds the %d byte ceiling",
					len(encoded), w.limits.MaxOutputBytes),
			}
		}
	}

	return Result{Status: StatusSuccess, Output: output}
}

// run executes the program, converting binding panics into errors so a
// misbehaving handle can never take the worker down.
func (w *Workbench) run(vm *goja.Runtime, program *goja.Program) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("execution panicked", zap.Any("panic", r))
			err = fmt.Errorf("internal execution failure")
		}
	}()

	_, err = vm.RunProgram(program)
	return err
}

// watch forcibly interrupts the interpreter when the wall-clock budget or
// the memory ceiling is exceeded, or when the caller goes away. Interruption
// is not cooperative: adversarial code cannot opt out of it.
//
// The heap sample is process-wide, so under concurrency the ceiling is a
// shared conservative bound rather than a per-request account. The process
// level GOGC memory limit (set at startup) is the hard backstop.
func (w *Workbench) watch(ctx context.Context, vm *goja.Runtime, done <-chan struct{}) {
	var timeout <-chan time.Time
	if w.limits.Timeout > 0 {
		timer := time.NewTimer(w.limits.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	baseline := heapInUse()
	budget := uint64(w.limits.MemoryMB) * 1024 * 1024

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			vm.Interrupt(reasonCanceled)
			return
		case <-timeout:
			vm.Interrupt(reasonTimeout)
			return
		case <-ticker.C:
			if budget == 0 {
				continue
			}
			if current := heapInUse(); current > baseline && current-baseline > budget {
				vm.Interrupt(reasonMemory)
				return
			}
		}
	}
}

func heapInUse() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}

func (w *Workbench) classify(err error) Result {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		reason, _ := interrupted.Value().(interruptReason)
		switch reason {
		case reasonMemory:
			return Result{
				Status:      StatusResourceExceeded,
				Diagnostics: fmt.Sprintf("execution exceeded the %d MB memory ceiling", w.limits.MemoryMB),
			}
		case reasonCanceled:
			return Result{
				Status:      StatusTimeout,
				Diagnostics: "execution canceled by the caller",
			}
		default:
			return Result{
				Status:      StatusTimeout,
				Diagnostics: fmt.Sprintf("execution exceeded the %s wall-clock budget", w.limits.Timeout),
			}
		}
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return Result{
			Status:      StatusResourceExceeded,
			Diagnostics: "execution exceeded the call stack limit",
		}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		return Result{
			Status:      StatusRuntimeError,
			Diagnostics: "execution failed: " + sanitize(exception.Value().String()),
		}
	}

	return Result{
		Status:      StatusRuntimeError,
		Diagnostics: "execution failed: " + sanitize(err.Error()),
	}
}

var framePattern = regexp.MustCompile(`\s+at\s+\S.*$`)

// sanitize reduces an interpreter error to a single line without host stack
// frames or filesystem paths. The reviewer needs the reason the transform
// failed, not the runner's internals.
func sanitize(msg string) string {
	msg = firstLine(msg)
	msg = framePattern.ReplaceAllString(msg, "")
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "unknown error"
	}
	return msg
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
