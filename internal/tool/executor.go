package tool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/codelens/internal/hooks"
	"github.com/dshills/codelens/internal/lsp"
)

// Result is the outcome of one call in a batch, reported under the
// call's input index.
type Result struct {
	Index  int    `json:"index"`
	Output string `json:"output,omitempty"`
	Err    error  `json:"-"`
}

// ErrorText returns the wire form of the result's error.
func (r Result) ErrorText() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// ExecutorConfig tunes the parallel executor.
type ExecutorConfig struct {
	// Workers bounds concurrent calls within a wave (default 10).
	Workers int

	// CallTimeout bounds each call; zero means no per-call deadline.
	CallTimeout time.Duration

	// IsFatal classifies an error as batch-fatal. The default treats
	// every error as fatal: the executor finishes the current wave and
	// returns partial results.
	IsFatal func(error) bool
}

func (c *ExecutorConfig) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.IsFatal == nil {
		c.IsFatal = func(error) bool { return true }
	}
}

// Executor runs tool calls: single calls with hook bracketing, and
// batches wave by wave on a bounded worker pool. Every call in wave k
// completes before any call in wave k+1 starts.
type Executor struct {
	registry *Registry
	hooks    *hooks.Registry
	config   ExecutorConfig
	log      *zap.Logger
}

// NewExecutor creates an executor over a registry. The hook registry
// may be nil.
func NewExecutor(registry *Registry, hookReg *hooks.Registry, config ExecutorConfig, log *zap.Logger) *Executor {
	config.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		hooks:    hookReg,
		config:   config,
		log:      log,
	}
}

// Execute runs one tool call with hook bracketing and the optional
// per-call deadline. The context is marked as the broker's request
// loop so synchronous bridge entry points refuse to nest.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	ctx = lsp.MarkRequestLoop(ctx)
	if e.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.CallTimeout)
		defer cancel()
	}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return Result{Index: call.Index, Err: fmt.Errorf("unknown tool %q", call.Name)}
	}

	if e.hooks != nil {
		e.hooks.Trigger(hooks.EventToolWillExecute, hooks.Context{ToolName: call.Name})
	}

	started := time.Now()
	output, err := tool.Apply(ctx, call.Params)
	e.log.Debug("tool executed",
		zap.String("tool", call.Name),
		zap.Duration("elapsed", time.Since(started)),
		zap.Bool("ok", err == nil))

	if e.hooks != nil {
		e.hooks.Trigger(hooks.EventToolDidExecute, hooks.Context{
			ToolName: call.Name,
			Result:   output,
			Err:      err,
		})
	}

	return Result{Index: call.Index, Output: output, Err: err}
}

// ExecuteBatch analyzes a batch's dependencies and runs it wave by
// wave. Results come back ordered by input index; indices the executor
// never reached (a fatal error stopped the batch) carry a skipped
// error. The returned error is the first fatal error, if any.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) ([]Result, error) {
	for i := range calls {
		calls[i].Index = i
	}

	graph := BuildGraph(calls)
	waves, cyclic := graph.Waves(e.log)

	byIndex := make(map[int]Call, len(calls))
	for _, call := range calls {
		byIndex[call.Index] = call
	}

	results := make([]Result, len(calls))
	for i := range results {
		results[i] = Result{Index: i, Err: fmt.Errorf("not executed: batch stopped early")}
	}

	var fatal error
	for w, wave := range waves {
		limit := e.config.Workers
		if cyclic && w == len(waves)-1 {
			// The cycle-collapsed final wave preserves input order.
			limit = 1
		}

		var g errgroup.Group
		g.SetLimit(limit)
		waveResults := make([]Result, len(wave))
		for i, idx := range wave {
			g.Go(func() error {
				waveResults[i] = e.Execute(ctx, byIndex[idx])
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range waveResults {
			results[res.Index] = res
			if fatal == nil && res.Err != nil && e.config.IsFatal(res.Err) {
				fatal = fmt.Errorf("tool %s (index %d): %w", byIndex[res.Index].Name, res.Index, res.Err)
			}
		}

		// A fatal error stops after the wave it occurred in; sibling
		// calls in the same wave always run to completion.
		if fatal != nil {
			return results, fatal
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}
