package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/execd/internal/analyzer"
	"github.com/fyrsmithlabs/execd/internal/approval"
	"github.com/fyrsmithlabs/execd/internal/checkpoint"
	"github.com/fyrsmithlabs/execd/internal/executor"
	"github.com/fyrsmithlabs/execd/internal/generator"
	"github.com/fyrsmithlabs/execd/internal/model"
)

const instrumentationName = "github.com/fyrsmithlabs/execd/internal/pipeline"

// ErrResume marks a resume request that cannot proceed: the key was never
// issued or its checkpoint is already consumed. Fatal, never retried.
var ErrResume = errors.New("resume failed")

// Config holds the retry budgets.
type Config struct {
	// MaxGenerationRetries bounds generator invocations per run.
	MaxGenerationRetries int

	// MaxExecutionRetries bounds engine invocations per run.
	MaxExecutionRetries int
}

// Service runs the execution pipeline.
type Service interface {
	// Execute runs the pipeline for a request. It returns a completed
	// RunResult, or one with StatusSuspended and a resume key when the
	// approval gate parks the run.
	Execute(ctx context.Context, req *model.ExecutionRequest) (*RunResult, error)

	// Resume continues a suspended run with a reviewer decision. The
	// checkpoint behind the key is single-use.
	Resume(ctx context.Context, key string, decision approval.Decision) (*RunResult, error)
}

type service struct {
	cfg    Config
	gen    generator.Generator
	an     *analyzer.Analyzer
	gate   *approval.Gate
	engine executor.Engine
	store  checkpoint.Store
	logger *zap.Logger

	tracer      trace.Tracer
	runsCounter metric.Int64Counter

	// keys serializes the steps of a single pipeline key. Distinct
	// requests run independently. Entries are refcounted and removed
	// once the last holder releases, so the map stays bounded by the
	// number of in-flight runs.
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// New creates the pipeline service. All collaborators are required; the
// retry budgets must be positive.
func New(cfg Config, gen generator.Generator, an *analyzer.Analyzer, gate *approval.Gate, engine executor.Engine, store checkpoint.Store, logger *zap.Logger) (Service, error) {
	if cfg.MaxGenerationRetries <= 0 || cfg.MaxExecutionRetries <= 0 {
		return nil, fmt.Errorf("retry budgets must be positive, got generation=%d execution=%d",
			cfg.MaxGenerationRetries, cfg.MaxExecutionRetries)
	}
	if gen == nil || an == nil || gate == nil || engine == nil || store == nil {
		return nil, errors.New("generator, analyzer, gate, engine, and store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &service{
		cfg:    cfg,
		gen:    gen,
		an:     an,
		gate:   gate,
		engine: engine,
		store:  store,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		keys:   make(map[string]*keyLock),
	}

	meter := otel.Meter(instrumentationName)
	var err error
	s.runsCounter, err = meter.Int64Counter(
		"execd.pipeline.runs_total",
		metric.WithDescription("Total number of pipeline runs by terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create runs counter", zap.Error(err))
	}

	return s, nil
}

// Execute implements Service.
func (s *service) Execute(ctx context.Context, req *model.ExecutionRequest) (*RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Execute")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	unlock := s.lockKey(req.ExecutionFolderName)
	defer unlock()

	run := &runState{
		req:   req,
		chain: model.NewErrorChain(),
	}
	result, err := s.drive(ctx, run)
	s.count(ctx, result)
	return result, err
}

// Resume implements Service.
func (s *service) Resume(ctx context.Context, key string, decision approval.Decision) (*RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "pipeline.Resume")
	defer span.End()

	unlock := s.lockKey(key)
	defer unlock()

	cp, err := s.store.Take(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint %q: %w", ErrResume, key, err)
	}

	if !decision.Approved {
		s.logger.Info("execution denied by reviewer", zap.String("key", key))
		result := &RunResult{Status: StatusDenied, ErrorChain: cp.Chain}
		s.count(ctx, result)
		return result, nil
	}

	req := cp.Request
	if len(decision.Payload) > 0 {
		// Reviewer-modified parameters flow into the resumed context.
		if req.CapabilityContext == nil {
			req.CapabilityContext = make(map[string]any, len(decision.Payload))
		}
		for k, v := range decision.Payload {
			req.CapabilityContext[k] = v
		}
	}

	// The resume key only guards checkpoint consumption. The continued run
	// touches the same per-request state as a fresh Execute, so it must
	// also hold the folder key.
	if req.ExecutionFolderName != key {
		unlockRun := s.lockKey(req.ExecutionFolderName)
		defer unlockRun()
	}

	run := &runState{
		req:          &req,
		chain:        model.RestoreErrorChain(cp.Chain),
		genAttempts:  cp.GenAttempts,
		execAttempts: cp.ExecAttempts,
		approvedCode: cp.Code,
	}
	s.logger.Info("resuming approved execution",
		zap.String("key", key),
		zap.Int("gen_attempts", cp.GenAttempts),
		zap.Int("exec_attempts", cp.ExecAttempts),
	)
	result, err := s.drive(ctx, run)
	s.count(ctx, result)
	return result, err
}

// runState is the in-flight state of one pipeline instance. The chain is
// append-only and shared with the generator across attempts.
type runState struct {
	req          *model.ExecutionRequest
	chain        *model.ErrorChain
	genAttempts  int
	execAttempts int

	// approvedCode, when set, is pre-approved code that skips generation
	// and gating on the first iteration.
	approvedCode string
}

// drive runs the state machine to a terminal status or a suspension.
func (s *service) drive(ctx context.Context, run *runState) (*RunResult, error) {
	for {
		code := run.approvedCode
		run.approvedCode = ""

		if code == "" {
			generated, failed := s.generate(ctx, run)
			if failed != nil {
				return failed, nil
			}
			code = generated

			analysis := s.an.Analyze(code)
			if state := s.gate.Evaluate(run.req.Capability, analysis); state == approval.StateRequiredPending {
				return s.suspend(ctx, run, code, analysis)
			}
		}

		outcome, failure := s.execute(ctx, run, code)
		if failure == "" {
			return &RunResult{
				Status:     StatusSucceeded,
				Outcome:    outcome,
				ErrorChain: run.chain.Entries(),
			}, nil
		}

		run.chain.Append(failure)
		if run.execAttempts >= s.cfg.MaxExecutionRetries {
			s.logger.Warn("execution budget exhausted",
				zap.Int("attempts", run.execAttempts),
				zap.Int("chain_len", run.chain.Len()),
			)
			return &RunResult{
				Status:     StatusFailed,
				Outcome:    outcome,
				ErrorChain: run.chain.Entries(),
			}, nil
		}
		// Failed code is assumed buggy: the next attempt regenerates with
		// the longer chain rather than re-running the same text.
	}
}

// generate retries the generator until it yields code or the budget runs
// out. A non-nil RunResult means the run failed terminally.
func (s *service) generate(ctx context.Context, run *runState) (string, *RunResult) {
	for {
		if run.genAttempts >= s.cfg.MaxGenerationRetries {
			s.logger.Warn("generation budget exhausted",
				zap.Int("attempts", run.genAttempts),
			)
			return "", &RunResult{Status: StatusFailed, ErrorChain: run.chain.Entries()}
		}
		run.genAttempts++

		code, err := s.gen.GenerateCode(ctx, run.req, run.chain)
		if err != nil {
			s.logger.Debug("generation attempt failed",
				zap.Int("attempt", run.genAttempts),
				zap.Error(err),
			)
			run.chain.Append(err.Error())
			continue
		}
		return code, nil
	}
}

// suspend checkpoints the run and returns the resume key to the caller.
func (s *service) suspend(ctx context.Context, run *runState, code string, analysis *analyzer.Result) (*RunResult, error) {
	cp := &checkpoint.Checkpoint{
		Key:          uuid.New().String(),
		Request:      *run.req,
		Code:         code,
		Chain:        run.chain.Entries(),
		Analysis:     analysis,
		GenAttempts:  run.genAttempts,
		ExecAttempts: run.execAttempts,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to checkpoint suspended run: %w", err)
	}

	s.logger.Info("run suspended for approval",
		zap.String("key", cp.Key),
		zap.Strings("categories", analysis.Categories()),
	)
	return &RunResult{
		Status:     StatusSuspended,
		ResumeKey:  cp.Key,
		ErrorChain: run.chain.Entries(),
	}, nil
}

// execute runs the code once and classifies the result. An empty failure
// string means success; otherwise the string is the next chain entry.
func (s *service) execute(ctx context.Context, run *runState, code string) (*model.ExecutionOutcome, string) {
	run.execAttempts++

	outcome, err := s.engine.Execute(ctx, code, run.req)
	if err != nil {
		return nil, err.Error()
	}
	if !outcome.Success {
		return outcome, outcome.Error
	}

	if missing := outcome.MissingResults(run.req.ExpectedResults); len(missing) > 0 {
		// The engine ran the code cleanly, but the contract was not met;
		// the outcome is a failure for everyone downstream.
		outcome.Success = false
		outcome.Error = fmt.Sprintf("IncompleteResults: expected results missing: %v", missing)
		return outcome, outcome.Error
	}
	return outcome, ""
}

// lockKey serializes pipeline steps per key. The returned func releases the
// lock and drops the map entry when no other holder remains.
func (s *service) lockKey(key string) func() {
	s.mu.Lock()
	l, ok := s.keys[key]
	if !ok {
		l = &keyLock{}
		s.keys[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.keys, key)
		}
		s.mu.Unlock()
	}
}

func (s *service) count(ctx context.Context, result *RunResult) {
	if s.runsCounter == nil || result == nil {
		return
	}
	s.runsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(result.Status)),
	))
}

var _ Service = (*service)(nil)
