package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ashureev/shsh-tutor/internal/agent"
	"github.com/ashureev/shsh-tutor/internal/domain"
	"github.com/ashureev/shsh-tutor/internal/store"
)

// ApologyMessage is returned to the learner when a stage fails unexpectedly.
const ApologyMessage = "I'm sorry, something went wrong while I was working on your message. Please try again."

// DefaultGeneratorTimeout bounds a single text generation call.
const DefaultGeneratorTimeout = 30 * time.Second

// PipelineConfig configures the stages built by CreatePipeline.
type PipelineConfig struct {
	Prompts          *Prompts
	GeneratorTimeout time.Duration
	Metrics          *Metrics
	Logger           *slog.Logger
	Now              func() time.Time
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Prompts == nil {
		c.Prompts = DefaultPrompts()
	}
	if c.GeneratorTimeout <= 0 {
		c.GeneratorTimeout = DefaultGeneratorTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Workflow executes turns through a pipeline.
type Workflow struct {
	lastUsed atomic.Int64
	pipeline *Pipeline
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// CreatePipeline builds the start, agent, memory and end stages over st and
// generator. A nil store runs the memory stage in degraded mode.
func CreatePipeline(st store.CheckpointStore, generator agent.TextGenerator, cfg PipelineConfig) *Workflow {
	cfg = cfg.withDefaults()
	p, err := NewPipeline(
		startStage{prompts: cfg.Prompts},
		agentStage{generator: generator, timeout: cfg.GeneratorTimeout, logger: cfg.Logger},
		memoryStage{store: st, now: cfg.Now, logger: cfg.Logger},
		endStage{now: cfg.Now},
	)
	if err != nil {
		panic(fmt.Sprintf("workflow: build pipeline: %v", err))
	}
	return newWorkflow(p, cfg)
}

func newWorkflow(p *Pipeline, cfg PipelineConfig) *Workflow {
	cfg = cfg.withDefaults()
	w := &Workflow{
		pipeline: p,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	w.touch()
	return w
}

func (w *Workflow) touch() {
	w.lastUsed.Store(w.now().UnixNano())
}

// IdleFor returns how long ago the workflow last started a turn.
func (w *Workflow) IdleFor() time.Duration {
	return w.now().Sub(time.Unix(0, w.lastUsed.Load()))
}

// Execute runs every stage in order. A stage error or panic ends the turn
// with ApologyMessage and a non-empty Result.Error; it is never returned.
func (w *Workflow) Execute(ctx context.Context, state domain.State, in Input) domain.Result {
	t := &Turn{State: state.Clone(), Input: in}

	for _, s := range w.pipeline.stages {
		if err := w.runStage(ctx, s, t); err != nil {
			w.logger.Error("Pipeline stage failed",
				"session_id", in.SessionID,
				"stage", s.Name(),
				"error", err,
			)
			w.metrics.turn(outcomeFailed)
			return w.failure(t, s.Name())
		}
	}

	if t.Result == nil {
		w.logger.Error("Pipeline produced no result", "session_id", in.SessionID)
		w.metrics.turn(outcomeFailed)
		return w.failure(t, StageEnd)
	}
	if t.Result.Persistence.OK() {
		w.metrics.turn(outcomePersisted)
	} else {
		w.metrics.turn(outcomeDegraded)
	}
	return *t.Result
}

func (w *Workflow) runStage(ctx context.Context, s Stage, t *Turn) (err error) {
	start := time.Now()
	defer func() {
		w.metrics.observeStage(s.Name(), time.Since(start))
		if r := recover(); r != nil {
			w.logger.Error("Pipeline stage panicked",
				"session_id", t.Input.SessionID,
				"stage", s.Name(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Run(ctx, t)
}

func (w *Workflow) failure(t *Turn, stage string) domain.Result {
	persistence := t.Persistence
	if !persistence.OK() {
		persistence = domain.Degraded("pipeline failure")
	}
	return domain.Result{
		Content: ApologyMessage,
		AgentState: domain.AgentState{
			Subject:      t.State.Subject,
			Name:         t.State.AgentName,
			CheckpointID: persistence.CheckpointID,
		},
		Timestamp:   w.now().UTC().Format(timestampLayout),
		Error:       fmt.Sprintf("pipeline failure in %s stage", stage),
		Persistence: persistence,
	}
}
