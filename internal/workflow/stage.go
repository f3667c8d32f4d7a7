// Package workflow runs a tutoring turn through a fixed sequence of stages
// and manages the per-session workflow handles.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/shsh-tutor/internal/domain"
)

// Stage names of the tutoring pipeline.
const (
	StageStart  = "start"
	StageAgent  = "agent"
	StageMemory = "memory"
	StageEnd    = "end"
)

var (
	errEmptyPipeline  = errors.New("pipeline has no stages")
	errNilStage       = errors.New("pipeline stage is nil")
	errDuplicateStage = errors.New("duplicate pipeline stage")
)

// Input is the caller-supplied part of a turn.
type Input struct {
	SessionID   string
	UserMessage domain.Message
}

// Turn is the value threaded through the stages of one execution.
type Turn struct {
	State       domain.State
	Input       Input
	Persistence domain.Persistence
	Result      *domain.Result
}

// Stage is one step of a pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context, t *Turn) error
}

// Pipeline is an ordered, validated sequence of stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline validates stages and returns a pipeline running them in order.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errEmptyPipeline
	}
	seen := make(map[string]struct{}, len(stages))
	for i, s := range stages {
		if s == nil {
			return nil, fmt.Errorf("%w at position %d", errNilStage, i)
		}
		if _, ok := seen[s.Name()]; ok {
			return nil, fmt.Errorf("%w: %s", errDuplicateStage, s.Name())
		}
		seen[s.Name()] = struct{}{}
	}
	return &Pipeline{stages: append([]Stage(nil), stages...)}, nil
}

// Names returns the stage names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}
