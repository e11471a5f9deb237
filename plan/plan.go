// Package plan reads fault plans, ordered lists of fault requests in
// YAML, and applies them to injectors. A plan arms the faults of a
// test scenario and drives them:
//
//	plan_id: checkpoint-stall
//	injectors: [segment-0]
//	steps:
//	- step_id: 1
//	  name: checkpoint_start
//	  type: suspend
//	  budget: 1
//	- step_id: 2
//	  name: checkpoint_start
//	  type: wait_until_triggered
//	  budget: 1
//	- step_id: 3
//	  delay: 5s
//	  name: checkpoint_start
//	  type: resume
package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lytics/fault"
	"gopkg.in/yaml.v2"
)

var (
	ErrInvalidPlan = errors.New("plan: invalid plan")
	ErrNoTarget    = errors.New("plan: step has no injector")
	ErrStepFailed  = errors.New("plan: step failed")
)

// Plan of fault requests applied in order.
type Plan struct {
	PlanID string `yaml:"plan_id"`
	// Injectors every step is sent to, unless the step names its own.
	Injectors []string `yaml:"injectors,omitempty"`
	// If true, continue applying the plan even if some steps fail.
	TolerateErrors bool   `yaml:"tolerate_errors,omitempty"`
	Steps          []Step `yaml:"steps"`
}

// Step of a plan, a fault request for one or more injectors.
type Step struct {
	StepID int `yaml:"step_id"`
	// Injector overrides the plan's injectors for this step.
	Injector string `yaml:"injector,omitempty"`
	// Delay before the step is applied.
	Delay       time.Duration `yaml:"delay,omitempty"`
	fault.Fault `yaml:",inline"`
}

// Targets of the step within plan p.
func (s Step) Targets(p *Plan) []string {
	if s.Injector != "" {
		return []string{s.Injector}
	}
	return p.Injectors
}

// Parse a plan from YAML. Unknown fields are rejected, a misspelled
// field would otherwise silently change what the plan does.
func Parse(b []byte) (*Plan, error) {
	p := &Plan{}
	if err := yaml.UnmarshalStrict(b, p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Load and parse the plan file.
func Load(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plan: reading %v: %w", path, err)
	}
	return Parse(b)
}

// Marshal the plan to YAML.
func (p *Plan) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// Validate the plan without contacting any injector. Faults armed by
// action steps are fully validated when they are applied.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("%w: plan %q has no steps", ErrInvalidPlan, p.PlanID)
	}
	for i, s := range p.Steps {
		if s.Name == "" {
			return fmt.Errorf("%w: step %d: missing point name", ErrInvalidPlan, i+1)
		}
		if !s.Type.IsAction() && !s.Type.IsControl() {
			return fmt.Errorf("%w: step %d: %w: %q", ErrInvalidPlan, i+1, fault.ErrInvalidType, s.Type)
		}
		if s.Type.IsAction() && s.Budget == 0 {
			return fmt.Errorf("%w: step %d: %w: budget=0", ErrInvalidPlan, i+1, fault.ErrInvalidBudget)
		}
		if s.Delay < 0 {
			return fmt.Errorf("%w: step %d: negative delay", ErrInvalidPlan, i+1)
		}
		if len(s.Targets(p)) == 0 {
			return fmt.Errorf("%w: step %d: %w", ErrInvalidPlan, i+1, ErrNoTarget)
		}
	}
	return nil
}

// Target that plan steps are injected into, a *fault.Client or a
// local injector wrapped with Local.
type Target interface {
	Inject(ctx context.Context, injector string, f fault.Fault) (fault.Snapshot, error)
}

type local struct {
	in *fault.Injector
}

// Local target for an in-process injector, the injector name of a
// step is ignored.
func Local(in *fault.Injector) Target {
	return local{in: in}
}

func (l local) Inject(ctx context.Context, _ string, f fault.Fault) (fault.Snapshot, error) {
	return l.in.Inject(ctx, f)
}

// Result of applying one step to one injector.
type Result struct {
	StepID   int
	Injector string
	Snapshot fault.Snapshot
	Err      error
}

// Logger hides the logging function Printf behind a simple
// interface so libraries such as klog can be used.
type Logger interface {
	Printf(string, ...interface{})
}

// Apply the steps of the plan in order. Unless the plan tolerates
// errors, the first failed step stops the plan and its error is
// returned wrapped in ErrStepFailed. The results of every step
// applied so far are returned in both cases.
func Apply(ctx context.Context, t Target, p *Plan, logger Logger) ([]Result, error) {
	logf := func(format string, v ...interface{}) {
		if logger != nil {
			logger.Printf(format, v...)
		}
	}

	var results []Result
	for i, s := range p.Steps {
		stepID := s.StepID
		if stepID == 0 {
			stepID = i + 1
		}
		if s.Delay > 0 {
			timer := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return results, ctx.Err()
			case <-timer.C:
			}
		}
		for _, injector := range s.Targets(p) {
			snap, err := t.Inject(ctx, injector, s.Fault)
			results = append(results, Result{StepID: stepID, Injector: injector, Snapshot: snap, Err: err})
			if err != nil {
				logf("plan: %v: step %d: %v: %v %v failed: %v", p.PlanID, stepID, injector, s.Type, s.Name, err)
				if !p.TolerateErrors {
					return results, fmt.Errorf("%w: step %d: injector %v: %w", ErrStepFailed, stepID, injector, err)
				}
				continue
			}
			logf("plan: %v: step %d: %v: %v", p.PlanID, stepID, injector, snap)
		}
	}
	return results, nil
}
