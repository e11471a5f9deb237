package plan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lytics/fault"
	"github.com/lytics/fault/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stallPlan = `
plan_id: checkpoint-stall
injectors: [segment-0]
steps:
- step_id: 1
  name: checkpoint_start
  type: suspend
  budget: 1
- step_id: 2
  name: checkpoint_start
  type: wait_until_triggered
  budget: 1
- step_id: 3
  name: checkpoint_start
  type: resume
- step_id: 4
  injector: segment-1
  delay: 10ms
  name: vacuum_table
  type: error
  ddl: vacuum
  database: db
  start_occurrence: 2
  budget: -1
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(stallPlan))
	require.NoError(t, err)

	assert.Equal(t, "checkpoint-stall", p.PlanID)
	assert.False(t, p.TolerateErrors)
	require.Len(t, p.Steps, 4)

	assert.Equal(t, fault.TypeSuspend, p.Steps[0].Type)
	assert.Equal(t, []string{"segment-0"}, p.Steps[0].Targets(p))
	assert.Equal(t, fault.TypeWaitUntilTriggered, p.Steps[1].Type)
	assert.Equal(t, fault.TypeResume, p.Steps[2].Type)

	last := p.Steps[3]
	assert.Equal(t, []string{"segment-1"}, last.Targets(p))
	assert.Equal(t, 10*time.Millisecond, last.Delay)
	assert.Equal(t, fault.Fault{
		Name:            "vacuum_table",
		Type:            fault.TypeError,
		DDL:             fault.DDLVacuum,
		Database:        "db",
		StartOccurrence: 2,
		Budget:          fault.Unlimited,
	}, last.Fault)
}

func TestParseInvalid(t *testing.T) {
	tests := map[string]string{
		"not yaml":      "steps: [",
		"unknown field": "plan_id: x\ninjectors: [a]\nsteps:\n- name: p\n  type: skip\n  budget: 1\n  bugdet: 2\n",
		"unknown type":  "plan_id: x\ninjectors: [a]\nsteps:\n- name: p\n  type: explode\n  budget: 1\n",
		"no steps":      "plan_id: x\ninjectors: [a]\n",
		"no name":       "plan_id: x\ninjectors: [a]\nsteps:\n- type: skip\n  budget: 1\n",
		"no type":       "plan_id: x\ninjectors: [a]\nsteps:\n- name: p\n  budget: 1\n",
		"zero budget":   "plan_id: x\ninjectors: [a]\nsteps:\n- name: p\n  type: skip\n",
		"no target":     "plan_id: x\nsteps:\n- name: p\n  type: skip\n  budget: 1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.True(t, errors.Is(err, ErrInvalidPlan), "got: %v", err)
		})
	}

	_, err := Parse([]byte("plan_id: x\nsteps:\n- name: p\n  type: skip\n  budget: 1\n"))
	assert.True(t, errors.Is(err, ErrNoTarget))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fiplan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(stallPlan), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "checkpoint-stall", p.PlanID)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestMarshal(t *testing.T) {
	p, err := Parse([]byte(stallPlan))
	require.NoError(t, err)

	b, err := p.Marshal()
	require.NoError(t, err)
	again, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestApplyLocal(t *testing.T) {
	in, err := fault.NewInjector(fault.InjectorCfg{})
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })

	p, err := Parse([]byte(stallPlan))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The worker arrives at the point once the first step armed it.
	var wg sync.WaitGroup
	wg.Add(1)
	var reachErr error
	go func() {
		defer wg.Done()
		for in.Status("checkpoint_start").State != fault.StateWaiting {
			select {
			case <-ctx.Done():
				reachErr = ctx.Err()
				return
			case <-time.After(time.Millisecond):
			}
		}
		_, reachErr = in.Reach(ctx, "checkpoint_start", fault.Scope{})
	}()

	results, err := Apply(ctx, Local(in), p, nil)
	require.NoError(t, err)
	wg.Wait()
	assert.NoError(t, reachErr)

	require.Len(t, results, 4)
	for i, r := range results {
		assert.NoError(t, r.Err)
		assert.Equal(t, i+1, r.StepID)
	}
	assert.Equal(t, "segment-0", results[0].Injector)
	assert.Equal(t, "segment-1", results[3].Injector)
	assert.Equal(t, fault.StateWaiting, results[0].Snapshot.State)
	assert.Equal(t, 1, results[1].Snapshot.Triggered)
	assert.Equal(t, fault.StateWaiting, results[3].Snapshot.State)
	assert.Equal(t, fault.Unlimited, results[3].Snapshot.Remaining)
}

type recordingTarget struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recordingTarget) Inject(ctx context.Context, injector string, f fault.Fault) (fault.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, injector+"/"+f.Name)
	if err := r.fail[injector]; err != nil {
		return fault.Snapshot{}, err
	}
	return fault.Snapshot{Fault: f, State: fault.StateWaiting}, nil
}

func fanOutPlan(tolerate bool) *Plan {
	return &Plan{
		PlanID:         "fan-out",
		Injectors:      []string{"a", "b", "c"},
		TolerateErrors: tolerate,
		Steps: []Step{
			{Fault: fault.Fault{Name: "p1", Type: fault.TypeSkip, Budget: 1}},
			{Fault: fault.Fault{Name: "p2", Type: fault.TypeSkip, Budget: 1}},
		},
	}
}

func TestApplyStopsOnError(t *testing.T) {
	target := &recordingTarget{fail: map[string]error{"b": fault.ErrTableFull}}

	results, err := Apply(context.Background(), target, fanOutPlan(false), nil)
	assert.True(t, errors.Is(err, ErrStepFailed))
	assert.True(t, errors.Is(err, fault.ErrTableFull))
	assert.Equal(t, []string{"a/p1", "b/p1"}, target.calls)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Equal(t, 1, results[1].StepID)
}

func TestApplyTolerateErrors(t *testing.T) {
	target := &recordingTarget{fail: map[string]error{"b": fault.ErrTableFull}}
	logger := testutil.NewMemLog(t)

	results, err := Apply(context.Background(), target, fanOutPlan(true), logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"a/p1", "b/p1", "c/p1", "a/p2", "b/p2", "c/p2"}, target.calls)
	require.Len(t, results, 6)
	assert.Error(t, results[4].Err)
	assert.Equal(t, 2, results[4].StepID)
	assert.Equal(t, 6, logger.Len())
	assert.True(t, logger.Contains("fan-out: step 2: b: skip p2 failed"))
}

func TestApplyDelayCancelled(t *testing.T) {
	p := fanOutPlan(false)
	p.Steps[1].Delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	target := &recordingTarget{}
	results, err := Apply(ctx, target, p, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Len(t, results, 3)
}
