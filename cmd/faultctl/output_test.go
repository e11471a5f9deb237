package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lytics/fault"
	"github.com/lytics/fault/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintSnapshots(t *testing.T) {
	var buf bytes.Buffer
	printSnapshots(&buf, "segment-0",
		fault.Snapshot{
			Fault: fault.Fault{
				Name:            "checkpoint_start",
				Type:            fault.TypeSleep,
				DDL:             fault.DDLVacuum,
				Database:        "db",
				StartOccurrence: 3,
				Budget:          fault.Unlimited,
			},
			State:     fault.StateTriggered,
			Hits:      12345,
			Triggered: 2,
			Remaining: fault.Unlimited,
			ArmedAt:   time.Now().Add(-time.Hour),
		},
		fault.Snapshot{Fault: fault.Fault{Name: "idle"}},
	)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "INJECTOR"))

	row := strings.Fields(lines[1])
	assert.Equal(t, []string{"segment-0", "checkpoint_start", "sleep", "triggered",
		"ddl=vacuum,db=db,start=3", "12,345", "2", "unlimited", "1", "hour", "ago"}, row)

	idle := strings.Fields(lines[2])
	assert.Equal(t, []string{"segment-0", "idle", "-", "not", "initialized", "-", "0", "0", "-", "-"}, idle)
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []plan.Result{
		{StepID: 1, Injector: "a", Snapshot: fault.Snapshot{Fault: fault.Fault{Name: "p", Type: fault.TypeSkip}, State: fault.StateWaiting}},
		{StepID: 2, Injector: "b", Err: errors.New("boom")},
	})
	out := buf.String()
	assert.Contains(t, out, "STEP")
	assert.Contains(t, out, "skip")
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "boom")
}

func TestPrintDomains(t *testing.T) {
	var buf bytes.Buffer
	printDomains(&buf)
	out := buf.String()

	assert.Contains(t, out, "fault type (14):")
	assert.Contains(t, out, "wait_until_triggered")
	assert.Contains(t, out, "ddl statement (13):")
	assert.Contains(t, out, "vacuum")
	assert.Contains(t, out, "fault state (5):")
	assert.Contains(t, out, "not initialized")
}

func TestCommandTree(t *testing.T) {
	root := newRootCommand()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"arm", "reset", "resume", "status", "list", "wait", "apply", "types"} {
		assert.Contains(t, names, want)
	}
}

func TestTypesCommand(t *testing.T) {
	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"types"})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "suspend")
}

func TestArmRequiresNamespace(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"arm", "segment-0", "p", "--type", "skip"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--namespace")
}

func TestArmUnknownType(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"arm", "segment-0", "p", "--type", "explode", "-n", "ns"})
	assert.True(t, errors.Is(root.Execute(), fault.ErrUnknownIdentifier))
}

func TestApplyDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fiplan.yaml")
	doc := "plan_id: dry\ninjectors: [a]\nsteps:\n- name: p\n  type: skip\n  budget: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	root := newRootCommand()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"apply", "--dry-run", path})
	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "plan_id: dry")
	assert.Contains(t, buf.String(), "type: skip")
}
