package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/lytics/fault"
	"github.com/lytics/fault/plan"
	"github.com/lytics/fault/symtab"
)

type table struct {
	*tabwriter.Writer
	header bool
}

func newTable(w io.Writer) *table {
	return &table{Writer: tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)}
}

func (t *table) row(injector string, s fault.Snapshot) {
	if !t.header {
		fmt.Fprintln(t, "INJECTOR\tPOINT\tTYPE\tSTATE\tSCOPE\tHITS\tFIRED\tREMAINING\tARMED")
		t.header = true
	}
	fmt.Fprintf(t, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		injector,
		s.Name,
		orDash(s.Type.String()),
		s.State,
		scope(s.Fault),
		humanize.Comma(int64(s.Hits)),
		humanize.Comma(int64(s.Triggered)),
		remaining(s),
		armed(s),
	)
}

func printSnapshots(w io.Writer, injector string, snaps ...fault.Snapshot) {
	t := newTable(w)
	for _, s := range snaps {
		t.row(injector, s)
	}
	t.Flush()
}

func printResults(w io.Writer, results []plan.Result) {
	t := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(t, "STEP\tINJECTOR\tPOINT\tTYPE\tSTATE\tRESULT")
	for _, r := range results {
		result := "ok"
		if r.Err != nil {
			result = r.Err.Error()
		}
		fmt.Fprintf(t, "%d\t%s\t%s\t%s\t%s\t%s\n",
			r.StepID, r.Injector, r.Snapshot.Name, orDash(r.Snapshot.Type.String()), r.Snapshot.State, result)
	}
	t.Flush()
}

// printDomains prints every identifier table, the names accepted by
// the flags of arm and by plan files.
func printDomains(w io.Writer) {
	printDomain(w, fault.Types)
	fmt.Fprintln(w)
	printDomain(w, fault.DDLStatements)
	fmt.Fprintln(w)
	printDomain(w, fault.States)
}

func printDomain[T ~uint8](w io.Writer, tab *symtab.Table[T]) {
	fmt.Fprintf(w, "%s (%d):\n", tab.Domain(), tab.Len())
	for _, id := range tab.IDs() {
		fmt.Fprintf(w, "  %3d  %s\n", id, orDash(tab.String(id)))
	}
}

func scope(f fault.Fault) string {
	var parts []string
	if f.DDL != fault.DDLNotSpecified {
		parts = append(parts, "ddl="+f.DDL.String())
	}
	if f.Database != "" {
		parts = append(parts, "db="+f.Database)
	}
	if f.Table != "" {
		parts = append(parts, "table="+f.Table)
	}
	if f.StartOccurrence > 1 {
		parts = append(parts, "start="+strconv.Itoa(f.StartOccurrence))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func remaining(s fault.Snapshot) string {
	switch {
	case !s.State.Active():
		return "-"
	case s.Remaining == fault.Unlimited:
		return "unlimited"
	}
	return humanize.Comma(int64(s.Remaining))
}

func armed(s fault.Snapshot) string {
	if s.ArmedAt.IsZero() {
		return "-"
	}
	return humanize.Time(s.ArmedAt)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
