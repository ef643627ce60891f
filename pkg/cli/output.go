package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ekaya-inc/catalog-enricher/pkg/models"
	"github.com/ekaya-inc/catalog-enricher/pkg/services"
	"github.com/ekaya-inc/catalog-enricher/pkg/services/workqueue"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	yellow = color.New(color.FgYellow, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

func sortedTableIDs[V any](m map[models.TableID]V) []models.TableID {
	ids := make([]models.TableID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func resultMark(r models.ItemResult) string {
	switch {
	case r.Success:
		return green.Sprint("ok")
	case r.Skipped:
		return yellow.Sprint("skipped")
	default:
		return red.Sprint("failed")
	}
}

func resultText(r models.ItemResult) string {
	if r.Error != "" {
		return r.Error
	}
	return r.Message
}

// writeItemResults prints one line per table and returns the number of failures.
func writeItemResults(w io.Writer, results map[models.TableID]models.ItemResult) int {
	failed := 0
	for _, id := range sortedTableIDs(results) {
		r := results[id]
		if !r.Success && !r.Skipped {
			failed++
		}
		fmt.Fprintf(w, "%-8s %s  %s\n", resultMark(r), id, resultText(r))
	}
	return failed
}

func writeSweepReport(w io.Writer, report *services.SweepReport) {
	for _, axis := range models.ValidAxes {
		if ids := report.Expired[axis]; len(ids) > 0 {
			fmt.Fprintf(w, "%s %d stale %s claims expired\n", yellow.Sprint("!"), len(ids), axis)
		}
	}
	for _, id := range sortedTableIDs(report.Results) {
		for _, axis := range models.ValidAxes {
			r, ok := report.Results[id][axis]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%-8s %s %s  %s\n", resultMark(r), id, cyan.Sprint(axis), faint.Sprint(resultText(r)))
		}
	}
	fmt.Fprintf(w, "%d tasks queued\n", report.Queued)
}

func writeTaskSnapshots(w io.Writer, snaps []workqueue.TaskSnapshot) {
	for _, s := range snaps {
		var mark string
		switch s.Status {
		case workqueue.TaskStatusCompleted:
			mark = green.Sprint(s.Status)
		case workqueue.TaskStatusFailed:
			mark = red.Sprint(s.Status)
		default:
			mark = yellow.Sprint(s.Status)
		}
		line := fmt.Sprintf("%-9s %s", mark, s.Name)
		if s.StartedAt != nil && s.CompletedAt != nil {
			line += faint.Sprintf(" (%s)", s.CompletedAt.Sub(*s.StartedAt).Round(time.Millisecond))
		}
		if s.Error != "" {
			line += "  " + s.Error
		}
		fmt.Fprintln(w, line)
	}
}

func stateColor(s models.AxisState) *color.Color {
	switch s {
	case models.AxisStateCompleted:
		return green
	case models.AxisStateFailed:
		return red
	case models.AxisStateInProgress:
		return cyan
	default:
		return yellow
	}
}

func writeTableStatus(w io.Writer, report *services.TableStatusReport) {
	t := report.Table
	fmt.Fprintf(w, "%s\n", t.ID)
	fmt.Fprintf(w, "  rows %d, columns %d, relationships %d, schema %s\n",
		t.RowCount, report.Columns, report.Relationships, t.SchemaStatus)
	if t.SchemaChanges != nil {
		fmt.Fprintf(w, "  schema changes: %s\n", t.SchemaChanges.Summary())
	}
	for _, axis := range models.ValidAxes {
		s := t.Status(axis)
		line := fmt.Sprintf("  %-14s %s retries=%d", axis, stateColor(s.State).Sprint(s.State), s.RetryCount)
		if report.Eligible[axis] {
			line += green.Sprint(" eligible")
		}
		for _, stale := range report.Stale {
			if stale == axis {
				line += red.Sprint(" stale")
			}
		}
		if s.LastError != nil {
			line += "\n    last error: " + *s.LastError
		}
		fmt.Fprintln(w, line)
	}
}

func writeSchemaChanges(w io.Writer, changes *models.SchemaChanges) {
	if changes == nil || !changes.HasChanges() {
		fmt.Fprintln(w, green.Sprint("schema is current"))
		return
	}
	for _, c := range changes.NewColumns {
		fmt.Fprintf(w, "%s %s\n", green.Sprint("+"), c)
	}
	for _, c := range changes.RemovedColumns {
		fmt.Fprintf(w, "%s %s\n", red.Sprint("-"), c)
	}
	for _, c := range changes.TypeChanges {
		fmt.Fprintf(w, "%s %s: %s -> %s\n", yellow.Sprint("~"), c.Column, c.OldType, c.NewType)
	}
}

func writeSearchHits(w io.Writer, hits []services.SearchHit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	for _, h := range hits {
		fmt.Fprintf(w, "%.3f %-6s %s\n", h.Score, strings.ToLower(h.Label), cyan.Sprint(h.Key))
		if h.Description != "" {
			fmt.Fprintf(w, "      %s\n", faint.Sprint(h.Description))
		}
	}
}
