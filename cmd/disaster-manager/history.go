package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"disaster-manager-go/pkg/history"
)

// HistoryCmd prints the job history.
// Usage: disaster-manager history --db history.db [--limit 20]
type HistoryCmd struct {
	DB    string `long:"db" description:"SQLite job history path" required:"true"`
	Limit int    `short:"n" long:"limit" description:"number of jobs, 0 for all" default:"20"`
	Jams  bool   `long:"jams" description:"list jam episodes under each job"`
}

func (c *HistoryCmd) Execute(_ []string) error {
	if _, err := os.Stat(c.DB); err != nil {
		return fmt.Errorf("history database: %w", err)
	}
	store, err := history.Open(c.DB)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	jobs, err := store.ListJobs(ctx, c.Limit)
	if err != nil {
		return err
	}
	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, job := range jobs {
		printJob(os.Stdout, job, now)
		if c.Jams && job.Jams > 0 {
			jams, err := store.ListJams(ctx, job.ID)
			if err != nil {
				return err
			}
			for _, jam := range jams {
				fmt.Fprintf(os.Stdout, "    jam T%d drift %s mm at %s (%s)\n",
					jam.Tool, humanize.CommafWithDigits(jam.Drift, 2), jam.Time.Format(time.DateTime), jam.EpisodeID)
			}
		}
	}
	printTotals(os.Stdout, totals)
	return nil
}

func printJob(w io.Writer, job history.Job, now time.Time) {
	fmt.Fprintf(w, "%s  %-11s  %s  %8s  %12s mm",
		shortID(job.ID), job.Status, humanize.Time(job.StartTime),
		job.Duration(now).Round(time.Second), humanize.CommafWithDigits(job.FilamentUsed(), 2))
	if job.Jams > 0 {
		fmt.Fprintf(w, "  %d jams", job.Jams)
	}
	fmt.Fprintln(w)
}

func printTotals(w io.Writer, t history.Totals) {
	fmt.Fprintf(w, "\n%s jobs (%d completed, %d cancelled, %d failed), %s of printing\n",
		humanize.Comma(int64(t.TotalJobs)), t.CompletedJobs, t.CancelledJobs, t.JobsWithErrors,
		seconds(t.TotalTime))
	fmt.Fprintf(w, "filament %s mm from g-code, %s mm from sensor, %d jams, longest job %s\n",
		humanize.CommafWithDigits(t.TotalFilament, 2), humanize.CommafWithDigits(t.TotalSensor, 2),
		t.TotalJams, seconds(t.LongestJob))
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second)).Round(time.Second)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
