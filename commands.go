package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/statlight/harness/framework/results"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const commandHelp = `Press Enter to rerun, type "tag NAME" to run only tests tagged NAME once, ` +
	`"filter NAME" to change the tag filter, or "filter" to clear it.`

const historyHelp = `With --redis, "history [N]" lists recent runs, "run ID" shows one run, ` +
	`and "history clear" deletes the list.`

const defaultHistoryCount = 10

// interactiveRunner is the part of the continuous runner that console commands can drive.
type interactiveRunner interface {
	BuildChanged()
	TagFilter() string
	SetTagFilter(tagFilter string)
	ForceFilteredTest(tagFilter string) error
}

// reportHistory is the part of the report archive that console commands can read.
type reportHistory interface {
	Recent(ctx context.Context, n int) (results.TestReportCollection, error)
	Summary(ctx context.Context, runID string) (map[string]string, error)
	Reset(ctx context.Context) error
}

type commandHandler struct {
	runner  interactiveRunner
	history reportHistory
	out     io.Writer
}

// readCommands reads console commands until the input ends or the context is cancelled. The
// history may be nil, in which case the history commands are unavailable.
func readCommands(ctx context.Context, in io.Reader, r interactiveRunner, history reportHistory, out io.Writer) {
	h := commandHandler{runner: r, history: history, out: out}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		h.handle(ctx, scanner.Text())
	}
}

func (h commandHandler) handle(ctx context.Context, line string) {
	command, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(command) {
	case "":
		h.runner.BuildChanged()
	case "tag":
		if arg == "" {
			fmt.Fprintln(h.out, "tag requires a tag name")
			return
		}
		if err := h.runner.ForceFilteredTest(arg); err != nil {
			fmt.Fprintf(h.out, "Cannot start a run tagged %q: %s\n", arg, err)
		}
	case "filter":
		h.runner.SetTagFilter(arg)
		if arg == "" {
			fmt.Fprintln(h.out, "Tag filter cleared")
		} else {
			fmt.Fprintf(h.out, "Tag filter is now %q\n", h.runner.TagFilter())
		}
	case "history":
		h.showHistory(ctx, arg)
	case "run":
		h.showRun(ctx, arg)
	default:
		fmt.Fprintf(h.out, "Unknown command %q. %s\n", command, commandHelp)
	}
}

func (h commandHandler) showHistory(ctx context.Context, arg string) {
	if h.history == nil {
		fmt.Fprintln(h.out, "No report history is configured")
		return
	}
	if strings.EqualFold(arg, "clear") {
		if err := h.history.Reset(ctx); err != nil {
			fmt.Fprintf(h.out, "Cannot clear report history: %s\n", err)
			return
		}
		fmt.Fprintln(h.out, "Report history cleared")
		return
	}
	count := defaultHistoryCount
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			fmt.Fprintf(h.out, "Invalid count %q\n", arg)
			return
		}
		count = n
	}
	reports, err := h.history.Recent(ctx, count)
	if err != nil {
		fmt.Fprintf(h.out, "Cannot read report history: %s\n", err)
		return
	}
	if len(reports) == 0 {
		fmt.Fprintln(h.out, "No runs recorded")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(h.out, "%s  %s  %-7s %d tests: %d passed, %d failed, %d ignored  %s\n",
			r.StartTime.Local().Format(time.DateTime), r.RunID, r.FinalResult(),
			r.Total(), r.Passed(), r.Failed(), r.Ignored(), r.Name)
	}
}

func (h commandHandler) showRun(ctx context.Context, runID string) {
	if h.history == nil {
		fmt.Fprintln(h.out, "No report history is configured")
		return
	}
	if runID == "" {
		fmt.Fprintln(h.out, "run requires a run ID")
		return
	}
	summary, err := h.history.Summary(ctx, runID)
	if err != nil {
		fmt.Fprintf(h.out, "Cannot read run %s: %s\n", runID, err)
		return
	}
	if len(summary) == 0 {
		fmt.Fprintf(h.out, "No run %s is recorded\n", runID)
		return
	}
	keys := maps.Keys(summary)
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(h.out, "  %s: %s\n", k, summary[k])
	}
}
