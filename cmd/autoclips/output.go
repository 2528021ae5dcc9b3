package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/CMarchell/autoclips/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(w io.Writer, label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(w, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusColor(s storage.Status) string {
	switch s {
	case storage.StatusPreview:
		return colorCyan
	case storage.StatusApproved:
		return colorGreen
	case storage.StatusFailed:
		return colorRed
	case storage.StatusKilled:
		return colorYellow
	}
	return colorBold
}

// printProjectLine writes the one-line listing form of a project.
func printProjectLine(w io.Writer, p storage.Project) {
	stage := string(p.CurrentStage)
	if stage == "" {
		stage = "-"
	}
	fmt.Fprintf(w, "%s  %-9s %-15s %s\n",
		colorize(colorCyan, p.ID),
		colorize(statusColor(p.Status), string(p.Status)),
		stage,
		truncateText(p.Topic, 60),
	)
}

// printProject writes the detailed form of a project.
func printProject(w io.Writer, p storage.Project) {
	fmt.Fprintln(w, colorize(colorBold, p.Topic))
	printStatus(w, "ID", "%s", p.ID)
	printStatus(w, "Niche", "%s", p.Niche)
	printStatus(w, "Status", "%s", colorize(statusColor(p.Status), string(p.Status)))
	if p.CurrentStage == storage.CheckpointNone {
		printStatus(w, "Checkpoint", "none")
	} else {
		printStatus(w, "Checkpoint", "%s", p.CurrentStage)
	}
	if next, ok := p.CurrentStage.Next(); ok {
		printStatus(w, "Next stage", "%s", next)
	}
	printStatus(w, "Generation", "%d", p.Generation)
	if p.Voice != "" {
		printStatus(w, "Voice", "%s", p.Voice)
	}
	if p.Music != "" {
		printStatus(w, "Music", "%s", p.Music)
	}
	if p.Error != "" {
		printStatus(w, "Error", "%s", colorize(colorRed, p.Error))
	}
	a := p.Artifacts
	for _, art := range []struct{ label, ref string }{
		{"Idea", a.Idea},
		{"Script", a.Script},
		{"Voice file", a.Voice},
		{"Video", a.Assembly},
		{"Metadata", a.Metadata},
	} {
		if art.ref != "" {
			printStatus(w, art.label, "%s", art.ref)
		}
	}
	if len(a.Footage) > 0 {
		printStatus(w, "Footage", "%d clips", len(a.Footage))
	}
	printStatus(w, "Updated", "%s", p.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
}

func printAttempt(w io.Writer, a storage.StageAttempt) {
	outcome := string(a.Outcome)
	color := colorGreen
	switch a.Outcome {
	case storage.OutcomeTransientFailure:
		color = colorYellow
	case storage.OutcomeFatalFailure:
		color = colorRed
	case "":
		outcome, color = "running", colorCyan
	}
	fmt.Fprintf(w, "%s  %-20s gen %d  #%d  %s",
		a.StartedAt.Local().Format("2006-01-02 15:04:05"),
		a.Stage, a.Generation, a.Number,
		colorize(color, outcome),
	)
	if a.Detail != "" {
		fmt.Fprintf(w, "  %s", truncateText(a.Detail, 100))
	}
	fmt.Fprintln(w)
}

func truncateText(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
