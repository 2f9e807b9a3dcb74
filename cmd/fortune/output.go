package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/dailyfortune/internal/aggregate"
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
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

// writeBoard renders a leaderboard, one row per entry.
func writeBoard(w io.Writer, board aggregate.Board) {
	title := fmt.Sprintf("Leaderboard for %s", board.Day)
	if board.Scope != "" {
		title += " (" + board.Scope + ")"
	}
	fmt.Fprintln(w, colorize(colorBold, title))
	if len(board.Entries) == 0 {
		fmt.Fprintln(w, "  No fortunes drawn yet.")
		return
	}
	for _, e := range board.Entries {
		badge := e.Medal
		if badge == "" {
			badge = fmt.Sprintf("%d.", e.Rank)
		}
		fmt.Fprintf(w, "  %s %s  %s %d (%s)\n", badge, e.DisplayLabel, e.Symbol, e.Value, e.Label)
	}
}

// writeHistory renders a personal history view with its statistics.
func writeHistory(w io.Writer, view aggregate.PersonalView) {
	fmt.Fprintln(w, colorize(colorBold, "History for "+view.UserID))
	if view.Stats.Count == 0 {
		fmt.Fprintln(w, "  No fortunes recorded.")
		return
	}
	for _, e := range view.Entries {
		fmt.Fprintf(w, "  %s  %3d  %s\n", e.Day, e.Value, e.Label)
	}
	fmt.Fprintf(w, "  %s avg %.1f, best %d, worst %d over %d days\n",
		colorize(colorCyan, "stats:"), view.Stats.Avg, view.Stats.Max, view.Stats.Min, view.Stats.Count)
}
