// Package prune shortens long diagnostic text such as panic stacks before it
// is persisted.
package prune

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	DefaultMarker   = "[truncated]"
	DefaultMaxBytes = 8 * 1024
	DefaultMaxLines = 120
)

// Config bounds the output. Head and tail budgets default to half of the
// overall budget each, minus room for the marker line.
type Config struct {
	MaxBytes int
	MaxLines int
	Marker   string
}

// Exceeds reports whether s is over either budget.
func Exceeds(s string, maxBytes, maxLines int) bool {
	return len(s) > maxBytes || CountLines(s) > maxLines
}

func CountLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

// HeadTail keeps the start and end of s and replaces the middle with a marker
// line naming what was cut. Text within budget is returned unchanged, and the
// result never splits a UTF-8 sequence.
func HeadTail(s string, cfg Config) string {
	cfg = normalize(cfg)
	if !Exceeds(s, cfg.MaxBytes, cfg.MaxLines) {
		return s
	}
	marker := fmt.Sprintf("%s (bytes=%d, lines=%d)", cfg.Marker, len(s), CountLines(s))
	budget := cfg.MaxBytes - len(marker) - 2
	if budget <= 0 {
		return safePrefix(marker, cfg.MaxBytes)
	}
	lineBudget := cfg.MaxLines - 1
	head := limitLines(safePrefix(s, budget/2), lineBudget/2, false)
	tail := limitLines(safeSuffix(s, budget-budget/2), lineBudget-lineBudget/2, true)
	return head + "\n" + marker + "\n" + tail
}

func normalize(cfg Config) Config {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxLines <= 1 {
		cfg.MaxLines = DefaultMaxLines
	}
	if cfg.Marker == "" {
		cfg.Marker = DefaultMarker
	}
	return cfg
}

func safePrefix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func safeSuffix(s string, n int) string {
	if n >= len(s) {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}

func limitLines(s string, maxLines int, fromEnd bool) string {
	if maxLines <= 0 {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	if fromEnd {
		return strings.Join(lines[len(lines)-maxLines:], "\n")
	}
	return strings.Join(lines[:maxLines], "\n")
}
