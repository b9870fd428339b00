package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// overlay draws popup centered over base. Without a known terminal size the
// popup is appended below base instead.
func overlay(base, popup string, width, height int) string {
	card := modalStyle.Render(popup)
	if width <= 0 || height <= 0 {
		return base + "\n\n" + card
	}
	baseLines := canvas(base, width, height)
	top := canvas(lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, card), width, height)
	out := make([]string, height)
	for i := range out {
		start, end, ok := segment(top[i], width)
		if !ok {
			out[i] = baseLines[i]
			continue
		}
		left := ansi.Truncate(baseLines[i], start, "")
		mid := ansi.Truncate(dropColumns(top[i], start), end-start, "")
		out[i] = padRight(left+mid+dropColumns(baseLines[i], end), width)
	}
	return strings.Join(out, "\n")
}

// segment finds the visible columns of a popup line.
func segment(line string, width int) (start, end int, ok bool) {
	plain := ansi.Strip(ansi.Truncate(line, width, ""))
	trimmed := strings.TrimRight(plain, " ")
	if trimmed == "" {
		return 0, 0, false
	}
	for start < len(trimmed) && trimmed[start] == ' ' {
		start++
	}
	return start, len(trimmed), true
}

func canvas(s string, width, height int) []string {
	lines := strings.Split(s, "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, "")
	}
	for i := range lines {
		lines[i] = padRight(lines[i], width)
	}
	return lines
}

func dropColumns(s string, cols int) string {
	if cols <= 0 {
		return s
	}
	return strings.TrimPrefix(s, ansi.Truncate(s, cols, ""))
}

func padRight(s string, width int) string {
	s = ansi.Truncate(s, width, "")
	if w := ansi.StringWidth(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
