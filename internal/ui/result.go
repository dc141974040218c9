package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Detail is one key/value line of a result.
type Detail struct {
	Key   string
	Value string
}

// Result is a bordered success or failure box.
type Result struct {
	Success bool
	Title   string
	Details []Detail
	Err     error
	Hint    string
	Width   int
}

// NewSuccessResult creates a success result box
func NewSuccessResult(title string, details ...Detail) *Result {
	return &Result{Success: true, Title: title, Details: details, Width: GetTerminalWidth()}
}

// NewFailureResult creates a failure result box
func NewFailureResult(title string, err error, hint string) *Result {
	return &Result{Title: title, Err: err, Hint: hint, Width: GetTerminalWidth()}
}

// Render returns the styled result box as a string
func (r *Result) Render() string {
	width := r.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	var lines []string
	border := SuccessColor
	if r.Success {
		lines = append(lines, SuccessTitleStyle.Render(fmt.Sprintf("%s  %s", SuccessMarker, r.Title)))
	} else {
		border = ErrorColor
		lines = append(lines, ErrorTitleStyle.Render(fmt.Sprintf("%s  %s", FailureMarker, r.Title)))
	}

	if len(r.Details) > 0 {
		lines = append(lines, "")
		lines = append(lines, RenderDetails(r.Details))
	}
	if r.Err != nil {
		lines = append(lines, "", ErrorMessageStyle.Render(r.Err.Error()))
	}
	if r.Hint != "" {
		lines = append(lines, "", HintStyle.Render(r.Hint))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Width(width-2).
		Padding(0, 1).
		Render(strings.Join(lines, "\n"))
}

// RenderDetails renders aligned key/value lines in order.
func RenderDetails(details []Detail) string {
	lines := make([]string, 0, len(details))
	for _, d := range details {
		lines = append(lines, KeyStyle.Render(d.Key+":")+" "+ValueStyle.Render(d.Value))
	}
	return strings.Join(lines, "\n")
}
