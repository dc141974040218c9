package ui

import (
	"errors"
	"strings"
	"testing"
)

func TestResultRender(t *testing.T) {
	tests := []struct {
		name   string
		result *Result
		want   []string
	}{
		{
			name: "success",
			result: NewSuccessResult("Terminal reconfigured",
				Detail{"Baud rate", "9600"},
				Detail{"Frame", "8N1"}),
			want: []string{SuccessMarker, "Terminal reconfigured", "Baud rate:", "9600", "Frame:", "8N1"},
		},
		{
			name:   "failure",
			result: NewFailureResult("Request failed", errors.New("connection refused"), "Check --port"),
			want:   []string{FailureMarker, "Request failed", "connection refused", "Check --port"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.result.Width = 80
			out := tt.result.Render()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("Render() missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestRenderDetailsKeepsOrder(t *testing.T) {
	out := RenderDetails([]Detail{{"b", "2"}, {"a", "1"}})
	if strings.Index(out, "b:") > strings.Index(out, "a:") {
		t.Errorf("RenderDetails() reordered details:\n%s", out)
	}
}

func TestGetTerminalWidthBounds(t *testing.T) {
	w := GetTerminalWidth()
	if w < MinTerminalWidth || w > MaxContentWidth {
		t.Errorf("GetTerminalWidth() = %d, outside [%d, %d]", w, MinTerminalWidth, MaxContentWidth)
	}
}
