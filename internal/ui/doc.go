// Package ui holds the lipgloss styles and result boxes used by wise-cfg.
package ui
