package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	okMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render("✓")
	warnMark = lipgloss.NewStyle().Foreground(lipgloss.Color("#F2C94C")).Render("!")
	failMark = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Render("✗")

	subtle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}).Render
	heading = lipgloss.NewStyle().Bold(true).MarginTop(1).Render
)
