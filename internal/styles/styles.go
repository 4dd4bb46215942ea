// Package styles provides shared lipgloss styles for CLI output.
package styles

import (
	"github.com/charmbracelet/lipgloss"
)

// Tokyo Night color palette.
var (
	ColorBlue = lipgloss.Color("#7aa2f7")
	ColorGray = lipgloss.Color("#565f89")
)

// Banner ASCII art for the serve header.
const Banner = `
 ╦ ╦╔═╗╔═╗╦  ╦╔═╗
 ║║║║╣ ╠═╣╚╗╔╝║╣
 ╚╩╝╚═╝╩ ╩ ╚╝ ╚═╝`

// BannerStyle styles the ASCII art banner.
var BannerStyle = lipgloss.NewStyle().
	Foreground(ColorBlue).
	Bold(true)

// DividerStyle styles horizontal dividers.
var DividerStyle = lipgloss.NewStyle().
	Foreground(ColorGray)
