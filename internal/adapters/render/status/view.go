package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type RenderOptions struct {
	Now time.Time
	// StaleAfter flags a snapshot that has not been refreshed for this long.
	StaleAfter time.Duration
}

func renderView(status domain.RelayStatus, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Bluesky Relay"),
		stateLine(status, opts, s),
		s.detail.Render(fmt.Sprintf("watermark: %s", formatRelative(status.Watermark, opts.Now))),
		s.detail.Render(fmt.Sprintf("last cycle: %s", formatRelative(status.LastCycleAt, opts.Now))),
		s.detail.Render(fmt.Sprintf("cards sent: %d", status.Dispatched)),
		budgetLine(status, s),
	}

	if status.LastError != "" {
		lines = append(lines, s.warning.Render("last error: "+status.LastError))
	}

	lines = append(lines, s.section.Render(renderSessions(status.LiveSessions, opts, s)))

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func stateLine(status domain.RelayStatus, opts RenderOptions, s styles) string {
	state := s.stopped.Render("stopped")
	if status.Running {
		state = s.running.Render("running")
	}

	line := s.header.Render("state: ") + state
	if isStale(status.UpdatedAt, opts) {
		line += " " + s.warning.Render("[stale]")
	}
	return line
}

func isStale(updatedAt time.Time, opts RenderOptions) bool {
	if opts.Now.IsZero() || opts.StaleAfter <= 0 || updatedAt.IsZero() {
		return false
	}
	return opts.Now.Sub(updatedAt) > opts.StaleAfter
}

func budgetLine(status domain.RelayStatus, s styles) string {
	if status.MaxErrors <= 0 {
		return s.detail.Render("error budget: n/a")
	}

	used := 100 * float64(status.ErrorCount) / float64(status.MaxErrors)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.detail.Render("error budget:"),
		" ",
		renderProgressBar(used, 20, s),
		" ",
		s.meta.Render(fmt.Sprintf("%d/%d", status.ErrorCount, status.MaxErrors)),
	)
}

func renderSessions(sessions []domain.SessionState, opts RenderOptions, s styles) string {
	lines := []string{s.header.Render(fmt.Sprintf("live cards: %d", len(sessions)))}
	if len(sessions) == 0 {
		lines = append(lines, s.empty.Render("No live cards."))
		return lipgloss.JoinVertical(lipgloss.Left, lines...)
	}

	for _, session := range sessions {
		lines = append(lines, sessionLine(session, opts, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func sessionLine(session domain.SessionState, opts RenderOptions, s styles) string {
	parts := []string{s.key.Render(shortKey(session.Key))}
	if flags := sessionFlags(session); flags != "" {
		parts = append(parts, " ", s.flag.Render(flags))
	}

	expiry := lipgloss.NewStyle().Foreground(deadlineColor(session.Deadline, opts.Now))
	parts = append(parts, " ", expiry.Render(fmt.Sprintf("(%s)", formatDeadline(session.Deadline, opts.Now))))

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func sessionFlags(session domain.SessionState) string {
	var flags []string
	if session.Liked {
		flags = append(flags, "liked")
	}
	if session.Reposted {
		flags = append(flags, "reposted")
	}
	if session.Translated {
		flags = append(flags, "translated")
	}
	if len(flags) == 0 {
		return ""
	}
	return "[" + strings.Join(flags, ",") + "]"
}

// shortKey renders "at://did/collection/rkey" as "did/rkey".
func shortKey(key domain.ItemKey) string {
	parts := strings.Split(strings.TrimPrefix(string(key), "at://"), "/")
	if len(parts) != 3 {
		return string(key)
	}
	return parts[0] + "/" + parts[2]
}

func renderProgressBar(usedPercent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	used := clampPercent(usedPercent)
	filled := int(math.Round(float64(width) * used / 100.0))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		s.barFill.Render(strings.Repeat("=", filled)),
		s.barEmpty.Render(strings.Repeat("-", width-filled)),
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func formatRelative(at, now time.Time) string {
	if at.IsZero() {
		return "never"
	}
	if now.IsZero() {
		return at.Format(time.RFC3339)
	}

	elapsed := now.Sub(at)
	if elapsed < time.Minute {
		return "just now"
	}
	return humanDuration(elapsed) + " ago"
}

func formatDeadline(deadline, now time.Time) string {
	if deadline.IsZero() {
		return "no deadline"
	}
	if now.IsZero() {
		return "expires " + deadline.Format("15:04")
	}
	if !deadline.After(now) {
		return "expiring"
	}
	return fmt.Sprintf("expires in %s (%s)", humanDuration(deadline.Sub(now)), deadline.Format("15:04"))
}

func humanDuration(d time.Duration) string {
	switch {
	case d < time.Hour:
		minutes := int(math.Ceil(d.Minutes()))
		if minutes <= 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	case d < 24*time.Hour:
		hours := int(math.Ceil(d.Hours()))
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	default:
		days := int(math.Ceil(d.Hours() / 24))
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
}

func interpolateColor(value, min, max float64) lipgloss.Color {
	if max == min {
		return lipgloss.Color("255")
	}

	normalized := (value - min) / (max - min)
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}

	// ANSI 256 greyscale ramp, 240 faded to 255 bright.
	colorCode := int(240.0 + 15.0*normalized)
	return lipgloss.Color(fmt.Sprintf("%d", colorCode))
}

// deadlineColor brightens as a card approaches the end of its lifetime.
func deadlineColor(deadline, now time.Time) lipgloss.Color {
	if now.IsZero() || deadline.Before(now) {
		return lipgloss.Color("255")
	}

	const window = time.Hour
	remaining := deadline.Sub(now)
	return interpolateColor(window.Seconds()-remaining.Seconds(), 0, window.Seconds())
}
