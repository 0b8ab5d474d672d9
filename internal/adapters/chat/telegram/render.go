package telegram

import (
	"html"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/bnema/skyrelay/internal/domain"
)

const (
	parseModeHTML = "HTML"
	// Bot API limit: 4096 UTF-16 units of text after entity parsing.
	maxMessageUnits = 4096
	// Room kept for separators and the timestamp line.
	layoutReserve = 96
	maxTitleUnits = 256
	activeMark    = " ✓"
)

// textBudget hands out the visible text of one message. Whatever the title
// and the body take is no longer available to the fields.
type textBudget struct {
	left int
}

func (b *textBudget) take(s string) string {
	s = truncateUnits(s, b.left)
	b.left -= utf16Len(s)
	return s
}

// renderCard turns a card into the text, keyboard and preview options of a
// Telegram message.
func renderCard(card domain.Card) (string, *inlineKeyboardMarkup, *linkPreviewOptions) {
	var b strings.Builder
	budget := &textBudget{left: maxMessageUnits - layoutReserve}

	switch {
	case card.Title != "" && card.URL != "":
		title := budget.take(truncateUnits(card.Title, maxTitleUnits))
		b.WriteString(`<b><a href="` + html.EscapeString(card.URL) + `">` + html.EscapeString(title) + "</a></b>\n")
	case card.Title != "":
		b.WriteString("<b>" + html.EscapeString(budget.take(truncateUnits(card.Title, maxTitleUnits))) + "</b>\n")
	case card.AuthorName != "":
		b.WriteString("<b>" + html.EscapeString(budget.take(truncateUnits(card.AuthorName, maxTitleUnits))) + "</b>\n")
	}

	if text := budget.take(card.Text); text != "" {
		b.WriteString("\n" + html.EscapeString(text) + "\n")
	}

	for _, field := range card.Fields {
		name := budget.take(field.Name)
		value := budget.take(field.Value)
		if name == "" && value == "" {
			break
		}
		b.WriteString("\n<b>" + html.EscapeString(name) + "</b>\n")
		b.WriteString(html.EscapeString(value) + "\n")
	}

	if !card.Timestamp.IsZero() {
		b.WriteString("\n<i>" + card.Timestamp.UTC().Format("2006-01-02 15:04 MST") + "</i>")
	}

	return strings.TrimSpace(b.String()), renderKeyboard(card.Controls), renderPreview(card)
}

// renderKeyboard always returns a markup so that an edit without controls
// removes the previous keyboard.
func renderKeyboard(controls []domain.Control) *inlineKeyboardMarkup {
	row := make([]inlineKeyboardButton, 0, len(controls))
	for _, control := range controls {
		row = append(row, inlineKeyboardButton{
			Text:         buttonText(control),
			CallbackData: control.ID,
		})
	}

	markup := &inlineKeyboardMarkup{InlineKeyboard: [][]inlineKeyboardButton{}}
	if len(row) > 0 {
		markup.InlineKeyboard = append(markup.InlineKeyboard, row)
	}
	return markup
}

func buttonText(control domain.Control) string {
	text := control.Label
	if control.Emoji != "" {
		text = control.Emoji + " " + text
	}
	if control.Active() {
		text += activeMark
	}
	return text
}

func renderPreview(card domain.Card) *linkPreviewOptions {
	switch {
	case card.ImageURL != "":
		return &linkPreviewOptions{URL: card.ImageURL, PreferLargeMedia: true}
	case card.URL != "":
		return &linkPreviewOptions{URL: card.URL}
	default:
		return &linkPreviewOptions{IsDisabled: true}
	}
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit])) + "…"
}

// truncateUnits cuts s to at most limit UTF-16 units, ellipsis included.
func truncateUnits(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf16Len(s) <= limit {
		return s
	}
	if limit <= 0 {
		return ""
	}

	units := 0
	for i, r := range s {
		units += utf16.RuneLen(r)
		if units > limit-1 {
			return strings.TrimSpace(s[:i]) + "…"
		}
	}
	return s
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
