package telegram

import (
	"html"
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderCardFields(t *testing.T) {
	card := testCard()
	card.Fields = []domain.CardField{{Name: "Translated", Value: "Hello <world>"}}

	text, markup, preview := renderCard(card)

	assert.Contains(t, text, "<b>Translated</b>\nHello &lt;world&gt;")
	assert.True(t, strings.HasSuffix(text, "<i>2026-03-01 10:00 UTC</i>"))
	require.Len(t, markup.InlineKeyboard, 1)
	assert.Equal(t, &linkPreviewOptions{URL: card.URL}, preview)
}

func TestRenderCardWithoutLink(t *testing.T) {
	text, markup, preview := renderCard(domain.Card{AuthorName: "Bob & co", Text: "hi"})

	assert.Equal(t, "<b>Bob &amp; co</b>\n\nhi", text)
	assert.Empty(t, markup.InlineKeyboard)
	assert.True(t, preview.IsDisabled)
}

func TestRenderPreviewPrefersImage(t *testing.T) {
	preview := renderPreview(domain.Card{URL: "https://bsky.app/x", ImageURL: "https://cdn.bsky.app/img.jpg"})
	assert.Equal(t, "https://cdn.bsky.app/img.jpg", preview.URL)
	assert.True(t, preview.PreferLargeMedia)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "short", truncateRunes("  short  ", 10))

	long := strings.Repeat("é", 20)
	got := truncateRunes(long, 5)
	assert.Equal(t, 6, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

var markupTag = regexp.MustCompile(`<[^>]+>`)

func visibleUnits(text string) int {
	return utf16Len(html.UnescapeString(markupTag.ReplaceAllString(text, "")))
}

func TestRenderCardSharesOneBudget(t *testing.T) {
	card := testCard()
	card.Text = strings.Repeat("a", 3000)
	card.Fields = []domain.CardField{
		{Name: "Translated", Value: strings.Repeat("b", 3000)},
		{Name: "Translated", Value: strings.Repeat("c", 3000)},
	}

	text, _, _ := renderCard(card)

	assert.LessOrEqual(t, visibleUnits(text), maxMessageUnits)
	assert.Contains(t, text, strings.Repeat("a", 3000))
	assert.Contains(t, text, "b…")
	assert.Equal(t, 1, strings.Count(text, "<b>Translated</b>"))
	assert.NotContains(t, text, "cc")
	assert.True(t, strings.HasSuffix(text, "<i>2026-03-01 10:00 UTC</i>"))
}

func TestRenderCardCountsUTF16Units(t *testing.T) {
	card := testCard()
	card.Text = strings.Repeat("😀", 3000)

	text, _, _ := renderCard(card)

	assert.LessOrEqual(t, visibleUnits(text), maxMessageUnits)
	assert.True(t, utf8.ValidString(text))
}

func TestTruncateUnits(t *testing.T) {
	assert.Equal(t, "short", truncateUnits(" short ", 10))
	assert.Equal(t, "😀…", truncateUnits("😀😀😀", 4))
	assert.Equal(t, "", truncateUnits("abc", 0))
}
