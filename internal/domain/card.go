package domain

import "time"

type ControlStyle string

const (
	ControlStyleSecondary ControlStyle = "secondary"
	ControlStyleDanger    ControlStyle = "danger"
	ControlStyleSuccess   ControlStyle = "success"
)

// Control is one interactive button on a card. ID is the wire command path.
type Control struct {
	ID    string
	Label string
	Emoji string
	Style ControlStyle
}

func (c Control) Active() bool {
	return c.Style != "" && c.Style != ControlStyleSecondary
}

type CardField struct {
	Name  string
	Value string
}

// Card is the platform independent rendering of one feed item.
type Card struct {
	Title         string
	URL           string
	AuthorName    string
	AuthorIconURL string
	Text          string
	ImageURL      string
	Timestamp     time.Time
	Fields        []CardField
	Controls      []Control
}

// TextBlocks returns the translatable text shown on the card.
func (c Card) TextBlocks() []string {
	if c.Text == "" {
		return nil
	}
	return []string{c.Text}
}

func (c Card) WithoutControls() Card {
	c.Fields = append([]CardField(nil), c.Fields...)
	c.Controls = nil
	return c
}

// MessageRef identifies a sent card on the chat platform.
type MessageRef string

// ButtonEvent is an inbound control press on a live card.
type ButtonEvent struct {
	Ref      MessageRef
	CustomID string
	UserName string
}

// ChatCommand is an inbound slash command such as "/bluesky start".
type ChatCommand struct {
	Name     string
	Args     []string
	UserName string
}
