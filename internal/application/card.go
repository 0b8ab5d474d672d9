package application

import (
	"github.com/bnema/skyrelay/internal/commandpath"
	"github.com/bnema/skyrelay/internal/domain"
)

const translatedFieldName = "Translated"

func buildCard(item domain.FeedItem) domain.Card {
	name := item.Author.Name()
	card := domain.Card{
		AuthorName:    name,
		AuthorIconURL: item.Author.AvatarURL,
		Text:          item.Text,
		ImageURL:      item.ImageURL,
		Timestamp:     item.CreatedAt,
	}

	if url := item.WebURL(); url != "" {
		card.URL = url
		card.Title = "Post by " + name
	}

	return card
}

type controlState struct {
	liked        bool
	reposted     bool
	translatable bool
	translated   bool
}

func buildControls(g *commandpath.Grammar, st controlState) []domain.Control {
	like := domain.Control{
		ID:    g.MustBuild(commandpath.PathLike),
		Label: "Like",
		Emoji: "❤",
		Style: domain.ControlStyleSecondary,
	}
	if st.liked {
		like.Style = domain.ControlStyleDanger
	}

	repost := domain.Control{
		ID:    g.MustBuild(commandpath.PathRepost),
		Label: "Repost",
		Emoji: "♻",
		Style: domain.ControlStyleSecondary,
	}
	if st.reposted {
		repost.Style = domain.ControlStyleSuccess
	}

	controls := []domain.Control{like, repost}
	if st.translatable && !st.translated {
		controls = append(controls, domain.Control{
			ID:    g.MustBuild(commandpath.PathTranslate),
			Label: "Translate",
			Emoji: "🌐",
			Style: domain.ControlStyleSecondary,
		})
	}

	return controls
}
