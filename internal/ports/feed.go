package ports

import (
	"context"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
)

// FeedSource returns items whose effective timestamp lies in (from, to],
// newest first, at most limit of them.
type FeedSource interface {
	Items(ctx context.Context, from, to time.Time, limit int) ([]domain.FeedItem, error)
}

type FeedActions interface {
	Like(ctx context.Context, item domain.ItemRef) (domain.ActionHandle, error)
	Unlike(ctx context.Context, handle domain.ActionHandle) error
	Reshare(ctx context.Context, item domain.ItemRef) (domain.ActionHandle, error)
	Unreshare(ctx context.Context, handle domain.ActionHandle) error
}

type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}
