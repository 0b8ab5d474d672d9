package ports

import (
	"context"

	"github.com/bnema/skyrelay/internal/domain"
)

type ButtonHandler func(ctx context.Context, event domain.ButtonEvent) error

// CommandHandler answers a chat command with a reply shown only to the caller.
type CommandHandler func(ctx context.Context, command domain.ChatCommand) (string, error)

type Subscription interface {
	Cancel()
}

type ChatPlatform interface {
	Send(ctx context.Context, card domain.Card) (domain.MessageRef, error)
	Update(ctx context.Context, ref domain.MessageRef, card domain.Card) error
	// Subscribe delivers button presses on ref to handler until the
	// subscription is cancelled.
	Subscribe(ref domain.MessageRef, handler ButtonHandler) (Subscription, error)
}

type CommandListener interface {
	// Register binds handler to a command name. An empty name registers the
	// fallback for unknown commands.
	Register(name string, handler CommandHandler) error
	Unregister(name string) error
}

// Reporter is the operator-visible debug channel.
type Reporter interface {
	Debug(ctx context.Context, msg string)
	Report(ctx context.Context, err error, msg string)
}
