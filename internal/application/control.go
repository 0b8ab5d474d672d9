package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/ports"
	"go.uber.org/zap"
)

// Command describes a chat command published to the chat platform.
type Command struct {
	Name        string
	Description string
}

const blueskyUsage = "Usage: /bluesky start|stop|cards|evict <uri>"

var controlCommands = []Command{
	{Name: "ping", Description: "Check that the relay is alive"},
	{Name: "bluesky", Description: "Drive the Bluesky relay: /bluesky start|stop|cards|evict <uri>"},
}

// ControlService answers the operator chat commands that drive the
// ingestion loop.
type ControlService struct {
	ctx    context.Context
	loop   *IngestionLoop
	logger *zap.Logger
}

// NewControlService binds the loop to ctx: runs started from chat live as
// long as ctx does.
func NewControlService(ctx context.Context, loop *IngestionLoop, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{ctx: ctx, loop: loop, logger: logger.Named("control")}
}

func Commands() []Command {
	return append([]Command(nil), controlCommands...)
}

// Attach registers every command handler, including the fallback for
// unknown commands.
func (c *ControlService) Attach(listener ports.CommandListener) error {
	handlers := map[string]ports.CommandHandler{
		"ping":    c.Ping,
		"bluesky": c.Bluesky,
		"":        c.Unhandled,
	}
	for _, name := range []string{"ping", "bluesky", ""} {
		if err := listener.Register(name, handlers[name]); err != nil {
			return fmt.Errorf("register command %q: %w", name, err)
		}
	}
	return nil
}

func (c *ControlService) Detach(listener ports.CommandListener) error {
	var errs error
	for _, name := range []string{"ping", "bluesky", ""} {
		if err := listener.Unregister(name); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (c *ControlService) Ping(_ context.Context, cmd domain.ChatCommand) (string, error) {
	return fmt.Sprintf("You called %s!", cmd.Name), nil
}

func (c *ControlService) Bluesky(ctx context.Context, cmd domain.ChatCommand) (string, error) {
	sub := ""
	if len(cmd.Args) > 0 {
		sub = strings.ToLower(cmd.Args[0])
	}

	switch sub {
	case "start":
		if err := c.loop.Start(c.ctx); err != nil {
			if errors.Is(err, domain.ErrAlreadyRunning) {
				return "Bsky already started!", nil
			}
			return "", err
		}
		c.logger.Info("relay started from chat", zap.String("user", cmd.UserName))
		return "Bsky service started.", nil
	case "stop":
		if err := c.loop.Stop(); err != nil {
			if errors.Is(err, domain.ErrNotRunning) {
				return "Bsky already stopped!", nil
			}
			return "", err
		}
		c.logger.Info("relay stopped from chat", zap.String("user", cmd.UserName))
		return "Bsky service stopped.", nil
	case "cards":
		return c.cards(), nil
	case "evict":
		if len(cmd.Args) < 2 {
			return "Usage: /bluesky evict <uri>", nil
		}
		key := domain.ItemKey(cmd.Args[1])
		if err := c.loop.Evict(ctx, key); err != nil {
			if errors.Is(err, domain.ErrUnknownKey) {
				return fmt.Sprintf("No live card for %s", key), nil
			}
			return "", err
		}
		c.logger.Info("card evicted from chat", zap.String("item", string(key)), zap.String("user", cmd.UserName))
		return fmt.Sprintf("Card ended: %s", key), nil
	default:
		return blueskyUsage, nil
	}
}

func (c *ControlService) cards() string {
	sessions := c.loop.Sessions()
	if len(sessions) == 0 {
		return "No live cards."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Live cards: %d", len(sessions))
	for _, s := range sessions {
		state := s.State()
		fmt.Fprintf(&b, "\n%s (until %s)", state.Key, state.Deadline.UTC().Format("15:04"))
	}
	return b.String()
}

func (c *ControlService) Unhandled(_ context.Context, cmd domain.ChatCommand) (string, error) {
	return fmt.Sprintf("Unhandled command: %s", cmd.Name), nil
}
