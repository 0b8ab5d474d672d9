// Package telegram implements the chat platform, the command listener and the
// operator debug channel on top of the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/ports"
	"github.com/bnema/skyrelay/internal/retry"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"
)

const (
	DefaultAPIURL      = "https://api.telegram.org"
	defaultPollTimeout = 30 * time.Second
	pollErrorBackoff   = 3 * time.Second
	reportTimeout      = 10 * time.Second
	maxReportRunes     = 3500
)

var (
	ErrMalformedRef  = errors.New("malformed telegram message ref")
	ErrCommandExists = errors.New("command already registered")
	ErrNoChat        = errors.New("telegram chat id is not configured")
)

var (
	_ ports.ChatPlatform    = (*Client)(nil)
	_ ports.CommandListener = (*Client)(nil)
	_ ports.Reporter        = (*Client)(nil)
)

type Options struct {
	APIURL string
	Token  string
	// ChatID receives the cards. Commands are accepted from ChatID and
	// DebugChatID only.
	ChatID      int64
	DebugChatID int64
	PollTimeout time.Duration
	// SendRate is the number of outbound messages per second. Zero disables
	// rate limiting.
	SendRate   float64
	SendBurst  int
	SendRetry  retry.Budget
	HTTPClient *http.Client
	Clock      ports.Clock
	Logger     *zap.Logger
}

type Client struct {
	api         *api
	chatID      int64
	debugChatID int64
	pollTimeout time.Duration
	sendRetry   retry.Budget
	limiter     *rate.Limiter
	clock       ports.Clock
	logger      *zap.Logger

	mu       sync.Mutex
	subs     map[domain.MessageRef]*subscription
	commands map[string]ports.CommandHandler
	offset   int64
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.SendRate > 0 {
		burst := opts.SendBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.SendRate), burst)
	}

	return &Client{
		api:         newAPI(opts.HTTPClient, opts.APIURL, opts.Token),
		chatID:      opts.ChatID,
		debugChatID: opts.DebugChatID,
		pollTimeout: opts.PollTimeout,
		sendRetry:   opts.SendRetry,
		limiter:     limiter,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("telegram"),
		subs:        map[domain.MessageRef]*subscription{},
		commands:    map[string]ports.CommandHandler{},
	}, nil
}

// Me returns the bot's username. It doubles as a credential check.
func (c *Client) Me(ctx context.Context) (string, error) {
	me, err := c.api.getMe(ctx)
	if err != nil {
		return "", fmt.Errorf("get bot identity: %w", err)
	}
	return me.Username, nil
}

// SetCommands publishes the command menu shown by Telegram clients.
func (c *Client) SetCommands(ctx context.Context, commands []BotCommand) error {
	if err := c.api.setMyCommands(ctx, commands); err != nil {
		return fmt.Errorf("set bot commands: %w", err)
	}
	return nil
}

func (c *Client) Send(ctx context.Context, card domain.Card) (domain.MessageRef, error) {
	if c.chatID == 0 {
		return "", ErrNoChat
	}

	text, markup, preview := renderCard(card)
	req := sendMessageRequest{
		ChatID:             c.chatID,
		Text:               text,
		ParseMode:          parseModeHTML,
		LinkPreviewOptions: preview,
	}
	if len(markup.InlineKeyboard) > 0 {
		req.ReplyMarkup = markup
	}

	msg, err := retry.Value(ctx, c.sendRetry, func(ctx context.Context) (*message, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return c.api.sendMessage(ctx, req)
	}, retry.WithClock(c.clock), retry.OnFailure(c.logRetry("sendMessage")))
	if err != nil {
		return "", err
	}

	return formatRef(c.chatID, msg.MessageID), nil
}

func (c *Client) Update(ctx context.Context, ref domain.MessageRef, card domain.Card) error {
	chatID, messageID, err := parseRef(ref)
	if err != nil {
		return err
	}

	text, markup, preview := renderCard(card)
	req := editMessageTextRequest{
		ChatID:             chatID,
		MessageID:          messageID,
		Text:               text,
		ParseMode:          parseModeHTML,
		LinkPreviewOptions: preview,
		ReplyMarkup:        markup,
	}

	return retry.Do(ctx, c.sendRetry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.api.editMessageText(ctx, req)
	}, retry.WithClock(c.clock), retry.OnFailure(c.logRetry("editMessageText")))
}

type subscription struct {
	client  *Client
	ref     domain.MessageRef
	handler ports.ButtonHandler
	once    sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.client.mu.Lock()
		defer s.client.mu.Unlock()
		if s.client.subs[s.ref] == s {
			delete(s.client.subs, s.ref)
		}
	})
}

func (c *Client) Subscribe(ref domain.MessageRef, handler ports.ButtonHandler) (ports.Subscription, error) {
	if _, _, err := parseRef(ref); err != nil {
		return nil, err
	}

	sub := &subscription{client: c, ref: ref, handler: handler}
	c.mu.Lock()
	c.subs[ref] = sub
	c.mu.Unlock()
	return sub, nil
}

func (c *Client) Register(name string, handler ports.CommandHandler) error {
	name = strings.ToLower(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.commands[name]; ok {
		return fmt.Errorf("%w: %q", ErrCommandExists, name)
	}
	c.commands[name] = handler
	return nil
}

func (c *Client) Unregister(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.commands, strings.ToLower(name))
	return nil
}

// Debug sends msg to the debug chat. Without a debug chat the message is
// only logged.
func (c *Client) Debug(ctx context.Context, msg string) {
	c.logger.Info("debug", zap.String("message", msg))
	c.sendDebug(ctx, msg)
}

func (c *Client) Report(ctx context.Context, err error, msg string) {
	c.logger.Error(msg, zap.Error(err))
	text := msg
	if err != nil {
		text = msg + "\n" + err.Error()
	}
	c.sendDebug(ctx, text)
}

func (c *Client) sendDebug(ctx context.Context, text string) {
	if c.debugChatID == 0 {
		return
	}

	// Reports are also sent while the relay shuts down.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	_, err := c.api.sendMessage(ctx, sendMessageRequest{
		ChatID:             c.debugChatID,
		Text:               truncateRunes(text, maxReportRunes),
		LinkPreviewOptions: &linkPreviewOptions{IsDisabled: true},
	})
	if err != nil {
		c.logger.Warn("send debug message failed", zap.Error(err))
	}
}

// Run long-polls for updates until ctx is done. Each update is handled in its
// own goroutine; Run returns once they have all finished.
func (c *Client) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}

		c.mu.Lock()
		offset := c.offset
		c.mu.Unlock()

		updates, next, err := c.api.getUpdates(ctx, offset, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !isPollTimeout(err) {
				c.logger.Warn("get updates failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return nil
				case <-c.clock.After(pollErrorBackoff):
				}
			}
			continue
		}

		c.mu.Lock()
		c.offset = next
		c.mu.Unlock()

		for _, u := range updates {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.dispatch(ctx, u)
			}()
		}
	}
}

func (c *Client) dispatch(ctx context.Context, u update) {
	switch {
	case u.CallbackQuery != nil:
		c.handleCallback(ctx, u.CallbackQuery)
	case u.Message != nil && strings.HasPrefix(strings.TrimSpace(u.Message.Text), "/"):
		c.handleCommand(ctx, u.Message)
	}
}

// handleCallback answers the query before the handler runs: actions can
// outlast the window Telegram gives for an answer. Handler failures go to the
// debug chat.
func (c *Client) handleCallback(ctx context.Context, q *callbackQuery) {
	if q.Message == nil || q.Message.Chat == nil {
		c.answerCallback(ctx, q.ID, "")
		return
	}
	ref := formatRef(q.Message.Chat.ID, q.Message.MessageID)

	c.mu.Lock()
	sub, ok := c.subs[ref]
	c.mu.Unlock()
	if !ok {
		c.answerCallback(ctx, q.ID, "This card has expired.")
		return
	}
	c.answerCallback(ctx, q.ID, "")

	err := sub.handler(ctx, domain.ButtonEvent{
		Ref:      ref,
		CustomID: q.Data,
		UserName: displayName(q.From),
	})
	if err != nil {
		c.Report(ctx, err, fmt.Sprintf("Control %s failed on %s", q.Data, ref))
	}
}

func (c *Client) answerCallback(ctx context.Context, id, text string) {
	if err := c.api.answerCallbackQuery(ctx, id, text); err != nil {
		c.logger.Debug("answer callback query failed", zap.Error(err))
	}
}

func (c *Client) handleCommand(ctx context.Context, msg *message) {
	if msg.Chat == nil || !c.allowedChat(msg.Chat.ID) {
		c.logger.Debug("ignoring command from unknown chat")
		return
	}

	cmd := parseCommand(msg.Text)
	cmd.UserName = displayName(msg.From)

	c.mu.Lock()
	handler, ok := c.commands[cmd.Name]
	if !ok {
		handler, ok = c.commands[""]
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	reply, err := handler(ctx, cmd)
	if err != nil {
		c.logger.Error("command handler failed", zap.String("command", cmd.Name), zap.Error(err))
		reply = "Command failed: " + err.Error()
	}
	if reply == "" {
		return
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return
	}
	_, err = c.api.sendMessage(ctx, sendMessageRequest{
		ChatID:             msg.Chat.ID,
		Text:               reply,
		ReplyToMessageID:   msg.MessageID,
		LinkPreviewOptions: &linkPreviewOptions{IsDisabled: true},
	})
	if err != nil {
		c.logger.Warn("send command reply failed", zap.Error(err))
	}
}

func (c *Client) allowedChat(id int64) bool {
	return id != 0 && (id == c.chatID || id == c.debugChatID)
}

func (c *Client) logRetry(method string) func(int, error) {
	return func(attempt int, err error) {
		c.logger.Warn("telegram call failed, retrying",
			zap.String("method", method),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

// parseCommand splits "/name@bot arg1 arg2" into a command.
func parseCommand(text string) domain.ChatCommand {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return domain.ChatCommand{}
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return domain.ChatCommand{Name: strings.ToLower(name), Args: fields[1:]}
}

func formatRef(chatID, messageID int64) domain.MessageRef {
	return domain.MessageRef(strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(messageID, 10))
}

func parseRef(ref domain.MessageRef) (int64, int64, error) {
	chatPart, msgPart, ok := strings.Cut(string(ref), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedRef, ref)
	}
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedRef, ref)
	}
	messageID, err := strconv.ParseInt(msgPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrMalformedRef, ref)
	}
	return chatID, messageID, nil
}
