package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bnema/skyrelay/internal/commandpath"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/metrics"
	"github.com/bnema/skyrelay/internal/ports"
	"go.uber.org/zap"
)

const (
	actionLike      = "like"
	actionRepost    = "repost"
	actionTranslate = "translate"

	expireUpdateTimeout = 30 * time.Second
)

type SessionOptions struct {
	Lifetime time.Duration
	// OnFinalize runs exactly once when the session expires.
	OnFinalize func(*Session)
}

// Session owns the lifecycle of one card: it renders the controls, runs
// control presses against the feed actions one at a time, and strips the
// controls when it expires.
type Session struct {
	rt         *Runtime
	item       domain.FeedItem
	lifetime   time.Duration
	onFinalize func(*Session)
	logger     *zap.Logger

	mu           sync.Mutex
	sent         bool
	alive        bool
	endReason    domain.ExpireReason
	inFlight     bool
	ref          domain.MessageRef
	likeHandle   domain.ActionHandle
	repostHandle domain.ActionHandle
	translated   bool
	fields       []domain.CardField
	deadline     time.Time
	sub          ports.Subscription
	timer        ports.Timer

	// renderMu orders card updates so a late re-render can never restore
	// controls on an expired card.
	renderMu sync.Mutex
}

func NewSession(rt *Runtime, item domain.FeedItem, opts SessionOptions) *Session {
	return &Session{
		rt:         rt,
		item:       item,
		lifetime:   opts.Lifetime,
		onFinalize: opts.OnFinalize,
		logger:     rt.Logger.Named("session").With(zap.String("item", string(item.Key))),
		alive:      true,
	}
}

func (s *Session) Key() domain.ItemKey {
	return s.item.Key
}

func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SessionState{
		Key:        s.item.Key,
		Ref:        s.ref,
		Liked:      s.likeHandle != "",
		Reposted:   s.repostHandle != "",
		Translated: s.translated,
		Alive:      s.alive,
		Deadline:   s.deadline,
	}
}

// Card returns the card as it is currently displayed.
func (s *Session) Card() domain.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cardLocked()
}

func (s *Session) cardLocked() domain.Card {
	card := buildCard(s.item)
	card.Fields = append([]domain.CardField(nil), s.fields...)
	if !s.alive {
		return card
	}

	card.Controls = buildControls(s.rt.Grammar, controlState{
		liked:        s.likeHandle != "",
		reposted:     s.repostHandle != "",
		translatable: s.rt.Translator != nil,
		translated:   s.translated,
	})
	return card
}

// Send posts the card, subscribes to its control presses and arms the expiry
// timer. A session can be sent once.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	if s.sent {
		s.mu.Unlock()
		return s.rt.assert(ctx, false, "session for %s already sent", s.item.Key)
	}
	s.sent = true
	card := s.cardLocked()
	s.mu.Unlock()

	ref, err := s.rt.Chat.Send(ctx, card)
	if err != nil {
		return fmt.Errorf("send card: %w", err)
	}

	s.mu.Lock()
	s.ref = ref
	s.deadline = s.rt.Clock.Now().Add(s.lifetime)
	alive, reason := s.alive, s.endReason
	s.mu.Unlock()

	// Expire saw no ref while the card was in flight, so it could not strip
	// the controls itself.
	if !alive {
		return s.stripControls(ctx, ref, reason)
	}

	sub, err := s.rt.Chat.Subscribe(ref, s.HandleEvent)
	if err != nil {
		err = fmt.Errorf("subscribe card controls: %w", err)
		return errors.Join(err, s.Expire(ctx, domain.ExpireReasonFailed))
	}

	timer := s.rt.Clock.AfterFunc(s.lifetime, s.onDeadline)

	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		timer.Stop()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.timer = timer
	s.mu.Unlock()

	s.logger.Debug("card sent", zap.String("ref", string(ref)), zap.Duration("lifetime", s.lifetime))
	return nil
}

func (s *Session) onDeadline() {
	ctx, cancel := context.WithTimeout(context.Background(), expireUpdateTimeout)
	defer cancel()

	if err := s.Expire(ctx, domain.ExpireReasonTimeout); err != nil {
		s.logger.Warn("expire session", zap.Error(err))
	}
}

// HandleEvent decodes a control press and runs the matching action.
// Malformed identifiers, presses on expired cards and presses that collide
// with an action in flight are acknowledged without effect. Assertion
// failures are returned after being reported; other failures are reported
// and swallowed.
func (s *Session) HandleEvent(ctx context.Context, event domain.ButtonEvent) error {
	path, err := s.rt.Grammar.Parse(event.CustomID)
	if err != nil {
		s.logger.Warn("ignoring malformed control id", zap.String("custom_id", event.CustomID), zap.Error(err))
		s.rt.Reporter.Debug(ctx, fmt.Sprintf("Invalid control id: %s", event.CustomID))
		return nil
	}

	var actionErr error
	switch {
	case path.Equal(commandpath.PathLike):
		actionErr = s.ToggleLike(ctx)
	case path.Equal(commandpath.PathRepost):
		actionErr = s.ToggleRepost(ctx)
	case path.Equal(commandpath.PathTranslate):
		actionErr = s.Translate(ctx)
	default:
		s.logger.Warn("ignoring unknown control", zap.String("custom_id", event.CustomID))
		s.rt.Reporter.Debug(ctx, fmt.Sprintf("Unknown control: %s", event.CustomID))
		return nil
	}

	switch {
	case actionErr == nil:
		return nil
	case errors.Is(actionErr, domain.ErrActionInFlight), errors.Is(actionErr, domain.ErrSessionExpired):
		s.logger.Debug("control press ignored", zap.String("custom_id", event.CustomID), zap.Error(actionErr))
		return nil
	case errors.Is(actionErr, domain.ErrAssertion):
		return actionErr
	default:
		s.rt.Reporter.Report(ctx, actionErr, fmt.Sprintf("%s failed for %s", path, s.item.Key))
		return nil
	}
}

func (s *Session) Like(ctx context.Context) error {
	return s.run(ctx, actionLike, s.like)
}

func (s *Session) Unlike(ctx context.Context) error {
	return s.run(ctx, actionLike, s.unlike)
}

func (s *Session) ToggleLike(ctx context.Context) error {
	return s.run(ctx, actionLike, func(ctx context.Context) error {
		if s.State().Liked {
			return s.unlike(ctx)
		}
		return s.like(ctx)
	})
}

func (s *Session) Repost(ctx context.Context) error {
	return s.run(ctx, actionRepost, s.repost)
}

func (s *Session) Unrepost(ctx context.Context) error {
	return s.run(ctx, actionRepost, s.unrepost)
}

func (s *Session) ToggleRepost(ctx context.Context) error {
	return s.run(ctx, actionRepost, func(ctx context.Context) error {
		if s.State().Reposted {
			return s.unrepost(ctx)
		}
		return s.repost(ctx)
	})
}

// Translate appends a translation of every text block to the card. It can
// succeed once per session.
func (s *Session) Translate(ctx context.Context) error {
	return s.run(ctx, actionTranslate, s.translate)
}

// Expire strips the controls from the card and runs the finalize callback.
// Only the first call has any effect.
func (s *Session) Expire(ctx context.Context, reason domain.ExpireReason) error {
	s.mu.Lock()
	if !s.alive {
		s.mu.Unlock()
		return nil
	}
	s.alive = false
	s.endReason = reason
	timer, sub, ref := s.timer, s.sub, s.ref
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if sub != nil {
		sub.Cancel()
	}
	if s.onFinalize != nil {
		s.onFinalize(s)
	}
	s.logger.Info("session ended", zap.String("reason", string(reason)))

	if ref == "" {
		return nil
	}
	return s.stripControls(ctx, ref, reason)
}

func (s *Session) stripControls(ctx context.Context, ref domain.MessageRef, reason domain.ExpireReason) error {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	if err := s.rt.Chat.Update(ctx, ref, s.Card()); err != nil {
		err = fmt.Errorf("strip controls: %w", err)
		s.rt.Reporter.Report(ctx, err, fmt.Sprintf("session end failed: %s", reason))
		return err
	}

	return nil
}

func (s *Session) run(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	if err := s.begin(); err != nil {
		metrics.RecordAction(action, "rejected")
		return fmt.Errorf("%s %s: %w", action, s.item.Key, err)
	}
	defer s.end()

	if err := fn(ctx); err != nil {
		metrics.RecordAction(action, "error")
		return err
	}
	metrics.RecordAction(action, "ok")

	return s.rerender(ctx)
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.alive {
		return domain.ErrSessionExpired
	}
	if s.inFlight {
		return domain.ErrActionInFlight
	}
	s.inFlight = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Session) rerender(ctx context.Context) error {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.Lock()
	if !s.alive || s.ref == "" {
		s.mu.Unlock()
		return nil
	}
	ref, card := s.ref, s.cardLocked()
	s.mu.Unlock()

	if err := s.rt.Chat.Update(ctx, ref, card); err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	return nil
}

func (s *Session) like(ctx context.Context) error {
	if err := s.rt.assert(ctx, !s.State().Liked, "like handle already set for %s", s.item.Key); err != nil {
		return err
	}

	handle, err := s.rt.Actions.Like(ctx, s.item.Ref())
	if err != nil {
		return fmt.Errorf("like %s: %w", s.item.Key, err)
	}

	s.mu.Lock()
	s.likeHandle = handle
	s.mu.Unlock()
	return nil
}

func (s *Session) unlike(ctx context.Context) error {
	s.mu.Lock()
	handle := s.likeHandle
	s.mu.Unlock()

	if err := s.rt.assert(ctx, handle != "", "no like handle for %s", s.item.Key); err != nil {
		return err
	}

	if err := s.rt.Actions.Unlike(ctx, handle); err != nil {
		return fmt.Errorf("unlike %s: %w", s.item.Key, err)
	}

	s.mu.Lock()
	s.likeHandle = ""
	s.mu.Unlock()
	return nil
}

func (s *Session) repost(ctx context.Context) error {
	if err := s.rt.assert(ctx, !s.State().Reposted, "repost handle already set for %s", s.item.Key); err != nil {
		return err
	}

	handle, err := s.rt.Actions.Reshare(ctx, s.item.Ref())
	if err != nil {
		return fmt.Errorf("repost %s: %w", s.item.Key, err)
	}

	s.mu.Lock()
	s.repostHandle = handle
	s.mu.Unlock()
	return nil
}

func (s *Session) unrepost(ctx context.Context) error {
	s.mu.Lock()
	handle := s.repostHandle
	s.mu.Unlock()

	if err := s.rt.assert(ctx, handle != "", "no repost handle for %s", s.item.Key); err != nil {
		return err
	}

	if err := s.rt.Actions.Unreshare(ctx, handle); err != nil {
		return fmt.Errorf("unrepost %s: %w", s.item.Key, err)
	}

	s.mu.Lock()
	s.repostHandle = ""
	s.mu.Unlock()
	return nil
}

func (s *Session) translate(ctx context.Context) error {
	s.mu.Lock()
	translated := s.translated
	blocks := s.cardLocked().TextBlocks()
	s.mu.Unlock()

	if err := s.rt.assert(ctx, !translated, "%s already translated", s.item.Key); err != nil {
		return err
	}
	if err := s.rt.assert(ctx, s.rt.Translator != nil, "%v", domain.ErrTranslatorMissing); err != nil {
		return err
	}

	fields := make([]domain.CardField, 0, len(blocks))
	for _, block := range blocks {
		out, err := s.rt.Translator.Translate(ctx, block)
		if err != nil {
			return fmt.Errorf("translate %s: %w", s.item.Key, err)
		}
		fields = append(fields, domain.CardField{Name: translatedFieldName, Value: out})
	}

	s.mu.Lock()
	s.fields = append(s.fields, fields...)
	s.translated = true
	s.mu.Unlock()
	return nil
}
