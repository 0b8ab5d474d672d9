package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bnema/skyrelay/internal/adapters/chat/telegram"
	"github.com/bnema/skyrelay/internal/adapters/feed/bluesky"
	statusadapter "github.com/bnema/skyrelay/internal/adapters/render/status"
	tomlrepo "github.com/bnema/skyrelay/internal/adapters/repo/toml"
	chainstore "github.com/bnema/skyrelay/internal/adapters/secrets/chain"
	"github.com/bnema/skyrelay/internal/adapters/translate/deepl"
	"github.com/bnema/skyrelay/internal/config"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/logging"
	"github.com/bnema/skyrelay/internal/ports"
	"go.uber.org/zap"
)

type app struct {
	cfg            config.Config
	status         *tomlrepo.StatusRepository
	secretStore    ports.SecretStore
	statusRenderer func(domain.RelayStatus, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	now            func() time.Time
	verbose        bool
}

func wireApp() (*app, error) {
	v, err := config.NewViper()
	if err != nil {
		return nil, fmt.Errorf("wire configuration: %w", err)
	}
	if err := config.ReadInConfig(v); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	repo, err := tomlrepo.NewStatusRepository(v)
	if err != nil {
		return nil, fmt.Errorf("wire status repository: %w", err)
	}

	secretStore, err := chainstore.NewPassFirstWithFileFallback(cfg.Secrets.Dir)
	if err != nil {
		return nil, fmt.Errorf("wire secret store chain: %w", err)
	}

	return &app{
		cfg:            cfg,
		status:         repo,
		secretStore:    secretStore,
		statusRenderer: statusadapter.Render,
		httpClient:     &http.Client{Timeout: 90 * time.Second},
		now:            time.Now,
	}, nil
}

func (a *app) newLogger() (*zap.Logger, error) {
	return logging.New(logging.Options{
		Level:   a.cfg.Logging.Level,
		Format:  a.cfg.Logging.Format,
		Verbose: a.verbose,
	})
}

func (a *app) resolve(ctx context.Context, name, value string) (string, error) {
	resolved, err := chainstore.Resolve(ctx, a.secretStore, value)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", name, err)
	}
	return resolved, nil
}

func (a *app) newTelegram(ctx context.Context, logger *zap.Logger) (*telegram.Client, error) {
	token, err := a.resolve(ctx, "telegram.token", a.cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}

	tg := a.cfg.Telegram
	return telegram.New(telegram.Options{
		APIURL:      tg.APIURL,
		Token:       token,
		ChatID:      tg.ChatID,
		DebugChatID: tg.DebugChatID,
		PollTimeout: tg.PollTimeout,
		SendRate:    tg.SendRate,
		SendBurst:   tg.SendBurst,
		SendRetry:   tg.SendRetry,
		HTTPClient:  a.httpClient,
		Logger:      logger,
	})
}

func (a *app) newBluesky(ctx context.Context, logger *zap.Logger) (*bluesky.Client, error) {
	password, err := a.resolve(ctx, "bluesky.password", a.cfg.Bluesky.Password)
	if err != nil {
		return nil, err
	}

	return bluesky.New(bluesky.Options{
		Server:     a.cfg.Bluesky.Server,
		Identifier: a.cfg.Bluesky.Identifier,
		Password:   password,
		Store:      a.secretStore,
		HTTPClient: a.httpClient,
		Logger:     logger,
	}), nil
}

// newTranslator returns nil when no DeepL key is configured.
func (a *app) newTranslator(ctx context.Context, logger *zap.Logger) (ports.Translator, error) {
	if !a.cfg.TranslationEnabled() {
		return nil, nil
	}

	key, err := a.resolve(ctx, "deepl.api_key", a.cfg.DeepL.APIKey)
	if err != nil {
		return nil, err
	}

	translator, err := deepl.New(deepl.Options{
		APIKey:     key,
		APIURL:     a.cfg.DeepL.APIURL,
		TargetLang: a.cfg.DeepL.TargetLang,
		Retry:      a.cfg.DeepL.Retry,
		HTTPClient: a.httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return translator, nil
}
