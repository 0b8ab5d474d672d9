package application

import (
	"context"
	"fmt"

	"github.com/bnema/skyrelay/internal/commandpath"
	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/ports"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// Runtime carries the collaborators shared by every session and by the
// ingestion loop. It is built once at startup.
type Runtime struct {
	Grammar *commandpath.Grammar
	Actions ports.FeedActions
	Chat    ports.ChatPlatform
	// Translator is optional. A nil Translator hides the translate control.
	Translator ports.Translator
	Reporter   ports.Reporter
	Clock      ports.Clock
	Logger     *zap.Logger
}

func NewRuntime(rt Runtime) *Runtime {
	if rt.Grammar == nil {
		rt.Grammar = commandpath.Default()
	}
	if rt.Clock == nil {
		rt.Clock = clock.RealClock{}
	}
	if rt.Logger == nil {
		rt.Logger = zap.NewNop()
	}
	if rt.Reporter == nil {
		rt.Reporter = logReporter{logger: rt.Logger}
	}

	return &rt
}

func (rt *Runtime) assert(ctx context.Context, cond bool, format string, args ...any) error {
	if cond {
		return nil
	}

	msg := fmt.Sprintf(format, args...)
	err := fmt.Errorf("%w: %s", domain.ErrAssertion, msg)
	rt.Reporter.Report(ctx, err, msg)
	return err
}

type logReporter struct {
	logger *zap.Logger
}

func (r logReporter) Debug(_ context.Context, msg string) {
	r.logger.Info(msg)
}

func (r logReporter) Report(_ context.Context, err error, msg string) {
	r.logger.Error(msg, zap.Error(err))
}
