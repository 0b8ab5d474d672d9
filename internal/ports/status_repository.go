package ports

import (
	"context"

	"github.com/bnema/skyrelay/internal/domain"
)

type StatusRepository interface {
	Load(ctx context.Context) (domain.RelayStatus, error)
	Save(ctx context.Context, status domain.RelayStatus) error
}
