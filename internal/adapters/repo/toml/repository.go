package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	statusPathKey   = "status.path"
	statusFileMode  = 0o600
	statusDirMode   = 0o700
	statusConfigDir = ".config/skyrelay"
	statusFileName  = "status.toml"
	tempFilePattern = ".status-*.toml.tmp"
)

// StatusRepository stores the latest relay snapshot in a TOML file so that
// `skyrelay status` can read it from another process.
type StatusRepository struct {
	path string
	mu   *sync.RWMutex
}

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

var _ ports.StatusRepository = (*StatusRepository)(nil)

func NewStatusRepository(cfg *viper.Viper) (*StatusRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path := cfg.GetString(statusPathKey)
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(homeDir, statusConfigDir, statusFileName)
	}

	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &StatusRepository{path: path, mu: lockForPath(path)}, nil
}

func (r *StatusRepository) Path() string {
	return r.path
}

func (r *StatusRepository) Load(ctx context.Context) (domain.RelayStatus, error) {
	if err := ctx.Err(); err != nil {
		return domain.RelayStatus{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.RelayStatus{}, domain.ErrStatusNotFound
		}
		return domain.RelayStatus{}, fmt.Errorf("read status file: %w", err)
	}

	var file statusFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return domain.RelayStatus{}, fmt.Errorf("decode status file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return domain.RelayStatus{}, err
	}

	return fromSchema(file), nil
}

func (r *StatusRepository) Save(ctx context.Context, status domain.RelayStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file := toSchema(status)
	file.applyDefaults()

	return writeTOMLFile(r.path, file)
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve status path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func writeTOMLFile(path string, file any) error {
	if err := os.MkdirAll(filepath.Dir(path), statusDirMode); err != nil {
		return fmt.Errorf("create status directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode status file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp status file: %w", err)
	}

	if err := tempFile.Chmod(statusFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp status file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp status file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace status file: %w", err)
	}

	cleanup = false
	return nil
}

func toSchema(status domain.RelayStatus) statusFileSchema {
	sessions := make([]sessionSchema, 0, len(status.LiveSessions))
	for _, s := range status.LiveSessions {
		sessions = append(sessions, sessionSchema{
			Key:        string(s.Key),
			Ref:        string(s.Ref),
			Liked:      s.Liked,
			Reposted:   s.Reposted,
			Translated: s.Translated,
			Deadline:   formatTime(s.Deadline),
		})
	}

	return statusFileSchema{
		Relay: relaySchema{
			Running:     status.Running,
			Watermark:   formatTime(status.Watermark),
			ErrorCount:  status.ErrorCount,
			MaxErrors:   status.MaxErrors,
			LastCycleAt: formatTime(status.LastCycleAt),
			LastError:   status.LastError,
			Dispatched:  status.Dispatched,
			UpdatedAt:   formatTime(status.UpdatedAt),
		},
		Sessions: sessions,
	}
}

func fromSchema(file statusFileSchema) domain.RelayStatus {
	var sessions []domain.SessionState
	for _, s := range file.Sessions {
		sessions = append(sessions, domain.SessionState{
			Key:        domain.ItemKey(s.Key),
			Ref:        domain.MessageRef(s.Ref),
			Liked:      s.Liked,
			Reposted:   s.Reposted,
			Translated: s.Translated,
			Alive:      true,
			Deadline:   parseTime(s.Deadline),
		})
	}

	return domain.RelayStatus{
		Running:      file.Relay.Running,
		Watermark:    parseTime(file.Relay.Watermark),
		ErrorCount:   file.Relay.ErrorCount,
		MaxErrors:    file.Relay.MaxErrors,
		LastCycleAt:  parseTime(file.Relay.LastCycleAt),
		LastError:    file.Relay.LastError,
		Dispatched:   file.Relay.Dispatched,
		LiveSessions: sessions,
		UpdatedAt:    parseTime(file.Relay.UpdatedAt),
	}
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
