// Package backup snapshots the admin-domain keys of a store into a bounded
// history and restores them on demand.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/store"
)

const (
	// DefaultPrefix marks the keys that belong to the admin domain.
	DefaultPrefix = "dnyf_"
	// HistoryKey holds the backup history itself and is never backed up.
	HistoryKey = DefaultPrefix + "backup_history"
	// DefaultKeep is how many backups the history retains.
	DefaultKeep = 10
)

var (
	// ErrNotFound is returned when no backup has the requested ID.
	ErrNotFound = errors.New("backup not found")
	// ErrNothingToBackUp is returned by Create when the store holds no admin keys.
	ErrNothingToBackUp = errors.New("no admin data to back up")
)

// Manager creates, lists and restores backups.
type Manager struct {
	store  store.Store
	prefix string
	keep   int
	clock  clockwork.Clock
	logger logrus.FieldLogger
}

// Option configures a Manager.
type Option func(*Manager)

func WithKeep(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.keep = n
		}
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(st store.Store, logger logrus.FieldLogger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		prefix: DefaultPrefix,
		keep:   DefaultKeep,
		clock:  clockwork.NewRealClock(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create copies every admin-domain key into a new backup and appends it to
// the history, dropping the oldest entries beyond the retention limit.
// An empty admin domain yields ErrNothingToBackUp and leaves the history alone.
func (m *Manager) Create(ctx context.Context) (domain.Backup, error) {
	keys, err := m.store.Keys(ctx, m.prefix)
	if err != nil {
		return domain.Backup{}, fmt.Errorf("failed to list keys: %w", err)
	}
	b := domain.Backup{
		ID:        uuid.NewString(),
		Timestamp: m.clock.Now().UTC(),
		Data:      make(map[string]json.RawMessage, len(keys)),
	}
	for _, k := range keys {
		if k == HistoryKey {
			continue
		}
		v, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return domain.Backup{}, fmt.Errorf("failed to read %s: %w", k, err)
		}
		if !ok {
			continue
		}
		b.Data[k] = json.RawMessage(v)
		b.Size += len(v)
	}
	if len(b.Data) == 0 {
		return domain.Backup{}, ErrNothingToBackUp
	}

	history, err := m.List(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	history = append(history, b)
	if len(history) > m.keep {
		history = history[len(history)-m.keep:]
	}
	if err := m.saveHistory(ctx, history); err != nil {
		return domain.Backup{}, err
	}

	m.logger.WithFields(logrus.Fields{
		"id":   b.ID,
		"keys": len(b.Data),
		"size": b.Size,
	}).Info("Backup created")
	return b, nil
}

// List returns the history, oldest first.
func (m *Manager) List(ctx context.Context) ([]domain.Backup, error) {
	raw, ok, err := m.store.Get(ctx, HistoryKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup history: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var history []domain.Backup
	if err := json.Unmarshal(raw, &history); err != nil {
		return nil, domain.Malformed("backup history: %v", err)
	}
	return history, nil
}

// Get returns the backup with the given ID. A unique ID prefix is accepted.
func (m *Manager) Get(ctx context.Context, id string) (domain.Backup, error) {
	history, err := m.List(ctx)
	if err != nil {
		return domain.Backup{}, err
	}
	var found []domain.Backup
	for _, b := range history {
		if b.ID == id {
			return b, nil
		}
		if id != "" && strings.HasPrefix(b.ID, id) {
			found = append(found, b)
		}
	}
	if len(found) == 1 {
		return found[0], nil
	}
	if len(found) > 1 {
		return domain.Backup{}, fmt.Errorf("backup id %q is ambiguous", id)
	}
	return domain.Backup{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Restore writes the data of the backup with the given ID back to the store.
func (m *Manager) Restore(ctx context.Context, id string) (domain.Backup, error) {
	b, err := m.Get(ctx, id)
	if err != nil {
		return domain.Backup{}, err
	}
	return b, m.Apply(ctx, b)
}

// Apply writes the data of b back to the store. Keys outside the admin domain
// and null values are skipped.
func (m *Manager) Apply(ctx context.Context, b domain.Backup) error {
	if b.Timestamp.IsZero() || b.Data == nil {
		return domain.Malformed("backup has no timestamp or data")
	}
	restored := 0
	for k, v := range b.Data {
		if !strings.HasPrefix(k, m.prefix) || k == HistoryKey {
			m.logger.WithField("key", k).Warn("Skipping key outside the admin domain")
			continue
		}
		if len(v) == 0 || string(v) == "null" {
			continue
		}
		if err := m.store.Set(ctx, k, v); err != nil {
			return fmt.Errorf("failed to restore %s: %w", k, err)
		}
		restored++
	}
	m.logger.WithFields(logrus.Fields{"id": b.ID, "keys": restored}).Info("Backup restored")
	return nil
}

// Export writes b as indented JSON.
func Export(w io.Writer, b domain.Backup) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Import reads a backup written by Export.
func Import(r io.Reader) (domain.Backup, error) {
	var b domain.Backup
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return domain.Backup{}, domain.Malformed("backup file: %v", err)
	}
	return b, nil
}

func (m *Manager) saveHistory(ctx context.Context, history []domain.Backup) error {
	raw, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to encode backup history: %w", err)
	}
	if err := m.store.Set(ctx, HistoryKey, raw); err != nil {
		return fmt.Errorf("failed to save backup history: %w", err)
	}
	return nil
}
