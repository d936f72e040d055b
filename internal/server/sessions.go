package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/travelmaps/internal/places"
	"go.uber.org/zap"
)

var errMissingSnapshotStore = errors.New("snapshot store dependency required")

// SessionManagerConfig describes how stores are built for signed-in users.
type SessionManagerConfig struct {
	Snapshots            places.SnapshotStore
	Codec                places.ArchiveCodec
	Palette              places.Palette
	RestrictedCategories []string
	SaveDelay            time.Duration
	// ShareFeed returns the feed of places shared with the token's owner. Nil
	// disables shared items.
	ShareFeed  func(token string) places.ShareFeed
	Dispatcher *RealtimeDispatcher
	Observer   places.Observer
	IDProvider places.IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// SessionManager keeps the place store of the active user. Signing in as a
// different user flushes and discards the previous store. Access to the store
// is serialized through WithStore.
type SessionManager struct {
	cfg    SessionManagerConfig
	logger *zap.Logger

	mu      sync.Mutex
	userKey places.UserKey
	store   *places.Store
}

func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if cfg.Snapshots == nil {
		return nil, errMissingSnapshotStore
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{cfg: cfg, logger: logger}, nil
}

// WithStore runs fn against the store of userKey, activating it first when the
// user is not the active one.
func (m *SessionManager) WithStore(ctx context.Context, userKey places.UserKey, token string, fn func(*places.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	store, err := m.acquireLocked(ctx, userKey, token)
	if err != nil {
		return err
	}
	return fn(store)
}

func (m *SessionManager) acquireLocked(ctx context.Context, userKey places.UserKey, token string) (*places.Store, error) {
	if m.store != nil && m.userKey == userKey {
		return m.store, nil
	}
	if m.store != nil {
		if err := m.store.Deactivate(ctx); err != nil {
			m.logger.Warn("previous session flush failed",
				zap.String("user_key", m.userKey.String()),
				zap.Error(err))
		}
		m.store = nil
		m.userKey = ""
	}

	storeConfig := places.StoreConfig{
		Snapshots:            m.cfg.Snapshots,
		Codec:                m.cfg.Codec,
		Confirmer:            places.ConfirmerFunc(confirmFromContext),
		Palette:              m.cfg.Palette,
		RestrictedCategories: m.cfg.RestrictedCategories,
		SaveDelay:            m.cfg.SaveDelay,
		Clock:                m.cfg.Clock,
		IDProvider:           m.cfg.IDProvider,
		Logger:               m.logger,
		Observer:             m.cfg.Observer,
	}
	if m.cfg.ShareFeed != nil && token != "" {
		storeConfig.Shares = m.cfg.ShareFeed(token)
	}
	if m.cfg.Dispatcher != nil {
		storeConfig.OnChange = m.cfg.Dispatcher.PublishChange
	}

	store, err := places.NewStore(storeConfig)
	if err != nil {
		return nil, err
	}
	if err := store.Activate(ctx, userKey); err != nil {
		return nil, err
	}
	m.store = store
	m.userKey = userKey
	return store, nil
}

// Logout flushes and discards the store when userKey is the active user.
func (m *SessionManager) Logout(ctx context.Context, userKey places.UserKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil || m.userKey != userKey {
		return nil
	}
	return m.releaseLocked(ctx)
}

// Close flushes and discards the active store.
func (m *SessionManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	return m.releaseLocked(ctx)
}

func (m *SessionManager) releaseLocked(ctx context.Context) error {
	err := m.store.Deactivate(ctx)
	m.store = nil
	m.userKey = ""
	return err
}

// ActiveUser returns the key of the user whose store is loaded.
func (m *SessionManager) ActiveUser() (places.UserKey, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userKey, m.store != nil
}

type confirmationContextKey struct{}

// confirmationState carries the caller's consent for destructive operations
// and records what the store asked for.
type confirmationState struct {
	approved bool
	asked    *places.Confirmation
}

func withConfirmation(ctx context.Context, approved bool) (context.Context, *confirmationState) {
	state := &confirmationState{approved: approved}
	return context.WithValue(ctx, confirmationContextKey{}, state), state
}

func confirmFromContext(ctx context.Context, confirmation places.Confirmation) (bool, error) {
	state, ok := ctx.Value(confirmationContextKey{}).(*confirmationState)
	if !ok {
		return false, nil
	}
	asked := confirmation
	state.asked = &asked
	return state.approved, nil
}
