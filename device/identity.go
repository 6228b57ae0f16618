// Package device manages the client-generated stable device identity.
package device

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/appfold/sessionbridge/domain"
	"github.com/appfold/sessionbridge/errors"
	"github.com/appfold/sessionbridge/log"
	"github.com/appfold/sessionbridge/platform"
	"github.com/appfold/sessionbridge/store"
)

// Identity owns the persisted device identifier. The identifier is created
// lazily on first need and reused for the lifetime of the install; a storage
// failure is never fatal, it falls back to an ephemeral identifier instead.
type Identity struct {
	store  store.CredentialStore
	info   platform.Info
	logger log.Logger

	mu     sync.Mutex
	cached *domain.DeviceIdentity
}

// NewIdentity creates a device identity manager.
func NewIdentity(credStore store.CredentialStore, info platform.Info, logger log.Logger) *Identity {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Identity{store: credStore, info: info, logger: logger}
}

// Get returns the device identity, creating and persisting a new one on
// first use. On storage failure it substitutes an ephemeral fallback
// identity and logs the failure.
func (i *Identity) Get(ctx context.Context) domain.DeviceIdentity {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != nil {
		return *i.cached
	}

	id, err := i.store.Get(ctx, store.KeyDeviceID)
	if err == nil && id != "" {
		i.cached = &domain.DeviceIdentity{ID: id, Platform: i.info.Name, OSVersion: i.info.OSVersion}
		return *i.cached
	}
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		i.logger.Warn(ctx, "device id read failed, using ephemeral identity",
			map[string]interface{}{"error": err.Error()})
		return i.fallback()
	}

	id = uuid.NewString()
	if err := i.store.Set(ctx, store.KeyDeviceID, id); err != nil {
		i.logger.Warn(ctx, "device id persist failed, using ephemeral identity",
			map[string]interface{}{"error": err.Error()})
		return i.fallback()
	}

	i.logger.Info(ctx, "device identity created", map[string]interface{}{"device_id": id})
	i.cached = &domain.DeviceIdentity{ID: id, Platform: i.info.Name, OSVersion: i.info.OSVersion}
	return *i.cached
}

// fallback returns an unpersisted identity. Cached for the process lifetime
// so repeated calls stay stable within one run.
func (i *Identity) fallback() domain.DeviceIdentity {
	ident := &domain.DeviceIdentity{
		ID:        "fallback-" + uuid.NewString(),
		Platform:  i.info.Name,
		OSVersion: i.info.OSVersion,
		Ephemeral: true,
	}
	i.cached = ident
	return *ident
}

// Reset deletes the persisted identifier (factory reset). The next Get
// creates a fresh identity.
func (i *Identity) Reset(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.cached = nil
	return i.store.Delete(ctx, store.KeyDeviceID)
}
