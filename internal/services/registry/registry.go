// Package registry decides, for every login and every heartbeat, whether a
// device may hold one of an account's limited session slots.
//
// There is no idle expiry: a device that stops heartbeating keeps its slot
// until it is evicted through conflict resolution or disconnects itself.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"devicegate/internal/domain/models"
	"devicegate/internal/lib/logger/sl"
	"devicegate/internal/metrics"
	"devicegate/internal/storage"
)

var (
	ErrAccountRequired  = errors.New("account id required")
	ErrDeviceIDRequired = errors.New("device id required")
)

// ConflictError reports that registering a device would exceed the account's
// device cap. It carries the sessions the user may choose to evict.
type ConflictError struct {
	ExistingDevices []models.DeviceSession
	Count           int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("device limit reached: %d active sessions", e.Count)
}

func (e *ConflictError) Unwrap() error { return storage.ErrDeviceLimitReached }

// Decision is the outcome of evaluating a login attempt.
type Decision struct {
	Admit bool
	// ExistingDevices lists the account's other sessions, most recently
	// active first, capped to the device limit. Populated on both outcomes
	// so callers can always render the device list.
	ExistingDevices []models.DeviceSession
	Count           int
}

// Liveness is the heartbeat outcome for a device.
type Liveness int

const (
	// Evicted means the device no longer holds a session and must sign out locally.
	Evicted Liveness = iota
	// Alive means the session exists and its last-active time was refreshed.
	Alive
)

type SessionSaver interface {
	Put(ctx context.Context, accountID, deviceID, deviceName, descriptor string) error
	PutWithinLimit(ctx context.Context, accountID, deviceID, deviceName, descriptor string, maxDevices int) error
	Delete(ctx context.Context, accountID, deviceID string) (removed bool, err error)
	TouchLastActive(ctx context.Context, accountID, deviceID string) error
}

type SessionProvider interface {
	Get(ctx context.Context, accountID, deviceID string) (models.DeviceSession, error)
	ListOthers(ctx context.Context, accountID, excludingDeviceID string, limit int) ([]models.DeviceSession, error)
	List(ctx context.Context, accountID string) ([]models.DeviceSession, error)
	Count(ctx context.Context, accountID string) (int, error)
}

type Registry struct {
	log             *slog.Logger
	sessionSaver    SessionSaver
	sessionProvider SessionProvider
	maxDevices      int
	locks           accountLocks
}

func New(
	log *slog.Logger,
	sessionSaver SessionSaver,
	sessionProvider SessionProvider,
	maxDevices int,
) *Registry {
	return &Registry{
		log:             log,
		sessionSaver:    sessionSaver,
		sessionProvider: sessionProvider,
		maxDevices:      maxDevices,
	}
}

// MaxDevices returns the configured device cap.
func (r *Registry) MaxDevices() int {
	return r.maxDevices
}

// EvaluateLogin reports whether deviceID may become (or remain) one of the
// account's sessions. An account below the cap always admits; at the cap a
// device that is already registered is re-authenticating, not taking a new
// slot, and is admitted too. The decision is advisory: Register re-checks
// the cap atomically, so two racing logins cannot both squeeze in.
func (r *Registry) EvaluateLogin(ctx context.Context, accountID, deviceID string) (Decision, error) {
	const op = "registry.EvaluateLogin"

	log := r.log.With(
		slog.String("op", op),
		slog.String("account_id", accountID),
		slog.String("device_id", deviceID),
	)

	if err := validateIDs(op, accountID, deviceID); err != nil {
		return Decision{}, err
	}

	count, err := r.sessionProvider.Count(ctx, accountID)
	if err != nil {
		log.Error("failed to count sessions", sl.Err(err))
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	others, err := r.sessionProvider.ListOthers(ctx, accountID, deviceID, r.maxDevices)
	if err != nil {
		log.Error("failed to list sessions", sl.Err(err))
		return Decision{}, fmt.Errorf("%s: %w", op, err)
	}

	registered := true
	if _, err := r.sessionProvider.Get(ctx, accountID, deviceID); err != nil {
		if !errors.Is(err, storage.ErrSessionNotFound) {
			log.Error("failed to get session", sl.Err(err))
			return Decision{}, fmt.Errorf("%s: %w", op, err)
		}
		registered = false
	}

	if count < r.maxDevices || registered {
		log.Info("login admitted", slog.Int("count", count), slog.Bool("registered", registered))
		metrics.LoginsEvaluated.WithLabelValues("admit").Inc()
		return Decision{Admit: true, ExistingDevices: others, Count: count}, nil
	}

	log.Info("login conflict", slog.Int("count", count))
	metrics.LoginsEvaluated.WithLabelValues("conflict").Inc()

	return Decision{Admit: false, ExistingDevices: others, Count: count}, nil
}

// Register creates or refreshes the session for (accountID, deviceID). The
// cap is enforced inside a single storage transaction; when the account is
// full and the device is new, a *ConflictError carries the current device
// list so the caller can offer an eviction choice.
func (r *Registry) Register(ctx context.Context, accountID, deviceID, descriptor string) error {
	const op = "registry.Register"

	log := r.log.With(
		slog.String("op", op),
		slog.String("account_id", accountID),
		slog.String("device_id", deviceID),
	)

	if err := validateIDs(op, accountID, deviceID); err != nil {
		return err
	}

	deviceName := models.DeviceNameFromDescriptor(descriptor)

	err := r.sessionSaver.PutWithinLimit(ctx, accountID, deviceID, deviceName, descriptor, r.maxDevices)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceLimitReached) {
			log.Info("registration blocked by device limit")
			metrics.RegistrationsBlocked.Inc()
			return r.conflictError(ctx, op, accountID, deviceID)
		}

		log.Error("failed to save session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("device registered", slog.String("device_name", deviceName))
	metrics.DevicesRegistered.Inc()

	return nil
}

// EvictAndRegister removes evictDeviceID and registers newDeviceID in its
// place. The eviction commits before the registration starts, so the evicted
// device is unauthenticated the moment its row is gone and the account never
// holds more than the cap. Evicting an already-removed device is a no-op.
func (r *Registry) EvictAndRegister(ctx context.Context, accountID, evictDeviceID, newDeviceID, descriptor string) error {
	const op = "registry.EvictAndRegister"

	log := r.log.With(
		slog.String("op", op),
		slog.String("account_id", accountID),
		slog.String("evict_device_id", evictDeviceID),
		slog.String("device_id", newDeviceID),
	)

	if err := validateIDs(op, accountID, newDeviceID); err != nil {
		return err
	}
	if evictDeviceID == "" {
		return fmt.Errorf("%s: %w", op, ErrDeviceIDRequired)
	}

	// Serialize replaces per account so a concurrent replace cannot slip a
	// registration between this delete and insert.
	unlock := r.locks.lock(accountID)
	defer unlock()

	evicted, err := r.sessionSaver.Delete(ctx, accountID, evictDeviceID)
	if err != nil {
		log.Error("failed to evict session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if evicted {
		log.Info("device evicted")
		metrics.DevicesEvicted.WithLabelValues("conflict").Inc()
	} else {
		log.Info("evict target already gone")
	}

	deviceName := models.DeviceNameFromDescriptor(descriptor)

	err = r.sessionSaver.PutWithinLimit(ctx, accountID, newDeviceID, deviceName, descriptor, r.maxDevices)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceLimitReached) {
			log.Warn("slot reclaimed before registration completed")
			metrics.RegistrationsBlocked.Inc()
			return r.conflictError(ctx, op, accountID, newDeviceID)
		}

		log.Error("failed to register replacement device", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("replacement device registered", slog.String("device_name", deviceName))
	metrics.DevicesRegistered.Inc()

	return nil
}

// Disconnect removes the session for a voluntarily signed-out device.
// Removing an absent session succeeds.
func (r *Registry) Disconnect(ctx context.Context, accountID, deviceID string) error {
	const op = "registry.Disconnect"

	log := r.log.With(
		slog.String("op", op),
		slog.String("account_id", accountID),
		slog.String("device_id", deviceID),
	)

	if err := validateIDs(op, accountID, deviceID); err != nil {
		return err
	}

	removed, err := r.sessionSaver.Delete(ctx, accountID, deviceID)
	if err != nil {
		log.Error("failed to delete session", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if removed {
		log.Info("device disconnected")
		metrics.DevicesEvicted.WithLabelValues("self").Inc()
	} else {
		log.Info("device already disconnected")
	}

	return nil
}

// Heartbeat refreshes the device's last-active time. Evicted is returned only
// when the session definitively does not exist; a storage failure propagates
// as an error so a transient outage is never mistaken for an eviction.
func (r *Registry) Heartbeat(ctx context.Context, accountID, deviceID string) (Liveness, error) {
	const op = "registry.Heartbeat"

	if err := validateIDs(op, accountID, deviceID); err != nil {
		return Evicted, err
	}

	err := r.sessionSaver.TouchLastActive(ctx, accountID, deviceID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			r.log.Info("heartbeat from evicted device",
				slog.String("op", op),
				slog.String("account_id", accountID),
				slog.String("device_id", deviceID),
			)
			metrics.Heartbeats.WithLabelValues("evicted").Inc()
			return Evicted, nil
		}

		r.log.Error("heartbeat failed", slog.String("op", op), sl.Err(err))
		return Evicted, fmt.Errorf("%s: %w", op, err)
	}

	metrics.Heartbeats.WithLabelValues("alive").Inc()

	return Alive, nil
}

// IsDeviceActive reports whether (accountID, deviceID) currently holds a session.
func (r *Registry) IsDeviceActive(ctx context.Context, accountID, deviceID string) (bool, error) {
	const op = "registry.IsDeviceActive"

	if err := validateIDs(op, accountID, deviceID); err != nil {
		return false, err
	}

	if _, err := r.sessionProvider.Get(ctx, accountID, deviceID); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

// ListDevices returns all of the account's sessions, most recently active first.
func (r *Registry) ListDevices(ctx context.Context, accountID string) ([]models.DeviceSession, error) {
	const op = "registry.ListDevices"

	if accountID == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrAccountRequired)
	}

	sessions, err := r.sessionProvider.List(ctx, accountID)
	if err != nil {
		r.log.Error("failed to list sessions", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return sessions, nil
}

func (r *Registry) conflictError(ctx context.Context, op, accountID, deviceID string) error {
	others, err := r.sessionProvider.ListOthers(ctx, accountID, deviceID, r.maxDevices)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	count, err := r.sessionProvider.Count(ctx, accountID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w", op, &ConflictError{ExistingDevices: others, Count: count})
}

func validateIDs(op, accountID, deviceID string) error {
	if accountID == "" {
		return fmt.Errorf("%s: %w", op, ErrAccountRequired)
	}
	if deviceID == "" {
		return fmt.Errorf("%s: %w", op, ErrDeviceIDRequired)
	}
	return nil
}
