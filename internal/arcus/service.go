package arcus

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenlabs/arcus-adapter/internal/metrics"
)

// DeviceStore persists device snapshots, property writes, and the lock audit
// trail. All writes are best-effort from the service's perspective: a store
// failure is logged, never surfaced to the API caller.
type DeviceStore interface {
	SaveDeviceSnapshot(ctx context.Context, d Device) error
	RecordPropertySet(ctx context.Context, mac, pid, value string) error
	RecordLockAction(ctx context.Context, uuid, action string, success bool) error
}

// EventPublisher emits canonical device/lock events.
type EventPublisher interface {
	PublishPropertySet(ctx context.Context, mac, pid, value string) error
	PublishLockAction(ctx context.Context, uuid, action string, success bool) error
}

// Service orchestrates the Arcus client with persistence and event
// publishing. store and pub may be nil (degraded mode: the adapter still
// serves requests, it just stops recording and emitting).
type Service struct {
	logger *zap.Logger
	client *Client
	store  DeviceStore
	pub    EventPublisher
}

// NewService constructs the orchestration layer.
func NewService(logger *zap.Logger, client *Client, store DeviceStore, pub EventPublisher) *Service {
	return &Service{
		logger: logger,
		client: client,
		store:  store,
		pub:    pub,
	}
}

// ListDevices returns the account's devices and snapshots them to the store.
func (s *Service) ListDevices(ctx context.Context) ([]Device, error) {
	start := time.Now()
	devices, err := s.client.ListDevices(ctx)
	s.observe("list_devices", start, err)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		for _, d := range devices {
			if err := s.store.SaveDeviceSnapshot(ctx, d); err != nil {
				s.logger.Warn("arcus.snapshot_failed", zap.String("mac", d.MAC), zap.Error(err))
			}
		}
	}
	return devices, nil
}

// GetDevice finds a device by MAC.
func (s *Service) GetDevice(ctx context.Context, mac string) (*Device, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if strings.EqualFold(devices[i].MAC, mac) {
			return &devices[i], nil
		}
	}
	return nil, notFoundErr("no device with mac " + mac)
}

// FindDeviceByName finds a device by its user-assigned nickname,
// case-insensitively.
func (s *Service) FindDeviceByName(ctx context.Context, name string) (*Device, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if strings.EqualFold(devices[i].Nickname, name) {
			return &devices[i], nil
		}
	}
	return nil, notFoundErr("no device named " + name)
}

// GetDeviceProperties returns the property list for a device, resolving its
// model from the catalog first.
func (s *Service) GetDeviceProperties(ctx context.Context, mac string) ([]Property, error) {
	device, err := s.GetDevice(ctx, mac)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	props, err := s.client.GetPropertyList(ctx, device.MAC, device.ProductModel)
	s.observe("get_property_list", start, err)
	return props, err
}

// SetDeviceProperty writes one property. Brightness and color-temperature
// values are normalized (rounded and silently clamped) before transmission;
// everything else passes through as-is.
func (s *Service) SetDeviceProperty(ctx context.Context, mac, pid, value string) error {
	device, err := s.GetDevice(ctx, mac)
	if err != nil {
		return err
	}

	wire := normalizeValue(pid, value)
	start := time.Now()
	err = s.client.SetProperty(ctx, device.MAC, device.ProductModel, pid, wire)
	s.observe("set_property", start, err)
	if err != nil {
		return err
	}

	if s.store != nil {
		if serr := s.store.RecordPropertySet(ctx, device.MAC, pid, wire); serr != nil {
			s.logger.Warn("arcus.record_property_failed", zap.String("mac", device.MAC), zap.Error(serr))
		}
	}
	if s.pub != nil {
		if perr := s.pub.PublishPropertySet(ctx, device.MAC, pid, wire); perr != nil {
			s.logger.Warn("arcus.publish_property_failed", zap.String("mac", device.MAC), zap.Error(perr))
		}
	}
	return nil
}

// RunAction triggers a provider-defined action on a device.
func (s *Service) RunAction(ctx context.Context, mac, actionKey string) error {
	device, err := s.GetDevice(ctx, mac)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.client.RunAction(ctx, device.MAC, device.ProductModel, actionKey)
	s.observe("run_action", start, err)
	return err
}

// ControlLock locks or unlocks a lock, recording the attempt in the audit
// trail either way.
func (s *Service) ControlLock(ctx context.Context, uuid, action string, withKeypad bool) error {
	if action != LockActionLock && action != LockActionUnlock {
		return apiLogicalErr("", "unknown lock action "+action)
	}

	start := time.Now()
	err := s.client.ControlLock(ctx, uuid, action, withKeypad)
	s.observe("lock_control", start, err)

	success := err == nil
	if s.store != nil {
		if serr := s.store.RecordLockAction(ctx, uuid, action, success); serr != nil {
			s.logger.Warn("arcus.record_lock_action_failed", zap.String("uuid", uuid), zap.Error(serr))
		}
	}
	if s.pub != nil {
		if perr := s.pub.PublishLockAction(ctx, uuid, action, success); perr != nil {
			s.logger.Warn("arcus.publish_lock_action_failed", zap.String("uuid", uuid), zap.Error(perr))
		}
	}
	return err
}

// GetLockInfo fetches current lock state.
func (s *Service) GetLockInfo(ctx context.Context, uuid string) (*LockInfo, error) {
	start := time.Now()
	info, err := s.client.GetLockInfo(ctx, uuid)
	s.observe("lock_info", start, err)
	return info, err
}

func (s *Service) observe(operation string, start time.Time, err error) {
	metrics.ObserveDuration(operation, start)
	outcome := "ok"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			outcome = kind.String()
		} else {
			outcome = "error"
		}
	}
	metrics.IncArcusRequest(operation, outcome)
}

// normalizeValue applies the silent numeric clamps for the well-known
// properties. Unparseable numeric input falls through unchanged; the cloud
// rejects it with a logical error which the caller sees classified.
func normalizeValue(pid, value string) string {
	switch pid {
	case PropBrightness:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return ClampBrightness(f)
		}
	case PropColorTemp:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return ClampColorTemp(f)
		}
	}
	return value
}
