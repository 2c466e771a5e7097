package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/COMRADE-APP/authcore/internal"
)

// evaluateDevice scores the client device attached to the request
// context and records the sighting. Scores accumulate per signal and
// cap at 100; crossing the suspicion threshold marks the device
// rather than blocking the flow, so callers can step up verification.
func (e *Engine) evaluateDevice(ctx context.Context, userID string) (*Device, error) {
	clientID := clientDeviceFromContext(ctx)
	if clientID == "" {
		return nil, nil
	}

	ip := clientIPFromContext(ctx)
	fingerprint := internal.Fingerprint(clientID, userAgentFromContext(ctx))
	now := time.Now().UTC()
	cfg := e.config.DeviceTrust

	device, err := e.devices.Get(ctx, userID, clientID)
	isNew := errors.Is(err, ErrDeviceNotFound)
	if err != nil && !isNew {
		return nil, err
	}

	score := 0
	if isNew {
		score += cfg.NewDeviceScore
		device = &Device{
			DeviceID:    clientID,
			UserID:      userID,
			Fingerprint: fingerprint,
			TrustLevel:  TrustPending,
			FirstSeen:   now,
		}
		e.metricInc(MetricDeviceNew)
	} else if device.LastIP != "" && ip != "" &&
		internal.IPNetworkClass(device.LastIP) != internal.IPNetworkClass(ip) {
		score += cfg.FarIPScore
	}

	streak, err := e.devices.FailureStreak(ctx, fingerprint)
	if err == nil && streak >= int64(cfg.FailedStreakMin) {
		score += cfg.FailedStreakScore
	}

	if score > 100 {
		score = 100
	}
	device.RiskScore = score
	device.LastSeen = now
	if ip != "" {
		device.LastIP = ip
	}
	device.Active = true

	// Trust never escalates from scoring alone. Suspicion does.
	if score >= cfg.SuspicionThreshold {
		device.TrustLevel = TrustSuspicious
		e.metricInc(MetricDeviceSuspicious)
		e.emitAudit(ctx, auditEventDeviceSuspicious, false, userID, "", nil, func() map[string]string {
			return map[string]string{"device_id": clientID}
		})
	} else if device.TrustLevel == TrustSuspicious {
		device.TrustLevel = TrustPending
	}

	if isNew {
		e.pruneDevices(ctx, userID, clientID, now)
	}

	if err := e.devices.Save(ctx, device); err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventDeviceSeen, true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_id": clientID, "trust": string(device.TrustLevel)}
	})
	return device, nil
}

// pruneDevices drops records past the inactivity horizon and, when the
// per-user cap is still exceeded, evicts the least recently seen
// non-trusted devices to make room for the incoming one.
func (e *Engine) pruneDevices(ctx context.Context, userID, incomingID string, now time.Time) {
	cfg := e.config.DeviceTrust

	devices, err := e.devices.List(ctx, userID)
	if err != nil {
		return
	}

	kept := devices[:0]
	for _, d := range devices {
		if d.DeviceID == incomingID {
			continue
		}
		if cfg.InactiveExpiry > 0 && now.Sub(d.LastSeen) > cfg.InactiveExpiry {
			e.devices.Delete(ctx, userID, d.DeviceID)
			continue
		}
		kept = append(kept, d)
	}

	if cfg.MaxDevicesPerUser <= 0 {
		return
	}
	for len(kept) >= cfg.MaxDevicesPerUser {
		oldest := -1
		for i, d := range kept {
			if d.TrustLevel == TrustTrusted {
				continue
			}
			if oldest < 0 || d.LastSeen.Before(kept[oldest].LastSeen) {
				oldest = i
			}
		}
		if oldest < 0 {
			return
		}
		e.devices.Delete(ctx, userID, kept[oldest].DeviceID)
		kept = append(kept[:oldest], kept[oldest+1:]...)
	}
}

// recordDeviceAuthFailure bumps the failed-auth streak tied to the
// requesting device's fingerprint.
func (e *Engine) recordDeviceAuthFailure(ctx context.Context) {
	clientID := clientDeviceFromContext(ctx)
	if clientID == "" {
		return
	}
	fingerprint := internal.Fingerprint(clientID, userAgentFromContext(ctx))
	e.devices.RecordAuthFailure(ctx, fingerprint, e.config.DeviceTrust.FailedStreakWindow)
}

func (e *Engine) clearDeviceAuthFailures(ctx context.Context) {
	clientID := clientDeviceFromContext(ctx)
	if clientID == "" {
		return
	}
	e.devices.ClearFailureStreak(ctx, internal.Fingerprint(clientID, userAgentFromContext(ctx)))
}

// ListDevices returns every recorded device for a user, most recently
// seen first is not guaranteed; callers sort for display.
func (e *Engine) ListDevices(ctx context.Context, userID string) ([]*Device, error) {
	return e.devices.List(ctx, userID)
}

// TrustDevice marks a device trusted. Trust is only ever granted by
// this explicit call, never by scoring.
func (e *Engine) TrustDevice(ctx context.Context, userID, deviceID string) error {
	device, err := e.devices.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	device.TrustLevel = TrustTrusted
	device.RiskScore = 0
	if err := e.devices.Save(ctx, device); err != nil {
		return err
	}

	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}

// RevokeDevice demotes a device to untrusted, deactivates it, and
// invalidates every session bound to it.
func (e *Engine) RevokeDevice(ctx context.Context, userID, deviceID string) error {
	device, err := e.devices.Get(ctx, userID, deviceID)
	if err != nil {
		return err
	}

	device.TrustLevel = TrustUntrusted
	device.Active = false
	if err := e.devices.Save(ctx, device); err != nil {
		return err
	}

	if err := e.revokeDeviceSessions(ctx, userID, deviceID); err != nil {
		return err
	}

	e.metricInc(MetricDeviceRevoked)
	e.emitAudit(ctx, auditEventDeviceRevoked, true, userID, "", nil, func() map[string]string {
		return map[string]string{"device_id": deviceID}
	})
	return nil
}
