package authcore

import (
	"context"
	"errors"
	"strings"

	"github.com/COMRADE-APP/authcore/internal"
)

// Backup codes are canonicalized before hashing so users can submit
// them with any casing or stray whitespace.

func canonicalBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func backupCodeHash(userID, code string) [32]byte {
	return internal.HashKeyed("backup:"+userID, canonicalBackupCode(code))
}

// mintBackupCodes generates a batch, persists only the hashes, and
// returns the plaintexts for one-time display.
func (e *Engine) mintBackupCodes(ctx context.Context, userID string) ([]string, error) {
	cfg := e.config.BackupCodes

	plaintexts := make([]string, 0, cfg.Count)
	records := make([]BackupCodeRecord, 0, cfg.Count)
	for i := 0; i < cfg.Count; i++ {
		code, err := internal.NewBackupCode(cfg.Length)
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, BackupCodeRecord{Hash: backupCodeHash(userID, code)})
	}

	if err := e.directory.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, nil)
	return plaintexts, nil
}

// RegenerateBackupCodes replaces the whole batch after re-proving the
// password. Unused codes from the old batch stop working immediately.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, pass string) ([]string, error) {
	identity, err := e.directory.GetIdentityByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !identity.TOTPEnabled {
		return nil, ErrBackupCodesNotConfigured
	}

	ok, err := e.hasher.Verify(pass, identity.PasswordHash)
	if err != nil || !ok {
		return nil, ErrInvalidCredentials
	}

	return e.mintBackupCodes(ctx, userID)
}

// consumeBackupCode burns one code. The directory's compare-and-set
// guarantees a code spent by a concurrent request cannot be spent
// again here; a resubmission of a spent code surfaces as
// [ErrBackupCodeUsed].
func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) error {
	consumed, err := e.directory.ConsumeBackupCode(ctx, userID, backupCodeHash(userID, code))
	if err != nil {
		switch {
		case errors.Is(err, ErrBackupCodeUsed):
			e.metricInc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", ErrBackupCodeUsed, nil)
			return ErrBackupCodeUsed
		case errors.Is(err, ErrBackupCodesNotConfigured):
			e.metricInc(MetricBackupCodeFailed)
			return ErrBackupCodesNotConfigured
		}
		return err
	}
	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, "", ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, "", nil, func() map[string]string {
		return map[string]string{"remaining": remainingLabel(ctx, e, userID)}
	})
	return nil
}

// RemainingBackupCodes reports how many codes are still unspent.
func (e *Engine) RemainingBackupCodes(ctx context.Context, userID string) (int, error) {
	return e.directory.CountUnusedBackupCodes(ctx, userID)
}

func remainingLabel(ctx context.Context, e *Engine, userID string) string {
	count, err := e.directory.CountUnusedBackupCodes(ctx, userID)
	if err != nil {
		return "unknown"
	}
	switch {
	case count == 0:
		return "none"
	case count <= 2:
		return "low"
	default:
		return "ok"
	}
}
