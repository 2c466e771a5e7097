// Package directory provides a Redis-backed implementation of the
// engine's UserDirectory. Deployments with an existing user database
// implement the interface against that instead; this one suits
// services that already treat Redis as their system of record.
package directory

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/COMRADE-APP/authcore"
)

const (
	fieldEmail   = "email"
	fieldPhone   = "phone"
	fieldHash    = "pass"
	fieldChannel = "channel"
	fieldTOTP    = "totp"
	fieldStatus  = "status"

	fieldSecret      = "secret"
	fieldEnabled     = "enabled"
	fieldConfirmedAt = "confirmed_at"
	fieldLastCounter = "last_counter"
)

// Redis stores identities as hashes with a unique email index.
// Backup codes live in a set of unspent hex digests plus a hash of
// spent digests with their consumption times; moving a digest between
// the two runs under WATCH, so concurrent submissions of the same
// code race for one consumption and the losers see it as spent.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a directory on the given client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: "usr"}
}

// casRetries bounds WATCH transaction restarts on contended keys.
const casRetries = 5

func (d *Redis) userKey(userID string) string       { return d.prefix + ":" + userID }
func (d *Redis) emailKey(email string) string       { return d.prefix + ":email:" + email }
func (d *Redis) totpKey(userID string) string       { return d.prefix + ":totp:" + userID }
func (d *Redis) backupKey(userID string) string     { return d.prefix + ":bc:" + userID }
func (d *Redis) backupUsedKey(userID string) string { return d.prefix + ":bcused:" + userID }

func (d *Redis) GetIdentityByEmail(ctx context.Context, email string) (authcore.Identity, error) {
	userID, err := d.client.Get(ctx, d.emailKey(email)).Result()
	if err == redis.Nil {
		return authcore.Identity{}, authcore.ErrUserNotFound
	}
	if err != nil {
		return authcore.Identity{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return d.GetIdentityByID(ctx, userID)
}

func (d *Redis) GetIdentityByID(ctx context.Context, userID string) (authcore.Identity, error) {
	fields, err := d.client.HGetAll(ctx, d.userKey(userID)).Result()
	if err != nil {
		return authcore.Identity{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return authcore.Identity{}, authcore.ErrUserNotFound
	}

	status, _ := strconv.Atoi(fields[fieldStatus])
	return authcore.Identity{
		UserID:           userID,
		Email:            fields[fieldEmail],
		Phone:            fields[fieldPhone],
		PasswordHash:     fields[fieldHash],
		PreferredChannel: authcore.Channel(fields[fieldChannel]),
		TOTPEnabled:      fields[fieldTOTP] == "1",
		Status:           authcore.AccountStatus(status),
	}, nil
}

func (d *Redis) CreateIdentity(ctx context.Context, input authcore.CreateIdentityInput) (authcore.Identity, error) {
	userID := uuid.NewString()

	// The email index claim doubles as the uniqueness check.
	claimed, err := d.client.SetNX(ctx, d.emailKey(input.Email), userID, 0).Result()
	if err != nil {
		return authcore.Identity{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if !claimed {
		return authcore.Identity{}, authcore.ErrUserExists
	}

	err = d.client.HSet(ctx, d.userKey(userID), map[string]interface{}{
		fieldEmail:   input.Email,
		fieldPhone:   input.Phone,
		fieldHash:    input.PasswordHash,
		fieldChannel: string(input.PreferredChannel),
		fieldTOTP:    "0",
		fieldStatus:  strconv.Itoa(int(input.Status)),
	}).Err()
	if err != nil {
		d.client.Del(ctx, d.emailKey(input.Email))
		return authcore.Identity{}, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}

	return authcore.Identity{
		UserID:           userID,
		Email:            input.Email,
		Phone:            input.Phone,
		PasswordHash:     input.PasswordHash,
		PreferredChannel: input.PreferredChannel,
		Status:           input.Status,
	}, nil
}

func (d *Redis) ActivateIdentity(ctx context.Context, userID string) error {
	return d.setField(ctx, userID, fieldStatus, strconv.Itoa(int(authcore.AccountActive)))
}

func (d *Redis) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	return d.setField(ctx, userID, fieldHash, newHash)
}

func (d *Redis) setField(ctx context.Context, userID, field, value string) error {
	exists, err := d.client.Exists(ctx, d.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if exists == 0 {
		return authcore.ErrUserNotFound
	}
	if err := d.client.HSet(ctx, d.userKey(userID), field, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Redis) GetTOTPSecret(ctx context.Context, userID string) (*authcore.TOTPRecord, error) {
	fields, err := d.client.HGetAll(ctx, d.totpKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, authcore.ErrTOTPNotConfigured
	}

	secret, err := hex.DecodeString(fields[fieldSecret])
	if err != nil {
		return nil, authcore.ErrTOTPNotConfigured
	}

	record := &authcore.TOTPRecord{
		Secret:  secret,
		Enabled: fields[fieldEnabled] == "1",
	}
	if ts, err := strconv.ParseInt(fields[fieldConfirmedAt], 10, 64); err == nil && ts > 0 {
		record.ConfirmedAt = time.Unix(ts, 0).UTC()
	}
	if counter, err := strconv.ParseInt(fields[fieldLastCounter], 10, 64); err == nil {
		record.LastUsedCounter = counter
	}
	return record, nil
}

func (d *Redis) SaveTOTPSecret(ctx context.Context, userID string, secret []byte) error {
	err := d.client.HSet(ctx, d.totpKey(userID), map[string]interface{}{
		fieldSecret:      hex.EncodeToString(secret),
		fieldEnabled:     "0",
		fieldConfirmedAt: "0",
		fieldLastCounter: "-1",
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Redis) EnableTOTP(ctx context.Context, userID string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, d.totpKey(userID), fieldEnabled, "1",
			fieldConfirmedAt, strconv.FormatInt(time.Now().Unix(), 10))
		pipe.HSet(ctx, d.userKey(userID), fieldTOTP, "1")
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Redis) DisableTOTP(ctx context.Context, userID string) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.totpKey(userID))
		pipe.HSet(ctx, d.userKey(userID), fieldTOTP, "0")
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

// ClaimTOTPCounter advances the replay watermark to counter, but only
// if it is strictly greater than the stored one. The read and write run
// under WATCH so two submissions of the same code cannot both claim it.
func (d *Redis) ClaimTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error) {
	key := d.totpKey(userID)

	for i := 0; i < casRetries; i++ {
		var claimed bool

		err := d.client.Watch(ctx, func(tx *redis.Tx) error {
			stored, err := tx.HGet(ctx, key, fieldLastCounter).Result()
			var last int64
			switch {
			case err == redis.Nil:
			case err != nil:
				return err
			default:
				last, _ = strconv.ParseInt(stored, 10, 64)
			}

			if counter <= last {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, fieldLastCounter, strconv.FormatInt(counter, 10))
				return nil
			})
			if err == nil {
				claimed = true
			}
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
		}
		return claimed, nil
	}

	return false, fmt.Errorf("%w: transaction retries exhausted", authcore.ErrStoreUnavailable)
}

func (d *Redis) ReplaceBackupCodes(ctx context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	_, err := d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, d.backupKey(userID), d.backupUsedKey(userID))
		if len(codes) > 0 {
			members := make([]interface{}, 0, len(codes))
			for _, code := range codes {
				members = append(members, hex.EncodeToString(code.Hash[:]))
			}
			pipe.SAdd(ctx, d.backupKey(userID), members...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Redis) ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error) {
	liveKey := d.backupKey(userID)
	usedKey := d.backupUsedKey(userID)
	member := hex.EncodeToString(hash[:])

	for i := 0; i < casRetries; i++ {
		var consumed bool
		var outcome error

		err := d.client.Watch(ctx, func(tx *redis.Tx) error {
			live, err := tx.SIsMember(ctx, liveKey, member).Result()
			if err != nil {
				return err
			}

			if !live {
				spent, err := tx.HExists(ctx, usedKey, member).Result()
				if err != nil {
					return err
				}
				if spent {
					outcome = authcore.ErrBackupCodeUsed
					return nil
				}

				remaining, err := tx.SCard(ctx, liveKey).Result()
				if err != nil {
					return err
				}
				spentCount, err := tx.HLen(ctx, usedKey).Result()
				if err != nil {
					return err
				}
				if remaining == 0 && spentCount == 0 {
					outcome = authcore.ErrBackupCodesNotConfigured
				}
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SRem(ctx, liveKey, member)
				pipe.HSet(ctx, usedKey, member, strconv.FormatInt(time.Now().Unix(), 10))
				return nil
			})
			if err == nil {
				consumed = true
			}
			return err
		}, liveKey, usedKey)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
		}
		if outcome != nil {
			return false, outcome
		}
		return consumed, nil
	}

	return false, fmt.Errorf("%w: transaction retries exhausted", authcore.ErrStoreUnavailable)
}

func (d *Redis) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	count, err := d.client.SCard(ctx, d.backupKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", authcore.ErrStoreUnavailable, err)
	}
	return int(count), nil
}
