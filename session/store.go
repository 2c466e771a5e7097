package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRefreshHashMismatch is returned when a presented refresh secret does
// not match the stored hash. Callers treat this as token reuse.
var ErrRefreshHashMismatch = errors.New("refresh hash mismatch")

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrRefreshSessionNotFound is returned when the refresh target session does not exist.
var ErrRefreshSessionNotFound = errors.New("refresh session not found")

// ErrRefreshSessionExpired is returned when the refresh target session is expired.
var ErrRefreshSessionExpired = errors.New("refresh session expired")

// ErrRefreshSessionCorrupt is returned when the stored session blob is invalid.
var ErrRefreshSessionCorrupt = errors.New("refresh session corrupt")

const rotateMaxRetries = 5

// Store is a Redis-backed session store that handles persistence,
// expiration, per-user and per-device indexing, and atomic refresh-hash
// rotation via optimistic WATCH transactions.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the Redis key namespace.
func NewStore(redis redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redis, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":" + sessionID
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func (s *Store) deviceKey(userID, deviceID string) string {
	return s.prefix + ":d:" + userID + ":" + deviceID
}

// Save persists a [Session] to Redis with the given TTL and registers it
// in the user and device indexes.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.SessionID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		if sess.DeviceID != "" {
			pipe.SAdd(ctx, s.deviceKey(sess.UserID, sess.DeviceID), sess.SessionID)
			pipe.Expire(ctx, s.deviceKey(sess.UserID, sess.DeviceID), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get retrieves a session by ID. Expired sessions are deleted and
// reported as redis.Nil so callers see a single not-found signal.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshSessionCorrupt, err)
	}
	sess.SessionID = sessionID

	if time.Now().Unix() >= sess.ExpiresAt {
		if err := s.deleteSessionAndIndex(ctx, sess); err != nil {
			return nil, err
		}
		return nil, redis.Nil
	}

	return sess, nil
}

// Rotate atomically replaces the stored refresh hash when providedHash
// matches the current one. On mismatch the session is deleted and
// [ErrRefreshHashMismatch] is returned together with the decoded
// session so the caller can escalate to family revocation. The record
// keeps its original absolute expiry.
func (s *Store) Rotate(ctx context.Context, sessionID string, providedHash, nextHash [32]byte) (*Session, error) {
	key := s.key(sessionID)

	var rotated *Session
	for i := 0; i < rotateMaxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrRefreshSessionNotFound
				}
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			sess, err := Decode(data)
			if err != nil {
				return ErrRefreshSessionCorrupt
			}
			sess.SessionID = sessionID

			now := time.Now().Unix()
			if now >= sess.ExpiresAt {
				_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.userKey(sess.UserID), sessionID)
					if sess.DeviceID != "" {
						pipe.SRem(ctx, s.deviceKey(sess.UserID, sess.DeviceID), sessionID)
					}
					return nil
				})
				if pipeErr != nil {
					return fmt.Errorf("%w: %v", ErrRedisUnavailable, pipeErr)
				}
				return ErrRefreshSessionExpired
			}

			if subtle.ConstantTimeCompare(sess.RefreshHash[:], providedHash[:]) != 1 {
				rotated = sess
				_, pipeErr := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					pipe.SRem(ctx, s.userKey(sess.UserID), sessionID)
					if sess.DeviceID != "" {
						pipe.SRem(ctx, s.deviceKey(sess.UserID, sess.DeviceID), sessionID)
					}
					return nil
				})
				if pipeErr != nil {
					return fmt.Errorf("%w: %v", ErrRedisUnavailable, pipeErr)
				}
				return ErrRefreshHashMismatch
			}

			sess.RefreshHash = nextHash

			updated, err := Encode(sess)
			if err != nil {
				return err
			}

			remaining := time.Until(time.Unix(sess.ExpiresAt, 0))
			if remaining < time.Second {
				remaining = time.Second
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, remaining)
				return nil
			})
			if err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}

			rotated = sess
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrRefreshHashMismatch) {
			return rotated, err
		}
		if err != nil {
			return nil, err
		}
		return rotated, nil
	}

	return nil, fmt.Errorf("%w: rotate contention", ErrRedisUnavailable)
}

// Delete removes a session and its index entries. Deleting a missing
// session is a no-op.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		// Corrupt blob: drop the key anyway so the session cannot linger.
		if delErr := s.redis.Del(ctx, s.key(sessionID)).Err(); delErr != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, delErr)
		}
		return nil
	}
	sess.SessionID = sessionID

	return s.deleteSessionAndIndex(ctx, sess)
}

func (s *Store) deleteSessionAndIndex(ctx context.Context, sess *Session) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(sess.SessionID))
		pipe.SRem(ctx, s.userKey(sess.UserID), sess.SessionID)
		if sess.DeviceID != "" {
			pipe.SRem(ctx, s.deviceKey(sess.UserID, sess.DeviceID), sess.SessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForUser removes every tracked session for a user.
//
// ATOMICITY NOTE: this reads the user's session set and then deletes the
// members. A session created between the read and the delete is not
// captured; it expires naturally or is caught by the next call.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) error {
	return s.deleteIndexed(ctx, s.userKey(userID))
}

// DeleteAllForDevice removes every tracked session for a (user, device)
// pair. Used for family revocation when refresh reuse is detected.
func (s *Store) DeleteAllForDevice(ctx context.Context, userID, deviceID string) error {
	return s.deleteIndexed(ctx, s.deviceKey(userID, deviceID))
}

func (s *Store) deleteIndexed(ctx context.Context, indexKey string) error {
	sessionIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	for _, sessionID := range sessionIDs {
		if err := s.Delete(ctx, sessionID); err != nil {
			return err
		}
	}

	if err := s.redis.Del(ctx, indexKey).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ActiveSessionIDs returns tracked session IDs for a user.
func (s *Store) ActiveSessionIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ids, nil
}

// ActiveSessionCount returns the number of tracked session IDs for a user.
func (s *Store) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	count, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}
