package authcore

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/COMRADE-APP/authcore/internal"
)

// challengeCodeHash salts the code digest with purpose and user so
// equal codes in different slots never share a hash.
func challengeCodeHash(purpose Purpose, userID, code string) [32]byte {
	return internal.HashKeyed("otp:"+string(purpose)+":"+userID, code)
}

// One pending challenge per user and purpose. The record keeps only a
// keyed hash of the code; the plaintext exists solely in the delivery
// message.

const (
	challengeFormatVersionV1 = 1
	challengeMaxRetries      = 5
)

const (
	stageOTP uint8 = iota
	stageTOTP
)

type challengeRecord struct {
	ChallengeID string
	Channel     Channel
	Stage       uint8
	CodeHash    [32]byte
	Attempts    uint16
	MaxAttempts uint16
	ResendCount uint16
	CreatedAt   int64
	ExpiresAt   int64
	LastSentAt  int64
}

func encodeChallenge(r *challengeRecord) ([]byte, error) {
	if len(r.ChallengeID) > 255 || len(r.Channel) > 255 {
		return nil, errors.New("challenge field exceeds encodable length")
	}

	buf := new(bytes.Buffer)
	buf.WriteByte(challengeFormatVersionV1)

	buf.WriteByte(byte(len(r.ChallengeID)))
	buf.WriteString(r.ChallengeID)
	buf.WriteByte(byte(len(r.Channel)))
	buf.WriteString(string(r.Channel))
	buf.WriteByte(r.Stage)
	buf.Write(r.CodeHash[:])

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], r.Attempts)
	buf.Write(u16[:])
	binary.BigEndian.PutUint16(u16[:], r.MaxAttempts)
	buf.Write(u16[:])
	binary.BigEndian.PutUint16(u16[:], r.ResendCount)
	buf.Write(u16[:])

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(r.CreatedAt))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(r.ExpiresAt))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(r.LastSentAt))
	buf.Write(u64[:])

	return buf.Bytes(), nil
}

func decodeChallenge(data []byte) (*challengeRecord, error) {
	rd := bytes.NewReader(data)

	version, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != challengeFormatVersionV1 {
		return nil, fmt.Errorf("unsupported challenge format version %d", version)
	}

	readString := func() (string, error) {
		n, err := rd.ReadByte()
		if err != nil {
			return "", err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(rd, b); err != nil {
			return "", err
		}
		return string(b), nil
	}

	var r challengeRecord
	if r.ChallengeID, err = readString(); err != nil {
		return nil, fmt.Errorf("read challenge id: %w", err)
	}
	channel, err := readString()
	if err != nil {
		return nil, fmt.Errorf("read channel: %w", err)
	}
	r.Channel = Channel(channel)
	if r.Stage, err = rd.ReadByte(); err != nil {
		return nil, fmt.Errorf("read stage: %w", err)
	}
	if _, err := io.ReadFull(rd, r.CodeHash[:]); err != nil {
		return nil, fmt.Errorf("read code hash: %w", err)
	}

	var u16 [2]byte
	for _, dst := range []*uint16{&r.Attempts, &r.MaxAttempts, &r.ResendCount} {
		if _, err := io.ReadFull(rd, u16[:]); err != nil {
			return nil, fmt.Errorf("read counter: %w", err)
		}
		*dst = binary.BigEndian.Uint16(u16[:])
	}

	var u64 [8]byte
	for _, dst := range []*int64{&r.CreatedAt, &r.ExpiresAt, &r.LastSentAt} {
		if _, err := io.ReadFull(rd, u64[:]); err != nil {
			return nil, fmt.Errorf("read timestamp: %w", err)
		}
		*dst = int64(binary.BigEndian.Uint64(u64[:]))
	}

	return &r, nil
}

type challengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newChallengeStore(client redis.UniversalClient) *challengeStore {
	return &challengeStore{redis: client, prefix: "chal"}
}

func (s *challengeStore) key(purpose Purpose, userID string) string {
	return s.prefix + ":" + string(purpose) + ":" + userID
}

// Save overwrites any pending challenge in the same slot.
func (s *challengeStore) Save(ctx context.Context, purpose Purpose, userID string, r *challengeRecord) error {
	data, err := encodeChallenge(r)
	if err != nil {
		return err
	}
	ttl := time.Until(time.Unix(r.ExpiresAt, 0))
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(purpose, userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *challengeStore) Get(ctx context.Context, purpose Purpose, userID string) (*challengeRecord, error) {
	data, err := s.redis.Get(ctx, s.key(purpose, userID)).Bytes()
	if err == redis.Nil {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	record, err := decodeChallenge(data)
	if err != nil {
		s.redis.Del(ctx, s.key(purpose, userID))
		return nil, ErrChallengeNotFound
	}
	if time.Now().Unix() >= record.ExpiresAt {
		s.redis.Del(ctx, s.key(purpose, userID))
		return nil, ErrOTPExpired
	}
	return record, nil
}

// Consume verifies a submitted code against the stored hash and
// deletes the challenge on success. A wrong code burns one attempt;
// exhausting the budget deletes the challenge. The whole check runs
// under WATCH so two concurrent submissions cannot both succeed or
// share an attempt slot.
func (s *challengeStore) Consume(ctx context.Context, purpose Purpose, userID string, codeHash [32]byte) (*challengeRecord, error) {
	key := s.key(purpose, userID)

	for i := 0; i < challengeMaxRetries; i++ {
		var record *challengeRecord
		var outcome error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				outcome = ErrChallengeNotFound
				return nil
			}
			if err != nil {
				return err
			}

			r, err := decodeChallenge(data)
			if err != nil {
				outcome = ErrChallengeNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if time.Now().Unix() >= r.ExpiresAt {
				outcome = ErrOTPExpired
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if subtle.ConstantTimeCompare(r.CodeHash[:], codeHash[:]) != 1 {
				r.Attempts++
				if r.Attempts >= r.MaxAttempts {
					outcome = ErrOTPMaxAttempts
					_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					return err
				}
				outcome = ErrOTPInvalid
				updated, err := encodeChallenge(r)
				if err != nil {
					return err
				}
				ttl := time.Until(time.Unix(r.ExpiresAt, 0))
				if ttl < time.Second {
					ttl = time.Second
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				return err
			}

			record = r
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if outcome != nil {
			return nil, outcome
		}
		return record, nil
	}

	return nil, fmt.Errorf("%w: transaction retries exhausted", ErrStoreUnavailable)
}

// RecordFailure burns one attempt on a challenge whose secret lives
// elsewhere, such as the second-factor stage of a login. Exhausting
// the budget deletes the challenge.
func (s *challengeStore) RecordFailure(ctx context.Context, purpose Purpose, userID string) error {
	key := s.key(purpose, userID)

	for i := 0; i < challengeMaxRetries; i++ {
		var outcome error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				outcome = ErrChallengeNotFound
				return nil
			}
			if err != nil {
				return err
			}

			r, err := decodeChallenge(data)
			if err != nil {
				outcome = ErrChallengeNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			r.Attempts++
			if r.Attempts >= r.MaxAttempts {
				outcome = ErrOTPMaxAttempts
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			updated, err := encodeChallenge(r)
			if err != nil {
				return err
			}
			ttl := time.Until(time.Unix(r.ExpiresAt, 0))
			if ttl < time.Second {
				ttl = time.Second
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return outcome
	}

	return fmt.Errorf("%w: transaction retries exhausted", ErrStoreUnavailable)
}

func (s *challengeStore) Delete(ctx context.Context, purpose Purpose, userID string) error {
	if err := s.redis.Del(ctx, s.key(purpose, userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
