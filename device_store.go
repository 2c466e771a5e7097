package authcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const deviceFormatVersionV1 = 1

// Devices for a user live in one hash keyed by user, one field per
// device. Failed-auth streaks are plain expiring counters keyed by
// fingerprint so they survive across device records.

type deviceStore struct {
	redis  redis.UniversalClient
	prefix string
}

func newDeviceStore(client redis.UniversalClient, prefix string) *deviceStore {
	if prefix == "" {
		prefix = "dev"
	}
	return &deviceStore{redis: client, prefix: prefix}
}

func (s *deviceStore) userKey(userID string) string {
	return s.prefix + ":" + userID
}

func (s *deviceStore) streakKey(fingerprint string) string {
	return s.prefix + ":streak:" + fingerprint
}

func encodeDevice(d *Device) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(deviceFormatVersionV1)

	writeString := func(v string) error {
		if len(v) > 255 {
			return errors.New("device field exceeds encodable length")
		}
		buf.WriteByte(byte(len(v)))
		buf.WriteString(v)
		return nil
	}

	for _, v := range []string{d.DeviceID, d.Fingerprint, string(d.TrustLevel), d.LastIP} {
		if err := writeString(v); err != nil {
			return nil, err
		}
	}

	var u16 [2]byte
	binary.BigEndian.PutUint16(u16[:], uint16(d.RiskScore))
	buf.Write(u16[:])

	var u64 [8]byte
	binary.BigEndian.PutUint64(u64[:], uint64(d.FirstSeen.Unix()))
	buf.Write(u64[:])
	binary.BigEndian.PutUint64(u64[:], uint64(d.LastSeen.Unix()))
	buf.Write(u64[:])

	if d.Active {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	return buf.Bytes(), nil
}

func decodeDevice(data []byte) (*Device, error) {
	rd := bytes.NewReader(data)

	version, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != deviceFormatVersionV1 {
		return nil, fmt.Errorf("unsupported device format version %d", version)
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

	var d Device
	if d.DeviceID, err = readString(); err != nil {
		return nil, fmt.Errorf("read device id: %w", err)
	}
	if d.Fingerprint, err = readString(); err != nil {
		return nil, fmt.Errorf("read fingerprint: %w", err)
	}
	level, err := readString()
	if err != nil {
		return nil, fmt.Errorf("read trust level: %w", err)
	}
	d.TrustLevel = TrustLevel(level)
	if d.LastIP, err = readString(); err != nil {
		return nil, fmt.Errorf("read last ip: %w", err)
	}

	var u16 [2]byte
	if _, err := io.ReadFull(rd, u16[:]); err != nil {
		return nil, fmt.Errorf("read risk score: %w", err)
	}
	d.RiskScore = int(binary.BigEndian.Uint16(u16[:]))

	var u64 [8]byte
	if _, err := io.ReadFull(rd, u64[:]); err != nil {
		return nil, fmt.Errorf("read first seen: %w", err)
	}
	d.FirstSeen = time.Unix(int64(binary.BigEndian.Uint64(u64[:])), 0).UTC()
	if _, err := io.ReadFull(rd, u64[:]); err != nil {
		return nil, fmt.Errorf("read last seen: %w", err)
	}
	d.LastSeen = time.Unix(int64(binary.BigEndian.Uint64(u64[:])), 0).UTC()

	active, err := rd.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read active flag: %w", err)
	}
	d.Active = active == 1

	return &d, nil
}

func (s *deviceStore) Save(ctx context.Context, d *Device) error {
	data, err := encodeDevice(d)
	if err != nil {
		return err
	}
	if err := s.redis.HSet(ctx, s.userKey(d.UserID), d.DeviceID, data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *deviceStore) Get(ctx context.Context, userID, deviceID string) (*Device, error) {
	data, err := s.redis.HGet(ctx, s.userKey(userID), deviceID).Bytes()
	if err == redis.Nil {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	d, err := decodeDevice(data)
	if err != nil {
		s.redis.HDel(ctx, s.userKey(userID), deviceID)
		return nil, ErrDeviceNotFound
	}
	d.UserID = userID
	return d, nil
}

func (s *deviceStore) List(ctx context.Context, userID string) ([]*Device, error) {
	fields, err := s.redis.HGetAll(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	devices := make([]*Device, 0, len(fields))
	for _, raw := range fields {
		d, err := decodeDevice([]byte(raw))
		if err != nil {
			continue
		}
		d.UserID = userID
		devices = append(devices, d)
	}
	return devices, nil
}

func (s *deviceStore) Delete(ctx context.Context, userID, deviceID string) error {
	if err := s.redis.HDel(ctx, s.userKey(userID), deviceID).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RecordAuthFailure bumps the failed-auth streak for a fingerprint and
// returns the new count. The counter expires after the streak window
// so old failures age out.
func (s *deviceStore) RecordAuthFailure(ctx context.Context, fingerprint string, window time.Duration) (int64, error) {
	key := s.streakKey(fingerprint)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count == 1 {
		s.redis.Expire(ctx, key, window)
	}
	return count, nil
}

func (s *deviceStore) FailureStreak(ctx context.Context, fingerprint string) (int64, error) {
	count, err := s.redis.Get(ctx, s.streakKey(fingerprint)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *deviceStore) ClearFailureStreak(ctx context.Context, fingerprint string) {
	s.redis.Del(ctx, s.streakKey(fingerprint))
}
