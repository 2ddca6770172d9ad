package erpauth

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
)

const otpRecordVersionV1 = 1

var errOTPRedisUnavailable = errors.New("otp store redis unavailable")

// redisOTPStore is the default [OTPStore]: one key per user holding the
// latest code record, expiry enforced both by the record payload and the key
// TTL. Consumption runs under WATCH so a code is spent at most once even with
// concurrent submissions.
type redisOTPStore struct {
	redis  *redis.Client
	prefix string
}

func newRedisOTPStore(redisClient *redis.Client, prefix string) *redisOTPStore {
	return &redisOTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *redisOTPStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// ReplaceCode overwrites the user's outstanding record; issuing a new code
// invalidates the prior one.
func (s *redisOTPStore) ReplaceCode(ctx context.Context, record EmailOTPRecord) error {
	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return errors.New("otp record already expired")
	}

	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	if err := s.redis.Set(ctx, s.key(record.UserID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}

	return nil
}

// ConsumeCode deletes and reports the user's record when the hash matches a
// live code. A mismatch leaves the record in place; expiry behaves as
// absence.
func (s *redisOTPStore) ConsumeCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error) {
	const maxRetries = 4
	key := s.key(userID)

	for i := 0; i < maxRetries; i++ {
		matched := false

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeOTPRecord(data)
			if err != nil {
				return err
			}

			if time.Now().After(record.ExpiresAt) {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) != 1 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}

			matched = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
		}

		return matched, nil
	}

	return false, nil
}

// PurgeCodes drops any outstanding record for the user.
func (s *redisOTPStore) PurgeCodes(ctx context.Context, userID string) error {
	if err := s.redis.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errOTPRedisUnavailable, err)
	}
	return nil
}

func encodeOTPRecord(record EmailOTPRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt.Unix()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.CreatedAt.Unix()); err != nil {
		return nil, err
	}

	if len(record.ID) > 65535 || len(record.UserID) > 65535 {
		return nil, errors.New("otp record field too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.ID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.ID)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (EmailOTPRecord, error) {
	var record EmailOTPRecord
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return record, err
	}
	if version != otpRecordVersionV1 {
		return record, errors.New("invalid otp record version")
	}

	var expiresAt, createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return record, err
	}
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return record, err
	}
	record.ExpiresAt = time.Unix(expiresAt, 0)
	record.CreatedAt = time.Unix(createdAt, 0)

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return record, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return record, err
	}
	record.ID = string(id)

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return record, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return record, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return record, err
	}

	return record, nil
}
