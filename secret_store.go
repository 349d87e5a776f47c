package samAuth

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

const (
	pendingSecretKeyPrefix      = "psec"
	pendingSecretRecordVersion1 = 1
)

// Pending-secret purposes. A principal holds at most one pending secret at a
// time; issuing a new one replaces whatever was pending, so a stale
// verification code can never satisfy a password-change confirmation.
type secretPurpose uint8

const (
	secretPurposeAccountVerification secretPurpose = 1
	secretPurposePasswordChange      secretPurpose = 2
)

var (
	errPendingSecretNotFound = errors.New("pending secret not found")
	errPendingSecretExpired  = errors.New("pending secret expired")
	errPendingSecretMismatch = errors.New("pending secret mismatch")
	errPendingSecretAttempts = errors.New("pending secret attempts exceeded")
	errPendingSecretBackend  = errors.New("pending secret backend unavailable")
)

// pendingSecret is a single-use, time-boxed secret bound to one principal.
// Token carries the password-change correlator and Payload the pre-hashed
// pending password; both are empty for account verification.
type pendingSecret struct {
	Purpose   secretPurpose
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Token     string
	Payload   string
}

type pendingSecretStore struct {
	redis *redis.Client
}

func newPendingSecretStore(redisClient *redis.Client) *pendingSecretStore {
	return &pendingSecretStore{redis: redisClient}
}

func (s *pendingSecretStore) key(principalID string) string {
	return pendingSecretKeyPrefix + ":" + principalID
}

// Save installs the pending secret, replacing any secret already pending for
// the principal regardless of purpose.
func (s *pendingSecretStore) Save(
	ctx context.Context,
	principalID string,
	record *pendingSecret,
	ttl time.Duration,
) error {
	encoded, err := encodePendingSecret(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(principalID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPendingSecretBackend, err)
	}
	return nil
}

// Peek returns the pending secret without consuming it. Expired records are
// lazily deleted and reported as expired.
func (s *pendingSecretStore) Peek(ctx context.Context, principalID string) (*pendingSecret, error) {
	data, err := s.redis.Get(ctx, s.key(principalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errPendingSecretNotFound
		}
		return nil, fmt.Errorf("%w: %v", errPendingSecretBackend, err)
	}

	record, err := decodePendingSecret(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(principalID)).Result()
		return nil, errPendingSecretExpired
	}
	return record, nil
}

// Delete removes the pending secret unconditionally.
func (s *pendingSecretStore) Delete(ctx context.Context, principalID string) error {
	if err := s.redis.Del(ctx, s.key(principalID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errPendingSecretBackend, err)
	}
	return nil
}

// Consume validates purpose, correlator token, and code against the pending
// secret and deletes it in the same transaction when everything matches.
// The watch loop makes read-compare-clear atomic: two concurrent submissions
// of the same code cannot both succeed. A mismatch increments the attempt
// counter and keeps the record in place until maxAttempts is reached.
func (s *pendingSecretStore) Consume(
	ctx context.Context,
	principalID string,
	purpose secretPurpose,
	token string,
	codeHash [32]byte,
	maxAttempts int,
) (*pendingSecret, error) {
	const maxRetries = 4
	key := s.key(principalID)

	for i := 0; i < maxRetries; i++ {
		var consumed *pendingSecret
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePendingSecret(data)
			if err != nil {
				return err
			}

			now := time.Now().Unix()
			if now >= record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return errPendingSecretExpired
			}

			if record.Purpose != purpose {
				return errPendingSecretNotFound
			}

			tokenOK := subtle.ConstantTimeCompare([]byte(record.Token), []byte(token)) == 1
			codeOK := subtle.ConstantTimeCompare(record.CodeHash[:], codeHash[:]) == 1
			if !tokenOK || !codeOK {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errPendingSecretAttempts
				}

				ttl := time.Until(time.Unix(record.ExpiresAt, 0))
				if ttl <= 0 {
					_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					})
					if err != nil {
						return err
					}
					return errPendingSecretExpired
				}

				updated, err := encodePendingSecret(record)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return errPendingSecretMismatch
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			consumed = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, errPendingSecretNotFound
			}
			if errors.Is(err, errPendingSecretExpired) ||
				errors.Is(err, errPendingSecretMismatch) ||
				errors.Is(err, errPendingSecretAttempts) ||
				errors.Is(err, errPendingSecretNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errPendingSecretBackend, err)
		}
		return consumed, nil
	}

	return nil, errPendingSecretNotFound
}

func encodePendingSecret(record *pendingSecret) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(pendingSecretRecordVersion1)
	buf.WriteByte(byte(record.Purpose))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if len(record.Token) > 65535 || len(record.Payload) > 65535 {
		return nil, errors.New("pending secret field length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Token))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Token)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Payload))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Payload)

	return buf.Bytes(), nil
}

func decodePendingSecret(data []byte) (*pendingSecret, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != pendingSecretRecordVersion1 {
		return nil, errors.New("invalid pending secret version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &pendingSecret{Purpose: secretPurpose(purpose)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	var tokenLen uint16
	if err := binary.Read(reader, binary.BigEndian, &tokenLen); err != nil {
		return nil, err
	}
	token := make([]byte, tokenLen)
	if _, err := io.ReadFull(reader, token); err != nil {
		return nil, err
	}
	record.Token = string(token)

	var payloadLen uint16
	if err := binary.Read(reader, binary.BigEndian, &payloadLen); err != nil {
		return nil, err
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(reader, payload); err != nil {
		return nil, err
	}
	record.Payload = string(payload)

	return record, nil
}
