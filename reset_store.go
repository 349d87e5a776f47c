package samAuth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/samAuth/internal"
)

const (
	resetTokenKeyPrefix      = "prt"
	resetTokenRecordVersion1 = 1
)

var (
	errResetTokenNotFound = errors.New("reset token not found")
	errResetTokenExpired  = errors.New("reset token expired")
	errResetTokenBackend  = errors.New("reset token backend unavailable")
)

// resetToken binds an emailed password-reset link to a principal. Records are
// keyed by the token hash so the plaintext never lands in Redis.
type resetToken struct {
	PrincipalID string
	ExpiresAt   int64
}

type resetTokenStore struct {
	redis *redis.Client
}

func newResetTokenStore(redisClient *redis.Client) *resetTokenStore {
	return &resetTokenStore{redis: redisClient}
}

func (s *resetTokenStore) key(token string) string {
	hash := internal.HashSecret(token)
	return resetTokenKeyPrefix + ":" + base64.RawURLEncoding.EncodeToString(hash[:])
}

func (s *resetTokenStore) Save(
	ctx context.Context,
	token string,
	record *resetToken,
	ttl time.Duration,
) error {
	encoded, err := encodeResetToken(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(token), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errResetTokenBackend, err)
	}
	return nil
}

// Get validates the token without consuming it, so a reset form can be shown
// before the new password is submitted. Expiry is strict: a token whose
// deadline equals the current instant is already dead.
func (s *resetTokenStore) Get(ctx context.Context, token string) (*resetToken, error) {
	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errResetTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", errResetTokenBackend, err)
	}

	record, err := decodeResetToken(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(token)).Result()
		return nil, errResetTokenExpired
	}
	return record, nil
}

// Consume atomically validates and deletes the token. GETDEL guarantees a
// token redeemed twice fails the second time even under concurrent requests.
func (s *resetTokenStore) Consume(ctx context.Context, token string) (*resetToken, error) {
	data, err := s.redis.GetDel(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errResetTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", errResetTokenBackend, err)
	}

	record, err := decodeResetToken(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= record.ExpiresAt {
		return nil, errResetTokenExpired
	}
	return record, nil
}

func encodeResetToken(record *resetToken) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(resetTokenRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("reset token id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)

	return buf.Bytes(), nil
}

func decodeResetToken(data []byte) (*resetToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetTokenRecordVersion1 {
		return nil, errors.New("invalid reset token version")
	}

	record := &resetToken{}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	return record, nil
}
