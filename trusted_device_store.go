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
	trustedDeviceKeyPrefix      = "td"
	trustedDeviceIndexKeyPrefix = "tdu"
	trustedDeviceRecordVersion1 = 1
)

var (
	errTrustedDeviceNotFound = errors.New("trusted device not found")
	errTrustedDeviceBackend  = errors.New("trusted device backend unavailable")
)

// trustedDevice is a long-lived MFA bypass grant. Records live under the hash
// of the opaque cookie token; the per-principal index set exists only so
// revoke-all can find them.
type trustedDevice struct {
	PrincipalID string
	ExpiresAt   int64
}

type trustedDeviceStore struct {
	redis *redis.Client
}

func newTrustedDeviceStore(redisClient *redis.Client) *trustedDeviceStore {
	return &trustedDeviceStore{redis: redisClient}
}

func (s *trustedDeviceStore) key(token string) string {
	return trustedDeviceKeyPrefix + ":" + hashTrustToken(token)
}

func (s *trustedDeviceStore) indexKey(principalID string) string {
	return trustedDeviceIndexKeyPrefix + ":" + principalID
}

func hashTrustToken(token string) string {
	hash := internal.HashSecret(token)
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// Save registers the device grant and adds its hash to the principal index.
// The index carries the same TTL as the longest-lived member so it cannot
// outlive every grant it points at.
func (s *trustedDeviceStore) Save(
	ctx context.Context,
	token string,
	record *trustedDevice,
	ttl time.Duration,
) error {
	encoded, err := encodeTrustedDevice(record)
	if err != nil {
		return err
	}

	hash := hashTrustToken(token)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, trustedDeviceKeyPrefix+":"+hash, encoded, ttl)
		pipe.SAdd(ctx, s.indexKey(record.PrincipalID), hash)
		pipe.Expire(ctx, s.indexKey(record.PrincipalID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
	}
	return nil
}

// IsTrusted reports whether the token is a live grant for the given
// principal. A grant owned by someone else or whose expiry is not strictly in
// the future counts as untrusted, never as an error.
func (s *trustedDeviceStore) IsTrusted(ctx context.Context, principalID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	data, err := s.redis.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
	}

	record, err := decodeTrustedDevice(data)
	if err != nil {
		return false, err
	}
	if record.PrincipalID != principalID {
		return false, nil
	}
	if time.Now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(token)).Result()
		return false, nil
	}
	return true, nil
}

// Revoke removes a single device grant. Returns whether a grant existed.
func (s *trustedDeviceStore) Revoke(ctx context.Context, principalID, token string) (bool, error) {
	hash := hashTrustToken(token)

	var deleted *redis.IntCmd
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, trustedDeviceKeyPrefix+":"+hash)
		pipe.SRem(ctx, s.indexKey(principalID), hash)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
	}
	return deleted.Val() > 0, nil
}

// RevokeAll removes every device grant for the principal and returns how many
// were live.
func (s *trustedDeviceStore) RevokeAll(ctx context.Context, principalID string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, s.indexKey(principalID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
	}
	if len(hashes) == 0 {
		if err := s.redis.Del(ctx, s.indexKey(principalID)).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
		}
		return 0, nil
	}

	keys := make([]string, 0, len(hashes)+1)
	for _, hash := range hashes {
		keys = append(keys, trustedDeviceKeyPrefix+":"+hash)
	}
	keys = append(keys, s.indexKey(principalID))

	n, err := s.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errTrustedDeviceBackend, err)
	}

	revoked := int(n) - 1
	if revoked < 0 {
		revoked = 0
	}
	return revoked, nil
}

func encodeTrustedDevice(record *trustedDevice) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(trustedDeviceRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.PrincipalID) > 65535 {
		return nil, errors.New("trusted device id length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.PrincipalID)

	return buf.Bytes(), nil
}

func decodeTrustedDevice(data []byte) (*trustedDevice, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != trustedDeviceRecordVersion1 {
		return nil, errors.New("invalid trusted device version")
	}

	record := &trustedDevice{}
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
