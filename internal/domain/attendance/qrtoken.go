package attendance

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/smartdefence/academy-hub/internal/domain/shared"
)

// DefaultQRTokenTTL is how long a displayed QR code stays valid.
const DefaultQRTokenTTL = 15 * time.Minute

// QRSigner issues and verifies lesson QR tokens of the form
// "<lessonID>.<issuedUnix>.<mac>", where mac is keyed BLAKE2b-256 over the
// first two parts.
type QRSigner struct {
	key []byte
	ttl time.Duration
}

// NewQRSigner creates a signer. The key must be 1..64 bytes.
func NewQRSigner(key []byte, ttl time.Duration) (*QRSigner, error) {
	if len(key) == 0 || len(key) > blake2b.Size {
		return nil, fmt.Errorf("attendance: QR key must be 1..%d bytes, got %d", blake2b.Size, len(key))
	}
	if ttl <= 0 {
		ttl = DefaultQRTokenTTL
	}
	return &QRSigner{key: append([]byte(nil), key...), ttl: ttl}, nil
}

// TTL returns how long issued tokens stay valid.
func (s *QRSigner) TTL() time.Duration {
	return s.ttl
}

// Issue returns a token for lessonID issued at now.
func (s *QRSigner) Issue(lessonID string, now time.Time) (string, error) {
	payload := lessonID + "." + strconv.FormatInt(now.Unix(), 10)
	mac, err := s.mac(payload)
	if err != nil {
		return "", err
	}
	return payload + "." + mac, nil
}

// Verify checks that token was issued by this signer for lessonID and is
// not older than the TTL at now.
func (s *QRSigner) Verify(token, lessonID string, now time.Time) error {
	idx := strings.LastIndex(token, ".")
	if idx <= 0 {
		return shared.ErrInvalidQRToken
	}
	payload, sig := token[:idx], token[idx+1:]

	expected, err := s.mac(payload)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return shared.ErrInvalidQRToken
	}

	sep := strings.LastIndex(payload, ".")
	if sep <= 0 || payload[:sep] != lessonID {
		return shared.ErrInvalidQRToken
	}
	issued, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil {
		return shared.ErrInvalidQRToken
	}
	issuedAt := time.Unix(issued, 0)
	if now.Sub(issuedAt) > s.ttl || issuedAt.After(now.Add(time.Minute)) {
		return shared.ErrExpiredQRToken
	}
	return nil
}

func (s *QRSigner) mac(payload string) (string, error) {
	h, err := blake2b.New256(s.key)
	if err != nil {
		return "", fmt.Errorf("attendance: init blake2b: %w", err)
	}
	h.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}
