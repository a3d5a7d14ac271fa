package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/socialhub/internal/model"
)

// ErrInvalidState はOAuth stateの検証に失敗した場合に返される。
var ErrInvalidState = errors.New("invalid oauth state")

// StateClaims はOAuth stateトークンのクレーム。
// Subjectに所有者ID、IDにnonceを格納する。
type StateClaims struct {
	Platform string `json:"plt"`
	jwt.RegisteredClaims
}

// StateSigner は連携開始時のOAuth stateをHS256で署名・検証する。
type StateSigner struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewStateSigner はStateSignerを生成する。
func NewStateSigner(secret string, ttl time.Duration) *StateSigner {
	return &StateSigner{key: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue は所有者とプラットフォームに紐づくstateを発行する。
func (s *StateSigner) Issue(ownerID string, platform model.Platform) (string, error) {
	now := s.now()
	claims := StateClaims{
		Platform: string(platform),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Verify はstateの署名・期限と、所有者・プラットフォームの一致を検証する。
func (s *StateSigner) Verify(state, ownerID string, platform model.Platform) error {
	claims := &StateClaims{}
	_, err := jwt.ParseWithClaims(state, claims,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(ownerID),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims.Platform != string(platform) {
		return fmt.Errorf("%w: platform mismatch", ErrInvalidState)
	}
	return nil
}
