package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in tokens.
const (
	RoleDevice = "device"
	RoleAdmin  = "admin"
)

// Token types; a refresh token is never accepted where an access token is expected.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	AccessExp    time.Time `json:"-"`
	RefreshExp   time.Time `json:"-"`
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Signer issues and validates HS256 tokens for one issuer.
type Signer struct {
	Key        []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	now        func() time.Time
}

func NewSigner(key, issuer string, accessTTL, refreshTTL time.Duration) *Signer {
	return &Signer{Key: []byte(key), Issuer: issuer, AccessTTL: accessTTL, RefreshTTL: refreshTTL, now: time.Now}
}

func (s *Signer) sign(subject, role, typ string, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.Issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(s.now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Key)
}

// Issue issues signed access and refresh tokens.
func (s *Signer) Issue(subject, role string) (TokenPair, error) {
	now := s.now()
	accessExp := now.Add(s.AccessTTL)
	refreshExp := now.Add(s.RefreshTTL)

	access, err := s.sign(subject, role, TypeAccess, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(subject, role, TypeRefresh, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, AccessExp: accessExp, RefreshExp: refreshExp}, nil
}

// Parse validates a token of the wanted type and returns its claims.
func (s *Signer) Parse(tokenStr, wantType string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.Key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	if wantType != "" && claims.Type != wantType {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
