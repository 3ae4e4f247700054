package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const bearerPrefix = "Bearer "

// Decoder extracts identities from HS256-signed bearer tokens.
// A nil or empty secret disables decoding entirely.
type Decoder struct {
	secret []byte
	logger *zap.Logger
}

// NewDecoder returns a decoder that validates tokens against secret.
func NewDecoder(secret string, logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{secret: []byte(secret), logger: logger}
}

// Decode validates tokenString and maps its claims to an Identity.
//
// Contract: returns ErrNoSecret when no secret is configured,
// ErrTokenExpired for expired tokens, and ErrTokenMalformed for
// anything else that fails to parse or validate.
func (d *Decoder) Decode(tokenString string) (*Identity, error) {
	if len(d.secret) == 0 {
		return nil, ErrNoSecret
	}
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		return d.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrTokenMalformed
	}

	return identityFromClaims(claims), nil
}

// FromHeader decodes an Authorization header value optimistically.
// Any failure, including a missing or non-bearer header, yields nil:
// the request proceeds anonymously rather than being rejected.
func (d *Decoder) FromHeader(header string) *Identity {
	if header == "" {
		return nil
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		d.logger.Debug("authorization header is not a bearer token")
		return nil
	}
	id, err := d.Decode(strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		d.logger.Debug("bearer token rejected", zap.Error(err))
		return nil
	}
	return id
}

func identityFromClaims(claims jwt.MapClaims) *Identity {
	id := &Identity{Claims: map[string]any(claims)}
	if sub, ok := claims["sub"].(string); ok {
		id.UserID = sub
	}
	if email, ok := claims["email"].(string); ok {
		id.Email = email
	}
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if role, ok := r.(string); ok {
				id.Roles = append(id.Roles, role)
			}
		}
	}
	return id
}
