package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kazz187/taskwarden/pkg/cerr"
)

// Verifier validates HS256 bearer tokens and maps them onto Claims. Both the
// Cognito claim names and their plain counterparts are accepted.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	mc := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, mc, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, cerr.NewError(cerr.Unauthenticated, "token expired", err)
		}
		return nil, cerr.NewError(cerr.Unauthenticated, "invalid token", err)
	}

	sub, err := mc.GetSubject()
	if err != nil || sub == "" {
		return nil, cerr.NewError(cerr.Unauthenticated, "token has no subject", err)
	}
	return &Claims{
		Subject:  sub,
		Username: firstString(mc, "cognito:username", "username"),
		Email:    firstString(mc, "email"),
		Groups:   groups(mc),
	}, nil
}

// Sign issues a token for c. It exists for local tooling and tests.
func (v *Verifier) Sign(c *Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	mc := jwt.MapClaims{
		"sub":    c.Subject,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
		"groups": c.Groups,
	}
	if c.Username != "" {
		mc["username"] = c.Username
	}
	if c.Email != "" {
		mc["email"] = c.Email
	}
	if v.issuer != "" {
		mc["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, mc).SignedString(v.secret)
}

func firstString(mc jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if s, ok := mc[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func groups(mc jwt.MapClaims) []string {
	for _, k := range []string{"cognito:groups", "groups"} {
		switch v := mc[k].(type) {
		case []any:
			out := make([]string, 0, len(v))
			for _, g := range v {
				if s, ok := g.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case string:
			return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
		}
	}
	return nil
}
