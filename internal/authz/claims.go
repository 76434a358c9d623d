package authz

import (
	"context"
	"slices"
)

// Claims is the caller identity extracted from a verified token.
type Claims struct {
	Subject  string   `json:"sub"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// DisplayName falls back from username to email to subject.
func (c *Claims) DisplayName() string {
	switch {
	case c.Username != "":
		return c.Username
	case c.Email != "":
		return c.Email
	default:
		return c.Subject
	}
}

// Identities lists every identifier a task owner field may hold for this caller.
func (c *Claims) Identities() []string {
	ids := []string{c.Subject}
	if name := c.DisplayName(); name != c.Subject {
		ids = append(ids, name)
	}
	return ids
}

func (c *Claims) InGroup(group string) bool {
	return slices.Contains(c.Groups, group)
}

type claimsKey struct{}

func ContextWithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}
