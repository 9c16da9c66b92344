// Package auth guards the Master's local-controller-facing inspection
// surface with an optional bearer token, hashed with bcrypt the way the
// teacher's internal/auth guards its client API keys (SPEC_FULL.md §8).
package auth

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// ControllerGuard checks a plaintext token against a bcrypt hash set up
// once at startup (--controller-token). A guard built with an empty
// token is permissive: Check always succeeds, since controller auth is
// opt-in.
type ControllerGuard struct {
	tokenHash []byte
	enabled   bool
}

// NewControllerGuard hashes plainToken. An empty plainToken disables the
// guard.
func NewControllerGuard(plainToken string) (*ControllerGuard, error) {
	if plainToken == "" {
		return &ControllerGuard{enabled: false}, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plainToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("straw: hash controller token: %w", err)
	}
	return &ControllerGuard{tokenHash: hash, enabled: true}, nil
}

// Check reports whether candidate matches the configured token.
func (g *ControllerGuard) Check(candidate string) bool {
	if !g.enabled {
		return true
	}
	return bcrypt.CompareHashAndPassword(g.tokenHash, []byte(candidate)) == nil
}

// RequireToken is a Fiber middleware enforcing the controller token on
// the header X-Controller-Token.
func (g *ControllerGuard) RequireToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if g.Check(c.Get("X-Controller-Token")) {
			return c.Next()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "invalid controller token",
		})
	}
}
