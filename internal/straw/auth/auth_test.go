package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestEmptyTokenDisablesGuard(t *testing.T) {
	guard, err := NewControllerGuard("")
	assert.NoError(t, err)
	assert.True(t, guard.Check("anything"))
	assert.True(t, guard.Check(""))
}

func TestNonEmptyTokenRejectsWrongCandidate(t *testing.T) {
	guard, err := NewControllerGuard("topsecret")
	assert.NoError(t, err)
	assert.True(t, guard.Check("topsecret"))
	assert.False(t, guard.Check("wrong"))
	assert.False(t, guard.Check(""))
}

func TestRequireTokenMiddleware(t *testing.T) {
	guard, err := NewControllerGuard("topsecret")
	assert.NoError(t, err)

	app := fiber.New()
	app.Get("/guarded", guard.RequireToken(), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/guarded", nil))
	assert.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)

	req := httptest.NewRequest("GET", "/guarded", nil)
	req.Header.Set("X-Controller-Token", "topsecret")
	resp, err = app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
}
