package httputil

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// WriteError standardizes JSON error responses. The request id assigned by
// the requestid middleware is echoed when present.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	body := fiber.Map{"error": msg}
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		body["request_id"] = id
	}
	return c.Status(status).JSON(body)
}
