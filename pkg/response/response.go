package response

import "github.com/gofiber/fiber/v2"

// JSON helpers for the hooks service wire contract. The contract is small
// and fixed: submissions answer `{}` or `{"error": ...}` with status 200
// (clients inspect the body, not the status), acknowledgement endpoints
// answer `{"message": ...}`.

// Accepted signals a submission was accepted for background processing.
func Accepted(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{})
}

// Rejected signals a synchronous submission rejection.
func Rejected(c *fiber.Ctx, reason string) error {
	return c.JSON(fiber.Map{"error": reason})
}

// Message answers with a human-readable acknowledgement.
func Message(c *fiber.Ctx, message string) error {
	return c.JSON(fiber.Map{"message": message})
}

// Error answers a transport-level failure with a non-200 status.
func Error(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": message})
}
