package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AuthMiddleware validates the API key on mutating endpoints. Keys are
// configured as SHA-256 hashes in API_KEY_HASHES (comma separated); with
// no hashes configured the middleware is a no-op, for local use.
func AuthMiddleware() fiber.Handler {
	hashes := loadKeyHashes()

	return func(c *fiber.Ctx) error {
		if len(hashes) == 0 {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "missing_api_key",
				"message": "API key is required. Use Authorization: Bearer YOUR_API_KEY",
			})
		}

		// Format: "Bearer sk_..."
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return c.Status(401).JSON(fiber.Map{
				"error":   "invalid_auth_format",
				"message": "Authorization header must be in format: Bearer YOUR_API_KEY",
			})
		}

		apiKey := strings.TrimSpace(parts[1])
		hash := sha256.Sum256([]byte(apiKey))
		keyHash := hex.EncodeToString(hash[:])

		for _, h := range hashes {
			if subtle.ConstantTimeCompare([]byte(h), []byte(keyHash)) == 1 {
				return c.Next()
			}
		}

		return c.Status(401).JSON(fiber.Map{
			"error":   "invalid_api_key",
			"message": "The provided API key is not valid",
		})
	}
}

func loadKeyHashes() []string {
	raw := os.Getenv("API_KEY_HASHES")
	if raw == "" {
		return nil
	}
	var hashes []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hashes = append(hashes, h)
		}
	}
	return hashes
}
