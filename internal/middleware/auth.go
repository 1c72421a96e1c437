package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"bookhaven/server/internal/logging"
	"bookhaven/server/internal/utils"
)

const localUserID = "userID"

// Auth validates the bearer token. It is read from the Authorization header,
// then the token query parameter (websocket clients cannot set headers),
// then the token cookie.
func Auth(verifier *utils.TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := bearerToken(c)
		if tokenString == "" {
			return unauthorized(c, "Unauthorized - No token provided")
		}

		userID, err := verifier.ValidateToken(tokenString)
		if err != nil {
			logging.Ctx(c.UserContext()).Debug().Err(err).Msg("rejected token")
			return unauthorized(c, "Unauthorized - Invalid token")
		}

		c.Locals(localUserID, userID)
		c.SetUserContext(logging.ContextWithUserID(c.UserContext(), userID))
		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if token := c.Query("token"); token != "" {
		return token
	}
	return c.Cookies("token")
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"error":   msg,
		"code":    "UNAUTHENTICATED",
	})
}

// GetUserID gets user ID from context
func GetUserID(c *fiber.Ctx) string {
	userID, ok := c.Locals(localUserID).(string)
	if !ok {
		return ""
	}
	return userID
}
