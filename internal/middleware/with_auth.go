package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/astra-go-api/internal/utils"
)

// Audiences accepted by WithAuth.
const (
	AuthRoleAny = "any"
	// AuthRoleStaff admits admins and teachers.
	AuthRoleStaff = "staff"
	// AuthRoleGrader admits assistants in addition to staff.
	AuthRoleGrader  = "grader"
	AuthRoleStudent = "student"
)

// AuthOptions configures the WithAuth helper.
type AuthOptions struct {
	Role        string
	RequireUser bool
}

// WithAuth wraps a handler with authentication and course role guards.
func WithAuth(handler fiber.Handler, opts AuthOptions) fiber.Handler {
	audience := strings.ToLower(strings.TrimSpace(opts.Role))
	if audience == "" {
		audience = AuthRoleAny
	}

	requireUser := opts.RequireUser || audience != AuthRoleAny

	return func(c *fiber.Ctx) error {
		if requireUser && !hasUser(c) {
			return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
		}

		if !audienceAllows(audience, normalizeRoleValue(c.Locals("user_role"))) {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}

		return handler(c)
	}
}

func hasUser(c *fiber.Ctx) bool {
	switch v := c.Locals("user_id").(type) {
	case uint:
		return v > 0
	case int:
		return v > 0
	default:
		return false
	}
}

func audienceAllows(audience, role string) bool {
	switch audience {
	case AuthRoleAny:
		return true
	case AuthRoleStaff:
		return role == RoleAdmin || role == RoleTeacher
	case AuthRoleGrader:
		return role == RoleAdmin || role == RoleTeacher || role == RoleAssistant
	default:
		return role == canonicalRole(audience)
	}
}
