package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/astra-go-api/internal/utils"
)

// Course roles understood by the Astra API.
const (
	RoleAdmin     = "admin"
	RoleTeacher   = "teacher"
	RoleAssistant = "assistant"
	RoleStudent   = "student"
)

// roleAliases maps LMS role names carried by upstream tokens to Astra roles.
var roleAliases = map[string]string{
	"manager":           RoleAdmin,
	"editingteacher":    RoleTeacher,
	"noneditingteacher": RoleAssistant,
	"ta":                RoleAssistant,
	"learner":           RoleStudent,
}

// rolePrecedence orders roles so that a token listing several roles resolves to the most privileged one.
var rolePrecedence = map[string]int{
	RoleAdmin:     4,
	RoleTeacher:   3,
	RoleAssistant: 2,
	RoleStudent:   1,
}

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := canonicalRole(role)
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		role := normalizeRoleValue(c.Locals("user_role"))
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// RequireStaff admits course managers: admins and teachers.
func RequireStaff() fiber.Handler {
	return RequireRole(RoleAdmin, RoleTeacher)
}

func canonicalRole(role string) string {
	normalized := strings.ToLower(strings.TrimSpace(role))
	if alias, ok := roleAliases[normalized]; ok {
		return alias
	}
	return normalized
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return canonicalRole(v)
	case fmt.Stringer:
		return canonicalRole(v.String())
	default:
		if value == nil {
			return ""
		}
		return canonicalRole(fmt.Sprintf("%v", value))
	}
}

// UserRole returns the canonical course role of the authenticated user.
func UserRole(c *fiber.Ctx) string {
	return normalizeRoleValue(c.Locals("user_role"))
}
