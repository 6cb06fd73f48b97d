package middleware

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading-api/internal/utils"
)

// RequireRole ensures that the authenticated user possesses one of the allowed roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized := strings.ToLower(strings.TrimSpace(role))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		roleValue := c.Locals(LocalUserRole)
		role := normalizeRoleValue(roleValue)
		if _, ok := allowed[role]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// ErrSchoolOutOfScope is returned when a school-bound caller asks for another school's data.
var ErrSchoolOutOfScope = errors.New("school is outside the caller's scope")

// ScopeSchool resolves the school a request may act on. Admins may address any school or the
// global scope; everyone else is pinned to the school in their token when it carries one.
func ScopeSchool(c *fiber.Ctx, requested *uint) (*uint, error) {
	if normalizeRoleValue(c.Locals(LocalUserRole)) == "admin" {
		return requested, nil
	}
	own := SchoolIDFromContext(c)
	if own == nil {
		return requested, nil
	}
	if requested != nil && *requested != *own {
		return nil, ErrSchoolOutOfScope
	}
	return own, nil
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		if value == nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value)))
	}
}
