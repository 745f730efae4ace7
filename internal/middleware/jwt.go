package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/astra-go-api/internal/utils"
)

// JWTOptions configures bearer token validation.
type JWTOptions struct {
	Secret string
	// Issuer, when set, must match the "iss" claim.
	Issuer string
	// Leeway tolerates clock drift between the LMS and Astra.
	Leeway time.Duration
}

// lmsClaims is the token the LMS issues for a course page. The user is identified by "sub" or,
// for older plugins, "user_id". The course role comes from "course_role" before "role" and "roles".
type lmsClaims struct {
	jwt.RegisteredClaims
	UserID     interface{} `json:"user_id,omitempty"`
	CourseID   uint        `json:"course_id,omitempty"`
	CourseRole string      `json:"course_role,omitempty"`
	Role       string      `json:"role,omitempty"`
	Roles      []string    `json:"roles,omitempty"`
}

var errNoSubject = errors.New("token does not identify a user")

// user resolves the numeric LMS user id.
func (c lmsClaims) user() (uint, error) {
	if c.Subject != "" {
		return parseUserID(c.Subject)
	}
	if c.UserID != nil {
		return parseUserID(c.UserID)
	}
	return 0, errNoSubject
}

// role returns the canonical role, preferring the course scoped claim.
func (c lmsClaims) role() string {
	if role := canonicalRole(c.CourseRole); role != "" {
		return role
	}
	if role := canonicalRole(c.Role); role != "" {
		return role
	}
	return highestRole(c.Roles)
}

// JWTProtected validates HMAC-signed bearer tokens issued by the LMS. Tokens must carry an
// expiry and a user. The user becomes "user_id", the course role "user_role" and the course
// "course_id" when the token is scoped to one.
func JWTProtected(opts JWTOptions) fiber.Handler {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(opts.Issuer))
	}
	parser := jwt.NewParser(parserOptions...)
	key := []byte(opts.Secret)

	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "authorization header missing or malformed")
		}

		var claims lmsClaims
		token, err := parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return utils.SendError(c, fiber.StatusUnauthorized, "token expired")
			}
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, err := claims.user()
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token subject")
		}
		c.Locals("user_id", userID)
		if role := claims.role(); role != "" {
			c.Locals("user_role", role)
		}
		if claims.CourseID != 0 {
			c.Locals("course_id", claims.CourseID)
		}

		return c.Next()
	}
}

// TokenCourseID returns the course the token was issued for, or zero for site wide tokens.
func TokenCourseID(c *fiber.Ctx) uint {
	id, _ := c.Locals("course_id").(uint)
	return id
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func parseUserID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v <= 0 || v != float64(uint(v)) {
			return 0, errNoSubject
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed == 0 {
			return 0, errNoSubject
		}
		return uint(parsed), nil
	default:
		return 0, fmt.Errorf("unsupported user id type %T", value)
	}
}

func highestRole(roles []string) string {
	best := ""
	for _, item := range roles {
		role := canonicalRole(item)
		if rolePrecedence[role] > rolePrecedence[best] {
			best = role
		}
	}
	return best
}
