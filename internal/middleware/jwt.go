package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/turfbook/turfbook/internal/model"
)

// JWTAuth returns an Echo middleware that validates a Bearer access
// token issued by the identity service and materializes the actor into
// the request context.  The secret must match the identity service's
// signing secret.  Handlers retrieve the actor with Actor(c); the raw
// claims are not exposed downstream.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// HS256 only; a token signed any other way is rejected.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			id, ok := subjectID(claims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid subject"})
			}
			role, _ := claims["role"].(string)
			c.Set("actor", model.Actor{ID: id, Role: role})
			return next(c)
		}
	}
}

// Actor returns the authenticated actor placed in context by JWTAuth.
// The zero Actor means the route was registered without the auth
// middleware, which is a wiring bug rather than a runtime condition.
func Actor(c echo.Context) model.Actor {
	if a, ok := c.Get("actor").(model.Actor); ok {
		return a
	}
	return model.Actor{}
}

// subjectID reads the sub claim, tolerating both string and numeric
// encodings since identity services disagree on which to emit.
func subjectID(claims jwt.MapClaims) (uint64, bool) {
	switch v := claims["sub"].(type) {
	case string:
		id, err := strconv.ParseUint(v, 10, 64)
		return id, err == nil
	case float64:
		if v < 0 {
			return 0, false
		}
		return uint64(v), true
	}
	return 0, false
}
