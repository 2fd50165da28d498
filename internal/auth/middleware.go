package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// SessionCookie is the cookie name carrying the signed session token.
const SessionCookie = "session"

// emailKey is the gin context key holding the authenticated faculty email.
const emailKey = "facultyEmail"

// FacultyEmail returns the authenticated account identifier set by FacultyAuth.
func FacultyEmail(c *gin.Context) (string, bool) {
	email := c.GetString(emailKey)
	return email, email != ""
}

// FacultyAuth enforces an authenticated session, accepting the token either
// as a bearer Authorization header or as the session cookie set at login.
func FacultyAuth(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			if cookie, err := c.Cookie(SessionCookie); err == nil {
				tokenStr = cookie
			}
		}
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "not logged in"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "not logged in"})
			return
		}
		c.Set(emailKey, claims.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
