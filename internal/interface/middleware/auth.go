package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oksasatya/go-identity-service/pkg/apperr"
	"github.com/oksasatya/go-identity-service/pkg/helpers"
	"github.com/oksasatya/go-identity-service/pkg/response"
)

const CtxUserIDKey = "userID"

func abortUnauthorized(c *gin.Context, msg string) {
	response.Error(c, http.StatusUnauthorized, response.ErrorBody{
		Error:   string(apperr.KindUnauthorized),
		Message: msg,
	})
	c.Abort()
}

// Auth validates the Authorization bearer token and injects the caller's
// user id and email into the Gin context. Expired and tampered tokens are
// indistinguishable here: both are a 401.
func Auth(jwt *helpers.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			abortUnauthorized(c, "missing access token")
			return
		}
		claims, err := jwt.Verify(token)
		if err != nil {
			abortUnauthorized(c, "invalid access token")
			return
		}
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set("userEmail", claims.Email)
		c.Next()
	}
}
