package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/username/cryptotax/src/logger"
	"github.com/username/cryptotax/src/utils"
)

type contextKey string

const userIDContextKey = contextKey("userID")

// UserContextMiddleware resolves the calling user. Authentication itself is
// handled by an upstream gateway; this service trusts the X-User-ID header
// that gateway injects and only requires it to be present and numeric.
func UserContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userIDStr := r.Header.Get("X-User-ID")
		if userIDStr == "" {
			logger.L.Debug("UserContextMiddleware: X-User-ID header missing", "path", r.URL.Path)
			utils.SendJSONError(w, "X-User-ID header required", http.StatusUnauthorized)
			return
		}

		userID, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil || userID <= 0 {
			logger.L.Warn("UserContextMiddleware: invalid user ID", "userID", userIDStr, "path", r.URL.Path)
			utils.SendJSONError(w, "Invalid user ID", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID placed by UserContextMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}
