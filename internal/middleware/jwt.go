package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type key string

const (
	// WorkspaceIDKey holds the tenant the request is scoped to.
	WorkspaceIDKey key = "workspace_id"
	// SubjectKey holds the token's sub claim, when present.
	SubjectKey key = "sub"
)

const holderKey key = "workspace_holder"

// workspaceHolder lets outer middleware see the workspace resolved further in.
type workspaceHolder struct{ id string }

func withWorkspaceHolder(ctx context.Context, h *workspaceHolder) context.Context {
	return context.WithValue(ctx, holderKey, h)
}

var errMissingWorkspace = errors.New("token has no workspace_id claim")

// WorkspaceID returns the workspace set by WorkspaceAuth.
func WorkspaceID(ctx context.Context) (string, bool) {
	ws, ok := ctx.Value(WorkspaceIDKey).(string)
	return ws, ok && ws != ""
}

// WorkspaceAuth verifies an HS256 bearer token and puts its workspace_id claim in the
// request context. Tokens are issued elsewhere; this service only verifies them.
func WorkspaceAuth(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}
			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				unauthorized(w, "authorization header must be a bearer token")
				return
			}

			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil || !token.Valid {
				unauthorized(w, "invalid token")
				return
			}
			ws, err := workspaceClaim(claims)
			if err != nil {
				unauthorized(w, err.Error())
				return
			}

			if h, ok := r.Context().Value(holderKey).(*workspaceHolder); ok {
				h.id = ws
			}
			ctx := context.WithValue(r.Context(), WorkspaceIDKey, ws)
			if sub, err := claims.GetSubject(); err == nil && sub != "" {
				ctx = context.WithValue(ctx, SubjectKey, sub)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func workspaceClaim(claims jwt.MapClaims) (string, error) {
	ws, ok := claims["workspace_id"].(string)
	if !ok || ws == "" {
		return "", errMissingWorkspace
	}
	return ws, nil
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, msg, http.StatusUnauthorized)
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
