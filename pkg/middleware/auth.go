package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"taskboard-sync-backend/pkg/config"
	"taskboard-sync-backend/pkg/models"
	"taskboard-sync-backend/pkg/utils"

	"github.com/rs/zerolog"
)

// ContextKey 用于在context中存储用户信息的键
type ContextKey string

const (
	UserContextKey ContextKey = "user"
)

// AuthMiddleware JWT认证中间件
// 浏览器无法为 websocket 设置 Authorization 头，因此也接受 access_token 查询参数
func AuthMiddleware(cfg *config.Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	jwtService := utils.NewJWTService(cfg.JWTSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := bearerToken(r)
			if err != nil {
				logger.Debug().Str("path", r.URL.Path).Err(err).Msg("auth rejected")
				utils.WriteUnauthorizedResponse(w, err.Error())
				return
			}

			claims, err := jwtService.ValidateAccessToken(tokenString)
			if err != nil {
				logger.Debug().Str("path", r.URL.Path).Err(err).Msg("auth rejected")
				utils.WriteUnauthorizedResponse(w, "Invalid token: "+err.Error())
				return
			}

			// 创建用户对象并添加到context
			user := &models.User{
				ID:       claims.UserID,
				Username: claims.Username,
			}
			recordUser(r.Context(), user.ID)
			ctx := context.WithValue(r.Context(), UserContextKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if tok := r.URL.Query().Get("access_token"); tok != "" {
			return tok, nil
		}
		return "", fmt.Errorf("Missing authorization header")
	}

	// 检查Bearer前缀
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", fmt.Errorf("Invalid authorization header format")
	}
	return tokenString, nil
}

// WithUser 将用户写入context（测试与内部调用使用）
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUserFromContext 从context中获取用户信息
func GetUserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(UserContextKey).(*models.User)
	return user, ok
}

// RequireUser 要求用户必须已认证的辅助函数
func RequireUser(ctx context.Context) (*models.User, error) {
	user, ok := GetUserFromContext(ctx)
	if !ok || user == nil {
		return nil, fmt.Errorf("user not authenticated")
	}
	return user, nil
}
