package middleware

import (
	"context"
	"net/http"

	"taskboard-sync-backend/pkg/models"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

const syncedUsersCacheSize = 4096

// UserStore 保存身份提供方声明的用户显示名
type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
}

// SyncUsers 把 token 中的用户名同步到 users 表，供活动流和成员列表显示
// 每个 (id, username) 在缓存淘汰前只写一次；写入失败只记日志，不影响请求
func SyncUsers(store UserStore, logger zerolog.Logger) func(http.Handler) http.Handler {
	seen, err := lru.New[string, string](syncedUsersCacheSize)
	if err != nil {
		panic(err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := GetUserFromContext(r.Context())
			if ok && user.Username != "" {
				if name, hit := seen.Get(user.ID); !hit || name != user.Username {
					if err := store.UpsertUser(r.Context(), &models.User{ID: user.ID, Username: user.Username}); err != nil {
						logger.Warn().Err(err).Str("user_id", user.ID).Msg("user sync failed")
					} else {
						seen.Add(user.ID, user.Username)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
