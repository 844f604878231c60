package database

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DatabasePool 数据库连接池
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
)

// GetDatabase 获取数据库连接（单例模式 + 连接池）
func GetDatabase(ctx context.Context, config DatabaseConfig) (DatabaseInterface, error) {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(ctx, globalPool, config) {
		globalPool.mu.Lock()
		globalPool.lastUsed = time.Now()
		globalPool.mu.Unlock()
		log.Debug().Msg("reusing existing database connection")
		return globalPool.instance, nil
	}

	log.Info().Bool("memory", config.UseMemoryDB).Msg("creating database connection pool")

	// 关闭旧连接（如果存在）
	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
		globalPool = nil
	}

	instance, err := NewDatabase(ctx, config)
	if err != nil {
		return nil, err
	}
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: time.Now(),
	}
	return instance, nil
}

// shouldRecreateConnection 判断是否需要重新创建连接
func shouldRecreateConnection(ctx context.Context, pool *DatabasePool, newConfig DatabaseConfig) bool {
	if pool == nil || pool.instance == nil {
		return true
	}

	if pool.config != newConfig {
		log.Info().Msg("database configuration changed, recreating connection")
		return true
	}

	// 内存库重建会丢数据，只检查配置
	if newConfig.UseMemoryDB {
		return false
	}

	if err := pool.instance.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("database health check failed, recreating")
		return true
	}

	return false
}

// ClosePool 关闭全局连接（进程退出时调用）
func ClosePool() error {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil || globalPool.instance == nil {
		return nil
	}
	err := globalPool.instance.Close()
	globalPool = nil
	return err
}

// GetConnectionStats 获取连接池统计信息
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       time.Since(lastUsed).String(),
		"config": map[string]interface{}{
			"use_memory_db": globalPool.config.UseMemoryDB,
			"has_postgres":  globalPool.config.PostgresDSN != "",
		},
	}
}
