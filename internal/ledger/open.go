package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/betbot/pairbot/pkg/config"
)

// OpenStore 按 ledger.backend 打开底层存储：file | badger | redis
func OpenStore(ctx context.Context, cfg config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case "badger":
		opts := BadgerOptions{Path: filepath.Join(cfg.Dir, "badger")}
		if cfg.EncryptionKey != "" {
			key, err := hex.DecodeString(cfg.EncryptionKey)
			if err != nil || len(key) != 32 {
				return nil, fmt.Errorf("ledger.encryption_key 必须是 32 字节 hex")
			}
			opts.EncryptionKey = key
		}
		return OpenBadgerStore(opts, cfg.Universe)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("连接 redis 失败 %s: %w", cfg.RedisAddr, err)
		}
		return NewRedisStore(client, cfg.Universe), nil
	case "", "file":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建账本目录失败: %w", err)
		}
		return NewFileStore(cfg.Dir, cfg.Universe), nil
	default:
		return nil, fmt.Errorf("未知的账本存储: %s", cfg.Backend)
	}
}
