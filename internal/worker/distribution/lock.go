package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker は配布期間ごとの排他ロック。複数のワーカーレプリカが同じ期間を同時に配布しないようにする。
type Locker interface {
	// Acquire はkeyのロックを取得する。取得できた場合は解放関数を返し、
	// 他の保持者がいる場合は (nil, false, nil) を返す。
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// releaseScript は自分が保持しているロックだけを削除する。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock はRedisの SET NX PX によるLocker実装。
type RedisLock struct {
	client *redis.Client
}

// NewRedisClient はURLからRedisクライアントを生成し、接続を確認する。
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redisへの接続に失敗しました: %w", err)
	}
	return client, nil
}

// NewRedisLock はRedisLockを生成する。
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire はランダムなトークンを値として SET NX PX を実行する。
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("配布ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("配布ロックの解放に失敗しました: %w", err)
		}
		return nil
	}
	return release, true, nil
}

// LocalLock はRedisを使わない単一プロセス用のLocker実装。
// 二重配布は配布マーカーで防がれるため、プロセス内の重複実行だけを防ぐ。
type LocalLock struct {
	held chan struct{}
}

// NewLocalLock はLocalLockを生成する。
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(chan struct{}, 1)}
}

// Acquire はプロセス内で1つだけロックを保持できる。keyとttlは使用しない。
func (l *LocalLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	select {
	case l.held <- struct{}{}:
		return func(context.Context) error {
			<-l.held
			return nil
		}, true, nil
	default:
		return nil, false, nil
	}
}

var (
	_ Locker = (*RedisLock)(nil)
	_ Locker = (*LocalLock)(nil)
)
