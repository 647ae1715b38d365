package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proxypay/internal/config"
	"proxypay/internal/model"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	routingConfigKey = "proxypay:routing_config"
	// routingConfigGenKey 每次更新配置加一，回填缓存前核对
	routingConfigGenKey = "proxypay:routing_config:gen"
)

// setIfGeneration 代数没变才回填，ARGV[3] 为毫秒 TTL，0 表示不过期
var setIfGeneration = redis.NewScript(`
local cur = redis.call('GET', KEYS[2]) or '0'
if cur ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

func InitRedis(cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return client, nil
}

// ConfigSource 被缓存的路由配置存储
type ConfigSource interface {
	Get(ctx context.Context) (*model.RoutingConfig, error)
	PutDefault(ctx context.Context, cfg model.RoutingConfig) (*model.RoutingConfig, error)
	Update(ctx context.Context, patch model.RoutingConfigPatch) (*model.RoutingConfig, error)
}

// CachedConfigStore 路由配置的读缓存
//
// 整行序列化成一个 key，读到的总是某一代完整配置。
// 更新先写库，再把代数加一并删缓存；回源的读者在读库前记下代数，
// 写回缓存时代数已变就放弃，旧配置不会在更新之后被写回去。
// Redis 不可用时直接回源，不影响分配。
type CachedConfigStore struct {
	next   ConfigSource
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedConfigStore(next ConfigSource, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedConfigStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedConfigStore{next: next, client: client, ttl: ttl, logger: logger}
}

func (s *CachedConfigStore) Get(ctx context.Context) (*model.RoutingConfig, error) {
	data, err := s.client.Get(ctx, routingConfigKey).Bytes()
	if err == nil {
		var cfg model.RoutingConfig
		if err := json.Unmarshal(data, &cfg); err == nil {
			return &cfg, nil
		}
		s.logger.Warn("路由配置缓存损坏，回源读取")
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn("读取路由配置缓存失败", zap.Error(err))
	}

	gen, genErr := s.generation(ctx)
	cfg, err := s.next.Get(ctx)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		s.set(ctx, gen, cfg)
	}
	return cfg, nil
}

func (s *CachedConfigStore) PutDefault(ctx context.Context, cfg model.RoutingConfig) (*model.RoutingConfig, error) {
	gen, genErr := s.generation(ctx)
	stored, err := s.next.PutDefault(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		s.set(ctx, gen, stored)
	}
	return stored, nil
}

func (s *CachedConfigStore) Update(ctx context.Context, patch model.RoutingConfigPatch) (*model.RoutingConfig, error) {
	cfg, err := s.next.Update(ctx, patch)
	if err != nil {
		return nil, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, routingConfigGenKey)
		pipe.Del(ctx, routingConfigKey)
		return nil
	})
	if err != nil {
		s.logger.Error("删除路由配置缓存失败", zap.Error(err))
	}
	return cfg, nil
}

func (s *CachedConfigStore) generation(ctx context.Context) (string, error) {
	gen, err := s.client.Get(ctx, routingConfigGenKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		s.logger.Warn("读取路由配置代数失败", zap.Error(err))
		return "", err
	}
	return gen, nil
}

func (s *CachedConfigStore) set(ctx context.Context, gen string, cfg *model.RoutingConfig) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	keys := []string{routingConfigKey, routingConfigGenKey}
	written, err := setIfGeneration.Run(ctx, s.client, keys, gen, data, s.ttl.Milliseconds()).Int()
	if err != nil {
		s.logger.Warn("写入路由配置缓存失败", zap.Error(err))
		return
	}
	if written == 0 {
		s.logger.Debug("路由配置已更新，放弃回填旧配置", zap.String("generation", gen))
	}
}
