package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DRSN-tech/visual-search/internal/cfg"
	"github.com/DRSN-tech/visual-search/internal/domain"
	"github.com/DRSN-tech/visual-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/jimlawless/whereami"
	r "github.com/redis/go-redis/v9"
)

type CacheRepo struct {
	client r.Cmdable
	conv   converter.CatalogItemConverter
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client r.Cmdable, conv converter.CatalogItemConverter,
	cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		conv:   conv,
		cfg:    cfg,
		logger: logger,
	}
}

// GetItems возвращает закэшированные товары по ID, игнорируя промахи и логируя их
func (c *CacheRepo) GetItems(ctx context.Context, ids []string) (map[string]domain.CatalogItem, error) {
	keys := c.buildItemCacheKeys(ids)

	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warnf("Redis MGET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make(map[string]domain.CatalogItem, len(values))
	for i, val := range values {
		data, err := redisValueToBytes(val, keys[i])
		if err != nil {
			c.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
		}

		if data == nil {
			continue // cache miss
		}

		var model converter.CatalogItemRedisModel
		if err := json.Unmarshal(data, &model); err != nil {
			c.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		if model.ItemID != ids[i] {
			c.logger.Warnf("Cache ID mismatch: key_id: %s, model_id: %s", ids[i], model.ItemID)
			if err := c.client.Del(context.WithoutCancel(ctx), keys[i]).Err(); err != nil {
				c.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
			}
			continue // cache miss
		}
		result[ids[i]] = *c.conv.ToEntity(&model)
	}

	return result, nil
}

// SetItems кэширует несколько товаров с заданным TTL одним пайплайном.
// Ошибки сериализации отдельных товаров только логируются.
func (c *CacheRepo) SetItems(ctx context.Context, items []domain.CatalogItem) error {
	models := c.conv.ToArrRedisModel(items)

	pipeline := c.client.Pipeline()
	for _, model := range models {
		data, err := json.Marshal(model)
		if err != nil {
			c.logger.Warnf("Failed to marshal item for caching (Item ID: %s): %v", model.ItemID, e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		pipeline.Set(ctx, c.itemKey(model.ItemID), data, c.cfg.ProductTTL)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// DeleteItems удаляет товары из кэша по ID
func (c *CacheRepo) DeleteItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, c.buildItemCacheKeys(ids)...).Err(); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// buildItemCacheKeys формирует Redis-ключи из ID товаров
func (c *CacheRepo) buildItemCacheKeys(ids []string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.itemKey(id)
	}

	return keys
}

// itemKey возвращает Redis-ключ для одного товара
func (c *CacheRepo) itemKey(id string) string {
	return fmt.Sprintf("catalog_item:%s", id)
}

// redisValueToBytes конвертирует значение из Redis в []byte.
// Поддерживает string и []byte, возвращает ошибку для неизвестных типов.
func redisValueToBytes(val interface{}, key string) ([]byte, error) {
	switch v := val.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil // cache miss
	default:
		return nil, fmt.Errorf("unexpected Redis value type for key %s: %T", key, val)
	}
}
