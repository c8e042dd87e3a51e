// Package directory は申請者の表示情報（名前・メールアドレス）の参照を提供する。
//
// 管理者一覧では申請ごとに申請者情報を付与するため、ユーザーテーブルへの問い合わせを
// Redis にキャッシュする。Redis が未設定または障害中の場合はデータベースを直接参照する。
package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/visadesk/internal/model"
)

// keyPrefix はキャッシュキーの接頭辞。
const keyPrefix = "visadesk:owner:"

// SummaryStore は表示情報の取得元のインターフェース。
type SummaryStore interface {
	FindSummariesByIDs(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error)
}

// CachedDirectory は SummaryStore の前段に置く読み込みスルーキャッシュ。
type CachedDirectory struct {
	store  SummaryStore
	client *redis.Client
	ttl    time.Duration
}

// NewCachedDirectory はCachedDirectoryを生成する。
// clientがnilの場合はキャッシュを使用しない。
func NewCachedDirectory(store SummaryStore, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{store: store, client: client, ttl: ttl}
}

// NewRedisClient はURLからRedisクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

func cacheKey(id string) string {
	return keyPrefix + id
}

// Lookup は指定IDの表示情報を返す。重複IDは1回だけ問い合わせる。
// 存在しないユーザーは結果に含まれない。
func (d *CachedDirectory) Lookup(ctx context.Context, ids []string) (map[string]model.OwnerSummary, error) {
	unique := dedupe(ids)
	result := make(map[string]model.OwnerSummary, len(unique))
	if len(unique) == 0 {
		return result, nil
	}

	if d.client == nil {
		return d.store.FindSummariesByIDs(ctx, unique)
	}

	misses := d.readCache(ctx, unique, result)
	if len(misses) == 0 {
		return result, nil
	}

	found, err := d.store.FindSummariesByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, s := range found {
		result[id] = s
	}
	d.writeCache(ctx, found)

	return result, nil
}

// readCache はキャッシュのヒットをresultに格納し、ミスしたIDを返す。
// Redisエラー時は全件をミスとして扱う。
func (d *CachedDirectory) readCache(ctx context.Context, ids []string, result map[string]model.OwnerSummary) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}

	values, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Warn("owner cache read failed", slog.String("error", err.Error()))
		return ids
	}

	var misses []string
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var s model.OwnerSummary
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		result[ids[i]] = s
	}
	return misses
}

func (d *CachedDirectory) writeCache(ctx context.Context, found map[string]model.OwnerSummary) {
	if len(found) == 0 {
		return
	}

	pipe := d.client.Pipeline()
	for id, s := range found {
		b, err := json.Marshal(s)
		if err != nil {
			continue
		}
		pipe.Set(ctx, cacheKey(id), b, d.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("owner cache write failed", slog.String("error", err.Error()))
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
