package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm/clause"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/cache"
	"github.com/mwaldhauser/PaySettle/internal/pkg/database"
)

const (
	receivedKey  = "webhook:counters:received"
	processedKey = "webhook:counters:processed"
	failedKey    = "webhook:counters:failed"
)

// AddReceived increments the pending received counter for a source in Redis
func AddReceived(source string) {
	incr(receivedKey, source)
}

// AddProcessed increments the pending processed counter for a source in Redis
func AddProcessed(source string) {
	incr(processedKey, source)
}

// AddFailed increments the pending failed counter for a source in Redis
func AddFailed(source string) {
	incr(failedKey, source)
}

// Counters are best-effort: a cache hiccup must never fail a delivery.
func incr(key, source string) {
	ctx := context.Background()
	_ = cache.GetClient().HIncrBy(ctx, key, source, 1).Err()
}

// FlushAll drains all webhook counters into the stats table
func FlushAll() error {
	today := time.Now().UTC().Format("2006-01-02")
	if err := flushHashToColumn(receivedKey, "received", today); err != nil {
		return err
	}
	if err := flushHashToColumn(processedKey, "processed", today); err != nil {
		return err
	}
	return flushHashToColumn(failedKey, "failed", today)
}

// flushHashToColumn drains a Redis hash atomically and applies the batched
// increments to webhook_stats. Uses RENAME to a temporary key for atomic drain
// without losing in-flight increments.
func flushHashToColumn(redisKey, column, statDate string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") {
			return nil
		}
		if err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	// Ensure cleanup of tmpKey even if later steps fail
	defer rdb.Del(ctx, tmpKey)

	data, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	db := database.GetDB()
	for source, raw := range data {
		inc, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || inc == 0 {
			continue
		}
		row := models.WebhookStat{Source: source, StatDate: statDate}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source"}, {Name: "stat_date"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		if err := db.Exec(
			fmt.Sprintf("UPDATE webhook_stats SET %s = %s + ? WHERE source = ? AND stat_date = ?", column, column),
			inc, source, statDate,
		).Error; err != nil {
			return err
		}
	}
	return nil
}
