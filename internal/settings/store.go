package settings

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telellm/telellm/internal/models"
)

// Well-known keys consumed by the bot core.
const (
	KeyActiveModelID        = "active_model_id"
	KeyDialogTokenLimit     = "dialog_token_limit"
	KeyBotPaused            = "bot_paused"
	KeyBotPauseMessage      = "bot_pause_message"
	KeyErrorNotifyUserIDs   = "error_notification_user_ids"
	KeyTelegramWebhookToken = "telegram_webhook_secret"
)

const cachePrefix = "setting:"

// Store is a DB-backed key/value store with an optional Redis read-through
// cache. A nil redis client disables caching.
type Store struct {
	db  *gorm.DB
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(db *gorm.DB, rdb *redis.Client) *Store {
	return &Store{db: db, rdb: rdb, ttl: 30 * time.Second}
}

// Get returns the stored value, or "" when the key does not exist.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, cachePrefix+key).Result()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, redis.Nil) {
			// cache miss path on redis trouble; the DB is the source of truth
			return s.getFromDB(ctx, key)
		}
	}

	v, err := s.getFromDB(ctx, key)
	if err != nil {
		return "", err
	}
	if s.rdb != nil {
		_ = s.rdb.Set(ctx, cachePrefix+key, v, s.ttl).Err()
	}
	return v, nil
}

func (s *Store) getFromDB(ctx context.Context, key string) (string, error) {
	var row models.Setting
	err := s.db.WithContext(ctx).Where("`key` = ?", key).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return row.Value, nil
}

// Set upserts the value and invalidates the cache entry.
func (s *Store) Set(ctx context.Context, key, value string) error {
	row := models.Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return err
	}
	if s.rdb != nil {
		_ = s.rdb.Del(ctx, cachePrefix+key).Err()
	}
	return nil
}

// GetInt parses the value as an integer, returning def on absence or junk.
func (s *Store) GetInt(ctx context.Context, key string, def int) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return def, err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// GetBool treats 1/true/yes/on (any case) as true.
func (s *Store) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, nil
	}
	return false, nil
}

// ActiveModelID returns the operator-selected model config id; 0 = unset.
func (s *Store) ActiveModelID(ctx context.Context) (uint64, error) {
	n, err := s.GetInt(ctx, KeyActiveModelID, 0)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return uint64(n), nil
}

// GetInt64List parses a separator-tolerant list of integer ids, skipping
// junk entries and collapsing duplicates in order.
func (s *Store) GetInt64List(ctx context.Context, key string) ([]int64, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\t' || r == ' '
	})
	seen := make(map[int64]struct{}, len(fields))
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(strings.TrimSpace(f), 10, 64)
		if err != nil {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}
