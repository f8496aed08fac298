package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go-token-gate/internal/model"
)

// Key prefixes
const (
	refreshKeyPrefix = "refresh:"
	subjectKeyPrefix = "refresh_subject:"
	rotatedKeyPrefix = "rotated:"
)

type redisRefreshRecord struct {
	SubjectID string    `json:"subject_id"`
	Expiry    int64     `json:"expiry"`
	BoundIP   string    `json:"bound_ip"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisRefreshTokenRepository is a rotation ledger kept in Redis. Records
// carry a TTL matching their expiry, so PruneExpired has nothing to do.
type RedisRefreshTokenRepository struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisRefreshTokenRepository(client redis.UniversalClient) *RedisRefreshTokenRepository {
	return &RedisRefreshTokenRepository{client: client, now: time.Now}
}

func (r *RedisRefreshTokenRepository) Find(ctx context.Context, token string) (model.RefreshRecord, error) {
	raw, err := r.client.Get(ctx, refreshKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.RefreshRecord{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshRecord{}, fmt.Errorf("find refresh token: %w", err)
	}

	return decodeRedisRecord(token, raw)
}

func (r *RedisRefreshTokenRepository) Insert(ctx context.Context, rec model.RefreshRecord) error {
	ttl := time.UnixMilli(rec.Expiry).Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("%w: refresh record already expired", model.ErrInvalidInput)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	payload, err := json.Marshal(redisRefreshRecord{
		SubjectID: rec.SubjectID,
		Expiry:    rec.Expiry,
		BoundIP:   rec.BoundIP,
		CreatedAt: createdAt,
	})
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	created, err := r.client.SetNX(ctx, refreshKeyPrefix+rec.Token, payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	if !created {
		return model.ErrDuplicateToken
	}

	subjectKey := subjectKeyPrefix + rec.SubjectID
	pipe := r.client.Pipeline()
	pipe.SAdd(ctx, subjectKey, rec.Token)
	pipe.Expire(ctx, subjectKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index refresh token by subject: %w", err)
	}

	return nil
}

// Delete removes the record with GETDEL so that exactly one caller observes
// the record; every other caller gets model.ErrTokenNotFound.
func (r *RedisRefreshTokenRepository) Delete(ctx context.Context, token string) error {
	raw, err := r.client.GetDel(ctx, refreshKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.ErrTokenNotFound
	}
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	rec, err := decodeRedisRecord(token, raw)
	if err != nil {
		// The record is gone; a stale subject index entry expires with the set.
		return nil
	}
	if err := r.client.SRem(ctx, subjectKeyPrefix+rec.SubjectID, token).Err(); err != nil {
		return fmt.Errorf("unindex refresh token: %w", err)
	}
	return nil
}

func (r *RedisRefreshTokenRepository) DeleteAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	subjectKey := subjectKeyPrefix + subjectID
	tokens, err := r.client.SMembers(ctx, subjectKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list refresh tokens for subject: %w", err)
	}
	if len(tokens) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(tokens))
	for _, token := range tokens {
		keys = append(keys, refreshKeyPrefix+token)
	}

	deleted, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens for subject: %w", err)
	}
	if err := r.client.Del(ctx, subjectKey).Err(); err != nil {
		return deleted, fmt.Errorf("delete subject index: %w", err)
	}
	return deleted, nil
}

func (r *RedisRefreshTokenRepository) PruneExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

func (r *RedisRefreshTokenRepository) MarkRotated(ctx context.Context, token string, subjectID string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, rotatedKeyPrefix+tokenDigest(token), subjectID, ttl).Err(); err != nil {
		return fmt.Errorf("mark refresh token rotated: %w", err)
	}
	return nil
}

func (r *RedisRefreshTokenRepository) WasRotated(ctx context.Context, token string) (string, bool, error) {
	subjectID, err := r.client.Get(ctx, rotatedKeyPrefix+tokenDigest(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check rotated refresh token: %w", err)
	}
	return subjectID, true, nil
}

func decodeRedisRecord(token string, raw []byte) (model.RefreshRecord, error) {
	var stored redisRefreshRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		return model.RefreshRecord{}, fmt.Errorf("decode refresh record: %w", err)
	}
	return model.RefreshRecord{
		Token:     token,
		SubjectID: stored.SubjectID,
		Expiry:    stored.Expiry,
		BoundIP:   stored.BoundIP,
		CreatedAt: stored.CreatedAt,
	}, nil
}
