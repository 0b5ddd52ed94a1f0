package services

import (
	"context"
	"errors"
	"strconv"
	"time"

	"premiosplatzi/models"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	resultsKeyPrefix = "polls:results:"
	versionKeySuffix = ":version"
	unknownVersion   = int64(-1)
)

// ResultsCache keeps serialized results views in Redis. A nil *ResultsCache
// is valid and caches nothing.
type ResultsCache struct {
	redis *redis.Client
	ttl   time.Duration
}

var errStaleResults = errors.New("results cache: stale version")

func NewResultsCache(client *redis.Client, ttl time.Duration) *ResultsCache {
	if client == nil {
		return nil
	}
	return &ResultsCache{
		redis: client,
		ttl:   ttl,
	}
}

func resultsKey(questionID uint) string {
	return resultsKeyPrefix + strconv.FormatUint(uint64(questionID), 10)
}

func versionKey(questionID uint) string {
	return resultsKey(questionID) + versionKeySuffix
}

// Version returns the question's invalidation counter. Read it before loading
// from the database and pass it to Set so that a load which raced with an
// invalidation is never cached.
func (c *ResultsCache) Version(ctx context.Context, questionID uint) int64 {
	if c == nil {
		return unknownVersion
	}

	v, err := c.redis.Get(ctx, versionKey(questionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0
	}
	if err != nil {
		log.Warn().Err(err).Uint("question_id", questionID).Msg("results cache version read failed")
		return unknownVersion
	}
	return v
}

func (c *ResultsCache) Get(ctx context.Context, questionID uint) (*models.Question, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, resultsKey(questionID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Uint("question_id", questionID).Msg("results cache read failed")
		}
		return nil, false
	}

	var question models.Question
	if err := json.Unmarshal(data, &question); err != nil {
		log.Warn().Err(err).Uint("question_id", questionID).Msg("results cache entry corrupt")
		return nil, false
	}
	return &question, true
}

// Set stores question if its version counter still equals version.
func (c *ResultsCache) Set(ctx context.Context, question *models.Question, version int64) {
	if c == nil || question == nil || version < 0 {
		return
	}

	data, err := json.Marshal(question)
	if err != nil {
		log.Warn().Err(err).Uint("question_id", question.ID).Msg("results cache encode failed")
		return
	}

	vKey := versionKey(question.ID)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, vKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleResults
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, resultsKey(question.ID), data, c.ttl)
			return nil
		})
		return err
	}, vKey)

	switch {
	case err == nil:
	case errors.Is(err, errStaleResults), errors.Is(err, redis.TxFailedErr):
		log.Debug().Uint("question_id", question.ID).Msg("results changed while loading, not cached")
	default:
		log.Warn().Err(err).Uint("question_id", question.ID).Msg("results cache write failed")
	}
}

func (c *ResultsCache) Invalidate(ctx context.Context, questionID uint) {
	if c == nil {
		return
	}

	_, err := c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(questionID))
		pipe.Del(ctx, resultsKey(questionID))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Uint("question_id", questionID).Msg("results cache invalidation failed")
	}
}
