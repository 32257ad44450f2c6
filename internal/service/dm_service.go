package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spotlight/backend/internal/models"
	"spotlight/backend/internal/repository"
	"spotlight/backend/pkg/cache"
	"spotlight/backend/pkg/errors"
	"spotlight/backend/pkg/logger"
	"spotlight/backend/pkg/metrics"
)

// DMService persists direct messages and serves conversation history with a
// Redis read-through cache. Cache failures degrade to the database and are
// never surfaced to callers.
type DMService struct {
	repo     repository.MessageRepository
	cache    *cache.Client
	cacheTTL time.Duration
	log      *logger.Logger
}

// NewDMService creates a DM service. The cache client may be nil, in which
// case every history read goes to the database.
func NewDMService(repo repository.MessageRepository, cacheClient *cache.Client, cacheTTL time.Duration, log *logger.Logger) *DMService {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &DMService{
		repo:     repo,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		log:      log.WithComponent("dm_service"),
	}
}

// Save validates and persists one message, invalidating the cached history
// for the pair.
func (s *DMService) Save(ctx context.Context, senderID, receiverID int64, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if senderID <= 0 || receiverID <= 0 {
		return nil, errors.NewBadRequestError("INVALID_PARTICIPANTS", "Sender and receiver IDs are required")
	}
	if content == "" {
		return nil, errors.NewBadRequestError("EMPTY_CONTENT", "Message content is required")
	}

	msg := &models.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.Create(msg); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, historyKey(senderID, receiverID)); err != nil {
			s.log.Warn("history cache invalidation failed", "error", err.Error())
		}
	}

	return msg, nil
}

// History returns the full conversation between two users in chronological
// order, consulting the cache first.
func (s *DMService) History(ctx context.Context, userA, userB int64) ([]models.Message, error) {
	if userA <= 0 || userB <= 0 {
		return nil, errors.NewBadRequestError("INVALID_PARTICIPANTS", "Sender and receiver IDs are required")
	}

	key := historyKey(userA, userB)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, key)
		if err == nil {
			var messages []models.Message
			if jsonErr := json.Unmarshal([]byte(raw), &messages); jsonErr == nil {
				metrics.HistoryRequests.WithLabelValues("cache").Inc()
				return messages, nil
			}
			// Unreadable entry, fall through to the database
			_ = s.cache.Del(ctx, key)
		} else if !cache.IsMiss(err) {
			s.log.Warn("history cache read failed", "error", err.Error())
		}
	}

	messages, err := s.repo.GetConversation(userA, userB)
	if err != nil {
		return nil, err
	}
	metrics.HistoryRequests.WithLabelValues("database").Inc()

	if s.cache != nil {
		if raw, jsonErr := json.Marshal(messages); jsonErr == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.log.Warn("history cache write failed", "error", err.Error())
			}
		}
	}

	return messages, nil
}

// HistoryPage returns one page of the conversation in chronological order.
// Page reads bypass the cache; only whole-conversation reads are cached.
func (s *DMService) HistoryPage(ctx context.Context, userA, userB int64, limit, offset int) ([]models.Message, error) {
	if userA <= 0 || userB <= 0 {
		return nil, errors.NewBadRequestError("INVALID_PARTICIPANTS", "Sender and receiver IDs are required")
	}
	if limit <= 0 {
		return nil, errors.NewBadRequestError("INVALID_LIMIT", "limit must be a positive integer")
	}
	if offset < 0 {
		return nil, errors.NewBadRequestError("INVALID_OFFSET", "offset must not be negative")
	}

	messages, err := s.repo.GetConversationPaginated(userA, userB, limit, offset)
	if err != nil {
		return nil, err
	}
	metrics.HistoryRequests.WithLabelValues("database").Inc()
	return messages, nil
}

// historyKey normalizes the pair so both directions share one cache entry
func historyKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:history:%d:%d", a, b)
}
