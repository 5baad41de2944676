package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"estate-assist-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const conversationIndexKey = "conversations:index"

func metaKey(conversationID string) string     { return fmt.Sprintf("conversation:%s:meta", conversationID) }
func idsKey(conversationID string) string      { return fmt.Sprintf("conversation:%s:ids", conversationID) }
func messagesKey(conversationID string) string { return fmt.Sprintf("conversation:%s:messages", conversationID) }
func userConversationsKey(userID string) string {
	return fmt.Sprintf("user:%s:conversations", userID)
}

// upsertAppendScript 在 Redis 服务端原子执行：
// meta 哈希只在第一次写入时创建；user_id 为空时由第一个带用户的追加补上；
// 消息 ID 首次出现才追加。
//
// KEYS: meta, ids, messages, index, userConversations
// ARGV: messageID, messageJSON, nowNano, ownerID, conversationID, nowMillis
var upsertAppendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'created_at', ARGV[3]) == 1 then
  redis.call('HSET', KEYS[1], 'is_active', '1', 'updated_at', ARGV[3])
  redis.call('ZADD', KEYS[4], ARGV[6], ARGV[5])
end
if ARGV[4] ~= '' and redis.call('HSETNX', KEYS[1], 'user_id', ARGV[4]) == 1 then
  redis.call('SADD', KEYS[5], ARGV[5])
end
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
redis.call('RPUSH', KEYS[3], ARGV[2])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
return 1
`)

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewRedisConversationRepository 创建一个基于 Redis 的 ConversationRepository。
// 会话永不过期，也不做截断。
func NewRedisConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func (r *redisConversationRepository) UpsertAppend(ctx context.Context, conversationID string, ownerID *string, msg model.ChatMessage) (bool, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("failed to marshal message: %w", err)
	}
	owner := ""
	if ownerID != nil {
		owner = *ownerID
	}
	now := time.Now()
	res, err := upsertAppendScript.Run(ctx, r.redisClient,
		[]string{
			metaKey(conversationID),
			idsKey(conversationID),
			messagesKey(conversationID),
			conversationIndexKey,
			userConversationsKey(owner),
		},
		msg.ID, payload, strconv.FormatInt(now.UnixNano(), 10), owner, conversationID, now.UnixMilli(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to append message: %w", err)
	}
	return res == 1, nil
}

func (r *redisConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]model.ChatMessage, error) {
	raw, err := r.redisClient.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	if len(raw) == 0 {
		exists, err := r.redisClient.Exists(ctx, metaKey(conversationID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check conversation: %w", err)
		}
		if exists == 0 {
			return nil, ErrConversationNotFound
		}
	}

	messages := make([]model.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (r *redisConversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	fields, err := r.redisClient.HGetAll(ctx, metaKey(conversationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrConversationNotFound
	}
	return parseMeta(conversationID, fields)
}

func (r *redisConversationRepository) ListConversations(ctx context.Context, filter ConversationFilter) ([]model.ConversationSummary, error) {
	var ids []string
	var err error
	if filter.UserID != nil {
		ids, err = r.redisClient.SMembers(ctx, userConversationsKey(*filter.UserID)).Result()
	} else {
		rng := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
		if filter.Since != nil {
			rng.Min = strconv.FormatInt(filter.Since.UnixMilli(), 10)
		}
		if filter.Until != nil {
			rng.Max = strconv.FormatInt(filter.Until.UnixMilli(), 10)
		}
		ids, err = r.redisClient.ZRangeByScore(ctx, conversationIndexKey, rng).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation index: %w", err)
	}
	if len(ids) == 0 {
		return []model.ConversationSummary{}, nil
	}

	pipe := r.redisClient.Pipeline()
	metaCmds := make([]*redis.StringStringMapCmd, len(ids))
	lenCmds := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		metaCmds[i] = pipe.HGetAll(ctx, metaKey(id))
		lenCmds[i] = pipe.LLen(ctx, messagesKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}

	items := make([]model.ConversationSummary, 0, len(ids))
	for i, id := range ids {
		fields := metaCmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		conv, err := parseMeta(id, fields)
		if err != nil {
			return nil, err
		}
		if !filter.matches(*conv) {
			continue
		}
		items = append(items, model.ConversationSummary{Conversation: *conv, MessageCount: lenCmds[i].Val()})
	}
	sortSummaries(items)
	return items, nil
}

func parseMeta(conversationID string, fields map[string]string) (*model.Conversation, error) {
	conv := &model.Conversation{ID: conversationID, IsActive: fields["is_active"] == "1"}
	if uid, ok := fields["user_id"]; ok && uid != "" {
		conv.UserID = &uid
	}
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at on conversation %s: %w", conversationID, err)
	}
	conv.CreatedAt = time.Unix(0, created)
	if updated, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		conv.UpdatedAt = time.Unix(0, updated)
	} else {
		conv.UpdatedAt = conv.CreatedAt
	}
	return conv, nil
}
