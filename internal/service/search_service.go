package service

import (
	"context"
	"errors"
	"strings"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/es"
)

const defaultSearchLimit = 20

// SearchService 提供消息全文检索。
type SearchService interface {
	// SearchMessages 在消息索引中全文检索并返回带高亮片段的命中，
	// chatID 非空时限定在单个对话内。
	SearchMessages(ctx context.Context, query, chatID string, limit int) ([]model.MessageHit, error)
}

type searchService struct {
	indexName string
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(indexName string) SearchService {
	return &searchService{indexName: indexName}
}

func (s *searchService) SearchMessages(ctx context.Context, query, chatID string, limit int) ([]model.MessageHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is required")
	}
	if limit <= 0 || limit > 100 {
		limit = defaultSearchLimit
	}
	return es.SearchMessages(ctx, s.indexName, query, chatID, limit)
}
