package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/es"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeleteChatRemovesMessages(t *testing.T) {
	chatRepo := newFakeChatRepo()
	messageRepo := newFakeMessageRepo()
	svc := NewChatService(chatRepo, messageRepo, newFakeProjectRepo(), newFakeSettingsRepo(model.Settings{}), "")

	chat := &model.Chat{Title: "New Chat", Model: "llama3.2"}
	require.NoError(t, chatRepo.Create(chat))
	require.NoError(t, messageRepo.Create(&model.Message{ChatID: chat.ID, Role: model.RoleUser, Content: "hi"}))

	require.NoError(t, svc.DeleteChat(chat.ID))

	_, err := chatRepo.FindByID(chat.ID)
	assert.Error(t, err)
	messages, err := messageRepo.FindAllByChatID(chat.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestDeleteChatUnknownChat(t *testing.T) {
	svc := NewChatService(newFakeChatRepo(), newFakeMessageRepo(), newFakeProjectRepo(), newFakeSettingsRepo(model.Settings{}), "")
	assert.ErrorIs(t, svc.DeleteChat("missing"), ErrChatNotFound)
}

func TestDeleteChatCleansSearchIndex(t *testing.T) {
	var deletePath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		deletePath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"deleted": 1}`))
	}))
	defer srv.Close()
	require.NoError(t, es.InitES(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "messages"}))

	chatRepo := newFakeChatRepo()
	messageRepo := newFakeMessageRepo()
	svc := NewChatService(chatRepo, messageRepo, newFakeProjectRepo(), newFakeSettingsRepo(model.Settings{}), "messages")

	chat := &model.Chat{Title: "New Chat", Model: "llama3.2"}
	require.NoError(t, chatRepo.Create(chat))
	require.NoError(t, messageRepo.Create(&model.Message{ChatID: chat.ID, Role: model.RoleUser, Content: "hi"}))

	require.NoError(t, svc.DeleteChat(chat.ID))

	// 对话删除后搜索索引里的文档必须一并清理
	assert.Equal(t, "/messages/_delete_by_query", deletePath)
	query, ok := gotBody["query"].(map[string]interface{})
	require.True(t, ok)
	term, ok := query["term"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, chat.ID, term["chat_id"])
}
