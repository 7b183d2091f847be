package service

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcriptFixture struct {
	chatRepo    *fakeChatRepo
	messageRepo *fakeMessageRepo
	client      *scriptedOllama
	svc         TranscriptService
}

func newTranscriptFixture(client *scriptedOllama) *transcriptFixture {
	f := &transcriptFixture{
		chatRepo:    newFakeChatRepo(),
		messageRepo: newFakeMessageRepo(),
		client:      client,
	}
	settingsRepo := newFakeSettingsRepo(model.Settings{DefaultModel: "llama3.2"})
	f.svc = NewTranscriptService(f.chatRepo, f.messageRepo, settingsRepo, client, "")
	return f
}

func (f *transcriptFixture) session(chatID string) *StreamSession {
	return &StreamSession{
		ChatID:    chatID,
		Server:    model.InferenceServer{ID: "srv-1", BaseURL: "http://gpu-1:11434"},
		Model:     "llama3.2",
		StartedAt: time.Now(),
	}
}

func TestRecordAssistantTurnCompleted(t *testing.T) {
	f := newTranscriptFixture(&scriptedOllama{})
	chat := &model.Chat{Title: "custom title", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	sess := f.session(chat.ID)
	sess.append("full reply")
	tokens := 17
	sess.TokensUsed = &tokens

	f.svc.RecordAssistantTurn(sess, TurnCompleted, nil)

	messages, _ := f.messageRepo.FindAllByChatID(chat.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, model.RoleAssistant, messages[0].Role)
	assert.Equal(t, "full reply", messages[0].Content)
	require.NotNil(t, messages[0].TokensUsed)
	assert.Equal(t, 17, *messages[0].TokensUsed)
	assert.Nil(t, messages[0].Error)
}

func TestRecordAssistantTurnEmptyCompletionPersists(t *testing.T) {
	f := newTranscriptFixture(&scriptedOllama{})
	chat := &model.Chat{Title: "custom title", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	// 正常完成但零输出：仍写一条空的助手消息，保持回合结构完整
	f.svc.RecordAssistantTurn(f.session(chat.ID), TurnCompleted, nil)

	messages, _ := f.messageRepo.FindAllByChatID(chat.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, "", messages[0].Content)
}

func TestRecordAssistantTurnZeroContentFailureSkipped(t *testing.T) {
	f := newTranscriptFixture(&scriptedOllama{})
	chat := &model.Chat{Title: "custom title", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	annotation := "生成中断: connection refused"
	f.svc.RecordAssistantTurn(f.session(chat.ID), TurnFailed, &annotation)

	messages, _ := f.messageRepo.FindAllByChatID(chat.ID)
	assert.Empty(t, messages)
}

func TestRecordAssistantTurnPartialFailureAnnotated(t *testing.T) {
	f := newTranscriptFixture(&scriptedOllama{})
	chat := &model.Chat{Title: "custom title", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	sess := f.session(chat.ID)
	sess.append("partial out")
	annotation := "生成已被用户停止"
	f.svc.RecordAssistantTurn(sess, TurnCancelled, &annotation)

	messages, _ := f.messageRepo.FindAllByChatID(chat.ID)
	require.Len(t, messages, 1)
	assert.Equal(t, "partial out", messages[0].Content)
	require.NotNil(t, messages[0].Error)
	assert.Equal(t, annotation, *messages[0].Error)
}

func TestTitleGeneratedAfterFirstReply(t *testing.T) {
	prevEnable := config.Conf.Ollama.EnableAutoTitle
	prevModel := config.Conf.Ollama.TitleModel
	config.Conf.Ollama.EnableAutoTitle = true
	config.Conf.Ollama.TitleModel = "llama3.2"
	defer func() {
		config.Conf.Ollama.EnableAutoTitle = prevEnable
		config.Conf.Ollama.TitleModel = prevModel
	}()

	client := &scriptedOllama{chatReply: `"Trip Planning Help"` + "\n"}
	f := newTranscriptFixture(client)
	chat := &model.Chat{Title: "New Chat", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	_, err := f.svc.RecordUserMessage(chat, "help me plan a trip", nil)
	require.NoError(t, err)

	sess := f.session(chat.ID)
	sess.append("Sure, where to?")
	f.svc.RecordAssistantTurn(sess, TurnCompleted, nil)

	updated, err := f.chatRepo.FindByID(chat.ID)
	require.NoError(t, err)
	// 引号和换行被清理
	assert.Equal(t, "Trip Planning Help", updated.Title)
}

func TestTitleNotRegeneratedOnSecondReply(t *testing.T) {
	prevEnable := config.Conf.Ollama.EnableAutoTitle
	prevModel := config.Conf.Ollama.TitleModel
	config.Conf.Ollama.EnableAutoTitle = true
	config.Conf.Ollama.TitleModel = "llama3.2"
	defer func() {
		config.Conf.Ollama.EnableAutoTitle = prevEnable
		config.Conf.Ollama.TitleModel = prevModel
	}()

	client := &scriptedOllama{chatReply: "Should Not Appear"}
	f := newTranscriptFixture(client)
	chat := &model.Chat{Title: "Existing Title", Model: "llama3.2"}
	require.NoError(t, f.chatRepo.Create(chat))

	_, err := f.svc.RecordUserMessage(chat, "hi", nil)
	require.NoError(t, err)

	sess := f.session(chat.ID)
	sess.append("reply")
	f.svc.RecordAssistantTurn(sess, TurnCompleted, nil)

	updated, _ := f.chatRepo.FindByID(chat.ID)
	assert.Equal(t, "Existing Title", updated.Title)
}

func TestSanitizeTitle(t *testing.T) {
	assert.Equal(t, "Hello World", sanitizeTitle("\"Hello World\"\n"))
	assert.Equal(t, "Its a plan", sanitizeTitle("It's a plan"))
	assert.Equal(t, "", sanitizeTitle("  \n "))

	long := sanitizeTitle("A title that keeps going well past the fifty character limit")
	assert.LessOrEqual(t, len([]rune(long)), maxTitleLength)

	// 多字节字符只整字截断，截断结果必须仍是合法 UTF-8
	wide := sanitizeTitle(strings.Repeat("旅", maxTitleLength+10))
	assert.True(t, utf8.ValidString(wide))
	assert.Equal(t, maxTitleLength, len([]rune(wide)))
}
