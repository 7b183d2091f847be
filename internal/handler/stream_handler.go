// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 负责流式回合的两种传输：SSE 与 WebSocket。
type StreamHandler struct {
	streamService service.StreamService
}

// NewStreamHandler 创建一个新的 StreamHandler 实例。
func NewStreamHandler(streamService service.StreamService) *StreamHandler {
	return &StreamHandler{streamService: streamService}
}

// streamChunk 是线上增量的 JSON 形状。
type streamChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// streamError 是线上错误标记的 JSON 形状。
type streamError struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

// sseSink 把增量写成 Server-Sent Events。
type sseSink struct {
	c *gin.Context
}

func (s *sseSink) send(v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s *sseSink) SendContent(content string) error {
	return s.send(streamChunk{Content: content, Done: false})
}

func (s *sseSink) SendDone() error {
	return s.send(streamChunk{Content: "", Done: true})
}

func (s *sseSink) SendError(message, detail string) error {
	return s.send(streamError{Error: message, Detail: detail})
}

// Stream 处理 SSE 流式回合请求。
// 流开始前的失败以普通 JSON 响应返回；流开始后的任何结局
// 都以 SSE 事件收尾，HTTP 状态保持 200。
func (h *StreamHandler) Stream(c *gin.Context) {
	message := c.Query("message")
	serverID := c.Query("server_id")
	var fileIDs []string
	if raw := c.Query("file_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				fileIDs = append(fileIDs, id)
			}
		}
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	sink := &sseSink{c: c}
	err := h.streamService.StreamTurn(c.Request.Context(), c.Param("chatId"), message, fileIDs, serverID, sink)
	if err != nil {
		// 头还没发出去之前的失败仍可返回 JSON
		if !c.Writer.Written() {
			c.Writer.Header().Del("Content-Type")
			status, msg := mapTurnError(err)
			c.JSON(status, gin.H{"code": status, "message": msg, "data": nil})
			return
		}
		_ = sink.SendError("回合执行失败", err.Error())
	}
}

// StopStream 处理中断流式回合的请求。
func (h *StreamHandler) StopStream(c *gin.Context) {
	err := h.streamService.StopStream(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		status, msg := mapTurnError(err)
		c.JSON(status, gin.H{"code": status, "message": msg, "data": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "停止请求已受理", "data": nil})
}

// wsSink 把增量写到 WebSocket 连接。gorilla 的连接不允许并发写，
// 停止确认等控制消息与增量共用同一把写锁。
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) writeJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *wsSink) SendContent(content string) error {
	return s.writeJSON(streamChunk{Content: content, Done: false})
}

func (s *wsSink) SendDone() error {
	return s.writeJSON(streamChunk{Content: "", Done: true})
}

func (s *wsSink) SendError(message, detail string) error {
	return s.writeJSON(streamError{Error: message, Detail: detail})
}

// wsInbound 是 WebSocket 入站消息的形状。
type wsInbound struct {
	Type     string   `json:"type"`
	Content  string   `json:"content"`
	ServerID string   `json:"server_id"`
	FileIDs  []string `json:"file_ids"`
}

// HandleWebSocket 处理一个传入的 WebSocket 聊天连接。
// 入站 {"type":"message"} 触发一个回合，{"type":"stop"} 置位停止标志；
// 回合进行中读循环继续运行，停止指令因此总能被及时处理。
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	chatID := c.Param("chatId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立: chat=%s", chatID)
	sink := &wsSink{conn: conn}

	var turnWG sync.WaitGroup
	defer turnWG.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var in wsInbound
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = sink.SendError("无效的消息格式", err.Error())
			continue
		}

		switch in.Type {
		case "stop":
			if err := h.streamService.StopStream(c.Request.Context(), chatID); err != nil {
				log.Warnf("置位停止标志失败: chat=%s, err=%v", chatID, err)
			}
		case "message":
			turnWG.Add(1)
			go func(in wsInbound) {
				defer turnWG.Done()
				err := h.streamService.StreamTurn(c.Request.Context(), chatID, in.Content, in.FileIDs, in.ServerID, sink)
				if err != nil {
					_, msg := mapTurnError(err)
					_ = sink.SendError(msg, err.Error())
				}
			}(in)
		default:
			_ = sink.SendError("未知的消息类型", in.Type)
		}
	}
}

// bufferSink 把整个回合累积在内存里，供非流式端点使用。
type bufferSink struct {
	content    strings.Builder
	errMessage string
	errDetail  string
}

func (s *bufferSink) SendContent(content string) error {
	s.content.WriteString(content)
	return nil
}

func (s *bufferSink) SendDone() error { return nil }

func (s *bufferSink) SendError(message, detail string) error {
	s.errMessage = message
	s.errDetail = detail
	return nil
}
