// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 业务层哨兵错误。handler 层据此映射 HTTP 状态码。
var (
	// ErrChatNotFound 表示目标对话不存在。
	ErrChatNotFound = errors.New("chat not found")
	// ErrProjectNotFound 表示目标项目不存在。
	ErrProjectNotFound = errors.New("project not found")
	// ErrFileNotFound 表示目标项目文件不存在。
	ErrFileNotFound = errors.New("project file not found")
	// ErrServerNotFound 表示目标推理服务器不存在。
	ErrServerNotFound = errors.New("inference server not found")
	// ErrEmptyMessage 表示用户消息为空。
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrStreamInProgress 表示该对话已有一次生成在进行中。
	ErrStreamInProgress = errors.New("stream already in progress for this chat")
	// ErrNoAvailableServer 表示当前没有可用的推理服务器。
	ErrNoAvailableServer = errors.New("no available inference server")
)
