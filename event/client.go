package event

import (
	"encoding/json"
	"fmt"
)

// ClientKind 客户端发往服务端的消息类型
type ClientKind string

const (
	ClientHeartbeat ClientKind = "heartbeat"
	ClientTyping    ClientKind = "typing"
)

// ClientMessage 客户端消息，未识别的类型由调用方忽略
type ClientMessage struct {
	Type      ClientKind `json:"type"`
	ChannelID string     `json:"channel_id,omitempty"`
}

// DecodeClientMessage 解析客户端帧
func DecodeClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode client message: missing type")
	}
	return &msg, nil
}
