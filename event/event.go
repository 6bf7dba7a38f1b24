// Package event 定义广播总线上传递的领域事件。
//
// 事件集合是封闭的：每种事件对应一个 Kind，序列化为带 "type" 字段的 JSON 对象，
// 客户端按 type 分发。
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ceyewan/rchat/model"
)

// Kind 事件类型标签
type Kind string

const (
	KindConnected                  Kind = "connected"
	KindPong                       Kind = "pong"
	KindError                      Kind = "error"
	KindPresenceChanged            Kind = "user_online_status_changed"
	KindNewMessage                 Kind = "new_message"
	KindNewConversationMessage     Kind = "new_dm_message"
	KindMessageDeleted             Kind = "message_deleted"
	KindIdentityBanned             Kind = "user_banned"
	KindUserTyping                 Kind = "user_typing"
	KindServerCreated              Kind = "server_created"
	KindServerDeleted              Kind = "server_deleted"
	KindServerMemberJoined         Kind = "server_member_joined"
	KindServerMemberLeft           Kind = "server_member_left"
	KindServerMemberRoleUpdated    Kind = "server_member_role_updated"
	KindServerMemberBanned         Kind = "server_member_banned"
	KindServerOwnershipTransferred Kind = "server_ownership_transferred"
	KindServerStatsUpdated         Kind = "server_stats_updated"
	KindChannelCreated             Kind = "channel_created"
	KindChannelDeleted             Kind = "channel_deleted"
	KindChannelRenamed             Kind = "channel_renamed"
	KindConversationCreated        Kind = "dm_created"
)

// Event 总线事件
type Event interface {
	Kind() Kind
}

// ============================================================================
// 连接级事件（只发给单个连接）
// ============================================================================

type Connected struct {
	Username string `json:"username"`
}

type Pong struct{}

type Error struct {
	Message string `json:"message"`
}

// ============================================================================
// 在线状态
// ============================================================================

type PresenceChanged struct {
	ServerName string `json:"server_name"`
	Username   string `json:"username"`
	IsOnline   bool   `json:"is_online"`
}

type UserTyping struct {
	Username  string `json:"username"`
	ChannelID string `json:"channel_id"`
}

// ============================================================================
// 消息
// ============================================================================

// MessagePayload 频道与私聊消息共用的字段
type MessagePayload struct {
	MessageID         string              `json:"message_id"`
	SenderUsername    string              `json:"sender_username"`
	Content           string              `json:"content"`
	FilteredContent   *string             `json:"filtered_content,omitempty"`
	ContentType       string              `json:"content_type"`
	FilterStatus      string              `json:"filter_status"`
	CreatedAt         string              `json:"created_at"`
	SenderProfileType string              `json:"sender_profile_type,omitempty"`
	SenderAvatarColor string              `json:"sender_avatar_color,omitempty"`
	Attachments       []*model.Attachment `json:"attachments,omitempty"`
}

type NewMessage struct {
	ChannelID string `json:"channel_id"`
	MessagePayload
}

type NewConversationMessage struct {
	DMID string `json:"dm_id"`
	MessagePayload
}

type MessageDeleted struct {
	MessageID string  `json:"message_id"`
	ChannelID *string `json:"channel_id,omitempty"`
	DMID      *string `json:"dm_id,omitempty"`
}

type ConversationCreated struct {
	DMID      string `json:"dm_id"`
	Username1 string `json:"username1"`
	Username2 string `json:"username2"`
}

// ============================================================================
// 审核
// ============================================================================

type IdentityBanned struct {
	Username string `json:"username"`
}

type ServerMemberBanned struct {
	ServerName  string `json:"server_name"`
	Username    string `json:"username"`
	MemberCount int64  `json:"member_count"`
}

// ============================================================================
// 社区与频道
// ============================================================================

type ServerCreated struct {
	ServerName    string `json:"server_name"`
	OwnerUsername string `json:"owner_username"`
}

type ServerDeleted struct {
	ServerName string `json:"server_name"`
}

type ServerMemberJoined struct {
	ServerName  string `json:"server_name"`
	Username    string `json:"username"`
	MemberCount int64  `json:"member_count"`
}

type ServerMemberLeft struct {
	ServerName  string `json:"server_name"`
	Username    string `json:"username"`
	MemberCount int64  `json:"member_count"`
}

type ServerMemberRoleUpdated struct {
	ServerName string `json:"server_name"`
	Username   string `json:"username"`
	NewRole    string `json:"new_role"`
}

type ServerOwnershipTransferred struct {
	ServerName    string `json:"server_name"`
	PreviousOwner string `json:"previous_owner"`
	NewOwner      string `json:"new_owner"`
}

type ServerStatsUpdated struct {
	ServerName   string `json:"server_name"`
	MemberCount  int64  `json:"member_count"`
	ChannelCount int64  `json:"channel_count"`
}

type ChannelCreated struct {
	ServerName   string `json:"server_name"`
	ChannelID    string `json:"channel_id"`
	ChannelName  string `json:"channel_name"`
	ChannelCount int64  `json:"channel_count"`
}

type ChannelDeleted struct {
	ServerName   string `json:"server_name"`
	ChannelID    string `json:"channel_id"`
	ChannelCount int64  `json:"channel_count"`
}

type ChannelRenamed struct {
	ServerName string `json:"server_name"`
	ChannelID  string `json:"channel_id"`
	NewName    string `json:"new_name"`
}

func (Connected) Kind() Kind                  { return KindConnected }
func (Pong) Kind() Kind                       { return KindPong }
func (Error) Kind() Kind                      { return KindError }
func (PresenceChanged) Kind() Kind            { return KindPresenceChanged }
func (UserTyping) Kind() Kind                 { return KindUserTyping }
func (NewMessage) Kind() Kind                 { return KindNewMessage }
func (NewConversationMessage) Kind() Kind     { return KindNewConversationMessage }
func (MessageDeleted) Kind() Kind             { return KindMessageDeleted }
func (ConversationCreated) Kind() Kind        { return KindConversationCreated }
func (IdentityBanned) Kind() Kind             { return KindIdentityBanned }
func (ServerMemberBanned) Kind() Kind         { return KindServerMemberBanned }
func (ServerCreated) Kind() Kind              { return KindServerCreated }
func (ServerDeleted) Kind() Kind              { return KindServerDeleted }
func (ServerMemberJoined) Kind() Kind         { return KindServerMemberJoined }
func (ServerMemberLeft) Kind() Kind           { return KindServerMemberLeft }
func (ServerMemberRoleUpdated) Kind() Kind    { return KindServerMemberRoleUpdated }
func (ServerOwnershipTransferred) Kind() Kind { return KindServerOwnershipTransferred }
func (ServerStatsUpdated) Kind() Kind         { return KindServerStatsUpdated }
func (ChannelCreated) Kind() Kind             { return KindChannelCreated }
func (ChannelDeleted) Kind() Kind             { return KindChannelDeleted }
func (ChannelRenamed) Kind() Kind             { return KindChannelRenamed }

// NewMessagePayload 从持久化后的消息构造广播载荷
func NewMessagePayload(msg *model.EnrichedMessage) MessagePayload {
	return MessagePayload{
		MessageID:         msg.ID,
		SenderUsername:    msg.SenderUsername,
		Content:           msg.Content,
		FilteredContent:   msg.FilteredContent,
		ContentType:       msg.ContentType,
		FilterStatus:      msg.FilterStatus,
		CreatedAt:         msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		SenderProfileType: msg.SenderProfileType,
		SenderAvatarColor: msg.SenderAvatarColor,
		Attachments:       msg.Attachments,
	}
}

// Marshal 将事件编码为 {"type": kind, ...fields} 形式的 JSON
func Marshal(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", e.Kind(), err)
	}
	head := `{"type":"` + string(e.Kind()) + `"`
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}
