package model

import (
	"strings"
	"time"
)

// ============================================================================
// 常量
// ============================================================================

// 成员角色
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// 消息内容类型
const (
	ContentTypeText           = "text"
	ContentTypeMarkdown       = "markdown"
	ContentTypeFileAttachment = "file_attachment"
)

// 过滤状态
const (
	FilterStatusClean    = "clean"
	FilterStatusFiltered = "filtered"
)

// 保留身份
const (
	// GuestUsername 未认证 WebSocket 连接使用的身份，不参与在线状态
	GuestUsername = "guest"
	// SystemUsername 默认社区的创建者
	SystemUsername = "system"
)

// DefaultChannelName 新建社区时自动创建的频道
const DefaultChannelName = "general"

// MaxContentLength 消息内容的最大字符数
const MaxContentLength = 4000

// MaxNameLength 用户名、社区名、频道名的最大长度
const MaxNameLength = 64

// FileRetention 上传文件的保留时长
const FileRetention = 24 * time.Hour

// MaxFileSize 单个文件的最大字节数
const MaxFileSize = 25 << 20

// ============================================================================
// 非持久化模型
// ============================================================================

// TargetKind 消息目标类型
type TargetKind string

const (
	TargetChannel      TargetKind = "channel"
	TargetConversation TargetKind = "conversation"
)

// Target 消息目标：频道或私聊会话
type Target struct {
	Kind TargetKind
	ID   string
}

// ChannelTarget 构造频道目标
func ChannelTarget(id string) Target { return Target{Kind: TargetChannel, ID: id} }

// ConversationTarget 构造私聊目标
func ConversationTarget(id string) Target { return Target{Kind: TargetConversation, ID: id} }

// Matches 判断消息是否属于该目标
func (t Target) Matches(msg *Message) bool {
	switch t.Kind {
	case TargetChannel:
		return msg.ChannelID != nil && *msg.ChannelID == t.ID
	case TargetConversation:
		return msg.DMID != nil && *msg.DMID == t.ID
	}
	return false
}

// Attachment 消息附件的元数据视图
type Attachment struct {
	FileID       string `json:"file_id"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	IsDeleted    bool   `json:"is_deleted"`
}

// EnrichedMessage 带发送者资料和附件的消息，用于广播和历史查询
type EnrichedMessage struct {
	*Message
	SenderProfileType string        `json:"sender_profile_type,omitempty"`
	SenderAvatarColor string        `json:"sender_avatar_color,omitempty"`
	Attachments       []*Attachment `json:"attachments,omitempty"`
}

// Other 返回私聊会话中除 username 外的另一方
func (d *DirectMessage) Other(username string) string {
	if strings.EqualFold(d.Username1, username) {
		return d.Username2
	}
	return d.Username1
}

// HasParticipant 判断 username 是否为会话参与者
func (d *DirectMessage) HasParticipant(username string) bool {
	return strings.EqualFold(d.Username1, username) || strings.EqualFold(d.Username2, username)
}
