package model

import (
	"time"
)

// ============================================================================
// 持久化模型（PostgreSQL）
// 以下结构体的 GORM tag 是数据库表结构的唯一真相来源 (Single Source of Truth)。
// 表结构通过 `go run main.go -module init` 调用 GORM AutoMigrate 自动创建/更新。
//
// 索引总览：
//
//	表                   索引名                      列                                  类型       用途
//	──────────────────── ────────────────────────── ──────────────────────────────────── ────────── ─────────────────────────────
//	t_user               PK                         username                            主键       按用户名精确查询
//	t_server             PK                         name                                主键       按社区名查询
//	t_server_member      PK                         (server_name, username)             复合主键   成员资格判断 / 成员列表
//	t_server_member      idx_server_member_user     username                            普通       反查用户加入的社区（在线状态广播）
//	t_channel            PK                         id                                  主键       —
//	t_channel            idx_channel_server         (server_name, position)             复合       按社区列出频道
//	t_direct_message     PK                         id                                  主键       —
//	t_direct_message     uniq_dm_pair               (username1, username2)              唯一复合   规范化参与者对，防重复会话
//	t_message            PK                         id                                  主键       —
//	t_message            idx_message_channel        (channel_id, created_at)            复合       频道历史消息
//	t_message            idx_message_dm             (dm_id, created_at)                 复合       私聊历史消息
//	t_message            idx_message_sender         sender_username                     普通       封禁级联删除
//	t_file               PK                         id                                  主键       —
//	t_file               idx_file_expires           (is_deleted, expires_at)            复合       过期文件清理任务
//	t_file_attachment    PK                         (file_id, message_id)               复合主键   —
//	t_file_attachment    idx_attachment_message     message_id                          普通       按消息查附件
//	t_banned_username    PK                         username                            主键       全站封禁日志（注册拦截）
//	t_server_ban         PK                         (server_name, username)             复合主键   社区封禁判断
//
// ============================================================================

// User 用户表
type User struct {
	Username      string     `gorm:"primaryKey;column:username;type:varchar(64);not null" json:"username"`
	PasswordHash  string     `gorm:"column:password_hash;type:varchar(128);not null" json:"-"`
	PasswordType  string     `gorm:"column:password_type;type:varchar(16);not null;default:'text'" json:"password_type"`
	ProfileType   string     `gorm:"column:profile_type;type:varchar(16);not null;default:'identicon'" json:"profile_type"`
	AvatarColor   string     `gorm:"column:avatar_color;type:varchar(16)" json:"avatar_color,omitempty"`
	IsAdmin       bool       `gorm:"column:is_admin;not null;default:false" json:"is_admin"`
	LoginAttempts int        `gorm:"column:login_attempts;not null;default:0" json:"-"`
	LockedUntil   *time.Time `gorm:"column:locked_until" json:"-"`
	LastLogin     *time.Time `gorm:"column:last_login" json:"last_login,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Server 社区表
// member_count / channel_count 为反规范化计数，由成员与频道操作在同一事务内维护，
// 可通过 RecomputeCounts 从实际行数重建。
type Server struct {
	Name            string    `gorm:"primaryKey;column:name;type:varchar(64);not null" json:"name"`
	CreatorUsername string    `gorm:"column:creator_username;type:varchar(64);not null" json:"creator_username"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	MemberCount     int64     `gorm:"column:member_count;not null;default:0" json:"member_count"`
	ChannelCount    int64     `gorm:"column:channel_count;not null;default:0" json:"channel_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// ServerMember 社区成员表
type ServerMember struct {
	ServerName string    `gorm:"primaryKey;column:server_name;type:varchar(64);not null" json:"server_name"`
	Username   string    `gorm:"primaryKey;column:username;type:varchar(64);not null;index:idx_server_member_user" json:"username"`
	Role       string    `gorm:"column:role;type:varchar(16);not null;default:'member'" json:"role"`
	IsOnline   bool      `gorm:"column:is_online;not null;default:false" json:"is_online"`
	LastSeen   time.Time `gorm:"column:last_seen" json:"last_seen"`
	Position   int       `gorm:"column:position;not null;default:0" json:"position"`
	JoinedAt   time.Time `gorm:"column:joined_at" json:"joined_at"`
}

// Channel 频道表，删除为软删除（is_active = false）
type Channel struct {
	ID         string    `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	ServerName string    `gorm:"column:server_name;type:varchar(64);not null;index:idx_channel_server,priority:1" json:"server_name"`
	Name       string    `gorm:"column:name;type:varchar(64);not null" json:"name"`
	Position   int       `gorm:"column:position;not null;default:0;index:idx_channel_server,priority:2" json:"position"`
	IsActive   bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// DirectMessage 私聊会话表，参与者对按 (较小, 较大) 规范化存储
type DirectMessage struct {
	ID            string     `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	Username1     string     `gorm:"column:username1;type:varchar(64);not null;uniqueIndex:uniq_dm_pair,priority:1" json:"username1"`
	Username2     string     `gorm:"column:username2;type:varchar(64);not null;uniqueIndex:uniq_dm_pair,priority:2" json:"username2"`
	LastMessageAt *time.Time `gorm:"column:last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Message 消息表，channel_id 与 dm_id 有且仅有一个非空
type Message struct {
	ID              string     `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	ChannelID       *string    `gorm:"column:channel_id;type:varchar(64);index:idx_message_channel,priority:1" json:"channel_id,omitempty"`
	DMID            *string    `gorm:"column:dm_id;type:varchar(64);index:idx_message_dm,priority:1" json:"dm_id,omitempty"`
	SenderUsername  string     `gorm:"column:sender_username;type:varchar(64);not null;index:idx_message_sender" json:"sender_username"`
	Content         string     `gorm:"column:content;type:text;not null" json:"content"`
	FilteredContent *string    `gorm:"column:filtered_content;type:text" json:"filtered_content,omitempty"`
	ContentType     string     `gorm:"column:content_type;type:varchar(32);not null;default:'text'" json:"content_type"`
	FilterStatus    string     `gorm:"column:filter_status;type:varchar(16);not null;default:'clean'" json:"filter_status"`
	IsDeleted       bool       `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	CreatedAt       time.Time  `gorm:"index:idx_message_channel,priority:2;index:idx_message_dm,priority:2" json:"created_at"`
	EditedAt        *time.Time `gorm:"column:edited_at" json:"edited_at,omitempty"`
}

// File 文件元数据表，文件内容存储不在本服务范围内
type File struct {
	ID               string    `gorm:"primaryKey;column:id;type:varchar(64);not null" json:"id"`
	OriginalName     string    `gorm:"column:original_name;type:varchar(255);not null" json:"original_name"`
	FileName         string    `gorm:"column:file_name;type:varchar(255);not null" json:"file_name"`
	ContentType      string    `gorm:"column:content_type;type:varchar(128)" json:"content_type"`
	Size             int64     `gorm:"column:size;not null;default:0" json:"size"`
	UploaderUsername string    `gorm:"column:uploader_username;type:varchar(64);not null;index" json:"uploader_username"`
	ExpiresAt        time.Time `gorm:"column:expires_at;index:idx_file_expires,priority:2" json:"expires_at"`
	DownloadCount    int64     `gorm:"column:download_count;not null;default:0" json:"download_count"`
	IsDeleted        bool      `gorm:"column:is_deleted;not null;default:false;index:idx_file_expires,priority:1" json:"is_deleted"`
	CreatedAt        time.Time `json:"created_at"`
}

// FileAttachment 消息与文件的关联表
type FileAttachment struct {
	FileID    string `gorm:"primaryKey;column:file_id;type:varchar(64);not null"`
	MessageID string `gorm:"primaryKey;column:message_id;type:varchar(64);not null;index:idx_attachment_message"`
	Position  int    `gorm:"column:position;not null;default:0"`
}

// BannedUsername 全站封禁日志，只追加不清理
type BannedUsername struct {
	Username string    `gorm:"primaryKey;column:username;type:varchar(64);not null" json:"username"`
	BannedBy string    `gorm:"column:banned_by;type:varchar(64);not null" json:"banned_by"`
	Reason   string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	BannedAt time.Time `gorm:"column:banned_at" json:"banned_at"`
}

// ServerBan 社区封禁表
type ServerBan struct {
	ServerName string    `gorm:"primaryKey;column:server_name;type:varchar(64);not null" json:"server_name"`
	Username   string    `gorm:"primaryKey;column:username;type:varchar(64);not null" json:"username"`
	BannedBy   string    `gorm:"column:banned_by;type:varchar(64);not null" json:"banned_by"`
	Reason     string    `gorm:"column:reason;type:text" json:"reason,omitempty"`
	BannedAt   time.Time `gorm:"column:banned_at" json:"banned_at"`
}

// ============================================================================
// 表名映射
// ============================================================================

func (User) TableName() string           { return "t_user" }
func (Server) TableName() string         { return "t_server" }
func (ServerMember) TableName() string   { return "t_server_member" }
func (Channel) TableName() string        { return "t_channel" }
func (DirectMessage) TableName() string  { return "t_direct_message" }
func (Message) TableName() string        { return "t_message" }
func (File) TableName() string           { return "t_file" }
func (FileAttachment) TableName() string { return "t_file_attachment" }
func (BannedUsername) TableName() string { return "t_banned_username" }
func (ServerBan) TableName() string      { return "t_server_ban" }

// AllModels 返回所有需要 AutoMigrate 的模型列表
func AllModels() []any {
	return []any{
		&User{},
		&Server{},
		&ServerMember{},
		&Channel{},
		&DirectMessage{},
		&Message{},
		&File{},
		&FileAttachment{},
		&BannedUsername{},
		&ServerBan{},
	}
}
