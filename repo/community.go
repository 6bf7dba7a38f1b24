package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/rchat/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// communityRepo 实现 CommunityRepo 接口
type communityRepo struct {
	db     db.DB
	logger clog.Logger
}

// NewCommunityRepo 创建 CommunityRepo 实例
func NewCommunityRepo(database db.DB, opts ...Option) (CommunityRepo, error) {
	if database == nil {
		return nil, fmt.Errorf("database cannot be nil")
	}
	logger, err := newLogger("community_repo", opts)
	if err != nil {
		return nil, err
	}
	return &communityRepo{db: database, logger: logger}, nil
}

// CreateCommunity 创建社区、创建者成员关系与默认频道
func (r *communityRepo) CreateCommunity(ctx context.Context, server *model.Server, owner *model.ServerMember, general *model.Channel) error {
	if server == nil || owner == nil || general == nil {
		return fmt.Errorf("server, owner and channel cannot be nil")
	}

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		server.MemberCount = 1
		server.ChannelCount = 1
		if err := tx.Create(server).Error; err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		if err := tx.Create(owner).Error; err != nil {
			return fmt.Errorf("failed to create owner membership: %w", err)
		}
		if err := tx.Create(general).Error; err != nil {
			return fmt.Errorf("failed to create default channel: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("创建社区失败",
			clog.String("server_name", server.Name),
			clog.Error(err))
		return err
	}

	r.logger.Info("创建社区成功",
		clog.String("server_name", server.Name),
		clog.String("creator", server.CreatorUsername))
	return nil
}

// GetCommunity 按名称查询社区（不区分大小写）
func (r *communityRepo) GetCommunity(ctx context.Context, name string) (*model.Server, error) {
	if name == "" {
		return nil, fmt.Errorf("server name cannot be empty")
	}

	var server model.Server
	if err := r.db.DB(ctx).Where("LOWER(name) = LOWER(?)", name).First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("server %s: %w", name, ErrNotFound)
		}
		r.logger.Error("获取社区失败",
			clog.String("server_name", name),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get server: %w", err)
	}
	return &server, nil
}

// ListCommunities 列出全部社区
func (r *communityRepo) ListCommunities(ctx context.Context) ([]*model.Server, error) {
	var servers []*model.Server
	if err := r.db.DB(ctx).Order("created_at ASC").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	return servers, nil
}

// ListUserCommunities 按用户自定义顺序列出其加入的社区
func (r *communityRepo) ListUserCommunities(ctx context.Context, username string) ([]*model.Server, error) {
	var servers []*model.Server
	if err := r.db.DB(ctx).Table("t_server s").
		Select("s.*").
		Joins("INNER JOIN t_server_member m ON m.server_name = s.name").
		Where("LOWER(m.username) = LOWER(?)", username).
		Order("m.position ASC, m.joined_at ASC").
		Scan(&servers).Error; err != nil {
		r.logger.Error("获取用户社区列表失败",
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to list user servers: %w", err)
	}
	return servers, nil
}

// DeleteCommunity 删除社区及其频道、消息、成员和封禁记录
func (r *communityRepo) DeleteCommunity(ctx context.Context, name string) error {
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		channelIDs := tx.Model(&model.Channel{}).Select("id").Where("server_name = ?", name)
		messageIDs := tx.Model(&model.Message{}).Select("id").Where("channel_id IN (?)", channelIDs)

		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&model.FileAttachment{}).Error; err != nil {
			return fmt.Errorf("failed to delete attachments: %w", err)
		}
		if err := tx.Where("channel_id IN (?)", channelIDs).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("server_name = ?", name).Delete(&model.Channel{}).Error; err != nil {
			return fmt.Errorf("failed to delete channels: %w", err)
		}
		if err := tx.Where("server_name = ?", name).Delete(&model.ServerMember{}).Error; err != nil {
			return fmt.Errorf("failed to delete members: %w", err)
		}
		if err := tx.Where("server_name = ?", name).Delete(&model.ServerBan{}).Error; err != nil {
			return fmt.Errorf("failed to delete bans: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&model.Server{}).Error; err != nil {
			return fmt.Errorf("failed to delete server: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("删除社区失败",
			clog.String("server_name", name),
			clog.Error(err))
		return err
	}
	r.logger.Info("删除社区成功", clog.String("server_name", name))
	return nil
}

// TransferOwnership 转让社区所有权：新所有者提升为管理员，原所有者降为成员
func (r *communityRepo) TransferOwnership(ctx context.Context, name, from, to string) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		if err := tx.Model(&model.Server{}).Where("name = ?", name).
			Update("creator_username", to).Error; err != nil {
			return fmt.Errorf("failed to update creator: %w", err)
		}
		if err := tx.Model(&model.ServerMember{}).
			Where("server_name = ? AND username = ?", name, to).
			Update("role", model.RoleAdmin).Error; err != nil {
			return fmt.Errorf("failed to promote new owner: %w", err)
		}
		if err := tx.Model(&model.ServerMember{}).
			Where("server_name = ? AND username = ?", name, from).
			Update("role", model.RoleMember).Error; err != nil {
			return fmt.Errorf("failed to demote previous owner: %w", err)
		}
		return nil
	})
}

type countRow struct {
	ServerName string
	N          int64
}

// RecomputeCounts 用实际成员数和活跃频道数覆盖计数
func (r *communityRepo) RecomputeCounts(ctx context.Context, names ...string) ([]*model.Server, error) {
	var changed []*model.Server

	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		serverQuery := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		memberQuery := tx.Model(&model.ServerMember{}).Select("server_name, COUNT(*) AS n")
		channelQuery := tx.Model(&model.Channel{}).Select("server_name, COUNT(*) AS n").Where("is_active = ?", true)
		if len(names) > 0 {
			serverQuery = serverQuery.Where("name IN ?", names)
			memberQuery = memberQuery.Where("server_name IN ?", names)
			channelQuery = channelQuery.Where("server_name IN ?", names)
		}

		var servers []*model.Server
		if err := serverQuery.Find(&servers).Error; err != nil {
			return fmt.Errorf("failed to load servers: %w", err)
		}
		var memberRows, channelRows []countRow
		if err := memberQuery.Group("server_name").Scan(&memberRows).Error; err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}
		if err := channelQuery.Group("server_name").Scan(&channelRows).Error; err != nil {
			return fmt.Errorf("failed to count channels: %w", err)
		}

		members := make(map[string]int64, len(memberRows))
		for _, row := range memberRows {
			members[row.ServerName] = row.N
		}
		channels := make(map[string]int64, len(channelRows))
		for _, row := range channelRows {
			channels[row.ServerName] = row.N
		}

		for _, s := range servers {
			m, c := members[s.Name], channels[s.Name]
			if s.MemberCount == m && s.ChannelCount == c {
				continue
			}
			if err := tx.Model(&model.Server{}).Where("name = ?", s.Name).Updates(map[string]any{
				"member_count":  m,
				"channel_count": c,
			}).Error; err != nil {
				return fmt.Errorf("failed to update counts of %s: %w", s.Name, err)
			}
			s.MemberCount, s.ChannelCount = m, c
			changed = append(changed, s)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("重算社区计数失败", clog.Error(err))
		return nil, err
	}

	if len(changed) > 0 {
		r.logger.Info("社区计数已修正", clog.Int("changed", len(changed)))
	}
	return changed, nil
}

// GetMember 查询成员关系
func (r *communityRepo) GetMember(ctx context.Context, name, username string) (*model.ServerMember, error) {
	var member model.ServerMember
	if err := r.db.DB(ctx).
		Where("LOWER(server_name) = LOWER(?) AND LOWER(username) = LOWER(?)", name, username).
		First(&member).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("member %s of %s: %w", username, name, ErrNotFound)
		}
		r.logger.Error("获取成员失败",
			clog.String("server_name", name),
			clog.String("username", username),
			clog.Error(err))
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &member, nil
}

// ListMembers 列出社区成员
func (r *communityRepo) ListMembers(ctx context.Context, name string) ([]*model.ServerMember, error) {
	var members []*model.ServerMember
	if err := r.db.DB(ctx).
		Where("LOWER(server_name) = LOWER(?)", name).
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// AddMember 加入社区；在线状态沿用用户在其他社区的当前值
func (r *communityRepo) AddMember(ctx context.Context, member *model.ServerMember) (bool, error) {
	if member == nil {
		return false, fmt.Errorf("member cannot be nil")
	}

	var created bool
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var online bool
		if err := tx.Model(&model.ServerMember{}).
			Select("COALESCE(BOOL_OR(is_online), false)").
			Where("LOWER(username) = LOWER(?)", member.Username).
			Scan(&online).Error; err != nil {
			return fmt.Errorf("failed to read presence: %w", err)
		}
		member.IsOnline = member.IsOnline || online

		// 与 BanFromCommunity 一样先锁社区行，封禁检查与插入之间不会插入新的封禁
		if err := lockServerTx(tx, member.ServerName); err != nil {
			return err
		}
		var banned int64
		if err := tx.Model(&model.ServerBan{}).
			Where("LOWER(server_name) = LOWER(?) AND LOWER(username) = LOWER(?)", member.ServerName, member.Username).
			Count(&banned).Error; err != nil {
			return fmt.Errorf("failed to check server ban: %w", err)
		}
		if banned > 0 {
			return fmt.Errorf("member %s of %s: %w", member.Username, member.ServerName, ErrBanned)
		}

		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(member)
		if res.Error != nil {
			return fmt.Errorf("failed to add member: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		created = true
		if err := tx.Model(&model.Server{}).Where("name = ?", member.ServerName).
			UpdateColumn("member_count", gorm.Expr("member_count + 1")).Error; err != nil {
			return fmt.Errorf("failed to increment member count: %w", err)
		}
		return nil
	})
	if errors.Is(err, ErrBanned) {
		return false, err
	}
	if err != nil {
		r.logger.Error("加入社区失败",
			clog.String("server_name", member.ServerName),
			clog.String("username", member.Username),
			clog.Error(err))
		return false, err
	}
	return created, nil
}

// RemoveMember 删除成员关系
func (r *communityRepo) RemoveMember(ctx context.Context, name, username string) (bool, error) {
	var removed bool
	err := r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		removed, err = removeMemberTx(tx, name, username)
		return err
	})
	if err != nil {
		r.logger.Error("移除成员失败",
			clog.String("server_name", name),
			clog.String("username", username),
			clog.Error(err))
		return false, err
	}
	return removed, nil
}

// lockServerTx 在事务内对社区行加行锁，加入与封禁以此串行化
func lockServerTx(tx *gorm.DB, name string) error {
	var server model.Server
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("name").
		Where("name = ?", name).
		First(&server).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("server %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to lock server: %w", err)
	}
	return nil
}

// removeMemberTx 在事务内删除成员关系并扣减计数
func removeMemberTx(tx *gorm.DB, name, username string) (bool, error) {
	res := tx.Where("server_name = ? AND LOWER(username) = LOWER(?)", name, username).
		Delete(&model.ServerMember{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := tx.Model(&model.Server{}).Where("name = ?", name).
		UpdateColumn("member_count", gorm.Expr("GREATEST(member_count - 1, 0)")).Error; err != nil {
		return false, fmt.Errorf("failed to decrement member count: %w", err)
	}
	return true, nil
}

// UpdateMemberRole 更新成员角色
func (r *communityRepo) UpdateMemberRole(ctx context.Context, name, username, role string) error {
	res := r.db.DB(ctx).Model(&model.ServerMember{}).
		Where("server_name = ? AND LOWER(username) = LOWER(?)", name, username).
		Update("role", role)
	if res.Error != nil {
		r.logger.Error("更新成员角色失败",
			clog.String("server_name", name),
			clog.String("username", username),
			clog.Error(res.Error))
		return fmt.Errorf("failed to update member role: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("member %s of %s: %w", username, name, ErrNotFound)
	}
	return nil
}

// UpdatePositions 按 names 的顺序写入用户的社区排序
func (r *communityRepo) UpdatePositions(ctx context.Context, username string, names []string) error {
	return r.db.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		for i, name := range names {
			if err := tx.Model(&model.ServerMember{}).
				Where("LOWER(server_name) = LOWER(?) AND LOWER(username) = LOWER(?)", name, username).
				Update("position", i).Error; err != nil {
				return fmt.Errorf("failed to update position: %w", err)
			}
		}
		return nil
	})
}

// SetPresence 更新用户在所有社区的在线状态
func (r *communityRepo) SetPresence(ctx context.Context, username string, online bool) ([]string, error) {
	if err := r.db.DB(ctx).Model(&model.ServerMember{}).
		Where("LOWER(username) = LOWER(?)", username).
		Updates(map[string]any{
			"is_online": online,
			"last_seen": time.Now(),
		}).Error; err != nil {
		r.logger.Error("更新在线状态失败",
			clog.String("username", username),
			clog.Any("online", online),
			clog.Error(err))
		return nil, fmt.Errorf("failed to set presence: %w", err)
	}
	return r.ListMemberCommunityNames(ctx, username)
}

// ResetPresence 清除全部在线标记
func (r *communityRepo) ResetPresence(ctx context.Context) (int64, error) {
	res := r.db.DB(ctx).Model(&model.ServerMember{}).
		Where("is_online = ?", true).
		Update("is_online", false)
	if res.Error != nil {
		r.logger.Error("重置在线状态失败", clog.Error(res.Error))
		return 0, fmt.Errorf("failed to reset presence: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListMemberCommunityNames 列出用户所在社区名
func (r *communityRepo) ListMemberCommunityNames(ctx context.Context, username string) ([]string, error) {
	var names []string
	if err := r.db.DB(ctx).Model(&model.ServerMember{}).
		Where("LOWER(username) = LOWER(?)", username).
		Order("server_name ASC").
		Pluck("server_name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list member communities: %w", err)
	}
	return names, nil
}

// DeleteMembershipsOf 删除用户的全部成员关系，计数由调用方重算
func (r *communityRepo) DeleteMembershipsOf(ctx context.Context, username string) error {
	if err := r.db.DB(ctx).
		Where("LOWER(username) = LOWER(?)", username).
		Delete(&model.ServerMember{}).Error; err != nil {
		r.logger.Error("删除成员关系失败",
			clog.String("username", username),
			clog.Error(err))
		return fmt.Errorf("failed to delete memberships: %w", err)
	}
	return nil
}

// Close 释放资源
func (r *communityRepo) Close() error {
	return nil
}
