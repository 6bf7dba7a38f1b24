// Package bootstrap 提供数据库初始化能力：AutoMigrate 建表 + Seed 种子数据，以及离线计数修复。
// 通过 `go run main.go -module init` / `-module repair` 调用，幂等可重复执行。
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/genesis/connector"
	"github.com/ceyewan/genesis/db"
	"github.com/ceyewan/rchat/gateway/config"
	"github.com/ceyewan/rchat/logic"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/repo"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// SeedOptions 种子数据参数
type SeedOptions struct {
	DefaultCommunity string
	AdminUsername    string
	AdminPassword    string
}

// Run 执行数据库初始化：建表 + 种子数据
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, _ := clog.New(&cfg.Log)
	logger.Info("starting database initialization...")

	ctx := context.Background()
	conn, dbInstance, err := open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer dbInstance.Close()

	logger.Info("running AutoMigrate...")
	if err := dbInstance.DB(ctx).AutoMigrate(model.AllModels()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("AutoMigrate completed")

	repos, err := logic.NewRepositories(dbInstance, logger)
	if err != nil {
		return err
	}

	logger.Info("seeding initial data...")
	err = Seed(ctx, repos, SeedOptions{
		DefaultCommunity: cfg.Community.GetDefaultName(),
		AdminUsername:    cfg.Admin.Username,
		AdminPassword:    cfg.Admin.Password,
	}, logger)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	// 启动前以实际行数校正计数
	if _, err := repos.Communities.RecomputeCounts(ctx); err != nil {
		return fmt.Errorf("recompute counts: %w", err)
	}

	logger.Info("database initialization finished successfully")
	return nil
}

// Repair 以实际行数重建全部社区的成员数与频道数
func Repair() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, _ := clog.New(&cfg.Log)

	ctx := context.Background()
	conn, dbInstance, err := open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	defer dbInstance.Close()

	repos, err := logic.NewRepositories(dbInstance, logger)
	if err != nil {
		return err
	}

	changed, err := repos.Communities.RecomputeCounts(ctx)
	if err != nil {
		return fmt.Errorf("recompute counts: %w", err)
	}
	for _, s := range changed {
		logger.Info("server counts repaired",
			clog.String("server_name", s.Name),
			clog.Int64("member_count", s.MemberCount),
			clog.Int64("channel_count", s.ChannelCount))
	}
	logger.Info("count repair finished", clog.Int("changed", len(changed)))
	return nil
}

func open(ctx context.Context, cfg *config.Config, logger clog.Logger) (connector.PostgreSQLConnector, db.DB, error) {
	conn, err := connector.NewPostgreSQL(&cfg.PostgreSQL, connector.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("postgresql connector: %w", err)
	}
	if err := conn.Connect(ctx); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("postgresql connect: %w", err)
	}
	dbInstance, err := db.New(&db.Config{Driver: "postgresql"}, db.WithPostgreSQLConnector(conn), db.WithLogger(logger))
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("db init: %w", err)
	}
	return conn, dbInstance, nil
}

// Seed 插入种子数据（幂等）：系统用户、默认社区及其 general 频道、管理员账号
func Seed(ctx context.Context, repos *logic.Repositories, opts SeedOptions, logger clog.Logger) error {
	if opts.DefaultCommunity == "" {
		opts.DefaultCommunity = "RChat"
	}
	now := time.Now()

	// 1. 系统用户，不可登录
	if _, err := repos.Users.GetUser(ctx, model.SystemUsername); errors.Is(err, repo.ErrNotFound) {
		err = repos.Users.CreateUser(ctx, &model.User{
			Username:     model.SystemUsername,
			PasswordHash: "!",
			PasswordType: "text",
			ProfileType:  "identicon",
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("seed system user: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get system user: %w", err)
	}

	// 2. 默认社区
	if _, err := repos.Communities.GetCommunity(ctx, opts.DefaultCommunity); errors.Is(err, repo.ErrNotFound) {
		err = repos.Communities.CreateCommunity(ctx,
			&model.Server{
				Name:            opts.DefaultCommunity,
				CreatorUsername: model.SystemUsername,
				IsActive:        true,
				CreatedAt:       now,
			},
			&model.ServerMember{
				ServerName: opts.DefaultCommunity,
				Username:   model.SystemUsername,
				Role:       model.RoleAdmin,
				JoinedAt:   now,
				LastSeen:   now,
			},
			&model.Channel{
				ID:         uuid.NewString(),
				ServerName: opts.DefaultCommunity,
				Name:       model.DefaultChannelName,
				IsActive:   true,
				CreatedAt:  now,
			},
		)
		if err != nil {
			return fmt.Errorf("seed default server: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get default server: %w", err)
	}
	logger.Info("default server ready", clog.String("server_name", opts.DefaultCommunity))

	// 3. 管理员账号
	if opts.AdminUsername == "" || opts.AdminPassword == "" {
		logger.Info("admin seed skipped: missing username or password in config")
		return nil
	}
	if _, err := repos.Users.GetUser(ctx, opts.AdminUsername); errors.Is(err, repo.ErrNotFound) {
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash admin password: %w", err)
		}
		err = repos.Users.CreateUser(ctx, &model.User{
			Username:     opts.AdminUsername,
			PasswordHash: string(hash),
			PasswordType: "text",
			ProfileType:  "identicon",
			IsAdmin:      true,
			CreatedAt:    now,
		})
		if err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get admin user: %w", err)
	}
	logger.Info("admin user ready", clog.String("username", opts.AdminUsername))

	// 4. 管理员加入默认社区
	if _, err := repos.Communities.AddMember(ctx, &model.ServerMember{
		ServerName: opts.DefaultCommunity,
		Username:   opts.AdminUsername,
		Role:       model.RoleMember,
		JoinedAt:   now,
		LastSeen:   now,
	}); err != nil {
		return fmt.Errorf("seed admin membership: %w", err)
	}
	logger.Info("admin joined default server", clog.String("username", opts.AdminUsername))
	return nil
}
