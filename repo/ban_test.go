package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ceyewan/rchat/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanRepo_SiteBan(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()

	t.Run("封禁日志不区分大小写", func(t *testing.T) {
		require.NoError(t, r.bans.AddSiteBan(ctx, &model.BannedUsername{
			Username: "Mallory", BannedBy: "admin", Reason: "spam", BannedAt: time.Now(),
		}))

		for _, name := range []string{"Mallory", "mallory", "MALLORY"} {
			banned, err := r.bans.IsSiteBanned(ctx, name)
			require.NoError(t, err)
			assert.True(t, banned, name)
		}

		banned, err := r.bans.IsSiteBanned(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, banned)
	})

	t.Run("重复写入被忽略", func(t *testing.T) {
		require.NoError(t, r.bans.AddSiteBan(ctx, &model.BannedUsername{Username: "mallory", BannedBy: "admin", BannedAt: time.Now()}))
		require.NoError(t, r.bans.AddSiteBan(ctx, &model.BannedUsername{Username: "Mallory", BannedBy: "admin", BannedAt: time.Now()}))

		bans, err := r.bans.ListSiteBans(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, bans, 1)
		assert.Equal(t, "Mallory", bans[0].Username)
		assert.Equal(t, "spam", bans[0].Reason)
	})

	t.Run("空用户名", func(t *testing.T) {
		assert.Error(t, r.bans.AddSiteBan(ctx, &model.BannedUsername{}))
	})
}

func TestBanRepo_CommunityBan(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "bob")
	seedCommunity(t, r, "Gophers", "alice")
	_, err := r.communities.AddMember(ctx, &model.ServerMember{ServerName: "Gophers", Username: "bob", Role: model.RoleMember})
	require.NoError(t, err)

	t.Run("封禁移除成员关系并扣减计数", func(t *testing.T) {
		removed, err := r.bans.BanFromCommunity(ctx, &model.ServerBan{
			ServerName: "Gophers", Username: "bob", BannedBy: "alice", BannedAt: time.Now(),
		})
		require.NoError(t, err)
		assert.True(t, removed)

		banned, err := r.bans.IsCommunityBanned(ctx, "gophers", "BOB")
		require.NoError(t, err)
		assert.True(t, banned)

		_, err = r.communities.GetMember(ctx, "Gophers", "bob")
		assert.True(t, errors.Is(err, ErrNotFound))

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 1, server.MemberCount)
	})

	t.Run("重复封禁失败且不改变计数", func(t *testing.T) {
		_, err := r.bans.BanFromCommunity(ctx, &model.ServerBan{
			ServerName: "Gophers", Username: "bob", BannedBy: "alice", BannedAt: time.Now(),
		})
		assert.True(t, errors.Is(err, ErrAlreadyBanned))

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 1, server.MemberCount)
	})

	t.Run("被封禁用户不能加入", func(t *testing.T) {
		created, err := r.communities.AddMember(ctx, &model.ServerMember{
			ServerName: "Gophers", Username: "Bob", Role: model.RoleMember, JoinedAt: time.Now(),
		})
		assert.True(t, errors.Is(err, ErrBanned))
		assert.False(t, created)

		_, err = r.communities.GetMember(ctx, "Gophers", "bob")
		assert.True(t, errors.Is(err, ErrNotFound))
		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 1, server.MemberCount)
	})

	t.Run("列出并解除封禁", func(t *testing.T) {
		bans, err := r.bans.ListCommunityBans(ctx, "Gophers")
		require.NoError(t, err)
		require.Len(t, bans, 1)
		assert.Equal(t, "alice", bans[0].BannedBy)

		unbanned, err := r.bans.UnbanFromCommunity(ctx, "Gophers", "Bob")
		require.NoError(t, err)
		assert.True(t, unbanned)

		unbanned, err = r.bans.UnbanFromCommunity(ctx, "Gophers", "bob")
		require.NoError(t, err)
		assert.False(t, unbanned)
	})

	t.Run("封禁非成员不扣减计数", func(t *testing.T) {
		seedUser(t, r, "carol")
		removed, err := r.bans.BanFromCommunity(ctx, &model.ServerBan{
			ServerName: "Gophers", Username: "carol", BannedBy: "alice", BannedAt: time.Now(),
		})
		require.NoError(t, err)
		assert.False(t, removed)

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 1, server.MemberCount)
	})
}

// 全站封禁的每一步都可以安全重放
func TestBanRepo_CascadeStepsIdempotent(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "mallory")
	_, general := seedCommunity(t, r, "Gophers", "alice")
	_, err := r.communities.AddMember(ctx, &model.ServerMember{ServerName: "Gophers", Username: "mallory", Role: model.RoleMember})
	require.NoError(t, err)

	require.NoError(t, r.files.CreateFile(ctx, &model.File{
		ID: "f-1", OriginalName: "a.txt", FileName: "f-1.txt", ContentType: "text/plain", Size: 3, UploaderUsername: "mallory",
	}))
	channelID := general.ID
	require.NoError(t, r.messages.CreateMessage(ctx, &model.Message{
		ID: "m-1", ChannelID: &channelID, SenderUsername: "mallory", Content: "spam",
		ContentType: model.ContentTypeFileAttachment, FilterStatus: model.FilterStatusClean,
	}, "f-1"))

	steps := []func() error{
		func() error {
			return r.bans.AddSiteBan(ctx, &model.BannedUsername{Username: "mallory", BannedBy: "alice", BannedAt: time.Now()})
		},
		func() error { return r.messages.DeleteMessagesBySender(ctx, "MALLORY") },
		func() error { return r.communities.DeleteMembershipsOf(ctx, "mallory") },
		func() error { return r.conversations.DeleteConversationsOf(ctx, "mallory") },
		func() error { return r.files.DeleteFilesByUploader(ctx, "mallory") },
		func() error { return r.users.DeleteUser(ctx, "Mallory") },
	}
	for round := 0; round < 2; round++ {
		for _, step := range steps {
			require.NoError(t, step())
		}
	}

	_, err = r.users.GetUser(ctx, "mallory")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.messages.GetMessage(ctx, "m-1")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.files.GetFile(ctx, "f-1")
	assert.True(t, errors.Is(err, ErrNotFound))

	changed, err := r.communities.RecomputeCounts(ctx, "Gophers")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.EqualValues(t, 1, changed[0].MemberCount)
}
