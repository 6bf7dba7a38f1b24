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

func TestCommunityRepo_Membership(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "bob")
	seedCommunity(t, r, "Gophers", "alice")

	t.Run("创建社区后计数为一", func(t *testing.T) {
		server, err := r.communities.GetCommunity(ctx, "gophers")
		require.NoError(t, err)
		assert.Equal(t, "Gophers", server.Name)
		assert.EqualValues(t, 1, server.MemberCount)
		assert.EqualValues(t, 1, server.ChannelCount)

		owner, err := r.communities.GetMember(ctx, "Gophers", "ALICE")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, owner.Role)
	})

	t.Run("重复加入是幂等的", func(t *testing.T) {
		member := &model.ServerMember{ServerName: "Gophers", Username: "bob", Role: model.RoleMember, JoinedAt: time.Now()}
		created, err := r.communities.AddMember(ctx, member)
		require.NoError(t, err)
		assert.True(t, created)

		again := &model.ServerMember{ServerName: "Gophers", Username: "bob", Role: model.RoleMember, JoinedAt: time.Now()}
		created, err = r.communities.AddMember(ctx, again)
		require.NoError(t, err)
		assert.False(t, created)

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 2, server.MemberCount)
	})

	t.Run("移除成员扣减计数", func(t *testing.T) {
		removed, err := r.communities.RemoveMember(ctx, "Gophers", "BOB")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = r.communities.RemoveMember(ctx, "Gophers", "bob")
		require.NoError(t, err)
		assert.False(t, removed)

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 1, server.MemberCount)

		_, err = r.communities.GetMember(ctx, "Gophers", "bob")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("不存在的社区", func(t *testing.T) {
		_, err := r.communities.GetCommunity(ctx, "nowhere")
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = r.communities.AddMember(ctx, &model.ServerMember{ServerName: "nowhere", Username: "bob", Role: model.RoleMember})
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestCommunityRepo_Presence(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "bob")
	seedCommunity(t, r, "Alpha", "alice")
	seedCommunity(t, r, "Beta", "alice")

	names, err := r.communities.SetPresence(ctx, "Alice", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta"}, names)

	members, err := r.communities.ListMembers(ctx, "Alpha")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.True(t, members[0].IsOnline)

	t.Run("新成员关系沿用当前在线状态", func(t *testing.T) {
		seedCommunity(t, r, "Gamma", "bob")
		created, err := r.communities.AddMember(ctx, &model.ServerMember{
			ServerName: "Gamma", Username: "alice", Role: model.RoleMember, JoinedAt: time.Now(),
		})
		require.NoError(t, err)
		require.True(t, created)

		member, err := r.communities.GetMember(ctx, "Gamma", "alice")
		require.NoError(t, err)
		assert.True(t, member.IsOnline)
	})

	names, err = r.communities.SetPresence(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, names, 3)
	member, err := r.communities.GetMember(ctx, "Beta", "alice")
	require.NoError(t, err)
	assert.False(t, member.IsOnline)

	t.Run("重置清除全部在线标记", func(t *testing.T) {
		_, err := r.communities.SetPresence(ctx, "alice", true)
		require.NoError(t, err)
		_, err = r.communities.SetPresence(ctx, "bob", true)
		require.NoError(t, err)

		n, err := r.communities.ResetPresence(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 4, n)

		for _, name := range []string{"Alpha", "Beta", "Gamma"} {
			members, err := r.communities.ListMembers(ctx, name)
			require.NoError(t, err)
			for _, m := range members {
				assert.False(t, m.IsOnline, "%s/%s", name, m.Username)
			}
		}

		n, err = r.communities.ResetPresence(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestCommunityRepo_RecomputeCounts(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "bob")
	seedCommunity(t, r, "Gophers", "alice")
	seedCommunity(t, r, "Rustaceans", "bob")

	_, err := r.communities.AddMember(ctx, &model.ServerMember{ServerName: "Gophers", Username: "bob", Role: model.RoleMember})
	require.NoError(t, err)
	extra := &model.Channel{ID: "extra-channel", ServerName: "Gophers", Name: "random"}
	require.NoError(t, r.channels.CreateChannel(ctx, extra))

	// 人为制造计数漂移
	require.NoError(t, database.DB(ctx).Model(&model.Server{}).
		Where("name = ?", "Gophers").
		Updates(map[string]any{"member_count": 40, "channel_count": 0}).Error)

	t.Run("重算结果等于实际行数", func(t *testing.T) {
		changed, err := r.communities.RecomputeCounts(ctx)
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.Equal(t, "Gophers", changed[0].Name)
		assert.EqualValues(t, 2, changed[0].MemberCount)
		assert.EqualValues(t, 2, changed[0].ChannelCount)

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 2, server.MemberCount)
		assert.EqualValues(t, 2, server.ChannelCount)
	})

	t.Run("重复执行是幂等的", func(t *testing.T) {
		changed, err := r.communities.RecomputeCounts(ctx)
		require.NoError(t, err)
		assert.Empty(t, changed)
	})

	t.Run("只处理指定社区", func(t *testing.T) {
		require.NoError(t, database.DB(ctx).Model(&model.Server{}).
			Where("name IN ?", []string{"Gophers", "Rustaceans"}).
			Update("member_count", 9).Error)

		changed, err := r.communities.RecomputeCounts(ctx, "Rustaceans")
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.Equal(t, "Rustaceans", changed[0].Name)

		gophers, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.EqualValues(t, 9, gophers.MemberCount)
	})
}

func TestCommunityRepo_TransferAndDelete(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedUser(t, r, "bob")
	_, general := seedCommunity(t, r, "Gophers", "alice")
	_, err := r.communities.AddMember(ctx, &model.ServerMember{ServerName: "Gophers", Username: "bob", Role: model.RoleMember})
	require.NoError(t, err)

	t.Run("转让所有权", func(t *testing.T) {
		require.NoError(t, r.communities.TransferOwnership(ctx, "Gophers", "alice", "bob"))

		server, err := r.communities.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.Equal(t, "bob", server.CreatorUsername)

		bob, err := r.communities.GetMember(ctx, "Gophers", "bob")
		require.NoError(t, err)
		assert.Equal(t, model.RoleAdmin, bob.Role)
		alice, err := r.communities.GetMember(ctx, "Gophers", "alice")
		require.NoError(t, err)
		assert.Equal(t, model.RoleMember, alice.Role)
	})

	t.Run("删除社区连同频道与消息", func(t *testing.T) {
		channelID := general.ID
		require.NoError(t, r.messages.CreateMessage(ctx, &model.Message{
			ID: "m-1", ChannelID: &channelID, SenderUsername: "alice", Content: "hi",
			ContentType: model.ContentTypeText, FilterStatus: model.FilterStatusClean,
		}, ""))

		require.NoError(t, r.communities.DeleteCommunity(ctx, "Gophers"))

		_, err := r.communities.GetCommunity(ctx, "Gophers")
		assert.True(t, errors.Is(err, ErrNotFound))
		_, err = r.messages.GetMessage(ctx, "m-1")
		assert.True(t, errors.Is(err, ErrNotFound))
		names, err := r.communities.ListMemberCommunityNames(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestCommunityRepo_UserOrdering(t *testing.T) {
	database, cleanup := setupTestContext(t)
	defer cleanup()

	r := newTestRepos(t, database)
	ctx := context.Background()
	seedUser(t, r, "alice")
	seedCommunity(t, r, "Alpha", "alice")
	seedCommunity(t, r, "Beta", "alice")
	seedCommunity(t, r, "Gamma", "alice")

	require.NoError(t, r.communities.UpdatePositions(ctx, "alice", []string{"Gamma", "Alpha", "Beta"}))

	servers, err := r.communities.ListUserCommunities(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "Gamma", servers[0].Name)
	assert.Equal(t, "Alpha", servers[1].Name)
	assert.Equal(t, "Beta", servers[2].Name)
}
