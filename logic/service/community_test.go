package service

import (
	"context"
	"testing"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommunityService_Create(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", false)

	server, err := f.community.CreateCommunity(ctx, "Gophers", "alice")
	require.NoError(t, err)
	assert.Equal(t, "Gophers", server.Name)
	assert.Equal(t, []event.Kind{event.KindServerCreated}, f.pub.kinds())

	member, err := f.store.GetMember(ctx, "Gophers", "alice")
	require.NoError(t, err)
	assert.Equal(t, model.RoleAdmin, member.Role)

	channels, err := f.channel.ListChannels(ctx, "Gophers", "alice")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, model.DefaultChannelName, channels[0].Name)

	t.Run("名称大小写不敏感冲突", func(t *testing.T) {
		_, err := f.community.CreateCommunity(ctx, "GOPHERS", "alice")
		assert.True(t, apperr.IsCode(err, apperr.CodeConflict))
	})

	t.Run("名称校验", func(t *testing.T) {
		for _, name := range []string{"", "darn club", "café", string(make([]byte, model.MaxNameLength+1))} {
			_, err := f.community.CreateCommunity(ctx, name, "alice")
			assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "name=%q", name)
		}
	})
}

func TestCommunityService_JoinAndLeave(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", false)
	f.addUser(t, "bob", false)
	f.seedCommunity(t, "Gophers", "alice")
	f.pub.reset()

	t.Run("加入广播成员数", func(t *testing.T) {
		server, err := f.community.JoinCommunity(ctx, "gophers", "bob")
		require.NoError(t, err)
		assert.EqualValues(t, 2, server.MemberCount)

		events := f.pub.all()
		require.Len(t, events, 1)
		ev := events[0].(event.ServerMemberJoined)
		assert.Equal(t, "Gophers", ev.ServerName)
		assert.EqualValues(t, 2, ev.MemberCount)
	})

	t.Run("重复加入幂等且不广播", func(t *testing.T) {
		f.pub.reset()
		server, err := f.community.JoinCommunity(ctx, "Gophers", "bob")
		require.NoError(t, err)
		assert.EqualValues(t, 2, server.MemberCount)
		assert.Empty(t, f.pub.all())
	})

	t.Run("社区不存在", func(t *testing.T) {
		_, err := f.community.JoinCommunity(ctx, "Nowhere", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("预检查之后被封禁时仍然拒绝加入", func(t *testing.T) {
		f.addUser(t, "carol", false)
		_, err := f.store.BanFromCommunity(ctx, &model.ServerBan{ServerName: "Gophers", Username: "carol", BannedBy: "alice"})
		require.NoError(t, err)

		stale := NewCommunityService(f.store, f.store, staleBans{f.store}, f.authz, nil, f.pub, clog.Discard(), testDefaultCommunity)
		f.pub.reset()
		_, err = stale.JoinCommunity(ctx, "Gophers", "carol")
		assert.True(t, apperr.IsCode(err, apperr.CodeForbidden))
		assert.Empty(t, f.pub.all())

		_, err = f.store.GetMember(ctx, "Gophers", "carol")
		assert.Error(t, err)
	})

	t.Run("创建者不能离开", func(t *testing.T) {
		err := f.community.RemoveMember(ctx, "Gophers", "alice", "alice")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("不能离开默认社区", func(t *testing.T) {
		f.join(t, testDefaultCommunity, "bob", model.RoleMember)
		err := f.community.RemoveMember(ctx, testDefaultCommunity, "bob", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("离开后广播成员数", func(t *testing.T) {
		f.pub.reset()
		require.NoError(t, f.community.RemoveMember(ctx, "Gophers", "bob", "bob"))
		events := f.pub.all()
		require.Len(t, events, 1)
		ev := events[0].(event.ServerMemberLeft)
		assert.EqualValues(t, 1, ev.MemberCount)

		err := f.community.RemoveMember(ctx, "Gophers", "bob", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})
}

func TestCommunityService_Roles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "owner", false)
	f.addUser(t, "bob", false)
	f.addUser(t, "carol", false)
	f.seedCommunity(t, "Gophers", "owner")
	f.join(t, "Gophers", "bob", model.RoleMember)
	f.join(t, "Gophers", "carol", model.RoleMember)

	t.Run("普通成员不能移除他人", func(t *testing.T) {
		err := f.community.RemoveMember(ctx, "Gophers", "carol", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientRole))
	})

	t.Run("提升为管理员", func(t *testing.T) {
		f.pub.reset()
		require.NoError(t, f.community.UpdateMemberRole(ctx, "Gophers", "bob", model.RoleAdmin, "owner"))
		ev := f.pub.all()[0].(event.ServerMemberRoleUpdated)
		assert.Equal(t, model.RoleAdmin, ev.NewRole)

		require.NoError(t, f.community.RemoveMember(ctx, "Gophers", "carol", "bob"))
	})

	t.Run("创建者角色不可修改", func(t *testing.T) {
		err := f.community.UpdateMemberRole(ctx, "Gophers", "owner", model.RoleMember, "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("未知角色", func(t *testing.T) {
		err := f.community.UpdateMemberRole(ctx, "Gophers", "bob", "superuser", "owner")
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	})

	t.Run("转让所有权", func(t *testing.T) {
		err := f.community.TransferOwnership(ctx, "Gophers", "bob", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientRole))

		err = f.community.TransferOwnership(ctx, "Gophers", "carol", "owner")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))

		f.pub.reset()
		require.NoError(t, f.community.TransferOwnership(ctx, "Gophers", "bob", "owner"))
		ev := f.pub.all()[0].(event.ServerOwnershipTransferred)
		assert.Equal(t, "owner", ev.PreviousOwner)
		assert.Equal(t, "bob", ev.NewOwner)

		server, err := f.store.GetCommunity(ctx, "Gophers")
		require.NoError(t, err)
		assert.Equal(t, "bob", server.CreatorUsername)
	})
}

func TestCommunityService_Delete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "owner", false)
	f.addUser(t, "bob", false)
	f.addUser(t, "root", true)
	f.seedCommunity(t, "Gophers", "owner")
	f.seedCommunity(t, "Rustaceans", "owner")
	f.join(t, "Gophers", "bob", model.RoleAdmin)

	t.Run("社区管理员不能删除", func(t *testing.T) {
		err := f.community.DeleteCommunity(ctx, "Gophers", "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientRole))
	})

	t.Run("默认社区不能删除", func(t *testing.T) {
		err := f.community.DeleteCommunity(ctx, testDefaultCommunity, "root")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
	})

	t.Run("创建者删除", func(t *testing.T) {
		f.pub.reset()
		require.NoError(t, f.community.DeleteCommunity(ctx, "Gophers", "owner"))
		assert.Equal(t, []event.Kind{event.KindServerDeleted}, f.pub.kinds())
		_, err := f.store.GetCommunity(ctx, "Gophers")
		assert.Error(t, err)
	})

	t.Run("全站管理员删除", func(t *testing.T) {
		require.NoError(t, f.community.DeleteCommunity(ctx, "Rustaceans", "root"))
	})
}

func TestCommunityService_OrderingAndListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", false)
	f.addUser(t, "outsider", false)
	f.seedCommunity(t, "A", "alice")
	f.seedCommunity(t, "B", "alice")
	f.join(t, testDefaultCommunity, "alice", model.RoleMember)

	require.NoError(t, f.community.ReorderCommunities(ctx, "alice", []string{"B", testDefaultCommunity, "A"}))
	servers, err := f.community.ListCommunities(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.Equal(t, "B", servers[0].Name)
	assert.Equal(t, testDefaultCommunity, servers[1].Name)
	assert.Equal(t, "A", servers[2].Name)

	err = f.community.ReorderCommunities(ctx, "outsider", []string{"A"})
	assert.True(t, apperr.IsCode(err, apperr.CodeNotMember))

	_, err = f.community.ListMembers(ctx, "A", "outsider")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotMember))
	members, err := f.community.ListMembers(ctx, "A", "alice")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestCommunityService_RecomputeCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", false)
	f.addUser(t, "bob", false)
	f.seedCommunity(t, "Gophers", "alice")
	f.join(t, "Gophers", "bob", model.RoleMember)

	// 只删成员行制造计数漂移
	require.NoError(t, f.store.DeleteMembershipsOf(ctx, "bob"))
	f.pub.reset()

	changed, err := f.community.RecomputeCounts(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "Gophers", changed[0].Name)

	events := f.pub.all()
	require.Len(t, events, 1)
	ev := events[0].(event.ServerStatsUpdated)
	assert.EqualValues(t, 1, ev.MemberCount)
	assert.EqualValues(t, 1, ev.ChannelCount)

	f.pub.reset()
	changed, err = f.community.RecomputeCounts(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, f.pub.all())
}

func TestCommunityService_PublicReads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "owner", false)
	general := f.seedCommunity(t, "Gophers", "owner")
	_, err := f.messaging.SendMessage(ctx, SendMessageRequest{
		Target:  model.ChannelTarget(general.ID),
		Sender:  "owner",
		Content: "hi",
	})
	require.NoError(t, err)

	server, err := f.community.LookupCommunity(ctx, "gophers")
	require.NoError(t, err)
	assert.Equal(t, "Gophers", server.Name)
	assert.EqualValues(t, 1, server.MemberCount)

	members, err := f.community.ListPublicMembers(ctx, "Gophers")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "owner", members[0].Username)

	channels, err := f.channel.ListPublicChannels(ctx, "Gophers")
	require.NoError(t, err)
	require.Len(t, channels, 1)

	history, err := f.messaging.ListPublicMessages(ctx, general.ID, 10, -1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)

	_, err = f.community.LookupCommunity(ctx, "nowhere")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, err = f.community.ListPublicMembers(ctx, "nowhere")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, err = f.channel.ListPublicChannels(ctx, "nowhere")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	_, err = f.messaging.ListPublicMessages(ctx, "missing", 10, 0)
	assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
}
