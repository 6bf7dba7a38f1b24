package service

import (
	"context"
	"testing"

	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "owner", false)
	f.addUser(t, "member", false)
	f.addUser(t, "outsider", false)
	general := f.seedCommunity(t, "Gophers", "owner")
	f.join(t, "Gophers", "member", model.RoleMember)
	f.pub.reset()

	var random *model.Channel

	t.Run("管理员创建频道", func(t *testing.T) {
		var err error
		random, err = f.channel.CreateChannel(ctx, "Gophers", "random", "owner")
		require.NoError(t, err)
		assert.Equal(t, 1, random.Position)

		events := f.pub.all()
		require.Len(t, events, 1)
		ev := events[0].(event.ChannelCreated)
		assert.Equal(t, "random", ev.ChannelName)
		assert.EqualValues(t, 2, ev.ChannelCount)
	})

	t.Run("普通成员不能创建", func(t *testing.T) {
		_, err := f.channel.CreateChannel(ctx, "Gophers", "mine", "member")
		assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientRole))
	})

	t.Run("频道名校验", func(t *testing.T) {
		_, err := f.channel.CreateChannel(ctx, "Gophers", "", "owner")
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	})

	t.Run("重命名", func(t *testing.T) {
		f.pub.reset()
		renamed, err := f.channel.RenameChannel(ctx, random.ID, "off-topic", "owner")
		require.NoError(t, err)
		assert.Equal(t, "off-topic", renamed.Name)
		ev := f.pub.all()[0].(event.ChannelRenamed)
		assert.Equal(t, "off-topic", ev.NewName)

		_, err = f.channel.RenameChannel(ctx, random.ID, "x", "member")
		assert.True(t, apperr.IsCode(err, apperr.CodeInsufficientRole))
	})

	t.Run("列出频道需要成员资格", func(t *testing.T) {
		channels, err := f.channel.ListChannels(ctx, "Gophers", "member")
		require.NoError(t, err)
		require.Len(t, channels, 2)
		assert.Equal(t, general.ID, channels[0].ID)

		_, err = f.channel.ListChannels(ctx, "Gophers", "outsider")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotMember))
	})

	t.Run("删除频道", func(t *testing.T) {
		f.pub.reset()
		require.NoError(t, f.channel.DeleteChannel(ctx, random.ID, "owner"))
		ev := f.pub.all()[0].(event.ChannelDeleted)
		assert.EqualValues(t, 1, ev.ChannelCount)

		err := f.channel.DeleteChannel(ctx, random.ID, "owner")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("最后一个频道不能删除", func(t *testing.T) {
		f.pub.reset()
		err := f.channel.DeleteChannel(ctx, general.ID, "owner")
		assert.True(t, apperr.IsCode(err, apperr.CodeBadRequest))
		assert.Empty(t, f.pub.all())

		channels, err := f.channel.ListChannels(ctx, "Gophers", "owner")
		require.NoError(t, err)
		assert.Len(t, channels, 1)
	})
}
