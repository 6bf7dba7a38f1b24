package service

import (
	"context"
	"testing"

	"github.com/ceyewan/rchat/event"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "zed", false)
	f.addUser(t, "Amy", false)
	f.pub.reset()

	dm, err := f.conversation.GetOrCreateConversation(ctx, "zed", "amy")
	require.NoError(t, err)

	t.Run("参与者规范化排序", func(t *testing.T) {
		assert.Equal(t, "Amy", dm.Username1)
		assert.Equal(t, "zed", dm.Username2)
	})

	t.Run("新建时广播一次", func(t *testing.T) {
		events := f.pub.all()
		require.Len(t, events, 1)
		ev := events[0].(event.ConversationCreated)
		assert.Equal(t, dm.ID, ev.DMID)
	})

	t.Run("反向获取同一会话且不广播", func(t *testing.T) {
		f.pub.reset()
		again, err := f.conversation.GetOrCreateConversation(ctx, "AMY", "Zed")
		require.NoError(t, err)
		assert.Equal(t, dm.ID, again.ID)
		assert.Empty(t, f.pub.all())
	})

	t.Run("自聊会话", func(t *testing.T) {
		self, err := f.conversation.GetOrCreateConversation(ctx, "zed", "zed")
		require.NoError(t, err)
		assert.Equal(t, "zed", self.Other("zed"))
	})

	t.Run("对方不存在", func(t *testing.T) {
		_, err := f.conversation.GetOrCreateConversation(ctx, "zed", "nobody")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("列出会话", func(t *testing.T) {
		dms, err := f.conversation.ListConversations(ctx, "zed")
		require.NoError(t, err)
		assert.Len(t, dms, 2)
	})
}
