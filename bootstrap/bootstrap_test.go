package bootstrap

import (
	"context"
	"testing"

	"github.com/ceyewan/genesis/clog"
	"github.com/ceyewan/rchat/logic"
	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/repo/memrepo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRepos() (*memrepo.Store, *logic.Repositories) {
	s := memrepo.New()
	return s, &logic.Repositories{
		Users:         s,
		Communities:   s,
		Bans:          s,
		Channels:      s,
		Conversations: s,
		Messages:      s,
		Files:         s,
	}
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	_, repos := newRepos()
	opts := SeedOptions{DefaultCommunity: "RChat", AdminUsername: "root", AdminPassword: "rootpass123"}

	require.NoError(t, Seed(ctx, repos, opts, clog.Discard()))

	server, err := repos.Communities.GetCommunity(ctx, "RChat")
	require.NoError(t, err)
	assert.Equal(t, model.SystemUsername, server.CreatorUsername)

	channels, err := repos.Channels.ListChannels(ctx, "RChat")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, model.DefaultChannelName, channels[0].Name)

	admin, err := repos.Users.GetUser(ctx, "root")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte("rootpass123")))

	member, err := repos.Communities.GetMember(ctx, "RChat", "root")
	require.NoError(t, err)
	assert.Equal(t, model.RoleMember, member.Role)

	t.Run("重复执行幂等", func(t *testing.T) {
		require.NoError(t, Seed(ctx, repos, opts, clog.Discard()))

		channels, err := repos.Channels.ListChannels(ctx, "RChat")
		require.NoError(t, err)
		assert.Len(t, channels, 1)

		server, err := repos.Communities.GetCommunity(ctx, "RChat")
		require.NoError(t, err)
		assert.EqualValues(t, 2, server.MemberCount)
	})
}

func TestSeedWithoutAdmin(t *testing.T) {
	ctx := context.Background()
	_, repos := newRepos()

	require.NoError(t, Seed(ctx, repos, SeedOptions{}, clog.Discard()))

	_, err := repos.Communities.GetCommunity(ctx, "RChat")
	require.NoError(t, err)
	n, err := repos.Users.CountUsers(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSeedStoreFailure(t *testing.T) {
	store, repos := newRepos()
	store.FailNext("CreateUser", 1)

	err := Seed(context.Background(), repos, SeedOptions{}, clog.Discard())
	assert.Error(t, err)
}
