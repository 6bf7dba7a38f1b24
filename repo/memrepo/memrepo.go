// Package memrepo 提供仓储接口的内存实现，供业务层与接口层测试使用。
//
// 语义与 PostgreSQL 实现保持一致：名字比较不区分大小写，历史消息按时间倒序返回且不含已删除消息，
// GetMessage 与之相同会返回已软删除的行。FailNext 可以让指定操作在接下来的若干次调用中失败。
package memrepo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/repo"
)

// Store 内存仓储，实现全部仓储接口
type Store struct {
	mu sync.Mutex

	users         map[string]*model.User
	servers       map[string]*model.Server
	members       map[string]*model.ServerMember
	channels      map[string]*model.Channel
	dms           map[string]*model.DirectMessage
	messages      map[string]*model.Message
	files         map[string]*model.File
	attachments   map[string][]string // message id -> file ids
	siteBans      map[string]*model.BannedUsername
	communityBans map[string]*model.ServerBan

	// failures 记录某个操作接下来需要失败的次数
	failures map[string]int
	calls    map[string]int
}

var _ interface {
	repo.UserRepo
	repo.CommunityRepo
	repo.BanRepo
	repo.ChannelRepo
	repo.ConversationRepo
	repo.MessageRepo
	repo.FileRepo
} = (*Store)(nil)

// New 创建空的内存仓储
func New() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		servers:       make(map[string]*model.Server),
		members:       make(map[string]*model.ServerMember),
		channels:      make(map[string]*model.Channel),
		dms:           make(map[string]*model.DirectMessage),
		messages:      make(map[string]*model.Message),
		files:         make(map[string]*model.File),
		attachments:   make(map[string][]string),
		siteBans:      make(map[string]*model.BannedUsername),
		communityBans: make(map[string]*model.ServerBan),
		failures:      make(map[string]int),
		calls:         make(map[string]int),
	}
}

func lower(s string) string { return strings.ToLower(s) }

func memberKey(server, username string) string { return lower(server) + "/" + lower(username) }

// FailNext 让 op 接下来的 n 次调用返回错误
func (m *Store) FailNext(op string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = n
}

// CallCount 返回 op 被调用的次数
func (m *Store) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// hit 记录调用并按需注入失败，调用方须持有锁
func (m *Store) hit(op string) error {
	m.calls[op]++
	if m.failures[op] > 0 {
		m.failures[op]--
		return fmt.Errorf("injected failure: %s", op)
	}
	return nil
}

func (m *Store) Close() error { return nil }

// ---------------------------------------------------------------- UserRepo

func (m *Store) CreateUser(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateUser"); err != nil {
		return err
	}
	if _, ok := m.users[lower(user.Username)]; ok {
		return fmt.Errorf("duplicate key: %s", user.Username)
	}
	cp := *user
	m.users[lower(user.Username)] = &cp
	return nil
}

func (m *Store) GetUser(_ context.Context, username string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[lower(username)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Store) CountUsers(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.users {
		if k != model.SystemUsername {
			n++
		}
	}
	return n, nil
}

func (m *Store) UpdateLoginState(_ context.Context, username string, attempts int, lockedUntil, lastLogin *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[lower(username)]
	if !ok {
		return repo.ErrNotFound
	}
	u.LoginAttempts = attempts
	u.LockedUntil = lockedUntil
	if lastLogin != nil {
		u.LastLogin = lastLogin
	}
	return nil
}

func (m *Store) DeleteUser(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteUser"); err != nil {
		return err
	}
	delete(m.users, lower(username))
	return nil
}

// ----------------------------------------------------------- CommunityRepo

func (m *Store) CreateCommunity(_ context.Context, server *model.Server, owner *model.ServerMember, general *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[lower(server.Name)]; ok {
		return fmt.Errorf("duplicate key: %s", server.Name)
	}
	s := *server
	s.MemberCount, s.ChannelCount = 1, 1
	m.servers[lower(server.Name)] = &s
	o := *owner
	m.members[memberKey(server.Name, owner.Username)] = &o
	c := *general
	m.channels[c.ID] = &c
	return nil
}

func (m *Store) GetCommunity(_ context.Context, name string) (*model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[lower(name)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) ListCommunities(context.Context) ([]*model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Server, 0, len(m.servers))
	for _, s := range m.servers {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) ListUserCommunities(_ context.Context, username string) ([]*model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type entry struct {
		server   *model.Server
		position int
	}
	var entries []entry
	for _, mem := range m.members {
		if lower(mem.Username) != lower(username) {
			continue
		}
		s := *m.servers[lower(mem.ServerName)]
		entries = append(entries, entry{&s, mem.Position})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].position < entries[j].position })
	out := make([]*model.Server, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.server)
	}
	return out, nil
}

func (m *Store) DeleteCommunity(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.servers, lower(name))
	for k, mem := range m.members {
		if lower(mem.ServerName) == lower(name) {
			delete(m.members, k)
		}
	}
	for id, c := range m.channels {
		if lower(c.ServerName) == lower(name) {
			delete(m.channels, id)
		}
	}
	return nil
}

func (m *Store) TransferOwnership(_ context.Context, name, _, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[lower(name)]
	if !ok {
		return repo.ErrNotFound
	}
	s.CreatorUsername = to
	if mem, ok := m.members[memberKey(name, to)]; ok {
		mem.Role = model.RoleAdmin
	}
	return nil
}

func (m *Store) RecomputeCounts(_ context.Context, names ...string) ([]*model.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("RecomputeCounts"); err != nil {
		return nil, err
	}
	want := make(map[string]bool)
	for _, n := range names {
		want[lower(n)] = true
	}
	var changed []*model.Server
	for key, s := range m.servers {
		if len(want) > 0 && !want[key] {
			continue
		}
		var members, channels int64
		for _, mem := range m.members {
			if lower(mem.ServerName) == key {
				members++
			}
		}
		for _, c := range m.channels {
			if lower(c.ServerName) == key && c.IsActive {
				channels++
			}
		}
		if s.MemberCount != members || s.ChannelCount != channels {
			s.MemberCount, s.ChannelCount = members, channels
			cp := *s
			changed = append(changed, &cp)
		}
	}
	return changed, nil
}

func (m *Store) GetMember(_ context.Context, name, username string) (*model.ServerMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey(name, username)]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *mem
	return &cp, nil
}

func (m *Store) ListMembers(_ context.Context, name string) ([]*model.ServerMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ServerMember
	for _, mem := range m.members {
		if lower(mem.ServerName) == lower(name) {
			cp := *mem
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *Store) AddMember(_ context.Context, member *model.ServerMember) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(member.ServerName, member.Username)
	if _, ok := m.members[key]; ok {
		return false, nil
	}
	s, ok := m.servers[lower(member.ServerName)]
	if !ok {
		return false, repo.ErrNotFound
	}
	if _, banned := m.communityBans[key]; banned {
		return false, repo.ErrBanned
	}
	cp := *member
	m.members[key] = &cp
	s.MemberCount++
	return true, nil
}

func (m *Store) RemoveMember(_ context.Context, name, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(name, username)
	if _, ok := m.members[key]; !ok {
		return false, nil
	}
	delete(m.members, key)
	if s, ok := m.servers[lower(name)]; ok {
		s.MemberCount--
	}
	return true, nil
}

func (m *Store) UpdateMemberRole(_ context.Context, name, username, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[memberKey(name, username)]
	if !ok {
		return repo.ErrNotFound
	}
	mem.Role = role
	return nil
}

func (m *Store) UpdatePositions(_ context.Context, username string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range names {
		if mem, ok := m.members[memberKey(n, username)]; ok {
			mem.Position = i
		}
	}
	return nil
}

func (m *Store) SetPresence(_ context.Context, username string, online bool) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, mem := range m.members {
		if lower(mem.Username) == lower(username) {
			mem.IsOnline = online
			names = append(names, mem.ServerName)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *Store) ResetPresence(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ResetPresence"); err != nil {
		return 0, err
	}
	var n int64
	for _, mem := range m.members {
		if mem.IsOnline {
			mem.IsOnline = false
			n++
		}
	}
	return n, nil
}

func (m *Store) ListMemberCommunityNames(_ context.Context, username string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for _, mem := range m.members {
		if lower(mem.Username) == lower(username) {
			names = append(names, mem.ServerName)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteMembershipsOf 只删除成员行，不维护计数，由 RecomputeCounts 修正
func (m *Store) DeleteMembershipsOf(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteMembershipsOf"); err != nil {
		return err
	}
	for k, mem := range m.members {
		if lower(mem.Username) == lower(username) {
			delete(m.members, k)
		}
	}
	return nil
}

// ----------------------------------------------------------------- BanRepo

func (m *Store) IsSiteBanned(_ context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.siteBans[lower(username)]
	return ok, nil
}

func (m *Store) AddSiteBan(_ context.Context, ban *model.BannedUsername) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("AddSiteBan"); err != nil {
		return err
	}
	if _, ok := m.siteBans[lower(ban.Username)]; !ok {
		cp := *ban
		m.siteBans[lower(ban.Username)] = &cp
	}
	return nil
}

func (m *Store) ListSiteBans(_ context.Context, limit, offset int) ([]*model.BannedUsername, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.BannedUsername
	for _, b := range m.siteBans {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) IsCommunityBanned(_ context.Context, name, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.communityBans[memberKey(name, username)]
	return ok, nil
}

func (m *Store) BanFromCommunity(_ context.Context, ban *model.ServerBan) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(ban.ServerName, ban.Username)
	if _, ok := m.communityBans[key]; ok {
		return false, repo.ErrAlreadyBanned
	}
	cp := *ban
	m.communityBans[key] = &cp
	if _, ok := m.members[key]; !ok {
		return false, nil
	}
	delete(m.members, key)
	m.servers[lower(ban.ServerName)].MemberCount--
	return true, nil
}

func (m *Store) UnbanFromCommunity(_ context.Context, name, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey(name, username)
	if _, ok := m.communityBans[key]; !ok {
		return false, nil
	}
	delete(m.communityBans, key)
	return true, nil
}

func (m *Store) ListCommunityBans(_ context.Context, name string) ([]*model.ServerBan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.ServerBan
	for _, b := range m.communityBans {
		if lower(b.ServerName) == lower(name) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ------------------------------------------------------------- ChannelRepo

func (m *Store) CreateChannel(_ context.Context, channel *model.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.servers[lower(channel.ServerName)]
	if !ok {
		return repo.ErrNotFound
	}
	pos := 0
	for _, c := range m.channels {
		if lower(c.ServerName) == lower(channel.ServerName) && c.Position >= pos {
			pos = c.Position + 1
		}
	}
	channel.Position = pos
	cp := *channel
	m.channels[channel.ID] = &cp
	s.ChannelCount++
	return nil
}

func (m *Store) GetChannel(_ context.Context, id string) (*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok || !c.IsActive {
		return nil, repo.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Store) ListChannels(_ context.Context, serverName string) ([]*model.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Channel
	for _, c := range m.channels {
		if lower(c.ServerName) == lower(serverName) && c.IsActive {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (m *Store) DeactivateChannel(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok || !c.IsActive {
		return repo.ErrNotFound
	}
	active := 0
	for _, other := range m.channels {
		if lower(other.ServerName) == lower(c.ServerName) && other.IsActive {
			active++
		}
	}
	if active <= 1 {
		return repo.ErrLastChannel
	}
	c.IsActive = false
	m.servers[lower(c.ServerName)].ChannelCount--
	return nil
}

func (m *Store) RenameChannel(_ context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok || !c.IsActive {
		return repo.ErrNotFound
	}
	c.Name = name
	return nil
}

// -------------------------------------------------------- ConversationRepo

func (m *Store) GetOrCreateConversation(_ context.Context, dm *model.DirectMessage) (*model.DirectMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.dms {
		if lower(existing.Username1) == lower(dm.Username1) && lower(existing.Username2) == lower(dm.Username2) {
			cp := *existing
			return &cp, false, nil
		}
	}
	cp := *dm
	m.dms[dm.ID] = &cp
	out := cp
	return &out, true, nil
}

func (m *Store) GetConversation(_ context.Context, id string) (*model.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dm, ok := m.dms[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *dm
	return &cp, nil
}

func (m *Store) ListConversations(_ context.Context, username string) ([]*model.DirectMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.DirectMessage
	for _, dm := range m.dms {
		if dm.HasParticipant(username) {
			cp := *dm
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Store) DeleteConversationsOf(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteConversationsOf"); err != nil {
		return err
	}
	for id, dm := range m.dms {
		if !dm.HasParticipant(username) {
			continue
		}
		delete(m.dms, id)
		for mid, msg := range m.messages {
			if msg.DMID != nil && *msg.DMID == id {
				delete(m.messages, mid)
			}
		}
	}
	return nil
}

// ------------------------------------------------------------- MessageRepo

func (m *Store) CreateMessage(_ context.Context, msg *model.Message, fileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateMessage"); err != nil {
		return err
	}
	cp := *msg
	m.messages[msg.ID] = &cp
	if fileID != "" {
		m.attachments[msg.ID] = append(m.attachments[msg.ID], fileID)
	}
	return nil
}

func (m *Store) GetMessage(_ context.Context, id string) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *Store) ListMessages(_ context.Context, target model.Target, limit, offset int) ([]*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Message
	for _, msg := range m.messages {
		if !msg.IsDeleted && target.Matches(msg) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) SoftDeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return repo.ErrNotFound
	}
	msg.IsDeleted = true
	return nil
}

func (m *Store) DeleteMessagesBySender(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteMessagesBySender"); err != nil {
		return err
	}
	for id, msg := range m.messages {
		if lower(msg.SenderUsername) == lower(username) {
			delete(m.messages, id)
			delete(m.attachments, id)
		}
	}
	return nil
}

// ---------------------------------------------------------------- FileRepo

func (m *Store) CreateFile(_ context.Context, file *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("CreateFile"); err != nil {
		return err
	}
	if _, ok := m.files[file.ID]; ok {
		return fmt.Errorf("duplicate key: %s", file.ID)
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now()
	}
	if file.ExpiresAt.IsZero() {
		file.ExpiresAt = time.Now().Add(model.FileRetention)
	}
	cp := *file
	m.files[file.ID] = &cp
	return nil
}

func (m *Store) GetFile(_ context.Context, id string) (*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.IsDeleted {
		return nil, repo.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Store) ListFilesByUploader(_ context.Context, username string) ([]*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListFilesByUploader"); err != nil {
		return nil, err
	}
	var out []*model.File
	for _, f := range m.files {
		if !f.IsDeleted && lower(f.UploaderUsername) == lower(username) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) MarkFileDeleted(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.IsDeleted {
		return repo.ErrNotFound
	}
	f.IsDeleted = true
	return nil
}

func (m *Store) ListAttachments(_ context.Context, messageIDs []string) (map[string][]*model.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]*model.Attachment)
	for _, id := range messageIDs {
		for _, fid := range m.attachments[id] {
			f, ok := m.files[fid]
			if !ok {
				continue
			}
			out[id] = append(out[id], &model.Attachment{
				FileID:       f.ID,
				OriginalName: f.OriginalName,
				ContentType:  f.ContentType,
				Size:         f.Size,
				IsDeleted:    f.IsDeleted,
			})
		}
	}
	return out, nil
}

func (m *Store) DeleteFilesByUploader(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("DeleteFilesByUploader"); err != nil {
		return err
	}
	for id, f := range m.files {
		if lower(f.UploaderUsername) == lower(username) {
			delete(m.files, id)
		}
	}
	return nil
}

func (m *Store) ListExpiredFiles(_ context.Context, now time.Time, limit int) ([]*model.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.hit("ListExpiredFiles"); err != nil {
		return nil, err
	}
	var out []*model.File
	for _, f := range m.files {
		if !f.IsDeleted && !f.ExpiresAt.After(now) {
			cp := *f
			out = append(out, &cp)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *Store) ExpireFile(_ context.Context, file *model.File, notice string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[file.ID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	f.IsDeleted = true
	var ids []string
	for mid, fids := range m.attachments {
		for _, fid := range fids {
			if fid != file.ID {
				continue
			}
			if msg, ok := m.messages[mid]; ok {
				msg.Content = notice
				msg.FilteredContent = nil
			}
			ids = append(ids, mid)
		}
	}
	for _, mid := range ids {
		delete(m.attachments, mid)
	}
	sort.Strings(ids)
	return ids, nil
}

