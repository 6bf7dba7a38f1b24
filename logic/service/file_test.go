package service

import (
	"context"
	"testing"
	"time"

	"github.com/ceyewan/rchat/model"
	"github.com/ceyewan/rchat/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", false)
	f.addUser(t, "bob", false)

	var report *model.File

	t.Run("登记文件", func(t *testing.T) {
		var err error
		report, err = f.files.RegisterFile(ctx, RegisterFileRequest{
			Uploader: "ALICE", OriginalName: " report.pdf ", ContentType: "application/pdf", Size: 1024,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, report.ID)
		assert.Equal(t, report.ID+".bin", report.FileName)
		assert.Equal(t, "report.pdf", report.OriginalName)
		assert.Equal(t, "alice", report.UploaderUsername)
		assert.WithinDuration(t, time.Now().Add(model.FileRetention), report.ExpiresAt, time.Minute)

		stored, err := f.store.GetFile(ctx, report.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1024, stored.Size)
	})

	t.Run("缺省内容类型", func(t *testing.T) {
		file, err := f.files.RegisterFile(ctx, RegisterFileRequest{Uploader: "alice", OriginalName: "blob", Size: 1})
		require.NoError(t, err)
		assert.Equal(t, "application/octet-stream", file.ContentType)
	})

	t.Run("参数校验", func(t *testing.T) {
		cases := []RegisterFileRequest{
			{Uploader: "alice", OriginalName: "", Size: 1},
			{Uploader: "alice", OriginalName: "a.txt", Size: 0},
			{Uploader: "alice", OriginalName: "a.txt", Size: model.MaxFileSize + 1},
		}
		for _, req := range cases {
			_, err := f.files.RegisterFile(ctx, req)
			assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "%+v", req)
		}

		_, err := f.files.RegisterFile(ctx, RegisterFileRequest{Uploader: "ghost", OriginalName: "a.txt", Size: 1})
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("只列出自己的文件", func(t *testing.T) {
		files, err := f.files.ListFiles(ctx, "alice")
		require.NoError(t, err)
		assert.Len(t, files, 2)

		files, err = f.files.ListFiles(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, files)
	})

	t.Run("只有上传者可以删除", func(t *testing.T) {
		err := f.files.DeleteFile(ctx, report.ID, "bob")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))

		require.NoError(t, f.files.DeleteFile(ctx, report.ID, "alice"))
		files, err := f.files.ListFiles(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, files, 1)
		assert.NotEqual(t, report.ID, files[0].ID)

		err = f.files.DeleteFile(ctx, report.ID, "alice")
		assert.True(t, apperr.IsCode(err, apperr.CodeNotFound))
	})

	t.Run("存储失败", func(t *testing.T) {
		f.store.FailNext("CreateFile", 1)
		_, err := f.files.RegisterFile(ctx, RegisterFileRequest{Uploader: "alice", OriginalName: "x", Size: 1})
		assert.True(t, apperr.IsCode(err, apperr.CodeInternal))

		f.store.FailNext("ListFilesByUploader", 1)
		_, err = f.files.ListFiles(ctx, "alice")
		assert.True(t, apperr.IsCode(err, apperr.CodeInternal))
	})
}
