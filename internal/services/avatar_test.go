package services

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/smarthatch/authserver/internal/storage"
	"github.com/smarthatch/authserver/internal/store"
	"github.com/smarthatch/authserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarService_UploadAndOpen(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryUserRepository()
	objects := storage.NewMemoryObjectStorage("avatars")
	svc := NewAvatarService(repo, objects)

	user, err := repo.Create(ctx, types.User{Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	_, _, err = svc.Open(ctx, user.ID)
	assert.ErrorIs(t, err, ErrAvatarNotFound)

	png := []byte("\x89PNG\r\n\x1a\nfake")
	updated, err := svc.Upload(ctx, user.ID, bytes.NewReader(png), int64(len(png)), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/"+user.ID+".png", updated.AvatarKey)

	rc, contentType, err := svc.Open(ctx, user.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, png, data)
	assert.Equal(t, "image/png", contentType)

	// Replacing with another type removes the old object.
	jpeg := []byte("\xff\xd8\xff fake")
	updated, err = svc.Upload(ctx, user.ID, bytes.NewReader(jpeg), int64(len(jpeg)), "image/jpeg; charset=binary")
	require.NoError(t, err)
	assert.Equal(t, "avatars/"+user.ID+".jpg", updated.AvatarKey)
	_, err = objects.Get(ctx, "avatars/"+user.ID+".png")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestAvatarService_UploadRejects(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryUserRepository()
	svc := NewAvatarService(repo, storage.NewMemoryObjectStorage("avatars"))

	user, err := repo.Create(ctx, types.User{Email: "alice@example.com", PasswordHash: "x"})
	require.NoError(t, err)

	_, err = svc.Upload(ctx, user.ID, bytes.NewReader([]byte("x")), 1, "text/plain")
	assert.ErrorIs(t, err, ErrUnsupportedAvatarType)

	_, err = svc.Upload(ctx, user.ID, bytes.NewReader(nil), MaxAvatarSize+1, "image/png")
	assert.ErrorIs(t, err, ErrAvatarTooLarge)

	_, err = svc.Upload(ctx, user.ID, bytes.NewReader(nil), 0, "image/png")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Upload(ctx, "ghost", bytes.NewReader([]byte("x")), 1, "image/png")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
