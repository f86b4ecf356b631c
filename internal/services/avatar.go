package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/smarthatch/authserver/internal/storage"
	"github.com/smarthatch/authserver/types"
)

// MaxAvatarSize is the largest accepted avatar upload in bytes.
const MaxAvatarSize = 2 << 20

var (
	// ErrAvatarTooLarge is returned when an upload exceeds MaxAvatarSize.
	ErrAvatarTooLarge = errors.New("avatar exceeds 2 MiB")

	// ErrUnsupportedAvatarType is returned for non-image content types.
	ErrUnsupportedAvatarType = errors.New("avatar must be a png, jpeg, gif or webp image")

	// ErrAvatarNotFound is returned when the user has no avatar.
	ErrAvatarNotFound = errors.New("avatar not found")
)

var avatarExtensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// AvatarService stores profile pictures in object storage and records the
// object key on the user.
type AvatarService struct {
	users   UserRepository
	storage storage.ObjectStorage
}

func NewAvatarService(users UserRepository, objects storage.ObjectStorage) *AvatarService {
	return &AvatarService{users: users, storage: objects}
}

// Upload validates and stores an avatar, replacing any previous one.
func (s *AvatarService) Upload(ctx context.Context, userID string, r io.Reader, size int64, contentType string) (types.User, error) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return types.User{}, ErrUnsupportedAvatarType
	}
	ext, ok := avatarExtensions[strings.ToLower(mediaType)]
	if !ok {
		return types.User{}, ErrUnsupportedAvatarType
	}
	if size <= 0 {
		return types.User{}, fmt.Errorf("%w: avatar is empty", ErrValidation)
	}
	if size > MaxAvatarSize {
		return types.User{}, ErrAvatarTooLarge
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return types.User{}, mapNotFound(err)
	}

	key := avatarKey(user.ID, ext)
	if err := s.storage.Put(ctx, key, io.LimitReader(r, size), size, mediaType); err != nil {
		return types.User{}, fmt.Errorf("store avatar: %w", err)
	}

	previous := user.AvatarKey
	user.AvatarKey = key
	updated, err := s.users.Update(ctx, user)
	if err != nil {
		return types.User{}, fmt.Errorf("save avatar key: %w", err)
	}

	// Switching image type leaves the old object behind under another key.
	if previous != "" && previous != key {
		_ = s.storage.Delete(ctx, previous)
	}
	return updated, nil
}

// Open returns the user's avatar and its content type. The caller closes the reader.
func (s *AvatarService) Open(ctx context.Context, userID string) (io.ReadCloser, string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, "", mapNotFound(err)
	}
	if user.AvatarKey == "" {
		return nil, "", ErrAvatarNotFound
	}

	obj, err := s.storage.Get(ctx, user.AvatarKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrAvatarNotFound
		}
		return nil, "", fmt.Errorf("open avatar: %w", err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(user.AvatarKey))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return obj, contentType, nil
}

func avatarKey(userID, ext string) string {
	return path.Join("avatars", userID+ext)
}
