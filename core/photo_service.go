package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

// Photo is a downloaded profile photo.
type Photo struct {
	Data        []byte
	ContentType string
}

// PhotoService stores one profile photo per user and tracks its key in the
// details row.
type PhotoService struct {
	users   UserRepository
	details DetailsRepository
	store   PhotoStore
}

func NewPhotoService(users UserRepository, details DetailsRepository, store PhotoStore) *PhotoService {
	return &PhotoService{users: users, details: details, store: store}
}

// photoKey is content addressed: <userID>_<sha256 hex><ext>.
func photoKey(userID int64, data []byte, mediaType string) string {
	sum := sha256.Sum256(data)
	return strconv.FormatInt(userID, 10) + "_" + hex.EncodeToString(sum[:]) + allowedImageTypes[mediaType]
}

// Upload validates the image, stores it and records its key. The details row
// is created when missing.
func (s *PhotoService) Upload(ctx context.Context, userID int64, contentType string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w (empty file)", ErrInvalidImage)
	}
	mediaType, err := checkImageType(contentType, data)
	if err != nil {
		return "", err
	}
	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return "", err
	}
	key := photoKey(userID, data, mediaType)
	if err := s.store.Put(ctx, key, data, mediaType); err != nil {
		return "", err
	}
	if err := s.details.SetPhotoURL(ctx, userID, key); err != nil {
		return "", err
	}
	return key, nil
}

func (s *PhotoService) Get(ctx context.Context, userID int64) (*Photo, error) {
	key, err := s.currentKey(ctx, userID)
	if err != nil {
		return nil, err
	}
	data, ct, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Photo{Data: data, ContentType: ct}, nil
}

// Delete removes the stored blob and clears the photo reference.
func (s *PhotoService) Delete(ctx context.Context, userID int64) error {
	key, err := s.currentKey(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return err
	}
	return s.details.ClearPhotoURL(ctx, userID)
}

func (s *PhotoService) currentKey(ctx context.Context, userID int64) (string, error) {
	d, err := s.details.GetDetails(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrDetailsNotFound) {
			return "", ErrPhotoNotFound
		}
		return "", err
	}
	if d.PhotoURL == nil || *d.PhotoURL == "" {
		return "", ErrPhotoNotFound
	}
	return *d.PhotoURL, nil
}
