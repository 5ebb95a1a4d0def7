package accounts

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// MaxAvatarSize is the largest accepted avatar upload
const MaxAvatarSize int64 = 5 * 1024 * 1024

var avatarExtensions = map[string]struct{}{
	"jpg":  {},
	"jpeg": {},
	"png":  {},
}

// ProfileInput carries optional profile fields on register and update
type ProfileInput struct {
	Bio        *string `json:"bio,omitempty"`
	AvatarName string  `json:"profile_picture,omitempty"`
	AvatarSize int64   `json:"profile_picture_size,omitempty"`
}

func (p *ProfileInput) empty() bool {
	return p == nil || (p.Bio == nil && p.AvatarName == "")
}

// ValidateAvatar checks size and extension of an avatar reference.
func ValidateAvatar(name string, size int64) error {
	if name == "" {
		return nil
	}
	if size > MaxAvatarSize {
		return NewFieldError("profile_picture", "Profile picture size must be less than 5MB.")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if _, ok := avatarExtensions[ext]; !ok {
		return NewFieldError("profile_picture", "Only PNG, JPG, or JPEG files are allowed.")
	}
	return nil
}

// EnsureProfileTx returns the profile of account, creating it with the
// default bio when missing. Safe to call any number of times.
func EnsureProfileTx(ctx context.Context, store Store, tx bun.IDB, account *Account, now time.Time) (*Profile, error) {
	if account == nil {
		return nil, ErrNotFound
	}

	profile, err := store.GetProfileTx(ctx, tx, account.ID)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, internalError(err, "failed to load profile")
	}

	profile = &Profile{
		AccountID: account.ID,
		Bio:       DefaultBio,
		CreatedAt: now,
		UpdatedAt: now,
	}
	profile, err = store.CreateProfileTx(ctx, tx, profile)
	if err != nil {
		return nil, internalError(err, "failed to create profile")
	}
	return profile, nil
}

func applyProfileInput(profile *Profile, in *ProfileInput, now time.Time) bool {
	if in.empty() {
		return false
	}
	if in.Bio != nil {
		profile.Bio = *in.Bio
	}
	if in.AvatarName != "" {
		profile.AvatarName = in.AvatarName
		profile.AvatarSize = in.AvatarSize
	}
	profile.UpdatedAt = now
	return true
}
