package auth

import (
	"context"
	"errors"
	"io"
	"net/mail"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/logging"
	"github.com/vidstream/backend/internal/models"
	"github.com/vidstream/backend/internal/repositories"
)

// MediaStore uploads user media and returns a publicly reachable URL.
type MediaStore interface {
	Save(ctx context.Context, key, contentType string, r io.Reader) (string, error)
}

// Upload is a file received alongside a registration.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Registration is the input to CredentialVerifier.Register.
type Registration struct {
	FullName   string
	Email      string
	Username   string
	Password   string
	Avatar     *Upload
	CoverImage *Upload
}

// Credentials is the input to CredentialVerifier.Verify. Either Username or Email identifies
// the account.
type Credentials struct {
	Username string
	Email    string
	Password string
}

// CredentialVerifier registers new accounts and checks login credentials.
type CredentialVerifier struct {
	users   repositories.UserRepository
	media   MediaStore
	hasher  PasswordHasher
	NowFunc func() time.Time
}

// NewCredentialVerifier constructs a CredentialVerifier.
func NewCredentialVerifier(users repositories.UserRepository, media MediaStore, hasher PasswordHasher) *CredentialVerifier {
	if users == nil {
		panic("auth: user repository must not be nil")
	}
	if media == nil {
		panic("auth: media store must not be nil")
	}
	if hasher == nil {
		hasher = BcryptHasher{}
	}
	return &CredentialVerifier{users: users, media: media, hasher: hasher}
}

// maxPasswordBytes is the longest password bcrypt accepts.
const maxPasswordBytes = 72

// Register validates the registration, uploads the media and creates the account.
func (v *CredentialVerifier) Register(ctx context.Context, reg Registration) (user models.User, err error) {
	ctx, span := logging.StartSpan(ctx, "auth.register")
	defer func() { span.End(err) }()
	logger := logging.FromContext(ctx)

	fullName := strings.TrimSpace(reg.FullName)
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	username := strings.ToLower(strings.TrimSpace(reg.Username))

	var missing []string
	if fullName == "" {
		missing = append(missing, "fullname")
	}
	if email == "" {
		missing = append(missing, "email")
	}
	if username == "" {
		missing = append(missing, "username")
	}
	if strings.TrimSpace(reg.Password) == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return models.User{}, apperror.New(apperror.InvalidInput, "all fields are required").WithErrors(missing...)
	}

	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return models.User{}, apperror.Wrap(apperror.InvalidInput, "invalid email address", err)
	}
	if len(reg.Password) > maxPasswordBytes {
		return models.User{}, apperror.New(apperror.InvalidInput, "password must be at most 72 bytes")
	}

	if _, err := v.users.FindByUsernameOrEmail(ctx, username, email); err == nil {
		return models.User{}, apperror.New(apperror.Conflict, "username or email already exists")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return models.User{}, apperror.Wrap(apperror.Internal, "unable to verify existing accounts", err)
	}

	if reg.Avatar == nil || reg.Avatar.Body == nil {
		return models.User{}, apperror.New(apperror.InvalidInput, "avatar is required")
	}

	avatarURL, err := v.upload(ctx, "avatars", reg.Avatar)
	if err != nil {
		return models.User{}, apperror.Wrap(apperror.Internal, "error uploading avatar", err)
	}

	var coverURL string
	if reg.CoverImage != nil && reg.CoverImage.Body != nil {
		coverURL, err = v.upload(ctx, "covers", reg.CoverImage)
		if err != nil {
			logger.Warn("cover image upload failed, continuing without it", "error", err, "username", username)
			coverURL = ""
		}
	}

	hashed, err := v.hasher.Hash(reg.Password)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return models.User{}, apperror.Wrap(apperror.InvalidInput, "password must be at most 72 bytes", err)
		}
		return models.User{}, apperror.Wrap(apperror.Internal, "failed to secure password", err)
	}

	now := v.now()
	user = models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		FullName:     fullName,
		Password:     hashed,
		Avatar:       avatarURL,
		CoverImage:   coverURL,
		WatchHistory: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := v.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return models.User{}, apperror.Wrap(apperror.Conflict, "username or email already exists", err)
		}
		return models.User{}, apperror.Wrap(apperror.Internal, "something went wrong while registering the user", err)
	}

	logger.Info("user registered", "userId", user.ID)
	return user, nil
}

// Verify returns the user identified by creds when the password matches.
func (v *CredentialVerifier) Verify(ctx context.Context, creds Credentials) (user models.User, err error) {
	ctx, span := logging.StartSpan(ctx, "auth.verify")
	defer func() { span.End(err) }()

	username := strings.ToLower(strings.TrimSpace(creds.Username))
	email := strings.ToLower(strings.TrimSpace(creds.Email))

	if username == "" && email == "" {
		return models.User{}, apperror.New(apperror.InvalidInput, "username or email is required")
	}
	if strings.TrimSpace(creds.Password) == "" {
		return models.User{}, apperror.New(apperror.InvalidInput, "password is required")
	}

	user, err = v.users.FindByUsernameOrEmail(ctx, username, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.User{}, apperror.Wrap(apperror.NotFound, "user not found", err)
		}
		return models.User{}, apperror.Wrap(apperror.Internal, "unable to look up user", err)
	}

	if err := v.hasher.Compare(user.Password, creds.Password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return models.User{}, apperror.Wrap(apperror.Unauthorized, "invalid credentials", err)
		}
		return models.User{}, apperror.Wrap(apperror.Internal, "unable to verify credentials", err)
	}

	return user, nil
}

func (v *CredentialVerifier) upload(ctx context.Context, prefix string, u *Upload) (string, error) {
	key := path.Join(prefix, uuid.NewString()+strings.ToLower(filepath.Ext(u.Filename)))
	contentType := u.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return v.media.Save(ctx, key, contentType, u.Body)
}

func (v *CredentialVerifier) now() time.Time {
	if v.NowFunc != nil {
		return v.NowFunc()
	}
	return time.Now().UTC()
}
