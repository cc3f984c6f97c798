package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/auth"
	"github.com/vidstream/backend/internal/logging"
	"github.com/vidstream/backend/internal/middleware"
	"github.com/vidstream/backend/internal/models"
	"github.com/vidstream/backend/internal/response"
)

const (
	defaultMaxUploadBytes = 10 << 20
	multipartMemory       = 4 << 20
)

// AuthHandler implements the user account endpoints.
type AuthHandler struct {
	Credentials    CredentialService
	Sessions       SessionManager
	Cookies        CookieSettings
	MaxUploadBytes int64
	NowFunc        func() time.Time
}

// Register handles POST /api/v1/users/register. The body is multipart form data carrying the
// text fields and the avatar and optional coverImage files.
func (h AuthHandler) Register(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := h.ready(); err != nil {
		return err
	}

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperror.Wrap(apperror.InvalidInput, "request body too large", err)
		case errors.Is(err, http.ErrNotMultipart):
			return apperror.Wrap(apperror.InvalidInput, "expected multipart form data", err)
		default:
			return apperror.Wrap(apperror.InvalidInput, "invalid form data", err)
		}
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	avatar, closeAvatar, err := formFile(r.MultipartForm, "avatar")
	if err != nil {
		return err
	}
	defer closeAvatar()

	cover, closeCover, err := formFile(r.MultipartForm, "coverImage")
	if err != nil {
		return err
	}
	defer closeCover()

	user, err := h.Credentials.Register(ctx, auth.Registration{
		FullName:   r.FormValue("fullname"),
		Email:      r.FormValue("email"),
		Username:   r.FormValue("username"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: cover,
	})
	if err != nil {
		return err
	}

	// The account is already stored; without a session the client logs in separately.
	tokens, err := h.Sessions.Issue(ctx, user)
	if err != nil {
		logging.FromContext(ctx).Warn("session not issued after registration", "error", err, "userId", user.ID)
		response.Success(ctx, w, http.StatusCreated, user.Profile(), "user registered successfully, please log in")
		return nil
	}
	h.Cookies.setSession(w, tokens, h.now())

	response.Success(ctx, w, http.StatusCreated, user.Profile(), "user registered successfully")
	return nil
}

// Login handles POST /api/v1/users/login. It accepts JSON or form bodies.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := h.ready(); err != nil {
		return err
	}

	var req loginRequest
	if err := decodeBody(r, &req, func(get func(string) string) {
		req.Username = get("username")
		req.Email = get("email")
		req.Password = get("password")
	}); err != nil {
		return err
	}

	user, err := h.Credentials.Verify(ctx, auth.Credentials{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}

	tokens, err := h.Sessions.Issue(ctx, user)
	if err != nil {
		return err
	}
	h.Cookies.setSession(w, tokens, h.now())

	logging.FromContext(ctx).Info("user logged in", "userId", user.ID)
	response.Success(ctx, w, http.StatusOK, loginResponse{
		User:         user.Profile(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, "user logged in successfully")
	return nil
}

// Logout handles POST /api/v1/users/logout for an authenticated user.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := h.ready(); err != nil {
		return err
	}

	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		return apperror.New(apperror.Unauthorized, "unauthorized request")
	}

	if err := h.Sessions.Revoke(ctx, user.ID); err != nil {
		return err
	}
	h.Cookies.clearSession(w)

	logging.FromContext(ctx).Info("user logged out", "userId", user.ID)
	response.Success(ctx, w, http.StatusOK, struct{}{}, "user logged out")
	return nil
}

// Refresh handles POST /api/v1/users/refresh-token. The token is read from the refreshToken
// cookie, falling back to the request body.
func (h AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := h.ready(); err != nil {
		return err
	}

	token := ""
	if cookie, err := r.Cookie(RefreshTokenCookie); err == nil {
		token = strings.TrimSpace(cookie.Value)
	}
	if token == "" {
		var req refreshRequest
		if err := decodeBody(r, &req, func(get func(string) string) {
			req.RefreshToken = get("refreshToken")
		}); err != nil {
			return apperror.Wrap(apperror.Unauthorized, "refresh token is required", err)
		}
		token = strings.TrimSpace(req.RefreshToken)
	}

	_, tokens, err := h.Sessions.Refresh(ctx, token)
	if err != nil {
		return err
	}
	h.Cookies.setSession(w, tokens, h.now())

	response.Success(ctx, w, http.StatusOK, refreshResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, "access token refreshed")
	return nil
}

// Me handles GET /api/v1/users/me for an authenticated user.
func (h AuthHandler) Me(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		return apperror.New(apperror.Unauthorized, "unauthorized request")
	}
	response.Success(ctx, w, http.StatusOK, user.Profile(), "current user fetched successfully")
	return nil
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type loginResponse struct {
	User         models.Profile `json:"user"`
	AccessToken  string         `json:"accessToken"`
	RefreshToken string         `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (h AuthHandler) ready() error {
	if h.Credentials == nil || h.Sessions == nil {
		return apperror.New(apperror.Internal, "authentication services unavailable")
	}
	return nil
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

// decodeBody reads a JSON body into dst, or hands form values to fromForm for any other
// content type. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any, fromForm func(get func(string) string)) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json", "":
		if r.Body == nil {
			return nil
		}
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return apperror.Wrap(apperror.InvalidInput, "invalid request body", err)
		}
		return nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return apperror.Wrap(apperror.InvalidInput, "invalid form data", err)
		}
	default:
		if err := r.ParseForm(); err != nil {
			return apperror.Wrap(apperror.InvalidInput, "invalid form data", err)
		}
	}
	fromForm(r.FormValue)
	return nil
}

// formFile opens the first file uploaded under field. A missing field yields a nil upload.
func formFile(form *multipart.Form, field string) (*auth.Upload, func(), error) {
	noop := func() {}
	if form == nil || len(form.File[field]) == 0 {
		return nil, noop, nil
	}

	header := form.File[field][0]
	file, err := header.Open()
	if err != nil {
		return nil, noop, apperror.Wrap(apperror.InvalidInput, "unable to read "+field, err)
	}

	return &auth.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	}, func() { _ = file.Close() }, nil
}
