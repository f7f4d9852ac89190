package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"account-api/internal/domain"
	"account-api/internal/repository"
	"account-api/internal/service"
)

type mockUserRepo struct {
	mu           sync.Mutex
	usersByID    map[string]domain.User
	usersByEmail map[string]string
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		usersByID:    make(map[string]domain.User),
		usersByEmail: make(map[string]string),
	}
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.usersByEmail[user.Email]; exists {
		return repository.ErrDuplicateEmail
	}
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user.ID
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.usersByEmail[email]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return m.usersByID[id], nil
}

func (m *mockUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.LastLogin = &at
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) ConsumeVerificationToken(_ context.Context, code string, now time.Time) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, user := range m.usersByID {
		if user.VerificationToken == code && user.VerificationExpiresAt != nil && user.VerificationExpiresAt.After(now) {
			user.IsVerified = true
			user.VerificationToken = ""
			user.VerificationExpiresAt = nil
			m.usersByID[id] = user
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) SetResetToken(_ context.Context, id, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.ResetToken = token
	user.ResetExpiresAt = &expiresAt
	m.usersByID[id] = user
	return nil
}

func (m *mockUserRepo) ConsumeResetToken(_ context.Context, token, passwordHash string, now time.Time) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, user := range m.usersByID {
		if user.ResetToken == token && user.ResetExpiresAt != nil && user.ResetExpiresAt.After(now) {
			user.PasswordHash = passwordHash
			user.ResetToken = ""
			user.ResetExpiresAt = nil
			m.usersByID[id] = user
			return user, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (m *mockUserRepo) UpdateProfilePicture(_ context.Context, id, filename string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.usersByID[id]
	if !ok {
		return pgx.ErrNoRows
	}
	user.ProfilePicture = filename
	m.usersByID[id] = user
	return nil
}

type mockEmailSender struct{}

func (mockEmailSender) SendVerificationCode(_ context.Context, _ string, _ string, _ time.Time) error {
	return nil
}
func (mockEmailSender) SendWelcome(_ context.Context, _ string, _ string) error          { return nil }
func (mockEmailSender) SendPasswordReset(_ context.Context, _ string, _ string) error    { return nil }
func (mockEmailSender) SendPasswordResetSuccess(_ context.Context, _ string) error       { return nil }

type mockBlobStore struct{}

func (mockBlobStore) Save(_ context.Context, filename string, _ string, _ io.Reader) (string, error) {
	return filename, nil
}

func setupAuthRouter(repo *mockUserRepo) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()
	tokens := service.NewSessionTokenService("secret", time.Hour)
	accounts := service.NewAccountService(logger, repo, mockEmailSender{}, mockBlobStore{}, "http://localhost:5173")
	handler := NewAuthHandler(logger, accounts, tokens, false)
	return NewRouter(logger, handler, tokens)
}

func doJSON(r *gin.Engine, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("expected %s cookie, got %v", SessionCookieName, w.Result().Cookies())
	return nil
}

func TestSignupHandler_CreatesUserAndSetsCookie(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())

	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	cookie := sessionCookie(t, w)
	if !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("expected http-only session cookie, got %+v", cookie)
	}

	var resp struct {
		Success bool        `json:"success"`
		User    domain.User `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.User.Email != "user@example.com" || resp.User.IsVerified {
		t.Fatalf("unexpected response: %s", w.Body.String())
	}

	// El hash y los tokens nunca viajan en la respuesta.
	body := w.Body.String()
	for _, leak := range []string{"password_hash", "verification_token", "reset_token"} {
		if strings.Contains(body, leak) {
			t.Fatalf("response leaks %s: %s", leak, body)
		}
	}
}

func TestSignupHandler_MissingFields(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	w := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestSignupHandler_DuplicateEmail(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	body := `{"email":"user@example.com","password":"hunter22","name":"Test"}`
	if w := doJSON(r, http.MethodPost, "/auth/signup", body); w.Code != http.StatusCreated {
		t.Fatalf("first signup: %d", w.Code)
	}
	w := doJSON(r, http.MethodPost, "/auth/signup", body)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "already exists") {
		t.Fatalf("expected 400 already exists, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginHandler_SameErrorForBothFailures(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)

	wrongPassword := doJSON(r, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"wrong"}`)
	unknownEmail := doJSON(r, http.MethodPost, "/auth/login", `{"email":"nobody@example.com","password":"hunter22"}`)

	if wrongPassword.Code != http.StatusBadRequest || unknownEmail.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for both, got %d / %d", wrongPassword.Code, unknownEmail.Code)
	}
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("expected identical error bodies, got %s vs %s", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestLoginHandler_CookieResolvesToUser(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)

	login := doJSON(r, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"hunter22"}`)
	if login.Code != http.StatusOK {
		t.Fatalf("login: %d: %s", login.Code, login.Body.String())
	}
	cookie := sessionCookie(t, login)

	check := doJSON(r, http.MethodGet, "/auth/check-auth", "", cookie)
	if check.Code != http.StatusOK {
		t.Fatalf("check-auth: %d: %s", check.Code, check.Body.String())
	}
	var resp struct {
		User domain.User `json:"user"`
	}
	if err := json.Unmarshal(check.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.User.Email != "user@example.com" {
		t.Fatalf("cookie resolved to wrong user: %s", check.Body.String())
	}
	if resp.User.LastLogin == nil {
		t.Fatalf("expected last login set after login")
	}
}

func TestCheckAuthHandler_NoCookie(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	w := doJSON(r, http.MethodGet, "/auth/check-auth", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without cookie, got %d", w.Code)
	}
}

func TestCheckAuthHandler_TamperedCookie(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	w := doJSON(r, http.MethodGet, "/auth/check-auth", "", &http.Cookie{Name: SessionCookieName, Value: "not-a-token"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with tampered cookie, got %d", w.Code)
	}
}

func TestCheckAuthHandler_VanishedUser(t *testing.T) {
	repo := newMockUserRepo()
	r := setupAuthRouter(repo)
	signup := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)
	cookie := sessionCookie(t, signup)

	repo.mu.Lock()
	repo.usersByID = make(map[string]domain.User)
	repo.usersByEmail = make(map[string]string)
	repo.mu.Unlock()

	w := doJSON(r, http.MethodGet, "/auth/check-auth", "", cookie)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for vanished user, got %d", w.Code)
	}
}

func TestLogoutHandler_ClearsCookie(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	w := doJSON(r, http.MethodPost, "/auth/logout", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	cookie := sessionCookie(t, w)
	if cookie.Value != "" || cookie.MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookie)
	}
}

func TestVerifyEmailHandler(t *testing.T) {
	repo := newMockUserRepo()
	r := setupAuthRouter(repo)
	doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)

	stored, err := repo.GetByEmail(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	w := doJSON(r, http.MethodPost, "/auth/verify-email", `{"code":"`+stored.VerificationToken+`"}`)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Email verified successfully") {
		t.Fatalf("verify: %d: %s", w.Code, w.Body.String())
	}

	replay := doJSON(r, http.MethodPost, "/auth/verify-email", `{"code":"`+stored.VerificationToken+`"}`)
	if replay.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on replay, got %d", replay.Code)
	}
}

func TestForgotAndResetPasswordHandlers(t *testing.T) {
	repo := newMockUserRepo()
	r := setupAuthRouter(repo)
	doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)

	forgot := doJSON(r, http.MethodPost, "/auth/forgot-password", `{"email":"user@example.com"}`)
	if forgot.Code != http.StatusOK {
		t.Fatalf("forgot: %d: %s", forgot.Code, forgot.Body.String())
	}
	if w := doJSON(r, http.MethodPost, "/auth/forgot-password", `{"email":"nobody@example.com"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown email, got %d", w.Code)
	}

	stored, _ := repo.GetByEmail(context.Background(), "user@example.com")
	reset := doJSON(r, http.MethodPost, "/auth/reset-password/"+stored.ResetToken, `{"password":"newpassword"}`)
	if reset.Code != http.StatusOK || !strings.Contains(reset.Body.String(), "Password reset successfully") {
		t.Fatalf("reset: %d: %s", reset.Code, reset.Body.String())
	}

	replay := doJSON(r, http.MethodPost, "/auth/reset-password/"+stored.ResetToken, `{"password":"another"}`)
	if replay.Code != http.StatusBadRequest || !strings.Contains(replay.Body.String(), "Invalid or expired reset token") {
		t.Fatalf("expected 400 on replay, got %d: %s", replay.Code, replay.Body.String())
	}

	login := doJSON(r, http.MethodPost, "/auth/login", `{"email":"user@example.com","password":"newpassword"}`)
	if login.Code != http.StatusOK {
		t.Fatalf("login with new password: %d: %s", login.Code, login.Body.String())
	}
}

func multipartUpload(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="profilePicture"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadProfilePictureHandler(t *testing.T) {
	repo := newMockUserRepo()
	r := setupAuthRouter(repo)
	signup := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)
	cookie := sessionCookie(t, signup)

	body, contentType := multipartUpload(t, "avatar.png", "image/png", []byte("fake png bytes"))
	req := httptest.NewRequest(http.MethodPost, "/auth/upload-profile-picture", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasSuffix(resp.Filename, ".png") {
		t.Fatalf("expected stored .png filename, got %q", resp.Filename)
	}

	stored, _ := repo.GetByEmail(context.Background(), "user@example.com")
	if stored.ProfilePicture != resp.Filename {
		t.Fatalf("expected profile picture persisted, got %q", stored.ProfilePicture)
	}
}

func TestUploadProfilePictureHandler_RejectsTextFile(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	signup := doJSON(r, http.MethodPost, "/auth/signup", `{"email":"user@example.com","password":"hunter22","name":"Test"}`)
	cookie := sessionCookie(t, signup)

	body, contentType := multipartUpload(t, "notes.txt", "text/plain", []byte("not an image"))
	req := httptest.NewRequest(http.MethodPost, "/auth/upload-profile-picture", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "images only") {
		t.Fatalf("expected 400 images only, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUploadProfilePictureHandler_RequiresSession(t *testing.T) {
	r := setupAuthRouter(newMockUserRepo())
	body, contentType := multipartUpload(t, "avatar.png", "image/png", []byte("fake png bytes"))
	req := httptest.NewRequest(http.MethodPost, "/auth/upload-profile-picture", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without cookie, got %d", w.Code)
	}
}
