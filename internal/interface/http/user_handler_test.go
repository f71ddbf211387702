package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	userapp "github.com/oksasatya/go-identity-service/internal/application"
	"github.com/oksasatya/go-identity-service/internal/domain/entity"
	"github.com/oksasatya/go-identity-service/internal/domain/repository"
	"github.com/oksasatya/go-identity-service/internal/interface/middleware"
	"github.com/oksasatya/go-identity-service/pkg/helpers"
	"github.com/oksasatya/go-identity-service/pkg/validation"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validation.Init()
	os.Exit(m.Run())
}

// stubRepo keeps users in memory with the same unique-email semantics the
// Postgres adapter enforces.
type stubRepo struct {
	mu      sync.Mutex
	byEmail map[string]*entity.User
	byID    map[string]*entity.User
}

func newStubRepo() *stubRepo {
	return &stubRepo{byEmail: map[string]*entity.User{}, byID: map[string]*entity.User{}}
}

func (r *stubRepo) Save(_ context.Context, u *entity.User) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[u.Email]; exists {
		return nil, repository.ErrDuplicateEmail
	}
	saved := *u
	saved.ID = uuid.NewString()
	saved.CreatedAt = time.Now()
	saved.UpdatedAt = saved.CreatedAt
	r.byEmail[saved.Email] = &saved
	r.byID[saved.ID] = &saved
	return &saved, nil
}

func (r *stubRepo) FindByEmail(_ context.Context, email string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *stubRepo) FindByID(_ context.Context, id string) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *stubRepo) FindAll(_ context.Context) ([]*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*entity.User, 0, len(r.byID))
	for _, u := range r.byID {
		cp := *u
		out = append(out, &cp)
	}
	return out, nil
}

func (r *stubRepo) Update(_ context.Context, id string, patch repository.UpdatePatch) (*entity.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	if patch.Email != nil && *patch.Email != u.Email {
		if _, exists := r.byEmail[*patch.Email]; exists {
			return nil, repository.ErrDuplicateEmail
		}
		delete(r.byEmail, u.Email)
		u.Email = *patch.Email
		r.byEmail[u.Email] = u
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.Password != nil {
		u.Password = *patch.Password
	}
	u.UpdatedAt = time.Now()
	cp := *u
	return &cp, nil
}

func (r *stubRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	delete(r.byEmail, u.Email)
	delete(r.byID, id)
	return true, nil
}

var _ repository.UserRepository = (*stubRepo)(nil)

func newTestRouter() (*gin.Engine, *userapp.Service) {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	jwt := helpers.NewJWTManager("handler-test-secret", time.Hour)
	svc := userapp.NewService(newStubRepo(), jwt, nil, logger, nil, nil, "", false)
	h := NewUserHandler(svc, logger)

	r := gin.New()
	api := r.Group("/api")
	api.POST("/users", h.Register)
	api.POST("/users/login", h.Login)

	protected := api.Group("")
	protected.Use(middleware.Auth(jwt))
	protected.GET("/users", h.List)
	protected.GET("/users/search", h.Search)
	protected.GET("/users/:id", h.Get)
	protected.PUT("/users/:id", h.Update)
	protected.DELETE("/users/:id", h.Delete)
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, payload any, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return w, env
}

func registerUser(t *testing.T, r *gin.Engine, name, email, password string) string {
	t.Helper()
	w, env := doJSON(t, r, http.MethodPost, "/api/users", gin.H{
		"name": name, "email": email, "password": password,
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, "body: %s", w.Body.String())
	data := env["data"].(map[string]any)
	return data["id"].(string)
}

func loginToken(t *testing.T, r *gin.Engine, email, password string) string {
	t.Helper()
	w, env := doJSON(t, r, http.MethodPost, "/api/users/login", gin.H{
		"email": email, "password": password,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	data := env["data"].(map[string]any)
	return data["token"].(string)
}

func errorBody(t *testing.T, env map[string]any) map[string]any {
	t.Helper()
	e, ok := env["error"].(map[string]any)
	require.True(t, ok, "envelope has no structured error: %v", env)
	return e
}

func TestRegisterEndpoint(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		r, _ := newTestRouter()
		w, env := doJSON(t, r, http.MethodPost, "/api/users", gin.H{
			"name": "Ana", "email": "ana@example.com", "password": "Secret123",
		}, "")

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, true, env["success"])
		data := env["data"].(map[string]any)
		assert.NotEmpty(t, data["id"])
		assert.Equal(t, "ana@example.com", data["email"])
		// No hash, no plaintext, nothing password-shaped in the response.
		assert.NotContains(t, w.Body.String(), "password")
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		r, _ := newTestRouter()
		registerUser(t, r, "Ana", "ana@example.com", "Secret123")

		w, env := doJSON(t, r, http.MethodPost, "/api/users", gin.H{
			"name": "Other", "email": "ana@example.com", "password": "Secret456",
		}, "")

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, false, env["success"])
		assert.Equal(t, "ConflictError", errorBody(t, env)["error"])
	})

	t.Run("WeakPassword", func(t *testing.T) {
		r, _ := newTestRouter()
		w, env := doJSON(t, r, http.MethodPost, "/api/users", gin.H{
			"name": "Ana", "email": "ana@example.com", "password": "weak",
		}, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		e := errorBody(t, env)
		assert.Equal(t, "ValidationError", e["error"])
		details := e["details"].(map[string]any)
		assert.Contains(t, details["invalidFields"], "password")
	})

	t.Run("MissingFields", func(t *testing.T) {
		r, _ := newTestRouter()
		w, env := doJSON(t, r, http.MethodPost, "/api/users", gin.H{
			"email": "ana@example.com",
		}, "")

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "ValidationError", errorBody(t, env)["error"])
	})

	t.Run("MalformedJSON", func(t *testing.T) {
		r, _ := newTestRouter()
		req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader([]byte("{not json")))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoginEndpoint(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		r, _ := newTestRouter()
		id := registerUser(t, r, "Ana", "ana@example.com", "Secret123")

		w, env := doJSON(t, r, http.MethodPost, "/api/users/login", gin.H{
			"email": "ana@example.com", "password": "Secret123",
		}, "")

		assert.Equal(t, http.StatusOK, w.Code)
		data := env["data"].(map[string]any)
		assert.NotEmpty(t, data["token"])
		user := data["user"].(map[string]any)
		assert.Equal(t, id, user["id"])

		// Expiry lives in data only; no duplicate copy in meta.
		assert.NotEmpty(t, data["expires_at"])
		assert.Nil(t, env["meta"])
	})

	t.Run("WrongPassword", func(t *testing.T) {
		r, _ := newTestRouter()
		registerUser(t, r, "Ana", "ana@example.com", "Secret123")

		w, env := doJSON(t, r, http.MethodPost, "/api/users/login", gin.H{
			"email": "ana@example.com", "password": "Wrong1234",
		}, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		e := errorBody(t, env)
		assert.Equal(t, "NotFoundError", e["error"])
		assert.Equal(t, "invalid credentials", e["message"])
	})

	t.Run("UnknownEmailSameShape", func(t *testing.T) {
		r, _ := newTestRouter()

		w, env := doJSON(t, r, http.MethodPost, "/api/users/login", gin.H{
			"email": "ghost@example.com", "password": "Secret123",
		}, "")

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "invalid credentials", errorBody(t, env)["message"])
	})
}

func TestAuthGuard(t *testing.T) {
	t.Run("NoToken", func(t *testing.T) {
		r, _ := newTestRouter()
		w, env := doJSON(t, r, http.MethodGet, "/api/users", nil, "")

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "UnauthorizedError", errorBody(t, env)["error"])
	})

	t.Run("GarbageToken", func(t *testing.T) {
		r, _ := newTestRouter()
		w, _ := doJSON(t, r, http.MethodGet, "/api/users", nil, "not.a.token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ValidToken", func(t *testing.T) {
		r, _ := newTestRouter()
		registerUser(t, r, "Ana", "ana@example.com", "Secret123")
		token := loginToken(t, r, "ana@example.com", "Secret123")

		w, env := doJSON(t, r, http.MethodGet, "/api/users", nil, token)
		assert.Equal(t, http.StatusOK, w.Code)
		users := env["data"].([]any)
		assert.Len(t, users, 1)
	})
}

func TestListEndpoint(t *testing.T) {
	t.Run("EmptyIs200", func(t *testing.T) {
		r, svc := newTestRouter()
		token, _, err := svc.JWT.Issue("some-id", "ana@example.com")
		require.NoError(t, err)

		w, env := doJSON(t, r, http.MethodGet, "/api/users", nil, token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, env["success"])
		meta := env["meta"].(map[string]any)
		assert.Equal(t, float64(0), meta["count"])
	})
}

func TestGetEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	id := registerUser(t, r, "Ana", "ana@example.com", "Secret123")
	token := loginToken(t, r, "ana@example.com", "Secret123")

	t.Run("Found", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodGet, "/api/users/"+id, nil, token)
		assert.Equal(t, http.StatusOK, w.Code)
		data := env["data"].(map[string]any)
		assert.Equal(t, "ana@example.com", data["email"])
	})

	t.Run("Unknown", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodGet, "/api/users/"+uuid.NewString(), nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFoundError", errorBody(t, env)["error"])
	})

	// An id that cannot exist in storage is absence, not an internal error.
	t.Run("MalformedID", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodGet, "/api/users/not-a-uuid", nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFoundError", errorBody(t, env)["error"])

		w, _ = doJSON(t, r, http.MethodPut, "/api/users/not-a-uuid", gin.H{"email": "x@y.com"}, token)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w, _ = doJSON(t, r, http.MethodDelete, "/api/users/not-a-uuid", nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUpdateEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	id := registerUser(t, r, "Ana", "ana@example.com", "Secret123")
	token := loginToken(t, r, "ana@example.com", "Secret123")

	t.Run("RenameAndChangePassword", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodPut, "/api/users/"+id, gin.H{
			"name": "Ana Maria", "email": "ana@example.com", "password": "Changed99",
		}, token)

		assert.Equal(t, http.StatusOK, w.Code)
		data := env["data"].(map[string]any)
		assert.Equal(t, "Ana Maria", data["name"])

		// Old credential is dead, new one works.
		w, _ = doJSON(t, r, http.MethodPost, "/api/users/login", gin.H{
			"email": "ana@example.com", "password": "Secret123",
		}, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		loginToken(t, r, "ana@example.com", "Changed99")
	})

	t.Run("InvalidEmail", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodPut, "/api/users/"+id, gin.H{
			"email": "not-an-email",
		}, token)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		e := errorBody(t, env)
		assert.Equal(t, "ValidationError", e["error"])
		details := e["details"].(map[string]any)
		assert.Contains(t, details["invalidFields"], "email")
	})

	t.Run("UnknownID", func(t *testing.T) {
		w, _ := doJSON(t, r, http.MethodPut, "/api/users/"+uuid.NewString(), gin.H{
			"email": "x@y.com",
		}, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestDeleteEndpoint(t *testing.T) {
	r, _ := newTestRouter()
	id := registerUser(t, r, "Ana", "ana@example.com", "Secret123")
	token := loginToken(t, r, "ana@example.com", "Secret123")

	t.Run("UnknownID", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodDelete, "/api/users/"+uuid.NewString(), nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "NotFoundError", errorBody(t, env)["error"])
	})

	t.Run("DeleteThenGone", func(t *testing.T) {
		w, env := doJSON(t, r, http.MethodDelete, "/api/users/"+id, nil, token)
		assert.Equal(t, http.StatusOK, w.Code)
		data := env["data"].(map[string]any)
		assert.Equal(t, true, data["deleted"])

		w, _ = doJSON(t, r, http.MethodGet, "/api/users/"+id, nil, token)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestSearchEndpoint(t *testing.T) {
	// Without a search backend wired the endpoint degrades to an empty result,
	// never an error.
	r, _ := newTestRouter()
	registerUser(t, r, "Ana", "ana@example.com", "Secret123")
	token := loginToken(t, r, "ana@example.com", "Secret123")

	w, env := doJSON(t, r, http.MethodGet, "/api/users/search?q=ana", nil, token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, env["success"])
	meta := env["meta"].(map[string]any)
	assert.Equal(t, float64(0), meta["count"])
}
