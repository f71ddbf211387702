package application

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/go-identity-service/internal/domain/entity"
	repo "github.com/oksasatya/go-identity-service/internal/domain/repository"
	"github.com/oksasatya/go-identity-service/pkg/apperr"
	"github.com/oksasatya/go-identity-service/pkg/helpers"
	"github.com/oksasatya/go-identity-service/pkg/mailer"
	mailtpl "github.com/oksasatya/go-identity-service/pkg/mailer/templates"
)

// errLostUpdate marks the race where a row confirmed present vanished before
// the update landed. Surfaced as a retryable internal error, never swallowed.
var errLostUpdate = errors.New("user disappeared during update")

const profileCacheTTL = 5 * time.Minute

func sessionKey(userID string) string { return "user:session:" + userID }
func profileKey(userID string) string { return "user:profile:" + userID }

// Service orchestrates the identity use cases. It holds no mutable state
// between calls; Redis, the publisher, and Elasticsearch are optional and
// nil-guarded so the core flows run without them.
type Service struct {
	Repo         repo.UserRepository
	JWT          *helpers.JWTManager
	Redis        *redis.Client
	Logger       *logrus.Logger
	Pub          *helpers.RabbitPublisher
	ES           *elasticsearch.Client
	ESUsersIndex string
	MailEnabled  bool
}

func NewService(repo repo.UserRepository, jwt *helpers.JWTManager, rdb *redis.Client, logger *logrus.Logger, pub *helpers.RabbitPublisher, es *elasticsearch.Client, esUsersIndex string, mailEnabled bool) *Service {
	return &Service{
		Repo:         repo,
		JWT:          jwt,
		Redis:        rdb,
		Logger:       logger,
		Pub:          pub,
		ES:           es,
		ESUsersIndex: esUsersIndex,
		MailEnabled:  mailEnabled,
	}
}

// UserView is the outbound user record. It never carries a password.
type UserView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toView(u *entity.User) *UserView {
	return &UserView{ID: u.ID, Name: u.Name, Email: u.Email, CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

type UpdateInput struct {
	Name     string // optional; empty leaves the name unchanged
	Email    string // required
	Password string // optional; re-validated and re-hashed when present
}

type LoginResult struct {
	User      *UserView `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Register creates a new user. The FindByEmail pre-check is an optimization
// only; the storage unique constraint decides duplicate-email races, so a
// concurrent registration that slips past the pre-check still comes back as
// a ConflictError from Save.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*UserView, error) {
	existing, err := s.Repo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("email already registered", nil)
	}

	u, err := entity.NewUser(in.Name, in.Email, in.Password)
	if err != nil {
		return nil, err
	}

	hash, err := helpers.HashPassword(u.Password)
	if err != nil {
		return nil, err
	}
	u.Password = hash

	saved, err := s.Repo.Save(ctx, u)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, apperr.Conflict("email already registered", nil)
		}
		return nil, err
	}

	s.publishWelcome(ctx, saved)
	s.indexUser(ctx, saved)

	return toView(saved), nil
}

// Login authenticates by email/password and issues a bearer token with
// {id, email} claims. Unknown email and wrong password are indistinguishable
// on purpose: same kind, same message.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.Repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("invalid credentials")
	}
	if !helpers.CompareHashAndPassword(u.Password, password) {
		return nil, apperr.NotFound("invalid credentials")
	}

	token, exp, err := s.JWT.Issue(u.ID, u.Email)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Error("token issue failed")
		}
		return nil, err
	}

	if s.Redis != nil {
		key := sessionKey(u.ID)
		pipe := s.Redis.Pipeline()
		pipe.HSet(ctx, key, map[string]any{
			"user_id":    u.ID,
			"email":      u.Email,
			"name":       u.Name,
			"logged_in":  true,
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		pipe.Expire(ctx, key, 24*time.Hour)
		if _, rErr := pipe.Exec(ctx); rErr != nil && s.Logger != nil {
			s.Logger.WithError(rErr).WithField("key", key).Warn("redis pipeline failed")
		}
	}

	return &LoginResult{User: toView(u), Token: token, ExpiresAt: exp}, nil
}

// FindAll returns every user. Zero rows is a valid, empty success.
func (s *Service) FindAll(ctx context.Context) ([]*UserView, error) {
	users, err := s.Repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*UserView, 0, len(users))
	for _, u := range users {
		views = append(views, toView(u))
	}
	return views, nil
}

// FindByID reads through the Redis profile cache before hitting storage.
func (s *Service) FindByID(ctx context.Context, id string) (*UserView, error) {
	if s.Redis != nil {
		var cached UserView
		if hit, err := helpers.RedisGetJSON(ctx, s.Redis, profileKey(id), &cached); err == nil && hit {
			return &cached, nil
		}
	}

	u, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.NotFound("user not found")
	}

	view := toView(u)
	if s.Redis != nil {
		if err := helpers.RedisSetJSON(ctx, s.Redis, profileKey(id), view, profileCacheTTL); err != nil && s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", id).Warn("profile cache set failed")
		}
	}
	return view, nil
}

// Update patches name/email/password on an existing user. A nil result from
// the repository after the existence check signals a lost-update race and is
// surfaced as a retryable internal error.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*UserView, error) {
	existing, err := s.Repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("user not found")
	}

	var invalid []string
	if !entity.IsEmailValid(in.Email) {
		invalid = append(invalid, "email")
	}
	if in.Password != "" && !entity.IsPasswordStrong(in.Password) {
		invalid = append(invalid, "password")
	}
	if len(invalid) > 0 {
		return nil, apperr.Validation("missing or invalid fields", map[string]any{"invalidFields": invalid})
	}

	patch := repo.UpdatePatch{Email: &in.Email}
	if in.Name != "" {
		patch.Name = &in.Name
	}
	if in.Password != "" {
		hash, hErr := helpers.HashPassword(in.Password)
		if hErr != nil {
			return nil, hErr
		}
		patch.Password = &hash
	}

	updated, err := s.Repo.Update(ctx, id, patch)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicateEmail) {
			return nil, apperr.Conflict("email already registered", nil)
		}
		return nil, err
	}
	if updated == nil {
		return nil, apperr.Internal("failed to update user", errLostUpdate)
	}

	s.dropProfileCache(ctx, id)
	s.indexUser(ctx, updated)

	return toView(updated), nil
}

// Delete removes the user permanently. No tombstones.
func (s *Service) Delete(ctx context.Context, id string) error {
	removed, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFound("user not found")
	}

	s.dropProfileCache(ctx, id)
	s.deindexUser(ctx, id)
	return nil
}

func (s *Service) dropProfileCache(ctx context.Context, id string) {
	if s.Redis == nil {
		return
	}
	if err := helpers.RedisDel(ctx, s.Redis, profileKey(id)); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("user_id", id).Warn("profile cache del failed")
	}
}

// publishWelcome enqueues the welcome email. Best-effort: a broken broker
// never fails a registration.
func (s *Service) publishWelcome(ctx context.Context, u *entity.User) {
	if s.Pub == nil || !s.MailEnabled {
		return
	}
	job := mailer.EmailJob{
		To:       u.Email,
		Template: mailtpl.Welcome,
		Data:     map[string]any{"Name": u.Name, "Email": u.Email},
	}
	if err := s.Pub.PublishJSON(ctx, job); err != nil && s.Logger != nil {
		s.Logger.WithError(err).WithField("user_id", u.ID).Warn("welcome email publish failed")
	}
}

func (s *Service) indexUser(ctx context.Context, u *entity.User) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return
	}
	doc := map[string]any{
		"id":         u.ID,
		"name":       u.Name,
		"email":      u.Email,
		"created_at": u.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": u.UpdatedAt.Format(time.RFC3339Nano),
	}
	b, _ := json.Marshal(doc)
	req := esapi.IndexRequest{Index: s.ESUsersIndex, DocumentID: u.ID, Body: strings.NewReader(string(b)), Refresh: "false"}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", u.ID).Warn("es index failed")
		}
		return
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() && s.Logger != nil {
		s.Logger.WithField("status", res.Status()).WithField("user_id", u.ID).Warn("es index response error")
	}
}

func (s *Service) deindexUser(ctx context.Context, id string) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return
	}
	req := esapi.DeleteRequest{Index: s.ESUsersIndex, DocumentID: id}
	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := req.Do(c, s.ES)
	if err != nil {
		if s.Logger != nil {
			s.Logger.WithError(err).WithField("user_id", id).Warn("es delete failed")
		}
		return
	}
	_ = res.Body.Close()
}

// SearchUsers performs a simple multi_match search on email and name.
func (s *Service) SearchUsers(ctx context.Context, q string, size int) ([]map[string]any, error) {
	if s.ES == nil || s.ESUsersIndex == "" {
		return []map[string]any{}, nil
	}
	if size <= 0 || size > 50 {
		size = 10
	}
	query := map[string]any{
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":  q,
				"fields": []string{"email^2", "name"},
			},
		},
		"size": size,
	}
	b, _ := json.Marshal(query)

	c, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res, err := s.ES.Search(
		s.ES.Search.WithContext(c),
		s.ES.Search.WithIndex(s.ESUsersIndex),
		s.ES.Search.WithBody(strings.NewReader(string(b))),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
