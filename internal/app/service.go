package app

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"stride/api/internal/auth"
	"stride/api/internal/authpw"
	"stride/api/internal/config"
	"stride/api/internal/email"
	"stride/api/internal/rbac"
	"stride/api/internal/search"
	"stride/api/internal/store"
	"stride/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// sessionStore holds refresh tokens. Redis when configured, Postgres
// otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// pgSessions adapts the entity store to sessionStore for deployments
// without Redis.
type pgSessions struct {
	st store.Store
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.st.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.st.LookupRefreshSession(ctx, tokenHash)
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.st.RevokeRefreshSession(ctx, tokenHash)
}

type Service struct {
	cfg      config.Config
	store    store.Store
	sessions sessionStore
	authpw   *authpw.Service
	email    *email.Service
	search   *search.Service
	log      zerolog.Logger
}

func New(cfg config.Config, st store.Store, logger zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		sessions: pgSessions{st: st},
		log:      logger,
	}
}

// SetSessionStore swaps in an external refresh-token backend.
func (s *Service) SetSessionStore(sessions sessionStore) {
	s.sessions = sessions
}

// SetAuthPassword wires the email/password auth service.
func (s *Service) SetAuthPassword(svc *authpw.Service) {
	s.authpw = svc
}

// SetEmail wires outbound mail delivery.
func (s *Service) SetEmail(svc *email.Service) {
	s.email = svc
}

// SetSearch wires the search facade.
func (s *Service) SetSearch(svc *search.Service) {
	s.search = svc
}

// AuthPasswordService returns the wired auth service, or nil.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email can be sent.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateSession issues access and refresh tokens for a signed-in user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and returns the session it
// represents.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// resolveRole computes the caller's effective role on a project: the owner
// outranks any membership row, a membership grants its stored permission, and
// everything else is none. Project absence surfaces as the store's not-found
// error.
func (s *Service) resolveRole(ctx context.Context, st store.Store, projectID, userID string) (rbac.Role, error) {
	project, err := st.GetProject(ctx, projectID)
	if err != nil {
		return rbac.RoleNone, err
	}
	if project.OwnerUserID == userID {
		return rbac.RoleOwner, nil
	}

	membership, err := st.GetMembership(ctx, projectID, userID)
	if err != nil {
		return rbac.RoleNone, err
	}
	if membership == nil {
		return rbac.RoleNone, nil
	}
	return rbac.FromMembership(membership.Permission), nil
}

func progressPercent(counts store.StepCounts) int {
	if counts.Total == 0 {
		return 0
	}
	return int(math.Round(float64(counts.Completed) / float64(counts.Total) * 100))
}
