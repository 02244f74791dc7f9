package auth

import (
	"context"
	"strings"
	"time"

	"github.com/fechatter/fechatter-go/internal/apperr"
	"github.com/fechatter/fechatter-go/internal/ids"
	"github.com/fechatter/fechatter-go/internal/store"
)

// AuthTokens is the pair of credentials returned by every operation
// that (re)authenticates a caller.
type AuthTokens struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// Service implements signup, signin, refresh, and logout on top of the
// token engine and the store's user/auth repositories.
type Service struct {
	tokens     *TokenEngine
	users      *store.UserRepo
	refreshes  *store.AuthRepo
	refreshTTL time.Duration
	absoluteTTL time.Duration
}

func NewService(tokens *TokenEngine, users *store.UserRepo, refreshes *store.AuthRepo, refreshTTL, absoluteTTL time.Duration) *Service {
	return &Service{tokens: tokens, users: users, refreshes: refreshes, refreshTTL: refreshTTL, absoluteTTL: absoluteTTL}
}

// Signup creates or joins a workspace deterministically by name and
// creates the user, becoming the workspace owner if the workspace is new.
func (s *Service) Signup(ctx context.Context, email, password string, workspaceName *string, fullName string) (*AuthTokens, *store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := ValidatePasswordStrength(password); err != nil {
		return nil, nil, err
	}
	name := fullName
	wsName := email
	if workspaceName != nil && strings.TrimSpace(*workspaceName) != "" {
		wsName = strings.TrimSpace(*workspaceName)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}

	tx, err := s.users.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	ws, err := s.users.WorkspaceByName(ctx, wsName)
	if err != nil {
		return nil, nil, err
	}

	var workspaceID ids.WorkspaceId
	newWorkspace := ws == nil
	if ws != nil {
		workspaceID = ws.ID
	}

	var user *store.User
	if newWorkspace {
		// Workspace doesn't exist yet: create it with a placeholder owner
		// id of 0, then the user, then point the workspace at that user;
		// the migration's deferred FK lets the placeholder stand until
		// commit.
		placeholder, err := s.users.CreateWorkspace(ctx, tx, wsName, 0)
		if err != nil {
			return nil, nil, err
		}
		workspaceID = placeholder.ID
		user, err = s.users.CreateUser(ctx, tx, email, name, hash, workspaceID)
		if err != nil {
			return nil, nil, err
		}
		if _, err := tx.Exec(ctx, `UPDATE workspaces SET owner_user_id = $1 WHERE id = $2`, user.ID, workspaceID); err != nil {
			return nil, nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "set workspace owner")
		}
	} else {
		user, err = s.users.CreateUser(ctx, tx, email, name, hash, workspaceID)
		if err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, apperr.Wrap(apperr.KindDatabaseUnavailable, err, "commit signup")
	}

	at, err := s.issuePair(ctx, user, DeviceFingerprint{})
	if err != nil {
		return nil, nil, err
	}
	return at, user, nil
}

// Signin verifies credentials and issues a fresh credential pair bound to
// fp at issuance.
func (s *Service) Signin(ctx context.Context, email, password string, fp DeviceFingerprint) (*AuthTokens, *store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.users.ByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindUserNotFound {
			return nil, nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, apperr.New(apperr.KindUnauthenticated, "invalid credentials")
	}
	if user.Status == store.UserSuspended {
		return nil, nil, apperr.New(apperr.KindAccountSuspended, "account suspended")
	}
	at, err := s.issuePair(ctx, user, fp)
	if err != nil {
		return nil, nil, err
	}
	return at, user, nil
}

// issuePair mints an access+refresh pair and persists the refresh token,
// revoking any stale active chain for the same fingerprint key first (a
// fresh signin supersedes it).
func (s *Service) issuePair(ctx context.Context, user *store.User, fp DeviceFingerprint) (*AuthTokens, error) {
	access, accessExp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}

	if existing, err := s.refreshes.ActiveChainForFingerprint(ctx, user.ID, fp.Key()); err == nil && existing != nil {
		_ = s.refreshes.RevokeChain(ctx, existing.ID)
	}

	plaintext, hash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	row := store.RefreshToken{
		UserID:            user.ID,
		TokenHash:         hash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.refreshTTL),
		AbsoluteExpiresAt: now.Add(s.absoluteTTL),
		UserAgent:         fp.UserAgent,
		IP:                fp.IP,
		DeviceFingerprint: fp.Key(),
	}
	if _, err := s.refreshes.Insert(ctx, nil, row); err != nil {
		return nil, err
	}

	return &AuthTokens{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          plaintext,
		RefreshTokenExpiresAt: row.ExpiresAt,
	}, nil
}

// Refresh implements the rotation algorithm, including replay detection.
func (s *Service) Refresh(ctx context.Context, refreshToken string, fp DeviceFingerprint) (*AuthTokens, error) {
	hash := HashRefreshToken(refreshToken)
	old, err := s.refreshes.ByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if old.Revoked {
		// Presenting an already-revoked token is a replay: kill the whole
		// chain and force re-signin.
		_ = s.refreshes.RevokeChain(ctx, old.ID)
		return nil, apperr.New(apperr.KindRefreshReuseDetected, "refresh token reuse detected, chain revoked")
	}
	now := time.Now().UTC()
	if now.After(old.ExpiresAt) || now.After(old.AbsoluteExpiresAt) {
		return nil, apperr.New(apperr.KindExpiredToken, "refresh token expired")
	}
	onFile := DeviceFingerprint{UserAgent: old.UserAgent, IP: old.IP}
	if !onFile.LooseMatch(fp) {
		return nil, apperr.New(apperr.KindInvalidToken, "device fingerprint mismatch")
	}

	user, err := s.users.ByID(ctx, old.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status == store.UserSuspended {
		return nil, apperr.New(apperr.KindAccountSuspended, "account suspended")
	}

	access, accessExp, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	plaintext, newHash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	next := store.RefreshToken{
		UserID:            user.ID,
		TokenHash:         newHash,
		IssuedAt:          now,
		ExpiresAt:         now.Add(s.refreshTTL),
		AbsoluteExpiresAt: old.AbsoluteExpiresAt,
		UserAgent:         fp.UserAgent,
		IP:                fp.IP,
		DeviceFingerprint: old.DeviceFingerprint,
	}
	if _, err := s.refreshes.Rotate(ctx, *old, next); err != nil {
		return nil, err
	}

	return &AuthTokens{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          plaintext,
		RefreshTokenExpiresAt: next.ExpiresAt,
	}, nil
}

// Logout revokes the chain rooted at refreshToken.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	old, err := s.refreshes.ByHash(ctx, HashRefreshToken(refreshToken))
	if err != nil {
		return err
	}
	return s.refreshes.RevokeChain(ctx, old.ID)
}

// LogoutAll revokes every chain belonging to userID.
func (s *Service) LogoutAll(ctx context.Context, userID ids.UserId) error {
	return s.refreshes.RevokeAllForUser(ctx, userID)
}

// VerifyAccess verifies an access token's signature and (with leeway)
// expiry, used by the authentication middleware stage.
func (s *Service) VerifyAccess(tokenStr string) (*Claims, error) {
	return s.tokens.Verify(tokenStr)
}
