// Package session signs tokens and keeps the browser session in cookies.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/session/entity"
	userentity "github.com/ovaphlow/salon/service-core-go/internal/user/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// ErrNoSession is returned by Refresh whenever no access token can be minted.
var ErrNoSession = errors.New("no valid session")

// Store persists sessions; repo.SessionRepo implements it.
type Store interface {
	Create(ctx context.Context, s *entity.Session) error
	Get(ctx context.Context, id string) (*entity.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64, at time.Time) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Subject is the user a session is opened for.
type Subject struct {
	ID    int64
	Email string
	Role  userentity.Role
}

// Meta is the request context recorded with a session.
type Meta struct {
	IP        string
	UserAgent string
}

type TokenPair struct {
	SessionID        string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type Refreshed struct {
	AccessToken string
	ExpiresAt   time.Time
	User        Identity
}

// Manager owns the access/refresh cookie pair. A nil store keeps sessions
// purely stateless.
type Manager struct {
	signer *Signer
	store  Store
	secure bool
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewManager(signer *Signer, store Store, secure bool, logger *zap.SugaredLogger) *Manager {
	return &Manager{signer: signer, store: store, secure: secure, logger: logger, now: time.Now}
}

func (m *Manager) cookie(name, value string, ttl time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl > 0 {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = m.now().Add(ttl)
	} else {
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
	}
	return c
}

// Create opens a session for u and sets both cookies.
func (m *Manager) Create(ctx context.Context, jar CookieJar, u Subject, meta Meta) (*TokenPair, error) {
	now := m.now().UTC()
	sid := utilities.NewKSUID()
	accessTTL := m.signer.TTL(AccessDomain)
	refreshTTL := m.signer.TTL(RefreshDomain)

	if m.store != nil {
		err := m.store.Create(ctx, &entity.Session{
			ID:        sid,
			UserID:    u.ID,
			IPAddress: meta.IP,
			UserAgent: meta.UserAgent,
			CreatedAt: now,
			ExpiresAt: now.Add(refreshTTL),
		})
		if err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}

	p := Payload{UserID: u.ID, Email: u.Email, Role: u.Role}
	access, err := m.signer.Sign(p, AccessDomain)
	if err != nil {
		return nil, err
	}
	p.SessionID = sid
	refresh, err := m.signer.Sign(p, RefreshDomain)
	if err != nil {
		return nil, err
	}

	jar.SetCookie(m.cookie(AccessCookie, access, accessTTL))
	jar.SetCookie(m.cookie(RefreshCookie, refresh, refreshTTL))
	m.logger.Infow("session created", "user_id", u.ID, "session_id", sid)
	return &TokenPair{
		SessionID:        sid,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(accessTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}

// Current returns the claims of a valid access cookie, or nil.
func (m *Manager) Current(jar CookieJar) *Claims {
	tok, ok := jar.Cookie(AccessCookie)
	if !ok {
		return nil
	}
	return m.signer.Verify(tok, AccessDomain)
}

// VerifyAccess checks a raw access token, e.g. from a bearer header.
func (m *Manager) VerifyAccess(token string) *Claims {
	return m.signer.Verify(token, AccessDomain)
}

// Refresh mints a new access token from the refresh cookie. The refresh token
// itself is left in place. Store failures fail closed.
func (m *Manager) Refresh(ctx context.Context, jar CookieJar) (*Refreshed, error) {
	tok, ok := jar.Cookie(RefreshCookie)
	if !ok {
		return nil, ErrNoSession
	}
	claims := m.signer.Verify(tok, RefreshDomain)
	if claims == nil {
		return nil, ErrNoSession
	}
	if m.store != nil {
		s, err := m.store.Get(ctx, claims.ID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				m.logger.Warnw("session lookup failed", "session_id", claims.ID, "error", err)
			}
			return nil, ErrNoSession
		}
		if s.UserID != claims.UserID || !s.Active(m.now()) {
			return nil, ErrNoSession
		}
	}

	access, err := m.signer.Sign(Payload{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, AccessDomain)
	if err != nil {
		return nil, err
	}
	ttl := m.signer.TTL(AccessDomain)
	jar.SetCookie(m.cookie(AccessCookie, access, ttl))
	return &Refreshed{AccessToken: access, ExpiresAt: m.now().Add(ttl), User: claims.Identity()}, nil
}

// Destroy clears both cookies and revokes the session named by the refresh
// cookie. It returns the verified refresh claims, or nil when there were none.
func (m *Manager) Destroy(ctx context.Context, jar CookieJar) (*Claims, error) {
	tok, hasRefresh := jar.Cookie(RefreshCookie)
	jar.SetCookie(m.cookie(AccessCookie, "", 0))
	jar.SetCookie(m.cookie(RefreshCookie, "", 0))

	if !hasRefresh {
		return nil, nil
	}
	claims := m.signer.Verify(tok, RefreshDomain)
	if claims == nil {
		return nil, nil
	}
	if m.store == nil || claims.ID == "" {
		return claims, nil
	}
	if err := m.store.Revoke(ctx, claims.ID, m.now().UTC()); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return claims, fmt.Errorf("revoke session: %w", err)
	}
	m.logger.Infow("session destroyed", "user_id", claims.UserID, "session_id", claims.ID)
	return claims, nil
}

// RevokeAll ends every session of userID. Outstanding access tokens stay valid
// until they expire.
func (m *Manager) RevokeAll(ctx context.Context, userID int64) error {
	if m.store == nil {
		return nil
	}
	n, err := m.store.RevokeAllForUser(ctx, userID, m.now().UTC())
	if err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	m.logger.Infow("sessions revoked", "user_id", userID, "count", n)
	return nil
}

// PurgeExpired deletes expired and revoked session rows.
func (m *Manager) PurgeExpired(ctx context.Context) (int64, error) {
	if m.store == nil {
		return 0, nil
	}
	return m.store.PurgeExpired(ctx, m.now().UTC())
}
