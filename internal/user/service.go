package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	auditentity "github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/mailer"
	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
	"github.com/ovaphlow/salon/service-core-go/internal/otp"
	otpentity "github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
	"github.com/ovaphlow/salon/service-core-go/pkg/database"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already registered")
	ErrBadCredentials   = errors.New("invalid credentials")
	ErrLocked           = errors.New("account temporarily locked")
	ErrBlocked          = errors.New("account blocked")
	ErrNotVerified      = errors.New("email not verified")
	ErrAlreadyVerified  = errors.New("email already verified")
	ErrSameEmail        = errors.New("new email equals the current one")
	ErrRoleNotAllowed   = errors.New("role cannot be chosen at registration")
	ErrInsufficientRole = errors.New("insufficient privileges")
	ErrSelfAction       = errors.New("operation not allowed on own account")
)

// ThrottledError reports how long to wait before another code can be sent.
type ThrottledError struct {
	Remaining time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("please wait %s before requesting a new code", e.Remaining.Round(time.Second))
}

// RemainingSeconds rounds the wait up to whole seconds.
func (e *ThrottledError) RemainingSeconds() int {
	s := int(e.Remaining / time.Second)
	if e.Remaining%time.Second != 0 {
		s++
	}
	return s
}

// Store is the persistence the account flows need; repo.UserRepo implements it.
type Store interface {
	Create(ctx context.Context, u *entity.User) (int64, error)
	GetByEmail(ctx context.Context, email string) (*entity.User, error)
	GetByID(ctx context.Context, id int64) (*entity.User, error)
	IncrementFailedLogin(ctx context.Context, id int64) (int, error)
	LockIfThreshold(ctx context.Context, id int64, threshold int, until time.Time) (bool, error)
	ResetLoginSuccess(ctx context.Context, id int64) error
	MarkEmailVerified(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateEmail(ctx context.Context, id int64, email string) error
	UpdateProfile(ctx context.Context, id int64, p entity.Profile) error
	SetStatus(ctx context.Context, id int64, status entity.AccountStatus) error
	SetRole(ctx context.Context, id int64, role entity.Role) error
	SoftDelete(ctx context.Context, id int64) error
}

// OTPs is the slice of otp.Manager the flows use.
type OTPs interface {
	Create(ctx context.Context, userID int64, purpose otpentity.Purpose, recipient string, meta otpentity.Metadata) (*otp.Issued, error)
	Verify(ctx context.Context, userID int64, code string, purpose otpentity.Purpose) (string, error)
	CanSend(ctx context.Context, userID int64, purpose otpentity.Purpose) (bool, time.Duration, error)
	Get(ctx context.Context, id string) (*otpentity.OTP, error)
	ExpiryWindow() time.Duration
}

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) error
}

type Auditor interface {
	Record(ctx context.Context, e auditentity.Entry) error
}

// RequestInfo is the caller context stored with codes and audit entries.
type RequestInfo struct {
	IP        string
	UserAgent string
}

// Actor is the authenticated user performing an administrative action.
type Actor struct {
	ID   int64
	Role entity.Role
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     *string
	Role      entity.Role
}

// UserService orchestrates authentication and user lifecycle flows.
type UserService struct {
	store    Store
	hasher   PasswordHasher
	otps     OTPs
	mail     mailer.Sender
	sessions SessionRevoker
	audit    Auditor
	login    config.Login
	logger   *zap.SugaredLogger
	now      func() time.Time

	decoyOnce sync.Once
	decoy     string
}

func NewUserService(store Store, hasher PasswordHasher, otps OTPs, mail mailer.Sender, sessions SessionRevoker, auditor Auditor, login config.Login, logger *zap.SugaredLogger) *UserService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: DefaultCost}
	}
	return &UserService{
		store:    store,
		hasher:   hasher,
		otps:     otps,
		mail:     mail,
		sessions: sessions,
		audit:    auditor,
		login:    login,
		logger:   logger,
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func idString(id int64) string { return strconv.FormatInt(id, 10) }

// record writes an audit entry. A failed write is logged and does not undo the operation.
func (s *UserService) record(ctx context.Context, info RequestInfo, actorID *int64, action auditentity.Action, subject int64, before, after any) {
	e := auditentity.Entry{
		ActorID:    actorID,
		Action:     action,
		EntityType: "user",
		EntityID:   idString(subject),
		IPAddress:  info.IP,
		UserAgent:  info.UserAgent,
	}
	if before != nil {
		e.Before = auditentity.Snapshot(before)
	}
	if after != nil {
		e.After = auditentity.Snapshot(after)
	}
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Errorw("audit write failed", "action", action, "user_id", subject, "error", err)
	}
}

func (s *UserService) lookupByEmail(ctx context.Context, email string) (*entity.User, error) {
	u, err := s.store.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Get returns a live user by id.
func (s *UserService) Get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.store.GetByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// sendCode issues a code for purpose and mails it to recipient. Mail failures
// are logged; the caller can ask again once the resend window passed.
func (s *UserService) sendCode(ctx context.Context, u *entity.User, purpose otpentity.Purpose, recipient string, meta otpentity.Metadata) error {
	issued, err := s.otps.Create(ctx, u.ID, purpose, recipient, meta)
	if err != nil {
		return err
	}
	if err := s.mail.SendCode(ctx, recipient, purpose, issued.Code, s.otps.ExpiryWindow()); err != nil {
		s.logger.Errorw("code delivery failed", "user_id", u.ID, "purpose", purpose, "error", err)
	}
	return nil
}

func (s *UserService) throttle(ctx context.Context, userID int64, purpose otpentity.Purpose) error {
	ok, remaining, err := s.otps.CanSend(ctx, userID, purpose)
	if err != nil {
		return err
	}
	if !ok {
		return &ThrottledError{Remaining: remaining}
	}
	return nil
}

// Register creates a pending account and mails its verification code.
func (s *UserService) Register(ctx context.Context, in RegisterInput, info RequestInfo) (*entity.User, error) {
	if entity.AtLeast(in.Role, entity.RoleAdmin) {
		return nil, ErrRoleNotAllowed
	}
	email := normalizeEmail(in.Email)
	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := &entity.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        in.Phone,
		Role:         in.Role,
		Status:       entity.StatusPendingVerification,
	}
	if _, err := s.store.Create(ctx, u); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.record(ctx, info, &u.ID, auditentity.ActionRegister, u.ID, nil, u)

	meta := otpentity.Metadata{IP: info.IP, UserAgent: info.UserAgent, Operation: "register"}
	if err := s.sendCode(ctx, u, otpentity.PurposeVerificationEmail, u.Email, meta); err != nil {
		return nil, fmt.Errorf("issue verification code: %w", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID, "role", u.Role)
	return u, nil
}

// VerifyEmail consumes a verification code and activates the account.
func (s *UserService) VerifyEmail(ctx context.Context, email, code string, info RequestInfo) (*entity.User, error) {
	u, err := s.lookupByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, otp.ErrCodeInvalidOrExpired
	}
	if err != nil {
		return nil, err
	}
	if u.EmailVerified {
		return nil, ErrAlreadyVerified
	}
	if _, err := s.otps.Verify(ctx, u.ID, code, otpentity.PurposeVerificationEmail); err != nil {
		return nil, err
	}
	if err := s.store.MarkEmailVerified(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("mark verified: %w", err)
	}
	before := map[string]any{"emailVerified": u.EmailVerified, "accountStatus": u.Status}
	if u, err = s.Get(ctx, u.ID); err != nil {
		return nil, err
	}
	s.record(ctx, info, &u.ID, auditentity.ActionVerifyEmail, u.ID, before,
		map[string]any{"emailVerified": u.EmailVerified, "accountStatus": u.Status})

	if err := s.mail.SendWelcome(ctx, u.Email, u.FirstName); err != nil {
		s.logger.Warnw("welcome mail failed", "user_id", u.ID, "error", err)
	}
	return u, nil
}

// ResendVerification mails a fresh verification code. Unknown or already
// verified addresses succeed silently.
func (s *UserService) ResendVerification(ctx context.Context, email string, info RequestInfo) error {
	u, err := s.lookupByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if u.EmailVerified {
		return nil
	}
	if err := s.throttle(ctx, u.ID, otpentity.PurposeVerificationEmail); err != nil {
		return err
	}
	meta := otpentity.Metadata{IP: info.IP, UserAgent: info.UserAgent, Operation: "resend-verification"}
	return s.sendCode(ctx, u, otpentity.PurposeVerificationEmail, u.Email, meta)
}

// Login checks the password and the account state. Repeated failures lock the
// account for the configured window.
// decoyHash is a digest of a random string, made once with the service's
// hasher so it carries the same cost as stored passwords.
func (s *UserService) decoyHash() string {
	s.decoyOnce.Do(func() {
		h, err := s.hasher.Hash(ksuid.New().String())
		if err != nil {
			s.logger.Warnw("decoy hash unavailable", "error", err)
			return
		}
		s.decoy = h
	})
	return s.decoy
}

func (s *UserService) Login(ctx context.Context, email, password string, info RequestInfo) (*entity.User, error) {
	u, err := s.lookupByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		// spend the same hashing work as a real account
		s.hasher.Verify(s.decoyHash(), password)
		metrics.AuthLogins.WithLabelValues("unknown").Inc()
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	if u.Locked(now) {
		metrics.AuthLogins.WithLabelValues("locked").Inc()
		return nil, ErrLocked
	}

	if !s.hasher.Verify(u.PasswordHash, password) {
		metrics.AuthLogins.WithLabelValues("failure").Inc()
		s.record(ctx, info, nil, auditentity.ActionLoginFailed, u.ID, nil, nil)
		if _, err := s.store.IncrementFailedLogin(ctx, u.ID); err != nil {
			return nil, fmt.Errorf("count failed login: %w", err)
		}
		until := now.Add(time.Duration(s.login.LockMinutes) * time.Minute)
		locked, err := s.store.LockIfThreshold(ctx, u.ID, s.login.MaxFailed, until)
		if err != nil {
			return nil, fmt.Errorf("lock account: %w", err)
		}
		if locked {
			s.logger.Warnw("account locked", "user_id", u.ID, "until", until)
			return nil, ErrLocked
		}
		return nil, ErrBadCredentials
	}

	switch {
	case u.Status == entity.StatusBlocked:
		metrics.AuthLogins.WithLabelValues("blocked").Inc()
		return nil, ErrBlocked
	case !u.EmailVerified || u.Status == entity.StatusPendingVerification:
		metrics.AuthLogins.WithLabelValues("unverified").Inc()
		return nil, ErrNotVerified
	}

	if err := s.store.ResetLoginSuccess(ctx, u.ID); err != nil {
		return nil, fmt.Errorf("reset login counters: %w", err)
	}
	metrics.AuthLogins.WithLabelValues("success").Inc()
	s.record(ctx, info, &u.ID, auditentity.ActionLogin, u.ID, nil, nil)
	return u, nil
}

// ForgotPassword mails a reset code when the address belongs to an active
// account. It never reveals whether it did.
func (s *UserService) ForgotPassword(ctx context.Context, email string, info RequestInfo) {
	u, err := s.lookupByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logger.Errorw("forgot password lookup failed", "error", err)
		}
		return
	}
	if u.Status == entity.StatusBlocked {
		return
	}
	if err := s.throttle(ctx, u.ID, otpentity.PurposePasswordReset); err != nil {
		s.logger.Debugw("forgot password throttled", "user_id", u.ID, "error", err)
		return
	}
	meta := otpentity.Metadata{IP: info.IP, UserAgent: info.UserAgent, Operation: "forgot-password"}
	if err := s.sendCode(ctx, u, otpentity.PurposePasswordReset, u.Email, meta); err != nil {
		s.logger.Errorw("forgot password issue failed", "user_id", u.ID, "error", err)
	}
}

// ResetPassword consumes a reset code, stores the new password and ends all sessions.
func (s *UserService) ResetPassword(ctx context.Context, email, code, password string, info RequestInfo) error {
	u, err := s.lookupByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return otp.ErrCodeInvalidOrExpired
	}
	if err != nil {
		return err
	}
	if _, err := s.otps.Verify(ctx, u.ID, code, otpentity.PurposePasswordReset); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, u.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, u.ID); err != nil {
		return err
	}
	s.record(ctx, info, &u.ID, auditentity.ActionPasswordReset, u.ID, nil, nil)
	return nil
}

// RequestEmailChange mails a confirmation code to the new address.
func (s *UserService) RequestEmailChange(ctx context.Context, userID int64, newEmail string, info RequestInfo) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	newEmail = normalizeEmail(newEmail)
	if newEmail == u.Email {
		return ErrSameEmail
	}
	if _, err := s.store.GetByEmail(ctx, newEmail); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check email: %w", err)
	}
	if err := s.throttle(ctx, u.ID, otpentity.PurposeEmailChange); err != nil {
		return err
	}
	meta := otpentity.Metadata{IP: info.IP, UserAgent: info.UserAgent, Operation: "email-change", NewEmail: newEmail}
	return s.sendCode(ctx, u, otpentity.PurposeEmailChange, newEmail, meta)
}

// ConfirmEmailChange applies the address carried by a verified email change code.
func (s *UserService) ConfirmEmailChange(ctx context.Context, userID int64, code string, info RequestInfo) (*entity.User, error) {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	otpID, err := s.otps.Verify(ctx, userID, code, otpentity.PurposeEmailChange)
	if err != nil {
		return nil, err
	}
	row, err := s.otps.Get(ctx, otpID)
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	newEmail := row.Metadata.NewEmail
	if newEmail == "" {
		return nil, otp.ErrCodeInvalidOrExpired
	}
	if err := s.store.UpdateEmail(ctx, userID, newEmail); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("update email: %w", err)
	}
	s.record(ctx, info, &userID, auditentity.ActionEmailChange, userID,
		map[string]string{"email": u.Email}, map[string]string{"email": newEmail})
	return s.Get(ctx, userID)
}

// RequestAccountDelete mails a deletion code to the current address.
func (s *UserService) RequestAccountDelete(ctx context.Context, userID int64, info RequestInfo) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.throttle(ctx, u.ID, otpentity.PurposeAccountDelete); err != nil {
		return err
	}
	meta := otpentity.Metadata{IP: info.IP, UserAgent: info.UserAgent, Operation: "account-delete"}
	return s.sendCode(ctx, u, otpentity.PurposeAccountDelete, u.Email, meta)
}

// ConfirmAccountDelete consumes the deletion code, soft-deletes the account
// and ends its sessions.
func (s *UserService) ConfirmAccountDelete(ctx context.Context, userID int64, code string, info RequestInfo) error {
	u, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := s.otps.Verify(ctx, userID, code, otpentity.PurposeAccountDelete); err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, userID); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if err := s.sessions.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, info, &userID, auditentity.ActionAccountDelete, userID, u, nil)
	s.logger.Infow("account deleted", "user_id", userID)
	return nil
}

// UpdateProfile writes names and phone.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, p entity.Profile, info RequestInfo) (*entity.User, error) {
	before, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	if err := s.store.UpdateProfile(ctx, userID, p); err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	after, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, info, &userID, auditentity.ActionProfileUpdate, userID, before, after)
	return after, nil
}

// canManage reports whether actor may change target. Only a super admin may
// act on admins, and nobody acts on themselves.
func canManage(actor Actor, target *entity.User) error {
	if actor.ID == target.ID {
		return ErrSelfAction
	}
	if actor.Role != entity.RoleSuperAdmin && entity.AtLeast(target.Role, entity.RoleAdmin) {
		return ErrInsufficientRole
	}
	if target.Role == entity.RoleSuperAdmin {
		return ErrInsufficientRole
	}
	return nil
}

// SetBlocked blocks or unblocks an account. Blocking ends all its sessions.
func (s *UserService) SetBlocked(ctx context.Context, actor Actor, targetID int64, blocked bool, info RequestInfo) (*entity.User, error) {
	if !entity.AtLeast(actor.Role, entity.RoleAdmin) {
		return nil, ErrInsufficientRole
	}
	target, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := canManage(actor, target); err != nil {
		return nil, err
	}

	status, action := entity.StatusBlocked, auditentity.ActionBlock
	if !blocked {
		action = auditentity.ActionUnblock
		status = entity.StatusActive
		if !target.EmailVerified {
			status = entity.StatusPendingVerification
		}
	}
	if err := s.store.SetStatus(ctx, targetID, status); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}
	if blocked {
		if err := s.sessions.RevokeAll(ctx, targetID); err != nil {
			return nil, err
		}
	}
	s.record(ctx, info, &actor.ID, action, targetID,
		map[string]any{"accountStatus": target.Status}, map[string]any{"accountStatus": status})
	return s.Get(ctx, targetID)
}

// ChangeRole assigns role to the target. Granting admin roles needs a super admin.
func (s *UserService) ChangeRole(ctx context.Context, actor Actor, targetID int64, role entity.Role, info RequestInfo) (*entity.User, error) {
	if !entity.AtLeast(actor.Role, entity.RoleAdmin) {
		return nil, ErrInsufficientRole
	}
	if entity.AtLeast(role, entity.RoleAdmin) && actor.Role != entity.RoleSuperAdmin {
		return nil, ErrInsufficientRole
	}
	target, err := s.Get(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := canManage(actor, target); err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}
	if err := s.store.SetRole(ctx, targetID, role); err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	// refresh tokens carry the role; force a new login
	if err := s.sessions.RevokeAll(ctx, targetID); err != nil {
		return nil, err
	}
	s.record(ctx, info, &actor.ID, auditentity.ActionRoleChange, targetID,
		map[string]any{"role": target.Role}, map[string]any{"role": role})
	return s.Get(ctx, targetID)
}
