package user

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"go.uber.org/zap"

	auditentity "github.com/ovaphlow/salon/service-core-go/internal/audit/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/otp"
	otpentity "github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
	"github.com/ovaphlow/salon/service-core-go/internal/user/entity"
)

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*entity.User
	now    func() time.Time
}

func newMemUsers(now func() time.Time) *memUsers {
	return &memUsers{rows: map[int64]*entity.User{}, now: now}
}

func (m *memUsers) live(id int64) (*entity.User, bool) {
	u, ok := m.rows[id]
	if !ok || u.DeletedAt != nil {
		return nil, false
	}
	return u, true
}

func (m *memUsers) Create(_ context.Context, u *entity.User) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DeletedAt == nil && r.Email == u.Email {
			return 0, fmt.Errorf("duplicate email")
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = m.now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.rows[u.ID] = &cp
	return u.ID, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.DeletedAt == nil && r.Email == email {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) GetByID(_ context.Context, id int64) (*entity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.live(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) update(id int64, fn func(u *entity.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.live(id)
	if !ok {
		return sql.ErrNoRows
	}
	fn(u)
	return nil
}

func (m *memUsers) IncrementFailedLogin(_ context.Context, id int64) (int, error) {
	var n int
	err := m.update(id, func(u *entity.User) {
		u.LoginFailedAttempts++
		n = u.LoginFailedAttempts
	})
	return n, err
}

func (m *memUsers) LockIfThreshold(_ context.Context, id int64, threshold int, until time.Time) (bool, error) {
	locked := false
	err := m.update(id, func(u *entity.User) {
		if u.LoginFailedAttempts >= threshold {
			u.LockedUntil = &until
			u.LoginFailedAttempts = 0
			locked = true
		}
	})
	return locked, err
}

func (m *memUsers) ResetLoginSuccess(_ context.Context, id int64) error {
	return m.update(id, func(u *entity.User) {
		now := m.now()
		u.LoginFailedAttempts = 0
		u.LockedUntil = nil
		u.LastLoginAt = &now
	})
}

func (m *memUsers) MarkEmailVerified(_ context.Context, id int64) error {
	return m.update(id, func(u *entity.User) {
		u.EmailVerified = true
		if u.Status == entity.StatusPendingVerification {
			u.Status = entity.StatusActive
		}
	})
}

func (m *memUsers) UpdatePassword(_ context.Context, id int64, hash string) error {
	return m.update(id, func(u *entity.User) {
		u.PasswordHash = hash
		u.LoginFailedAttempts = 0
		u.LockedUntil = nil
	})
}

func (m *memUsers) UpdateEmail(_ context.Context, id int64, email string) error {
	return m.update(id, func(u *entity.User) {
		u.Email = email
		u.EmailVerified = true
	})
}

func (m *memUsers) UpdateProfile(_ context.Context, id int64, p entity.Profile) error {
	return m.update(id, func(u *entity.User) {
		u.FirstName, u.LastName, u.Phone = p.FirstName, p.LastName, p.Phone
	})
}

func (m *memUsers) SetStatus(_ context.Context, id int64, status entity.AccountStatus) error {
	return m.update(id, func(u *entity.User) { u.Status = status })
}

func (m *memUsers) SetRole(_ context.Context, id int64, role entity.Role) error {
	return m.update(id, func(u *entity.User) { u.Role = role })
}

func (m *memUsers) SoftDelete(_ context.Context, id int64) error {
	return m.update(id, func(u *entity.User) {
		now := m.now()
		u.DeletedAt = &now
	})
}

// fakeOTPs keeps one code per (user, purpose) and accepts it exactly once.
type fakeOTPs struct {
	mu      sync.Mutex
	seq     int
	pending map[string]*otpentity.OTP
	byID    map[string]*otpentity.OTP
	blocked map[otpentity.Purpose]time.Duration
}

func newFakeOTPs() *fakeOTPs {
	return &fakeOTPs{pending: map[string]*otpentity.OTP{}, byID: map[string]*otpentity.OTP{}, blocked: map[otpentity.Purpose]time.Duration{}}
}

func otpKey(userID int64, p otpentity.Purpose) string { return fmt.Sprintf("%d/%s", userID, p) }

func (f *fakeOTPs) Create(_ context.Context, userID int64, purpose otpentity.Purpose, recipient string, meta otpentity.Metadata) (*otp.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	o := &otpentity.OTP{
		ID: fmt.Sprintf("otp-%d", f.seq), UserID: userID, Purpose: purpose,
		Code: fmt.Sprintf("%06d", 100000+f.seq), Recipient: recipient,
		Status: otpentity.StatusPending, Metadata: meta,
	}
	f.pending[otpKey(userID, purpose)] = o
	f.byID[o.ID] = o
	return &otp.Issued{OTPID: o.ID, Code: o.Code}, nil
}

func (f *fakeOTPs) Verify(_ context.Context, userID int64, code string, purpose otpentity.Purpose) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.pending[otpKey(userID, purpose)]
	if !ok {
		return "", otp.ErrCodeInvalidOrExpired
	}
	if o.Code != code {
		return "", otp.ErrIncorrectCode
	}
	o.Status = otpentity.StatusVerified
	delete(f.pending, otpKey(userID, purpose))
	return o.ID, nil
}

func (f *fakeOTPs) CanSend(_ context.Context, _ int64, purpose otpentity.Purpose) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d, ok := f.blocked[purpose]; ok {
		return false, d, nil
	}
	return true, 0, nil
}

func (f *fakeOTPs) Get(_ context.Context, id string) (*otpentity.OTP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return o, nil
}

func (f *fakeOTPs) ExpiryWindow() time.Duration { return 10 * time.Minute }

type sentCode struct {
	to      string
	purpose otpentity.Purpose
	code    string
}

type fakeMail struct {
	mu       sync.Mutex
	codes    []sentCode
	welcomes []string
}

func (f *fakeMail) SendCode(_ context.Context, to string, purpose otpentity.Purpose, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, sentCode{to: to, purpose: purpose, code: code})
	return nil
}

func (f *fakeMail) SendWelcome(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes = append(f.welcomes, to)
	return nil
}

func (f *fakeMail) last() sentCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.codes) == 0 {
		return sentCode{}
	}
	return f.codes[len(f.codes)-1]
}

type fakeRevoker struct {
	mu      sync.Mutex
	revoked []int64
}

func (f *fakeRevoker) RevokeAll(_ context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID)
	return nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []auditentity.Entry
}

func (a *memAudit) Record(_ context.Context, e auditentity.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
	return nil
}

func (a *memAudit) actions() []auditentity.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditentity.Action, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc      *UserService
	users    *memUsers
	otps     *fakeOTPs
	mail     *fakeMail
	sessions *fakeRevoker
	audit    *memAudit
	clock    *time.Time
}

func newFixture() *fixture {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	f := &fixture{clock: &now}
	clock := func() time.Time { return *f.clock }
	f.users = newMemUsers(clock)
	f.otps = newFakeOTPs()
	f.mail = &fakeMail{}
	f.sessions = &fakeRevoker{}
	f.audit = &memAudit{}
	f.svc = NewUserService(f.users, BcryptHasher{Cost: bcrypt.MinCost}, f.otps, f.mail, f.sessions, f.audit,
		config.Login{MaxFailed: 5, LockMinutes: 15}, zap.NewNop().Sugar())
	f.svc.now = clock
	return f
}

func (f *fixture) advance(d time.Duration) { *f.clock = f.clock.Add(d) }

const goodPassword = "Password1!"

// activeUser registers and verifies an account.
func (f *fixture) activeUser(email string, role entity.Role) *entity.User {
	ctx := context.Background()
	u, err := f.svc.Register(ctx, RegisterInput{Email: email, Password: goodPassword, FirstName: "Ann", LastName: "Lee"}, RequestInfo{})
	if err != nil {
		panic(err)
	}
	if _, err := f.svc.VerifyEmail(ctx, email, f.mail.last().code, RequestInfo{}); err != nil {
		panic(err)
	}
	if role != entity.RoleVisitor {
		_ = f.users.SetRole(ctx, u.ID, role)
	}
	out, _ := f.users.GetByID(ctx, u.ID)
	return out
}
