package otp

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/config"
	"github.com/ovaphlow/salon/service-core-go/internal/otp/entity"
)

// memStore mirrors the guarantees of repo.OTPRepo in memory.
type memStore struct {
	mu   sync.Mutex
	rows map[string]*entity.OTP
	fail error
}

func newMemStore() *memStore { return &memStore{rows: map[string]*entity.OTP{}} }

func (s *memStore) Issue(_ context.Context, o *entity.OTP) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	var n int64
	for _, r := range s.rows {
		if r.UserID == o.UserID && r.Purpose == o.Purpose && r.Status == entity.StatusPending {
			r.Status = entity.StatusCanceled
			at := o.CreatedAt
			r.ClosedAt = &at
			n++
		}
	}
	cp := *o
	s.rows[o.ID] = &cp
	return n, nil
}

func (s *memStore) byUser(userID int64, purpose entity.Purpose) []*entity.OTP {
	var out []*entity.OTP
	for _, r := range s.rows {
		if r.UserID == userID && r.Purpose == purpose {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *memStore) LatestPending(_ context.Context, userID int64, purpose entity.Purpose) (*entity.OTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.byUser(userID, purpose) {
		if r.Status == entity.StatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *memStore) LastCreatedAt(_ context.Context, userID int64, purpose entity.Purpose) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.byUser(userID, purpose)
	if len(rows) == 0 {
		return time.Time{}, false, nil
	}
	return rows[0].CreatedAt, true, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*entity.OTP, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) Close(_ context.Context, id string, status entity.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != entity.StatusPending {
		return sql.ErrNoRows
	}
	r.Status = status
	r.ClosedAt = &at
	if status == entity.StatusVerified {
		r.UsedAt = &at
	}
	return nil
}

func (s *memStore) IncrementAttempts(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || r.Status != entity.StatusPending {
		return 0, sql.ErrNoRows
	}
	r.Attempts++
	return r.Attempts, nil
}

func (s *memStore) DeleteClosedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.rows {
		if r.Status.Terminal() && r.ClosedAt != nil && r.ClosedAt.Before(cutoff) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) pending(userID int64, purpose entity.Purpose) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.UserID == userID && r.Purpose == purpose && r.Status == entity.StatusPending {
			n++
		}
	}
	return n
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testConfig() config.OTP {
	return config.OTP{
		Expiry:       10 * time.Minute,
		MaxAttempts:  3,
		ResendWindow: 60 * time.Second,
		Retention:    24 * time.Hour,
	}
}

func newTestManager(t *testing.T) (*Manager, *memStore, *clock) {
	t.Helper()
	store := newMemStore()
	c := &clock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	m := NewManager(store, testConfig(), zap.NewNop().Sugar())
	m.now = c.now
	return m, store, c
}

func wrongCode(code string) string {
	n, _ := strconv.Atoi(code)
	if n == 999999 {
		return "100000"
	}
	return strconv.Itoa(n + 1)
}

func TestCreateProducesSixDigitCode(t *testing.T) {
	m, _, c := newTestManager(t)
	for i := 0; i < 50; i++ {
		issued, err := m.Create(context.Background(), 1, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
		require.NoError(t, err)
		require.Len(t, issued.Code, 6)
		n, err := strconv.Atoi(issued.Code)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 100000)
		assert.LessOrEqual(t, n, 999999)
		assert.Equal(t, c.t.Add(10*time.Minute), issued.ExpiresAt)
	}
}

func TestCreateUsesRandomSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.rand = bytes.NewReader(make([]byte, 64))
	issued, err := m.Create(context.Background(), 1, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "100000", issued.Code)
}

func TestCreateRejectsUnknownPurpose(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), 1, entity.Purpose("NOPE"), "a@example.com", entity.Metadata{})
	assert.ErrorIs(t, err, ErrUnknownPurpose)
}

func TestCreateSupersedesPending(t *testing.T) {
	m, store, c := newTestManager(t)
	ctx := context.Background()

	first, err := m.Create(ctx, 7, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	c.advance(time.Second)
	second, err := m.Create(ctx, 7, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)

	assert.Equal(t, 1, store.pending(7, entity.PurposeVerificationEmail))
	old, err := m.Get(ctx, first.OTPID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, old.Status)
	assert.NotNil(t, old.ClosedAt)

	if first.Code != second.Code {
		_, err = m.Verify(ctx, 7, first.Code, entity.PurposeVerificationEmail)
		assert.ErrorIs(t, err, ErrIncorrectCode)
	}
	id, err := m.Verify(ctx, 7, second.Code, entity.PurposeVerificationEmail)
	require.NoError(t, err)
	assert.Equal(t, second.OTPID, id)
}

func TestCreateIsScopedByPurpose(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	_, err := m.Create(ctx, 7, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	_, err = m.Create(ctx, 7, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, 1, store.pending(7, entity.PurposeVerificationEmail))
	assert.Equal(t, 1, store.pending(7, entity.PurposePasswordReset))
}

func TestCreatePropagatesStoreError(t *testing.T) {
	m, store, _ := newTestManager(t)
	store.fail = errors.New("down")
	_, err := m.Create(context.Background(), 1, entity.PurposeAccountDelete, "a@example.com", entity.Metadata{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrConcurrentIssue)
}

func TestVerifySucceedsOnce(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 3, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)

	id, err := m.Verify(ctx, 3, issued.Code, entity.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, issued.OTPID, id)

	row, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusVerified, row.Status)
	assert.NotNil(t, row.UsedAt)

	_, err = m.Verify(ctx, 3, issued.Code, entity.PurposePasswordReset)
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestVerifyWrongPurpose(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 3, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	_, err = m.Verify(ctx, 3, issued.Code, entity.PurposeEmailChange)
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestVerifyExpired(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 3, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)

	c.advance(10*time.Minute + time.Second)
	_, err = m.Verify(ctx, 3, issued.Code, entity.PurposeVerificationEmail)
	assert.ErrorIs(t, err, ErrCodeExpired)

	row, err := m.Get(ctx, issued.OTPID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusExpired, row.Status)

	_, err = m.Verify(ctx, 3, issued.Code, entity.PurposeVerificationEmail)
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestVerifyAtExpiryInstantStillValid(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 3, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	c.advance(10 * time.Minute)
	_, err = m.Verify(ctx, 3, issued.Code, entity.PurposeVerificationEmail)
	assert.NoError(t, err)
}

func TestVerifyExhaustsAfterMaxAttempts(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 9, entity.PurposeEmailChange, "b@example.com", entity.Metadata{NewEmail: "b@example.com"})
	require.NoError(t, err)
	bad := wrongCode(issued.Code)

	_, err = m.Verify(ctx, 9, bad, entity.PurposeEmailChange)
	assert.ErrorIs(t, err, ErrIncorrectCode)
	_, err = m.Verify(ctx, 9, bad, entity.PurposeEmailChange)
	assert.ErrorIs(t, err, ErrIncorrectCode)
	// the mismatch that uses up the last attempt still reads as a wrong code
	_, err = m.Verify(ctx, 9, bad, entity.PurposeEmailChange)
	assert.ErrorIs(t, err, ErrIncorrectCode)

	row, err := m.Get(ctx, issued.OTPID)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusCanceled, row.Status)
	assert.Equal(t, 3, row.Attempts)

	_, err = m.Verify(ctx, 9, issued.Code, entity.PurposeEmailChange)
	assert.ErrorIs(t, err, ErrCodeInvalidOrExpired)
}

func TestVerifyCancelsRowAlreadyAtMax(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 9, entity.PurposeAccountDelete, "b@example.com", entity.Metadata{})
	require.NoError(t, err)
	store.rows[issued.OTPID].Attempts = 3

	_, err = m.Verify(ctx, 9, issued.Code, entity.PurposeAccountDelete)
	assert.ErrorIs(t, err, ErrMaxAttempts)
	row, _ := m.Get(ctx, issued.OTPID)
	assert.Equal(t, entity.StatusCanceled, row.Status)
}

func TestVerifyConcurrentSingleWinner(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 4, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Verify(ctx, 4, issued.Code, entity.PurposePasswordReset); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestCanSendWindow(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()

	ok, wait, err := m.CanSend(ctx, 5, entity.PurposeVerificationEmail)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, wait)

	_, err = m.Create(ctx, 5, entity.PurposeVerificationEmail, "a@example.com", entity.Metadata{})
	require.NoError(t, err)

	c.advance(20 * time.Second)
	ok, wait, err = m.CanSend(ctx, 5, entity.PurposeVerificationEmail)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, wait)

	c.advance(40 * time.Second)
	ok, _, err = m.CanSend(ctx, 5, entity.PurposeVerificationEmail)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCanSendCountsTerminalRows(t *testing.T) {
	m, _, c := newTestManager(t)
	ctx := context.Background()
	issued, err := m.Create(ctx, 5, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	_, err = m.Verify(ctx, 5, issued.Code, entity.PurposePasswordReset)
	require.NoError(t, err)

	c.advance(30 * time.Second)
	ok, _, err := m.CanSend(ctx, 5, entity.PurposePasswordReset)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCleanExpired(t *testing.T) {
	m, store, c := newTestManager(t)
	ctx := context.Background()

	done, err := m.Create(ctx, 1, entity.PurposePasswordReset, "a@example.com", entity.Metadata{})
	require.NoError(t, err)
	_, err = m.Verify(ctx, 1, done.Code, entity.PurposePasswordReset)
	require.NoError(t, err)
	live, err := m.Create(ctx, 2, entity.PurposePasswordReset, "b@example.com", entity.Metadata{})
	require.NoError(t, err)

	c.advance(23 * time.Hour)
	n, err := m.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.advance(2 * time.Hour)
	n, err = m.CleanExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = m.Get(ctx, done.OTPID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	_, err = store.GetByID(ctx, live.OTPID)
	assert.NoError(t, err)
}

func TestIsVerificationFailure(t *testing.T) {
	assert.True(t, IsVerificationFailure(ErrIncorrectCode))
	assert.True(t, IsVerificationFailure(ErrMaxAttempts))
	assert.False(t, IsVerificationFailure(errors.New("db down")))
	assert.False(t, IsVerificationFailure(nil))
}
