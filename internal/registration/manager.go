// Package registration keeps a device's push token registered with the server
// and tracks which account the device is signed in as.
//
// Each device has at most one registration chain. A chain is attempted, and on
// failure retried after attempt × RetryStep, up to MaxAttempts. Syncing a
// different token supersedes the current chain and cancels its pending retry.
// Login state updates follow the same retry schedule, and a newer login or
// logout supersedes one still being retried.
package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/bloodlink/internal/matching"
)

const (
	MaxAttempts = 3
	RetryStep   = 5 * time.Second
)

var (
	ErrInvalidToken = errors.New("invalid push token")
	ErrNoUser       = errors.New("no user to register the token for")
)

// State of a registration chain.
type State int

const (
	StatePending State = iota
	StateSent
	StateConfirmed
	StateFailed
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSent:
		return "sent"
	case StateConfirmed:
		return "confirmed"
	case StateFailed:
		return "failed"
	case StateGivenUp:
		return "given_up"
	default:
		return "unknown"
	}
}

// Device identifies the installation the manager runs on.
type Device struct {
	ID         string
	Type       string
	AppVersion string
}

// Status is a snapshot of the current chain.
type Status struct {
	State        State
	Attempt      int
	Registration Registration
}

type chain struct {
	ctx     context.Context
	reg     Registration
	attempt int
	state   State
	timer   Timer
}

type loginUpdate struct {
	ctx      context.Context
	userID   string
	loggedIn bool
	attempt  int
	timer    Timer
}

// Manager drives token registration for one device.
type Manager struct {
	device  Device
	backend Backend
	cache   Cache
	session *Session
	sched   Scheduler
	logger  *zap.Logger

	mu     sync.Mutex
	chain  *chain
	login  *loginUpdate
	closed bool
}

// NewManager creates a Manager. A nil sched uses the wall clock.
func NewManager(device Device, backend Backend, cache Cache, session *Session, sched Scheduler, logger *zap.Logger) *Manager {
	if sched == nil {
		sched = RealScheduler{}
	}
	return &Manager{
		device:  device,
		backend: backend,
		cache:   cache,
		session: session,
		sched:   sched,
		logger:  logger,
	}
}

// SyncToken starts registering token for userID, or for the signed-in user,
// or for the last cached user when userID is empty. It returns once the first
// attempt is scheduled; the outcome is visible through Status and the logs.
func (m *Manager) SyncToken(ctx context.Context, token, userID string) error {
	token = strings.TrimSpace(token)
	if !matching.ValidToken(token) {
		return ErrInvalidToken
	}

	user, err := m.resolveUser(ctx, userID)
	if err != nil {
		return err
	}

	reg := Registration{
		UserID:     user,
		Token:      token,
		DeviceID:   m.device.ID,
		DeviceType: m.device.Type,
		AppVersion: m.device.AppVersion,
		IsLoggedIn: m.session.UserID() == user,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("registration manager closed")
	}

	if prev := m.chain; prev != nil {
		if prev.reg == reg && prev.state != StateGivenUp {
			return nil
		}
		if prev.timer != nil {
			prev.timer.Stop()
			m.logger.Info("registration superseded",
				zap.String("device_id", m.device.ID),
				zap.Int("attempt", prev.attempt),
			)
		}
	}

	c := &chain{ctx: context.WithoutCancel(ctx), reg: reg, attempt: 1, state: StatePending}
	m.chain = c
	c.timer = m.sched.AfterFunc(0, func() { m.attempt(c) })
	return nil
}

func (m *Manager) attempt(c *chain) {
	m.mu.Lock()
	if m.closed || m.chain != c || c.state != StatePending {
		m.mu.Unlock()
		return
	}
	c.state = StateSent
	c.timer = nil
	reg, n := c.reg, c.attempt
	m.mu.Unlock()

	err := m.backend.RegisterToken(c.ctx, reg)

	m.mu.Lock()
	if m.closed || m.chain != c {
		m.mu.Unlock()
		return
	}

	if err == nil {
		c.state = StateConfirmed
		m.mu.Unlock()

		m.logger.Info("push token registered",
			zap.String("user_id", reg.UserID),
			zap.String("device_id", reg.DeviceID),
			zap.Int("attempt", n),
		)
		m.remember(c.ctx, reg)
		return
	}

	c.state = StateFailed
	if n >= MaxAttempts {
		c.state = StateGivenUp
		m.mu.Unlock()

		m.logger.Warn("push token registration given up",
			zap.String("user_id", reg.UserID),
			zap.String("device_id", reg.DeviceID),
			zap.Int("attempts", n),
			zap.Error(err),
		)
		m.remember(c.ctx, reg)
		return
	}

	delay := time.Duration(n) * RetryStep
	c.attempt = n + 1
	c.state = StatePending
	c.timer = m.sched.AfterFunc(delay, func() { m.attempt(c) })
	m.mu.Unlock()

	m.logger.Warn("push token registration failed, retrying",
		zap.String("user_id", reg.UserID),
		zap.String("device_id", reg.DeviceID),
		zap.Int("attempt", n),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)
}

func (m *Manager) remember(ctx context.Context, reg Registration) {
	err := m.cache.Save(ctx, Cached{UserID: reg.UserID, Token: reg.Token, LoggedIn: reg.IsLoggedIn, UpdatedAt: time.Now()})
	if err != nil {
		m.logger.Error("failed to write device cache", zap.Error(err))
	}
}

func (m *Manager) resolveUser(ctx context.Context, explicit string) (string, error) {
	if u := strings.TrimSpace(explicit); u != "" {
		return u, nil
	}
	if u := m.session.UserID(); u != "" {
		return u, nil
	}

	cached, err := m.cache.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	if cached.UserID == "" {
		return "", ErrNoUser
	}
	return cached.UserID, nil
}

// MarkLoggedIn signs userID in on this device and flips the server-side login
// flag. The token itself is not re-registered. A failed server update is
// returned and retried in the background.
func (m *Manager) MarkLoggedIn(ctx context.Context, userID string) error {
	return m.setLoggedIn(ctx, userID, true)
}

// MarkLoggedOut signs userID out. The cached user is kept as the last known identity.
func (m *Manager) MarkLoggedOut(ctx context.Context, userID string) error {
	return m.setLoggedIn(ctx, userID, false)
}

func (m *Manager) setLoggedIn(ctx context.Context, userID string, loggedIn bool) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ErrNoUser
	}

	if loggedIn {
		m.session.signIn(userID)
	} else {
		m.session.signOut(userID)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("registration manager closed")
	}
	if c := m.chain; c != nil && c.reg.UserID == userID {
		c.reg.IsLoggedIn = loggedIn
	}
	if prev := m.login; prev != nil && prev.timer != nil {
		prev.timer.Stop()
	}
	u := &loginUpdate{ctx: context.WithoutCancel(ctx), userID: userID, loggedIn: loggedIn, attempt: 1}
	m.login = u
	m.mu.Unlock()

	sendErr := m.sendLoginState(u)

	cached, err := m.cache.Load(ctx)
	if err != nil {
		return fmt.Errorf("update login state: %w", err)
	}
	if cached.UserID != userID {
		cached = Cached{UserID: userID}
	}
	cached.LoggedIn = loggedIn
	cached.UpdatedAt = time.Now()
	if err := m.cache.Save(ctx, cached); err != nil {
		return fmt.Errorf("update login state: %w", err)
	}

	if sendErr != nil {
		return fmt.Errorf("update login state: %w", sendErr)
	}
	return nil
}

// sendLoginState makes one attempt at u and schedules the next one on failure.
func (m *Manager) sendLoginState(u *loginUpdate) error {
	call := m.backend.Logout
	if u.loggedIn {
		call = m.backend.Login
	}
	err := call(u.ctx, u.userID, m.device.ID)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	if m.closed || m.login != u {
		m.mu.Unlock()
		return err
	}
	n := u.attempt
	if n >= MaxAttempts {
		m.mu.Unlock()
		m.logger.Warn("login state update given up",
			zap.String("user_id", u.userID),
			zap.Bool("logged_in", u.loggedIn),
			zap.Int("attempts", n),
			zap.Error(err),
		)
		return err
	}
	delay := time.Duration(n) * RetryStep
	u.attempt = n + 1
	u.timer = m.sched.AfterFunc(delay, func() { m.retryLoginState(u) })
	m.mu.Unlock()

	m.logger.Warn("failed to update login state, retrying",
		zap.String("user_id", u.userID),
		zap.Bool("logged_in", u.loggedIn),
		zap.Int("attempt", n),
		zap.Duration("retry_in", delay),
		zap.Error(err),
	)
	return err
}

func (m *Manager) retryLoginState(u *loginUpdate) {
	m.mu.Lock()
	if m.closed || m.login != u {
		m.mu.Unlock()
		return
	}
	u.timer = nil
	m.mu.Unlock()

	if err := m.sendLoginState(u); err == nil {
		m.logger.Info("login state updated",
			zap.String("user_id", u.userID),
			zap.Bool("logged_in", u.loggedIn),
			zap.Int("attempt", u.attempt),
		)
	}
}

// Status reports the current chain. ok is false before the first SyncToken.
func (m *Manager) Status() (s Status, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chain == nil {
		return Status{}, false
	}
	return Status{State: m.chain.state, Attempt: m.chain.attempt, Registration: m.chain.reg}, true
}

// SessionUserID returns the signed-in account.
func (m *Manager) SessionUserID() string {
	return m.session.UserID()
}

// LastKnownUserID returns the cached account, or "" if the cache cannot be read.
func (m *Manager) LastKnownUserID() string {
	cached, err := m.cache.Load(context.Background())
	if err != nil {
		m.logger.Warn("failed to read device cache", zap.Error(err))
		return ""
	}
	return cached.UserID
}

// Close cancels any pending registration or login state retry. Attempts already in flight finish but
// their results are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.chain != nil && m.chain.timer != nil {
		m.chain.timer.Stop()
	}
	if m.login != nil && m.login.timer != nil {
		m.login.timer.Stop()
	}
}
