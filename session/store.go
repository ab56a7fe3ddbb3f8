package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/panelauth/internal"
)

var (
	// ErrNotFound is returned for unknown, expired or destroyed sessions.
	ErrNotFound = errors.New("session not found")
	// ErrPending2FA is returned when a pending session is used as a full one.
	ErrPending2FA = errors.New("session awaits second factor")
	// ErrNotPending is returned when a full session is offered where a
	// pending one is required.
	ErrNotPending = errors.New("session is not pending second factor")
)

const csrfTokenBytes = 32

// Repository persists sessions. Implementations must apply
// ExtendIfUnchanged as a single conditional update and keep the extension
// counter outside the payload blob, so UpdatePayload never overwrites it.
type Repository interface {
	Insert(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	// ExtendIfUnchanged sets expires_at to next and increments the
	// extension counter only if expires_at still equals expected.
	ExtendIfUnchanged(ctx context.Context, id string, expected, next time.Time) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error
	UpdatePayload(ctx context.Context, id string, p Payload) error
	Delete(ctx context.Context, id string) error
	DeleteForUserExcept(ctx context.Context, userID, keepID string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*Session, error)
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Config controls session timing.
type Config struct {
	Lifetime        time.Duration
	PendingLifetime time.Duration
	// ExtensionWindow is the trailing span before expiry in which activity
	// makes a session eligible for extension.
	ExtensionWindow time.Duration
	ExtendBy        time.Duration
	// MaxExtensions caps extensions per session; zero means no cap.
	MaxExtensions int
}

// DefaultConfig returns 60-minute sessions, 5-minute pending sessions and
// a 5-minute extension window.
func DefaultConfig() Config {
	return Config{
		Lifetime:        60 * time.Minute,
		PendingLifetime: 5 * time.Minute,
		ExtensionWindow: 5 * time.Minute,
		ExtendBy:        30 * time.Minute,
		MaxExtensions:   16,
	}
}

// Validate checks that all durations are positive.
func (c Config) Validate() error {
	if c.Lifetime <= 0 || c.PendingLifetime <= 0 || c.ExtensionWindow <= 0 || c.ExtendBy <= 0 {
		return errors.New("session durations must be > 0")
	}
	if c.ExtensionWindow > c.Lifetime {
		return errors.New("session extension window must not exceed lifetime")
	}
	if c.MaxExtensions < 0 {
		return errors.New("session max extensions must be >= 0")
	}
	return nil
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is safe for concurrent use; all coordination happens in the
// Repository.
type Store struct {
	repo Repository
	cfg  Config
	now  func() time.Time
}

func NewStore(repo Repository, cfg Config, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("session repository required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Store{repo: repo, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the store's timing configuration.
func (s *Store) Config() Config { return s.cfg }

// Create starts an active session with a fresh CSRF token.
func (s *Store) Create(ctx context.Context, userID, ip, userAgent string) (*Session, error) {
	return s.create(ctx, userID, ip, userAgent, s.cfg.Lifetime, Payload{})
}

// CreatePending starts a session that only second-factor verification may
// use. method records which second factor is expected.
func (s *Store) CreatePending(ctx context.Context, userID, ip, userAgent, method string) (*Session, error) {
	return s.create(ctx, userID, ip, userAgent, s.cfg.PendingLifetime, Payload{
		Pending2FA:    true,
		TwoFactorKind: method,
	})
}

func (s *Store) create(ctx context.Context, userID, ip, userAgent string, life time.Duration, payload Payload) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session user id required")
	}
	id, err := internal.NewSessionID()
	if err != nil {
		return nil, err
	}
	csrf, err := internal.NewToken(csrfTokenBytes)
	if err != nil {
		return nil, err
	}
	payload.CSRFToken = csrf

	// Stored timestamps keep microseconds; ExpiresAt must round-trip for
	// ExtendIfUnchanged to match.
	now := s.now().Truncate(time.Microsecond)
	sess := &Session{
		ID:           id,
		UserID:       userID,
		IP:           ip,
		UserAgent:    userAgent,
		Payload:      payload,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(life),
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// Get loads a session. An expired session whose last activity fell inside
// the extension window is extended and returned; any other expired session
// is destroyed and reported as ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !sess.Expired(now) {
		return sess, nil
	}
	if !s.revivable(sess, now) {
		s.destroyQuietly(ctx, id)
		return nil, ErrNotFound
	}

	if _, err := s.Extend(ctx, sess); err != nil {
		return nil, err
	}

	// Re-read whether this call or a concurrent one applied the extension.
	fresh, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fresh.Expired(now) {
		s.destroyQuietly(ctx, id)
		return nil, ErrNotFound
	}
	return fresh, nil
}

// Extend pushes the expiry of sess by ExtendBy, conditional on the stored
// expiry still matching sess.ExpiresAt. It returns false without error when
// another request already extended the session.
func (s *Store) Extend(ctx context.Context, sess *Session) (bool, error) {
	next := sess.ExpiresAt.Add(s.cfg.ExtendBy)
	applied, err := s.repo.ExtendIfUnchanged(ctx, sess.ID, sess.ExpiresAt, next)
	if err != nil {
		return false, fmt.Errorf("extend session: %w", err)
	}
	if applied {
		sess.ExpiresAt = next
		sess.Payload.ExtensionCount++
	}
	return applied, nil
}

func (s *Store) revivable(sess *Session, now time.Time) bool {
	if sess.Pending() {
		return false
	}
	if s.cfg.MaxExtensions > 0 && sess.Payload.ExtensionCount >= s.cfg.MaxExtensions {
		return false
	}
	windowStart := sess.ExpiresAt.Add(-s.cfg.ExtensionWindow)
	if sess.LastActivity.Before(windowStart) || sess.LastActivity.After(sess.ExpiresAt) {
		return false
	}
	return sess.ExpiresAt.Add(s.cfg.ExtendBy).After(now)
}

// Validate returns an active session and records activity on it. Pending
// sessions are rejected with ErrPending2FA.
func (s *Store) Validate(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Pending() {
		return nil, ErrPending2FA
	}

	now := s.now()
	if err := s.repo.Touch(ctx, id, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	sess.LastActivity = now
	return sess, nil
}

// ValidatePending returns a pending session; active sessions are rejected.
func (s *Store) ValidatePending(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Pending() {
		return nil, ErrNotPending
	}
	return sess, nil
}

// Destroy removes a session. Unknown ids are not an error.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// DestroyAllExcept removes every session of userID other than keepID.
// An empty keepID removes all of them.
func (s *Store) DestroyAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	return s.repo.DeleteForUserExcept(ctx, userID, keepID)
}

// ListForUser returns the user's sessions that have not expired.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	all, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	live := all[:0]
	for _, sess := range all {
		if !sess.Expired(now) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// Purge deletes sessions that can no longer be revived.
func (s *Store) Purge(ctx context.Context) (int, error) {
	return s.repo.DeleteExpired(ctx, s.now().Add(-s.cfg.ExtendBy))
}

// VerifyCSRF compares token with the session's CSRF token in constant time.
func VerifyCSRF(sess *Session, token string) bool {
	if sess == nil || sess.Payload.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sess.Payload.CSRFToken), []byte(token)) == 1
}

// AddFlash stores a one-shot message on the session.
func (s *Store) AddFlash(ctx context.Context, id, key, message string) error {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Payload.Flash == nil {
		sess.Payload.Flash = make(map[string]string, 1)
	}
	sess.Payload.Flash[key] = message
	return s.repo.UpdatePayload(ctx, id, sess.Payload)
}

// TakeFlash returns and clears the session's flash messages.
func (s *Store) TakeFlash(ctx context.Context, id string) (map[string]string, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	flash := sess.Payload.Flash
	if len(flash) == 0 {
		return nil, nil
	}
	sess.Payload.Flash = nil
	if err := s.repo.UpdatePayload(ctx, id, sess.Payload); err != nil {
		return nil, err
	}
	return flash, nil
}

func (s *Store) destroyQuietly(ctx context.Context, id string) {
	_ = s.repo.Delete(ctx, id)
}
