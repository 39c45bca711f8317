package authn

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	slcrypto "github.com/kurogate/kuro/infrastructure/crypto"
	svcerrors "github.com/kurogate/kuro/infrastructure/errors"
)

const (
	issuedIPInfo    = "session.issued_ip"
	issuedAgentInfo = "session.issued_agent"
)

// Session is the durable row backing a cookie-authenticated caller. It
// mirrors the `sessions` table created by the platform migrations.
type Session struct {
	ID          string    `db:"id"`
	UserID      string    `db:"user_id"`
	Tier        string    `db:"tier"`
	Role        string    `db:"role"`
	IssuedIP    string    `db:"issued_ip"`
	IssuedAgent string    `db:"issued_agent"`
	CreatedAt   time.Time `db:"created_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
	ExpiresAt   time.Time `db:"expires_at"`
	RevokedAt   sql.NullTime `db:"revoked_at"`
}

// SessionStore persists and refreshes sessions. Its absolute lifetime and
// inactivity window are configurable per deployment.
type SessionStore struct {
	db                *sqlx.DB
	absoluteLifetime  time.Duration
	inactivityTimeout time.Duration
	encryptionKey     [32]byte
}

// NewSessionStore wraps db with the session repository. absoluteLifetime
// bounds how long a session may live regardless of activity; inactivityTimeout
// is the sliding idle window — a session unused for longer than this is
// treated as expired even within its absolute lifetime. encryptionSecret
// seeds the envelope key used to encrypt the issued IP/user-agent at rest,
// scoped per user so one compromised row doesn't expose another user's
// session metadata.
func NewSessionStore(db *sqlx.DB, absoluteLifetime, inactivityTimeout time.Duration, encryptionSecret string) *SessionStore {
	return &SessionStore{
		db:                db,
		absoluteLifetime:  absoluteLifetime,
		inactivityTimeout: inactivityTimeout,
		encryptionKey:     sha256.Sum256([]byte(encryptionSecret)),
	}
}

func (s *SessionStore) encryptField(userID, info, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	out, err := slcrypto.EncryptEnvelope(s.encryptionKey[:], []byte(userID), info, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (s *SessionStore) decryptField(userID, info, ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	plain, err := slcrypto.DecryptEnvelope(s.encryptionKey[:], []byte(userID), info, []byte(ciphertext))
	if err != nil {
		// Rows written before encryption was enabled, or under a since-
		// rotated key, decrypt to empty rather than surfacing a lookup
		// failure for metadata that is not load-bearing.
		return ""
	}
	return string(plain)
}

// Create issues a new session row for userID/tier and returns it. The
// returned Session carries the plaintext ip/userAgent; the row on disk
// holds them envelope-encrypted.
func (s *SessionStore) Create(ctx context.Context, userID, tier, role, ip, userAgent string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		Tier:        tier,
		Role:        role,
		IssuedIP:    ip,
		IssuedAgent: userAgent,
		CreatedAt:   now,
		LastSeenAt:  now,
		ExpiresAt:   now.Add(s.absoluteLifetime),
	}

	encryptedIP, err := s.encryptField(userID, issuedIPInfo, ip)
	if err != nil {
		return nil, svcerrors.DatabaseError("create_session", err)
	}
	encryptedAgent, err := s.encryptField(userID, issuedAgentInfo, userAgent)
	if err != nil {
		return nil, svcerrors.DatabaseError("create_session", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, tier, role, issued_ip, issued_agent, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sess.ID, sess.UserID, sess.Tier, sess.Role, encryptedIP, encryptedAgent,
		sess.CreatedAt, sess.LastSeenAt, sess.ExpiresAt)
	if err != nil {
		return nil, svcerrors.DatabaseError("create_session", err)
	}
	return sess, nil
}

// expiryReason classifies why a session is no longer usable.
type expiryReason string

const (
	expiryNone      expiryReason = ""
	expiryAbsolute  expiryReason = "absolute_expired"
	expiryIdle      expiryReason = "idle_expired"
	expiryRevoked   expiryReason = "revoked"
)

// Lookup reads and, if still live, refreshes a session's sliding expiry.
// It returns the session, its expiry classification (empty if live), and
// any infrastructure error.
func (s *SessionStore) Lookup(ctx context.Context, id string) (*Session, expiryReason, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `SELECT * FROM sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, expiryAbsolute, nil
	}
	if err != nil {
		return nil, expiryNone, svcerrors.DatabaseError("lookup_session", err)
	}
	sess.IssuedIP = s.decryptField(sess.UserID, issuedIPInfo, sess.IssuedIP)
	sess.IssuedAgent = s.decryptField(sess.UserID, issuedAgentInfo, sess.IssuedAgent)

	now := time.Now().UTC()
	if sess.RevokedAt.Valid {
		return &sess, expiryRevoked, nil
	}
	if now.After(sess.ExpiresAt) {
		return &sess, expiryAbsolute, nil
	}
	if s.inactivityTimeout > 0 && now.Sub(sess.LastSeenAt) > s.inactivityTimeout {
		return &sess, expiryIdle, nil
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $1 WHERE id = $2`, now, id); err != nil {
		return &sess, expiryNone, svcerrors.DatabaseError("refresh_session", err)
	}
	sess.LastSeenAt = now
	return &sess, expiryNone, nil
}

// TierForUser returns the tier recorded on userID's most recent live
// session, falling back to TierFree when the user has no live session —
// e.g. the escalation quota gate needs a tier for a userID alone, with no
// session ID at hand.
func (s *SessionStore) TierForUser(ctx context.Context, userID string) (Tier, error) {
	var sess Session
	err := s.db.GetContext(ctx, &sess, `
		SELECT * FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY last_seen_at DESC
		LIMIT 1`, userID, time.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return TierFree, nil
	}
	if err != nil {
		return TierFree, svcerrors.DatabaseError("lookup_session_tier", err)
	}
	return Tier(sess.Tier), nil
}

// Revoke marks a session unusable without deleting the row, preserving it
// for audit purposes.
func (s *SessionStore) Revoke(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at = $1 WHERE id = $2`, time.Now().UTC(), id)
	if err != nil {
		return svcerrors.DatabaseError("revoke_session", err)
	}
	return nil
}
