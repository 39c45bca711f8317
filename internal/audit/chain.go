// Package audit implements the gateway's tamper-evident audit chain: an
// append-only, hash-linked, detached-signed log of every privileged action
// (auth decisions, quota reservations, connector invocations, sandbox runs).
//
// Each entry's hash covers the previous entry's hash plus the entry's own
// canonical JSON encoding, so altering or removing any entry breaks every
// hash after it. Entries are signed with Ed25519 when a signing key is
// configured, falling back to HMAC-SHA256 derived from a shared secret
// otherwise (see internal/crypto).
package audit

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	kcrypto "github.com/kurogate/kuro/internal/crypto"
	"github.com/kurogate/kuro/infrastructure/errors"
	"github.com/kurogate/kuro/infrastructure/logging"
)

// Entry is a single audit chain record. Field order here is the canonical
// encoding used for hashing — it must never change without a chain version
// bump.
type Entry struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"ts"`
	UserID    string         `json:"user_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
	Signature string         `json:"signature"`
}

// canonicalFields returns the subset of Entry that is hashed — everything
// except the hash and signature themselves.
type canonicalFields struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"ts"`
	UserID    string         `json:"user_id,omitempty"`
	Role      string         `json:"role,omitempty"`
	Action    string         `json:"action"`
	Resource  string         `json:"resource,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	PrevHash  string         `json:"prev_hash"`
}

// Signer produces and verifies detached signatures over a hash.
type Signer interface {
	Sign(hash []byte) []byte
	Verify(hash, signature []byte) bool
	Name() string
}

// ed25519Signer is the primary signer: every gateway deployment should carry
// a real Ed25519 key.
type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewEd25519Signer(pub ed25519.PublicKey, priv ed25519.PrivateKey) Signer {
	return &ed25519Signer{pub: pub, priv: priv}
}

func (s *ed25519Signer) Sign(hash []byte) []byte { return kcrypto.SignEd25519(s.priv, hash) }
func (s *ed25519Signer) Verify(hash, signature []byte) bool {
	return kcrypto.VerifyEd25519(s.pub, hash, signature)
}
func (s *ed25519Signer) Name() string { return "ed25519" }

// hmacSigner is the fallback signer used when no Ed25519 key is configured
// (e.g. local development). It is weaker — a leaked shared secret lets an
// attacker forge entries — and its use is logged at startup.
type hmacSigner struct {
	key []byte
}

func NewHMACSigner(masterKey []byte) (Signer, error) {
	key, err := kcrypto.DeriveKey(masterKey, []byte("audit-chain"), "kuro.audit.hmac.v1", 32)
	if err != nil {
		return nil, err
	}
	return &hmacSigner{key: key}, nil
}

func (s *hmacSigner) Sign(hash []byte) []byte              { return kcrypto.HMACSign(s.key, hash) }
func (s *hmacSigner) Verify(hash, signature []byte) bool   { return kcrypto.HMACVerify(s.key, hash, signature) }
func (s *hmacSigner) Name() string                          { return "hmac-sha256" }

// Sink persists appended entries. FileSink is the default; a Postgres-backed
// sink can be layered in by implementing the same interface.
type Sink interface {
	Write(day string, entry Entry) error
}

// FileSink writes day-rotated JSONL files: audit_chain_{YYYYMMDD}.jsonl.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

func (f *FileSink) Write(day string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, fmt.Sprintf("audit_chain_%s.jsonl", day))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = file.Write(line)
	return err
}

// ReadDay returns every entry recorded for day (YYYYMMDD), in file order.
// A day with no file yet returns an empty slice, not an error — the audit
// surface treats "nothing logged today" as a normal, not exceptional, read.
func (f *FileSink) ReadDay(day string) ([]Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.dir, fmt.Sprintf("audit_chain_%s.jsonl", day))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("audit: decode entry in %s: %w", path, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Days lists every YYYYMMDD day file present, in chronological order, for
// verifyAll-style sweeps over the whole chain.
func (f *FileSink) Days() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	matches, err := filepath.Glob(filepath.Join(f.dir, "audit_chain_*.jsonl"))
	if err != nil {
		return nil, err
	}
	days := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		day := strings.TrimSuffix(strings.TrimPrefix(base, "audit_chain_"), ".jsonl")
		days = append(days, day)
	}
	sort.Strings(days)
	return days, nil
}

// Chain is the append-only, hash-linked audit log. The head (seq + last
// hash) always reflects the absolute latest entry regardless of which day
// file it landed in, so the chain is continuous across day boundaries.
type Chain struct {
	mu       sync.Mutex
	seq      int64
	lastHash string
	signer   Signer
	sink     Sink
	logger   *logging.Logger
	now      func() time.Time
}

// Head is the persisted chain head: the last sequence number and hash.
type Head struct {
	Seq      int64  `json:"seq"`
	LastHash string `json:"hash"`
}

// NewChain constructs a chain starting from a previously persisted head (or
// a zero head for a brand-new chain).
func NewChain(signer Signer, sink Sink, head Head, logger *logging.Logger) *Chain {
	return &Chain{
		seq:      head.Seq,
		lastHash: head.LastHash,
		signer:   signer,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Head returns the current chain head, suitable for persisting.
func (c *Chain) Head() Head {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Head{Seq: c.seq, LastHash: c.lastHash}
}

// Append writes a new entry to the chain, computing its hash over the
// previous hash plus the entry's canonical fields, and signing that hash.
func (c *Chain) Append(userID, role, action, resource string, details map[string]any) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now().UTC()
	seq := c.seq + 1

	cf := canonicalFields{
		Seq:       seq,
		Timestamp: ts,
		UserID:    userID,
		Role:      role,
		Action:    action,
		Resource:  resource,
		Details:   details,
		PrevHash:  c.lastHash,
	}
	canonical, err := json.Marshal(cf)
	if err != nil {
		return Entry{}, errors.AuditSealFailed(err)
	}

	hash := kcrypto.Hash256(append([]byte(c.lastHash), canonical...))
	hashHex := fmt.Sprintf("%x", hash)
	signature := c.signer.Sign(hash)

	entry := Entry{
		Seq:       seq,
		Timestamp: ts,
		UserID:    userID,
		Role:      role,
		Action:    action,
		Resource:  resource,
		Details:   details,
		PrevHash:  cf.PrevHash,
		Hash:      hashHex,
		Signature: base64.StdEncoding.EncodeToString(signature),
	}

	day := ts.Format("20060102")
	if err := c.sink.Write(day, entry); err != nil {
		return Entry{}, errors.AuditSealFailed(err)
	}

	c.seq = seq
	c.lastHash = hashHex

	if c.logger != nil {
		c.logger.WithFields(map[string]interface{}{"seq": seq, "action": action}).Debug("audit entry appended")
	}

	return entry, nil
}

// Verify replays a slice of entries in order (e.g. from one or more day
// files) and confirms the hash chain and signatures are intact, starting
// from the given prior head. It returns the seq of the first tampered
// entry, or 0 if the chain is intact.
func (c *Chain) Verify(entries []Entry, priorHead Head) (tamperedSeq int64, err error) {
	prevHash := priorHead.LastHash
	for _, e := range entries {
		if e.PrevHash != prevHash {
			return e.Seq, nil
		}

		cf := canonicalFields{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			UserID:    e.UserID,
			Role:      e.Role,
			Action:    e.Action,
			Resource:  e.Resource,
			Details:   e.Details,
			PrevHash:  e.PrevHash,
		}
		canonical, merr := json.Marshal(cf)
		if merr != nil {
			return 0, merr
		}
		hash := kcrypto.Hash256(append([]byte(prevHash), canonical...))
		hashHex := fmt.Sprintf("%x", hash)
		if hashHex != e.Hash {
			return e.Seq, nil
		}

		sig, derr := base64.StdEncoding.DecodeString(e.Signature)
		if derr != nil || !c.signer.Verify(hash, sig) {
			return e.Seq, nil
		}

		prevHash = e.Hash
	}
	return 0, nil
}
