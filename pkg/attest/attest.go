// Package attest produces signed statements about the integrity of an
// organization's governance ledger at a point in time.
package attest

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/ledger"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

const kdfSalt = "helm-gate-attest-kdf"

var (
	ErrBadSignature = errors.New("attest: signature does not verify")
	ErrInvalidOrgID = errors.New("attest: invalid org id")
)

// Statement is what gets signed.
type Statement struct {
	OrgID             string        `json:"org_id"`
	Rows              int           `json:"rows"`
	HeadPosition      int64         `json:"head_position"`
	HeadHash          string        `json:"head_hash,omitempty"`
	Valid             bool          `json:"valid"`
	Reason            ledger.Reason `json:"reason,omitempty"`
	FailedPosition    int64         `json:"failed_position,omitempty"`
	ClassifierVersion string        `json:"classifier_version"`
	RegistryVersion   string        `json:"reason_registry_version"`
	VerifiedAt        time.Time     `json:"verified_at"`
}

// Attestation is a signed statement.
type Attestation struct {
	Statement Statement `json:"statement"`
	KeyID     string    `json:"key_id"`
	PublicKey string    `json:"public_key"`
	Signature string    `json:"signature"`
}

// Signer derives one Ed25519 key per organization from a master seed.
type Signer struct {
	seed []byte
}

// NewSigner requires a seed of at least 32 bytes.
func NewSigner(seed []byte) (*Signer, error) {
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("attest: seed must be at least %d bytes", ed25519.SeedSize)
	}
	return &Signer{seed: append([]byte(nil), seed...)}, nil
}

func (s *Signer) keyFor(orgID string) (ed25519.PrivateKey, error) {
	if orgID == "" {
		return nil, errors.New("attest: org id must not be empty")
	}
	r := hkdf.New(sha256.New, s.seed, []byte(kdfSalt), []byte(orgID))
	orgSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, orgSeed); err != nil {
		return nil, fmt.Errorf("attest: derive key: %w", err)
	}
	return ed25519.NewKeyFromSeed(orgSeed), nil
}

// PublicKey returns the verification key for orgID.
func (s *Signer) PublicKey(orgID string) (ed25519.PublicKey, error) {
	priv, err := s.keyFor(orgID)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

func keyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// Sign canonicalizes st with RFC 8785 and signs it.
func (s *Signer) Sign(st Statement) (Attestation, error) {
	priv, err := s.keyFor(st.OrgID)
	if err != nil {
		return Attestation{}, err
	}
	msg, err := canonicalize.RFC8785(st)
	if err != nil {
		return Attestation{}, fmt.Errorf("attest: canonicalize: %w", err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	return Attestation{
		Statement: st,
		KeyID:     keyID(pub),
		PublicKey: base64.StdEncoding.EncodeToString(pub),
		Signature: base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg)),
	}, nil
}

// Verify checks a against pub. The embedded public key is not trusted.
func Verify(a Attestation, pub ed25519.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(a.Signature)
	if err != nil {
		return fmt.Errorf("attest: decode signature: %w", err)
	}
	msg, err := canonicalize.RFC8785(a.Statement)
	if err != nil {
		return fmt.Errorf("attest: canonicalize: %w", err)
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrBadSignature
	}
	return nil
}

// Attestor verifies a chain, signs the outcome and stores it.
type Attestor struct {
	store  ledger.Store
	signer *Signer
	sink   Sink
	now    func() time.Time
	logger *slog.Logger
}

type Option func(*Attestor)

func WithClock(now func() time.Time) Option {
	return func(a *Attestor) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Attestor) { a.logger = l }
}

// NewAttestor builds an attestor. sink may be nil, in which case
// attestations are returned but not persisted.
func NewAttestor(store ledger.Store, signer *Signer, sink Sink, opts ...Option) *Attestor {
	a := &Attestor{
		store:  store,
		signer: signer,
		sink:   sink,
		now:    time.Now,
		logger: slog.Default().With("component", "attest"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attest verifies orgID's chain and returns the signed attestation and where
// it was written. An invalid chain is still attested; the statement records
// the failure.
func (a *Attestor) Attest(ctx context.Context, orgID string) (Attestation, string, error) {
	if err := checkOrgID(orgID); err != nil {
		return Attestation{}, "", err
	}
	rows, err := a.store.List(ctx, ledger.Filter{OrgID: orgID})
	if err != nil {
		return Attestation{}, "", fmt.Errorf("attest: load ledger: %w", err)
	}
	res := ledger.Verify(rows)

	st := Statement{
		OrgID:             orgID,
		Rows:              len(rows),
		Valid:             res.Valid,
		Reason:            res.Reason,
		ClassifierVersion: classify.Default().Version(),
		RegistryVersion:   reasoncode.RegistryVersion,
		VerifiedAt:        a.now().UTC().Truncate(time.Second),
	}
	if !res.Valid {
		st.FailedPosition = res.Position
	}
	for _, r := range rows {
		if r.ChainPosition != nil && *r.ChainPosition >= st.HeadPosition {
			st.HeadPosition = *r.ChainPosition
			st.HeadHash = r.PayloadHash
		}
	}

	att, err := a.signer.Sign(st)
	if err != nil {
		return Attestation{}, "", err
	}

	var location string
	if a.sink != nil {
		body, err := json.MarshalIndent(att, "", "  ")
		if err != nil {
			return Attestation{}, "", fmt.Errorf("attest: encode: %w", err)
		}
		name := fmt.Sprintf("%s/%s.json", orgID, st.VerifiedAt.Format("20060102T150405Z"))
		location, err = a.sink.Put(ctx, name, body)
		if err != nil {
			return Attestation{}, "", fmt.Errorf("attest: write: %w", err)
		}
	}

	a.logger.InfoContext(ctx, "ledger attested",
		"org_id", orgID,
		"valid", st.Valid,
		"rows", st.Rows,
		"head_position", st.HeadPosition,
		"location", location,
	)
	return att, location, nil
}

// checkOrgID keeps orgID usable as a single sink path segment.
func checkOrgID(orgID string) error {
	if orgID == "" || orgID == "." || strings.Contains(orgID, "..") || strings.ContainsAny(orgID, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidOrgID, orgID)
	}
	return nil
}
