package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-gate/pkg/canonicalize"
	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
	"github.com/Mindburn-Labs/helm-gate/pkg/observability"
	"github.com/Mindburn-Labs/helm-gate/pkg/reasoncode"
)

// Stored is the result of Append.
type Stored struct {
	Event GovernanceEvent
	// Replayed is true when the idempotency key matched an existing row and
	// nothing was written.
	Replayed bool
	// Unknown holds reason codes that were quarantined on this write.
	Unknown []string
}

// Writer seals drafts into chained events and appends them to a Store.
type Writer struct {
	store      Store
	classifier *classify.Classifier
	now        func() time.Time
	newID      func() (string, error)
	logger     *slog.Logger
	recorder   observability.Recorder
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

func WithClassifier(c *classify.Classifier) WriterOption {
	return func(w *Writer) { w.classifier = c }
}

func WithRecorder(r observability.Recorder) WriterOption {
	return func(w *Writer) { w.recorder = r }
}

func WithIDGenerator(fn func() (string, error)) WriterOption {
	return func(w *Writer) { w.newID = fn }
}

func NewWriter(store Store, opts ...WriterOption) *Writer {
	w := &Writer{
		store:      store,
		classifier: classify.Default(),
		now:        time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
		logger:   slog.Default().With("component", "ledger"),
		recorder: (*observability.Provider)(nil),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append writes one event. If the draft carries an idempotency key that
// already exists for its (org, site), the existing row is returned with
// Replayed set, including when a concurrent writer won the race. A key bound
// to a different action or target yields ErrIdempotencyConflict.
func (w *Writer) Append(ctx context.Context, d Draft) (stored Stored, err error) {
	ctx, done := w.recorder.TrackOperation(ctx, "ledger.append",
		observability.AttrOrgID.String(d.OrgID),
		observability.AttrAction.String(d.Action),
	)
	defer func() {
		done(err)
		if err == nil {
			w.recorder.LedgerAppend(ctx, string(stored.Event.Outcome), stored.Replayed)
		}
	}()

	if err := d.validate(); err != nil {
		return Stored{}, err
	}

	norm := reasoncode.Normalize(d.ReasonCodes)
	if norm.HasUnknown() {
		w.recorder.UnknownReasonCodes(ctx, len(norm.Unknown))
		w.logger.WarnContext(ctx, "quarantined unknown reason codes",
			"org_id", d.OrgID, "action", d.Action, "unknown", norm.Unknown)
	}

	if d.IdempotencyKey != "" {
		existing, err := w.store.FindByIdempotencyKey(ctx, d.OrgID, d.SiteID, d.IdempotencyKey)
		switch {
		case err == nil:
			return w.replay(d, existing, norm.Unknown)
		case !errors.Is(err, ErrNotFound):
			return Stored{}, fmt.Errorf("ledger: idempotency lookup: %w", err)
		}
	}

	id, err := w.newID()
	if err != nil {
		return Stored{}, fmt.Errorf("ledger: generate id: %w", err)
	}
	// Postgres keeps microseconds; truncating here keeps the hashed
	// timestamp identical to the stored one.
	createdAt := w.now().UTC().Truncate(time.Microsecond)

	ev, err := w.store.Append(ctx, d.OrgID, func(head Head) (GovernanceEvent, error) {
		pos := head.Position + 1
		ev := GovernanceEvent{
			ID:                id,
			OrgID:             d.OrgID,
			SiteID:            d.SiteID,
			ActorUserID:       d.ActorUserID,
			Action:            d.Action,
			TargetType:        d.TargetType,
			TargetID:          d.TargetID,
			Outcome:           d.Outcome,
			LegitimacyStatus:  d.LegitimacyStatus,
			ReadinessStatus:   d.ReadinessStatus,
			ReasonCodes:       norm.ReasonCodes,
			Meta:              d.Meta,
			PolicyFingerprint: d.PolicyFingerprint,
			IdempotencyKey:    d.IdempotencyKey,
			ClassifierVersion: w.classifier.Version(),
			CreatedAt:         createdAt,
			ChainPosition:     &pos,
			PayloadHashAlgo:   canonicalize.AlgoV2,
		}
		if pos > 1 {
			ev.PreviousHash = head.Hash
		}
		hash, err := PayloadHash(ev)
		if err != nil {
			return GovernanceEvent{}, err
		}
		ev.PayloadHash = hash
		return ev, nil
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) && d.IdempotencyKey != "" {
			existing, findErr := w.store.FindByIdempotencyKey(ctx, d.OrgID, d.SiteID, d.IdempotencyKey)
			if findErr == nil {
				w.logger.InfoContext(ctx, "idempotent append collapsed into existing row",
					"org_id", d.OrgID, "event_id", existing.ID)
				return w.replay(d, existing, norm.Unknown)
			}
		}
		return Stored{}, err
	}

	w.logger.DebugContext(ctx, "governance event appended",
		"org_id", ev.OrgID, "event_id", ev.ID, "action", ev.Action, "chain_position", *ev.ChainPosition)
	return Stored{Event: ev, Unknown: norm.Unknown}, nil
}

func (w *Writer) replay(d Draft, existing GovernanceEvent, unknown []string) (Stored, error) {
	if !d.Matches(existing) {
		return Stored{}, fmt.Errorf("%w: key %q is bound to event %s", ErrIdempotencyConflict, d.IdempotencyKey, existing.ID)
	}
	return Stored{Event: existing, Replayed: true, Unknown: unknown}, nil
}

// Verify loads one org's chain and verifies it.
func (w *Writer) Verify(ctx context.Context, orgID string) (_ Result, err error) {
	ctx, done := w.recorder.TrackOperation(ctx, "ledger.verify", observability.AttrOrgID.String(orgID))
	defer func() { done(err) }()

	rows, err := w.store.List(ctx, Filter{OrgID: orgID})
	if err != nil {
		return Result{}, err
	}
	res := Verify(rows)
	if !res.Valid {
		w.recorder.VerifyFailure(ctx, string(res.Reason))
		w.logger.ErrorContext(ctx, "ledger integrity violation",
			"org_id", orgID, "reason", res.Reason, "position", res.Position, "event_id", res.EventID)
	}
	return res, nil
}

// Store exposes the underlying store for read paths.
func (w *Writer) Store() Store {
	return w.store
}
