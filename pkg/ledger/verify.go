package ledger

import (
	"sort"
)

// Reason names the first integrity failure found by Verify.
type Reason string

const (
	ReasonMissingHash          Reason = "MISSING_HASH"
	ReasonUnsupportedAlgo      Reason = "UNSUPPORTED_HASH_ALGO"
	ReasonHashMismatch         Reason = "HASH_MISMATCH"
	ReasonChainBrokenAtGenesis Reason = "CHAIN_BROKEN_AT_GENESIS"
	ReasonChainPositionMissing Reason = "CHAIN_POSITION_MISSING"
	ReasonChainGap             Reason = "CHAIN_GAP"
	ReasonChainLinkMismatch    Reason = "CHAIN_LINK_MISMATCH"
)

// Result of a chain verification.
//
// Position is the chain position of the failing row, or its 1-based index in
// verification order when the row has no chain position.
type Result struct {
	Valid    bool   `json:"valid"`
	Reason   Reason `json:"reason,omitempty"`
	Position int64  `json:"position,omitempty"`
	EventID  string `json:"event_id,omitempty"`
	Checked  int    `json:"checked"`
	Head     string `json:"head,omitempty"`
}

// Verify checks the complete rows of one chain scope. It sorts a copy of rows
// and never modifies the input. The first failure stops verification.
//
// The first chained row must sit at position 1. A chain whose leading rows
// were removed fails with CHAIN_GAP at the first remaining position.
func Verify(rows []GovernanceEvent) Result {
	return verify(rows, Head{})
}

// VerifyWindow checks a contiguous slice of a chain that continues from
// anchor. The first chained row must sit at anchor.Position+1 and link to
// anchor.Hash. A zero anchor is the genesis and behaves like Verify.
func VerifyWindow(rows []GovernanceEvent, anchor Head) Result {
	return verify(rows, anchor)
}

func verify(rows []GovernanceEvent, anchor Head) Result {
	ordered := make([]GovernanceEvent, len(rows))
	copy(ordered, rows)
	sortForVerification(ordered)

	var (
		prev    *GovernanceEvent
		checked int
		head    string
	)
	for i := range ordered {
		row := &ordered[i]
		fail := func(r Reason) Result {
			pos := int64(i + 1)
			if row.ChainPosition != nil {
				pos = *row.ChainPosition
			}
			return Result{Reason: r, Position: pos, EventID: row.ID, Checked: checked}
		}

		if row.PayloadHash == "" {
			return fail(ReasonMissingHash)
		}
		if !row.PayloadHashAlgo.Supported() {
			return fail(ReasonUnsupportedAlgo)
		}
		recomputed, err := PayloadHash(*row)
		if err != nil || recomputed != row.PayloadHash {
			return fail(ReasonHashMismatch)
		}

		if row.Chained() {
			if row.ChainPosition == nil {
				return fail(ReasonChainPositionMissing)
			}
			pos := *row.ChainPosition
			if pos == 1 && row.PreviousHash != "" {
				return fail(ReasonChainBrokenAtGenesis)
			}
			want, link := anchor.Position+1, anchor.Hash
			if prev != nil {
				want, link = *prev.ChainPosition+1, prev.PayloadHash
			}
			if pos != want {
				return fail(ReasonChainGap)
			}
			if pos > 1 && row.PreviousHash != link {
				return fail(ReasonChainLinkMismatch)
			}
			prev = row
		}

		checked++
		head = row.PayloadHash
	}

	return Result{Valid: true, Checked: checked, Head: head}
}

// sortForVerification orders rows without a chain position first, then by
// chain position, then by creation time.
func sortForVerification(rows []GovernanceEvent) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].ChainPosition, rows[j].ChainPosition
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && *a != *b:
			return *a < *b
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
