package ledger

import (
	"time"

	"github.com/Mindburn-Labs/helm-gate/pkg/classify"
)

// BlockingCount summarizes blocking events in a window.
type BlockingCount struct {
	From       time.Time                 `json:"from"`
	To         time.Time                 `json:"to"`
	Total      int                       `json:"total"`
	Blocking   int                       `json:"blocking"`
	ByCategory map[classify.Category]int `json:"blocking_by_category"`
}

// CountBlocking classifies each event in [from, to) with the rule table it
// was stamped with, so historical counts do not drift as rules evolve.
// Zero bounds are open.
func CountBlocking(events []GovernanceEvent, from, to time.Time) BlockingCount {
	out := BlockingCount{From: from, To: to, ByCategory: make(map[classify.Category]int)}
	window := Filter{From: from, To: to}
	classifiers := make(map[string]*classify.Classifier)

	for _, e := range events {
		if !window.matches(e) {
			continue
		}
		out.Total++

		c, ok := classifiers[e.ClassifierVersion]
		if !ok {
			var err error
			if c, err = classify.At(e.ClassifierVersion); err != nil {
				c = classify.Default()
			}
			classifiers[e.ClassifierVersion] = c
		}

		cl := c.Evaluate(e.Action, e.TargetType)
		if cl.Impact == classify.ImpactBlocking {
			out.Blocking++
			out.ByCategory[cl.Category]++
		}
	}
	return out
}
