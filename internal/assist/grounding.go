package assist

import "studyassist/internal/domain"

// DefaultStrongHitThreshold is the score above which the top retrieval hit
// is trusted enough to ground an answer in auto mode. Distinct from the
// retriever's stage-escalation threshold.
const DefaultStrongHitThreshold = 0.3

// RefusalText is the fixed reply when rag-only mode has no evidence to
// answer from. A refusal is a designed terminal outcome, not an error.
const RefusalText = "I couldn't find anything in your uploaded material that covers this, " +
	"so I can't give a grounded answer. Upload the relevant notes or readings, " +
	"or switch to general mode for an answer from general knowledge."

// Decision is the grounding router's verdict for one query.
type Decision struct {
	// RetrieveContext: include retrieved chunks in the model prompt.
	RetrieveContext bool
	// Grounded: the answer is constrained to retrieved evidence.
	Grounded bool
	// Refuse: emit the refusal reply and skip the model call entirely.
	Refuse bool
}

// Decide routes a query given the active mode and its retrieval hits. It is
// a pure function of its arguments: no index, no network, no state.
//
//   - general: never retrieves, never refuses, never grounded.
//   - rag-only: grounded iff there are hits; refuses iff there are none.
//   - auto: grounded when the top hit clears strongHitThreshold, otherwise
//     falls back silently to an ungrounded answer. Never refuses.
func Decide(mode domain.Mode, hits []domain.Hit, strongHitThreshold float64) Decision {
	if strongHitThreshold <= 0 {
		strongHitThreshold = DefaultStrongHitThreshold
	}

	switch mode {
	case domain.ModeGeneral:
		return Decision{}
	case domain.ModeRAGOnly:
		if len(hits) == 0 {
			return Decision{RetrieveContext: true, Refuse: true}
		}
		return Decision{RetrieveContext: true, Grounded: true}
	default: // auto
		strong := len(hits) > 0 && hits[0].Score > strongHitThreshold
		return Decision{RetrieveContext: true, Grounded: strong}
	}
}
