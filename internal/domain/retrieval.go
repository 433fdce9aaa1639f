package domain

// Mode selects how strictly an answer must be grounded in retrieved evidence.
type Mode string

const (
	// ModeAuto retrieves and grounds when the evidence is strong enough,
	// falling back silently to an ungrounded answer otherwise.
	ModeAuto Mode = "auto"
	// ModeRAGOnly refuses to answer without retrieved evidence.
	ModeRAGOnly Mode = "rag-only"
	// ModeGeneral never retrieves.
	ModeGeneral Mode = "general"
)

// Hit is one scored retrieval result. Score is normalized to the top hit of
// the query, so the best hit of a non-empty result set is exactly 1.0.
type Hit struct {
	ChunkID  string  `json:"chunk_id"`
	SourceID string  `json:"source_id"`
	Source   string  `json:"source"`
	Page     int     `json:"page"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}
