package assist

import (
	"testing"

	"studyassist/internal/domain"
)

func hit(score float64) domain.Hit {
	return domain.Hit{ChunkID: "s1:1", SourceID: "s1", Source: "Notes", Page: 1, Score: score}
}

func TestDecide_General(t *testing.T) {
	d := Decide(domain.ModeGeneral, []domain.Hit{hit(1.0)}, 0.3)
	if d.RetrieveContext || d.Grounded || d.Refuse {
		t.Fatalf("general mode must not retrieve, ground, or refuse: %+v", d)
	}
}

func TestDecide_RAGOnlyWithHits(t *testing.T) {
	d := Decide(domain.ModeRAGOnly, []domain.Hit{hit(0.2)}, 0.3)
	if !d.RetrieveContext || !d.Grounded || d.Refuse {
		t.Fatalf("rag-only with hits must ground without refusing: %+v", d)
	}
}

func TestDecide_RAGOnlyNoHitsRefuses(t *testing.T) {
	d := Decide(domain.ModeRAGOnly, nil, 0.3)
	if !d.Refuse {
		t.Fatalf("rag-only with no hits must refuse: %+v", d)
	}
	if d.Grounded {
		t.Fatalf("a refusal is not a grounded answer: %+v", d)
	}
}

func TestDecide_AutoWeakHitFallsBack(t *testing.T) {
	d := Decide(domain.ModeAuto, []domain.Hit{hit(0.1)}, 0.3)
	if d.Grounded {
		t.Fatalf("score 0.1 under threshold 0.3 must fall back ungrounded: %+v", d)
	}
	if d.Refuse {
		t.Fatalf("auto mode never refuses: %+v", d)
	}
}

func TestDecide_AutoStrongHitGrounds(t *testing.T) {
	d := Decide(domain.ModeAuto, []domain.Hit{hit(0.5)}, 0.3)
	if !d.Grounded {
		t.Fatalf("score 0.5 over threshold 0.3 must ground: %+v", d)
	}
}

func TestDecide_AutoNoHits(t *testing.T) {
	d := Decide(domain.ModeAuto, nil, 0.3)
	if d.Grounded || d.Refuse {
		t.Fatalf("auto with no hits falls back silently: %+v", d)
	}
	if !d.RetrieveContext {
		t.Fatalf("auto always attempts retrieval: %+v", d)
	}
}

func TestDecide_DefaultThreshold(t *testing.T) {
	// Threshold <= 0 falls back to the package default of 0.3.
	if d := Decide(domain.ModeAuto, []domain.Hit{hit(0.29)}, 0); d.Grounded {
		t.Fatalf("0.29 must not clear the default threshold: %+v", d)
	}
	if d := Decide(domain.ModeAuto, []domain.Hit{hit(0.31)}, 0); !d.Grounded {
		t.Fatalf("0.31 must clear the default threshold: %+v", d)
	}
}
