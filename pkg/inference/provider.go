package inference

import "context"

// CodeSuggestion is a billing code candidate produced by the coding model.
type CodeSuggestion struct {
	Id            string   `json:"id"`
	Code          string   `json:"code"`
	Type          string   `json:"type"` // CPT | ICD-10 | HCPCS
	Description   string   `json:"description"`
	Rationale     string   `json:"rationale"`
	Confidence    int      `json:"confidence"` // 0-100
	Reimbursement float64  `json:"reimbursement"`
	RVU           float64  `json:"rvu"`
	EvidenceLinks []string `json:"evidence_links"`
}

// ComplianceFinding is a documentation/compliance issue flagged by the
// compliance model.
type ComplianceFinding struct {
	Id          string `json:"id"`
	Rule        string `json:"rule"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// CodeSuggester proposes billing codes for a note.
type CodeSuggester interface {
	SuggestCodes(ctx context.Context, noteContent string) ([]CodeSuggestion, error)
}

// ComplianceChecker evaluates a note plus selected codes against
// documentation rules.
type ComplianceChecker interface {
	CheckCompliance(ctx context.Context, noteContent string, codes []string) ([]ComplianceFinding, error)
}

// NoteEnhancer rewrites or condenses draft note content.
type NoteEnhancer interface {
	Enhance(ctx context.Context, content string) (string, error)
	Summarize(ctx context.Context, content string) (string, error)
}

// Transcriber converts streamed audio frames into interim transcripts and a
// final utterance text.
type Transcriber interface {
	// TranscribeFrame feeds one audio frame and returns the interim transcript
	// for the utterance so far.
	TranscribeFrame(ctx context.Context, utteranceID string, frame []byte) (string, error)

	// FinalizeUtterance closes the utterance and returns the final transcript.
	FinalizeUtterance(ctx context.Context, utteranceID string) (string, error)
}
