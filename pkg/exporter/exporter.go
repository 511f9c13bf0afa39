package exporter

import "context"

// Artifact is the finalized package handed to downstream EHR/billing systems.
type Artifact struct {
	SessionId       string                   `json:"session_id"`
	EncounterId     string                   `json:"encounter_id"`
	PatientId       string                   `json:"patient_id"`
	NoteId          string                   `json:"note_id"`
	NoteContent     string                   `json:"note_content"`
	AcceptedVariant string                   `json:"accepted_variant"`
	Codes           []ArtifactCode           `json:"codes"`
	Attestation     map[string]interface{}   `json:"attestation"`
	AuditTrail      []map[string]interface{} `json:"audit_trail"`
}

type ArtifactCode struct {
	Code          string  `json:"code"`
	Type          string  `json:"type"`
	Category      string  `json:"category"`
	Reimbursement float64 `json:"reimbursement"`
	RVU           float64 `json:"rvu"`
}

// Receipt confirms a downstream system accepted the artifact.
type Receipt struct {
	ConfirmationNumber string `json:"confirmation_number"`
}

// EHRExporter transmits the finalized artifact. Implementations must be safe
// to call repeatedly with the same session id (downstream dedupes on it).
type EHRExporter interface {
	Export(ctx context.Context, artifact *Artifact) (*Receipt, error)
}
