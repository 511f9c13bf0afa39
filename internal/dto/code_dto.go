package dto

type SelectCodeRequest struct {
	Code          string   `json:"code" validate:"required"`
	Type          string   `json:"type" validate:"required,oneof=CPT ICD-10 HCPCS"`
	Description   string   `json:"description"`
	Rationale     string   `json:"rationale"`
	Confidence    int      `json:"confidence" validate:"min=0,max=100"`
	Reimbursement float64  `json:"reimbursement"`
	RVU           float64  `json:"rvu"`
	Source        string   `json:"source" validate:"omitempty,oneof=provider ai coder"`
	SuggestionId  string   `json:"suggestion_id"`
	EvidenceLinks []string `json:"evidence_links"`
	Actor         string   `json:"actor" validate:"required"`
}

type ReassignCategoryRequest struct {
	Category string `json:"category" validate:"required"`
	Actor    string `json:"actor" validate:"required"`
}
