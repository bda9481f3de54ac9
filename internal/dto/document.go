package dto

type DocumentResponse struct {
	ID           string  `json:"id"`
	TenantID     string  `json:"tenant_id"`
	FileName     string  `json:"file_name"`
	MimeType     string  `json:"mime_type"`
	Status       string  `json:"status"`
	StatusReason string  `json:"status_reason,omitempty"`
	PageCount    int     `json:"page_count,omitempty"`
	ProcessedAt  *string `json:"processed_at,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

type TenantCorrectionResponse struct {
	ActionTaken  string  `json:"action_taken"`
	FromTenantID string  `json:"from_tenant_id"`
	ToTenantID   string  `json:"to_tenant_id"`
	TenantName   string  `json:"tenant_name"`
	Confidence   float64 `json:"confidence"`
}

type ProcessDocumentResponse struct {
	DocumentID       string                    `json:"document_id"`
	Status           string                    `json:"status"`
	RecordsCreated   bool                      `json:"records_created"`
	TransactionID    *string                   `json:"transaction_id,omitempty"`
	Materialization  string                    `json:"materialization"`
	Duplicate        bool                      `json:"duplicate"`
	MismatchDetected bool                      `json:"mismatch_detected"`
	TenantCorrection *TenantCorrectionResponse `json:"tenant_correction,omitempty"`
}

type AuditEntryResponse struct {
	ID               string  `json:"id"`
	TenantID         string  `json:"tenant_id"`
	ResolvedTenantID *string `json:"resolved_tenant_id,omitempty"`
	Duplicate        bool    `json:"duplicate"`
	MismatchDetected bool    `json:"mismatch_detected"`
	Resolution       string  `json:"resolution,omitempty"`
	Materialization  string  `json:"materialization"`
	RecordsCreated   bool    `json:"records_created"`
	TransactionID    *string `json:"transaction_id,omitempty"`
	FinalStatus      string  `json:"final_status,omitempty"`
	Error            string  `json:"error,omitempty"`
	CreatedAt        string  `json:"created_at"`
}

type AuditListResponse struct {
	DocumentID string               `json:"document_id"`
	Entries    []AuditEntryResponse `json:"entries"`
}
