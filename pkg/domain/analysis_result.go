package domain

import (
	"encoding/json"
	"time"
)

// ServiceError is the error object the service attaches to failed operations.
type ServiceError struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Target  string          `json:"target,omitempty"`
	Details []ServiceError  `json:"details,omitempty"`
	Inner   json.RawMessage `json:"innererror,omitempty"`
}

// AnalysisResult is the best-known state of an analysis operation. Payload is
// the full decoded response body, kept opaque.
type AnalysisResult struct {
	ModelID         string          `json:"modelId"`
	ResultID        string          `json:"resultId"`
	Status          AnalysisStatus  `json:"status"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	RetrievedAt     time.Time       `json:"retrievedAt"`
	Attempts        int             `json:"attempts"`
	BudgetExhausted bool            `json:"budgetExhausted,omitempty"`
	Message         string          `json:"message,omitempty"`
	Error           *ServiceError   `json:"error,omitempty"`
}

type ResultSummary struct {
	Status          AnalysisStatus
	APIVersion      string
	ModelID         string
	Pages           int
	Tables          int
	KeyValuePairs   int
	Documents       int
	ContentLength   int
	CreatedAt       time.Time
	LastUpdatedAt   time.Time
	BudgetExhausted bool
}

type operationBody struct {
	Status              string        `json:"status"`
	CreatedDateTime     time.Time     `json:"createdDateTime"`
	LastUpdatedDateTime time.Time     `json:"lastUpdatedDateTime"`
	Error               *ServiceError `json:"error,omitempty"`
	AnalyzeResult       *struct {
		APIVersion    string            `json:"apiVersion"`
		ModelID       string            `json:"modelId"`
		Content       string            `json:"content"`
		Pages         []json.RawMessage `json:"pages"`
		Tables        []json.RawMessage `json:"tables"`
		KeyValuePairs []json.RawMessage `json:"keyValuePairs"`
		Documents     []json.RawMessage `json:"documents"`
	} `json:"analyzeResult,omitempty"`
}

// DecodeOperation reads the status and error fields of an operation body.
func DecodeOperation(body []byte) (AnalysisStatus, *ServiceError, error) {
	var op operationBody
	if err := json.Unmarshal(body, &op); err != nil {
		return "", nil, InvalidResponsef("decode operation: %v", err)
	}
	if op.Status == "" {
		return "", nil, InvalidResponsef("operation has no status field")
	}
	st, err := ParseStatus(op.Status)
	if err != nil {
		return "", nil, err
	}
	return st, op.Error, nil
}

// Summary extracts the counts shown by the human-readable output. Fields the
// payload does not carry stay zero.
func (r *AnalysisResult) Summary() ResultSummary {
	s := ResultSummary{
		Status:          r.Status,
		ModelID:         r.ModelID,
		BudgetExhausted: r.BudgetExhausted,
	}
	var op operationBody
	if len(r.Payload) == 0 || json.Unmarshal(r.Payload, &op) != nil {
		return s
	}
	s.CreatedAt = op.CreatedDateTime
	s.LastUpdatedAt = op.LastUpdatedDateTime
	if ar := op.AnalyzeResult; ar != nil {
		s.APIVersion = ar.APIVersion
		if ar.ModelID != "" {
			s.ModelID = ar.ModelID
		}
		s.Pages = len(ar.Pages)
		s.Tables = len(ar.Tables)
		s.KeyValuePairs = len(ar.KeyValuePairs)
		s.Documents = len(ar.Documents)
		s.ContentLength = len(ar.Content)
	}
	return s
}
