package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/osvaldoandrade/docintel/internal/repository"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

// APIError is rendered as the service error envelope with the given HTTP
// status.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string { return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message) }

func apiError(status int, code, format string, args ...any) *APIError {
	return &APIError{Status: status, Code: code, Message: fmt.Sprintf(format, args...)}
}

type StartInput struct {
	ModelID     string
	APIVersion  string
	ContentType string
	Body        []byte
}

// AnalyzeService emulates the asynchronous analyze operation: a result
// stays pending for a configured number of polls, then completes.
type AnalyzeService interface {
	Start(ctx context.Context, in StartInput) (*repository.Operation, error)
	// Poll records one status fetch and returns the response body.
	Poll(ctx context.Context, modelID, resultID string) (json.RawMessage, error)
}

type AnalyzeSettings struct {
	PollsUntilDone int
	// FailingModel always ends in a failed status.
	FailingModel string
}

type analyzeService struct {
	repo     repository.OperationRepository
	settings AnalyzeSettings
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func NewAnalyzeService(repo repository.OperationRepository, settings AnalyzeSettings, logger *slog.Logger, now func() time.Time) AnalyzeService {
	if settings.PollsUntilDone <= 0 {
		settings.PollsUntilDone = 1
	}
	if now == nil {
		now = time.Now
	}
	return &analyzeService{repo: repo, settings: settings, logger: logger, now: now, newID: uuid.NewString}
}

type urlSourceRequest struct {
	URLSource string `json:"urlSource"`
}

func (s *analyzeService) Start(ctx context.Context, in StartInput) (*repository.Operation, error) {
	ctx, span := otel.Tracer("docintel/emulator").Start(ctx, "docintel.emulator.start",
		trace.WithAttributes(attribute.String("docintel.model_id", in.ModelID)),
	)
	defer span.End()

	if err := domain.ValidateModelID(in.ModelID); err != nil {
		return nil, apiError(http.StatusNotFound, "ModelNotFound", "The requested model %q was not found.", in.ModelID)
	}
	if strings.TrimSpace(in.APIVersion) == "" {
		return nil, apiError(http.StatusBadRequest, "MissingApiVersionParameter", "The api-version query parameter (?api-version=) is required for all requests.")
	}

	op := repository.Operation{
		ID:         s.newID(),
		ModelID:    in.ModelID,
		APIVersion: in.APIVersion,
		Size:       len(in.Body),
		Fail:       s.settings.FailingModel != "" && in.ModelID == s.settings.FailingModel,
		CreatedAt:  s.now().UTC(),
	}

	mediaType, _, _ := mime.ParseMediaType(in.ContentType)
	switch mediaType {
	case "application/json":
		var req urlSourceRequest
		if err := json.Unmarshal(in.Body, &req); err != nil {
			return nil, apiError(http.StatusBadRequest, "InvalidRequest", "Invalid request body: %v", err)
		}
		u, err := url.Parse(req.URLSource)
		if req.URLSource == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apiError(http.StatusBadRequest, "InvalidRequest", "Invalid urlSource %q.", req.URLSource)
		}
		op.SourceKind = "url"
		op.URLSource = req.URLSource
	case "application/octet-stream", "application/pdf", "image/jpeg", "image/png", "image/tiff":
		if len(in.Body) == 0 {
			return nil, apiError(http.StatusBadRequest, "InvalidRequest", "The request body is empty.")
		}
		op.SourceKind = "bytes"
		op.ContentType = mediaType
	default:
		return nil, apiError(http.StatusUnsupportedMediaType, "UnsupportedMediaType", "Content type %q is not supported.", in.ContentType)
	}

	if err := s.repo.Save(ctx, op); err != nil {
		return nil, err
	}
	s.logger.Info("analysis accepted", "model", op.ModelID, "result_id", op.ID, "source", op.SourceKind, "size", op.Size)
	return &op, nil
}

func (s *analyzeService) Poll(ctx context.Context, modelID, resultID string) (json.RawMessage, error) {
	op, err := s.repo.RecordPoll(ctx, modelID, resultID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apiError(http.StatusNotFound, "NotFound", "Resource not found.")
	}
	if err != nil {
		return nil, err
	}

	body := operationBody{
		CreatedDateTime:     op.CreatedAt,
		LastUpdatedDateTime: s.now().UTC(),
	}
	switch {
	case op.Polls < s.settings.PollsUntilDone && op.Polls <= 1:
		body.Status = "notStarted"
	case op.Polls < s.settings.PollsUntilDone:
		body.Status = "running"
	case op.Fail:
		body.Status = "failed"
		body.Error = &domain.ServiceError{
			Code:    "InvalidRequest",
			Message: "Invalid request.",
			Details: []domain.ServiceError{{Code: "InvalidContent", Message: "The file is corrupted or format is unsupported."}},
		}
	default:
		body.Status = "succeeded"
		body.AnalyzeResult = synthesize(op)
	}
	s.logger.Debug("analysis polled", "model", modelID, "result_id", resultID, "poll", op.Polls, "status", body.Status)
	return json.Marshal(body)
}

type operationBody struct {
	Status              string               `json:"status"`
	CreatedDateTime     time.Time            `json:"createdDateTime"`
	LastUpdatedDateTime time.Time            `json:"lastUpdatedDateTime"`
	Error               *domain.ServiceError `json:"error,omitempty"`
	AnalyzeResult       *analyzeResult       `json:"analyzeResult,omitempty"`
}

type analyzeResult struct {
	APIVersion      string `json:"apiVersion"`
	ModelID         string `json:"modelId"`
	StringIndexType string `json:"stringIndexType"`
	Content         string `json:"content"`
	Pages           []page `json:"pages"`
	Tables          []any  `json:"tables"`
	KeyValuePairs   []any  `json:"keyValuePairs"`
	Documents       []any  `json:"documents"`
}

type page struct {
	PageNumber int     `json:"pageNumber"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Unit       string  `json:"unit"`
}

func synthesize(op *repository.Operation) *analyzeResult {
	content := "Emulated analysis of " + op.URLSource
	pages := 1
	if op.SourceKind == "bytes" {
		content = fmt.Sprintf("Emulated analysis of %d bytes (%s)", op.Size, op.ContentType)
		pages = min(1+op.Size/4096, 50)
	}
	res := &analyzeResult{
		APIVersion:      op.APIVersion,
		ModelID:         op.ModelID,
		StringIndexType: "textElements",
		Content:         content,
		Tables:          []any{},
		KeyValuePairs:   []any{},
		Documents:       []any{},
	}
	for i := 1; i <= pages; i++ {
		res.Pages = append(res.Pages, page{PageNumber: i, Width: 8.5, Height: 11, Unit: "inch"})
	}
	return res
}
