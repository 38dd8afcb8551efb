package domain

import (
	"net/url"
	"os"
	"regexp"
	"strings"
)

const DefaultAPIVersion = "2024-11-30"

var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._~-]{1,63}$`)

// Source holds exactly one of URL or Bytes. Path is informational only.
type Source struct {
	URL   string
	Bytes []byte
	Path  string
}

func URLSource(u string) Source {
	return Source{URL: strings.TrimSpace(u)}
}

// FileSource reads the whole file eagerly so that an unreadable path is
// reported before anything touches the network.
func FileSource(path string) (Source, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Source{}, InvalidInputf("file path is empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Source{}, InvalidInputf("file %s: %v", path, err)
	}
	if info.IsDir() {
		return Source{}, InvalidInputf("file %s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Source{}, InvalidInputf("file %s: %v", path, err)
	}
	return Source{Bytes: data, Path: path}, nil
}

func (s Source) IsURL() bool { return s.URL != "" }

// Describe returns a short human label for logs.
func (s Source) Describe() string {
	if s.IsURL() {
		return s.URL
	}
	if s.Path != "" {
		return s.Path
	}
	return "<bytes>"
}

func (s Source) Validate() error {
	hasURL := s.URL != ""
	hasBytes := s.Bytes != nil
	switch {
	case hasURL && hasBytes:
		return InvalidInputf("source must be a url or file, not both")
	case !hasURL && !hasBytes:
		return InvalidInputf("source is required")
	case hasURL:
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return InvalidInputf("source url %q must be an absolute http(s) url", s.URL)
		}
	case len(s.Bytes) == 0:
		return InvalidInputf("source file %s is empty", s.Path)
	}
	return nil
}

type AnalysisRequest struct {
	ModelID string
	Source  Source
}

func (r AnalysisRequest) Validate() error {
	if err := ValidateModelID(r.ModelID); err != nil {
		return err
	}
	return r.Source.Validate()
}

func ValidateModelID(id string) error {
	if !modelIDPattern.MatchString(id) {
		return InvalidInputf("model id %q", id)
	}
	return nil
}

// OperationHandle correlates a submission with its result. ResultID is empty
// when the service did not return a usable Operation-Location.
type OperationHandle struct {
	ResultID          string `json:"resultId,omitempty"`
	OperationLocation string `json:"operationLocation,omitempty"`
}

func (h OperationHandle) Usable() bool { return h.ResultID != "" }
