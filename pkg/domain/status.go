package domain

import (
	"encoding"
	"fmt"
	"strings"
)

type AnalysisStatus string

const (
	StatusNotStarted AnalysisStatus = "notStarted"
	StatusRunning    AnalysisStatus = "running"
	StatusSucceeded  AnalysisStatus = "succeeded"
	StatusFailed     AnalysisStatus = "failed"
	StatusNotFound   AnalysisStatus = "notFound"
)

var (
	_ encoding.TextMarshaler   = AnalysisStatus("")
	_ encoding.TextUnmarshaler = (*AnalysisStatus)(nil)
)

// ParseStatus maps the service's status field onto AnalysisStatus.
// Matching is case-insensitive and "canceled" is reported as failed.
func ParseStatus(s string) (AnalysisStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "notstarted":
		return StatusNotStarted, nil
	case "running":
		return StatusRunning, nil
	case "succeeded":
		return StatusSucceeded, nil
	case "failed", "canceled", "cancelled":
		return StatusFailed, nil
	case "notfound":
		return StatusNotFound, nil
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, s)
}

// Terminal reports whether no further transition can occur.
func (s AnalysisStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusNotFound
}

func (s AnalysisStatus) String() string { return string(s) }

func (s AnalysisStatus) MarshalText() ([]byte, error) { return []byte(string(s)), nil }

func (s *AnalysisStatus) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
