// Package export renders analysis results and writes them to local or object
// storage destinations.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/osvaldoandrade/docintel/internal/metrics"
	"github.com/osvaldoandrade/docintel/internal/tracing"
	"github.com/osvaldoandrade/docintel/pkg/domain"
)

type Options struct {
	// Stdout receives value and text output. Defaults to os.Stdout.
	Stdout                io.Writer
	AzureConnectionString string
	S3                    S3Options
	Logger                *slog.Logger
}

// Exporter is safe for concurrent use. Uploaders are built lazily, one per
// destination root, and reused.
type Exporter struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	uploaders map[string]Uploader
	outMu     sync.Mutex
}

func New(opts Options) *Exporter {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		opts:      opts,
		logger:    logger.With("component", "export"),
		uploaders: make(map[string]Uploader),
	}
}

// Export writes res to output and returns the written location, or "" for
// stdout destinations.
func (e *Exporter) Export(ctx context.Context, output string, res *domain.AnalysisResult) (loc string, err error) {
	if res == nil {
		return "", domain.InvalidInputf("nothing to export")
	}
	dest, err := ParseDestination(output)
	if err != nil {
		return "", err
	}

	ctx, span := tracing.Start(ctx, "docintel.export",
		attribute.String("docintel.sink", dest.Kind),
		attribute.String("docintel.result_id", res.ResultID),
	)
	defer func() {
		metrics.ExportsTotal.WithLabelValues(dest.Kind, metrics.Outcome(err)).Inc()
		tracing.End(span, err)
	}()

	switch dest.Kind {
	case KindValue:
		return "", e.writeStdout(func(w io.Writer) error { return WriteValue(w, res) })
	case KindText:
		return "", e.writeStdout(func(w io.Writer) error { return WriteSummary(w, res) })
	}

	up, err := e.uploader(dest)
	if err != nil {
		return "", err
	}
	data, err := Document(res)
	if err != nil {
		return "", err
	}
	key := dest.Key(res)
	loc, err = up.UploadBytes(ctx, key, "application/json", data)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", dest.Kind, err)
	}
	e.logger.Info("result exported", "sink", dest.Kind, "location", loc, "result_id", res.ResultID)
	return loc, nil
}

func (e *Exporter) writeStdout(fn func(io.Writer) error) error {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	return fn(e.opts.Stdout)
}

func (e *Exporter) uploader(dest Destination) (Uploader, error) {
	id := dest.Kind + "|" + dest.Bucket
	e.mu.Lock()
	defer e.mu.Unlock()
	if up, ok := e.uploaders[id]; ok {
		return up, nil
	}

	var (
		up  Uploader
		err error
	)
	switch dest.Kind {
	case KindFile:
		up = NewLocalUploader(dest.Bucket)
	case KindAzBlob:
		up, err = NewAzureBlobUploader(e.opts.AzureConnectionString, dest.Bucket, e.logger)
	case KindS3:
		up, err = NewS3Uploader(e.opts.S3, dest.Bucket)
	default:
		err = domain.InvalidInputf("unsupported destination %q", dest.Kind)
	}
	if err != nil {
		return nil, err
	}
	e.uploaders[id] = up
	return up, nil
}

// Document returns the bytes written to file and object sinks: the service
// payload when present, otherwise the result record itself.
func Document(res *domain.AnalysisResult) ([]byte, error) {
	if len(bytes.TrimSpace(res.Payload)) > 0 && json.Valid(res.Payload) {
		var buf bytes.Buffer
		if err := json.Indent(&buf, res.Payload, "", "  "); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return append(b, '\n'), nil
}

func WriteValue(w io.Writer, res *domain.AnalysisResult) error {
	b, err := Document(res)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}
