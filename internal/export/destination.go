package export

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/osvaldoandrade/docintel/pkg/domain"
)

const (
	KindValue  = "value"
	KindText   = "text"
	KindFile   = "file"
	KindAzBlob = "azblob"
	KindS3     = "s3"

	DefaultKeyTemplate = "{resultId}.json"
)

// Destination is a parsed --output value.
//
//	value                         raw JSON to stdout
//	text                          summary to stdout
//	file | file:DIR | ./out/x.json local file
//	azblob://container/prefix/    Azure Blob Storage
//	s3://bucket/key.json          S3-compatible object storage
type Destination struct {
	Kind string
	// Bucket is the container or bucket for object sinks, the directory for file.
	Bucket string
	// Template is the object key or file name, with placeholders.
	Template string
}

func ParseDestination(raw string) (Destination, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", KindValue:
		return Destination{Kind: KindValue}, nil
	case KindText:
		return Destination{Kind: KindText}, nil
	case KindFile:
		return Destination{Kind: KindFile, Bucket: ".", Template: DefaultKeyTemplate}, nil
	}

	if dir, ok := strings.CutPrefix(raw, "file:"); ok && !strings.HasPrefix(dir, "//") {
		return fileDestination(dir), nil
	}
	if !strings.Contains(raw, "://") {
		return fileDestination(raw), nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Destination{}, domain.InvalidInputf("output %q: %v", raw, err)
	}
	switch u.Scheme {
	case "file":
		return fileDestination(u.Path), nil
	case KindAzBlob, KindS3:
		if u.Host == "" {
			return Destination{}, domain.InvalidInputf("output %q: missing container or bucket", raw)
		}
		return Destination{Kind: u.Scheme, Bucket: u.Host, Template: keyTemplate(strings.TrimPrefix(u.Path, "/"))}, nil
	default:
		return Destination{}, domain.InvalidInputf("output %q: unsupported scheme %q", raw, u.Scheme)
	}
}

func fileDestination(p string) Destination {
	if p == "" {
		p = "."
	}
	// The root directory ends before the first placeholder or the file name.
	cut := len(p)
	if i := strings.Index(p, "{"); i >= 0 {
		cut = i
	} else if !strings.HasSuffix(strings.ToLower(p), ".json") {
		return Destination{Kind: KindFile, Bucket: p, Template: DefaultKeyTemplate}
	}
	i := strings.LastIndex(p[:cut], "/")
	dir, rest := p[:i+1], p[i+1:]
	if dir == "" {
		dir = "."
	}
	return Destination{Kind: KindFile, Bucket: dir, Template: keyTemplate(rest)}
}

// keyTemplate treats a path that does not name a .json object as a prefix.
func keyTemplate(p string) string {
	if p == "" {
		return DefaultKeyTemplate
	}
	if strings.HasSuffix(strings.ToLower(p), ".json") {
		return p
	}
	return strings.TrimSuffix(p, "/") + "/" + DefaultKeyTemplate
}

// Key expands {resultId}, {modelId}, {status} and {date} in the template.
func (d Destination) Key(res *domain.AnalysisResult) string {
	date := ""
	if !res.RetrievedAt.IsZero() {
		date = res.RetrievedAt.UTC().Format("2006-01-02")
	}
	r := strings.NewReplacer(
		"{resultId}", res.ResultID,
		"{modelId}", res.ModelID,
		"{status}", string(res.Status),
		"{date}", date,
	)
	return r.Replace(d.Template)
}

func (d Destination) String() string {
	switch d.Kind {
	case KindValue, KindText:
		return d.Kind
	case KindFile:
		return path.Join(d.Bucket, d.Template)
	default:
		return fmt.Sprintf("%s://%s/%s", d.Kind, d.Bucket, d.Template)
	}
}

func validateKey(key string) error {
	if key == "" {
		return domain.InvalidInputf("export key is empty")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return domain.InvalidInputf("export key %q escapes its root", key)
		}
	}
	return nil
}
