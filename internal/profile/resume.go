package profile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Resume materialises the resume document for file inputs.
type Resume struct {
	Ref    string
	Client *http.Client
	// Dir holds downloaded copies. Empty means the system temp dir.
	Dir string
}

// NewResume returns a Resume for a URL or a local path.
func NewResume(ref string) *Resume {
	return &Resume{Ref: strings.TrimSpace(ref), Client: &http.Client{Timeout: 30 * time.Second}}
}

// Materialize returns a local file holding the resume. Remote documents are
// downloaded on every call. cleanup removes downloaded copies.
func (r *Resume) Materialize(ctx context.Context) (string, func(), error) {
	noop := func() {}
	if r == nil || r.Ref == "" {
		return "", noop, fmt.Errorf("resume is not configured")
	}

	u, err := url.Parse(r.Ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if _, err := os.Stat(r.Ref); err != nil {
			return "", noop, fmt.Errorf("resume file: %w", err)
		}
		abs, err := filepath.Abs(r.Ref)
		if err != nil {
			return "", noop, err
		}
		return abs, noop, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.Ref, nil)
	if err != nil {
		return "", noop, err
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", noop, fmt.Errorf("fetch resume: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", noop, fmt.Errorf("fetch resume: bad status: %s", resp.Status)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "resume.pdf"
	}
	dir, err := os.MkdirTemp(r.Dir, "resume-*")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		cleanup()
		return "", noop, err
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		file.Close()
		cleanup()
		return "", noop, fmt.Errorf("write resume: %w", err)
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", noop, err
	}
	return file.Name(), cleanup, nil
}
