package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// PopplerAdapter extracts PDF text through poppler's pdftotext CLI. It
// handles scanned-layout and encoding cases the in-process library cannot.
type PopplerAdapter struct {
	// Timeout for pdftotext execution (default: 30s)
	Timeout time.Duration
}

// NewPopplerAdapter creates a new PopplerAdapter with default settings.
func NewPopplerAdapter() *PopplerAdapter {
	return &PopplerAdapter{
		Timeout: 30 * time.Second,
	}
}

// IsAvailable checks if pdftotext is installed and accessible.
func (p *PopplerAdapter) IsAvailable() bool {
	_, err := exec.LookPath("pdftotext")
	return err == nil
}

// ExtractText converts a PDF file to plain text.
//
// Options:
//   - -layout keeps the physical column layout, which preserves the
//     budget tables lined up in legislative attachments
//   - -enc UTF-8 forces the output encoding
//   - "-" writes to stdout
func (p *PopplerAdapter) ExtractText(path string) (string, error) {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "pdftotext",
		"-layout",
		"-enc", "UTF-8",
		path,
		"-",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("pdftotext timeout after %v", timeout)
		}
		return "", fmt.Errorf("pdftotext failed: %v, stderr: %s", err, stderr.String())
	}

	return strings.ToValidUTF8(stdout.String(), ""), nil
}
