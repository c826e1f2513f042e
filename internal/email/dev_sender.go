package email

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DevSender writes each message to disk instead of sending it.
type DevSender struct {
	dir string
}

func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir}
}

type devMetadata struct {
	MessageID string `json:"message_id"`
	Timestamp string `json:"timestamp"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Tag       string `json:"tag,omitempty"`
}

func (d *DevSender) Send(ctx context.Context, params SendParams) (string, error) {
	if err := params.Validate(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create directory: %v", ErrFailedToSend, err)
	}

	now := time.Now()
	id := uuid.NewString()
	base := fmt.Sprintf("%s_%s_%s", now.Format("2006_01_02_150405"), sanitizeFilename(params.To), id[:8])

	if err := os.WriteFile(filepath.Join(d.dir, base+".html"), []byte(params.HTML), 0o644); err != nil {
		return "", fmt.Errorf("%w: write html: %v", ErrFailedToSend, err)
	}
	if params.Text != "" {
		if err := os.WriteFile(filepath.Join(d.dir, base+".txt"), []byte(params.Text), 0o644); err != nil {
			return "", fmt.Errorf("%w: write text: %v", ErrFailedToSend, err)
		}
	}

	meta, err := json.MarshalIndent(devMetadata{
		MessageID: id,
		Timestamp: now.Format(time.RFC3339),
		To:        params.To,
		Subject:   params.Subject,
		Tag:       params.Tag,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: marshal metadata: %v", ErrFailedToSend, err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, base+".json"), meta, 0o644); err != nil {
		return "", fmt.Errorf("%w: write metadata: %v", ErrFailedToSend, err)
	}
	return id, nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, "@", "_at_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}

var _ Sender = (*DevSender)(nil)
