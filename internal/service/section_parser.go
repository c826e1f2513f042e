package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const maxImagePromptLen = 400

var (
	errEmptyReply     = errors.New("model reply is empty")
	markdownHeader    = regexp.MustCompile(`^#+\s*`)
	validate          = validator.New()
)

// sectionDraft is the structured reply expected for one section.
type sectionDraft struct {
	Title       string `json:"title" validate:"required"`
	Content     string `json:"content" validate:"required"`
	ImagePrompt string `json:"image_prompt" validate:"max=400"`
}

// parseSection reads a JSON section reply, falling back to the
// "Headline:" / "Image Prompt:" line format when the reply is not JSON.
func parseSection(reply string) (sectionDraft, error) {
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return sectionDraft{}, errEmptyReply
	}

	d, ok := parseJSONSection(reply)
	if !ok {
		d = parseMarkerSection(reply)
	}

	d.Title = strings.TrimSpace(markdownHeader.ReplaceAllString(strings.TrimSpace(d.Title), ""))
	d.Content = strings.TrimSpace(d.Content)
	d.ImagePrompt = truncateRunes(strings.TrimSpace(d.ImagePrompt), maxImagePromptLen)
	if d.ImagePrompt == "" {
		d.ImagePrompt = d.Title
	}

	if err := validate.Struct(d); err != nil {
		return sectionDraft{}, fmt.Errorf("invalid section reply: %w", err)
	}
	return d, nil
}

func parseJSONSection(reply string) (sectionDraft, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return sectionDraft{}, false
	}
	var d sectionDraft
	if err := json.Unmarshal([]byte(reply[start:end+1]), &d); err != nil {
		return sectionDraft{}, false
	}
	return d, true
}

func parseMarkerSection(reply string) sectionDraft {
	var d sectionDraft
	var content []string

	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "Bundle"):
			continue
		case strings.Contains(line, "Headline:"):
			d.Title = strings.TrimSpace(strings.SplitN(line, "Headline:", 2)[1])
		case strings.Contains(line, "Image Prompt:"):
			d.ImagePrompt = strings.TrimSpace(strings.SplitN(line, "Image Prompt:", 2)[1])
		default:
			content = append(content, line)
		}
	}

	// Without a headline marker the first line is the title.
	if d.Title == "" && len(content) > 0 {
		d.Title = content[0]
		content = content[1:]
	}
	d.Content = strings.Join(content, "\n")
	return d
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
