// Package csvimport reads contact lists exported as CSV.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxFileSize is the largest contact list accepted.
const MaxFileSize = 5 << 20

var validate = validator.New()

// ValidEmail reports whether s looks like a deliverable address.
func ValidEmail(s string) bool {
	return validate.Var(s, "required,email") == nil
}

// Row is one accepted contact.
type Row struct {
	Email     string
	FirstName string
	LastName  string
}

// Rejected is a record skipped during parsing.
type Rejected struct {
	Line   int
	Reason string
}

type Result struct {
	Rows     []Row
	Rejected []Rejected
}

var ErrNoEmailColumn = errors.New("csv has no email column")

// Parse reads a header row followed by contact records. Columns are matched
// case-insensitively: email, first_name, last_name and name (split into first
// and last when neither is given). Records without a valid email are
// rejected; duplicate emails keep the first occurrence.
func Parse(r io.Reader) (*Result, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &Result{}, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := map[string]int{}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["email"]; !ok {
		return nil, ErrNoEmailColumn
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	res := &Result{}
	seen := map[string]bool{}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Rejected = append(res.Rejected, Rejected{Line: perr.Line, Reason: perr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("read record: %w", err)
		}
		if isBlank(rec) {
			continue
		}
		line, _ := reader.FieldPos(0)

		email := strings.ToLower(field(rec, "email"))
		if !ValidEmail(email) {
			res.Rejected = append(res.Rejected, Rejected{Line: line, Reason: "invalid email"})
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true

		first, last := field(rec, "first_name"), field(rec, "last_name")
		if first == "" && last == "" {
			first, last = splitName(field(rec, "name"))
		}
		res.Rows = append(res.Rows, Row{Email: email, FirstName: first, LastName: last})
	}
	return res, nil
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
