package usecase

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// UploadPreview is the parsed shape of one uploaded company table.
type UploadPreview struct {
	Filename          string
	TotalRows         int
	Columns           []string
	PreviewRows       []map[string]any
	SuggestedMappings map[string]string
}

// UploadService parses uploaded CSV tables into a preview with suggested
// column mappings.
type UploadService struct {
	MaxPreviewRows int
}

// NewUploadService constructs an UploadService with the default preview size.
func NewUploadService() UploadService { return UploadService{MaxPreviewRows: 20} }

// PreviewCSV decodes the file (UTF-8, falling back to Latin-1), parses the
// header and rows, and suggests column mappings. Files without a data row
// are rejected.
func (s UploadService) PreviewCSV(filename string, data []byte) (UploadPreview, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return UploadPreview{}, fmt.Errorf("%w: csv file is empty", domain.ErrInvalidArgument)
	}
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return UploadPreview{}, fmt.Errorf("%w: undecodable csv encoding", domain.ErrInvalidArgument)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return UploadPreview{}, fmt.Errorf("%w: csv header: %v", domain.ErrInvalidArgument, err)
	}
	columns := make([]string, 0, len(header))
	for i, cell := range header {
		if i == 0 {
			cell = strings.TrimPrefix(cell, "\uFEFF")
		}
		columns = append(columns, strings.TrimSpace(cell))
	}

	limit := s.MaxPreviewRows
	if limit <= 0 {
		limit = 20
	}
	preview := make([]map[string]any, 0, limit)
	total := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return UploadPreview{}, fmt.Errorf("%w: csv row %d: %v", domain.ErrInvalidArgument, total+1, err)
		}
		total++
		if len(preview) >= limit {
			continue
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(record) {
				row[col] = strings.TrimSpace(record[i])
			} else {
				row[col] = ""
			}
		}
		preview = append(preview, row)
	}
	if total == 0 {
		return UploadPreview{}, fmt.Errorf("%w: csv has no data rows", domain.ErrInvalidArgument)
	}

	return UploadPreview{
		Filename:          strings.TrimSpace(filename),
		TotalRows:         total,
		Columns:           columns,
		PreviewRows:       preview,
		SuggestedMappings: DetectColumnMappings(columns),
	}, nil
}

// Keyword tables for column-mapping detection, tried in this target order.
var columnKeywords = []struct {
	target   string
	keywords []string
}{
	{"company_name", []string{"company", "name", "business", "organization"}},
	{"google_maps_url", []string{"maps", "url", "link", "google"}},
	{"industry", []string{"industry", "category", "sector"}},
	{"location", []string{"location", "city", "address", "state", "country"}},
	{"website", []string{"website", "site", "web"}},
}

var companyNameNegative = []string{"url", "website", "web", "domain", "http", "link"}

// DetectColumnMappings greedily assigns the best-scoring unused column to
// each target field, keeping only positive scores.
func DetectColumnMappings(columns []string) map[string]string {
	mappings := make(map[string]string, len(columnKeywords))
	used := make(map[string]struct{}, len(columns))
	for _, tk := range columnKeywords {
		best := ""
		bestScore := 0
		found := false
		for _, col := range columns {
			if _, taken := used[col]; taken {
				continue
			}
			sc := scoreColumn(tk.target, tk.keywords, col)
			if !found || sc > bestScore {
				found = true
				bestScore = sc
				best = col
			}
		}
		if found && best != "" && bestScore > 0 {
			mappings[tk.target] = best
			used[best] = struct{}{}
		}
	}
	return mappings
}

// scoreColumn mirrors the detection weights: exact keyword 50, keyword
// substring 10, company-name URL-ish negatives -100, plus small bonuses for
// the canonical spellings and URL-bearing columns.
func scoreColumn(target string, keywords []string, col string) int {
	c := strings.ToLower(col)
	s := 0
	for _, kw := range keywords {
		if c == kw {
			s += 50
		}
		if strings.Contains(c, kw) {
			s += 10
		}
	}
	if target == "company_name" {
		for _, bad := range companyNameNegative {
			if strings.Contains(c, bad) {
				s -= 100
				break
			}
		}
		if strings.Contains(c, "company") {
			s += 25
		}
		if c == "name" || c == "company" {
			s += 25
		}
	}
	if target == "website" || target == "google_maps_url" {
		for _, k := range [...]string{"url", "http", "www", "link"} {
			if strings.Contains(c, k) {
				s += 15
				break
			}
		}
	}
	return s
}
