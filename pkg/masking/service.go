package masking

import (
	"log/slog"
	"sort"
)

// Finding reports one category of personal information found in a piece of
// text, with how many occurrences were redacted and the placeholder used.
type Finding struct {
	Type        string `json:"type"`
	Count       int    `json:"count"`
	Placeholder string `json:"placeholder"`
}

// Service applies data masking to text leaving the pipeline. Created once at
// application startup. Thread-safe and stateless aside from compiled
// patterns.
type Service struct {
	patterns    []*CompiledPattern // built-in compiled patterns, in order
	codeMaskers []Masker           // registered code-based maskers, applied first
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly at creation time.
func NewService() *Service {
	s := &Service{}

	// Code-based maskers run before the regex sweep so checksum-validated
	// redactions are not partially consumed by broader digit patterns.
	s.registerMasker(&CardMasker{})
	s.compileBuiltinPatterns()

	slog.Info("Masking service initialized",
		"patterns", len(s.patterns),
		"code_maskers", len(s.codeMaskers))
	return s
}

// Mask redacts every recognized category of personal information in data,
// replacing each occurrence with its placeholder.
func (s *Service) Mask(data string) string {
	masked, _ := s.apply(data)
	return masked
}

// Detect reports which categories of personal information occur in data,
// sorted by type name. An empty result means the text is clean.
func (s *Service) Detect(data string) []Finding {
	_, findings := s.apply(data)
	return findings
}

// apply runs code-based maskers then regex patterns over data, counting
// redactions per category.
func (s *Service) apply(data string) (string, []Finding) {
	if data == "" {
		return data, nil
	}

	counts := make(map[string]int)
	placeholders := make(map[string]string)
	masked := data

	for _, m := range s.codeMaskers {
		if !m.AppliesTo(masked) {
			continue
		}
		var n int
		masked, n = m.Mask(masked)
		if n > 0 {
			counts[m.Name()] += n
			placeholders[m.Name()] = m.Placeholder()
		}
	}

	for _, p := range s.patterns {
		n := 0
		masked = p.Regex.ReplaceAllStringFunc(masked, func(string) string {
			n++
			return p.Replacement
		})
		if n > 0 {
			counts[p.Name] += n
			placeholders[p.Name] = p.Replacement
		}
	}

	if len(counts) == 0 {
		return masked, nil
	}
	findings := make([]Finding, 0, len(counts))
	for typ, n := range counts {
		findings = append(findings, Finding{Type: typ, Count: n, Placeholder: placeholders[typ]})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Type < findings[j].Type })
	return masked, findings
}

// registerMasker registers a code-based masker.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers = append(s.codeMaskers, m)
}
