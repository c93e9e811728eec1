package masking

import (
	"log/slog"
	"regexp"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPattern is the source form of a built-in pattern before compilation.
type builtinPattern struct {
	name        string
	pattern     string
	replacement string
	description string
}

// builtinPatterns are applied in order after the code-based maskers. Phone
// precedes tax file numbers so a nine-digit window inside a phone number is
// not misread as a TFN.
var builtinPatterns = []builtinPattern{
	{
		name:        "email",
		pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
		replacement: "<EMAIL>",
		description: "Email addresses",
	},
	{
		name:        "phone",
		pattern:     `\+?61[ \-]?\d(?:[ \-]?\d){8}|\b0[2-578](?:[ \-]?\d){8}\b`,
		replacement: "<PHONE>",
		description: "Australian phone numbers, international or domestic form",
	},
	{
		name:        "tax_file_number",
		pattern:     `\b\d{3}[ \-]?\d{3}[ \-]?\d{3}\b`,
		replacement: "<TFN>",
		description: "Australian tax file numbers (nine digits, optionally grouped)",
	},
}

// compileBuiltinPatterns compiles all built-in regex patterns.
// Invalid patterns are logged and skipped.
func (s *Service) compileBuiltinPatterns() {
	for _, p := range builtinPatterns {
		compiled, err := regexp.Compile(p.pattern)
		if err != nil {
			slog.Error("Failed to compile built-in masking pattern, skipping",
				"pattern", p.name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.name,
			Regex:       compiled,
			Replacement: p.replacement,
			Description: p.description,
		})
	}
}
