// Package masking detects and redacts personally identifiable information
// before text leaves the pipeline in alerts, summaries, or model prompts.
package masking

// Masker is the interface for code-based maskers that need structural
// awareness beyond regex pattern matching, such as checksum validation on
// digit sequences.
type Masker interface {
	// Name returns the unique identifier for this masker.
	Name() string

	// AppliesTo performs a lightweight check on whether this masker
	// should process the data. Should be fast (string contains, not parsing).
	AppliesTo(data string) bool

	// Mask applies masking logic and returns the masked result together
	// with the number of redactions made.
	Mask(data string) (string, int)

	// Placeholder is the typed replacement this masker inserts.
	Placeholder() string
}
