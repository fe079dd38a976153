package doctree

// BoundaryKind records why a chunk ends where it does.
type BoundaryKind string

const (
	// BoundaryPage splits where a source page starts.
	BoundaryPage      BoundaryKind = "page"
	BoundaryHeading   BoundaryKind = "heading"
	BoundaryParagraph BoundaryKind = "paragraph"
	BoundarySentence  BoundaryKind = "sentence"
	BoundaryWord      BoundaryKind = "word"
	BoundaryCharacter BoundaryKind = "character"
	// BoundaryForced marks a hard cut at the size limit when no preferred
	// boundary was found in the search window.
	BoundaryForced BoundaryKind = "forced"
	// BoundaryEnd marks the final chunk, which ends at the end of the text.
	BoundaryEnd BoundaryKind = "end"
)

// Chunk is a contiguous, bounded span of a Document.
//
// Start/End are half-open character offsets into Document.Text. Overlap is
// the number of leading characters shared with the previous chunk, so
// Start == previous.End - Overlap.
type Chunk struct {
	Index         int          `json:"index"`
	Start         int          `json:"start"`
	End           int          `json:"end"`
	Overlap       int          `json:"overlap"`
	Boundary      BoundaryKind `json:"boundary"`
	Text          string       `json:"text"`
	WordCount     int          `json:"word_count"`
	TokenEstimate int          `json:"token_estimate"`
	Breadcrumb    []string     `json:"breadcrumb,omitempty"` // Heading hierarchy at Start, e.g. ["Results", "Q4"]
	PageStart     int          `json:"page_start,omitempty"`
	PageEnd       int          `json:"page_end,omitempty"`
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return c.End - c.Start
}
