package doctree

// Built-in record kinds. Grammars may define their own.
const (
	KindHeading   = "heading"
	KindKeyValue  = "key_value"
	KindListItem  = "list_item"
	KindTable     = "table"
	KindParagraph = "paragraph"
	KindRecovered = "recovered"
)

// Record is one structured unit parsed out of a chunk.
//
// Start/End are chunk-local character offsets; Line/Column locate the
// record start in the source Document. Page is the source page of the
// record start, 0 when the document has no pages.
type Record struct {
	ChunkIndex int               `json:"chunk_index"`
	Kind       string            `json:"kind"`
	Fields     map[string]string `json:"fields"`
	Text       string            `json:"text"`
	Start      int               `json:"start"`
	End        int               `json:"end"`
	Line       int               `json:"line"`
	Column     int               `json:"column"`
	Page       int               `json:"page,omitempty"`
	Confidence float64           `json:"confidence"`
	Recovered  bool              `json:"recovered"`
}
