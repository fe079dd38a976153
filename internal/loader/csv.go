package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docflow/internal/doctree"
)

// csvBatchSize groups data rows into sections of manageable size.
const csvBatchSize = 20

// CSVDecoder renders CSV rows as pipe-separated table lines, repeating the
// header row at the top of every batch.
type CSVDecoder struct{}

func (d *CSVDecoder) Decode(r io.Reader, name string) (*doctree.DocTree, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}

	tree := &doctree.DocTree{Title: trimExt(name)}
	if len(records) == 0 {
		return tree, nil
	}

	header := tableRow(records[0])
	dataRows := records[1:]
	if len(dataRows) == 0 {
		tree.Children = []*doctree.DocNode{{Text: header}}
		return tree, nil
	}

	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		lines := []string{header}
		for _, row := range dataRows[i:end] {
			lines = append(lines, tableRow(row))
		}
		tree.Children = append(tree.Children, &doctree.DocNode{
			Title: fmt.Sprintf("Rows %d-%d", i+2, end+1), // 1-indexed, skip header
			Level: 2,
			Text:  strings.Join(lines, "\n"),
		})
	}

	return tree, nil
}

func tableRow(cells []string) string {
	for i, c := range cells {
		cells[i] = strings.ReplaceAll(strings.TrimSpace(c), "\n", " ")
	}
	return "| " + strings.Join(cells, " | ") + " |"
}
