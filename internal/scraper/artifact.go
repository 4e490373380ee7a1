package scraper

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/tender-ingest/internal/types"
)

// Artifact column order as written by the scraper.
var artifactColumns = []string{"id", "title", "status", "days_left", "value", "url"}

// ReadArtifact parses the scraper's tab-delimited output file into raw
// records. Rows with the wrong column count are returned alongside the good
// ones as a malformed count; the caller decides whether that matters.
func ReadArtifact(path string) ([]types.RawTenderRecord, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	return readArtifact(f)
}

func readArtifact(r io.Reader) ([]types.RawTenderRecord, int, error) {
	reader := csv.NewReader(r)
	reader.Comma = '\t'
	reader.FieldsPerRecord = -1 // validated per row below

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read artifact header: %w", err)
	}
	if len(header) != len(artifactColumns) {
		return nil, 0, fmt.Errorf("unexpected artifact header: %v", header)
	}

	var records []types.RawTenderRecord
	malformed := 0

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			malformed++
			continue
		}
		if len(row) != len(artifactColumns) {
			malformed++
			continue
		}

		records = append(records, types.RawTenderRecord{
			ID:       row[0],
			Title:    row[1],
			Status:   row[2],
			DaysLeft: row[3],
			Value:    row[4],
			URL:      row[5],
		})
	}

	return records, malformed, nil
}
