package csvexport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"dashetl/internal/extract"
	"dashetl/internal/records"
)

// RawFileName is the per-run dump of located text.
const RawFileName = "raw_data.json"

type rawDump struct {
	Timestamp string                          `json:"timestamp"`
	RawData   map[string]*string              `json:"raw_data"`
	Tables    map[string][]map[string]*string `json:"scraped_tables"`
}

// WriteRawJSON overwrites <dir>/raw_data.json with the located text of every
// field (null when not found) and every scraped table row.
func WriteRawJSON(dir string, snap extract.Snapshot) (string, error) {
	dump := rawDump{
		Timestamp: records.FormatTimestamp(snap.Timestamp),
		RawData:   make(map[string]*string, len(snap.Fields)),
		Tables:    make(map[string][]map[string]*string, len(snap.Tables)),
	}
	for name, f := range snap.Fields {
		if !f.Found {
			dump.RawData[name] = nil
			continue
		}
		raw := f.Raw
		dump.RawData[name] = &raw
	}
	for _, t := range snap.Tables {
		rows := make([]map[string]*string, 0, len(t.Rows))
		for _, r := range t.Rows {
			rows = append(rows, map[string]*string(r))
		}
		dump.Tables[t.Name] = rows
	}

	b, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal raw data: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, RawFileName)
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
