// Package dataset reads call id lists for --ids-file.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LoadCallIDs reads call ids from path. Spreadsheets (.xlsx) use the first
// sheet and locate the id column by header; any other file holds one id per
// line, with blank lines and lines starting with # skipped. For .csv files
// only the first field of each line is used. Duplicates are dropped and the
// first-seen order is kept.
func LoadCallIDs(path string) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		ids, err = loadSheet(path)
	default:
		ids, err = loadLines(path)
	}
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no call ids in %s", path)
	}
	return dedupe(ids), nil
}

func loadSheet(path string) ([]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	col, hasHeader := idColumn(rows[0])
	start := 0
	if hasHeader {
		start = 1
	}
	var out []string
	for _, r := range rows[start:] {
		if col >= len(r) {
			continue
		}
		if id := strings.TrimSpace(r[col]); id != "" {
			out = append(out, id)
		}
	}
	return out, nil
}

// idColumn finds the call id column by header. Without a recognizable header
// the first column is used and the first row is treated as data, unless it
// looks like a label row.
func idColumn(header []string) (int, bool) {
	fallback := -1
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case l == "call_id" || l == "call id" || l == "callid":
			return i, true
		case strings.Contains(l, "call") && strings.Contains(l, "id"):
			if fallback == -1 {
				fallback = i
			}
		case l == "id" && fallback == -1:
			fallback = i
		}
	}
	if fallback >= 0 {
		return fallback, true
	}
	if len(header) > 0 && looksLikeLabel(header[0]) {
		return 0, true
	}
	return 0, false
}

// Provider call ids never contain spaces.
func looksLikeLabel(s string) bool {
	return strings.Contains(strings.TrimSpace(s), " ")
}

func loadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	csv := strings.EqualFold(filepath.Ext(path), ".csv")
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if csv {
			line = strings.Trim(strings.TrimSpace(strings.SplitN(line, ",", 2)[0]), `"`)
			if line == "" || strings.EqualFold(line, "call_id") {
				continue
			}
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
