package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"hostmetrics-agent/internal/model"
)

// DecodeLine parses one journal line. Lists made only of numbers come back
// as []float64 so they compare equal to what was written.
func DecodeLine(line []byte) (model.Record, error) {
	var raw map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(line), &raw); err != nil {
		return nil, fmt.Errorf("decode journal line: %w", err)
	}
	rec := make(model.Record, len(raw))
	for k, v := range raw {
		rec[k] = normalizeDecoded(v)
	}
	return rec, nil
}

// ReadJournal returns every record in the journal file at path.
func ReadJournal(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []model.Record
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 0, 64*1024), 4<<20)
	lineNo := 0
	for s.Scan() {
		lineNo++
		if len(bytes.TrimSpace(s.Bytes())) == 0 {
			continue
		}
		rec, err := DecodeLine(s.Bytes())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		out = append(out, rec)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return out, nil
}

func normalizeDecoded(v any) any {
	items, ok := v.([]any)
	if !ok {
		return v
	}
	nums := make([]float64, 0, len(items))
	for _, item := range items {
		f, isNum := item.(float64)
		if !isNum {
			return items
		}
		nums = append(nums, f)
	}
	return nums
}
