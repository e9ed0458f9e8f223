package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

const maxLineSize = 16 << 20

// FileSource reads a corpus file. The format follows the extension:
// .jsonl and .ndjson hold one JSON object per line, .json holds an array and
// .yaml or .yml holds a sequence.
type FileSource struct {
	Path string
}

func (f *FileSource) Load(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("reading corpus file: %w", err)
	}
	var records []Record
	switch ext := strings.ToLower(filepath.Ext(f.Path)); ext {
	case ".jsonl", ".ndjson":
		records, err = parseJSONLines(ctx, data)
	case ".json":
		records, err = parseJSONArray(data)
	case ".yaml", ".yml":
		records, err = parseYAML(data)
	default:
		return nil, apperrors.InvalidInputf("unsupported corpus file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing corpus file %s: %w", f.Path, err)
	}
	return records, nil
}

func parseJSONLines(ctx context.Context, data []byte) ([]Record, error) {
	var records []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for sc.Scan() {
		line++
		if line%1024 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal(text, &raw); err != nil {
			return nil, apperrors.InvalidInputf("line %d: %v", line, err)
		}
		r := raw.record()
		if err := validate(r, fmt.Sprintf("at line %d", line)); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning lines: %w", err)
	}
	return records, nil
}

func parseJSONArray(data []byte) ([]Record, error) {
	var raws []rawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, apperrors.InvalidInputf("%v", err)
	}
	return convert(raws)
}

func parseYAML(data []byte) ([]Record, error) {
	var raws []rawRecord
	if err := yaml.Unmarshal(data, &raws); err != nil {
		return nil, apperrors.InvalidInputf("%v", err)
	}
	return convert(raws)
}

func convert(raws []rawRecord) ([]Record, error) {
	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		r := raw.record()
		if err := validate(r, fmt.Sprintf("#%d", i)); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}
