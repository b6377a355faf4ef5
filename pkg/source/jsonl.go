package source

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineSize bounds a single JSON line. Scheduled searches can be long.
const maxLineSize = 4 * 1024 * 1024

// jsonlRecord is one line of a JSON-lines query log:
//
//	{"user": "alice", "user_type": "", "text": "search ...", "interactive": true, "suspicious": false}
type jsonlRecord struct {
	User        string `json:"user"`
	UserType    string `json:"user_type"`
	Text        string `json:"text"`
	Interactive bool   `json:"interactive"`
	Suspicious  bool   `json:"suspicious"`
}

// JSONLSource reads a JSON-lines export once and serves it from memory.
type JSONLSource struct {
	*MemorySource
	path string
}

// OpenJSONL loads the file at path.
func OpenJSONL(path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open query log: %w", err)
	}
	defer f.Close()

	mem, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &JSONLSource{MemorySource: mem, path: path}, nil
}

// ReadJSONL parses a JSON-lines stream. Blank lines are skipped. A user's
// type is taken from its first line.
func ReadJSONL(r io.Reader) (*MemorySource, error) {
	mem := NewMemorySource()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if rec.User == "" {
			return nil, fmt.Errorf("line %d: missing user", lineNo)
		}
		mem.Add(User{ID: rec.User, Name: rec.User, Type: rec.UserType}, Query{
			Text:        rec.Text,
			Interactive: rec.Interactive,
			Suspicious:  rec.Suspicious,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
	}
	return mem, nil
}

// Path returns the file the source was loaded from.
func (s *JSONLSource) Path() string {
	return s.path
}
