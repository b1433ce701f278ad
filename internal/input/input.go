// Package input reads singer-style JSON Lines messages, either from a stream
// or from the files dropped into the import directory.
package input

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cleared-dev/bcsync/internal/model"
)

// TypeRecord marks a message that carries one record. Other message types
// (SCHEMA, STATE) are passed through and ignored by the pipeline.
const TypeRecord = "RECORD"

// maxLineSize bounds one message; bills with inline attachments metadata
// can be large.
const maxLineSize = 16 << 20

// Message is one decoded input line.
type Message struct {
	Type   string       `json:"type"`
	Stream string       `json:"stream"`
	Record model.Record `json:"record"`
}

// Reader decodes one message per line. Blank lines are skipped.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next message, or io.EOF when the input is exhausted.
// Numbers are kept as json.Number so amounts are not rounded.
func (r *Reader) Next() (Message, error) {
	for r.sc.Scan() {
		r.line++
		data := bytes.TrimSpace(r.sc.Bytes())
		if len(data) == 0 {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			return Message{}, fmt.Errorf("line %d: decoding message: %w", r.line, err)
		}
		msg.Type = strings.ToUpper(msg.Type)
		if msg.Type == TypeRecord && (msg.Stream == "" || msg.Record == nil) {
			return Message{}, fmt.Errorf("line %d: RECORD message needs stream and record", r.line)
		}
		return msg, nil
	}
	if err := r.sc.Err(); err != nil {
		return Message{}, fmt.Errorf("line %d: reading input: %w", r.line+1, err)
	}
	return Message{}, io.EOF
}

// FileInfo describes an input file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// processedDir is the subdirectory, under the import directory, that
// receives completed files.
const processedDir = "processed"

// Scan returns the *.jsonl files in dir, sorted by name. A missing dir is
// not an error.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".jsonl") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// MarkProcessed moves a file from dir to dir/processed.
func MarkProcessed(dir, fileName string) error {
	dstDir := filepath.Join(dir, processedDir)
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}
	if err := os.Rename(filepath.Join(dir, fileName), filepath.Join(dstDir, fileName)); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
