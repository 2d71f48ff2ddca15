package storage

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"swapDesk/internal/model"
)

// JsonlJournal appends step records to a JSONL file. Nothing reads it back;
// it is an audit trail of what was submitted. Each record is flushed as it
// is appended so a crash loses at most the line being written.
type JsonlJournal struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
	seq    int
}

// OpenJsonlJournal opens path for appending, creating it and its directory.
func OpenJsonlJournal(path string) (*JsonlJournal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	writer := bufio.NewWriter(file)
	return &JsonlJournal{file: file, writer: writer, enc: json.NewEncoder(writer)}, nil
}

// Append numbers record in append order and writes it as one line.
func (j *JsonlJournal) Append(record model.StepRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return errors.New("journal closed")
	}

	j.seq++
	record.Seq = j.seq
	if err := j.enc.Encode(record); err != nil {
		return fmt.Errorf("write step record: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Further appends fail.
func (j *JsonlJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	flushErr := j.writer.Flush()
	closeErr := j.file.Close()
	j.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush journal: %w", flushErr)
	}
	return closeErr
}
