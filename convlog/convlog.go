// Package convlog appends one structured record per exchange to a daily
// JSONL file. The claude CLI keeps the full transcript itself; this log is
// a quick index of who asked what, when, at what cost, and which session
// to look up for the full history.
package convlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/claudegram/claudegram/logger"
)

// previewLen bounds the response text stored per entry.
const previewLen = 200

// Entry is one logged exchange.
type Entry struct {
	Timestamp       time.Time `json:"timestamp"`
	UserID          int64     `json:"user_id"`
	Username        string    `json:"username,omitempty"`
	SessionID       string    `json:"session_id"`
	Model           string    `json:"model"`
	Prompt          string    `json:"prompt"`
	ResponsePreview string    `json:"response_preview"`
	CostUSD         *float64  `json:"cost_usd"`
	Error           string    `json:"error,omitempty"`
}

// Log writes and reads daily conversation files in a single directory.
type Log struct {
	dir string
}

// New creates a Log rooted at dir. The directory is created lazily on the
// first append.
func New(dir string) *Log {
	return &Log{dir: dir}
}

// Append writes one entry to today's file (UTC date). The entry's response
// preview is truncated; timestamp is set if zero.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if len(e.ResponsePreview) > previewLen {
		e.ResponsePreview = e.ResponsePreview[:previewLen]
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("failed to create conversations directory: %w", err)
	}

	name := e.Timestamp.UTC().Format("2006-01-02") + ".jsonl"
	path := filepath.Join(l.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open conversation log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

// Recent returns up to n of the user's most recent entries, newest first.
// Malformed lines are skipped.
func (l *Log) Recent(userID int64, n int) ([]Entry, error) {
	files, err := filepath.Glob(filepath.Join(l.dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	// Newest day first; file names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(files)))

	log := logger.WithComponent("convlog")
	var entries []Entry
	for _, path := range files {
		dayEntries, err := readDay(path, userID)
		if err != nil {
			log.Warn("failed to read conversation log", "path", path, "error", err)
			continue
		}
		// Within a day, later lines are newer.
		for i := len(dayEntries) - 1; i >= 0; i-- {
			entries = append(entries, dayEntries[i])
			if len(entries) >= n {
				return entries, nil
			}
		}
	}
	return entries, nil
}

func readDay(path string, userID int64) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}
