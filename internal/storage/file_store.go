package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"hostmetrics-agent/internal/model"
)

const (
	filePrefix = "metrics-"
	fileExt    = ".jsonl"
	dayLayout  = "2006-01-02"
)

type FileOption func(*FileStore)

func WithClock(now func() time.Time) FileOption {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

// FileStore buffers records in memory and appends them, one JSON object
// per line, to metrics-YYYY-MM-DD.jsonl named after the flush day.
type FileStore struct {
	dir        string
	bufferSize int
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	buf    []model.Record
	closed bool
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, bufferSize int, logger *slog.Logger, opts ...FileOption) (*FileStore, error) {
	if dir == "" {
		dir = "data"
	}
	if bufferSize < 1 {
		bufferSize = 100
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	s := &FileStore{
		dir:        dir,
		bufferSize: bufferSize,
		logger:     logger,
		now:        time.Now,
		buf:        make([]model.Record, 0, bufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileStore) Write(rec model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.buf = append(s.buf, rec.Clone())
	if len(s.buf) < s.bufferSize {
		return nil
	}
	return s.flushLocked()
}

func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileStore) Query(_ context.Context, metric string, start, end time.Time) ([]model.Record, error) {
	s.logger.Warn("query is not implemented for file storage", "metric", metric, "start", start, "end", end)
	return nil, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.flushLocked()
	s.closed = true
	if err != nil && len(s.buf) > 0 {
		s.logger.Error("records lost on close", "count", len(s.buf), "error", err)
	}
	return err
}

// Buffered reports how many records are waiting for a flush.
func (s *FileStore) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Path returns the journal file a flush at t appends to.
func (s *FileStore) Path(t time.Time) string {
	return filepath.Join(s.dir, filePrefix+t.Format(dayLayout)+fileExt)
}

// flushLocked writes the whole batch with a single append. On failure the
// buffer is kept, so a partially written batch is repeated next time.
func (s *FileStore) flushLocked() error {
	if len(s.buf) == 0 {
		return nil
	}

	var payload bytes.Buffer
	for _, rec := range s.buf {
		line, err := EncodeLine(rec)
		if err != nil {
			// an unencodable record is dropped, not retried
			s.logger.Error("dropping record that cannot be encoded", "timestamp", rec[model.KeyTimestamp], "error", err)
			continue
		}
		payload.Write(line)
	}

	path := s.Path(s.now())
	if err := s.appendFile(path, payload.Bytes()); err != nil {
		s.logger.Error("flush failed, keeping buffer", "path", path, "buffered", len(s.buf), "error", err)
		return err
	}

	s.logger.Debug("flushed records", "path", path, "count", len(s.buf))
	clear(s.buf)
	s.buf = s.buf[:0]
	return nil
}

func (s *FileStore) appendFile(path string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", s.dir, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// EncodeLine serialises rec as one JSON line. Values JSON cannot represent
// natively are written in their string form.
func EncodeLine(rec model.Record) ([]byte, error) {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		out[k] = jsonValue(v)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		return finiteOrString(x)
	case float32:
		return finiteOrString(float64(x))
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case []float64:
		for _, f := range x {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				items := make([]any, len(x))
				for i, item := range x {
					items[i] = finiteOrString(item)
				}
				return items
			}
		}
		return x
	case []string:
		return x
	case []any:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = jsonValue(item)
		}
		return items
	default:
		return fmt.Sprint(x)
	}
}

// finiteOrString keeps finite floats as numbers; NaN and the infinities
// have no JSON form and are written as "NaN", "+Inf" and "-Inf".
func finiteOrString(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}
