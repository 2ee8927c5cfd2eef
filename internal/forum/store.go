package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-station-service/internal/models"
	"github.com/kjstillabower/weather-station-service/internal/observability"
	"github.com/kjstillabower/weather-station-service/internal/validation"
)

var (
	// ErrThreadNotFound is returned when no thread has the requested id.
	ErrThreadNotFound = errors.New("message not found")
	// ErrReplyNotFound is returned when a reply index addresses no reply.
	ErrReplyNotFound = errors.New("reply not found")
	// ErrAuthorMismatch is returned when the caller is not the author of the target.
	ErrAuthorMismatch = errors.New("author mismatch")
)

// Store keeps the forum as one JSON array in a file. Every mutation holds the
// store lock from read to rename, so concurrent mutations never lose updates.
// Readers take no lock; the file is always replaced whole.
type Store struct {
	path     string
	logger   *zap.Logger
	mu       sync.Mutex
	readFile func(string) ([]byte, error)
}

// NewStore returns a Store backed by path. logger may be nil.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, readFile: os.ReadFile}
}

// Read loads all threads. A missing, unreadable or unparsable file yields an
// empty forum.
func (s *Store) Read(ctx context.Context) []models.Thread {
	threads, err := s.load(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Warn("forum read failed", zap.String("path", s.path), zap.Error(err))
		return []models.Thread{}
	}
	return threads
}

// load reads the forum for a mutation. A missing or unparsable file is an
// empty forum; any other read error is returned so nothing gets overwritten.
func (s *Store) load(ctx context.Context) ([]models.Thread, error) {
	data, err := s.readFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return []models.Thread{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read forum: %w", err)
	}
	return decodeThreads(observability.LoggerFromContext(ctx, s.logger), s.path, data), nil
}

// decodeThreads decodes the stored array entry by entry. Entries that cannot
// be decoded are dropped and counted in an error log.
func decodeThreads(logger *zap.Logger, path string, data []byte) []models.Thread {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("forum file unparsable, treating as empty", zap.String("path", path), zap.Error(err))
		return []models.Thread{}
	}
	threads := make([]models.Thread, 0, len(raw))
	var dropped int
	var lastErr error
	for _, entry := range raw {
		var st storedThread
		if err := json.Unmarshal(entry, &st); err != nil {
			dropped++
			lastErr = err
			continue
		}
		threads = append(threads, st.thread())
	}
	if dropped > 0 {
		logger.Error("forum entries dropped", zap.String("path", path), zap.Int("dropped", dropped), zap.Error(lastErr))
	}
	return threads
}

// storedThread is the on-disk shape of a thread. Ids written by other tools
// may be integral floats or numeric strings.
type storedThread struct {
	ID      storedID       `json:"id"`
	Author  string         `json:"author"`
	Content string         `json:"content"`
	Replies []models.Reply `json:"replies"`
}

func (st storedThread) thread() models.Thread {
	replies := st.Replies
	if replies == nil {
		replies = []models.Reply{}
	}
	return models.Thread{ID: int(st.ID), Author: st.Author, Content: st.Content, Replies: replies}
}

type storedID int

func (id *storedID) UnmarshalJSON(b []byte) error {
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	var text string
	switch t := v.(type) {
	case json.Number:
		text = t.String()
	case string:
		text = strings.TrimSpace(t)
	default:
		return fmt.Errorf("thread id %s is not a number", b)
	}
	if n, err := strconv.Atoi(text); err == nil {
		*id = storedID(n)
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("thread id %s is not an integer", b)
	}
	*id = storedID(f)
	return nil
}

// Write replaces the whole forum.
func (s *Store) Write(ctx context.Context, threads []models.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(threads)
}

// write encodes threads indented by two spaces with non-ASCII left unescaped,
// then renames a temp file over the store path. Callers hold s.mu.
func (s *Store) write(threads []models.Thread) error {
	if threads == nil {
		threads = []models.Thread{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(threads); err != nil {
		return fmt.Errorf("encode forum: %w", err)
	}
	data := bytes.TrimRight(buf.Bytes(), "\n")

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("forum dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("forum temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write forum: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close forum: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod forum: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace forum: %w", err)
	}
	return nil
}

// mutate runs fn on the current threads and persists the result, all under the
// store lock. Nothing is written when fn fails.
func (s *Store) mutate(ctx context.Context, op string, fn func([]models.Thread) ([]models.Thread, error)) (err error) {
	defer func() { observability.ForumOperationsTotal.WithLabelValues(op, resultLabel(err)).Inc() }()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		observability.LoggerFromContext(ctx, s.logger).Error("forum read failed", zap.String("op", op), zap.Error(err))
		return err
	}
	threads, err := fn(current)
	if err != nil {
		return err
	}
	if err := s.write(threads); err != nil {
		observability.LoggerFromContext(ctx, s.logger).Error("forum write failed", zap.String("op", op), zap.Error(err))
		return err
	}
	return nil
}

// Create appends a thread and returns its id: one more than the highest
// existing id, or 1 for an empty forum. Author and content are trimmed and
// must not be blank.
func (s *Store) Create(ctx context.Context, author, content string) (int, error) {
	vals, ok := validation.NonBlank(author, content)
	if !ok {
		observability.ForumOperationsTotal.WithLabelValues("create", "invalid").Inc()
		return 0, validation.Invalid(validation.ErrRequired, "author and content required")
	}
	var id int
	err := s.mutate(ctx, "create", func(threads []models.Thread) ([]models.Thread, error) {
		id = nextID(threads)
		return append(threads, models.Thread{
			ID:      id,
			Author:  vals[0],
			Content: vals[1],
			Replies: []models.Reply{},
		}), nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Reply appends a reply to thread id.
func (s *Store) Reply(ctx context.Context, id int, author, content string) error {
	vals, ok := validation.NonBlank(author, content)
	if !ok {
		observability.ForumOperationsTotal.WithLabelValues("reply", "invalid").Inc()
		return validation.Invalid(validation.ErrRequired, "author and content required")
	}
	return s.mutate(ctx, "reply", func(threads []models.Thread) ([]models.Thread, error) {
		i := indexOf(threads, id)
		if i < 0 {
			return nil, ErrThreadNotFound
		}
		threads[i].Replies = append(threads[i].Replies, models.Reply{Author: vals[0], Content: vals[1]})
		return threads, nil
	})
}

// Delete removes thread id, or its reply at *replyIdx when replyIdx is set.
// author is trimmed and must equal the target's author exactly. Remaining
// replies keep their relative order.
func (s *Store) Delete(ctx context.Context, id int, author string, replyIdx *int) error {
	author = strings.TrimSpace(author)
	return s.mutate(ctx, "delete", func(threads []models.Thread) ([]models.Thread, error) {
		i := indexOf(threads, id)
		if replyIdx != nil {
			if i < 0 || !inRange(*replyIdx, len(threads[i].Replies)) {
				return nil, ErrReplyNotFound
			}
			replies := threads[i].Replies
			if replies[*replyIdx].Author != author {
				return nil, ErrAuthorMismatch
			}
			threads[i].Replies = append(replies[:*replyIdx:*replyIdx], replies[*replyIdx+1:]...)
			return threads, nil
		}
		if i < 0 {
			return nil, ErrThreadNotFound
		}
		if threads[i].Author != author {
			return nil, ErrAuthorMismatch
		}
		return append(threads[:i:i], threads[i+1:]...), nil
	})
}

// Edit replaces the content of thread id, or of its reply at *replyIdx.
// Author and content are trimmed; empty content is stored as-is.
func (s *Store) Edit(ctx context.Context, id int, author, content string, replyIdx *int) error {
	author = strings.TrimSpace(author)
	content = strings.TrimSpace(content)
	return s.mutate(ctx, "edit", func(threads []models.Thread) ([]models.Thread, error) {
		i := indexOf(threads, id)
		if replyIdx != nil {
			if i < 0 || !inRange(*replyIdx, len(threads[i].Replies)) {
				return nil, ErrReplyNotFound
			}
			r := &threads[i].Replies[*replyIdx]
			if r.Author != author {
				return nil, ErrAuthorMismatch
			}
			r.Content = content
			return threads, nil
		}
		if i < 0 {
			return nil, ErrThreadNotFound
		}
		if threads[i].Author != author {
			return nil, ErrAuthorMismatch
		}
		threads[i].Content = content
		return threads, nil
	})
}

func nextID(threads []models.Thread) int {
	if len(threads) == 0 {
		return 1
	}
	highest := threads[0].ID
	for _, t := range threads[1:] {
		if t.ID > highest {
			highest = t.ID
		}
	}
	return highest + 1
}

// indexOf returns the index of the first thread with id, or -1.
func indexOf(threads []models.Thread, id int) int {
	for i, t := range threads {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func inRange(idx, n int) bool {
	return idx >= 0 && idx < n
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrThreadNotFound), errors.Is(err, ErrReplyNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthorMismatch):
		return "author_mismatch"
	default:
		return "error"
	}
}
