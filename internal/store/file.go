package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/piwi3910/SlabQuote/internal/model"
)

const fileFormatVersion = "1.0.0"

// quoteFile is the on-disk record for one quote.
type quoteFile struct {
	Version      string                    `json:"version"`
	SavedAt      string                    `json:"saved_at"`
	LastSequence int64                     `json:"last_sequence"`
	Result       *model.OptimizationResult `json:"result,omitempty"`
}

// FileStore keeps one JSON file per quote under a directory. It serialises
// access within one process; it is not meant to be shared between processes.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// DefaultFilePath returns ~/.slabquote/results.
func DefaultFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".slabquote", "results"), nil
}

// NewFileStore creates the directory if it does not exist. An empty dir
// selects DefaultFilePath.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		def, err := DefaultFilePath()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve results directory: %w", err)
		}
		dir = def
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Latest(_ context.Context, quoteID string) (model.OptimizationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := s.load(quoteID)
	if err != nil {
		return model.OptimizationResult{}, err
	}
	if rec.Result == nil {
		return model.OptimizationResult{}, model.ErrNotFound
	}
	return *rec.Result, nil
}

func (s *FileStore) Commit(_ context.Context, result model.OptimizationResult) error {
	if err := validateCommit(result); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(result.QuoteID)
	if err != nil {
		return err
	}
	if rec.Result != nil && result.Sequence <= rec.Result.Sequence {
		return model.ErrStaleWrite
	}
	rec.Result = &result
	if rec.LastSequence < result.Sequence {
		rec.LastSequence = result.Sequence
	}
	return s.save(result.QuoteID, rec)
}

func (s *FileStore) NextSequence(_ context.Context, quoteID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.load(quoteID)
	if err != nil {
		return 0, err
	}
	rec.LastSequence++
	if err := s.save(quoteID, rec); err != nil {
		return 0, err
	}
	return rec.LastSequence, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(quoteID string) (string, error) {
	if quoteID == "" || strings.ContainsAny(quoteID, `/\`) || quoteID == "." || quoteID == ".." {
		return "", model.NewInputError("invalid quote id %q", quoteID)
	}
	return filepath.Join(s.dir, quoteID+".json"), nil
}

// load returns an empty record when the quote has no file yet.
func (s *FileStore) load(quoteID string) (quoteFile, error) {
	path, err := s.path(quoteID)
	if err != nil {
		return quoteFile{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return quoteFile{Version: fileFormatVersion}, nil
		}
		return quoteFile{}, storeError(err, "failed to read %s", path)
	}
	var rec quoteFile
	if err := json.Unmarshal(data, &rec); err != nil {
		return quoteFile{}, storeError(err, "failed to parse %s", path)
	}
	if rec.Version == "" {
		return quoteFile{}, storeError(nil, "invalid result file %s: missing version field", path)
	}
	return rec, nil
}

// save writes through a temp file so a crash never leaves a torn record.
func (s *FileStore) save(quoteID string, rec quoteFile) error {
	path, err := s.path(quoteID)
	if err != nil {
		return err
	}
	rec.Version = fileFormatVersion
	rec.SavedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return storeError(err, "failed to marshal result for %s", quoteID)
	}
	tmp, err := os.CreateTemp(s.dir, quoteID+".*.tmp")
	if err != nil {
		return storeError(err, "failed to create temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storeError(err, "failed to write %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storeError(err, "failed to close %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return storeError(err, "failed to replace %s", path)
	}
	return nil
}
