package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"receipts/internal/extraction"
	"receipts/internal/storage"
)

func newTestStorage(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type publishedJob struct {
	kind    string
	id      int64
	version int64
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []publishedJob
	err  error
}

func (f *fakePublisher) PublishExtractReceipt(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, publishedJob{kind: "extract", id: id})
	return f.err
}

func (f *fakePublisher) PublishExportLedger(_ context.Context, id, version int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, publishedJob{kind: "export", id: id, version: version})
	return f.err
}

func (f *fakePublisher) published() []publishedJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedJob(nil), f.jobs...)
}

type fakeExtractor struct {
	mu     sync.Mutex
	calls  int
	result *extraction.Result
	err    error
}

func (f *fakeExtractor) Extract(_ context.Context, in extraction.Input) (*extraction.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return nil, errors.New("no result configured")
	}
	r := *f.result
	r.RawText = in.Text
	return &r, nil
}

func (f *fakeExtractor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
