package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
	"receipts/internal/extraction"
)

type countingExporter struct {
	mu    sync.Mutex
	calls int
}

func (c *countingExporter) ProcessPendingExports(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingExporter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestNewExtractionProcessor_Defaults(t *testing.T) {
	p := NewExtractionProcessor(nil, nil, nil, ExtractionProcessorConfig{})
	assert.Equal(t, DefaultExtractionProcessorConfig(), p.config)

	p = NewExtractionProcessor(nil, nil, nil, ExtractionProcessorConfig{BatchSize: 3})
	assert.Equal(t, 3, p.config.BatchSize)
	assert.Equal(t, 10*time.Second, p.config.PollInterval)
}

func TestExtractionProcessor_ProcessBatch(t *testing.T) {
	svc, _ := newReceiptService(t, extraction.NewHeuristicExtractor(), nil)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		rc, _, err := svc.Submit(ctx, ReceiptUpload{Text: groceryText}, false)
		require.NoError(t, err)
		ids = append(ids, rc.ID)
	}
	bad, _, err := svc.Submit(ctx, ReceiptUpload{Text: "nothing to see"}, false)
	require.NoError(t, err)

	p := NewExtractionProcessor(svc.storage, svc, nil, ExtractionProcessorConfig{BatchSize: 10, Concurrency: 2})
	n, err := p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range ids {
		rc, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, core.ReceiptExtracted, rc.Status)
	}
	rc, err := svc.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.NotEqual(t, core.ReceiptExtracted, rc.Status)

	n, err = p.ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExtractionProcessor_StartStop(t *testing.T) {
	svc, _ := newReceiptService(t, extraction.NewHeuristicExtractor(), nil)
	exp := &countingExporter{}
	p := NewExtractionProcessor(svc.storage, svc, exp, ExtractionProcessorConfig{PollInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, p.Stop(ctx))

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(ctx))

	assert.Eventually(t, func() bool { return exp.count() >= 1 }, time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.False(t, p.IsRunning())
}
