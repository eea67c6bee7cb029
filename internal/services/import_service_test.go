package services

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipts/internal/core"
)

func readStatementFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("../statement/testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestImportService_ImportAndReimport(t *testing.T) {
	svc := NewImportService(newTestStorage(t), nil, 0)
	ctx := context.Background()
	data := readStatementFixture(t, "chase_checking.csv")

	first, err := svc.Import(ctx, "january.csv", "", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "chase", first.Format)
	assert.Equal(t, 6, first.RowCount)
	assert.Equal(t, 6, first.Inserted)
	assert.Zero(t, first.Duplicates)

	second, err := svc.Import(ctx, "january-again.csv", "chase", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 6, second.Duplicates)
	assert.NotEqual(t, first.ID, second.ID)

	txns, err := svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, txns, 6)

	imports, err := svc.ListImports(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, imports, 2)
}

func TestImportService_SameDayVendorDifferentAmounts(t *testing.T) {
	svc := NewImportService(newTestStorage(t), nil, 0)
	ctx := context.Background()

	checking := "Date,Description,Amount\n2025-03-01,STARBUCKS STORE 1234,-5.50\n"
	card := "Date,Description,Amount\n2025-03-01,STARBUCKS STORE 1234,-12.75\n"

	first, err := svc.Import(ctx, "checking.csv", "", strings.NewReader(checking))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := svc.Import(ctx, "card.csv", "", strings.NewReader(card))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Inserted)
	assert.Zero(t, second.Duplicates)

	txns, err := svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, txns, 2)
	amounts := []int64{txns[0].Amount.Cents, txns[1].Amount.Cents}
	assert.ElementsMatch(t, []int64{-550, -1275}, amounts)

	again, err := svc.Import(ctx, "card.csv", "", strings.NewReader(card))
	require.NoError(t, err)
	assert.Zero(t, again.Inserted)
	assert.Equal(t, 1, again.Duplicates)
}

func TestImportService_Rejects(t *testing.T) {
	svc := NewImportService(newTestStorage(t), nil, 64)
	ctx := context.Background()

	_, err := svc.Import(ctx, "x.csv", "quicken", strings.NewReader("Date,Description,Amount\n2025-01-01,x,-1.00\n"))
	assert.ErrorIs(t, err, core.ErrUnsupportedFormat)

	_, err = svc.Import(ctx, "x.csv", "", strings.NewReader("Date,Description,Amount\n"))
	assert.ErrorIs(t, err, core.ErrEmptyStatement)

	_, err = svc.Import(ctx, "x.csv", "", strings.NewReader(strings.Repeat("a", 65)))
	assert.ErrorIs(t, err, ErrTooLarge)

	txns, err := svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestImportService_BadRowRejectsWholeFile(t *testing.T) {
	svc := NewImportService(newTestStorage(t), nil, 0)
	ctx := context.Background()

	csv := "Date,Description,Amount\n2025-01-01,ok,-1.00\nnope,bad,-2.00\n"
	_, err := svc.Import(ctx, "x.csv", "", strings.NewReader(csv))
	require.Error(t, err)

	txns, err := svc.ListTransactions(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestImportService_Preview(t *testing.T) {
	svc := NewImportService(newTestStorage(t), nil, 0)

	p, err := svc.Preview(bytes.NewReader(readStatementFixture(t, "chase_checking.csv")), 2)
	require.NoError(t, err)
	assert.Equal(t, "chase", p.DetectedFormat)
	assert.Len(t, p.Rows, 2)
	assert.Equal(t, 6, p.TotalRows)

	_, err = svc.Preview(strings.NewReader("  \n"), 2)
	assert.ErrorIs(t, err, core.ErrEmptyStatement)

	assert.Equal(t, []string{"chase", "generic"}, svc.Formats())
}
