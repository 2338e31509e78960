package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"circulation/internal/services"
	"circulation/internal/testutil"
)

// counterTotals sums every int64 counter the reader has seen, by name.
func counterTotals(t *testing.T, reader sdkmetric.Reader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals
}

func TestCirculationCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	f := newFixture(t, services.WithMeterProvider(mp))
	student := testutil.CreateStudent(t, f.db, "olga")
	late := testutil.CreateBook(t, f.db, "Late", 1)
	onTime := testutil.CreateBook(t, f.db, "On Time", 1)

	lateRec, err := f.svc.IssueBook(f.ctx, f.admin, student.ID, late.ID)
	require.NoError(t, err)
	onTimeRec, err := f.svc.SelfBorrow(f.ctx, testutil.Principal(student), onTime.ID)
	require.NoError(t, err)

	_, err = f.svc.ReturnBook(f.ctx, f.admin, onTimeRec.ID)
	require.NoError(t, err)

	// Three days and a second late: four started days at 2 each.
	f.clock.Advance(17*services.Day + time.Second)
	_, err = f.svc.ReturnBook(f.ctx, f.admin, lateRec.ID)
	require.NoError(t, err)

	// Rejections are not counted.
	_, err = f.svc.ReturnBook(f.ctx, f.admin, lateRec.ID)
	require.ErrorIs(t, err, services.ErrAlreadyReturned)

	totals := counterTotals(t, reader)
	assert.Equal(t, int64(2), totals["library.books.issued"])
	assert.Equal(t, int64(2), totals["library.books.returned"])
	assert.Equal(t, int64(8), totals["library.fines.assessed"])
}
