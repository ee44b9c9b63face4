package persist_test

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pstore/internal/metrics"
	"github.com/roach88/pstore/internal/persist"
)

func TestMetrics_CommitCreateCollect(t *testing.T) {
	f := setupFixture(t)

	commits := testutil.ToFloat64(metrics.CommitsTotal.WithLabelValues(metrics.Ok))
	aborts := testutil.ToFloat64(metrics.AbortsTotal)
	created := testutil.ToFloat64(metrics.ObjectsCreatedTotal)
	collected := testutil.ToFloat64(metrics.ObjectsCollectedTotal)

	f.update(t, func(tx *persist.Transaction) error {
		a, err := f.node.New(tx, nil)
		if err != nil {
			return err
		}
		b, err := f.node.New(tx, map[string]any{"next": a})
		if err != nil {
			return err
		}
		return f.db.Root().Set(tx, "b", b)
	})
	f.update(t, func(tx *persist.Transaction) error {
		return f.db.Root().Delete(tx, "b")
	})
	tx, err := f.db.Begin()
	if assert.NoError(t, err) {
		tx.Abort()
	}

	assert.Equal(t, commits+2, testutil.ToFloat64(metrics.CommitsTotal.WithLabelValues(metrics.Ok)))
	assert.Equal(t, aborts+1, testutil.ToFloat64(metrics.AbortsTotal))
	assert.Equal(t, created+2, testutil.ToFloat64(metrics.ObjectsCreatedTotal))
	assert.Equal(t, collected+2, testutil.ToFloat64(metrics.ObjectsCollectedTotal))
}

func TestMetrics_ObjectLoads(t *testing.T) {
	f := setupFixture(t)
	f.update(t, func(tx *persist.Transaction) error {
		d, err := f.doc.New(tx, map[string]any{"title": "t"})
		if err != nil {
			return err
		}
		return f.db.Root().Set(tx, "d", d)
	})
	f.reopen(t)

	loads := testutil.ToFloat64(metrics.ObjectLoadsTotal)
	d := f.rootObject(t, "d")
	mustGet(t, d, "title")
	mustGet(t, d, "title")

	assert.Equal(t, loads+1, testutil.ToFloat64(metrics.ObjectLoadsTotal))
}

func TestMetrics_WithRegisterer(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	s, _, _ := newSchema()
	path := filepath.Join(t.TempDir(), "metrics.db")
	opts := []persist.Option{
		persist.WithLogger(slog.New(slog.DiscardHandler)),
		persist.WithRegisterer(reg),
	}

	db, err := persist.Open(path, s, opts...)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// A second database on the same registry is fine.
	db, err = persist.Open(path, s, opts...)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	n, err := testutil.GatherAndCount(reg, "pstore_aborts_total", "pstore_object_loads_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
