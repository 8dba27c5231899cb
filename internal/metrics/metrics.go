package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for CellCommits.
const (
	OutcomeSaved    = "saved"
	OutcomeFailed   = "failed"
	OutcomeNotSaved = "not_saved"
)

var (
	CellCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorematrix_cell_commits_total",
		Help: "Single-cell commits by outcome (saved, failed, not_saved)",
	}, []string{"outcome"})

	CellRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scorematrix_cell_rollbacks_total",
		Help: "Optimistic cell changes rolled back after a failed commit",
	})

	InflightChains = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scorematrix_save_chains_inflight",
		Help: "Cells with at least one pending commit",
	})

	BatchMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorematrix_batch_mutations_total",
		Help: "Batch mutations by kind and outcome",
	}, []string{"kind", "outcome"})

	BatchCells = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scorematrix_batch_cells",
		Help:    "Number of cells touched per batch mutation",
		Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
	})

	UndoReverts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scorematrix_undo_reverts_total",
		Help: "Batch undo attempts by outcome",
	}, []string{"outcome"})
)
