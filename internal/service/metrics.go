package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctionops_bids_total",
		Help: "Bids processed, labeled by auction format and outcome or reject reason",
	}, []string{"format", "outcome"})

	admissionAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auctionops_admission_attempts",
		Help:    "Optimistic attempts needed per admitted or rejected bid",
		Buckets: []float64{1, 2, 3, 4, 5, 8},
	})

	versionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctionops_version_conflicts_total",
		Help: "Registry commits lost to a concurrent commit on the same auction",
	})

	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auctionops_invariant_violations_total",
		Help: "Commits that left an auction inconsistent; the auction is halted",
	})

	auctionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auctionops_auctions_closed_total",
		Help: "Auctions closed, labeled by format and whether they sold",
	}, []string{"format", "result"})
)
