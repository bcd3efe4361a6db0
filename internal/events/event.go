// Package events carries quote change notifications in and layout
// notifications out over RabbitMQ.
package events

import (
	"time"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Queue names.
const (
	PiecesChangedQueue   = "quote.pieces.changed"
	LayoutOptimisedQueue = "quote.layout.optimised"
)

// PiecesChangedEvent is published by the quote editor whenever a quote's
// piece list or run settings change. Bursts of these are expected.
type PiecesChangedEvent struct {
	QuoteID   string `json:"quote_id"`
	ChangedAt string `json:"changed_at,omitempty"`
	model.ChangeSet
}

// LayoutOptimisedEvent is published after a layout has been committed so
// pricing can refresh without polling.
type LayoutOptimisedEvent struct {
	QuoteID        string   `json:"quote_id"`
	Sequence       int64    `json:"sequence"`
	TotalSlabs     int      `json:"total_slabs"`
	WastePercent   float64  `json:"waste_percent"`
	UnplacedPieces []string `json:"unplaced_pieces"`
	JoinCount      int      `json:"join_count"`
	LaminationLm   float64  `json:"lamination_lm"`
	OptimisedAt    string   `json:"optimised_at"`
}

// NewLayoutOptimisedEvent summarises a committed result.
func NewLayoutOptimisedEvent(res model.OptimizationResult) LayoutOptimisedEvent {
	unplaced := make([]string, 0, len(res.UnplacedPieces))
	for _, u := range res.UnplacedPieces {
		unplaced = append(unplaced, u.PieceID)
	}
	joins := 0
	for _, j := range res.Joins {
		joins += j.JoinCount
	}
	at := res.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return LayoutOptimisedEvent{
		QuoteID:        res.QuoteID,
		Sequence:       res.Sequence,
		TotalSlabs:     res.TotalSlabs,
		WastePercent:   res.WastePercent,
		UnplacedPieces: unplaced,
		JoinCount:      joins,
		LaminationLm:   res.LaminationSummary.LaminationLm,
		OptimisedAt:    at.UTC().Format(time.RFC3339),
	}
}
