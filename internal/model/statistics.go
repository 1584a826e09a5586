package model

import (
	"time"
)

// ActivityStatistics aggregates an actor's journaled transactions over a time range
type ActivityStatistics struct {
	TotalTransactions  int64       `json:"total_transactions"`
	Confirmed          int64       `json:"confirmed"`
	Failed             int64       `json:"failed"`
	Pending            int64       `json:"pending"`
	MintedInvoices     int64       `json:"minted_invoices"`
	ByKind             []KindCount `json:"by_kind"`
	TimeRangeStartDate time.Time   `json:"time_range_start_date"`
	TimeRangeEndDate   time.Time   `json:"time_range_end_date"`
}

// KindCount is the number of transactions of one kind that ended in one phase
type KindCount struct {
	Kind  string `json:"kind"`
	Phase string `json:"phase"`
	Total int64  `json:"total"`
}
