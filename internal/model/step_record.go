package model

import "time"

// StepRecord is one pipeline transition as written to a progress journal.
type StepRecord struct {
	// Seq is the record's position in its journal.
	Seq       int       `json:"seq"`
	Time      time.Time `json:"time"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	StepIndex int       `json:"step_index"`
	StepKind  string    `json:"step_kind"`
	Label     string    `json:"label"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Confirmed bool      `json:"confirmed"`
	Skipped   bool      `json:"skipped,omitempty"`
	Error     string    `json:"error,omitempty"`
}
