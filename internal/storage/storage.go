package storage

import "swapDesk/internal/model"

// Journal records pipeline progress for one run.
type Journal interface {
	Append(record model.StepRecord) error
	Close() error
}
