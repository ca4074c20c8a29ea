package training

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/cyclopcam/logs"
)

// EpochRecord is one row of training history. ValMetric is nil for epochs
// where validation did not run.
type EpochRecord struct {
	RunID     string   `json:"run_id"`
	Epoch     int      `json:"epoch"`
	TrainLoss float64  `json:"train_loss"`
	ValMetric *float64 `json:"val_metric,omitempty"`
	LR        float64  `json:"lr"`
}

// MetricSink receives one record per completed epoch.
type MetricSink interface {
	RecordEpoch(rec EpochRecord) error
}

// LogSink writes epoch records to the run log.
type LogSink struct {
	log logs.Log
}

func NewLogSink(logger logs.Log) *LogSink { return &LogSink{log: logger} }

func (s *LogSink) RecordEpoch(rec EpochRecord) error {
	if rec.ValMetric != nil {
		s.log.Infof("epoch %d: loss %.6f, val dice %.4f, lr %.3g", rec.Epoch, rec.TrainLoss, *rec.ValMetric, rec.LR)
	} else {
		s.log.Infof("epoch %d: loss %.6f, lr %.3g", rec.Epoch, rec.TrainLoss, rec.LR)
	}
	return nil
}

// JSONLSink appends one JSON object per epoch to a file. Appending means an
// interrupted run keeps the rows it already wrote, and a resumed run
// continues the same file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) RecordEpoch(rec EpochRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

func (s *JSONLSink) Close() error { return s.f.Close() }

// MultiSink fans each record out to several sinks in order.
type MultiSink []MetricSink

func (m MultiSink) RecordEpoch(rec EpochRecord) error {
	for _, s := range m {
		if err := s.RecordEpoch(rec); err != nil {
			return err
		}
	}
	return nil
}
