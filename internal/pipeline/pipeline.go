// Package pipeline drives a sync run: it reads input messages, cuts them
// into bounded per-stream batches, runs each batch through its sink and
// reports the outcome of every record.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/input"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/sink"
	"github.com/cleared-dev/bcsync/internal/state"
	"github.com/cleared-dev/bcsync/internal/synclog"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// Summary counts record outcomes.
type Summary struct {
	Records  int
	Created  int
	Updated  int
	Existing int
	Failed   int
}

// Add accumulates another summary.
func (s *Summary) Add(o Summary) {
	s.Records += o.Records
	s.Created += o.Created
	s.Updated += o.Updated
	s.Existing += o.Existing
	s.Failed += o.Failed
}

func (s *Summary) count(u state.Update) {
	s.Records++
	switch {
	case !u.Success:
		s.Failed++
	case u.Existing:
		s.Existing++
	case u.IsUpdated:
		s.Updated++
	default:
		s.Created++
	}
}

// Runner runs one sync.
type Runner struct {
	Sinks     *sink.Registry
	Processor *sink.Processor
	Ref       *refdata.Store
	// BatchSize caps records per sink batch.
	BatchSize int
	RunID     string
	// LogPath is the sync log CSV. Empty disables it.
	LogPath string
	// Out receives one STATE message per batch. Nil disables it.
	Out io.Writer
	Log logrus.FieldLogger
	Now func() time.Time
}

// StateMessage is the document emitted after each batch.
type StateMessage struct {
	Type  string     `json:"type"`
	Value StateValue `json:"value"`
}

// StateValue carries the outcomes of one batch.
type StateValue struct {
	RunID   string         `json:"run_id"`
	Stream  string         `json:"stream"`
	Updates []state.Update `json:"updates"`
}

// Run processes every RECORD message from r. Records are grouped per
// stream, in first-seen order, and flushed whenever a stream reaches
// BatchSize and at end of input. Per-record failures are reported, not
// returned; the error is for unreadable input, cancellation, a batch that
// could not reach Business Central and output failures.
func (r *Runner) Run(ctx context.Context, in io.Reader) (Summary, error) {
	var (
		sum     Summary
		order   []string
		pending = map[string][]model.Record{}
	)
	flush := func(stream string) error {
		batch := pending[stream]
		if len(batch) == 0 {
			return nil
		}
		pending[stream] = nil
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := r.processBatch(ctx, stream, batch)
		sum.Add(s)
		return err
	}

	rd := input.NewReader(in)
	for {
		msg, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		if msg.Type != input.TypeRecord {
			continue
		}
		if _, ok := pending[msg.Stream]; !ok {
			order = append(order, msg.Stream)
		}
		pending[msg.Stream] = append(pending[msg.Stream], msg.Record)
		if len(pending[msg.Stream]) >= r.batchSize() {
			if err := flush(msg.Stream); err != nil {
				return sum, err
			}
		}
	}
	for _, stream := range order {
		if err := flush(stream); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// RunDir processes every *.jsonl file in dir and moves each completed file
// to dir/processed. A file that fails to complete stays in place.
func (r *Runner) RunDir(ctx context.Context, dir string) (Summary, error) {
	var sum Summary
	files, err := input.Scan(dir)
	if err != nil {
		return sum, err
	}
	for _, fi := range files {
		s, err := r.runFile(ctx, fi)
		sum.Add(s)
		if err != nil {
			return sum, fmt.Errorf("%s: %w", fi.Name, err)
		}
		if err := input.MarkProcessed(dir, fi.Name); err != nil {
			return sum, err
		}
		r.logger().WithFields(logrus.Fields{"file": fi.Name, "records": s.Records, "failed": s.Failed}).Info("input file processed")
	}
	return sum, nil
}

func (r *Runner) runFile(ctx context.Context, fi input.FileInfo) (Summary, error) {
	f, err := os.Open(fi.Path)
	if err != nil {
		return Summary{}, fmt.Errorf("opening input: %w", err)
	}
	defer f.Close()
	return r.Run(ctx, f)
}

func (r *Runner) processBatch(ctx context.Context, stream string, batch []model.Record) (Summary, error) {
	log := r.logger().WithFields(logrus.Fields{"stream": stream, "run_id": r.RunID})

	var (
		updates  []state.Update
		batchErr error
	)
	if s := r.Sinks.Get(stream); s != nil {
		log.WithField("records", len(batch)).Debug("processing batch")
		updates, batchErr = r.Processor.ProcessBatch(ctx, s, r.Ref, batch)
		if err := r.Processor.State.Flush(); err != nil {
			batchErr = errors.Join(batchErr, fmt.Errorf("saving state: %w", err))
		}
	} else {
		log.Warn("no sink for stream")
		updates = unsupported(stream, batch)
	}

	var sum Summary
	entries := make([]synclog.Entry, 0, len(updates))
	now := r.now()
	for _, u := range updates {
		sum.count(u)
		entries = append(entries, synclog.FromUpdate(r.RunID, now, u))
	}
	log.WithFields(logrus.Fields{"records": sum.Records, "failed": sum.Failed}).Info("batch done")

	if r.LogPath != "" {
		if err := synclog.Append(r.LogPath, entries); err != nil {
			return sum, err
		}
	}
	if r.Out != nil {
		msg := StateMessage{Type: "STATE", Value: StateValue{RunID: r.RunID, Stream: stream, Updates: updates}}
		if err := json.NewEncoder(r.Out).Encode(msg); err != nil {
			return sum, fmt.Errorf("writing state: %w", err)
		}
	}
	if batchErr != nil {
		log.WithError(batchErr).Error("batch did not complete")
		return sum, fmt.Errorf("stream %s: %w", stream, batchErr)
	}
	return sum, nil
}

// unsupported fails every record of a stream nothing can write.
func unsupported(stream string, batch []model.Record) []state.Update {
	updates := make([]state.Update, len(batch))
	for i, rec := range batch {
		raw, _ := json.Marshal(rec)
		updates[i] = state.Update{
			Stream:    stream,
			ErrorKind: string(syncerr.KindInvalidInput),
			Error:     fmt.Sprintf("stream %q is not supported", stream),
			Record:    raw,
		}
	}
	return updates
}

func (r *Runner) batchSize() int {
	if r.BatchSize <= 0 {
		return sink.MaxBatchRequests
	}
	return r.BatchSize
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log == nil {
		return logrus.StandardLogger()
	}
	return r.Log
}

func (r *Runner) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}
