package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cleared-dev/bcsync/internal/mapper"
	"github.com/cleared-dev/bcsync/internal/model"
	"github.com/cleared-dev/bcsync/internal/refdata"
	"github.com/cleared-dev/bcsync/internal/state"
	"github.com/cleared-dev/bcsync/internal/syncerr"
)

// Processor runs one batch of records of a single stream through
// preprocess, map, dedup, submit and state recording.
type Processor struct {
	Mappers *mapper.Registry
	State   state.Store
	Log     logrus.FieldLogger
}

// pending is a record that made it through mapping.
type pending struct {
	index int
	write *mapper.WriteRequest
	hash  string
}

// ProcessBatch returns exactly one Update per record, in input order. A
// failing record never affects the outcome of another.
//
// The error is non-nil when the batch could not be carried out as a whole:
// the prefetch failed, the state store could not be read, or a request
// failed with ErrTransport. The updates are complete either way, but the
// input has to be retried.
func (p *Processor) ProcessBatch(ctx context.Context, s Sink, ref *refdata.Store, records []model.Record) ([]state.Update, error) {
	stream := s.Stream()
	log := p.logger().WithField("stream", stream)
	updates := make([]state.Update, len(records))
	for i := range updates {
		updates[i].Stream = stream
	}
	if len(records) == 0 {
		return updates, nil
	}

	m := p.Mappers.Get(stream)
	if m == nil {
		err := fmt.Errorf("no mapper for stream %s", stream)
		for i, rec := range records {
			fail(&updates[i], rec, err)
		}
		return updates, nil
	}

	scoped, err := s.Preprocess(ctx, records, ref)
	if err != nil {
		log.WithError(err).Error("preprocess failed")
		for i, rec := range records {
			fail(&updates[i], rec, err)
		}
		return updates, fmt.Errorf("preprocess: %w", err)
	}

	var (
		outage error
		todo   []pending
		firsts = map[string]int{}
		dupes  = map[int]int{}
	)
	for i, rec := range records {
		w, err := m.Map(rec, scoped)
		if err != nil {
			log.WithError(err).Debug("record failed to map")
			fail(&updates[i], rec, err)
			continue
		}
		hash, err := state.Hash(w.Canonical())
		if err != nil {
			fail(&updates[i], rec, err)
			continue
		}
		updates[i].Hash = hash

		if first, ok := firsts[hash]; ok {
			dupes[i] = first
			continue
		}
		firsts[hash] = i

		remoteID, ok, err := p.State.Lookup(ctx, stream, hash)
		if err != nil {
			fail(&updates[i], rec, err)
			if outage == nil {
				outage = fmt.Errorf("state lookup: %w", err)
			}
			continue
		}
		if ok {
			updates[i].Success = true
			updates[i].Existing = true
			updates[i].ID = remoteID
			continue
		}
		todo = append(todo, pending{index: i, write: w, hash: hash})
	}

	if len(todo) > 0 {
		writes := make([]*mapper.WriteRequest, len(todo))
		for j, t := range todo {
			writes[j] = t.write
		}
		results := s.Submit(ctx, writes)
		for j, t := range todo {
			p.apply(ctx, log, &updates[t.index], records[t.index], t.hash, results[j])
			if outage == nil && errors.Is(results[j].Err, ErrTransport) {
				outage = results[j].Err
			}
		}
	}

	// In-batch duplicates take the outcome of the first occurrence.
	for i, first := range dupes {
		u := updates[first]
		updates[i].ID = u.ID
		updates[i].Success = u.Success
		updates[i].Existing = true
		if !u.Success {
			updates[i].ErrorKind = u.ErrorKind
			updates[i].Error = u.Error
			updates[i].RemoteError = u.RemoteError
			updates[i].Record = encodeRecord(records[i])
		}
	}
	return updates, outage
}

func (p *Processor) apply(ctx context.Context, log logrus.FieldLogger, u *state.Update, rec model.Record, hash string, r Result) {
	u.ID = r.ID
	u.IsUpdated = r.IsUpdated
	if r.Err != nil {
		log.WithError(r.Err).WithFields(logrus.Fields{"hash": hash, "remote_id": r.ID}).Warn("record write failed")
		fail(u, rec, r.Err)
		return
	}
	u.Success = true
	if err := p.State.Record(ctx, u.Stream, hash, r.ID); err != nil {
		// The write itself succeeded; a re-run will only re-send it.
		log.WithError(err).WithField("hash", hash).Warn("could not record state")
	}
	log.WithFields(logrus.Fields{"hash": hash, "remote_id": r.ID, "updated": r.IsUpdated}).Debug("record written")
}

func (p *Processor) logger() logrus.FieldLogger {
	if p.Log == nil {
		return logrus.StandardLogger()
	}
	return p.Log
}

// fail fills the error side of an update.
func fail(u *state.Update, rec model.Record, err error) {
	u.Success = false
	u.Error = err.Error()
	u.Record = encodeRecord(rec)
	kind := syncerr.KindOf(err)
	if kind == "" {
		kind = syncerr.KindRemote
	}
	u.ErrorKind = string(kind)

	var se *syncerr.Error
	if errors.As(err, &se) && se.Body != "" {
		if json.Valid([]byte(se.Body)) {
			u.RemoteError = json.RawMessage(se.Body)
		} else {
			u.RemoteError, _ = json.Marshal(se.Body)
		}
	}
}

func encodeRecord(rec model.Record) json.RawMessage {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil
	}
	return data
}
