package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Drain replays the pending operations of the readonly table and, when
// signed in, the user's table. Each key is replayed at most once per pass and
// never concurrently with another pass. Rows that end in confirmation or are
// abandoned produce exactly one listener event, as does a row whose token
// could not be obtained. Rows kept after a failed remote call produce none.
func (e *Engine) Drain(ctx context.Context) error {
	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer done()

	start := time.Now()
	defer func() {
		metrics.DrainDuration.Observe(time.Since(start).Seconds())
	}()

	snap := e.snapshot()
	seen := make(map[string]struct{})
	var g errgroup.Group
	g.SetLimit(e.cfg.ReplayConcurrency)
	scheduled := 0

tables:
	for _, table := range e.tables(snap) {
		rows, err := e.store.PendingOperations(callCtx, table)
		if err != nil {
			e.logger.Error("Failed to read pending operations", "table", table, "error", err)
			continue
		}
		for _, row := range rows {
			if callCtx.Err() != nil {
				break tables
			}
			key := table + "/" + row.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			if !e.claim(key) {
				e.logger.Debug("Pending operation already in flight", "key", key)
				metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeSkipped).Inc()
				continue
			}
			scheduled++
			g.Go(func() error {
				defer e.release(key)
				e.replay(callCtx, gen, snap, row)
				return nil
			})
		}
	}
	_ = g.Wait()

	if !e.current(gen) {
		if !e.Enabled() {
			return model.NewDataError("drain interrupted", model.ErrDisabled)
		}
		return model.NewDataError("drain interrupted", model.ErrCanceled)
	}
	e.logger.Info("Drained pending operations", "scheduled", scheduled, "duration", time.Since(start))
	return nil
}

func (e *Engine) replay(ctx context.Context, gen uint64, snap identity.Snapshot, row localstore.LocalDocument) {
	op := row.PendingOperation
	log := e.logger.With("table", row.Table, "partition", row.Partition, "id", row.ID, "operation", row.RawOperation())
	if ctx.Err() != nil || !e.current(gen) {
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeStale).Inc()
		return
	}
	if op != model.OpCreate && op != model.OpReplace && op != model.OpDelete {
		log.Warn("Skipping unsupported pending operation")
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeSkipped).Inc()
		return
	}

	partition := model.StripAccountID(row.Partition)
	if qualified, err := model.ResolvePartition(partition, snap.AccountID); err != nil || qualified != row.Partition {
		log.Warn("Skipping pending operation outside the current identity")
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeSkipped).Inc()
		return
	}
	expired := row.IsExpired(e.now())

	token, err := e.tokens.GetToken(ctx, partition, snap)
	if err != nil {
		if ctx.Err() != nil || !e.current(gen) {
			metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeStale).Inc()
			return
		}
		log.Warn("Failed to get token for pending operation", "expired", expired, "error", err)
		if expired {
			e.purge(ctx, row, log)
			metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeAbandoned).Inc()
		} else {
			metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeRetained).Inc()
		}
		e.emit(failure(row, err))
		return
	}

	doc := row.ToDocument()
	var result *model.Document
	switch {
	case op == model.OpDelete:
		err = e.remote.Delete(ctx, token, row.ID)
	case doc.Err != nil:
		err = doc.Err
	case op == model.OpCreate:
		result, err = e.remote.Create(ctx, token, doc)
	default:
		result, err = e.remote.Replace(ctx, token, doc)
	}

	if ctx.Err() != nil || !e.current(gen) {
		log.Debug("Dropping replay result of a previous generation")
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeStale).Inc()
		return
	}

	if err == nil {
		e.confirm(ctx, row, doc, result, log)
		return
	}

	status := model.StatusCode(err)
	var httpErr *remote.HTTPError
	switch {
	case op == model.OpDelete && errors.As(err, &httpErr) && (httpErr.IsNotFound() || httpErr.IsConflict()):
		// Already gone remotely: the delete is confirmed.
		log.Info("Pending delete already applied remotely", "status", status)
		e.confirm(ctx, row, doc, nil, log)
	case model.IsTerminal(status) || doc.Err != nil || expired:
		log.Warn("Abandoning pending operation", "status", status, "expired", expired, "error", err)
		e.purge(ctx, row, log)
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeAbandoned).Inc()
		e.emit(failure(row, err))
	default:
		log.Warn("Pending operation failed, keeping it for the next drain", "status", status, "error", err)
		metrics.ReplayTotal.WithLabelValues(row.RawOperation(), metrics.OutcomeRetained).Inc()
	}
}

// confirm applies a successful replay to the device cache and reports it.
// A row rewritten while the call was in flight keeps its newer pending write.
func (e *Engine) confirm(ctx context.Context, row localstore.LocalDocument, doc, result *model.Document, log *slog.Logger) {
	op := row.PendingOperation
	meta := doc.Metadata()
	if op == model.OpDelete {
		e.purge(ctx, row, log)
	} else {
		etag, body := row.ETag, row.Document
		if result != nil {
			fillIdentity(result, row.Partition, row.ID)
			if len(result.Value) == 0 {
				result.Value = doc.Value
			}
			if encoded, err := json.Marshal(model.NewEnvelope(result)); err == nil {
				body = encoded
			}
			etag = result.ETag
			meta = result.Metadata()
		}
		switch ok, err := e.store.ConfirmPending(ctx, row, etag, body); {
		case err != nil:
			log.Error("Failed to clear pending operation", "error", err)
		case !ok:
			log.Info("Document changed during replay, keeping the newer write")
		}
	}
	metrics.ReplayTotal.WithLabelValues(op.String(), metrics.OutcomeConfirmed).Inc()
	log.Debug("Pending operation confirmed")
	e.emit(model.OperationResult{
		Operation:  op,
		Metadata:   &meta,
		Partition:  row.Partition,
		DocumentID: row.ID,
	})
}

// purge removes the replayed row unless a newer write replaced it.
func (e *Engine) purge(ctx context.Context, row localstore.LocalDocument, log *slog.Logger) {
	switch ok, err := e.store.DeletePending(ctx, row); {
	case err != nil:
		log.Error("Failed to remove pending operation", "error", err)
	case !ok:
		log.Info("Document changed during replay, keeping the newer write")
	}
}

func failure(row localstore.LocalDocument, err error) model.OperationResult {
	return model.OperationResult{
		Operation:  row.PendingOperation,
		Partition:  row.Partition,
		DocumentID: row.ID,
		Err:        model.NewDataError("failed to replay pending operation", model.WrapError(err)),
	}
}
