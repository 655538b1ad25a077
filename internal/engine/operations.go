package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/pkg/model"
)

// ErrNoNextPage is returned by NextPage on the last page.
var ErrNoNextPage = errors.New("no next page")

// target is a resolved partition at the time of the call.
type target struct {
	partition string
	qualified string
	table     string
	snap      identity.Snapshot
}

func (e *Engine) resolve(partition string) (target, error) {
	snap := e.snapshot()
	qualified, err := model.ResolvePartition(partition, snap.AccountID)
	if err != nil {
		return target{}, model.NewDataError("", err)
	}
	table, err := model.TableName(partition, snap.AccountID)
	if err != nil {
		return target{}, model.NewDataError("", err)
	}
	return target{partition: partition, qualified: qualified, table: table, snap: snap}, nil
}

func (e *Engine) resolveDocument(partition, id string) (target, error) {
	t, err := e.resolve(partition)
	if err != nil {
		return t, err
	}
	if err := model.ValidateDocumentID(id); err != nil {
		return t, model.NewDataError("", err)
	}
	return t, nil
}

func encodeValue(value any) (json.RawMessage, error) {
	var raw []byte
	switch v := value.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, model.NewDataError("failed to serialize document", err)
		}
		return data, nil
	}
	if !json.Valid(raw) {
		return nil, model.NewDataError("failed to serialize document", errors.New("value is not valid JSON"))
	}
	return raw, nil
}

// Create creates a document. Offline, the document is stored locally with a
// pending marker and replayed later.
func (e *Engine) Create(ctx context.Context, partition, id string, value any, opts model.WriteOptions) (*model.Document, error) {
	return e.write(ctx, model.OpCreate, partition, id, value, opts)
}

// Replace creates or replaces a document.
func (e *Engine) Replace(ctx context.Context, partition, id string, value any, opts model.WriteOptions) (*model.Document, error) {
	return e.write(ctx, model.OpReplace, partition, id, value, opts)
}

func (e *Engine) write(ctx context.Context, op model.PendingOperation, partition, id string, value any, opts model.WriteOptions) (*model.Document, error) {
	t, err := e.resolveDocument(partition, id)
	if err != nil {
		return nil, err
	}
	body, err := encodeValue(value)
	if err != nil {
		return nil, err
	}
	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if !e.network.Online() {
		doc, err := e.store.CreateOrUpdateOffline(callCtx, t.table, t.qualified, id, body, opts)
		countOperation(op.String(), false, err)
		return doc, err
	}

	doc, err := e.writeOnline(callCtx, ctx, gen, op, t, id, body, opts)
	countOperation(op.String(), true, err)
	return doc, err
}

func (e *Engine) writeOnline(callCtx, ctx context.Context, gen uint64, op model.PendingOperation, t target, id string, body json.RawMessage, opts model.WriteOptions) (*model.Document, error) {
	message := "failed to create document"
	if op == model.OpReplace {
		message = "failed to replace document"
	}
	token, err := e.tokens.GetToken(callCtx, t.partition, t.snap)
	if err != nil {
		return nil, e.callError(ctx, gen, message, err)
	}

	doc := &model.Document{ID: id, Partition: t.qualified, Value: body}
	var result *model.Document
	if op == model.OpCreate {
		result, err = e.remote.Create(callCtx, token, doc)
	} else {
		result, err = e.remote.Replace(callCtx, token, doc)
	}
	if err != nil {
		return nil, e.callError(ctx, gen, message, err)
	}
	fillIdentity(result, t.qualified, id)
	if err := e.store.WriteOnline(callCtx, t.table, result, opts); err != nil {
		e.logger.Warn("Failed to cache confirmed document", "partition", t.qualified, "id", id, "error", err)
	}
	return result, nil
}

func fillIdentity(doc *model.Document, partition, id string) {
	if doc.Partition == "" {
		doc.Partition = partition
	}
	if doc.ID == "" {
		doc.ID = id
	}
}

// Read returns a document. A locally pending write is served from the device
// cache without a network call; otherwise the remote store is read while
// online and the device cache while offline.
func (e *Engine) Read(ctx context.Context, partition, id string, opts model.ReadOptions) (*model.Document, error) {
	t, err := e.resolveDocument(partition, id)
	if err != nil {
		return nil, err
	}
	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	online := e.network.Online()
	var doc *model.Document
	if online {
		doc, err = e.readOnline(callCtx, ctx, gen, t, id, opts)
	} else {
		var row *localstore.LocalDocument
		row, err = e.store.Read(callCtx, t.table, t.qualified, id, &opts)
		if err == nil {
			doc = row.ToDocument()
		}
	}
	countOperation("READ", online, err)
	return doc, err
}

func (e *Engine) readOnline(callCtx, ctx context.Context, gen uint64, t target, id string, opts model.ReadOptions) (*model.Document, error) {
	row, err := e.store.Lookup(callCtx, t.table, t.qualified, id)
	if err != nil {
		e.logger.Warn("Failed to check device cache", "partition", t.qualified, "id", id, "error", err)
		row = nil
	}
	if row != nil && row.PendingOperation.IsPending() {
		if row.PendingOperation == model.OpDelete {
			return nil, model.NewDataError("", model.ErrMarkedDeleted)
		}
		if !row.IsExpired(e.now()) {
			e.logger.Debug("Serving pending document from device cache", "partition", t.qualified, "id", id)
			return row.ToDocument(), nil
		}
	}

	token, err := e.tokens.GetToken(callCtx, t.partition, t.snap)
	if err != nil {
		return nil, e.callError(ctx, gen, "failed to read document", err)
	}
	doc, err := e.remote.Read(callCtx, token, id)
	if err != nil {
		return nil, e.callError(ctx, gen, "failed to read document", err)
	}
	fillIdentity(doc, t.qualified, id)
	if err := e.store.WriteOnline(callCtx, t.table, doc, model.WriteOptions{TTL: opts.TTL}); err != nil {
		e.logger.Warn("Failed to cache document", "partition", t.qualified, "id", id, "error", err)
	}
	return doc, nil
}

// Delete deletes a document. A document that only ever existed on this
// device is removed locally without a network call.
func (e *Engine) Delete(ctx context.Context, partition, id string, opts model.WriteOptions) (*model.Document, error) {
	t, err := e.resolveDocument(partition, id)
	if err != nil {
		return nil, err
	}
	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	online := e.network.Online()
	doc, err := e.delete(callCtx, ctx, gen, online, t, id, opts)
	countOperation(model.OpDelete.String(), online, err)
	return doc, err
}

func (e *Engine) delete(callCtx, ctx context.Context, gen uint64, online bool, t target, id string, opts model.WriteOptions) (*model.Document, error) {
	result := &model.Document{ID: id, Partition: t.qualified}

	row, err := e.store.Lookup(callCtx, t.table, t.qualified, id)
	if err != nil {
		if !online {
			return nil, err
		}
		e.logger.Warn("Failed to check device cache", "partition", t.qualified, "id", id, "error", err)
		row = nil
	}
	if row != nil && row.ETag == "" && (row.PendingOperation == model.OpCreate || row.PendingOperation == model.OpReplace) {
		if _, err := e.store.DeleteOnline(callCtx, t.table, t.qualified, id); err != nil {
			return nil, err
		}
		e.logger.Debug("Removed document that never reached the remote store", "partition", t.qualified, "id", id)
		result.FromDeviceCache = true
		return result, nil
	}

	if !online {
		if _, err := e.store.DeleteOffline(callCtx, t.table, t.qualified, id, opts); err != nil {
			return nil, err
		}
		result.FromDeviceCache = true
		result.PendingOperation = model.OpDelete
		return result, nil
	}

	token, err := e.tokens.GetToken(callCtx, t.partition, t.snap)
	if err != nil {
		return nil, e.callError(ctx, gen, "failed to delete document", err)
	}
	if err := e.remote.Delete(callCtx, token, id); err != nil {
		return nil, e.callError(ctx, gen, "failed to delete document", err)
	}
	if _, err := e.store.DeleteOnline(callCtx, t.table, t.qualified, id); err != nil {
		e.logger.Warn("Failed to remove deleted document from device cache", "partition", t.qualified, "id", id, "error", err)
	}
	return result, nil
}

// List returns the first page of a partition. Offline, or while local writes
// are pending, the page is built from the device cache and has no successor.
func (e *Engine) List(ctx context.Context, partition string, opts model.ReadOptions) (*Paginated, error) {
	t, err := e.resolve(partition)
	if err != nil {
		return nil, err
	}
	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	online := e.network.Online()
	p, err := e.list(callCtx, ctx, gen, online, t, opts)
	countOperation("LIST", online, err)
	return p, err
}

func (e *Engine) list(callCtx, ctx context.Context, gen uint64, online bool, t target, opts model.ReadOptions) (*Paginated, error) {
	local, err := e.store.DocumentsByPartition(callCtx, t.table, t.qualified, opts)
	if err != nil {
		if !online {
			return nil, err
		}
		e.logger.Warn("Failed to read device cache", "partition", t.qualified, "error", err)
		local = nil
	}
	if !online || localstore.HasPendingOperation(local) {
		return e.localPage(t, opts, local), nil
	}
	return e.fetchPage(callCtx, ctx, gen, t, opts, "")
}

func (e *Engine) localPage(t target, opts model.ReadOptions, rows []localstore.LocalDocument) *Paginated {
	page := &model.Page{Items: make([]model.Document, 0, len(rows))}
	for i := range rows {
		page.Items = append(page.Items, *rows[i].ToDocument())
	}
	return &Paginated{engine: e, target: t, opts: opts, page: page}
}

func (e *Engine) fetchPage(callCtx, ctx context.Context, gen uint64, t target, opts model.ReadOptions, continuation string) (*Paginated, error) {
	token, err := e.tokens.GetToken(callCtx, t.partition, t.snap)
	if err != nil {
		return nil, e.callError(ctx, gen, "failed to list documents", err)
	}
	page, next, err := e.remote.List(callCtx, token, continuation)
	if err != nil {
		return nil, e.callError(ctx, gen, "failed to list documents", err)
	}
	write := model.WriteOptions{TTL: opts.TTL}
	for i := range page.Items {
		item := &page.Items[i]
		if item.Err != nil {
			continue
		}
		if item.Partition == "" {
			item.Partition = t.qualified
		}
		if err := e.store.WriteOnline(callCtx, t.table, item, write); err != nil {
			e.logger.Warn("Failed to cache listed document", "partition", t.qualified, "id", item.ID, "error", err)
		}
	}
	return &Paginated{engine: e, target: t, opts: opts, page: page, continuation: next}, nil
}

// Paginated is a list result that can fetch further pages while online.
type Paginated struct {
	engine *Engine
	target target
	opts   model.ReadOptions

	mu           sync.Mutex
	page         *model.Page
	continuation string
}

// CurrentPage returns the most recently fetched page.
func (p *Paginated) CurrentPage() *model.Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.page
}

// HasNextPage reports whether the remote store announced another page.
func (p *Paginated) HasNextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.continuation != ""
}

// NextPage fetches the following page and makes it current. It fails with
// ErrOfflineNextPage without network.
func (p *Paginated) NextPage(ctx context.Context) (*model.Page, error) {
	e := p.engine
	if !e.network.Online() {
		return nil, model.NewDataError("", model.ErrOfflineNextPage)
	}
	p.mu.Lock()
	continuation := p.continuation
	p.mu.Unlock()
	if continuation == "" {
		return nil, model.NewDataError("", ErrNoNextPage)
	}

	callCtx, gen, done, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer done()
	next, err := e.fetchPage(callCtx, ctx, gen, p.target, p.opts, continuation)
	countOperation("LIST", true, err)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.page = next.page
	p.continuation = next.continuation
	p.mu.Unlock()
	return next.page, nil
}

// All walks every remaining page, returning the documents of the current
// page and all following ones.
func (p *Paginated) All(ctx context.Context) ([]model.Document, error) {
	docs := append([]model.Document(nil), p.CurrentPage().Items...)
	for p.HasNextPage() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return docs, err
		}
		docs = append(docs, page.Items...)
	}
	return docs, nil
}

// PendingOperations returns the rows waiting for replay in the readonly
// table and the signed-in user's table.
func (e *Engine) PendingOperations(ctx context.Context) ([]localstore.LocalDocument, error) {
	var out []localstore.LocalDocument
	for _, table := range e.tables(e.snapshot()) {
		rows, err := e.store.PendingOperations(ctx, table)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

func (e *Engine) tables(snap identity.Snapshot) []string {
	tables := []string{model.ReadonlyTable}
	if snap.SignedIn() {
		tables = append(tables, model.UserTableName(snap.AccountID))
	}
	return tables
}
