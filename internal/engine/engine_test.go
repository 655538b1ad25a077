package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/docsync/internal/connectivity"
	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/pkg/model"
)

type fakeTokens struct {
	mu      sync.Mutex
	err     error
	calls   int
	removed int
}

func (f *fakeTokens) GetToken(ctx context.Context, partition string, snap identity.Snapshot) (*model.TokenResult, error) {
	f.mu.Lock()
	f.calls++
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	qualified, err := model.ResolvePartition(partition, snap.AccountID)
	if err != nil {
		return nil, err
	}
	return &model.TokenResult{
		Partition:        qualified,
		DBAccount:        "account",
		DBName:           "db",
		DBCollectionName: "collection",
		Token:            "token-" + qualified,
		Status:           model.TokenStatusSucceed,
	}, nil
}

func (f *fakeTokens) RemoveAll(context.Context) error {
	f.mu.Lock()
	f.removed++
	f.mu.Unlock()
	return nil
}

func (f *fakeTokens) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeTokens) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRemote struct {
	mu       sync.Mutex
	docs     map[string]*model.Document
	calls    []string
	version  int
	canceled int
	fail     func(op, id string) error
	block    chan struct{}
	started  chan string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: make(map[string]*model.Document), started: make(chan string, 16)}
}

func (r *fakeRemote) enter(ctx context.Context, op, id string) error {
	r.mu.Lock()
	call := op + " " + id
	r.calls = append(r.calls, call)
	fail := r.fail
	block := r.block
	r.mu.Unlock()

	select {
	case r.started <- call:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			r.mu.Lock()
			r.canceled++
			r.mu.Unlock()
			return ctx.Err()
		}
	}
	if fail != nil {
		return fail(op, id)
	}
	return nil
}

func (r *fakeRemote) put(doc *model.Document) *model.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.version++
	stored := *doc
	stored.ETag = fmt.Sprintf("etag-%d", r.version)
	stored.FromDeviceCache = false
	stored.PendingOperation = model.OpNone
	r.docs[doc.ID] = &stored
	out := stored
	return &out
}

func (r *fakeRemote) Read(ctx context.Context, _ *model.TokenResult, id string) (*model.Document, error) {
	if err := r.enter(ctx, "READ", id); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, &remote.HTTPError{StatusCode: http.StatusNotFound, Method: http.MethodGet, Path: id}
	}
	out := *doc
	return &out, nil
}

func (r *fakeRemote) Create(ctx context.Context, _ *model.TokenResult, doc *model.Document) (*model.Document, error) {
	if err := r.enter(ctx, "CREATE", doc.ID); err != nil {
		return nil, err
	}
	return r.put(doc), nil
}

func (r *fakeRemote) Replace(ctx context.Context, _ *model.TokenResult, doc *model.Document) (*model.Document, error) {
	if err := r.enter(ctx, "REPLACE", doc.ID); err != nil {
		return nil, err
	}
	return r.put(doc), nil
}

func (r *fakeRemote) Delete(ctx context.Context, _ *model.TokenResult, id string) error {
	if err := r.enter(ctx, "DELETE", id); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.docs, id)
	r.mu.Unlock()
	return nil
}

const pageSize = 2

func (r *fakeRemote) List(ctx context.Context, _ *model.TokenResult, continuation string) (*model.Page, string, error) {
	if err := r.enter(ctx, "LIST", continuation); err != nil {
		return nil, "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if continuation != "" {
		start, _ = strconv.Atoi(continuation)
	}
	end := min(start+pageSize, len(ids))
	page := &model.Page{}
	for _, id := range ids[start:end] {
		page.Items = append(page.Items, *r.docs[id])
	}
	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return page, next, nil
}

func (r *fakeRemote) setFail(fn func(op, id string) error) {
	r.mu.Lock()
	r.fail = fn
	r.mu.Unlock()
}

func (r *fakeRemote) callLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *fakeRemote) canceledCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canceled
}

func failWith(status int) func(op, id string) error {
	return func(op, id string) error {
		return &remote.HTTPError{StatusCode: status, Method: op, Path: id}
	}
}

type recorder struct {
	mu      sync.Mutex
	results []model.OperationResult
}

func (r *recorder) OnOperationResult(result model.OperationResult) {
	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
}

func (r *recorder) all() []model.OperationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.OperationResult(nil), r.results...)
}

// pendingInjector adds rows to what the store reports as pending.
type pendingInjector struct {
	LocalStore
	extra     []localstore.LocalDocument
	duplicate bool
}

func (p *pendingInjector) PendingOperations(ctx context.Context, table string) ([]localstore.LocalDocument, error) {
	rows, err := p.LocalStore.PendingOperations(ctx, table)
	if err != nil {
		return nil, err
	}
	if p.duplicate {
		rows = append(rows, rows...)
	}
	if table == model.ReadonlyTable {
		rows = append(rows, p.extra...)
	}
	return rows, nil
}

type harness struct {
	engine  *Engine
	store   *localstore.Store
	tokens  *fakeTokens
	remote  *fakeRemote
	network *connectivity.Switch
	ident   *identity.Context
	events  *recorder
}

type harnessOption func(*Deps)

func newHarness(t *testing.T, online bool, opts ...harnessOption) *harness {
	t.Helper()
	cfg := localstore.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "documents.db")
	store, err := localstore.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ident, err := identity.NewContext(identity.DefaultConfig(), nil)
	require.NoError(t, err)

	h := &harness{
		store:   store,
		tokens:  &fakeTokens{},
		remote:  newFakeRemote(),
		network: connectivity.NewSwitch(online),
		ident:   ident,
		events:  &recorder{},
	}
	deps := Deps{
		Store:    store,
		Tokens:   h.tokens,
		Remote:   h.remote,
		Network:  h.network,
		Identity: ident,
		Listener: h.events,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.engine, err = New(Config{ReplayConcurrency: 4}, deps)
	require.NoError(t, err)
	require.NoError(t, h.engine.Enable(context.Background()))
	t.Cleanup(func() { _ = h.engine.Shutdown(context.Background()) })
	return h
}

func (h *harness) signIn(t *testing.T, account string) {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": account}).SignedString([]byte("test"))
	require.NoError(t, err)
	require.NoError(t, h.ident.SignIn(token))
}

// queue stores a pending write directly, bypassing the engine.
func (h *harness) queue(t *testing.T, id, body string, ttl model.TimeToLive) {
	t.Helper()
	_, err := h.store.CreateOrUpdateOffline(context.Background(), model.ReadonlyTable, model.ReadonlyPartition, id, []byte(body), model.WriteOptions{TTL: model.WithTTL(ttl)})
	require.NoError(t, err)
}

func (h *harness) lookup(t *testing.T, id string) *localstore.LocalDocument {
	t.Helper()
	row, err := h.store.Lookup(context.Background(), model.ReadonlyTable, model.ReadonlyPartition, id)
	require.NoError(t, err)
	return row
}

func (h *harness) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.remote.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("remote call %d did not start", i+1)
		}
	}
}

func ids(items []model.Document) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.ID)
	}
	return out
}

func TestEngine_New(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)

	_, err = New(Config{ReplayConcurrency: -1}, Deps{})
	assert.Error(t, err)
}

func TestEngine_RequiresEnable(t *testing.T) {
	h := newHarness(t, true)
	h.engine.Disable()
	assert.False(t, h.engine.Enabled())

	ctx := context.Background()
	_, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", map[string]int{"n": 1}, model.WriteOptions{})
	assert.ErrorIs(t, err, model.ErrDisabled)
	_, err = h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	assert.ErrorIs(t, err, model.ErrDisabled)
	assert.ErrorIs(t, h.engine.Drain(ctx), model.ErrDisabled)
	assert.Empty(t, h.remote.callLog())
}

func TestEngine_ArgumentErrors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	tests := []struct {
		name      string
		partition string
		id        string
		want      error
	}{
		{"user partition signed out", model.UserPartition, "a", model.ErrNotLoggedIn},
		{"unknown partition", "shared", "a", model.ErrInvalidPartition},
		{"invalid id", model.ReadonlyPartition, "a/b", model.ErrInvalidDocumentID},
		{"empty id", model.ReadonlyPartition, "", model.ErrInvalidDocumentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Create(ctx, tt.partition, tt.id, 1, model.WriteOptions{})
			assert.ErrorIs(t, err, tt.want)
			var dataErr *model.DataError
			assert.ErrorAs(t, err, &dataErr)

			_, err = h.engine.Read(ctx, tt.partition, tt.id, model.ReadOptions{})
			assert.ErrorIs(t, err, tt.want)
			_, err = h.engine.Delete(ctx, tt.partition, tt.id, model.WriteOptions{})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := h.engine.List(ctx, model.UserPartition, model.ReadOptions{})
	assert.ErrorIs(t, err, model.ErrNotLoggedIn)

	_, err = h.engine.Create(ctx, model.ReadonlyPartition, "a", json.RawMessage(`{broken`), model.WriteOptions{})
	assert.Error(t, err)

	assert.Zero(t, h.tokens.count())
	assert.Empty(t, h.remote.callLog())
}

func TestEngine_OnlineWriteThrough(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	doc, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", map[string]int{"n": 1}, model.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "etag-1", doc.ETag)
	assert.False(t, doc.FromDeviceCache)
	assert.Equal(t, []string{"CREATE a"}, h.remote.callLog())

	row := h.lookup(t, "a")
	require.NotNil(t, row)
	assert.Equal(t, model.OpNone, row.PendingOperation)
	assert.Equal(t, "etag-1", row.ETag)

	doc, err = h.engine.Replace(ctx, model.ReadonlyPartition, "a", map[string]int{"n": 2}, model.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "etag-2", doc.ETag)

	got, err := model.DecodeAs[map[string]int](doc)
	require.NoError(t, err)
	assert.Equal(t, 2, got["n"])

	pending, err := h.engine.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_OnlineFailureIsNotQueued(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.remote.setFail(failWith(http.StatusInternalServerError))

	_, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", 1, model.WriteOptions{})
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, model.StatusCode(err))

	assert.Nil(t, h.lookup(t, "a"))
	pending, err := h.engine.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_TokenFailureShortCircuits(t *testing.T) {
	h := newHarness(t, true)
	exchangeErr := errors.New("exchange unavailable")
	h.tokens.setErr(exchangeErr)

	_, err := h.engine.Create(context.Background(), model.ReadonlyPartition, "a", 1, model.WriteOptions{})
	assert.ErrorIs(t, err, exchangeErr)
	assert.Empty(t, h.remote.callLog())
}

func TestEngine_OfflineCreateReplaysWhenOnline(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	doc, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", map[string]string{"k": "v"}, model.WriteOptions{})
	require.NoError(t, err)
	assert.True(t, doc.FromDeviceCache)
	assert.Equal(t, model.OpCreate, doc.PendingOperation)

	read, err := h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(read.Value))
	assert.Equal(t, model.OpCreate, read.PendingOperation)
	assert.Empty(t, h.remote.callLog())

	h.network.Set(true)
	require.Eventually(t, func() bool { return len(h.events.all()) == 1 }, 5*time.Second, 10*time.Millisecond)

	result := h.events.all()[0]
	require.NoError(t, result.Err)
	assert.Equal(t, model.OpCreate, result.Operation)
	require.NotNil(t, result.Metadata)
	assert.Equal(t, "a", result.Metadata.ID)
	assert.Equal(t, "etag-1", result.Metadata.ETag)

	row := h.lookup(t, "a")
	require.NotNil(t, row)
	assert.Equal(t, model.OpNone, row.PendingOperation)
	assert.Equal(t, "etag-1", row.ETag)
	assert.JSONEq(t, `{"k":"v"}`, string(row.ToDocument().Value))
}

func TestEngine_OfflineDeleteMarksDocument(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	require.NoError(t, h.store.WriteOnline(ctx, model.ReadonlyTable, &model.Document{
		ID: "a", Partition: model.ReadonlyPartition, ETag: "etag-0", Value: json.RawMessage(`1`),
	}, model.WriteOptions{}))

	doc, err := h.engine.Delete(ctx, model.ReadonlyPartition, "a", model.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.OpDelete, doc.PendingOperation)

	_, err = h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	assert.ErrorIs(t, err, model.ErrMarkedDeleted)

	// writing over a pending delete becomes a replace of the cached version
	doc, err = h.engine.Create(ctx, model.ReadonlyPartition, "a", 2, model.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.OpReplace, doc.PendingOperation)
	assert.Equal(t, "etag-0", doc.ETag)
}

func TestEngine_ReadServesPendingRowOnline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.queue(t, "a", `{"local":true}`, model.TTLDefault)

	doc, err := h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, doc.FromDeviceCache)
	assert.JSONEq(t, `{"local":true}`, string(doc.Value))
	assert.Empty(t, h.remote.callLog())
	assert.Zero(t, h.tokens.count())
}

func TestEngine_ReadOnlineCachesForOffline(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.remote.put(&model.Document{ID: "a", Partition: model.ReadonlyPartition, Value: json.RawMessage(`"remote"`)})

	doc, err := h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	require.NoError(t, err)
	assert.False(t, doc.FromDeviceCache)
	assert.Equal(t, []string{"READ a"}, h.remote.callLog())

	_, err = h.engine.Read(ctx, model.ReadonlyPartition, "missing", model.ReadOptions{})
	assert.Equal(t, http.StatusNotFound, model.StatusCode(err))

	h.network.Set(false)
	doc, err = h.engine.Read(ctx, model.ReadonlyPartition, "a", model.ReadOptions{})
	require.NoError(t, err)
	assert.True(t, doc.FromDeviceCache)
	assert.Equal(t, "etag-1", doc.ETag)
	assert.JSONEq(t, `"remote"`, string(doc.Value))

	_, err = h.engine.Read(ctx, model.ReadonlyPartition, "missing", model.ReadOptions{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEngine_ReadNoCacheLeavesNothingBehind(t *testing.T) {
	h := newHarness(t, true)
	h.remote.put(&model.Document{ID: "a", Partition: model.ReadonlyPartition, Value: json.RawMessage(`1`)})

	_, err := h.engine.Read(context.Background(), model.ReadonlyPartition, "a", model.ReadOptions{TTL: model.WithTTL(model.TTLNoCache)})
	require.NoError(t, err)
	assert.Nil(t, h.lookup(t, "a"))
}

func TestEngine_DrainReplaysKeyOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.queue(t, "a", `1`, model.TTLDefault)
	h.remote.block = make(chan struct{})

	first := make(chan error, 1)
	go func() { first <- h.engine.Drain(ctx) }()
	h.waitStarted(t, 1)

	// a concurrent pass must not replay the key already in flight
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, []string{"CREATE a"}, h.remote.callLog())

	close(h.remote.block)
	require.NoError(t, <-first)
	assert.Len(t, h.events.all(), 1)

	// the key is released once the pass finishes
	require.NoError(t, h.engine.Drain(ctx))
	assert.Equal(t, []string{"CREATE a"}, h.remote.callLog())
}

func TestEngine_DuplicateRowsReplayedOnce(t *testing.T) {
	h := newHarness(t, true, func(d *Deps) {
		d.Store = &pendingInjector{LocalStore: d.Store, duplicate: true}
	})
	h.queue(t, "a", `1`, model.TTLDefault)

	require.NoError(t, h.engine.Drain(context.Background()))
	assert.Equal(t, []string{"CREATE a"}, h.remote.callLog())
	assert.Len(t, h.events.all(), 1)
}

func TestEngine_ExpiredPendingCreate(t *testing.T) {
	t.Run("success clears the marker", func(t *testing.T) {
		h := newHarness(t, true)
		h.queue(t, "a", `1`, -5)

		require.NoError(t, h.engine.Drain(context.Background()))
		results := h.events.all()
		require.Len(t, results, 1)
		assert.NoError(t, results[0].Err)

		row := h.lookup(t, "a")
		require.NotNil(t, row)
		assert.Equal(t, model.OpNone, row.PendingOperation)
	})

	t.Run("failure purges the row", func(t *testing.T) {
		h := newHarness(t, true)
		h.queue(t, "a", `1`, -5)
		h.remote.setFail(failWith(http.StatusServiceUnavailable))

		require.NoError(t, h.engine.Drain(context.Background()))
		results := h.events.all()
		require.Len(t, results, 1)
		assert.Equal(t, http.StatusServiceUnavailable, model.StatusCode(results[0].Err))
		assert.Equal(t, model.OpCreate, results[0].Operation)
		assert.Nil(t, h.lookup(t, "a"))

		require.NoError(t, h.engine.Drain(context.Background()))
		assert.Len(t, h.remote.callLog(), 1)
		assert.Len(t, h.events.all(), 1)
	})
}

func TestEngine_ReplayDeleteIsIdempotent(t *testing.T) {
	for _, status := range []int{http.StatusNotFound, http.StatusConflict} {
		t.Run(strconv.Itoa(status), func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()
			require.NoError(t, h.store.WriteOnline(ctx, model.ReadonlyTable, &model.Document{
				ID: "a", Partition: model.ReadonlyPartition, ETag: "etag-0", Value: json.RawMessage(`1`),
			}, model.WriteOptions{}))
			_, err := h.store.DeleteOffline(ctx, model.ReadonlyTable, model.ReadonlyPartition, "a", model.WriteOptions{})
			require.NoError(t, err)
			h.remote.setFail(failWith(status))

			require.NoError(t, h.engine.Drain(ctx))
			results := h.events.all()
			require.Len(t, results, 1)
			assert.NoError(t, results[0].Err)
			assert.Equal(t, model.OpDelete, results[0].Operation)
			assert.Nil(t, h.lookup(t, "a"))
		})
	}
}

func TestEngine_TerminalFailureAbandonsRow(t *testing.T) {
	h := newHarness(t, true)
	h.queue(t, "a", `1`, model.TTLDefault)
	h.remote.setFail(failWith(http.StatusBadRequest))

	require.NoError(t, h.engine.Drain(context.Background()))
	results := h.events.all()
	require.Len(t, results, 1)
	assert.Equal(t, http.StatusBadRequest, model.StatusCode(results[0].Err))
	assert.Nil(t, h.lookup(t, "a"))
}

func TestEngine_RecoverableFailureRetained(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.queue(t, "a", `1`, model.TTLDefault)

	for _, status := range []int{http.StatusServiceUnavailable, http.StatusUnauthorized, http.StatusTooManyRequests} {
		h.remote.setFail(failWith(status))
		require.NoError(t, h.engine.Drain(ctx))
		assert.Empty(t, h.events.all(), "status %d", status)
		row := h.lookup(t, "a")
		require.NotNil(t, row)
		assert.Equal(t, model.OpCreate, row.PendingOperation)
	}

	h.remote.setFail(nil)
	require.NoError(t, h.engine.Drain(ctx))
	require.Len(t, h.events.all(), 1)
	assert.Len(t, h.remote.callLog(), 4)
}

func TestEngine_TokenFailureDuringReplay(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.queue(t, "fresh", `1`, model.TTLDefault)
	h.queue(t, "stale", `2`, -5)
	exchangeErr := errors.New("exchange unavailable")
	h.tokens.setErr(exchangeErr)

	require.NoError(t, h.engine.Drain(ctx))
	results := h.events.all()
	require.Len(t, results, 2)
	for _, result := range results {
		assert.ErrorIs(t, result.Err, exchangeErr)
	}
	assert.Empty(t, h.remote.callLog())

	assert.NotNil(t, h.lookup(t, "fresh"), "unexpired row is kept")
	assert.Nil(t, h.lookup(t, "stale"), "expired row is purged")
}

func TestEngine_UnsupportedAndForeignRowsSkipped(t *testing.T) {
	h := newHarness(t, true, func(d *Deps) {
		d.Store = &pendingInjector{LocalStore: d.Store, extra: []localstore.LocalDocument{
			{Table: model.ReadonlyTable, Partition: model.ReadonlyPartition, ID: "patched", PendingOperation: model.OpUnsupported},
			{Table: model.ReadonlyTable, Partition: "user-someone", ID: "foreign", PendingOperation: model.OpCreate},
		}}
	})

	require.NoError(t, h.engine.Drain(context.Background()))
	assert.Empty(t, h.remote.callLog())
	assert.Empty(t, h.events.all())
}

func TestEngine_OfflineList(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	write := func(id string, ttl model.TimeToLive) {
		require.NoError(t, h.store.WriteOnline(ctx, model.ReadonlyTable, &model.Document{
			ID: id, Partition: model.ReadonlyPartition, ETag: "etag-" + id, Value: json.RawMessage(`{}`),
		}, model.WriteOptions{TTL: model.WithTTL(ttl)}))
	}
	write("A", model.TTLDefault)
	write("B", model.TTLDefault)
	write("C", -5)
	_, err := h.engine.Delete(ctx, model.ReadonlyPartition, "B", model.WriteOptions{})
	require.NoError(t, err)
	_, err = h.engine.Create(ctx, model.ReadonlyPartition, "D", map[string]int{}, model.WriteOptions{})
	require.NoError(t, err)

	p, err := h.engine.List(ctx, model.ReadonlyPartition, model.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D"}, ids(p.CurrentPage().Items))
	assert.False(t, p.HasNextPage())

	_, err = p.NextPage(ctx)
	assert.ErrorIs(t, err, model.ErrOfflineNextPage)
	assert.Empty(t, h.remote.callLog())
}

func TestEngine_OnlineList(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		h.remote.put(&model.Document{ID: id, Partition: model.ReadonlyPartition, Value: json.RawMessage(`{}`)})
	}

	p, err := h.engine.List(ctx, model.ReadonlyPartition, model.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(p.CurrentPage().Items))
	require.True(t, p.HasNextPage())

	page, err := p.NextPage(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, ids(page.Items))
	assert.False(t, p.HasNextPage())

	_, err = p.NextPage(ctx)
	assert.ErrorIs(t, err, ErrNoNextPage)

	assert.NotNil(t, h.lookup(t, "c"), "listed documents are cached")

	p, err = h.engine.List(ctx, model.ReadonlyPartition, model.ReadOptions{})
	require.NoError(t, err)
	all, err := p.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(all))
}

func TestEngine_OnlineListWithPendingWritesIsLocal(t *testing.T) {
	h := newHarness(t, true)
	h.remote.put(&model.Document{ID: "remote", Partition: model.ReadonlyPartition, Value: json.RawMessage(`{}`)})
	h.queue(t, "local", `{}`, model.TTLDefault)

	p, err := h.engine.List(context.Background(), model.ReadonlyPartition, model.ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"local"}, ids(p.CurrentPage().Items))
	assert.False(t, p.HasNextPage())
	assert.Empty(t, h.remote.callLog())
}

func TestEngine_DisableCancelsInFlightCalls(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.remote.block = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.engine.Create(ctx, model.ReadonlyPartition, id, 1, model.WriteOptions{})
		}()
	}
	h.waitStarted(t, 3)

	h.engine.Disable()
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, model.ErrDisabled)
	}
	assert.Equal(t, 3, h.remote.canceledCalls())
	assert.Empty(t, h.events.all())

	pending, err := h.store.PendingOperations(ctx, model.ReadonlyTable)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEngine_DisableCancelsReplay(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		h.queue(t, id, `1`, model.TTLDefault)
	}
	h.remote.block = make(chan struct{})

	drained := make(chan error, 1)
	go func() { drained <- h.engine.Drain(ctx) }()
	h.waitStarted(t, 3)

	h.engine.Disable()
	assert.ErrorIs(t, <-drained, model.ErrDisabled)
	assert.Equal(t, 3, h.remote.canceledCalls())
	assert.Empty(t, h.events.all())

	pending, err := h.store.PendingOperations(ctx, model.ReadonlyTable)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestEngine_ReplayKeepsWriteMadeDuringCall(t *testing.T) {
	t.Run("confirmed", func(t *testing.T) {
		h := newHarness(t, false)
		ctx := context.Background()
		_, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", map[string]string{"v": "1"}, model.WriteOptions{})
		require.NoError(t, err)

		block := make(chan struct{})
		h.remote.block = block
		h.network.Set(true)
		h.waitStarted(t, 1)

		h.network.Set(false)
		_, err = h.engine.Replace(ctx, model.ReadonlyPartition, "a", map[string]string{"v": "2"}, model.WriteOptions{})
		require.NoError(t, err)
		close(block)
		h.engine.drains.Wait()

		results := h.events.all()
		require.Len(t, results, 1)
		require.NoError(t, results[0].Err)
		assert.Equal(t, model.OpCreate, results[0].Operation)

		row := h.lookup(t, "a")
		require.NotNil(t, row)
		assert.Equal(t, model.OpReplace, row.PendingOperation)
		assert.JSONEq(t, `{"v":"2"}`, string(row.ToDocument().Value))

		h.network.Set(true)
		h.engine.drains.Wait()
		assert.Equal(t, []string{"CREATE a", "REPLACE a"}, h.remote.callLog())
		row = h.lookup(t, "a")
		require.NotNil(t, row)
		assert.Equal(t, model.OpNone, row.PendingOperation)
		assert.JSONEq(t, `{"v":"2"}`, string(row.ToDocument().Value))
	})

	t.Run("abandoned", func(t *testing.T) {
		h := newHarness(t, true)
		ctx := context.Background()
		h.queue(t, "a", `{"v":"1"}`, model.TTLDefault)
		h.remote.setFail(failWith(http.StatusBadRequest))
		block := make(chan struct{})
		h.remote.block = block

		drained := make(chan error, 1)
		go func() { drained <- h.engine.Drain(ctx) }()
		h.waitStarted(t, 1)

		h.network.Set(false)
		_, err := h.engine.Replace(ctx, model.ReadonlyPartition, "a", map[string]string{"v": "2"}, model.WriteOptions{})
		require.NoError(t, err)
		close(block)
		require.NoError(t, <-drained)

		results := h.events.all()
		require.Len(t, results, 1)
		assert.Equal(t, http.StatusBadRequest, model.StatusCode(results[0].Err))

		row := h.lookup(t, "a")
		require.NotNil(t, row)
		assert.Equal(t, model.OpReplace, row.PendingOperation)
		assert.JSONEq(t, `{"v":"2"}`, string(row.ToDocument().Value))
	})
}

func TestEngine_DeleteOfflineOnlyDocument(t *testing.T) {
	t.Run("online", func(t *testing.T) {
		h := newHarness(t, true)
		h.queue(t, "a", `1`, model.TTLDefault)

		doc, err := h.engine.Delete(context.Background(), model.ReadonlyPartition, "a", model.WriteOptions{})
		require.NoError(t, err)
		assert.True(t, doc.FromDeviceCache)
		assert.Nil(t, h.lookup(t, "a"))
		assert.Empty(t, h.remote.callLog())
	})

	t.Run("offline", func(t *testing.T) {
		h := newHarness(t, false)
		ctx := context.Background()
		_, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", 1, model.WriteOptions{})
		require.NoError(t, err)

		_, err = h.engine.Delete(ctx, model.ReadonlyPartition, "a", model.WriteOptions{})
		require.NoError(t, err)
		assert.Nil(t, h.lookup(t, "a"))

		pending, err := h.engine.PendingOperations(ctx)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})
}

func TestEngine_OnlineDelete(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.engine.Create(ctx, model.ReadonlyPartition, "a", 1, model.WriteOptions{})
	require.NoError(t, err)

	doc, err := h.engine.Delete(ctx, model.ReadonlyPartition, "a", model.WriteOptions{})
	require.NoError(t, err)
	assert.False(t, doc.FromDeviceCache)
	assert.Equal(t, []string{"CREATE a", "DELETE a"}, h.remote.callLog())
	assert.Nil(t, h.lookup(t, "a"))
}

func TestEngine_UserPartitionAndSignOut(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.signIn(t, "acc-1")

	doc, err := h.engine.Create(ctx, model.UserPartition, "u1", 1, model.WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "user-acc-1", doc.Partition)

	pending, err := h.engine.PendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.UserTableName("acc-1"), pending[0].Table)

	h.ident.SignOut()
	h.tokens.mu.Lock()
	assert.Equal(t, 1, h.tokens.removed)
	h.tokens.mu.Unlock()

	pending, err = h.engine.PendingOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	row, err := h.store.Lookup(ctx, model.UserTableName("acc-1"), "user-acc-1", "u1")
	require.NoError(t, err)
	assert.Nil(t, row, "user table is dropped on sign-out")

	_, err = h.engine.Create(ctx, model.UserPartition, "u2", 1, model.WriteOptions{})
	assert.ErrorIs(t, err, model.ErrNotLoggedIn)
}

func TestEngine_SignInDrainsUserTable(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.store.CreateOrUpdateOffline(ctx, model.UserTableName("acc-1"), "user-acc-1", "u1", []byte(`1`), model.WriteOptions{})
	require.NoError(t, err)

	h.signIn(t, "acc-1")
	require.Eventually(t, func() bool { return len(h.events.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "user-acc-1", h.events.all()[0].Partition)
	assert.Equal(t, []string{"CREATE u1"}, h.remote.callLog())
}

func TestEngine_StaleReplayResultDropped(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.signIn(t, "acc-1")
	h.engine.drains.Wait()
	h.queue(t, "a", `1`, model.TTLDefault)
	h.remote.block = make(chan struct{})

	drained := make(chan error, 1)
	go func() { drained <- h.engine.Drain(ctx) }()
	h.waitStarted(t, 1)

	h.ident.SignOut()
	assert.ErrorIs(t, <-drained, model.ErrCanceled)
	assert.True(t, h.engine.Enabled())
	assert.Empty(t, h.events.all())

	row := h.lookup(t, "a")
	require.NotNil(t, row)
	assert.Equal(t, model.OpCreate, row.PendingOperation)
}

func TestEngine_ListenerCanBeReplaced(t *testing.T) {
	h := newHarness(t, true)
	h.queue(t, "a", `1`, model.TTLDefault)

	var got []model.OperationResult
	h.engine.SetListener(ListenerFunc(func(r model.OperationResult) { got = append(got, r) }))
	require.NoError(t, h.engine.Drain(context.Background()))
	assert.Len(t, got, 1)
	assert.Empty(t, h.events.all())

	h.engine.SetListener(nil)
	h.queue(t, "b", `1`, model.TTLDefault)
	require.NoError(t, h.engine.Drain(context.Background()))
	assert.Len(t, got, 1)
}
