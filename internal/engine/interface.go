package engine

import (
	"context"
	"encoding/json"

	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/pkg/model"
)

// Service is the data surface offered to host applications.
type Service interface {
	Create(ctx context.Context, partition, id string, value any, opts model.WriteOptions) (*model.Document, error)
	Replace(ctx context.Context, partition, id string, value any, opts model.WriteOptions) (*model.Document, error)
	Read(ctx context.Context, partition, id string, opts model.ReadOptions) (*model.Document, error)
	Delete(ctx context.Context, partition, id string, opts model.WriteOptions) (*model.Document, error)
	List(ctx context.Context, partition string, opts model.ReadOptions) (*Paginated, error)
	PendingOperations(ctx context.Context) ([]localstore.LocalDocument, error)
	Drain(ctx context.Context) error
}

// LocalStore is the device document cache.
type LocalStore interface {
	Read(ctx context.Context, table, partition, id string, opts *model.ReadOptions) (*localstore.LocalDocument, error)
	Lookup(ctx context.Context, table, partition, id string) (*localstore.LocalDocument, error)
	CreateOrUpdateOffline(ctx context.Context, table, partition, id string, value []byte, opts model.WriteOptions) (*model.Document, error)
	WriteOnline(ctx context.Context, table string, doc *model.Document, opts model.WriteOptions) error
	DeleteOffline(ctx context.Context, table, partition, id string, opts model.WriteOptions) (bool, error)
	DeleteOnline(ctx context.Context, table, partition, id string) (bool, error)
	PendingOperations(ctx context.Context, table string) ([]localstore.LocalDocument, error)
	DocumentsByPartition(ctx context.Context, table, partition string, opts model.ReadOptions) ([]localstore.LocalDocument, error)
	ConfirmPending(ctx context.Context, row localstore.LocalDocument, etag string, document json.RawMessage) (bool, error)
	DeletePending(ctx context.Context, row localstore.LocalDocument) (bool, error)
	CreateTable(ctx context.Context, table string) error
	DropTable(ctx context.Context, table string) error
}

// TokenSource resolves partitions to remote store credentials.
type TokenSource interface {
	GetToken(ctx context.Context, partition string, id identity.Snapshot) (*model.TokenResult, error)
	RemoveAll(ctx context.Context) error
}

// RemoteStore issues document calls against the remote store.
type RemoteStore interface {
	Read(ctx context.Context, token *model.TokenResult, id string) (*model.Document, error)
	Create(ctx context.Context, token *model.TokenResult, doc *model.Document) (*model.Document, error)
	Replace(ctx context.Context, token *model.TokenResult, doc *model.Document) (*model.Document, error)
	Delete(ctx context.Context, token *model.TokenResult, id string) error
	List(ctx context.Context, token *model.TokenResult, continuation string) (*model.Page, string, error)
}

// IdentitySource exposes the signed-in account.
type IdentitySource interface {
	Snapshot() identity.Snapshot
	Subscribe(fn func(identity.Change)) func()
}

// Listener receives the terminal outcome of every replayed pending operation.
type Listener interface {
	OnOperationResult(result model.OperationResult)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(result model.OperationResult)

func (f ListenerFunc) OnOperationResult(result model.OperationResult) { f(result) }
