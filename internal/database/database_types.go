package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("document does not exist")
	ErrDuplicateKey = errors.New("unique key conflicts")
	ErrUnauthorized = errors.New("not authorized")
	ErrTransient    = errors.New("transient connectivity failure")
	ErrDisconnected = errors.New("client is disconnected")
)

// Stats is the usage reported for one library: its top level collection plus
// every "<library>.*" sub collection.
type Stats struct {
	Size  int64
	Count int64
}

// Credential authenticates a client against Source.
type Credential struct {
	User     string
	Password string
	Source   string
}

// ConnectOptions carries the connection tuning of a Store.
type ConnectOptions struct {
	Hosts                  string
	AppName                string
	MaxPoolSize            uint64
	ConnectTimeout         time.Duration
	SocketTimeout          time.Duration
	ServerSelectionTimeout time.Duration
	AllowSecondary         bool
	UseTLS                 bool
}

type Connector interface {
	Connect(ctx context.Context, opts ConnectOptions) (Client, error)
}

type Client interface {
	Hosts() []string
	ListDatabaseNames(ctx context.Context) ([]string, error)
	Database(name string) Database
	// Authenticate makes subsequent Database(db) handles act as cred.
	Authenticate(ctx context.Context, db string, cred Credential) error
	Disconnect(ctx context.Context) error
}

type Database interface {
	Name() string
	ListCollectionNames(ctx context.Context) ([]string, error)
	Collection(name string) Collection
	RenameCollection(ctx context.Context, from, to string) error
	Stats(ctx context.Context, prefix string) (Stats, error)
}

type Collection interface {
	Name() string
	FindOne(ctx context.Context, filter any, out any) error
	// Find decodes every match into results, which must point to a slice.
	Find(ctx context.Context, filter any, results any) error
	InsertOne(ctx context.Context, doc any) error
	InsertMany(ctx context.Context, docs []any) error
	ReplaceOne(ctx context.Context, filter any, doc any, upsert bool) error
	UpdateOne(ctx context.Context, filter any, update any, upsert bool) error
	DeleteOne(ctx context.Context, filter any) (int64, error)
	DeleteMany(ctx context.Context, filter any) (int64, error)
	CountDocuments(ctx context.Context, filter any) (int64, error)
	Drop(ctx context.Context) error
}
