package database

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/life-stream-dev/argus/internal/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const adminDatabase = "admin"

// MongoConnector dials real MongoDB deployments.
type MongoConnector struct{}

func NewMongoConnector() *MongoConnector {
	return &MongoConnector{}
}

func mongoURI(hosts string) string {
	if strings.HasPrefix(hosts, "mongodb://") || strings.HasPrefix(hosts, "mongodb+srv://") {
		return hosts
	}
	return "mongodb://" + hosts
}

func clientOptions(opts ConnectOptions) *options.ClientOptions {
	clientOptions := options.Client().ApplyURI(mongoURI(opts.Hosts))
	if opts.AppName != "" {
		clientOptions.SetAppName(opts.AppName)
	}
	if opts.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(opts.MaxPoolSize)
	}
	if opts.ConnectTimeout > 0 {
		clientOptions.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.SocketTimeout > 0 {
		clientOptions.SetSocketTimeout(opts.SocketTimeout)
	}
	if opts.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(opts.ServerSelectionTimeout)
	}
	if opts.AllowSecondary {
		clientOptions.SetReadPreference(readpref.Nearest())
	} else {
		clientOptions.SetReadPreference(readpref.Primary())
	}
	if opts.UseTLS {
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			switch evt.Type {
			case event.ConnectionCreated:
				logger.DebugF("Database connection created: %s #%d", evt.Address, evt.ConnectionID)
			case event.ConnectionClosed:
				logger.DebugF("Database connection closed: %s #%d (%s)", evt.Address, evt.ConnectionID, evt.Reason)
			}
		},
	})
	return clientOptions
}

func connectAndPing(ctx context.Context, clientOptions *options.ClientOptions) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	if err = client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("error occured while pinging database: %w", err)
	}
	return client, nil
}

func (mc *MongoConnector) Connect(ctx context.Context, opts ConnectOptions) (Client, error) {
	logger.DebugF("Connecting to database %s...", opts.Hosts)
	clientOptions := clientOptions(opts)

	client, err := connectAndPing(ctx, clientOptions)
	if err != nil {
		return nil, err
	}
	return &mongoClient{
		base:    client,
		options: clientOptions,
		authed:  make(map[string]*mongo.Client),
	}, nil
}

// mongoClient keeps one driver client per authenticated database because the
// driver only authenticates during the connection handshake.
type mongoClient struct {
	base    *mongo.Client
	options *options.ClientOptions
	mu      sync.RWMutex
	authed  map[string]*mongo.Client
}

func (c *mongoClient) Hosts() []string {
	return append([]string(nil), c.options.Hosts...)
}

func (c *mongoClient) clientFor(db string) *mongo.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if client, ok := c.authed[db]; ok {
		return client
	}
	if client, ok := c.authed[adminDatabase]; ok {
		return client
	}
	return c.base
}

func (c *mongoClient) ListDatabaseNames(ctx context.Context) ([]string, error) {
	names, err := c.clientFor(adminDatabase).ListDatabaseNames(ctx, bson.D{})
	return names, wrapError("listDatabases", err)
}

func (c *mongoClient) Database(name string) Database {
	return &mongoDatabase{db: c.clientFor(name).Database(name)}
}

func (c *mongoClient) Authenticate(ctx context.Context, db string, cred Credential) error {
	source := cred.Source
	if source == "" {
		source = db
	}
	authOptions := *c.options
	authOptions.SetAuth(options.Credential{
		Username:   cred.User,
		Password:   cred.Password,
		AuthSource: source,
	})

	client, err := connectAndPing(ctx, &authOptions)
	if err != nil {
		return fmt.Errorf("authenticating against %s: %w", db, err)
	}

	c.mu.Lock()
	previous := c.authed[db]
	c.authed[db] = client
	c.mu.Unlock()

	if previous != nil {
		_ = previous.Disconnect(ctx)
	}
	return nil
}

func (c *mongoClient) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	clients := make([]*mongo.Client, 0, len(c.authed)+1)
	for _, client := range c.authed {
		clients = append(clients, client)
	}
	c.authed = make(map[string]*mongo.Client)
	c.mu.Unlock()

	clients = append(clients, c.base)
	var firstErr error
	for _, client := range clients {
		if err := client.Disconnect(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type mongoDatabase struct {
	db *mongo.Database
}

func (d *mongoDatabase) Name() string {
	return d.db.Name()
}

func (d *mongoDatabase) ListCollectionNames(ctx context.Context) ([]string, error) {
	names, err := d.db.ListCollectionNames(ctx, bson.D{})
	return names, wrapError("listCollections", err)
}

func (d *mongoDatabase) Collection(name string) Collection {
	return &mongoCollection{coll: d.db.Collection(name)}
}

func (d *mongoDatabase) RenameCollection(ctx context.Context, from, to string) error {
	cmd := bson.D{
		{Key: "renameCollection", Value: d.db.Name() + "." + from},
		{Key: "to", Value: d.db.Name() + "." + to},
	}
	err := d.db.Client().Database(adminDatabase).RunCommand(ctx, cmd).Err()
	return wrapError("renameCollection", err)
}

func (d *mongoDatabase) Stats(ctx context.Context, prefix string) (Stats, error) {
	names, err := d.ListCollectionNames(ctx)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	for _, name := range names {
		if !belongsTo(name, prefix) {
			continue
		}
		var result bson.M
		err := d.db.RunCommand(ctx, bson.D{{Key: "collStats", Value: name}}).Decode(&result)
		if err != nil {
			return Stats{}, wrapError("collStats", err)
		}
		stats.Size += ToInt64(result["size"])
		stats.Count += ToInt64(result["count"])
	}
	return stats, nil
}

// belongsTo reports whether collection name is prefix itself or one of its
// "prefix.*" sub collections.
func belongsTo(name, prefix string) bool {
	return name == prefix || strings.HasPrefix(name, prefix+".")
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Name() string {
	return c.coll.Name()
}

func (c *mongoCollection) FindOne(ctx context.Context, filter any, out any) error {
	startTime := time.Now()
	err := c.coll.FindOne(ctx, filter).Decode(out)
	logger.DebugF("%s query cost: %v", c.coll.Name(), time.Since(startTime))
	return wrapError("find", err)
}

func (c *mongoCollection) Find(ctx context.Context, filter any, results any) error {
	cursor, err := c.coll.Find(ctx, filter)
	if err != nil {
		return wrapError("find", err)
	}
	return wrapError("find", cursor.All(ctx, results))
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc any) error {
	_, err := c.coll.InsertOne(ctx, doc)
	return wrapError("insert", err)
}

func (c *mongoCollection) InsertMany(ctx context.Context, docs []any) error {
	_, err := c.coll.InsertMany(ctx, docs)
	return wrapError("insert", err)
}

func (c *mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any, upsert bool) error {
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(upsert))
	return wrapError("replace", err)
}

func (c *mongoCollection) UpdateOne(ctx context.Context, filter any, update any, upsert bool) error {
	_, err := c.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(upsert))
	return wrapError("update", err)
}

func (c *mongoCollection) DeleteOne(ctx context.Context, filter any) (int64, error) {
	result, err := c.coll.DeleteOne(ctx, filter)
	if err != nil {
		return 0, wrapError("delete", err)
	}
	return result.DeletedCount, nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	result, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrapError("delete", err)
	}
	return result.DeletedCount, nil
}

func (c *mongoCollection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	count, err := c.coll.CountDocuments(ctx, filter)
	return count, wrapError("count", err)
}

func (c *mongoCollection) Drop(ctx context.Context) error {
	return wrapError("drop", c.coll.Drop(ctx))
}

// ToInt64 converts the numeric types BSON decoding produces.
func ToInt64(v any) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}
