package mongo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/saks635/NL2SQL-Convertor/internal/apperr"
	"github.com/saks635/NL2SQL-Convertor/internal/connector"
	"github.com/saks635/NL2SQL-Convertor/internal/model"
)

// DefaultSampleSize is the number of documents read per collection when the
// spec does not set one.
const DefaultSampleSize = 50

// MongoConnector implements connector.Connector for MongoDB. Collections
// are reported as tables whose columns are inferred from sampled documents.
type MongoConnector struct {
	client *mongo.Client
	db     *mongo.Database
	spec   connector.ConnectionSpec
	owned  bool

	mu      sync.Mutex
	columns map[string]columnPaths // by collection
}

// columnPaths remembers how a collection's columns were flattened.
type columnPaths struct {
	order []string
	path  map[string]string
}

// New creates a new MongoConnector.
func New() connector.Connector {
	return &MongoConnector{}
}

// sharedClient is the Registry's pool: a mongo.Client already pools
// connections internally.
type sharedClient struct {
	client *mongo.Client
}

func (s *sharedClient) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *sharedClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Connect opens a private client for spec.
func (c *MongoConnector) Connect(ctx context.Context, spec connector.ConnectionSpec) error {
	shared, err := c.OpenShared(ctx, spec)
	if err != nil {
		return err
	}
	if err := c.Attach(shared, spec); err != nil {
		shared.Close()
		return err
	}
	c.owned = true
	return nil
}

// OpenShared connects a client and verifies it with a ping.
func (c *MongoConnector) OpenShared(ctx context.Context, spec connector.ConnectionSpec) (connector.Shared, error) {
	uri, err := BuildURI(spec)
	if err != nil {
		return nil, err
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)
	if spec.Pool.MaxOpenConns > 0 {
		opts.SetMaxPoolSize(uint64(spec.Pool.MaxOpenConns))
	}
	if spec.Pool.ConnMaxIdleTime > 0 {
		opts.SetMaxConnIdleTime(spec.Pool.ConnMaxIdleTime)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &sharedClient{client: client}, nil
}

// Attach borrows a shared client and selects the database named by spec.
func (c *MongoConnector) Attach(shared connector.Shared, spec connector.ConnectionSpec) error {
	sc, ok := shared.(*sharedClient)
	if !ok {
		return fmt.Errorf("attach: unexpected pool type %T", shared)
	}
	name, err := databaseName(spec)
	if err != nil {
		return err
	}
	c.client = sc.client
	c.db = sc.client.Database(name)
	c.spec = spec
	c.owned = false
	return nil
}

// BuildURI returns spec.DSN when set, or a mongodb:// URI built from the
// network parts.
func BuildURI(spec connector.ConnectionSpec) (string, error) {
	if spec.DSN != "" {
		if !strings.HasPrefix(spec.DSN, "mongodb://") && !strings.HasPrefix(spec.DSN, "mongodb+srv://") {
			return "", errors.New("mongo: invalid DSN, expected mongodb:// or mongodb+srv://")
		}
		return spec.DSN, nil
	}
	if spec.Host == "" {
		return "", errors.New("mongo: host is required")
	}
	port := spec.Port
	if port == 0 {
		port = 27017
	}
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(spec.Host, strconv.Itoa(port)), Path: "/"}
	if spec.User != "" {
		u.User = url.UserPassword(spec.User, spec.Password)
	}
	if spec.Database != "" {
		u.Path = "/" + spec.Database
	}
	q := url.Values{}
	for k, v := range spec.Options {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func databaseName(spec connector.ConnectionSpec) (string, error) {
	if spec.Database != "" {
		return spec.Database, nil
	}
	if spec.DSN != "" {
		cs, err := connstring.ParseAndValidate(spec.DSN)
		if err != nil {
			return "", errors.New("mongo: invalid DSN")
		}
		if cs.Database != "" {
			return cs.Database, nil
		}
	}
	return "", errors.New("mongo: database name is required")
}

// Disconnect releases the handle; an owned client is closed.
func (c *MongoConnector) Disconnect() error {
	client := c.client
	c.client, c.db = nil, nil
	if client == nil || !c.owned {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Disconnect(ctx)
}

// Ping verifies the server is reachable.
func (c *MongoConnector) Ping(ctx context.Context) error {
	if c.client == nil {
		return errors.New("not connected")
	}
	return c.client.Ping(ctx, readpref.Primary())
}

func (c *MongoConnector) sampleSize() int64 {
	if c.spec.SampleSize > 0 {
		return int64(c.spec.SampleSize)
	}
	return DefaultSampleSize
}

// IntrospectSchema lists collections and infers a table for each from at
// most SampleSize documents.
func (c *MongoConnector) IntrospectSchema(ctx context.Context) (*model.Schema, error) {
	if c.db == nil {
		return nil, errors.New("not connected")
	}
	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)

	schema := &model.Schema{Namespace: c.db.Name(), Tables: []model.Table{}}
	for _, name := range names {
		if c.IsSystemTable(name) {
			continue
		}
		table, err := c.sample(ctx, name)
		if err != nil {
			return nil, err
		}
		schema.Tables = append(schema.Tables, table)
	}
	return schema, nil
}

func (c *MongoConnector) sample(ctx context.Context, name string) (model.Table, error) {
	cur, err := c.db.Collection(name).Find(ctx, bson.D{}, options.Find().SetLimit(c.sampleSize()))
	if err != nil {
		return model.Table{}, fmt.Errorf("sample %s: %w", name, err)
	}
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return model.Table{}, fmt.Errorf("sample %s: %w", name, err)
	}

	table, paths := inferTable(name, docs)
	cp := columnPaths{path: paths}
	for _, col := range table.Columns {
		cp.order = append(cp.order, col.Name)
	}
	c.mu.Lock()
	if c.columns == nil {
		c.columns = make(map[string]columnPaths)
	}
	c.columns[name] = cp
	c.mu.Unlock()
	return table, nil
}

// resolverFor returns the column-to-path mapping for a collection, sampling
// it when the handle has not introspected it yet.
func (c *MongoConnector) resolverFor(ctx context.Context, collection string) (resolver, error) {
	cp, err := c.columnsOf(ctx, collection)
	if err != nil {
		return nil, err
	}
	return func(col string) string {
		if p, ok := cp.path[col]; ok {
			return p
		}
		return col
	}, nil
}

func (c *MongoConnector) columnsOf(ctx context.Context, collection string) (columnPaths, error) {
	c.mu.Lock()
	cp, ok := c.columns[collection]
	c.mu.Unlock()
	if ok {
		return cp, nil
	}
	if _, err := c.sample(ctx, collection); err != nil {
		return columnPaths{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.columns[collection], nil
}

// Execute answers a read-only SELECT subset with find or countDocuments.
// The cursor limit is rowLimit+1 so truncation can be reported.
func (c *MongoConnector) Execute(ctx context.Context, stmt model.Statement, rowLimit int) (*model.ExecutionResult, error) {
	if c.db == nil {
		return nil, apperr.New(apperr.KindConnection, "not connected")
	}
	if !stmt.Kind.ReadOnly() {
		return nil, apperr.New(apperr.KindExecution, "unsupported for document store: only SELECT is supported")
	}

	// Parse once to learn the collection, then again with its column paths.
	q, err := translate(stmt.Text, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindExecution, err.Error())
	}
	resolve, err := c.resolverFor(ctx, q.Collection)
	if err != nil {
		return nil, c.execError(err)
	}
	if q, err = translate(stmt.Text, resolve); err != nil {
		return nil, apperr.Wrap(err, apperr.KindExecution, err.Error())
	}

	coll := c.db.Collection(q.Collection)
	filter := q.Filter
	if filter == nil {
		filter = bson.D{}
	}

	if q.Count {
		n, err := coll.CountDocuments(ctx, filter)
		if err != nil {
			return nil, c.execError(err)
		}
		return &model.ExecutionResult{
			Headers:  []string{q.Fields[0].Header},
			Rows:     [][]any{{n}},
			RowCount: 1,
		}, nil
	}

	fields := q.Fields
	if q.All {
		fields = c.allFields(q.Collection)
	}
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = f.Header
	}
	result := &model.ExecutionResult{Headers: headers, Rows: [][]any{}}
	if q.HasLimit && q.Limit == 0 {
		return result, nil
	}

	limit := q.Limit
	capped := false
	if rowLimit > 0 && (limit == 0 || limit > int64(rowLimit)) {
		limit = int64(rowLimit) + 1
		capped = true
	}
	opts := options.Find().SetProjection(projection(fields))
	if limit > 0 {
		opts.SetLimit(limit)
	}
	if len(q.Sort) > 0 {
		opts.SetSort(q.Sort)
	}

	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, c.execError(err)
	}
	defer cur.Close(context.Background())

	for cur.Next(ctx) {
		if capped && len(result.Rows) == rowLimit {
			result.Truncated = true
			break
		}
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, c.execError(err)
		}
		row := make([]any, len(fields))
		for i, f := range fields {
			row[i] = coerce(lookup(doc, f.Path))
		}
		result.Rows = append(result.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, c.execError(err)
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// allFields expands * into every inferred column in schema order.
func (c *MongoConnector) allFields(collection string) []field {
	c.mu.Lock()
	cp := c.columns[collection]
	c.mu.Unlock()

	fields := make([]field, 0, len(cp.order))
	for _, col := range cp.order {
		fields = append(fields, field{Header: col, Path: cp.path[col]})
	}
	return fields
}

func projection(fields []field) bson.D {
	proj := bson.D{}
	hasID := false
	for _, f := range fields {
		if f.Path == "_id" {
			hasID = true
		}
		proj = append(proj, bson.E{Key: f.Path, Value: 1})
	}
	if !hasID {
		proj = append(proj, bson.E{Key: "_id", Value: 0})
	}
	return proj
}

func (c *MongoConnector) execError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return apperr.Wrap(err, apperr.KindExecution, c.spec.Redact(err.Error()))
}

// DriverName returns the driver identifier for MongoDB.
func (c *MongoConnector) DriverName() string { return "mongo" }

// QuoteIdentifier wraps a name in double quotes for the SELECT subset.
func (c *MongoConnector) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CaseInsensitive is false: collection and field names are case-sensitive.
func (c *MongoConnector) CaseInsensitive() bool { return false }

// IsSystemTable reports system.* collections.
func (c *MongoConnector) IsSystemTable(name string) bool {
	return strings.HasPrefix(name, "system.")
}
