package database

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memoryCollectionData struct {
	docs []bson.M
}

// MemoryCluster is an in-process stand-in for a MongoDB deployment. Its data
// outlives the clients connected to it, so reconnects see prior writes.
type MemoryCluster struct {
	mu          sync.Mutex
	hosts       []string
	dbs         map[string]map[string]*memoryCollectionData
	denied      map[string]bool
	credentials map[string]Credential
	faults      int
	connects    int
	auths       []string
}

func NewMemoryCluster(hosts ...string) *MemoryCluster {
	if len(hosts) == 0 {
		hosts = []string{"localhost:27017"}
	}
	return &MemoryCluster{
		hosts:       hosts,
		dbs:         make(map[string]map[string]*memoryCollectionData),
		denied:      make(map[string]bool),
		credentials: make(map[string]Credential),
	}
}

// DenyDatabase rejects unauthenticated access to db with ErrUnauthorized.
func (mc *MemoryCluster) DenyDatabase(db string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.denied[db] = true
}

// AddUser makes Authenticate(db) succeed only for cred.
func (mc *MemoryCluster) AddUser(db string, cred Credential) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.credentials[db] = cred
}

// FailNext makes the next n operations fail with ErrTransient.
func (mc *MemoryCluster) FailNext(n int) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.faults = n
}

func (mc *MemoryCluster) Connects() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.connects
}

// Authentications lists the databases successfully authenticated against, in order.
func (mc *MemoryCluster) Authentications() []string {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return append([]string(nil), mc.auths...)
}

func (mc *MemoryCluster) takeFault() error {
	if mc.faults > 0 {
		mc.faults--
		return ErrTransient
	}
	return nil
}

func (mc *MemoryCluster) Connect(_ context.Context, _ ConnectOptions) (Client, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeFault(); err != nil {
		return nil, fmt.Errorf("error occured while connecting to database: %w", err)
	}
	mc.connects++
	return &memoryClient{cluster: mc, authed: make(map[string]bool)}, nil
}

type memoryClient struct {
	cluster *MemoryCluster
	authed  map[string]bool
	closed  bool
}

// check must be called with the cluster lock held.
func (c *memoryClient) check(db string) error {
	if c.closed {
		return ErrDisconnected
	}
	if err := c.cluster.takeFault(); err != nil {
		return err
	}
	if c.cluster.denied[db] && !c.authed[db] && !c.authed[adminDatabase] {
		return fmt.Errorf("not authorized on %s: %w", db, ErrUnauthorized)
	}
	return nil
}

func (c *memoryClient) Hosts() []string {
	return append([]string(nil), c.cluster.hosts...)
}

func (c *memoryClient) ListDatabaseNames(_ context.Context) ([]string, error) {
	c.cluster.mu.Lock()
	defer c.cluster.mu.Unlock()
	if err := c.check(adminDatabase); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.cluster.dbs))
	for name, colls := range c.cluster.dbs {
		if len(colls) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (c *memoryClient) Database(name string) Database {
	return &memoryDatabase{client: c, name: name}
}

func (c *memoryClient) Authenticate(_ context.Context, db string, cred Credential) error {
	c.cluster.mu.Lock()
	defer c.cluster.mu.Unlock()
	if c.closed {
		return ErrDisconnected
	}
	if err := c.cluster.takeFault(); err != nil {
		return err
	}
	if expected, ok := c.cluster.credentials[db]; ok {
		if expected.User != cred.User || expected.Password != cred.Password {
			return fmt.Errorf("authentication failed on %s: %w", db, ErrUnauthorized)
		}
	}
	c.authed[db] = true
	c.cluster.auths = append(c.cluster.auths, db)
	return nil
}

func (c *memoryClient) Disconnect(_ context.Context) error {
	c.cluster.mu.Lock()
	defer c.cluster.mu.Unlock()
	c.closed = true
	return nil
}

type memoryDatabase struct {
	client *memoryClient
	name   string
}

func (d *memoryDatabase) Name() string {
	return d.name
}

func (d *memoryDatabase) collections() map[string]*memoryCollectionData {
	colls, ok := d.client.cluster.dbs[d.name]
	if !ok {
		colls = make(map[string]*memoryCollectionData)
		d.client.cluster.dbs[d.name] = colls
	}
	return colls
}

func (d *memoryDatabase) ListCollectionNames(_ context.Context) ([]string, error) {
	d.client.cluster.mu.Lock()
	defer d.client.cluster.mu.Unlock()
	if err := d.client.check(d.name); err != nil {
		return nil, err
	}
	colls := d.client.cluster.dbs[d.name]
	names := make([]string, 0, len(colls))
	for name := range colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *memoryDatabase) Collection(name string) Collection {
	return &memoryCollection{db: d, name: name}
}

func (d *memoryDatabase) RenameCollection(_ context.Context, from, to string) error {
	d.client.cluster.mu.Lock()
	defer d.client.cluster.mu.Unlock()
	if err := d.client.check(d.name); err != nil {
		return err
	}
	colls := d.collections()
	data, ok := colls[from]
	if !ok {
		return fmt.Errorf("renameCollection: source namespace %s.%s does not exist", d.name, from)
	}
	if _, exists := colls[to]; exists {
		return fmt.Errorf("renameCollection: target namespace %s.%s exists", d.name, to)
	}
	colls[to] = data
	delete(colls, from)
	return nil
}

func (d *memoryDatabase) Stats(_ context.Context, prefix string) (Stats, error) {
	d.client.cluster.mu.Lock()
	defer d.client.cluster.mu.Unlock()
	if err := d.client.check(d.name); err != nil {
		return Stats{}, err
	}
	var stats Stats
	for name, data := range d.client.cluster.dbs[d.name] {
		if !belongsTo(name, prefix) {
			continue
		}
		for _, doc := range data.docs {
			raw, err := bson.Marshal(doc)
			if err != nil {
				return Stats{}, err
			}
			stats.Size += int64(len(raw))
			stats.Count++
		}
	}
	return stats, nil
}

type memoryCollection struct {
	db   *memoryDatabase
	name string
}

func (c *memoryCollection) Name() string {
	return c.name
}

// lock acquires the cluster lock and validates access; callers must unlock.
func (c *memoryCollection) lock() (func(), error) {
	cluster := c.db.client.cluster
	cluster.mu.Lock()
	if err := c.db.client.check(c.db.name); err != nil {
		cluster.mu.Unlock()
		return nil, err
	}
	return cluster.mu.Unlock, nil
}

func (c *memoryCollection) data(create bool) *memoryCollectionData {
	colls := c.db.client.cluster.dbs[c.db.name]
	if data, ok := colls[c.name]; ok {
		return data
	}
	if !create {
		return nil
	}
	data := &memoryCollectionData{}
	c.db.collections()[c.name] = data
	return data
}

func (c *memoryCollection) matching(filter bson.M, limit int) []int {
	data := c.data(false)
	if data == nil {
		return nil
	}
	var idx []int
	for i, doc := range data.docs {
		if matches(doc, filter) {
			idx = append(idx, i)
			if limit > 0 && len(idx) == limit {
				break
			}
		}
	}
	return idx
}

func (c *memoryCollection) FindOne(_ context.Context, filter any, out any) error {
	f, err := toDoc(filter)
	if err != nil {
		return err
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	idx := c.matching(f, 1)
	if len(idx) == 0 {
		return ErrNotFound
	}
	raw, err := bson.Marshal(c.data(false).docs[idx[0]])
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, out)
}

func (c *memoryCollection) Find(_ context.Context, filter any, results any) error {
	f, err := toDoc(filter)
	if err != nil {
		return err
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	arr := bson.A{}
	for _, i := range c.matching(f, 0) {
		arr = append(arr, c.data(false).docs[i])
	}
	raw, err := bson.Marshal(bson.M{"v": arr})
	if err != nil {
		return err
	}
	return bson.Raw(raw).Lookup("v").Unmarshal(results)
}

func (c *memoryCollection) insert(doc any) error {
	d, err := toDoc(doc)
	if err != nil {
		return err
	}
	if _, ok := d["_id"]; !ok {
		d["_id"] = primitive.NewObjectID()
	}
	data := c.data(true)
	for _, existing := range data.docs {
		if valuesEqual(existing["_id"], d["_id"]) {
			return fmt.Errorf("insert %s.%s: %w", c.db.name, c.name, ErrDuplicateKey)
		}
	}
	data.docs = append(data.docs, d)
	return nil
}

func (c *memoryCollection) InsertOne(_ context.Context, doc any) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()
	return c.insert(doc)
}

func (c *memoryCollection) InsertMany(_ context.Context, docs []any) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()
	for _, doc := range docs {
		if err := c.insert(doc); err != nil {
			return err
		}
	}
	return nil
}

func (c *memoryCollection) ReplaceOne(_ context.Context, filter any, doc any, upsert bool) error {
	f, err := toDoc(filter)
	if err != nil {
		return err
	}
	replacement, err := toDoc(doc)
	if err != nil {
		return err
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	idx := c.matching(f, 1)
	if len(idx) == 0 {
		if !upsert {
			return nil
		}
		if _, ok := replacement["_id"]; !ok {
			if id, ok := equalityFields(f)["_id"]; ok {
				replacement["_id"] = id
			}
		}
		return c.insert(replacement)
	}
	data := c.data(false)
	replacement["_id"] = data.docs[idx[0]]["_id"]
	data.docs[idx[0]] = replacement
	return nil
}

func (c *memoryCollection) UpdateOne(_ context.Context, filter any, update any, upsert bool) error {
	f, err := toDoc(filter)
	if err != nil {
		return err
	}
	u, err := toDoc(update)
	if err != nil {
		return err
	}
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()

	idx := c.matching(f, 1)
	if len(idx) == 0 {
		if !upsert {
			return nil
		}
		doc := equalityFields(f)
		if err := applyUpdate(doc, u, true); err != nil {
			return err
		}
		return c.insert(doc)
	}
	return applyUpdate(c.data(false).docs[idx[0]], u, false)
}

func (c *memoryCollection) remove(filter any, limit int) (int64, error) {
	f, err := toDoc(filter)
	if err != nil {
		return 0, err
	}
	unlock, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()

	idx := c.matching(f, limit)
	if len(idx) == 0 {
		return 0, nil
	}
	data := c.data(false)
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := data.docs[:0]
	for i, doc := range data.docs {
		if !drop[i] {
			kept = append(kept, doc)
		}
	}
	data.docs = kept
	return int64(len(idx)), nil
}

func (c *memoryCollection) DeleteOne(_ context.Context, filter any) (int64, error) {
	return c.remove(filter, 1)
}

func (c *memoryCollection) DeleteMany(_ context.Context, filter any) (int64, error) {
	return c.remove(filter, 0)
}

func (c *memoryCollection) CountDocuments(_ context.Context, filter any) (int64, error) {
	f, err := toDoc(filter)
	if err != nil {
		return 0, err
	}
	unlock, err := c.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	return int64(len(c.matching(f, 0))), nil
}

func (c *memoryCollection) Drop(_ context.Context) error {
	unlock, err := c.lock()
	if err != nil {
		return err
	}
	defer unlock()
	colls := c.db.client.cluster.dbs[c.db.name]
	delete(colls, c.name)
	if len(colls) == 0 {
		delete(c.db.client.cluster.dbs, c.db.name)
	}
	return nil
}

// toDoc normalises any BSON-marshalable value into a detached bson.M.
func toDoc(v any) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

// asM accepts the document shapes the driver may decode nested values into.
func asM(v any) (bson.M, bool) {
	switch d := v.(type) {
	case bson.M:
		return d, true
	case map[string]any:
		return d, true
	case bson.D:
		m := make(bson.M, len(d))
		for _, e := range d {
			m[e.Key] = e.Value
		}
		return m, true
	}
	return nil, false
}

func asA(v any) (bson.A, bool) {
	switch a := v.(type) {
	case bson.A:
		return a, true
	case []any:
		return a, true
	}
	return nil, false
}

func isOperatorDoc(v any) (bson.M, bool) {
	m, ok := asM(v)
	if !ok || len(m) == 0 {
		return nil, false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return nil, false
		}
	}
	return m, true
}

func equalityFields(filter bson.M) bson.M {
	doc := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if _, ok := isOperatorDoc(v); ok {
			continue
		}
		doc[k] = v
	}
	return doc
}

func matches(doc bson.M, filter bson.M) bool {
	for key, cond := range filter {
		value, present := doc[key]
		if ops, ok := isOperatorDoc(cond); ok {
			if !matchOperators(value, present, ops) {
				return false
			}
			continue
		}
		if !present || !matchValue(value, cond) {
			return false
		}
	}
	return true
}

// matchValue applies MongoDB's rule that a scalar condition matches any
// element of an array field.
func matchValue(value, cond any) bool {
	if valuesEqual(value, cond) {
		return true
	}
	if arr, ok := asA(value); ok {
		for _, elem := range arr {
			if valuesEqual(elem, cond) {
				return true
			}
		}
	}
	return false
}

func matchOperators(value any, present bool, ops bson.M) bool {
	for op, arg := range ops {
		switch op {
		case "$exists":
			want, _ := arg.(bool)
			if present != want {
				return false
			}
		case "$ne":
			if present && matchValue(value, arg) {
				return false
			}
		case "$in":
			arr, _ := asA(arg)
			found := false
			for _, candidate := range arr {
				if present && matchValue(value, candidate) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		case "$gt", "$gte", "$lt", "$lte":
			if !present {
				return false
			}
			cmp, ok := compareValues(value, arg)
			if !ok {
				return false
			}
			switch op {
			case "$gt":
				if cmp <= 0 {
					return false
				}
			case "$gte":
				if cmp < 0 {
					return false
				}
			case "$lt":
				if cmp >= 0 {
					return false
				}
			case "$lte":
				if cmp > 0 {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1, true
			case fa > fb:
				return 1, true
			}
			return 0, true
		}
	}
	if da, ok := a.(primitive.DateTime); ok {
		if db, ok := b.(primitive.DateTime); ok {
			switch {
			case da < db:
				return -1, true
			case da > db:
				return 1, true
			}
			return 0, true
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb), true
		}
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

var errNotAtomic = errors.New("update document must contain atomic operators")

func applyUpdate(doc bson.M, update bson.M, inserting bool) error {
	for op, arg := range update {
		fields, ok := asM(arg)
		if !ok {
			return errNotAtomic
		}
		switch op {
		case "$set":
			for k, v := range fields {
				doc[k] = v
			}
		case "$setOnInsert":
			if inserting {
				for k, v := range fields {
					doc[k] = v
				}
			}
		case "$unset":
			for k := range fields {
				delete(doc, k)
			}
		case "$inc":
			for k, v := range fields {
				doc[k] = addNumbers(doc[k], v)
			}
		case "$push":
			for k, v := range fields {
				arr, _ := asA(doc[k])
				if each, ok := asM(v); ok {
					if items, ok := asA(each["$each"]); ok {
						arr = append(arr, items...)
						doc[k] = arr
						continue
					}
				}
				doc[k] = append(arr, v)
			}
		case "$pull":
			for k, v := range fields {
				arr, _ := asA(doc[k])
				kept := bson.A{}
				for _, elem := range arr {
					if !pullMatches(elem, v) {
						kept = append(kept, elem)
					}
				}
				doc[k] = kept
			}
		default:
			if !strings.HasPrefix(op, "$") {
				return errNotAtomic
			}
			return fmt.Errorf("unsupported update operator %s", op)
		}
	}
	return nil
}

func pullMatches(elem, cond any) bool {
	if ops, ok := isOperatorDoc(cond); ok {
		return matchOperators(elem, true, ops)
	}
	return valuesEqual(elem, cond)
}

func addNumbers(current, delta any) any {
	ci, cInt := current.(int64)
	if current == nil {
		ci, cInt = 0, true
	} else if c32, ok := current.(int32); ok {
		ci, cInt = int64(c32), true
	}
	switch d := delta.(type) {
	case int32:
		if cInt {
			return ci + int64(d)
		}
	case int64:
		if cInt {
			return ci + d
		}
	}
	cf, _ := toFloat(current)
	df, _ := toFloat(delta)
	return cf + df
}
