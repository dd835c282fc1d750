package dbclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"curator/internal/domain"
	"curator/internal/etl"
)

// mongoConnector implements Connector for MongoDB.
type mongoConnector struct {
	client *mongo.Client
	dbName string
}

// mongoQuery is the JSON structure users write for MongoDB reads.
// Sub-documents stay raw so they can be decoded as Extended JSON with their
// key order intact (sort order depends on it).
type mongoQuery struct {
	Collection string          `json:"collection"`
	Operation  string          `json:"operation,omitempty"` // find (default) | aggregate
	Filter     json.RawMessage `json:"filter,omitempty"`
	Projection json.RawMessage `json:"projection,omitempty"`
	Sort       json.RawMessage `json:"sort,omitempty"`
	Pipeline   json.RawMessage `json:"pipeline,omitempty"`
}

func newMongoConnector(conn *domain.DatabaseConnection, password string) (*mongoConnector, error) {
	uri := buildMongoURI(conn, password)
	dbName := conn.Database
	if dbName == "" {
		dbName = mongoDatabaseFromURI(uri)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	log.Printf("dbclient: mongo client for %s (database %s)", redactPassword(uri, password), dbName)
	return &mongoConnector{client: client, dbName: dbName}, nil
}

// buildMongoURI accepts either a full mongodb:// / mongodb+srv:// string in
// Host or separate host/port fields.
func buildMongoURI(conn *domain.DatabaseConnection, password string) string {
	if strings.HasPrefix(conn.Host, "mongodb+srv://") || strings.HasPrefix(conn.Host, "mongodb://") {
		uri := conn.Host
		if password != "" {
			uri = strings.ReplaceAll(uri, "<password>", url.QueryEscape(password))
			uri = strings.ReplaceAll(uri, "<db_password>", url.QueryEscape(password))
		}
		return uri
	}

	port := conn.Port
	if port == 0 {
		port = domain.DatabaseDriverMongoDB.DefaultPort()
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", conn.Host, port), Path: "/"}
	if conn.Username != "" {
		u.User = url.UserPassword(conn.Username, password)
	}

	// extraJson carries options such as authSource or replicaSet.
	if conn.ExtraJSON != "" && conn.ExtraJSON != "{}" {
		var extras map[string]string
		if json.Unmarshal([]byte(conn.ExtraJSON), &extras) == nil && len(extras) > 0 {
			q := url.Values{}
			for k, v := range extras {
				q.Set(k, v)
			}
			u.RawQuery = q.Encode()
		}
	}
	return u.String()
}

// mongoDatabaseFromURI extracts the path database of a URI, or "test".
func mongoDatabaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "test"
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		return db
	}
	return "test"
}

func redactPassword(uri, password string) string {
	if password == "" {
		return uri
	}
	uri = strings.ReplaceAll(uri, url.QueryEscape(password), "***")
	return strings.ReplaceAll(uri, password, "***")
}

// decodeExtJSON decodes a relaxed Extended JSON document ($oid, $date, ...)
// into an ordered bson.D. Empty input yields an empty document.
func decodeExtJSON(raw json.RawMessage) (bson.D, error) {
	doc := bson.D{}
	if len(raw) == 0 || string(raw) == "null" {
		return doc, nil
	}
	if err := bson.UnmarshalExtJSON(raw, false, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodePipeline decodes an aggregation pipeline (a JSON array of stages).
func decodePipeline(raw json.RawMessage) ([]bson.D, error) {
	if len(raw) == 0 {
		return []bson.D{}, nil
	}
	var stages []json.RawMessage
	if err := json.Unmarshal(raw, &stages); err != nil {
		return nil, fmt.Errorf("pipeline must be an array: %w", err)
	}
	out := make([]bson.D, 0, len(stages))
	for i, st := range stages {
		doc, err := decodeExtJSON(st)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (m *mongoConnector) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return m.client.Ping(ctx, nil)
}

func (m *mongoConnector) Query(ctx context.Context, query string, limit int) (*QueryPage, error) {
	var mq mongoQuery
	if err := json.Unmarshal([]byte(query), &mq); err != nil {
		return nil, fmt.Errorf("invalid query JSON: %w", err)
	}
	if mq.Collection == "" {
		return nil, fmt.Errorf("query must specify 'collection'")
	}
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	coll := m.client.Database(m.dbName).Collection(mq.Collection)

	var cursor *mongo.Cursor
	switch mq.Operation {
	case "", "find":
		filter, err := decodeExtJSON(mq.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		opts := options.Find().SetLimit(int64(limit) + 1)
		if len(mq.Projection) > 0 {
			proj, err := decodeExtJSON(mq.Projection)
			if err != nil {
				return nil, fmt.Errorf("projection: %w", err)
			}
			opts.SetProjection(proj)
		}
		if len(mq.Sort) > 0 {
			sortDoc, err := decodeExtJSON(mq.Sort)
			if err != nil {
				return nil, fmt.Errorf("sort: %w", err)
			}
			opts.SetSort(sortDoc)
		}
		cursor, err = coll.Find(ctx, filter, opts)
		if err != nil {
			return nil, fmt.Errorf("find: %w", err)
		}
	case "aggregate":
		pipeline, err := decodePipeline(mq.Pipeline)
		if err != nil {
			return nil, err
		}
		cursor, err = coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported operation %q", ErrWriteQuery, mq.Operation)
	}
	defer cursor.Close(ctx)

	page := &QueryPage{Rows: []etl.Value{}}
	for cursor.Next(ctx) {
		if len(page.Rows) == limit {
			page.HasMore = true
			break
		}
		row, err := documentValue(cursor.Current)
		if err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		page.Rows = append(page.Rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}
	page.Columns = documentColumns(page.Rows)

	log.Printf("dbclient: mongo %s.%s returned %d docs (more=%v)", m.dbName, mq.Collection, len(page.Rows), page.HasMore)
	return page, nil
}

// documentValue renders a BSON document as relaxed Extended JSON and parses
// it back as an ordered Value. A top-level {"$oid": "..."} _id is unwrapped
// to its hex string.
func documentValue(raw bson.Raw) (etl.Value, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return etl.Value{}, err
	}
	v, err := etl.Parse(ext)
	if err != nil {
		return etl.Value{}, err
	}

	members := v.Members()
	out := make([]etl.Member, len(members))
	for i, mem := range members {
		out[i] = mem
		if mem.Key == "_id" && mem.Value.Len() == 1 {
			if oid, ok := mem.Value.Get("$oid"); ok {
				out[i].Value = oid
			}
		}
	}
	return etl.Object(out...), nil
}

// documentColumns lists the top-level keys across rows: _id first, then alphabetical.
func documentColumns(rows []etl.Value) []string {
	seen := map[string]bool{}
	var columns []string
	for _, row := range rows {
		for _, mem := range row.Members() {
			if !seen[mem.Key] {
				seen[mem.Key] = true
				columns = append(columns, mem.Key)
			}
		}
	}
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i] == "_id" {
			return columns[j] != "_id"
		}
		if columns[j] == "_id" {
			return false
		}
		return columns[i] < columns[j]
	})
	return columns
}

func (m *mongoConnector) Introspect(ctx context.Context) (*SchemaInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	db := m.client.Database(m.dbName)
	collections, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(collections)

	schema := &SchemaInfo{}
	for _, collName := range collections {
		// Sample one document to extract field names.
		var doc bson.D
		err := db.Collection(collName).FindOne(ctx, bson.D{}).Decode(&doc)
		if err != nil {
			schema.Tables = append(schema.Tables, TableInfo{Name: collName})
			continue
		}
		cols := make([]ColumnInfo, 0, len(doc))
		for _, elem := range doc {
			cols = append(cols, ColumnInfo{Name: elem.Key, Type: fmt.Sprintf("%T", elem.Value)})
		}
		schema.Tables = append(schema.Tables, TableInfo{Name: collName, Columns: cols})
	}
	return schema, nil
}

func (m *mongoConnector) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
