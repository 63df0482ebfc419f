// Package mongo stores projection tables as MongoDB collections, one
// document per row.
package mongo

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"jsonrel/internal/storage"
)

const defaultDatabase = "jsonrel"

// MultiRepo implements storage.MultiRepository for MongoDB.
//
// Collections are created lazily by the server on first insert, so
// EnsureTables only validates the specs. Foreign keys are kept as plain
// fields.
type MultiRepo struct {
	client *mongo.Client
	db     *mongo.Database
}

func init() {
	storage.RegisterMulti("mongo", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MultiRepo{client: client, db: client.Database(databaseFromURI(cfg.DSN))}, nil
}

func (r *MultiRepo) Close() { _ = r.client.Disconnect(context.Background()) }

func (r *MultiRepo) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (r *MultiRepo) DropTables(ctx context.Context, tables []string) error {
	for _, name := range tables {
		if err := r.db.Collection(name).Drop(ctx); err != nil {
			return fmt.Errorf("mongo: drop collection %s: %w", name, err)
		}
	}
	return nil
}

func (r *MultiRepo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	docs, err := buildDocuments(columns, rows)
	if err != nil {
		return 0, fmt.Errorf("mongo: insert into %s: %w", table, err)
	}
	res, err := r.db.Collection(table).InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("mongo: insert into %s: %w", table, err)
	}
	return int64(len(res.InsertedIDs)), nil
}

// buildDocuments turns rows into ordered documents. Null values are kept
// so every document carries every column.
func buildDocuments(columns []string, rows [][]any) ([]any, error) {
	docs := make([]any, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		doc := make(bson.D, len(columns))
		for j, c := range columns {
			doc[j] = bson.E{Key: c, Value: row[j]}
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// databaseFromURI returns the database named in the URI path, or the default.
func databaseFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultDatabase
}
