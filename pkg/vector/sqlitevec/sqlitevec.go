// Package sqlitevec provides a SQLite-backed vector driver using sqlite-vec.
package sqlitevec

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/vector"
)

// Driver implements vector.VectorDriver using SQLite with sqlite-vec.
// vec0 tables are keyed by integer rowid, so a mapping table carries the
// document key and payload.
type Driver struct {
	db         *sql.DB
	dimensions uint
	logger     *slog.Logger
}

// Config holds configuration for the SQLite vec driver.
type Config struct {
	// DBPath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database.
	DBPath string

	// Dimensions is the number of dimensions for the embedding vectors.
	Dimensions uint
}

// NewDriver creates a new SQLite vector driver backed by sqlite-vec.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	// enable connection to have sqlite-vec extension
	sqlite_vec.Auto()

	if c.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("sqlite-vec embedding dimensions cannot be 0, must be configured")
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// ":memory:" databases are per-connection.
	db.SetMaxOpenConns(1)

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite-vec not available: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS vec_documents (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			doc_key TEXT NOT NULL UNIQUE,
			uri TEXT NOT NULL,
			level TEXT NOT NULL,
			chunk INTEGER NOT NULL DEFAULT 0,
			hash TEXT NOT NULL DEFAULT '',
			ancestors TEXT NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating documents table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS vec_documents_uri ON vec_documents(uri)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating uri index: %w", err)
	}

	createVec := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_embeddings USING vec0(embedding float[%d] distance_metric=cosine)`,
		c.Dimensions,
	)
	if _, err := db.Exec(createVec); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vec0 table: %w", err)
	}

	if log == nil {
		log = logger.Nop()
	}
	log.Info("sqlite-vec vector driver initialized",
		"db_path", c.DBPath,
		"dimensions", c.Dimensions,
		"vec_version", vecVersion,
	)

	return &Driver{
		db:         db,
		dimensions: c.Dimensions,
		logger:     log,
	}, nil
}

// serializeFloat32 converts a float32 slice to a little-endian byte slice
// suitable for sqlite-vec BLOB format.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts a little-endian byte slice back to a float32 slice.
func deserializeFloat32(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func (d *Driver) checkDims(v []float32) error {
	if uint(len(v)) != d.dimensions {
		return fmt.Errorf("%w: got %d, want %d", vector.ErrDimensions, len(v), d.dimensions)
	}
	return nil
}

// Upsert stores documents with their embeddings, replacing existing keys.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, doc := range docs {
		if err := d.checkDims(doc.Embedding); err != nil {
			return fmt.Errorf("document %s: %w", doc.Key, err)
		}
		embBlob := serializeFloat32(doc.Embedding)

		ancestors, err := json.Marshal(doc.Ancestors)
		if err != nil {
			return fmt.Errorf("encoding ancestors for %s: %w", doc.Key, err)
		}

		var existingRowID int64
		err = tx.QueryRowContext(ctx,
			`SELECT rowid FROM vec_documents WHERE doc_key = ?`, doc.Key,
		).Scan(&existingRowID)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE vec_documents SET uri = ?, level = ?, chunk = ?, hash = ?, ancestors = ? WHERE rowid = ?`,
				doc.URI, doc.Level, doc.Chunk, doc.Hash, string(ancestors), existingRowID,
			); err != nil {
				return fmt.Errorf("updating document %s: %w", doc.Key, err)
			}

			// vec0 does not support UPDATE
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM vec_embeddings WHERE rowid = ?`, existingRowID,
			); err != nil {
				return fmt.Errorf("deleting old embedding for %s: %w", doc.Key, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
				existingRowID, embBlob,
			); err != nil {
				return fmt.Errorf("re-inserting embedding for %s: %w", doc.Key, err)
			}
		case errors.Is(err, sql.ErrNoRows):
			result, err := tx.ExecContext(ctx,
				`INSERT INTO vec_documents(doc_key, uri, level, chunk, hash, ancestors) VALUES (?, ?, ?, ?, ?, ?)`,
				doc.Key, doc.URI, doc.Level, doc.Chunk, doc.Hash, string(ancestors),
			)
			if err != nil {
				return fmt.Errorf("inserting document %s: %w", doc.Key, err)
			}

			rowID, err := result.LastInsertId()
			if err != nil {
				return fmt.Errorf("getting rowid for %s: %w", doc.Key, err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_embeddings(rowid, embedding) VALUES (?, ?)`,
				rowID, embBlob,
			); err != nil {
				return fmt.Errorf("inserting embedding for %s: %w", doc.Key, err)
			}
		default:
			return fmt.Errorf("checking for existing document %s: %w", doc.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("upserted documents to sqlite-vec", "count", len(docs))
	return nil
}

const selectColumns = `d.doc_key, d.uri, d.level, d.chunk, d.hash, d.ancestors`

// Query finds the topK most similar documents to the given embedding. An
// unfiltered query uses the vec0 KNN index; a filtered one scans the
// matching rows with vec_distance_cosine so the filter never starves topK.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if err := d.checkDims(embedding); err != nil {
		return nil, err
	}
	queryBlob := serializeFloat32(embedding)

	var (
		rows *sql.Rows
		err  error
	)
	if filter.Empty() {
		rows, err = d.db.QueryContext(ctx, `
			SELECT `+selectColumns+`, ve.embedding, ve.distance
			FROM vec_embeddings ve
			INNER JOIN vec_documents d ON d.rowid = ve.rowid
			WHERE ve.embedding MATCH ?
				AND ve.k = ?
			ORDER BY ve.distance
		`, queryBlob, topK)
	} else {
		where, args := filterClause(filter)
		args = append([]any{queryBlob}, args...)
		args = append(args, topK)
		rows, err = d.db.QueryContext(ctx, `
			SELECT `+selectColumns+`, ve.embedding, vec_distance_cosine(ve.embedding, ?) AS distance
			FROM vec_documents d
			INNER JOIN vec_embeddings ve ON ve.rowid = d.rowid
			WHERE `+where+`
			ORDER BY distance, d.doc_key
			LIMIT ?
		`, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			doc      vector.Document
			distance float64
		)
		if err := scanDocument(rows, &doc, &distance); err != nil {
			return nil, err
		}

		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    float32(1 - distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating query results: %w", err)
	}

	d.logger.Debug("queried sqlite-vec", "results", len(results), "filtered", !filter.Empty())
	return results, nil
}

func filterClause(f *vector.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(f.URIs) > 0 {
		clauses = append(clauses, "d.uri IN ("+placeholders(len(f.URIs))+")")
		for _, u := range f.URIs {
			args = append(args, u)
		}
	}
	if len(f.Levels) > 0 {
		clauses = append(clauses, "d.level IN ("+placeholders(len(f.Levels))+")")
		for _, l := range f.Levels {
			args = append(args, l)
		}
	}
	if f.Scope != "" && f.Scope != uri.Root {
		prefix := f.Scope + "/"
		clauses = append(clauses, "(d.uri = ? OR substr(d.uri, 1, ?) = ?)")
		args = append(args, f.Scope, len(prefix), prefix)
	}
	if len(clauses) == 0 {
		return "1", nil
	}
	return strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner, doc *vector.Document, distance *float64) error {
	var (
		ancestors string
		embBlob   []byte
	)
	dest := []any{&doc.Key, &doc.URI, &doc.Level, &doc.Chunk, &doc.Hash, &ancestors, &embBlob}
	if distance != nil {
		dest = append(dest, distance)
	}
	if err := s.Scan(dest...); err != nil {
		return fmt.Errorf("scanning document: %w", err)
	}
	if err := json.Unmarshal([]byte(ancestors), &doc.Ancestors); err != nil {
		return fmt.Errorf("decoding ancestors of %s: %w", doc.Key, err)
	}
	if len(embBlob) > 0 {
		emb, err := deserializeFloat32(embBlob)
		if err != nil {
			return fmt.Errorf("decoding embedding of %s: %w", doc.Key, err)
		}
		doc.Embedding = emb
	}
	return nil
}

// Get retrieves documents by key.
func (d *Driver) Get(ctx context.Context, keys []string) ([]vector.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectColumns+`, ve.embedding
		FROM vec_documents d
		LEFT JOIN vec_embeddings ve ON ve.rowid = d.rowid
		WHERE d.doc_key IN (`+placeholders(len(keys))+`)
		ORDER BY d.doc_key
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []vector.Document
	for rows.Next() {
		var doc vector.Document
		if err := scanDocument(rows, &doc, nil); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return docs, nil
}

// Delete removes documents by key.
func (d *Driver) Delete(ctx context.Context, keys []string) error {
	return d.deleteWhere(ctx, "doc_key", keys)
}

// DeleteByURI removes every document of the given node URIs.
func (d *Driver) DeleteByURI(ctx context.Context, uris []string) error {
	return d.deleteWhere(ctx, "uri", uris)
}

func (d *Driver) deleteWhere(ctx context.Context, column string, values []string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	inClause := placeholders(len(values))

	rows, err := tx.QueryContext(ctx,
		`SELECT rowid FROM vec_documents WHERE `+column+` IN (`+inClause+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("querying rowids for deletion: %w", err)
	}

	var rowIDs []int64
	for rows.Next() {
		var rowID int64
		if err := rows.Scan(&rowID); err != nil {
			rows.Close()
			return fmt.Errorf("scanning rowid: %w", err)
		}
		rowIDs = append(rowIDs, rowID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating rowids: %w", err)
	}

	for _, rowID := range rowIDs {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM vec_embeddings WHERE rowid = ?`, rowID,
		); err != nil {
			return fmt.Errorf("deleting embedding rowid %d: %w", rowID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vec_documents WHERE `+column+` IN (`+inClause+`)`, args...,
	); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Debug("deleted documents from sqlite-vec", "by", column, "count", len(rowIDs))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return d.db.Close()
}
