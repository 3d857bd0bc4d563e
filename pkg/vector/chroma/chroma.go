// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for strata embeddings.
	DefaultCollectionName = "strata"

	// ancestorPrefix marks boolean metadata keys naming an ancestor URI.
	// Chroma metadata values are scalars, so the ancestor list is flattened.
	ancestorPrefix = "anc:"

	apiPrefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"
)

// Driver implements vector.VectorDriver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds connection attempts at startup. Defaults to 5.
	MaxRetries int

	// RetryDelay is the initial delay between attempts. Defaults to 500ms.
	RetryDelay time.Duration

	// MaxRetryDelay caps the delay between attempts. Defaults to 5s.
	MaxRetryDelay time.Duration

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// NewDriver creates a new Chroma vector driver, retrying until the server
// is reachable or MaxRetries is exhausted.
func NewDriver(c Config, log *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	collectionName := c.CollectionName
	if collectionName == "" {
		collectionName = DefaultCollectionName
	}
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	retryDelay := c.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	maxRetryDelay := c.MaxRetryDelay
	if maxRetryDelay <= 0 {
		maxRetryDelay = 5 * time.Second
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	d := &Driver{
		baseURL:        strings.TrimSuffix(c.URL, "/"),
		collectionName: collectionName,
		httpClient:     httpClient,
		logger:         log,
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryDelay
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0

	attempts := 0
	op := func() error {
		attempts++
		id, err := d.getOrCreateCollection(context.Background())
		if err != nil {
			log.Warn("chroma not ready", "attempt", attempts, "err", err)
			return err
		}
		d.collectionID = id
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(b, uint64(maxRetries-1))); err != nil {
		return nil, fmt.Errorf("getting or creating collection %q after %d attempts: %w", collectionName, attempts, err)
	}

	log.Info("connected to Chroma",
		"url", c.URL,
		"collection", collectionName,
		"collection_id", d.collectionID,
	)

	return d, nil
}

// getOrCreateCollection gets an existing collection or creates a new one
// configured for cosine distance.
func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection
	status, err := d.do(ctx, http.MethodGet, apiPrefix+"/"+d.collectionName, nil, &collection)
	if err == nil {
		return collection.ID, nil
	}
	if status == 0 {
		return "", err
	}

	err = d.post(ctx, apiPrefix, chromaCreateRequest{
		Name:        d.collectionName,
		Metadata:    map[string]any{"hnsw:space": "cosine"},
		GetOrCreate: true,
	}, &collection)
	if err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}

	return collection.ID, nil
}

func (d *Driver) collectionPath(op string) string {
	return apiPrefix + "/" + d.collectionID + "/" + op
}

func (d *Driver) post(ctx context.Context, path string, body, out any) error {
	_, err := d.do(ctx, http.MethodPost, path, body, out)
	return err
}

// do sends a request and decodes the response into out. It returns the
// HTTP status, zero when the request never completed.
func (d *Driver) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("chroma %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}

	return resp.StatusCode, nil
}

func metadataFor(doc vector.Document) map[string]any {
	md := map[string]any{
		"uri":   doc.URI,
		"level": doc.Level,
		"chunk": doc.Chunk,
		"hash":  doc.Hash,
	}
	for _, a := range doc.Ancestors {
		md[ancestorPrefix+a] = true
	}
	return md
}

func documentFrom(id string, md map[string]any, emb []float32) vector.Document {
	doc := vector.Document{Key: id, Embedding: emb}
	doc.URI, doc.Level = vector.SplitKey(id)

	for k, v := range md {
		switch {
		case k == "uri":
			if s, ok := v.(string); ok {
				doc.URI = s
			}
		case k == "level":
			if s, ok := v.(string); ok {
				doc.Level = s
			}
		case k == "hash":
			if s, ok := v.(string); ok {
				doc.Hash = s
			}
		case k == "chunk":
			if f, ok := v.(float64); ok {
				doc.Chunk = int(f)
			}
		case strings.HasPrefix(k, ancestorPrefix):
			doc.Ancestors = append(doc.Ancestors, strings.TrimPrefix(k, ancestorPrefix))
		}
	}
	slices.SortFunc(doc.Ancestors, func(a, b string) int {
		return cmp.Compare(uri.Depth(a), uri.Depth(b))
	})

	return doc
}

// whereClause translates a filter into Chroma's metadata filter syntax.
func whereClause(f *vector.Filter) map[string]any {
	if f.Empty() {
		return nil
	}

	var clauses []map[string]any
	if len(f.URIs) > 0 {
		clauses = append(clauses, map[string]any{"uri": map[string]any{"$in": f.URIs}})
	}
	if len(f.Levels) > 0 {
		clauses = append(clauses, map[string]any{"level": map[string]any{"$in": f.Levels}})
	}
	if f.Scope != "" && f.Scope != uri.Root {
		clauses = append(clauses, map[string]any{"$or": []map[string]any{
			{"uri": map[string]any{"$eq": f.Scope}},
			{ancestorPrefix + f.Scope: map[string]any{"$eq": true}},
		}})
	}

	if len(clauses) == 1 {
		return clauses[0]
	}
	return map[string]any{"$and": clauses}
}

// Upsert stores documents with their embeddings.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
	}
	for i, doc := range docs {
		req.IDs[i] = doc.Key
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = metadataFor(doc)
	}

	if err := d.post(ctx, d.collectionPath("upsert"), req, nil); err != nil {
		return fmt.Errorf("upserting documents: %w", err)
	}

	d.logger.Debug("upserted documents to chroma", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	var queryResp chromaQueryResponse
	err := d.post(ctx, d.collectionPath("query"), chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Where:           whereClause(filter),
		Include:         []string{"metadatas", "distances", "embeddings"},
	}, &queryResp)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}

	// one query embedding, one result group
	if len(queryResp.IDs) == 0 || len(queryResp.IDs[0]) == 0 {
		return nil, nil
	}

	ids := queryResp.IDs[0]
	var (
		distances  []float32
		metadatas  []map[string]any
		embeddings [][]float32
	)
	if len(queryResp.Distances) > 0 {
		distances = queryResp.Distances[0]
	}
	if len(queryResp.Metadatas) > 0 {
		metadatas = queryResp.Metadatas[0]
	}
	if len(queryResp.Embeddings) > 0 {
		embeddings = queryResp.Embeddings[0]
	}

	results := make([]vector.QueryResult, 0, len(ids))
	for i, id := range ids {
		var (
			md  map[string]any
			emb []float32
		)
		if i < len(metadatas) {
			md = metadatas[i]
		}
		if i < len(embeddings) {
			emb = embeddings[i]
		}

		result := vector.QueryResult{Document: documentFrom(id, md, emb)}
		// cosine space: distance = 1 - similarity
		if i < len(distances) {
			result.Score = 1 - distances[i]
		}
		results = append(results, result)
	}

	d.logger.Debug("queried chroma", "results", len(results))
	return results, nil
}

// Get retrieves documents by key.
func (d *Driver) Get(ctx context.Context, keys []string) ([]vector.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	var getResp chromaGetResponse
	err := d.post(ctx, d.collectionPath("get"), chromaGetRequest{
		IDs:     keys,
		Include: []string{"metadatas", "embeddings"},
	}, &getResp)
	if err != nil {
		return nil, fmt.Errorf("getting documents: %w", err)
	}

	docs := make([]vector.Document, len(getResp.IDs))
	for i, id := range getResp.IDs {
		var (
			md  map[string]any
			emb []float32
		)
		if i < len(getResp.Metadatas) {
			md = getResp.Metadatas[i]
		}
		if i < len(getResp.Embeddings) {
			emb = getResp.Embeddings[i]
		}
		docs[i] = documentFrom(id, md, emb)
	}

	return docs, nil
}

// Delete removes documents by key.
func (d *Driver) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	if err := d.post(ctx, d.collectionPath("delete"), chromaDeleteRequest{IDs: keys}, nil); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	d.logger.Debug("deleted documents from chroma", "count", len(keys))
	return nil
}

// DeleteByURI removes every document of the given node URIs.
func (d *Driver) DeleteByURI(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	req := chromaDeleteRequest{Where: map[string]any{"uri": map[string]any{"$in": uris}}}
	if err := d.post(ctx, d.collectionPath("delete"), req, nil); err != nil {
		return fmt.Errorf("deleting documents by uri: %w", err)
	}

	d.logger.Debug("deleted uris from chroma", "count", len(uris))
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}
