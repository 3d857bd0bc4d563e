// Package qdrant provides a Qdrant vector driver over the gRPC client.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/strata/pkg/logger"
	"github.com/papercomputeco/strata/pkg/uri"
	"github.com/papercomputeco/strata/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for strata vectors.
	DefaultCollectionName = "strata"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334
)

// payload keys
const (
	fieldKey       = "key"
	fieldURI       = "uri"
	fieldLevel     = "level"
	fieldChunk     = "chunk"
	fieldHash      = "hash"
	fieldAncestors = "ancestors"
)

// pointNamespace derives stable point ids from vector keys.
var pointNamespace = uuid.MustParse("7f1c2b8e-4a5d-5e6f-9a0b-1c2d3e4f5a6b")

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Target is "host:port" or a URL such as "https://qdrant.example:6334".
	Target string

	// APIKey authenticates against Qdrant Cloud.
	APIKey string

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions is required to create the collection.
	Dimensions uint64
}

// Driver implements vector.VectorDriver against a Qdrant collection using
// cosine distance.
type Driver struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and creates the collection when missing.
func NewDriver(ctx context.Context, c Config, log *slog.Logger) (*Driver, error) {
	if c.Target == "" {
		return nil, errors.New("qdrant target is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if log == nil {
		log = logger.Nop()
	}

	host, port, useTLS, err := ParseTarget(c.Target)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}

	collection := c.CollectionName
	if collection == "" {
		collection = DefaultCollectionName
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("checking collection %q: %w", collection, err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.Dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("creating collection %q: %w", collection, err)
		}
	}

	log.Info("connected to Qdrant",
		"host", host,
		"port", port,
		"collection", collection,
		"created", !exists,
	)

	return &Driver{client: client, collection: collection, logger: log}, nil
}

// ParseTarget splits a target into host, port and TLS mode.
func ParseTarget(target string) (string, int, bool, error) {
	useTLS := false
	hostport := target
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		useTLS = u.Scheme == "https"
		hostport = u.Host
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// no port
		return hostport, DefaultPort, useTLS, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false, fmt.Errorf("invalid qdrant port %q: %w", portStr, err)
	}
	return host, port, useTLS, nil
}

// PointID derives the Qdrant point id of a vector key.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func pointID(key string) *qdrant.PointId {
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(key)}}
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func payloadFor(doc vector.Document) map[string]*qdrant.Value {
	ancestors := make([]*qdrant.Value, len(doc.Ancestors))
	for i, a := range doc.Ancestors {
		ancestors[i] = stringValue(a)
	}

	return map[string]*qdrant.Value{
		fieldKey:   stringValue(doc.Key),
		fieldURI:   stringValue(doc.URI),
		fieldLevel: stringValue(doc.Level),
		fieldHash:  stringValue(doc.Hash),
		fieldChunk: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(doc.Chunk)}},
		fieldAncestors: {Kind: &qdrant.Value_ListValue{
			ListValue: &qdrant.ListValue{Values: ancestors},
		}},
	}
}

func documentFrom(payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) vector.Document {
	doc := vector.Document{
		Key:       payload[fieldKey].GetStringValue(),
		URI:       payload[fieldURI].GetStringValue(),
		Level:     payload[fieldLevel].GetStringValue(),
		Hash:      payload[fieldHash].GetStringValue(),
		Chunk:     int(payload[fieldChunk].GetIntegerValue()),
		Embedding: vectors.GetVector().GetData(),
	}
	for _, v := range payload[fieldAncestors].GetListValue().GetValues() {
		doc.Ancestors = append(doc.Ancestors, v.GetStringValue())
	}
	return doc
}

func matchKeyword(field, value string) *qdrant.Condition {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
		Key:   field,
		Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
	}}}
}

func matchAny(field string, values []string) *qdrant.Condition {
	return &qdrant.Condition{ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
		Key: field,
		Match: &qdrant.Match{MatchValue: &qdrant.Match_Keywords{
			Keywords: &qdrant.RepeatedStrings{Strings: values},
		}},
	}}}
}

// BuildFilter translates a vector filter into a Qdrant payload filter. It
// returns nil when f constrains nothing.
func BuildFilter(f *vector.Filter) *qdrant.Filter {
	if f.Empty() {
		return nil
	}

	out := &qdrant.Filter{}
	if len(f.URIs) > 0 {
		out.Must = append(out.Must, matchAny(fieldURI, f.URIs))
	}
	if len(f.Levels) > 0 {
		out.Must = append(out.Must, matchAny(fieldLevel, f.Levels))
	}
	if f.Scope != "" && f.Scope != uri.Root {
		scope := &qdrant.Filter{Should: []*qdrant.Condition{
			matchKeyword(fieldURI, f.Scope),
			matchKeyword(fieldAncestors, f.Scope),
		}}
		out.Must = append(out.Must, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Filter{Filter: scope},
		})
	}
	return out
}

// Upsert stores documents, replacing existing keys.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.Key),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payloadFor(doc),
		}
	}

	wait := true
	if _, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("upserted documents to qdrant", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents matching filter.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter *vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	limit := uint64(topK)
	points, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Filter:         BuildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		results = append(results, vector.QueryResult{
			Document: documentFrom(p.GetPayload(), p.GetVectors()),
			Score:    p.GetScore(),
		})
	}

	d.logger.Debug("queried qdrant", "results", len(results))
	return results, nil
}

// Get retrieves documents by key.
func (d *Driver) Get(ctx context.Context, keys []string) ([]vector.Document, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		ids[i] = pointID(k)
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting points: %w", err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, documentFrom(p.GetPayload(), p.GetVectors()))
	}
	return docs, nil
}

// Delete removes documents by key.
func (d *Driver) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, len(keys))
	for i, k := range keys {
		ids[i] = pointID(k)
	}

	return d.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Points{Points: &qdrant.PointsIdsList{Ids: ids}},
	}, len(keys))
}

// DeleteByURI removes every document of the given node URIs.
func (d *Driver) DeleteByURI(ctx context.Context, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	return d.delete(ctx, &qdrant.PointsSelector{
		PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: BuildFilter(&vector.Filter{URIs: uris})},
	}, len(uris))
}

func (d *Driver) delete(ctx context.Context, sel *qdrant.PointsSelector, n int) error {
	wait := true
	if _, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Wait:           &wait,
		Points:         sel,
	}); err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}

	d.logger.Debug("deleted documents from qdrant", "count", n)
	return nil
}

// Close releases the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
