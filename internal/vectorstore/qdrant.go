package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
)

// payloadIDField stores the caller's original ID when it isn't itself a
// UUID, since Qdrant point IDs must be a UUID or an unsigned integer.
const payloadIDField = "_original_id"

type qdrantStore struct {
	client *qdrant.Client
}

// NewQdrant connects to a Qdrant instance over its gRPC API (default port
// 6334). An "api_key" query parameter on dsn is forwarded as the API key.
func NewQdrant(dsn string) (Store, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if key := parsed.Query().Get("api_key"); key != "" {
		cfg.APIKey = key
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &qdrantStore{client: client}, nil
}

func distanceFor(metric string) qdrant.Distance {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

// CreateCollection creates collection per schema if absent. If it exists
// with a different vector dimension than schema declares, it is dropped
// and recreated, per SPEC_FULL.md §4.8's "collections with mismatched
// dimension are dropped and recreated".
func (q *qdrantStore) CreateCollection(ctx context.Context, schema Schema) error {
	dim := schema.VectorDimension()
	if dim <= 0 {
		return fmt.Errorf("vectorstore: schema %q declares no vector dimension", schema.Name)
	}
	exists, err := q.client.CollectionExists(ctx, schema.Name)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		info, err := q.client.GetCollectionInfo(ctx, schema.Name)
		if err == nil && info != nil && info.GetConfig() != nil {
			if params := info.GetConfig().GetParams(); params != nil {
				if vp := params.GetVectorsConfig().GetParams(); vp != nil && vp.GetSize() != uint64(dim) {
					log.Warn().Str("collection", schema.Name).Uint64("existing_dim", vp.GetSize()).Int("want_dim", dim).Msg("vectorstore_dimension_mismatch_recreating")
					if err := q.client.DeleteCollection(ctx, schema.Name); err != nil {
						return fmt.Errorf("drop mismatched collection: %w", err)
					}
					exists = false
				}
			}
		}
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: schema.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: distanceFor(schema.Metric),
		}),
	})
}

func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (q *qdrantStore) Insert(ctx context.Context, collection string, records []Record) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		payload := make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			payload[k] = v
		}
		if _, err := uuid.Parse(r.ID); err != nil {
			payload[payloadIDField] = r.ID
		}
		vec := make([]float32, len(r.Vector))
		copy(vec, r.Vector)
		points = append(points, &qdrant.PointStruct{
			Id:      pointID(r.ID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collection, Points: points})
	return err
}

func (q *qdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string, filter map[string]string) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: must}
	}

	limit := uint64(topK)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	outSet := map[string]bool{}
	for _, f := range outputFields {
		outSet[f] = true
	}

	results := make([]SearchHit, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		if id == "" {
			id = hit.Id.String()
		}
		payload := make(map[string]any)
		for k, v := range hit.Payload {
			if k == payloadIDField {
				id = v.GetStringValue()
				continue
			}
			if len(outSet) > 0 && !outSet[k] {
				continue
			}
			payload[k] = qdrantValueToAny(v)
		}
		results = append(results, SearchHit{ID: id, Score: float64(hit.Score), Payload: payload})
	}
	return results, nil
}

func qdrantValueToAny(v *qdrant.Value) any {
	switch {
	case v.GetStringValue() != "":
		return v.GetStringValue()
	case v.GetBoolValue():
		return true
	case v.GetIntegerValue() != 0:
		return v.GetIntegerValue()
	case v.GetDoubleValue() != 0:
		return v.GetDoubleValue()
	default:
		return v.GetStringValue()
	}
}

func (q *qdrantStore) DeleteAll(ctx context.Context, collection string, filter map[string]string) error {
	if len(filter) == 0 {
		return q.client.DeleteCollection(ctx, collection)
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(&qdrant.Filter{Must: must}),
	})
	return err
}

func (q *qdrantStore) GetStats(ctx context.Context, collection string) (Stats, error) {
	info, err := q.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return Stats{}, err
	}
	return Stats{PointCount: int64(info.GetPointsCount())}, nil
}

func (q *qdrantStore) Close() error {
	return q.client.Close()
}
