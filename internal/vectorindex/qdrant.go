// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package vectorindex

import (
	"context"
	"fmt"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tejzpr/companion-memory/internal/config"
)

const payloadContent = "content"

// QdrantBackend stores vectors in a Qdrant collection over gRPC. Users
// share one collection and are separated by a user_id payload filter.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// NewQdrantBackend dials the Qdrant gRPC endpoint. The connection is lazy;
// errors surface on first use.
func NewQdrantBackend(cfg config.QdrantConfig) (*QdrantBackend, error) {
	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(address, dialOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect: %w", err)
	}
	return &QdrantBackend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// Name identifies the backend
func (b *QdrantBackend) Name() string { return "qdrant" }

// Init creates the cosine collection and payload indexes when missing
func (b *QdrantBackend) Init(ctx context.Context, collection string, dimensions int) error {
	b.collection = collection

	if _, err := b.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: collection}); err != nil {
		_, err = b.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: collection,
			VectorsConfig: &pb.VectorsConfig{
				Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{
						Size:     uint64(dimensions),
						Distance: pb.Distance_Cosine,
					},
				},
			},
		})
		if err != nil {
			return fmt.Errorf("qdrant: create collection: %w", err)
		}
	}

	fieldIndexes := []struct {
		name string
		kind pb.FieldType
	}{
		{KeyUserID, pb.FieldType_FieldTypeInteger},
		{KeyMemoryType, pb.FieldType_FieldTypeKeyword},
		{KeyImportance, pb.FieldType_FieldTypeKeyword},
	}
	for _, fi := range fieldIndexes {
		_, err := b.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      fi.name,
			FieldType:      fi.kind.Enum(),
			Wait:           boolPtr(true),
		})
		if err != nil {
			return fmt.Errorf("qdrant: create %s index: %w", fi.name, err)
		}
	}
	return nil
}

// Upsert inserts or replaces the point for p.ID
func (b *QdrantBackend) Upsert(ctx context.Context, p Point) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	payload := toPayload(p.Metadata)
	payload[payloadContent] = stringValue(p.Content)

	_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: b.collection,
		Wait:           boolPtr(true),
		Points: []*pb.PointStruct{{
			Id: pointID(p.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: p.Vector},
				},
			},
			Payload: payload,
		}},
	})
	return err
}

// Search runs a filtered KNN query. Qdrant reports cosine similarity as
// the score, so distance is 1 - score.
func (b *QdrantBackend) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]Hit, error) {
	if b.collection == "" {
		return nil, ErrNotInitialized
	}
	resp, err := b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: b.collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         buildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		meta := fromPayload(pt.GetPayload())
		content := meta.String(payloadContent)
		delete(meta, payloadContent)
		hits = append(hits, Hit{
			ID:       uint(pt.GetId().GetNum()),
			Content:  content,
			Metadata: meta,
			Distance: 1 - float64(pt.GetScore()),
		})
	}
	return hits, nil
}

// SetContent replaces the vector and the stored document text
func (b *QdrantBackend) SetContent(ctx context.Context, id uint, content string, vector []float32) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	_, err := b.points.UpdateVectors(ctx, &pb.UpdatePointVectors{
		CollectionName: b.collection,
		Wait:           boolPtr(true),
		Points: []*pb.PointVectors{{
			Id: pointID(id),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
		}},
	})
	if err != nil {
		return err
	}
	return b.setPayload(ctx, id, map[string]*pb.Value{payloadContent: stringValue(content)})
}

// SetMetadata merges meta into the point payload
func (b *QdrantBackend) SetMetadata(ctx context.Context, id uint, meta Metadata) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	return b.setPayload(ctx, id, toPayload(meta))
}

func (b *QdrantBackend) setPayload(ctx context.Context, id uint, payload map[string]*pb.Value) error {
	_, err := b.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: b.collection,
		Wait:           boolPtr(true),
		Payload:        payload,
		PointsSelector: pointsSelector(id),
	})
	return err
}

// Delete removes the point for id
func (b *QdrantBackend) Delete(ctx context.Context, id uint) error {
	if b.collection == "" {
		return ErrNotInitialized
	}
	_, err := b.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: b.collection,
		Wait:           boolPtr(true),
		Points:         pointsSelector(id),
	})
	return err
}

// Count returns the exact number of points
func (b *QdrantBackend) Count(ctx context.Context) (int64, error) {
	if b.collection == "" {
		return 0, ErrNotInitialized
	}
	resp, err := b.points.Count(ctx, &pb.CountPoints{
		CollectionName: b.collection,
		Exact:          boolPtr(true),
	})
	if err != nil {
		return 0, err
	}
	return int64(resp.GetResult().GetCount()), nil
}

// MissingIDs fetches the candidate points and reports the absent ones
func (b *QdrantBackend) MissingIDs(ctx context.Context, candidates []uint) ([]uint, error) {
	if b.collection == "" {
		return nil, ErrNotInitialized
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]*pb.PointId, len(candidates))
	for i, id := range candidates {
		ids[i] = pointID(id)
	}
	resp, err := b.points.Get(ctx, &pb.GetPoints{
		CollectionName: b.collection,
		Ids:            ids,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, err
	}
	present := make([]uint, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		present = append(present, uint(pt.GetId().GetNum()))
	}
	return subtract(candidates, present), nil
}

// Close closes the gRPC connection
func (b *QdrantBackend) Close() error {
	return b.conn.Close()
}

func buildFilter(f Filter) *pb.Filter {
	must := []*pb.Condition{
		fieldCondition(KeyUserID, &pb.Match{MatchValue: &pb.Match_Integer{Integer: f.UserID}}),
	}
	if len(f.Types) > 0 {
		must = append(must, fieldCondition(KeyMemoryType, keywords(f.Types)))
	}
	if len(f.Importance) > 0 {
		must = append(must, fieldCondition(KeyImportance, keywords(f.Importance)))
	}
	return &pb.Filter{Must: must}
}

func fieldCondition(key string, match *pb.Match) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Match: match},
		},
	}
}

func keywords(values []string) *pb.Match {
	return &pb.Match{
		MatchValue: &pb.Match_Keywords{
			Keywords: &pb.RepeatedStrings{Strings: values},
		},
	}
}

func toPayload(meta Metadata) map[string]*pb.Value {
	payload := make(map[string]*pb.Value, len(meta))
	for k, v := range meta {
		switch val := v.(type) {
		case string:
			payload[k] = stringValue(val)
		case bool:
			payload[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
		case int:
			payload[k] = intValue(int64(val))
		case int32:
			payload[k] = intValue(int64(val))
		case int64:
			payload[k] = intValue(val)
		case uint:
			payload[k] = intValue(int64(val))
		case uint32:
			payload[k] = intValue(int64(val))
		case uint64:
			payload[k] = intValue(int64(val))
		case float32:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(val)}}
		case float64:
			payload[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
		default:
			payload[k] = stringValue(fmt.Sprint(val))
		}
	}
	return payload
}

func fromPayload(payload map[string]*pb.Value) Metadata {
	meta := make(Metadata, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *pb.Value_StringValue:
			meta[k] = kind.StringValue
		case *pb.Value_IntegerValue:
			meta[k] = kind.IntegerValue
		case *pb.Value_DoubleValue:
			meta[k] = kind.DoubleValue
		case *pb.Value_BoolValue:
			meta[k] = kind.BoolValue
		}
	}
	return meta
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(i int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: i}}
}

func pointID(id uint) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(id)}}
}

func pointsSelector(id uint) *pb.PointsSelector {
	return &pb.PointsSelector{
		PointsSelectorOneOf: &pb.PointsSelector_Points{
			Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
		},
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func dialOptions(cfg config.QdrantConfig) []grpc.DialOption {
	opts := make([]grpc.DialOption, 0, 2)
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(nil)))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if strings.TrimSpace(cfg.APIKey) != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			apiKey:     cfg.APIKey,
			requireTLS: cfg.UseTLS,
		}))
	}
	return opts
}

type apiKeyCredentials struct {
	apiKey     string
	requireTLS bool
}

func (a apiKeyCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": a.apiKey}, nil
}

func (a apiKeyCredentials) RequireTransportSecurity() bool {
	return a.requireTLS
}
