package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/dshills/debugctx-mcp/pkg/types"
)

// pointNamespace scopes the UUIDv5 ids derived from chunk ids
var pointNamespace = uuid.MustParse("6f1c3a52-2b7e-4d7e-9a53-0d5b8f2d9c41")

// PointUUID maps a chunk id onto the UUID Qdrant stores it under
func PointUUID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// payloadIndexes are created with every collection
var payloadIndexes = []struct {
	field string
	typ   pb.FieldType
}{
	{FieldProjectName, pb.FieldType_FieldTypeKeyword},
	{FieldType, pb.FieldType_FieldTypeKeyword},
	{FieldFilePath, pb.FieldType_FieldTypeKeyword},
	{FieldFileURL, pb.FieldType_FieldTypeKeyword},
	{FieldText, pb.FieldType_FieldTypeText},
	{FieldTimestamp, pb.FieldType_FieldTypeDatetime},
}

// QdrantConfig configures the gRPC connection
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// QdrantStore implements Store using Qdrant's gRPC API
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// NewQdrantStore dials Qdrant. The connection is established lazily.
func NewQdrantStore(cfg QdrantConfig) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return NewQdrantStoreFromConn(conn), nil
}

// NewQdrantStoreFromConn wraps an existing connection
func NewQdrantStoreFromConn(conn *grpc.ClientConn) *QdrantStore {
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}

	if exists.GetResult().GetExists() {
		info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
		if err != nil {
			return fmt.Errorf("get collection: %w", err)
		}
		size := info.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
		if size != 0 && int(size) != dim {
			return fmt.Errorf("%w: collection %s has %d, want %d", ErrDimensionMismatch, name, size, dim)
		}
	} else {
		_, err = s.collections.Create(ctx, &pb.CreateCollection{
			CollectionName: name,
			VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Cosine},
			}},
		})
		if err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}

	// Creating an existing index is a no-op in Qdrant
	for _, idx := range payloadIndexes {
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: name,
			FieldName:      idx.field,
			FieldType:      idx.typ.Enum(),
			Wait:           boolPtr(true),
		})
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := validatePoints(points); err != nil {
		return err
	}

	pbPoints := make([]*pb.PointStruct, len(points))
	for i, p := range points {
		pbPoints[i] = &pb.PointStruct{
			Id:      pointID(p.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: toPBPayload(p.Payload),
		}
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Points:         pbPoints,
	})
	return err
}

func (s *QdrantStore) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Points:         idSelector(ids),
	})
	return err
}

func (s *QdrantStore) SetPayload(ctx context.Context, collection string, ids []string, meta Metadata) error {
	if len(ids) == 0 {
		return nil
	}
	if err := meta.Validate(); err != nil {
		return err
	}
	_, err := s.points.SetPayload(ctx, &pb.SetPayloadPoints{
		CollectionName: collection,
		Wait:           boolPtr(true),
		Payload:        metadataValues(meta),
		PointsSelector: idSelector(ids),
	})
	return err
}

func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Filter:         toPBFilter(filter),
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, err
	}

	hits := make([]ScoredPoint, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		payload := fromPBPayload(pt.GetPayload())
		hits[i] = ScoredPoint{ID: payload.ChunkID, Score: pt.GetScore(), Payload: payload}
	}
	return hits, nil
}

func (s *QdrantStore) Scroll(ctx context.Context, collection string, filter Filter, limit int, offset string) ([]Record, string, error) {
	req := &pb.ScrollPoints{
		CollectionName: collection,
		Filter:         toPBFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if limit > 0 {
		l := uint32(limit)
		req.Limit = &l
	}
	if offset != "" {
		req.Offset = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: offset}}
	}

	resp, err := s.points.Scroll(ctx, req)
	if err != nil {
		return nil, "", err
	}

	records := make([]Record, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		payload := fromPBPayload(pt.GetPayload())
		records[i] = Record{ID: payload.ChunkID, Payload: payload}
	}
	return records, resp.GetNextPageOffset().GetUuid(), nil
}

func (s *QdrantStore) Count(ctx context.Context, collection string, filter Filter) (int, error) {
	resp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: collection,
		Filter:         toPBFilter(filter),
		Exact:          boolPtr(true),
	})
	if err != nil {
		return 0, err
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

func boolPtr(b bool) *bool { return &b }

func pointID(chunkID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointUUID(chunkID)}}
}

func idSelector(ids []string) *pb.PointsSelector {
	pbIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pbIDs[i] = pointID(id)
	}
	return &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Points{
		Points: &pb.PointsIdsList{Ids: pbIDs},
	}}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func metadataValues(m Metadata) map[string]*pb.Value {
	return map[string]*pb.Value{
		FieldProjectName: stringValue(m.ProjectName),
		FieldFileURL:     stringValue(m.FileURL),
		FieldTimestamp:   stringValue(m.Timestamp.UTC().Format(time.RFC3339)),
		FieldType:        stringValue(string(m.Type)),
	}
}

func toPBPayload(p Payload) map[string]*pb.Value {
	out := metadataValues(p.Metadata)
	for k, v := range p.Extra {
		out[k] = stringValue(v)
	}
	out[FieldChunkID] = stringValue(p.ChunkID)
	out[FieldFilePath] = stringValue(p.FilePath)
	out[FieldStart] = intValue(p.Start)
	out[FieldEnd] = intValue(p.End)
	out[FieldText] = stringValue(p.Text)
	return out
}

func fromPBPayload(values map[string]*pb.Value) Payload {
	var p Payload
	for k, v := range values {
		switch k {
		case FieldProjectName:
			p.ProjectName = v.GetStringValue()
		case FieldFileURL:
			p.FileURL = v.GetStringValue()
		case FieldTimestamp:
			p.Timestamp, _ = time.Parse(time.RFC3339, v.GetStringValue())
		case FieldType:
			p.Type = types.FileType(v.GetStringValue())
		case FieldChunkID:
			p.ChunkID = v.GetStringValue()
		case FieldFilePath:
			p.FilePath = v.GetStringValue()
		case FieldStart:
			p.Start = int(v.GetIntegerValue())
		case FieldEnd:
			p.End = int(v.GetIntegerValue())
		case FieldText:
			p.Text = v.GetStringValue()
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[k] = v.GetStringValue()
		}
	}
	return p
}

func toPBCondition(c Condition) *pb.Condition {
	match := &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: c.Value}}
	if c.Text {
		match = &pb.Match{MatchValue: &pb.Match_Text{Text: c.Value}}
	}
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{
		Field: &pb.FieldCondition{Key: c.Field, Match: match},
	}}
}

func toPBFilter(f Filter) *pb.Filter {
	if f.IsEmpty() {
		return nil
	}
	out := &pb.Filter{}
	for _, c := range f.Must {
		out.Must = append(out.Must, toPBCondition(c))
	}
	for _, c := range f.MustNot {
		out.MustNot = append(out.MustNot, toPBCondition(c))
	}
	return out
}
