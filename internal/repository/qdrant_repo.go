package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/timmy/wardrobe/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	defaultVectorDimension = 1024
)

// QdrantConnectionConfig holds configuration for Qdrant connection
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	APIKey          string // Qdrant Cloud API Key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without API Key
	VectorDimension int
}

// apiKeyInterceptor creates a unary interceptor that adds API key to metadata
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository is a vector index backed by Qdrant.
// Each (user, category) handle maps to its own collection.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	vectorDimension int

	ensured sync.Map // collection name -> struct{}
}

// NewQdrantRepository creates a new QdrantRepository
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API Key)
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	var opts []grpc.DialOption

	if cfg.UseTLS || cfg.APIKey != "" {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS13})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		vectorDimension: vectorDimension,
	}, nil
}

// Close closes the gRPC connection
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// Ensure creates the collection for (username, category) if it doesn't exist.
func (r *QdrantRepository) Ensure(ctx context.Context, username string, category domain.ApparelType) (domain.IndexHandle, error) {
	handle := domain.IndexHandle{Username: username, Category: category}
	name := handle.Name()
	if _, ok := r.ensured.Load(name); ok {
		return handle, nil
	}

	info, err := r.collectClient.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name})
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok && size != uint64(r.vectorDimension) {
			return handle, fmt.Errorf("collection %s has vector size %d, expected %d", name, size, r.vectorDimension)
		}
		r.ensured.Store(name, struct{}{})
		return handle, nil
	}

	_, err = r.collectClient.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
		HnswConfig: &pb.HnswConfigDiff{
			M:                 optionalUint64(16),
			EfConstruct:       optionalUint64(128),
			FullScanThreshold: optionalUint64(10000),
		},
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return handle, fmt.Errorf("failed to create collection %s: %w", name, err)
	}

	r.ensured.Store(name, struct{}{})
	return handle, nil
}

func optionalUint64(v uint64) *uint64 {
	return &v
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	params := info.GetConfig().GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil && single.GetSize() > 0 {
		return single.GetSize(), true
	}
	return 0, false
}

// PointID derives the Qdrant point UUID for a composite vector record id.
// Qdrant only accepts integer or UUID ids, so the same record id always maps
// to the same UUID.
func PointID(recordID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
}

func pointIDValue(recordID string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(recordID)}}
}

// Insert stores one vector record.
// Returns domain.ErrDuplicateID if the record id is already present.
func (r *QdrantRepository) Insert(ctx context.Context, handle domain.IndexHandle, record domain.VectorRecord) error {
	if len(record.Vector) != r.vectorDimension {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(record.Vector), r.vectorDimension)
	}

	existing, err := r.pointsClient.Get(ctx, &pb.GetPoints{
		CollectionName: handle.Name(),
		Ids:            []*pb.PointId{pointIDValue(record.ID)},
	})
	if err != nil {
		return fmt.Errorf("failed to check point: %w", err)
	}
	if len(existing.GetResult()) > 0 {
		return domain.ErrDuplicateID
	}

	wait := true
	_, err = r.pointsClient.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: handle.Name(),
		Wait:           &wait,
		Points: []*pb.PointStruct{
			{
				Id: pointIDValue(record.ID),
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: record.Vector},
					},
				},
				Payload: buildPayload(record),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func buildPayload(record domain.VectorRecord) map[string]*pb.Value {
	return map[string]*pb.Value{
		"record_id": stringValue(record.ID),
		"document":  stringValue(record.Document),
		"image_id":  stringValue(record.Metadata.ImageID),
		"filename":  stringValue(record.Metadata.Filename),
		"timestamp": stringValue(record.Metadata.Timestamp),
		"username":  stringValue(record.Metadata.Username),
		"category":  stringValue(string(record.Metadata.Category)),
	}
}

// Query returns the k nearest records in the handle's collection.
func (r *QdrantRepository) Query(ctx context.Context, handle domain.IndexHandle, vector []float32, k int) ([]domain.VectorMatch, error) {
	if k <= 0 {
		return []domain.VectorMatch{}, nil
	}

	resp, err := r.pointsClient.Search(ctx, &pb.SearchPoints{
		CollectionName: handle.Name(),
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []domain.VectorMatch{}, nil
		}
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	matches := make([]domain.VectorMatch, 0, len(resp.GetResult()))
	for _, scored := range resp.GetResult() {
		matches = append(matches, parseMatch(scored.GetScore(), scored.GetPayload()))
	}
	return matches, nil
}

func parseMatch(score float32, payload map[string]*pb.Value) domain.VectorMatch {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	return domain.VectorMatch{
		ID:       get("record_id"),
		Score:    score,
		Document: get("document"),
		Metadata: domain.VectorMetadata{
			ImageID:   get("image_id"),
			Filename:  get("filename"),
			Timestamp: get("timestamp"),
			Username:  get("username"),
			Category:  domain.ApparelType(get("category")),
		},
	}
}

// Delete deletes a point by record id. A missing collection or point is not an error.
func (r *QdrantRepository) Delete(ctx context.Context, handle domain.IndexHandle, id string) error {
	wait := true
	_, err := r.pointsClient.Delete(ctx, &pb.DeletePoints{
		CollectionName: handle.Name(),
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{pointIDValue(id)},
				},
			},
		},
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete point: %w", err)
	}
	return nil
}

// Drop deletes the handle's collection. A missing collection is not an error.
func (r *QdrantRepository) Drop(ctx context.Context, handle domain.IndexHandle) error {
	name := handle.Name()
	r.ensured.Delete(name)

	_, err := r.collectClient.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete collection %s: %w", name, err)
	}
	return nil
}
