package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	qdrantDialTimeout  = 10 * time.Second
	qdrantWriteTimeout = 30 * time.Second
)

// QdrantTarget projects entities into a Qdrant collection for semantic
// search. The point id is the entity id, so repeated upserts of the
// same entity overwrite rather than duplicate.
type QdrantTarget struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collName    string
	dimension   uint64
	logger      *slog.Logger
}

// NewQdrantTarget connects to Qdrant and verifies the connection.
func NewQdrantTarget(host string, port int, collection string, dimension uint64, useTLS bool, logger *slog.Logger) (*QdrantTarget, error) {
	addr := fmt.Sprintf("%s:%d", host, port)

	opts := []grpc.DialOption{}
	if !useTLS {
		logger.Warn("Qdrant connection using insecure credentials (no TLS)")
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to Qdrant at %s: %w", addr, err)
	}

	dialCtx, dialCancel := context.WithTimeout(context.Background(), qdrantDialTimeout)
	defer dialCancel()
	if _, err := pb.NewCollectionsClient(conn).List(dialCtx, &pb.ListCollectionsRequest{}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("verifying Qdrant connection at %s: %w", addr, err)
	}

	logger.Info("connected to Qdrant", "addr", addr, "collection", collection)

	return &QdrantTarget{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collName:    collection,
		dimension:   dimension,
		logger:      logger,
	}, nil
}

func (q *QdrantTarget) Name() string { return "qdrant" }

// EnsureCollection creates the collection and its payload indexes if
// they do not exist yet.
func (q *QdrantTarget) EnsureCollection(ctx context.Context) error {
	rctx, rcancel := context.WithTimeout(ctx, qdrantDialTimeout)
	defer rcancel()
	resp, err := q.collections.List(rctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("listing collections: %w", err)
	}
	for _, c := range resp.GetCollections() {
		if c.GetName() == q.collName {
			return nil
		}
	}

	wctx, wcancel := context.WithTimeout(ctx, qdrantWriteTimeout)
	defer wcancel()
	_, err = q.collections.Create(wctx, &pb.CreateCollection{
		CollectionName: q.collName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     q.dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", q.collName, err)
	}
	q.logger.Info("created collection", "name", q.collName, "dimension", q.dimension)

	for _, field := range []string{"source", "folder_tags", "content_tags"} {
		ictx, icancel := context.WithTimeout(ctx, qdrantWriteTimeout)
		_, err := q.points.CreateFieldIndex(ictx, &pb.CreateFieldIndexCollection{
			CollectionName: q.collName,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		icancel()
		if err != nil {
			q.logger.Warn("creating field index", "field", field, "error", err)
		}
	}
	return nil
}

func (q *QdrantTarget) Upsert(ctx context.Context, p Payload) error {
	ctx, cancel := context.WithTimeout(ctx, qdrantWriteTimeout)
	defer cancel()

	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collName,
		Points: []*pb.PointStruct{
			{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Uuid{Uuid: p.EntityID},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: p.Vector},
					},
				},
				Payload: entityPayload(p),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upserting point %s: %w", p.EntityID, err)
	}
	q.logger.Debug("projected entity to qdrant", "entity", p.EntityID, "version", p.Version)
	return nil
}

func (q *QdrantTarget) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := context.WithTimeout(ctx, qdrantWriteTimeout)
	defer cancel()
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: entityID}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting point %s: %w", entityID, err)
	}
	return nil
}

func (q *QdrantTarget) Close() error {
	return q.conn.Close()
}

func entityPayload(p Payload) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"title":      {Kind: &pb.Value_StringValue{StringValue: p.Title}},
		"content":    {Kind: &pb.Value_StringValue{StringValue: p.Content}},
		"source":     {Kind: &pb.Value_StringValue{StringValue: p.Source}},
		"version":    {Kind: &pb.Value_IntegerValue{IntegerValue: p.Version}},
		"updated_at": {Kind: &pb.Value_StringValue{StringValue: p.UpdatedAt.Format(time.RFC3339)}},
	}
	if len(p.Tags.FolderTags) > 0 {
		payload["folder_tags"] = stringList(p.Tags.FolderTags)
	}
	if len(p.Tags.ContentTags) > 0 {
		payload["content_tags"] = stringList(p.Tags.ContentTags)
	}
	for key, value := range p.Tags.Status {
		payload["status_"+key] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: value}}
	}
	return payload
}

func stringList(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, item := range items {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: item}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}
