package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const neo4jWriteTimeout = 30 * time.Second

// Neo4jTarget projects entities into a knowledge graph: one Entity node
// per entity, FILED_UNDER relationships to folder tag nodes and TAGGED
// relationships to content tag nodes. MERGE keys everything by id/path,
// so re-applying a projection is a no-op rather than a duplicate.
type Neo4jTarget struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jTarget connects to Neo4j and verifies connectivity.
func NewNeo4jTarget(uri, username, password, database string, logger *slog.Logger) (*Neo4jTarget, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating Neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), neo4jWriteTimeout)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verifying Neo4j connection at %s: %w", uri, err)
	}

	logger.Info("connected to Neo4j", "uri", uri, "database", database)
	return &Neo4jTarget{driver: driver, database: database, logger: logger}, nil
}

func (n *Neo4jTarget) Name() string { return "neo4j" }

const upsertEntityCypher = `
MERGE (e:Entity {id: $id})
SET e.title = $title,
    e.source = $source,
    e.version = $version,
    e.updated_at = $updated_at
WITH e
OPTIONAL MATCH (e)-[r:FILED_UNDER|TAGGED]->()
DELETE r
WITH DISTINCT e
FOREACH (path IN $folder_tags |
  MERGE (f:FolderTag {path: path})
  MERGE (e)-[:FILED_UNDER]->(f))
FOREACH (tag IN $content_tags |
  MERGE (t:ContentTag {name: tag})
  MERGE (e)-[:TAGGED]->(t))`

func (n *Neo4jTarget) Upsert(ctx context.Context, p Payload) error {
	ctx, cancel := context.WithTimeout(ctx, neo4jWriteTimeout)
	defer cancel()

	params := map[string]any{
		"id":         p.EntityID,
		"title":      p.Title,
		"source":     p.Source,
		"version":    p.Version,
		"updated_at": p.UpdatedAt.Format(time.RFC3339),
		// FOREACH needs non-nil lists.
		"folder_tags":  emptyIfNil(p.Tags.FolderTags),
		"content_tags": emptyIfNil(p.Tags.ContentTags),
	}

	_, err := neo4j.ExecuteQuery(ctx, n.driver, upsertEntityCypher, params,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("upserting graph node %s: %w", p.EntityID, err)
	}
	n.logger.Debug("projected entity to neo4j", "entity", p.EntityID, "version", p.Version)
	return nil
}

func (n *Neo4jTarget) Delete(ctx context.Context, entityID string) error {
	ctx, cancel := context.WithTimeout(ctx, neo4jWriteTimeout)
	defer cancel()

	_, err := neo4j.ExecuteQuery(ctx, n.driver,
		`MATCH (e:Entity {id: $id}) DETACH DELETE e`,
		map[string]any{"id": entityID},
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(n.database))
	if err != nil {
		return fmt.Errorf("deleting graph node %s: %w", entityID, err)
	}
	return nil
}

func (n *Neo4jTarget) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), neo4jWriteTimeout)
	defer cancel()
	return n.driver.Close(ctx)
}

func emptyIfNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
