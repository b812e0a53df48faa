// Package postgres implements internal/persistence.Repository over
// PostgreSQL + pgvector: a single *pgxpool.Pool shared across all methods,
// typed pgvector.Vector column binding, and pgx.CollectRows for scanning
// result sets.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/rcliao/briefkg/internal/graph"
	"github.com/rcliao/briefkg/internal/persistence"
)

// orNewID fills in a generated id when the caller left it empty, matching
// the in-memory store's semantics.
func orNewID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

// Store is the pgx-backed Repository implementation.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and returns a Store. Call Migrate before first use.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate installs the pgvector extension and creates every table/index if
// absent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

func vecOrNil(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

func (s *Store) UpsertPaper(ctx context.Context, p graph.Paper) error {
	ext, err := json.Marshal(p.ExternalIDs)
	if err != nil {
		return fmt.Errorf("postgres: marshal external ids: %w", err)
	}
	const q = `
		INSERT INTO papers (id, title, abstract, year, external_ids, embedding, embedding_reduced)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    title = EXCLUDED.title,
		    abstract = EXCLUDED.abstract,
		    year = EXCLUDED.year,
		    external_ids = EXCLUDED.external_ids,
		    embedding = COALESCE(EXCLUDED.embedding, papers.embedding),
		    embedding_reduced = COALESCE(EXCLUDED.embedding_reduced, papers.embedding_reduced),
		    updated_at = now()`
	_, err = s.pool.Exec(ctx, q, p.ID, p.Title, p.Abstract, p.Year, ext, vecOrNil(p.Embedding), vecOrNil(p.EmbeddingReduced))
	if err != nil {
		return fmt.Errorf("postgres: upsert paper: %w", err)
	}
	return nil
}

func (s *Store) GetExistingPaperIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM papers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get existing paper ids: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *Store) GetPaperEmbedding(ctx context.Context, id string) ([]float32, error) {
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `SELECT embedding FROM papers WHERE id = $1`, id).Scan(&vec)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get paper embedding: %w", err)
	}
	return vec.Slice(), nil
}

func (s *Store) UpsertPaperEmbedding(ctx context.Context, id string, vec []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE papers SET embedding = $1, updated_at = now() WHERE id = $2`, pgvector.NewVector(vec), id)
	if err != nil {
		return fmt.Errorf("postgres: upsert paper embedding: %w", err)
	}
	return nil
}

func (s *Store) InsertSections(ctx context.Context, sections []graph.Section) error {
	batch := &pgx.Batch{}
	for _, sec := range sections {
		batch.Queue(`
			INSERT INTO sections (id, paper_id, type, part_index, content, word_count)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			orNewID(sec.ID), sec.PaperID, string(sec.Type), sec.PartIndex, sec.Content, sec.WordCount)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range sections {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert sections: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertNode(ctx context.Context, n graph.Node) (string, error) {
	meta, err := json.Marshal(n.Metadata)
	if err != nil {
		return "", fmt.Errorf("postgres: marshal node metadata: %w", err)
	}
	id := orNewID(n.ID)
	const q = `
		INSERT INTO nodes (id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, embedding, embedding_reduced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.pool.Exec(ctx, q, id, string(n.Type), n.CanonicalName, meta,
		n.OriginalConfidence, n.AdjustedConfidence, string(n.ReviewStatus), vecOrNil(n.Embedding), vecOrNil(n.EmbeddingReduced))
	if err != nil {
		return "", fmt.Errorf("postgres: insert node: %w", err)
	}
	return id, nil
}

func (s *Store) FindNodesByCanonical(ctx context.Context, keys []persistence.CanonicalKey) (map[persistence.CanonicalKey]graph.Node, error) {
	out := make(map[persistence.CanonicalKey]graph.Node, len(keys))
	for _, k := range keys {
		n, err := s.scanNodeRow(ctx, `SELECT id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, created_at
			FROM nodes WHERE canonical_name = $1 AND type = $2 LIMIT 1`, k.Key, string(k.Type))
		if err != nil {
			if err == pgx.ErrNoRows {
				continue
			}
			return nil, err
		}
		out[k] = n
	}
	return out, nil
}

func (s *Store) scanNodeRow(ctx context.Context, query string, args ...any) (graph.Node, error) {
	var (
		n    graph.Node
		meta []byte
	)
	row := s.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&n.ID, &n.Type, &n.CanonicalName, &meta, &n.OriginalConfidence, &n.AdjustedConfidence, &n.ReviewStatus, &n.CreatedAt); err != nil {
		return graph.Node{}, err
	}
	_ = json.Unmarshal(meta, &n.Metadata)
	return n, nil
}

func (s *Store) FindSimilarNodes(ctx context.Context, q persistence.SimilarNodesQuery) ([]persistence.SimilarNode, error) {
	const query = `
		SELECT id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, created_at,
		       1 - (embedding_reduced <=> $1) AS similarity
		FROM nodes
		WHERE type = $2 AND embedding_reduced IS NOT NULL
		  AND 1 - (embedding_reduced <=> $1) >= $3
		ORDER BY embedding_reduced <=> $1
		LIMIT $4`
	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(q.QueryIndexVec), string(q.Type), q.Threshold, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: find similar nodes: %w", err)
	}
	defer rows.Close()

	var out []persistence.SimilarNode
	for rows.Next() {
		var (
			n    graph.Node
			meta []byte
			sim  float64
		)
		if err := rows.Scan(&n.ID, &n.Type, &n.CanonicalName, &meta, &n.OriginalConfidence, &n.AdjustedConfidence, &n.ReviewStatus, &n.CreatedAt, &sim); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(meta, &n.Metadata)
		out = append(out, persistence.SimilarNode{Node: n, Similarity: sim})
	}
	return out, rows.Err()
}

func (s *Store) UpsertNodeEmbeddings(ctx context.Context, id string, raw, index []float32) error {
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET embedding = $1, embedding_reduced = $2 WHERE id = $3`,
		pgvector.NewVector(raw), pgvector.NewVector(index), id)
	if err != nil {
		return fmt.Errorf("postgres: upsert node embeddings: %w", err)
	}
	return nil
}

func (s *Store) GetNode(ctx context.Context, id string) (graph.Node, error) {
	n, err := s.scanNodeRow(ctx, `SELECT id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, created_at
		FROM nodes WHERE id = $1`, id)
	if err != nil {
		return graph.Node{}, fmt.Errorf("postgres: get node: %w", err)
	}
	return n, nil
}

func (s *Store) UpdateNodeConfidenceAndStatus(ctx context.Context, id string, adjusted float64, status graph.ReviewStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE nodes SET adjusted_confidence = $1, review_status = $2 WHERE id = $3`, adjusted, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update node status: %w", err)
	}
	return nil
}

func (s *Store) DeleteNodes(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM nodes WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete nodes: %w", err)
	}
	return nil
}

func (s *Store) InsertEdge(ctx context.Context, e graph.Edge) (string, error) {
	id := orNewID(e.ID)
	const q = `
		INSERT INTO edges (id, source_node_id, target_node_id, type, confidence, evidence,
		    prov_paper_id, prov_section_type, prov_char_start, prov_char_end, prov_cross_paper_id, review_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.pool.Exec(ctx, q, id, e.SourceNodeID, e.TargetNodeID, string(e.Type), e.Confidence, e.Evidence,
		e.Provenance.PaperID, string(e.Provenance.SectionType), e.Provenance.CharStart, e.Provenance.CharEnd,
		e.Provenance.CrossPaperPaperID, string(e.ReviewStatus))
	if err != nil {
		return "", fmt.Errorf("postgres: insert edge: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateEdgeEndpoints(ctx context.Context, id string, newSrc, newTgt *string) error {
	if newSrc != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE edges SET source_node_id = $1 WHERE id = $2`, *newSrc, id); err != nil {
			return fmt.Errorf("postgres: update edge source: %w", err)
		}
	}
	if newTgt != nil {
		if _, err := s.pool.Exec(ctx, `UPDATE edges SET target_node_id = $1 WHERE id = $2`, *newTgt, id); err != nil {
			return fmt.Errorf("postgres: update edge target: %w", err)
		}
	}
	return nil
}

func (s *Store) GetEdgesForNode(ctx context.Context, nodeID string) ([]graph.Edge, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_node_id, target_node_id, type, confidence, evidence,
		       prov_paper_id, prov_section_type, prov_char_start, prov_char_end, prov_cross_paper_id, review_status, created_at
		FROM edges WHERE source_node_id = $1 OR target_node_id = $1`, nodeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get edges for node: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, scanEdge)
}

func scanEdge(row pgx.CollectableRow) (graph.Edge, error) {
	var e graph.Edge
	err := row.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.Type, &e.Confidence, &e.Evidence,
		&e.Provenance.PaperID, &e.Provenance.SectionType, &e.Provenance.CharStart, &e.Provenance.CharEnd,
		&e.Provenance.CrossPaperPaperID, &e.ReviewStatus, &e.CreatedAt)
	return e, err
}

func (s *Store) DeleteEdges(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM edges WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete edges: %w", err)
	}
	return nil
}

func (s *Store) InsertEntityMentions(ctx context.Context, mentions []graph.EntityMention) error {
	batch := &pgx.Batch{}
	for _, m := range mentions {
		batch.Queue(`
			INSERT INTO entity_mentions (node_id, paper_id, section_type, mention_count)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (node_id, paper_id, section_type) DO UPDATE SET mention_count = entity_mentions.mention_count + EXCLUDED.mention_count`,
			m.NodeID, m.PaperID, string(m.SectionType), m.MentionCount)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range mentions {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert entity mentions: %w", err)
		}
	}
	return nil
}

func (s *Store) UpdateMentionsNode(ctx context.Context, loser, winner string) error {
	_, err := s.pool.Exec(ctx, `UPDATE entity_mentions SET node_id = $1 WHERE node_id = $2`, winner, loser)
	if err != nil {
		return fmt.Errorf("postgres: update mentions node: %w", err)
	}
	return nil
}

func (s *Store) MentionCount(ctx context.Context, nodeID string) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(mention_count), 0) FROM entity_mentions WHERE node_id = $1`, nodeID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: mention count: %w", err)
	}
	return total, nil
}

func (s *Store) InsertEntityLink(ctx context.Context, link graph.EntityLink) (string, error) {
	id := orNewID(link.ID)
	const q = `
		INSERT INTO entity_links (id, node_id, canonical_id, type, status, confidence, evidence)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.pool.Exec(ctx, q, id, link.NodeID, link.CanonicalID, string(link.Type), string(link.Status), link.Confidence, link.Evidence)
	if err != nil {
		return "", fmt.Errorf("postgres: insert entity link: %w", err)
	}
	return id, nil
}

func (s *Store) GetEntityLinks(ctx context.Context, filter persistence.EntityLinkFilter) ([]graph.EntityLink, error) {
	q := `SELECT id, node_id, canonical_id, type, status, confidence, evidence, created_at FROM entity_links WHERE TRUE`
	var args []any
	if filter.NodeID != "" {
		args = append(args, filter.NodeID)
		q += fmt.Sprintf(" AND node_id = $%d", len(args))
	}
	if filter.CanonicalID != "" {
		args = append(args, filter.CanonicalID)
		q += fmt.Sprintf(" AND canonical_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: get entity links: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.EntityLink, error) {
		var l graph.EntityLink
		err := row.Scan(&l.ID, &l.NodeID, &l.CanonicalID, &l.Type, &l.Status, &l.Confidence, &l.Evidence, &l.CreatedAt)
		return l, err
	})
}

func (s *Store) UpdateEntityLinkStatus(ctx context.Context, id string, status graph.LinkStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE entity_links SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("postgres: update entity link status: %w", err)
	}
	return nil
}

func (s *Store) InsertEntityAlias(ctx context.Context, canonical string, aliasName, normalized string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_aliases (canonical_id, alias_name, normalized_form)
		VALUES ($1, $2, $3)
		ON CONFLICT (canonical_id, normalized_form) DO NOTHING`, canonical, aliasName, normalized)
	if err != nil {
		return fmt.Errorf("postgres: insert entity alias: %w", err)
	}
	return nil
}

func (s *Store) GetAliases(ctx context.Context, canonical string) ([]graph.EntityAlias, error) {
	rows, err := s.pool.Query(ctx, `SELECT canonical_id, alias_name, normalized_form FROM entity_aliases WHERE canonical_id = $1`, canonical)
	if err != nil {
		return nil, fmt.Errorf("postgres: get aliases: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (graph.EntityAlias, error) {
		var a graph.EntityAlias
		err := row.Scan(&a.CanonicalID, &a.AliasName, &a.NormalizedForm)
		return a, err
	})
}

func (s *Store) InsertInsights(ctx context.Context, insights []graph.InferredInsight) error {
	batch := &pgx.Batch{}
	for _, ins := range insights {
		subjects, _ := json.Marshal(ins.SubjectNodes)
		path, _ := json.Marshal(ins.ReasoningPath)
		batch.Queue(`
			INSERT INTO inferred_insights (id, insight_type, subject_nodes, reasoning_path, confidence)
			VALUES ($1, $2, $3, $4, $5)`, orNewID(ins.ID), string(ins.Type), subjects, path, ins.Confidence)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range insights {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert insights: %w", err)
		}
	}
	return nil
}

func (s *Store) GetGraphData(ctx context.Context) (persistence.GraphData, error) {
	var data persistence.GraphData
	nodeRows, err := s.pool.Query(ctx, `SELECT id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, created_at FROM nodes`)
	if err != nil {
		return data, fmt.Errorf("postgres: get graph data nodes: %w", err)
	}
	data.Nodes, err = pgx.CollectRows(nodeRows, func(row pgx.CollectableRow) (graph.Node, error) {
		var (
			n    graph.Node
			meta []byte
		)
		if err := row.Scan(&n.ID, &n.Type, &n.CanonicalName, &meta, &n.OriginalConfidence, &n.AdjustedConfidence, &n.ReviewStatus, &n.CreatedAt); err != nil {
			return n, err
		}
		_ = json.Unmarshal(meta, &n.Metadata)
		return n, nil
	})
	if err != nil {
		return data, fmt.Errorf("postgres: scan graph data nodes: %w", err)
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT id, source_node_id, target_node_id, type, confidence, evidence,
		       prov_paper_id, prov_section_type, prov_char_start, prov_char_end, prov_cross_paper_id, review_status, created_at
		FROM edges`)
	if err != nil {
		return data, fmt.Errorf("postgres: get graph data edges: %w", err)
	}
	data.Edges, err = pgx.CollectRows(edgeRows, scanEdge)
	if err != nil {
		return data, fmt.Errorf("postgres: scan graph data edges: %w", err)
	}
	return data, nil
}

func (s *Store) GetSubgraph(ctx context.Context, seedNodeIDs []string, depth int) (persistence.Subgraph, error) {
	var sub persistence.Subgraph
	const q = `
		WITH RECURSIVE reached(id, hops) AS (
		    SELECT unnest($1::text[]), 0
		    UNION
		    SELECT CASE WHEN e.source_node_id = r.id THEN e.target_node_id ELSE e.source_node_id END, r.hops + 1
		    FROM edges e
		    JOIN reached r ON e.source_node_id = r.id OR e.target_node_id = r.id
		    WHERE r.hops < $2
		)
		SELECT DISTINCT id FROM reached`
	rows, err := s.pool.Query(ctx, q, seedNodeIDs, depth)
	if err != nil {
		return sub, fmt.Errorf("postgres: get subgraph node ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return sub, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return sub, err
	}
	if len(ids) == 0 {
		return sub, nil
	}

	nodeRows, err := s.pool.Query(ctx, `SELECT id, type, canonical_name, metadata, original_confidence, adjusted_confidence, review_status, created_at FROM nodes WHERE id = ANY($1)`, ids)
	if err != nil {
		return sub, fmt.Errorf("postgres: get subgraph nodes: %w", err)
	}
	sub.Nodes, err = pgx.CollectRows(nodeRows, func(row pgx.CollectableRow) (graph.Node, error) {
		var (
			n    graph.Node
			meta []byte
		)
		if err := row.Scan(&n.ID, &n.Type, &n.CanonicalName, &meta, &n.OriginalConfidence, &n.AdjustedConfidence, &n.ReviewStatus, &n.CreatedAt); err != nil {
			return n, err
		}
		_ = json.Unmarshal(meta, &n.Metadata)
		return n, nil
	})
	if err != nil {
		return sub, err
	}

	edgeRows, err := s.pool.Query(ctx, `
		SELECT id, source_node_id, target_node_id, type, confidence, evidence,
		       prov_paper_id, prov_section_type, prov_char_start, prov_char_end, prov_cross_paper_id, review_status, created_at
		FROM edges WHERE source_node_id = ANY($1) AND target_node_id = ANY($1)`, ids)
	if err != nil {
		return sub, fmt.Errorf("postgres: get subgraph edges: %w", err)
	}
	sub.Edges, err = pgx.CollectRows(edgeRows, scanEdge)
	return sub, err
}

var _ persistence.Repository = (*Store)(nil)
