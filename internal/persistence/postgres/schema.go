package postgres

// schema is the full DDL for the knowledge-graph store, installed by
// Migrate: CREATE TABLE IF NOT EXISTS blocks plus explicit indexes, one
// vector column per embedding field. Only nodes.embedding_reduced has an
// ivfflat index for approximate search.
const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS papers (
    id                  TEXT PRIMARY KEY,
    title               TEXT NOT NULL,
    abstract            TEXT NOT NULL DEFAULT '',
    year                INT NOT NULL DEFAULT 0,
    external_ids        JSONB NOT NULL DEFAULT '{}',
    embedding           vector(3072),
    embedding_reduced   vector(768),
    created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sections (
    id          TEXT PRIMARY KEY,
    paper_id    TEXT NOT NULL REFERENCES papers(id),
    type        TEXT NOT NULL,
    part_index  INT NOT NULL,
    content     TEXT NOT NULL,
    word_count  INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sections_paper ON sections (paper_id);

CREATE TABLE IF NOT EXISTS nodes (
    id                   TEXT PRIMARY KEY,
    type                 TEXT NOT NULL,
    canonical_name       TEXT NOT NULL,
    metadata             JSONB NOT NULL DEFAULT '{}',
    original_confidence  DOUBLE PRECISION NOT NULL,
    adjusted_confidence  DOUBLE PRECISION NOT NULL,
    review_status        TEXT NOT NULL,
    embedding            vector(3072),
    embedding_reduced    vector(768),
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_nodes_canonical ON nodes (canonical_name, type);
CREATE INDEX IF NOT EXISTS idx_nodes_reduced_ivfflat ON nodes
    USING ivfflat (embedding_reduced vector_cosine_ops) WITH (lists = 100);

CREATE TABLE IF NOT EXISTS edges (
    id                    TEXT PRIMARY KEY,
    source_node_id        TEXT NOT NULL REFERENCES nodes(id),
    target_node_id        TEXT NOT NULL REFERENCES nodes(id),
    type                  TEXT NOT NULL,
    confidence            DOUBLE PRECISION NOT NULL,
    evidence              TEXT NOT NULL,
    prov_paper_id         TEXT NOT NULL,
    prov_section_type     TEXT NOT NULL,
    prov_char_start       INT NOT NULL DEFAULT 0,
    prov_char_end         INT NOT NULL DEFAULT 0,
    prov_cross_paper_id   TEXT NOT NULL DEFAULT '',
    review_status         TEXT NOT NULL,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges (source_node_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_node_id);
CREATE INDEX IF NOT EXISTS idx_edges_dedup ON edges (source_node_id, target_node_id, type);

CREATE TABLE IF NOT EXISTS entity_mentions (
    node_id       TEXT NOT NULL REFERENCES nodes(id),
    paper_id      TEXT NOT NULL REFERENCES papers(id),
    section_type  TEXT NOT NULL,
    mention_count INT NOT NULL DEFAULT 1,
    PRIMARY KEY (node_id, paper_id, section_type)
);

CREATE TABLE IF NOT EXISTS entity_links (
    id           TEXT PRIMARY KEY,
    node_id      TEXT NOT NULL REFERENCES nodes(id),
    canonical_id TEXT NOT NULL REFERENCES nodes(id),
    type         TEXT NOT NULL,
    status       TEXT NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL,
    evidence     TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_entity_links_node ON entity_links (node_id);
CREATE INDEX IF NOT EXISTS idx_entity_links_canonical ON entity_links (canonical_id);

CREATE TABLE IF NOT EXISTS entity_aliases (
    canonical_id    TEXT NOT NULL REFERENCES nodes(id),
    alias_name      TEXT NOT NULL,
    normalized_form TEXT NOT NULL,
    PRIMARY KEY (canonical_id, normalized_form)
);

CREATE TABLE IF NOT EXISTS inferred_insights (
    id             TEXT PRIMARY KEY,
    insight_type   TEXT NOT NULL,
    subject_nodes  JSONB NOT NULL,
    reasoning_path JSONB NOT NULL,
    confidence     DOUBLE PRECISION NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
