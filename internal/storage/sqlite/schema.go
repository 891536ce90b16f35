package sqlite

const schema = `
-- Sync configurations
CREATE TABLE IF NOT EXISTS sync_configurations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE CHECK(length(name) <= 200),
    source_connector TEXT NOT NULL,
    target_connector TEXT NOT NULL,
    direction TEXT NOT NULL DEFAULT 'one_way' CHECK(direction IN ('one_way', 'bidirectional')),
    conflict_strategy TEXT NOT NULL DEFAULT 'manual',
    trigger_type TEXT NOT NULL DEFAULT 'manual' CHECK(trigger_type IN ('manual', 'scheduled', 'webhook')),
    cron_expr TEXT NOT NULL DEFAULT '',
    active INTEGER NOT NULL DEFAULT 1,
    filter TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Type mappings: one source work item type -> one target work item type
CREATE TABLE IF NOT EXISTS type_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    config_id INTEGER NOT NULL REFERENCES sync_configurations(id) ON DELETE CASCADE,
    source_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    UNIQUE(config_id, source_type, target_type)
);

CREATE TABLE IF NOT EXISTS field_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type_mapping_id INTEGER NOT NULL REFERENCES type_mappings(id) ON DELETE CASCADE,
    source_field TEXT NOT NULL DEFAULT '',
    target_field TEXT NOT NULL,
    transform TEXT NOT NULL DEFAULT 'direct',
    transform_arg TEXT NOT NULL DEFAULT '',
    constant_value TEXT
);

CREATE TABLE IF NOT EXISTS status_mappings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type_mapping_id INTEGER NOT NULL REFERENCES type_mappings(id) ON DELETE CASCADE,
    source_status TEXT NOT NULL,
    target_status TEXT NOT NULL,
    UNIQUE(type_mapping_id, source_status)
);

-- Sync executions: one row per orchestrator run
CREATE TABLE IF NOT EXISTS sync_executions (
    id TEXT PRIMARY KEY,
    config_id INTEGER NOT NULL REFERENCES sync_configurations(id) ON DELETE CASCADE,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'completed', 'completed_with_errors', 'failed')),
    started_at DATETIME NOT NULL,
    completed_at DATETIME,
    items_synced INTEGER NOT NULL DEFAULT 0,
    items_failed INTEGER NOT NULL DEFAULT 0,
    conflicts_detected INTEGER NOT NULL DEFAULT 0,
    conflicts_resolved INTEGER NOT NULL DEFAULT 0,
    conflicts_unresolved INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

-- Work item versions: immutable snapshots, superseded by inserting new rows
CREATE TABLE IF NOT EXISTS work_item_versions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    config_id INTEGER NOT NULL REFERENCES sync_configurations(id) ON DELETE CASCADE,
    side TEXT NOT NULL CHECK(side IN ('source', 'target')),
    work_item_id TEXT NOT NULL,
    work_item_type TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL,
    revision INTEGER NOT NULL DEFAULT 0,
    changed_date DATETIME,
    changed_by TEXT NOT NULL DEFAULT '',
    fields TEXT NOT NULL DEFAULT '{}',
    content_hash TEXT NOT NULL,
    captured_at DATETIME NOT NULL,
    execution_id TEXT REFERENCES sync_executions(id) ON DELETE SET NULL,
    UNIQUE(config_id, side, work_item_id, version)
);

CREATE INDEX IF NOT EXISTS idx_versions_lookup
    ON work_item_versions(config_id, side, work_item_id, version DESC);

-- Conflicts detected during executions
CREATE TABLE IF NOT EXISTS conflicts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    config_id INTEGER NOT NULL REFERENCES sync_configurations(id) ON DELETE CASCADE,
    execution_id TEXT REFERENCES sync_executions(id) ON DELETE SET NULL,
    source_item_id TEXT NOT NULL,
    target_item_id TEXT NOT NULL DEFAULT '',
    work_item_type TEXT NOT NULL DEFAULT '',
    conflict_type TEXT NOT NULL CHECK(conflict_type IN ('field_conflict', 'version_conflict', 'deletion_conflict')),
    field_name TEXT NOT NULL DEFAULT '',
    source_value TEXT NOT NULL DEFAULT '',
    target_value TEXT NOT NULL DEFAULT '',
    base_value TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'unresolved' CHECK(status IN ('unresolved', 'resolved', 'ignored')),
    resolution_strategy TEXT NOT NULL DEFAULT '',
    resolved_value TEXT NOT NULL DEFAULT '',
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at DATETIME,
    metadata TEXT NOT NULL DEFAULT '{}',
    detected_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conflicts_status ON conflicts(config_id, status);
CREATE INDEX IF NOT EXISTS idx_conflicts_execution ON conflicts(execution_id);

-- Append-only audit trail of resolution actions
CREATE TABLE IF NOT EXISTS conflict_resolutions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conflict_id INTEGER NOT NULL REFERENCES conflicts(id) ON DELETE CASCADE,
    strategy TEXT NOT NULL,
    previous_value TEXT NOT NULL DEFAULT '',
    resolved_value TEXT NOT NULL DEFAULT '',
    rationale TEXT NOT NULL DEFAULT '',
    applied_to_source INTEGER NOT NULL DEFAULT 0,
    applied_to_target INTEGER NOT NULL DEFAULT 0,
    application_result TEXT NOT NULL DEFAULT '',
    resolved_by TEXT NOT NULL DEFAULT '',
    resolved_at DATETIME NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}'
);

-- Durable source item -> target item pairing
CREATE TABLE IF NOT EXISTS synced_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    config_id INTEGER NOT NULL REFERENCES sync_configurations(id) ON DELETE CASCADE,
    source_item_id TEXT NOT NULL,
    target_item_id TEXT NOT NULL,
    sync_count INTEGER NOT NULL DEFAULT 0,
    last_synced_at DATETIME NOT NULL,
    -- Target-side snapshot both sides last agreed on; the 3-way merge base.
    -- Advanced only when an item pair reaches a consistent state.
    base_version_id INTEGER REFERENCES work_item_versions(id) ON DELETE SET NULL,
    UNIQUE(config_id, source_item_id)
);

-- Per-item errors recorded during executions
CREATE TABLE IF NOT EXISTS sync_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_id TEXT NOT NULL REFERENCES sync_executions(id) ON DELETE CASCADE,
    item_id TEXT NOT NULL DEFAULT '',
    item_type TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Key/value configuration (connector credentials, tuning knobs)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
