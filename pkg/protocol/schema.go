package protocol

// SchemaDDL defines the SQLite schema for the argent runtime database.
// Tables: players, messages, trust_records, trust_events, knowledge_facts, jobs, transcripts, events.
// Execute against a SQLite database with: db.Exec(SchemaDDL)
const SchemaDDL = `
-- Players: the collaborator entity consulted for communication mode
CREATE TABLE IF NOT EXISTS players (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    communication_mode TEXT NOT NULL DEFAULT 'immersive',
    access_key TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

-- One row per exchange side. content is only populated for web-only players.
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY,
    player_id TEXT NOT NULL,
    persona_id TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL,
    direction TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    sender_name TEXT NOT NULL DEFAULT '',
    subject TEXT,
    content TEXT,
    html_content TEXT,
    external_id TEXT NOT NULL DEFAULT '',
    classification TEXT,
    classified_at TEXT,
    read_at TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_player_session ON messages(player_id, session_id);
CREATE INDEX IF NOT EXISTS idx_messages_player_persona ON messages(player_id, persona_id, direction);

-- Per (player, persona) trust ledger
CREATE TABLE IF NOT EXISTS trust_records (
    player_id TEXT NOT NULL,
    persona_id TEXT NOT NULL,
    score INTEGER NOT NULL DEFAULT 0 CHECK (score BETWEEN -100 AND 100),
    interaction_count INTEGER NOT NULL DEFAULT 0,
    last_interaction_at TEXT,
    PRIMARY KEY (player_id, persona_id)
);

-- Append-only trust audit trail
CREATE TABLE IF NOT EXISTS trust_events (
    id INTEGER PRIMARY KEY,
    player_id TEXT NOT NULL,
    persona_id TEXT NOT NULL,
    delta INTEGER NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    message_id INTEGER,
    created_at TEXT NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trust_events_no_update BEFORE UPDATE ON trust_events BEGIN
    SELECT RAISE(ABORT, 'trust_events is append-only');
END;

CREATE TRIGGER IF NOT EXISTS trust_events_no_delete BEFORE DELETE ON trust_events BEGIN
    SELECT RAISE(ABORT, 'trust_events is append-only');
END;

-- Facts a player has learned, deduplicated on normalized text
CREATE TABLE IF NOT EXISTS knowledge_facts (
    id INTEGER PRIMARY KEY,
    player_id TEXT NOT NULL,
    fact TEXT NOT NULL,
    normalized TEXT NOT NULL,
    category TEXT NOT NULL,
    source_persona TEXT NOT NULL,
    message_id INTEGER,
    created_at TEXT NOT NULL,
    UNIQUE (player_id, normalized)
);

-- Durable job queue for deferred story beats
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    handler TEXT NOT NULL,
    event_id TEXT NOT NULL DEFAULT '',
    player_id TEXT NOT NULL,
    context TEXT NOT NULL DEFAULT '{}',
    run_at TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at);

-- Conversation transcript used for generation and extraction history
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY,
    player_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    persona_id TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(player_id, session_id, id);

-- Runtime event log: scheduler, job and pipeline lifecycle events
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source TEXT NOT NULL,
    player_id TEXT,
    persona_id TEXT,
    payload TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);
`

// MigrateMessageHTML adds the html_content column to messages tables created
// before rich email bodies were stored.
const MigrateMessageHTML = `ALTER TABLE messages ADD COLUMN html_content TEXT;`

// MigrateJobEventID adds the event_id column to job tables created before jobs
// carried the story event they were scheduled for.
const MigrateJobEventID = `ALTER TABLE jobs ADD COLUMN event_id TEXT NOT NULL DEFAULT '';`
