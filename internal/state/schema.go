package state

const schemaVersion = 1

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  agent_a TEXT NOT NULL,
  agent_b TEXT NOT NULL,
  status TEXT NOT NULL,
  last_seq INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
  session_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  watermark_ms INTEGER NOT NULL,
  role TEXT NOT NULL,
  stream TEXT NOT NULL,
  act TEXT NOT NULL,
  text TEXT NOT NULL,
  meta TEXT,
  created_at TEXT NOT NULL,
  PRIMARY KEY (session_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_events_session_role ON events(session_id, role);

CREATE TABLE IF NOT EXISTS inbox (
  id TEXT PRIMARY KEY,
  session_id TEXT,
  text TEXT NOT NULL,
  meta TEXT,
  created_at TEXT NOT NULL,
  consumed_by TEXT,
  consumed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_inbox_pending ON inbox(consumed_at, id);
`
