package store

// schema contains all app-specific table definitions.
//
// Tables:
//   - cabildo_profiles - Encoded participant profiles
//   - cabildo_jobs - Background sync queue
//   - cabildo_outbox - Recorded outbound messages
//   - cabildo_media_cache - Downloaded voice clips
const schema = `
-- ============================================================
-- Profiles
-- version is bumped on every write; writers compare-and-swap on it
-- ============================================================
CREATE TABLE IF NOT EXISTS cabildo_profiles (
    wa_id TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- ============================================================
-- Jobs
-- status: pending | running | dead
-- available_at is unix millis; pending jobs with a future value are delayed
-- ============================================================
CREATE TABLE IF NOT EXISTS cabildo_jobs (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    wa_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending',
    attempt INTEGER NOT NULL DEFAULT 0,
    available_at INTEGER NOT NULL,
    last_error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cabildo_jobs_status ON cabildo_jobs(status, available_at);
CREATE INDEX IF NOT EXISTS idx_cabildo_jobs_wa_id ON cabildo_jobs(wa_id, status);

-- ============================================================
-- Outbox
-- ============================================================
CREATE TABLE IF NOT EXISTS cabildo_outbox (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    wa_id TEXT NOT NULL,
    body TEXT NOT NULL,
    sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cabildo_outbox_wa_id ON cabildo_outbox(wa_id, seq);

-- ============================================================
-- Media cache
-- ============================================================
CREATE TABLE IF NOT EXISTS cabildo_media_cache (
    message_id TEXT NOT NULL,
    wa_id TEXT NOT NULL,
    media_type TEXT NOT NULL,
    local_path TEXT NOT NULL,
    downloaded_at INTEGER,
    file_size INTEGER,
    PRIMARY KEY (message_id, wa_id)
);
`
