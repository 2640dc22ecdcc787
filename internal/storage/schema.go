package storage

const Schema = `
CREATE TABLE IF NOT EXISTS articles (
    fingerprint TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    outlet TEXT,
    category TEXT NOT NULL,
    collected_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    excluded BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_articles_category ON articles(category, collected_at DESC);
CREATE INDEX IF NOT EXISTS idx_articles_collected ON articles(collected_at);

CREATE TABLE IF NOT EXISTS subscribers (
    email TEXT PRIMARY KEY,
    topic1 TEXT NOT NULL,
    topic2 TEXT NOT NULL,
    topic3 TEXT NOT NULL,
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS deliveries (
    subscriber_email TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    campaign_id TEXT NOT NULL,
    sent_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (subscriber_email, fingerprint)
);

CREATE INDEX IF NOT EXISTS idx_deliveries_fingerprint ON deliveries(fingerprint, sent_at);
CREATE INDEX IF NOT EXISTS idx_deliveries_campaign ON deliveries(campaign_id);

CREATE TABLE IF NOT EXISTS campaigns (
    id TEXT PRIMARY KEY,
    trigger_kind TEXT NOT NULL,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    subscribers_processed INTEGER NOT NULL DEFAULT 0,
    emails_generated INTEGER NOT NULL DEFAULT 0,
    failures INTEGER NOT NULL DEFAULT 0,
    notes TEXT
);

CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
