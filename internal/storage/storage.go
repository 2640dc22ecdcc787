package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database holding articles, subscribers, the
// delivery ledger, and campaign records.
type Store struct {
	db *sql.DB
}

// StoreError marks a storage-layer failure. Jobs treat it as fatal for the
// current invocation; everything else is per-unit and survivable.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Article struct {
	Fingerprint string
	Title       string
	URL         string
	Outlet      string
	Category    string
	CollectedAt time.Time
	Excluded    bool
}

type Subscriber struct {
	Email     string
	Topics    [3]string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DeliveryEntry struct {
	SubscriberEmail string
	Fingerprint     string
	CampaignID      string
	SentAt          time.Time
}

type Campaign struct {
	ID                   string
	Trigger              string
	StartedAt            time.Time
	FinishedAt           *time.Time
	SubscribersProcessed int
	EmailsGenerated      int
	Failures             int
	Notes                string
}

// NewStore opens the database at dbPath and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Article management

// AddArticle inserts an article keyed by its fingerprint. Returns true when
// the row was inserted, false when the fingerprint already existed.
func (s *Store) AddArticle(a *Article) (bool, error) {
	if a.CollectedAt.IsZero() {
		a.CollectedAt = time.Now().UTC()
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO articles (fingerprint, title, url, outlet, category, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.Fingerprint, a.Title, a.URL, a.Outlet, a.Category, a.CollectedAt,
	)
	if err != nil {
		return false, storeErr("add article", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("add article", err)
	}
	return n > 0, nil
}

// HasArticle reports whether a fingerprint is already known.
func (s *Store) HasArticle(fingerprint string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM articles WHERE fingerprint = ?", fingerprint,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("lookup fingerprint", err)
	}
	return true, nil
}

// GetArticle returns a single article by fingerprint.
func (s *Store) GetArticle(fingerprint string) (*Article, error) {
	a := &Article{}
	err := s.db.QueryRow(
		`SELECT fingerprint, title, url, outlet, category, collected_at, excluded
		 FROM articles WHERE fingerprint = ?`, fingerprint,
	).Scan(&a.Fingerprint, &a.Title, &a.URL, &a.Outlet, &a.Category, &a.CollectedAt, &a.Excluded)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get article", err)
	}
	return a, nil
}

// ListEligible returns non-excluded articles in a category, newest first.
// The fingerprint tie-break keeps selection reproducible for a fixed
// snapshot of the store.
func (s *Store) ListEligible(category string, limit int) ([]Article, error) {
	rows, err := s.db.Query(
		`SELECT fingerprint, title, url, outlet, category, collected_at, excluded
		 FROM articles
		 WHERE category = ? AND excluded = 0
		 ORDER BY collected_at DESC, fingerprint ASC
		 LIMIT ?`, category, limit,
	)
	if err != nil {
		return nil, storeErr("list eligible", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ListRecentArticles returns the most recently collected articles across all
// categories, including excluded ones (the admin surface needs to see them).
func (s *Store) ListRecentArticles(limit int) ([]Article, error) {
	rows, err := s.db.Query(
		`SELECT fingerprint, title, url, outlet, category, collected_at, excluded
		 FROM articles
		 ORDER BY collected_at DESC, fingerprint ASC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("list recent articles", err)
	}
	defer rows.Close()
	return scanArticles(rows)
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	var articles []Article
	for rows.Next() {
		var a Article
		if err := rows.Scan(&a.Fingerprint, &a.Title, &a.URL, &a.Outlet,
			&a.Category, &a.CollectedAt, &a.Excluded); err != nil {
			return nil, storeErr("scan article", err)
		}
		articles = append(articles, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate articles", err)
	}
	return articles, nil
}

// SetExcluded toggles the admin exclusion flag on an article.
func (s *Store) SetExcluded(fingerprint string, excluded bool) error {
	res, err := s.db.Exec(
		"UPDATE articles SET excluded = ? WHERE fingerprint = ?",
		excluded, fingerprint,
	)
	if err != nil {
		return storeErr("set excluded", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("set excluded", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeOlderThan deletes articles collected before cutoff, keeping any whose
// fingerprint appears in a ledger entry at or after ledgerCutoff. The ledger
// itself is never touched; entries outlive the articles they reference.
func (s *Store) PurgeOlderThan(cutoff, ledgerCutoff time.Time) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM articles
		 WHERE collected_at < ?
		 AND fingerprint NOT IN (
		     SELECT fingerprint FROM deliveries WHERE sent_at >= ?
		 )`, cutoff, ledgerCutoff,
	)
	if err != nil {
		return 0, storeErr("purge articles", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr("purge articles", err)
	}
	return int(n), nil
}

// Subscriber management

// NormalizeEmail lowercases and trims an address; emails are case-insensitive
// identities throughout.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// UpsertSubscriber creates or updates a subscriber with exactly three topics,
// reactivating a previously unsubscribed address.
func (s *Store) UpsertSubscriber(email string, topics [3]string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO subscribers (email, topic1, topic2, topic3, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		     topic1 = excluded.topic1,
		     topic2 = excluded.topic2,
		     topic3 = excluded.topic3,
		     active = 1,
		     updated_at = excluded.updated_at`,
		NormalizeEmail(email), topics[0], topics[1], topics[2], now, now,
	)
	if err != nil {
		return storeErr("upsert subscriber", err)
	}
	return nil
}

// GetSubscriber returns a subscriber by (normalized) email.
func (s *Store) GetSubscriber(email string) (*Subscriber, error) {
	sub := &Subscriber{}
	err := s.db.QueryRow(
		`SELECT email, topic1, topic2, topic3, active, created_at, updated_at
		 FROM subscribers WHERE email = ?`, NormalizeEmail(email),
	).Scan(&sub.Email, &sub.Topics[0], &sub.Topics[1], &sub.Topics[2],
		&sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get subscriber", err)
	}
	return sub, nil
}

// ActiveSubscribers returns all active subscribers ordered by email, the
// stable iteration order campaigns rely on.
func (s *Store) ActiveSubscribers() ([]Subscriber, error) {
	rows, err := s.db.Query(
		`SELECT email, topic1, topic2, topic3, active, created_at, updated_at
		 FROM subscribers WHERE active = 1
		 ORDER BY email`,
	)
	if err != nil {
		return nil, storeErr("list subscribers", err)
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.Email, &sub.Topics[0], &sub.Topics[1], &sub.Topics[2],
			&sub.Active, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, storeErr("scan subscriber", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate subscribers", err)
	}
	return subs, nil
}

// DeactivateSubscriber soft-deletes a subscriber. The row is retained so the
// ledger keeps its meaning.
func (s *Store) DeactivateSubscriber(email string) error {
	res, err := s.db.Exec(
		"UPDATE subscribers SET active = 0, updated_at = ? WHERE email = ?",
		time.Now().UTC(), NormalizeEmail(email),
	)
	if err != nil {
		return storeErr("deactivate subscriber", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("deactivate subscriber", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delivery ledger

// RecordDelivery appends a ledger entry for one sent article. The composite
// primary key makes re-recording a no-op, which is what keeps campaign reruns
// convergent.
func (s *Store) RecordDelivery(email, fingerprint, campaignID string, sentAt time.Time) error {
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO deliveries (subscriber_email, fingerprint, campaign_id, sent_at)
		 VALUES (?, ?, ?, ?)`,
		NormalizeEmail(email), fingerprint, campaignID, sentAt,
	)
	if err != nil {
		return storeErr("record delivery", err)
	}
	return nil
}

// SentFingerprints returns the set of fingerprints ever delivered to a
// subscriber.
func (s *Store) SentFingerprints(email string) (map[string]bool, error) {
	rows, err := s.db.Query(
		"SELECT fingerprint FROM deliveries WHERE subscriber_email = ?",
		NormalizeEmail(email),
	)
	if err != nil {
		return nil, storeErr("load sent fingerprints", err)
	}
	defer rows.Close()

	sent := make(map[string]bool)
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, storeErr("scan fingerprint", err)
		}
		sent[fp] = true
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate fingerprints", err)
	}
	return sent, nil
}

// DeliveriesFor returns a subscriber's ledger entries, newest first.
func (s *Store) DeliveriesFor(email string) ([]DeliveryEntry, error) {
	rows, err := s.db.Query(
		`SELECT subscriber_email, fingerprint, campaign_id, sent_at
		 FROM deliveries WHERE subscriber_email = ?
		 ORDER BY sent_at DESC`, NormalizeEmail(email),
	)
	if err != nil {
		return nil, storeErr("list deliveries", err)
	}
	defer rows.Close()

	var entries []DeliveryEntry
	for rows.Next() {
		var e DeliveryEntry
		if err := rows.Scan(&e.SubscriberEmail, &e.Fingerprint, &e.CampaignID, &e.SentAt); err != nil {
			return nil, storeErr("scan delivery", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate deliveries", err)
	}
	return entries, nil
}

// Campaign records

// CreateCampaign inserts the campaign row at run start. An existing row with
// the same id is kept as is, so a run interrupted before finalize can be
// re-invoked under the same identifier.
func (s *Store) CreateCampaign(c *Campaign) error {
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO campaigns (id, trigger_kind, started_at, notes)
		 VALUES (?, ?, ?, ?)`,
		c.ID, c.Trigger, c.StartedAt, c.Notes,
	)
	if err != nil {
		return storeErr("create campaign", err)
	}
	return nil
}

// FinalizeCampaign records the aggregate counts once a run completes. The
// row is immutable afterwards.
func (s *Store) FinalizeCampaign(id string, finishedAt time.Time, processed, generated, failures int) error {
	res, err := s.db.Exec(
		`UPDATE campaigns
		 SET finished_at = ?, subscribers_processed = ?, emails_generated = ?, failures = ?
		 WHERE id = ? AND finished_at IS NULL`,
		finishedAt, processed, generated, failures, id,
	)
	if err != nil {
		return storeErr("finalize campaign", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("finalize campaign", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentCampaigns returns the most recent campaign records.
func (s *Store) RecentCampaigns(limit int) ([]Campaign, error) {
	rows, err := s.db.Query(
		`SELECT id, trigger_kind, started_at, finished_at,
		        subscribers_processed, emails_generated, failures, COALESCE(notes, '')
		 FROM campaigns
		 ORDER BY started_at DESC
		 LIMIT ?`, limit,
	)
	if err != nil {
		return nil, storeErr("list campaigns", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		var finished sql.NullTime
		if err := rows.Scan(&c.ID, &c.Trigger, &c.StartedAt, &finished,
			&c.SubscribersProcessed, &c.EmailsGenerated, &c.Failures, &c.Notes); err != nil {
			return nil, storeErr("scan campaign", err)
		}
		if finished.Valid {
			t := finished.Time
			c.FinishedAt = &t
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate campaigns", err)
	}
	return campaigns, nil
}

// Admin settings

// GetSetting returns a setting value, or "" when unset.
func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", storeErr("get setting", err)
	}
	return value, nil
}

// SetSetting stores a setting value, replacing any previous one.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return storeErr("set setting", err)
	}
	return nil
}
