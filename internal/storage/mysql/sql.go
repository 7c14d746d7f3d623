package mysql

// Pairs are unique. A repeated view keeps the original viewed_at unless it
// has aged out (viewed_at <= the stale bound), then the row is refreshed.
const insertViewSQL = `
INSERT INTO review_views (user_id, review_id, viewed_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE
  viewed_at = IF(viewed_at <= ?, VALUES(viewed_at), viewed_at)
`

const countDistinctSinceSQL = `
SELECT COUNT(DISTINCT review_id)
FROM review_views
WHERE user_id = ? AND viewed_at > ?
`

const hasViewedSinceSQL = `
SELECT EXISTS(
  SELECT 1 FROM review_views
  WHERE user_id = ? AND review_id = ? AND viewed_at > ?
)
`

const getUnlimitedSQL = `
SELECT has_unlimited_access FROM profiles WHERE id = ?
`

const upsertUnlimitedSQL = `
INSERT INTO profiles (id, has_unlimited_access)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE
  has_unlimited_access = VALUES(has_unlimited_access),
  updated_at           = CURRENT_TIMESTAMP
`
