package database

import (
	"context"
	"fmt"
	"time"

	"kptv-player/work/classify"
	"kptv-player/work/session"
)

const defaultFailureLimit = 100

// FailureRow is one journaled terminal failure
type FailureRow struct {
	ID             int64                 `json:"id"`
	ItemID         string                `json:"itemId"`
	ItemName       string                `json:"itemName"`
	Transport      classify.Transport    `json:"transport"`
	ErrorKind      session.ErrorKind     `json:"errorKind"`
	Reason         session.FailureReason `json:"reason"`
	Message        string                `json:"message"`
	UsingProxy     bool                  `json:"usingProxy"`
	ProxyAttempted bool                  `json:"proxyAttempted"`
	FailedAt       time.Time             `json:"failedAt"`
}

// RecordFailure journals a terminal playback failure. It satisfies
// session.FailureRecorder.
func (db *DB) RecordFailure(ctx context.Context, f session.Failure) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO playback_failures
			(item_id, item_name, transport, error_kind, reason, message, using_proxy, proxy_attempted, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ItemID, f.ItemName, string(f.Transport), string(f.Kind), string(f.Reason), f.Message,
		boolToInt(f.UsingProxy), boolToInt(f.ProxyAttempted), at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record playback failure: %w", err)
	}
	return nil
}

// ListFailures returns the most recent failures first. An empty itemID
// lists every item; limit <= 0 means the default of 100.
func (db *DB) ListFailures(ctx context.Context, itemID string, limit int) ([]FailureRow, error) {
	if limit <= 0 {
		limit = defaultFailureLimit
	}

	query := `
		SELECT id, item_id, item_name, transport, error_kind, reason, message, using_proxy, proxy_attempted, failed_at
		FROM playback_failures
	`
	args := []any{}
	if itemID != "" {
		query += " WHERE item_id = ?"
		args = append(args, itemID)
	}
	query += " ORDER BY failed_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playback failures: %w", err)
	}
	defer rows.Close()

	var out []FailureRow
	for rows.Next() {
		var (
			r                     FailureRow
			transport, kind, rsn  string
			usingProxy, attempted int
			failedAt              int64
		)
		if err := rows.Scan(&r.ID, &r.ItemID, &r.ItemName, &transport, &kind, &rsn, &r.Message, &usingProxy, &attempted, &failedAt); err != nil {
			return nil, fmt.Errorf("failed to scan playback failure: %w", err)
		}
		r.Transport = classify.Transport(transport)
		r.ErrorKind = session.ErrorKind(kind)
		r.Reason = session.FailureReason(rsn)
		r.UsingProxy = usingProxy != 0
		r.ProxyAttempted = attempted != 0
		r.FailedAt = time.UnixMilli(failedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClearFailures deletes the journal rows of one item and returns how many went
func (db *DB) ClearFailures(ctx context.Context, itemID string) (int64, error) {
	res, err := db.ExecContext(ctx, "DELETE FROM playback_failures WHERE item_id = ?", itemID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear playback failures: %w", err)
	}
	return res.RowsAffected()
}

// PruneFailures deletes rows older than maxAge
func (db *DB) PruneFailures(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := db.ExecContext(ctx, "DELETE FROM playback_failures WHERE failed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune playback failures: %w", err)
	}
	return res.RowsAffected()
}

// FailureCounts returns the number of journaled failures per reason
func (db *DB) FailureCounts(ctx context.Context) (map[session.FailureReason]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT reason, COUNT(*) FROM playback_failures GROUP BY reason")
	if err != nil {
		return nil, fmt.Errorf("failed to count playback failures: %w", err)
	}
	defer rows.Close()

	counts := make(map[session.FailureReason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[session.FailureReason(reason)] = n
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
