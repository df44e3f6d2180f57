package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/market"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// SQLiteStore persists the same data as Store in a single SQLite file.
// Timestamps are unix nanoseconds; metadata, context and holdings are
// msgpack blobs.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. A "file:" URI or ":memory:" is used as-is.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, ErrNotConfigured
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve sqlite path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
		path = abs
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection keeps in-memory databases shared and serialises writers
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveAlert inserts an alert or refreshes its mutable columns.
func (s *SQLiteStore) SaveAlert(ctx context.Context, a *alert.Alert, measurement float64) error {
	row := newAlertRow(a, measurement)
	metadata, err := msgpack.Marshal(a.Metadata.Map())
	if err != nil {
		return fmt.Errorf("encode alert metadata: %w", err)
	}
	contextBlob, err := msgpack.Marshal(a.Context.Map())
	if err != nil {
		return fmt.Errorf("encode alert context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO alerts (
        id, type, severity, title, description, subject_coin, subject_pair,
        source, dedup_key, status, measurement, threshold_value, current_value,
        metadata, context, ack_required, resolvable, created_at,
        acknowledged_at, resolved_at, updated_at
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    ON CONFLICT (id) DO UPDATE SET
        status          = excluded.status,
        measurement     = excluded.measurement,
        metadata        = excluded.metadata,
        context         = excluded.context,
        acknowledged_at = excluded.acknowledged_at,
        resolved_at     = excluded.resolved_at,
        updated_at      = excluded.updated_at`,
		row.ID, row.Type, row.Severity, row.Title, row.Description, row.SubjectCoin, row.SubjectPair,
		row.Source, row.DedupKey, row.Status, row.Measurement, nullFloat(row.ThresholdValue), nullFloat(row.CurrentValue),
		metadata, contextBlob, row.AckRequired, row.Resolvable, row.CreatedAt.UnixNano(),
		nullNanos(row.AcknowledgedAt), nullNanos(row.ResolvedAt), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert alert: %w", err)
	}
	return nil
}

// UpdateAlertStatus mirrors a lifecycle transition.
func (s *SQLiteStore) UpdateAlertStatus(ctx context.Context, a *alert.Alert) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, acknowledged_at = ?, resolved_at = ?, updated_at = ? WHERE id = ?`,
		string(a.Status), nullNanos(a.AcknowledgedAt), nullNanos(a.ResolvedAt), time.Now().UTC().UnixNano(), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAlertsBetween lists alerts created in [from, to).
func (s *SQLiteStore) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
        id, type, severity, title, description, subject_coin, subject_pair,
        source, dedup_key, status, measurement, threshold_value, current_value,
        metadata, context, ack_required, resolvable, created_at,
        acknowledged_at, resolved_at, updated_at
    FROM alerts
    WHERE created_at >= ? AND created_at < ?
    ORDER BY created_at`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list alerts between: %w", err)
	}
	defer rows.Close()

	records := make([]AlertRecord, 0)
	for rows.Next() {
		var (
			r                      alertRow
			threshold, current     sql.NullFloat64
			metadata, contextBlob  []byte
			created, updated       int64
			acknowledged, resolved sql.NullInt64
		)
		if err := rows.Scan(
			&r.ID, &r.Type, &r.Severity, &r.Title, &r.Description, &r.SubjectCoin, &r.SubjectPair,
			&r.Source, &r.DedupKey, &r.Status, &r.Measurement, &threshold, &current,
			&metadata, &contextBlob, &r.AckRequired, &r.Resolvable, &created,
			&acknowledged, &resolved, &updated,
		); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		r.ThresholdValue = floatPtr(threshold)
		r.CurrentValue = floatPtr(current)
		r.CreatedAt = fromNanos(created)
		r.UpdatedAt = fromNanos(updated)
		r.AcknowledgedAt = nanosPtr(acknowledged)
		r.ResolvedAt = nanosPtr(resolved)

		meta, err := decodeAttributesMsgpack(metadata)
		if err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
		}
		ctxAttrs, err := decodeAttributesMsgpack(contextBlob)
		if err != nil {
			return nil, fmt.Errorf("decode context of %s: %w", r.ID, err)
		}
		rec, err := r.record(meta, ctxAttrs)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// InsertTrade records an executed trade; duplicates are ignored.
func (s *SQLiteStore) InsertTrade(ctx context.Context, t market.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, symbol, side, price, quantity, executed_at) VALUES (?,?,?,?,?,?)
        ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Symbol, string(t.Side), t.Price.String(), t.Quantity.String(), t.ExecutedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// TradesSince lists trades executed at or after since, oldest first.
func (s *SQLiteStore) TradesSince(ctx context.Context, since time.Time) ([]market.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, symbol, side, price, quantity, executed_at FROM trades
        WHERE executed_at >= ? ORDER BY executed_at, id`, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list trades since: %w", err)
	}
	defer rows.Close()

	trades := make([]market.Trade, 0)
	for rows.Next() {
		var (
			t               market.Trade
			side            string
			price, quantity string
			executed        int64
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &price, &quantity, &executed); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		p, q, err := parseDecimalPair(price, quantity)
		if err != nil {
			return nil, fmt.Errorf("parse trade %s: %w", t.ID, err)
		}
		t.Side = market.Side(side)
		t.Price, t.Quantity = p, q
		t.ExecutedAt = fromNanos(executed)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return trades, nil
}

// InsertSnapshot records a portfolio valuation keyed by its timestamp.
func (s *SQLiteStore) InsertSnapshot(ctx context.Context, snap market.Snapshot) error {
	holdings, err := msgpack.Marshal(toHoldingRows(snap.Holdings))
	if err != nil {
		return fmt.Errorf("encode holdings: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (taken_at, total_value, net_invested, holdings) VALUES (?,?,?,?)
        ON CONFLICT (taken_at) DO UPDATE SET
            total_value  = excluded.total_value,
            net_invested = excluded.net_invested,
            holdings     = excluded.holdings`,
		snap.TakenAt.UnixNano(), snap.TotalValue.String(), snap.NetInvested.String(), holdings,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// SnapshotAtOrBefore returns the latest snapshot taken no later than at.
func (s *SQLiteStore) SnapshotAtOrBefore(ctx context.Context, at time.Time) (market.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT taken_at, total_value, net_invested, holdings FROM portfolio_snapshots
        WHERE taken_at <= ? ORDER BY taken_at DESC LIMIT 1`, at.UnixNano())
	snap, err := scanSQLiteSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return market.Snapshot{}, false, nil
	}
	if err != nil {
		return market.Snapshot{}, false, fmt.Errorf("snapshot at or before: %w", err)
	}
	return snap, true, nil
}

// SnapshotsBetween lists snapshots in [from, to], oldest first.
func (s *SQLiteStore) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT taken_at, total_value, net_invested, holdings FROM portfolio_snapshots
        WHERE taken_at >= ? AND taken_at <= ? ORDER BY taken_at`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list snapshots between: %w", err)
	}
	defer rows.Close()

	snaps := make([]market.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSQLiteSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snaps, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteSnapshot(row rowScanner) (market.Snapshot, error) {
	var (
		taken           int64
		total, invested string
		holdings        []byte
	)
	if err := row.Scan(&taken, &total, &invested, &holdings); err != nil {
		return market.Snapshot{}, err
	}
	totalValue, netInvested, err := parseDecimalPair(total, invested)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("parse snapshot values: %w", err)
	}
	var decoded []holdingRow
	if len(holdings) > 0 {
		if err := msgpack.Unmarshal(holdings, &decoded); err != nil {
			return market.Snapshot{}, fmt.Errorf("decode holdings: %w", err)
		}
	}
	items, err := fromHoldingRows(decoded)
	if err != nil {
		return market.Snapshot{}, err
	}
	return market.Snapshot{
		TakenAt:     fromNanos(taken),
		TotalValue:  totalValue,
		NetInvested: netInvested,
		Holdings:    items,
	}, nil
}

func decodeAttributesMsgpack(data []byte) (alert.Attributes, error) {
	if len(data) == 0 {
		return alert.Attributes{}, nil
	}
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return alert.Attributes{}, err
	}
	return alert.AttributesFromMap(m)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nanosPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ Backend = (*SQLiteStore)(nil)
