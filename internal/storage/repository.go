package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	upsertAlertSQL = `INSERT INTO alerts (
        id,
        type,
        severity,
        title,
        description,
        subject_coin,
        subject_pair,
        source,
        dedup_key,
        status,
        measurement,
        threshold_value,
        current_value,
        metadata,
        context,
        ack_required,
        resolvable,
        created_at,
        acknowledged_at,
        resolved_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
    )
    ON CONFLICT (id) DO UPDATE
    SET
        status          = EXCLUDED.status,
        measurement     = EXCLUDED.measurement,
        metadata        = EXCLUDED.metadata,
        context         = EXCLUDED.context,
        acknowledged_at = EXCLUDED.acknowledged_at,
        resolved_at     = EXCLUDED.resolved_at,
        updated_at      = now();`

	updateAlertStatusSQL = `UPDATE alerts
    SET status = $2, acknowledged_at = $3, resolved_at = $4, updated_at = now()
    WHERE id = $1;`

	listAlertsBetweenSQL = `SELECT
        id,
        type,
        severity,
        title,
        description,
        subject_coin,
        subject_pair,
        source,
        dedup_key,
        status,
        measurement,
        threshold_value,
        current_value,
        metadata,
        context,
        ack_required,
        resolvable,
        created_at,
        acknowledged_at,
        resolved_at,
        updated_at
    FROM alerts
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	insertTradeSQL = `INSERT INTO trades (id, symbol, side, price, quantity, executed_at)
    VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (id) DO NOTHING;`

	listTradesSinceSQL = `SELECT id, symbol, side, price::text, quantity::text, executed_at
    FROM trades
    WHERE executed_at >= $1
    ORDER BY executed_at;`

	upsertSnapshotSQL = `INSERT INTO portfolio_snapshots (taken_at, total_value, net_invested, holdings)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (taken_at) DO UPDATE
    SET total_value  = EXCLUDED.total_value,
        net_invested = EXCLUDED.net_invested,
        holdings     = EXCLUDED.holdings;`

	snapshotAtOrBeforeSQL = `SELECT taken_at, total_value::text, net_invested::text, holdings
    FROM portfolio_snapshots
    WHERE taken_at <= $1
    ORDER BY taken_at DESC
    LIMIT 1;`

	snapshotsBetweenSQL = `SELECT taken_at, total_value::text, net_invested::text, holdings
    FROM portfolio_snapshots
    WHERE taken_at >= $1
      AND taken_at <= $2
    ORDER BY taken_at;`
)

// Store persists alerts, trades and portfolio snapshots in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// SaveAlert inserts an alert or refreshes its mutable columns.
func (s *Store) SaveAlert(ctx context.Context, a *alert.Alert, measurement float64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	row := newAlertRow(a, measurement)
	metadata, err := encodeAttributesJSON(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode alert metadata: %w", err)
	}
	contextBlob, err := encodeAttributesJSON(a.Context)
	if err != nil {
		return fmt.Errorf("encode alert context: %w", err)
	}

	_, execErr := pool.Exec(ctx, upsertAlertSQL,
		row.ID,
		row.Type,
		row.Severity,
		row.Title,
		row.Description,
		row.SubjectCoin,
		row.SubjectPair,
		row.Source,
		row.DedupKey,
		row.Status,
		row.Measurement,
		row.ThresholdValue,
		row.CurrentValue,
		metadata,
		contextBlob,
		row.AckRequired,
		row.Resolvable,
		row.CreatedAt,
		row.AcknowledgedAt,
		row.ResolvedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert alert: %w", execErr)
	}
	return nil
}

// UpdateAlertStatus mirrors a lifecycle transition.
func (s *Store) UpdateAlertStatus(ctx context.Context, a *alert.Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	cmdTag, execErr := pool.Exec(ctx, updateAlertStatusSQL, a.ID, string(a.Status), utcPtr(a.AcknowledgedAt), utcPtr(a.ResolvedAt))
	if execErr != nil {
		return fmt.Errorf("update alert status: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAlertsBetween lists alerts created in [from, to).
func (s *Store) ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts between: %w", queryErr)
	}
	defer rows.Close()

	records := make([]AlertRecord, 0)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// InsertTrade records an executed trade; duplicates are ignored.
func (s *Store) InsertTrade(ctx context.Context, t market.Trade) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertTradeSQL,
		t.ID,
		t.Symbol,
		string(t.Side),
		t.Price.String(),
		t.Quantity.String(),
		t.ExecutedAt.UTC(),
	); execErr != nil {
		return fmt.Errorf("insert trade: %w", execErr)
	}
	return nil
}

// TradesSince lists trades executed at or after since, oldest first.
func (s *Store) TradesSince(ctx context.Context, since time.Time) ([]market.Trade, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTradesSinceSQL, since)
	if queryErr != nil {
		return nil, fmt.Errorf("list trades since: %w", queryErr)
	}
	defer rows.Close()

	trades := make([]market.Trade, 0)
	for rows.Next() {
		var (
			t                  market.Trade
			side               string
			priceStr, quantity string
		)
		if scanErr := rows.Scan(&t.ID, &t.Symbol, &side, &priceStr, &quantity, &t.ExecutedAt); scanErr != nil {
			return nil, fmt.Errorf("scan trade: %w", scanErr)
		}
		price, qty, convErr := parseDecimalPair(priceStr, quantity)
		if convErr != nil {
			return nil, fmt.Errorf("parse trade %s: %w", t.ID, convErr)
		}
		t.Side = market.Side(side)
		t.Price, t.Quantity = price, qty
		t.ExecutedAt = t.ExecutedAt.UTC()
		trades = append(trades, t)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

// InsertSnapshot records a portfolio valuation keyed by its timestamp.
func (s *Store) InsertSnapshot(ctx context.Context, snap market.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	holdings, err := json.Marshal(toHoldingRows(snap.Holdings))
	if err != nil {
		return fmt.Errorf("encode holdings: %w", err)
	}
	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		snap.TakenAt.UTC(),
		snap.TotalValue.String(),
		snap.NetInvested.String(),
		holdings,
	); execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// SnapshotAtOrBefore returns the latest snapshot taken no later than at.
func (s *Store) SnapshotAtOrBefore(ctx context.Context, at time.Time) (market.Snapshot, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.Snapshot{}, false, err
	}
	snap, scanErr := scanSnapshot(pool.QueryRow(ctx, snapshotAtOrBeforeSQL, at))
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return market.Snapshot{}, false, nil
	}
	if scanErr != nil {
		return market.Snapshot{}, false, fmt.Errorf("snapshot at or before: %w", scanErr)
	}
	return snap, true, nil
}

// SnapshotsBetween lists snapshots in [from, to], oldest first.
func (s *Store) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, snapshotsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]market.Snapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSnapshot(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan snapshot: %w", scanErr)
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		r                     alertRow
		metadata, contextBlob []byte
	)
	if err := rows.Scan(
		&r.ID,
		&r.Type,
		&r.Severity,
		&r.Title,
		&r.Description,
		&r.SubjectCoin,
		&r.SubjectPair,
		&r.Source,
		&r.DedupKey,
		&r.Status,
		&r.Measurement,
		&r.ThresholdValue,
		&r.CurrentValue,
		&metadata,
		&contextBlob,
		&r.AckRequired,
		&r.Resolvable,
		&r.CreatedAt,
		&r.AcknowledgedAt,
		&r.ResolvedAt,
		&r.UpdatedAt,
	); err != nil {
		return AlertRecord{}, fmt.Errorf("scan alert: %w", err)
	}

	meta, err := decodeAttributesJSON(metadata)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
	}
	ctxAttrs, err := decodeAttributesJSON(contextBlob)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("decode context of %s: %w", r.ID, err)
	}
	return r.record(meta, ctxAttrs)
}

func scanSnapshot(row pgx.Row) (market.Snapshot, error) {
	var (
		snap               market.Snapshot
		totalStr, invested string
		holdings           []byte
	)
	if err := row.Scan(&snap.TakenAt, &totalStr, &invested, &holdings); err != nil {
		return market.Snapshot{}, err
	}
	total, net, err := parseDecimalPair(totalStr, invested)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("parse snapshot values: %w", err)
	}
	var decoded []holdingRow
	if len(holdings) > 0 {
		if err := json.Unmarshal(holdings, &decoded); err != nil {
			return market.Snapshot{}, fmt.Errorf("decode holdings: %w", err)
		}
	}
	items, err := fromHoldingRows(decoded)
	if err != nil {
		return market.Snapshot{}, err
	}
	snap.TakenAt = snap.TakenAt.UTC()
	snap.TotalValue, snap.NetInvested = total, net
	snap.Holdings = items
	return snap, nil
}

var _ Backend = (*Store)(nil)
