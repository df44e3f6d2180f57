package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/market"
)

// AlertRecord is a persisted alert with the measurement it was raised on.
type AlertRecord struct {
	Alert       *alert.Alert
	Measurement float64
	UpdatedAt   time.Time
}

// AlertWriter persists admitted alerts and mirrors their status changes.
type AlertWriter interface {
	SaveAlert(ctx context.Context, a *alert.Alert, measurement float64) error
	UpdateAlertStatus(ctx context.Context, a *alert.Alert) error
}

// AlertReader lists persisted alerts.
type AlertReader interface {
	ListAlertsBetween(ctx context.Context, from, to time.Time) ([]AlertRecord, error)
}

// TradeStore records executed trades.
type TradeStore interface {
	InsertTrade(ctx context.Context, t market.Trade) error
	TradesSince(ctx context.Context, since time.Time) ([]market.Trade, error)
}

// SnapshotStore records portfolio valuations.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, s market.Snapshot) error
	SnapshotAtOrBefore(ctx context.Context, at time.Time) (market.Snapshot, bool, error)
	SnapshotsBetween(ctx context.Context, from, to time.Time) ([]market.Snapshot, error)
}

// Backend is the full persistence surface used by the application.
type Backend interface {
	AlertWriter
	AlertReader
	TradeStore
	SnapshotStore
	Close() error
}

// alertRow is the column form shared by both backends.
type alertRow struct {
	ID             string
	Type           string
	Severity       string
	Title          string
	Description    string
	SubjectCoin    string
	SubjectPair    string
	Source         string
	DedupKey       string
	Status         string
	Measurement    float64
	ThresholdValue *float64
	CurrentValue   *float64
	AckRequired    bool
	Resolvable     bool
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
	ResolvedAt     *time.Time
	UpdatedAt      time.Time
}

func newAlertRow(a *alert.Alert, measurement float64) alertRow {
	return alertRow{
		ID:             a.ID,
		Type:           string(a.Type),
		Severity:       a.Severity.String(),
		Title:          a.Title,
		Description:    a.Description,
		SubjectCoin:    a.SubjectCoin,
		SubjectPair:    a.SubjectPair,
		Source:         a.Source,
		DedupKey:       a.DedupKey,
		Status:         string(a.Status),
		Measurement:    measurement,
		ThresholdValue: a.ThresholdValue,
		CurrentValue:   a.CurrentValue,
		AckRequired:    a.AcknowledgementRequired,
		Resolvable:     a.Resolvable,
		CreatedAt:      a.CreatedAt.UTC(),
		AcknowledgedAt: utcPtr(a.AcknowledgedAt),
		ResolvedAt:     utcPtr(a.ResolvedAt),
	}
}

func (r alertRow) record(metadata, ctxAttrs alert.Attributes) (AlertRecord, error) {
	sev, err := alert.ParseSeverity(r.Severity)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse severity of %s: %w", r.ID, err)
	}
	a := &alert.Alert{
		ID:                      r.ID,
		Type:                    alert.Type(r.Type),
		Severity:                sev,
		Title:                   r.Title,
		Description:             r.Description,
		SubjectCoin:             r.SubjectCoin,
		SubjectPair:             r.SubjectPair,
		ThresholdValue:          r.ThresholdValue,
		CurrentValue:            r.CurrentValue,
		Source:                  r.Source,
		DedupKey:                r.DedupKey,
		Metadata:                metadata,
		Context:                 ctxAttrs,
		Status:                  alert.Status(r.Status),
		CreatedAt:               r.CreatedAt.UTC(),
		AcknowledgedAt:          utcPtr(r.AcknowledgedAt),
		ResolvedAt:              utcPtr(r.ResolvedAt),
		AcknowledgementRequired: r.AckRequired,
		Resolvable:              r.Resolvable,
	}
	return AlertRecord{Alert: a, Measurement: r.Measurement, UpdatedAt: r.UpdatedAt.UTC()}, nil
}

// holdingRow keeps decimal quantities as strings inside encoded blobs.
type holdingRow struct {
	Asset    string `json:"asset" msgpack:"asset"`
	Quantity string `json:"quantity" msgpack:"quantity"`
	Value    string `json:"value" msgpack:"value"`
	Source   string `json:"source" msgpack:"source"`
}

func toHoldingRows(holdings []market.Holding) []holdingRow {
	rows := make([]holdingRow, 0, len(holdings))
	for _, h := range holdings {
		rows = append(rows, holdingRow{
			Asset:    h.Asset,
			Quantity: h.Quantity.String(),
			Value:    h.Value.String(),
			Source:   h.Source,
		})
	}
	return rows
}

func fromHoldingRows(rows []holdingRow) ([]market.Holding, error) {
	out := make([]market.Holding, 0, len(rows))
	for _, r := range rows {
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("parse holding quantity %s: %w", r.Asset, err)
		}
		value, err := decimal.NewFromString(r.Value)
		if err != nil {
			return nil, fmt.Errorf("parse holding value %s: %w", r.Asset, err)
		}
		out = append(out, market.Holding{Asset: r.Asset, Quantity: qty, Value: value, Source: r.Source})
	}
	return out, nil
}

func encodeAttributesJSON(a alert.Attributes) ([]byte, error) {
	return json.Marshal(a)
}

func decodeAttributesJSON(data []byte) (alert.Attributes, error) {
	var out alert.Attributes
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return alert.Attributes{}, err
	}
	return out, nil
}

func parseDecimalPair(a, b string) (decimal.Decimal, decimal.Decimal, error) {
	first, err := decimal.NewFromString(a)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	second, err := decimal.NewFromString(b)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return first, second, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
