package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// Store writes records into audit_logs.
type Store struct {
	pool *pgxpool.Pool
}

var _ Repository = (*Store)(nil)

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Insert persists the record and returns its id.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	before, err := marshalNullable(rec.Before)
	if err != nil {
		return 0, err
	}
	after, err := marshalNullable(rec.After)
	if err != nil {
		return 0, err
	}
	details, err := marshalNullable(rec.Details)
	if err != nil {
		return 0, err
	}
	var refID any
	if rec.RefID > 0 {
		refID = rec.RefID
	}
	var at any
	if !rec.At.IsZero() {
		at = rec.At
	}
	var id int64
	err = s.pool.QueryRow(ctx, `INSERT INTO audit_logs (occurred_at, actor, action, module, ref_id, before, after, details)
VALUES (COALESCE($1, NOW()), $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		at, rec.Actor, rec.Action, rec.Module, refID, before, after, details).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("audit: insert: %w", db.MapError(err))
	}
	return id, nil
}

// Window returns records newest first after applying filters.
func (s *Store) Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Record, error) {
	query := `SELECT id, occurred_at, actor, action, module, COALESCE(ref_id, 0), before, after, details FROM audit_logs`
	var where []string
	args := []any{}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, clause+strconv.Itoa(len(args)))
	}
	if !filters.From.IsZero() {
		add(`occurred_at >= $`, filters.From)
	}
	if !filters.To.IsZero() {
		add(`occurred_at <= $`, filters.To)
	}
	if v := strings.TrimSpace(filters.Actor); v != "" {
		add(`actor = $`, v)
	}
	if v := strings.TrimSpace(filters.Module); v != "" {
		add(`module = $`, v)
	}
	if v := strings.TrimSpace(filters.Action); v != "" {
		add(`action = $`, v)
	}
	if filters.RefID > 0 {
		add(`ref_id = $`, filters.RefID)
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	args = append(args, limit, offset)
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: window: %w", db.MapError(err))
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var before, after, details []byte
		if err := rows.Scan(&rec.ID, &rec.At, &rec.Actor, &rec.Action, &rec.Module, &rec.RefID, &before, &after, &details); err != nil {
			return nil, err
		}
		if rec.Before, err = unmarshalNullable(before); err != nil {
			return nil, err
		}
		if rec.After, err = unmarshalNullable(after); err != nil {
			return nil, err
		}
		if rec.Details, err = unmarshalNullable(details); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalNullable(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("audit: encode: %w", err)
	}
	return raw, nil
}

func unmarshalNullable(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("audit: decode: %w", err)
	}
	return m, nil
}
