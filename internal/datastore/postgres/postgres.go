// Package postgres is a direct-to-Postgres datastore.Client, an alternative
// to internal/datastore/rest for deployments that want this process talking
// to the database itself instead of through the external datastore service.
// Queries are built with squirrel and executed through pgx/v4: one
// "objects" table holds every collection, fields stored as JSONB, with a
// global revision counter column stamped on every write.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

const (
	tableObjects = "objects"
	tableCounter = "object_counters"

	colCollection = "collection"
	colID         = "id"
	colRevision   = "revision"
	colFields     = "fields"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Schema is the DDL for the objects table, the per-collection id counter
// table and the global revision sequence this client uses. It is exposed so
// cmd/backend's "serve" setup can apply it, one statement per pool Exec,
// before the pool starts serving requests; this package does not migrate the
// database itself.
const Schema = `
CREATE TABLE IF NOT EXISTS ` + tableObjects + ` (
	` + colCollection + ` text NOT NULL,
	` + colID + ` bigint NOT NULL,
	` + colRevision + ` bigint NOT NULL,
	` + colFields + ` jsonb NOT NULL,
	PRIMARY KEY (` + colCollection + `, ` + colID + `)
);
CREATE TABLE IF NOT EXISTS ` + tableCounter + ` (
	` + colCollection + ` text PRIMARY KEY,
	next_id bigint NOT NULL DEFAULT 1
);
CREATE SEQUENCE IF NOT EXISTS global_revision;
`

// Client is a datastore.Client backed directly by a Postgres database.
type Client struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool against dsn. Callers are expected to have already
// applied Schema (directly, or via a migration tool) before serving traffic.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connecting: %w", err)
	}
	return &Client{pool: pool}, nil
}

// New wraps an already-open pool, for callers (tests, cmd/backend) that
// manage the pool's lifecycle themselves.
func New(pool *pgxpool.Pool) *Client {
	return &Client{pool: pool}
}

// Close releases the underlying pool.
func (c *Client) Close() {
	c.pool.Close()
}

func scanFields(raw []byte, mappedFields []string) (*datastore.OrderedModel, error) {
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("postgres: decoding fields: %w", err)
	}
	out := datastore.NewOrderedModel()
	if mappedFields == nil {
		for k, v := range all {
			out.Set(k, v)
		}
		return out, nil
	}
	for _, f := range mappedFields {
		if v, ok := all[f]; ok {
			out.Set(f, v)
		}
	}
	return out, nil
}

// Get implements datastore.Client.
func (c *Client) Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error) {
	sql, args, err := psql.Select(colRevision, colFields).From(tableObjects).
		Where(sq.Eq{colCollection: string(id.Collection), colID: id.ID}).ToSql()
	if err != nil {
		return nil, datastore.NoRevision, fmt.Errorf("postgres: building query: %w", err)
	}

	var rev int64
	var raw []byte
	if err := c.pool.QueryRow(ctx, sql, args...).Scan(&rev, &raw); err != nil {
		if err == pgx.ErrNoRows {
			return nil, datastore.NoRevision, actionerror.NewActionError("you try to reference an instance of %s that does not exist", id.Collection)
		}
		return nil, datastore.NoRevision, fmt.Errorf("postgres: querying %s: %w", id, err)
	}
	fields, err := scanFields(raw, mappedFields)
	if err != nil {
		return nil, datastore.NoRevision, err
	}
	return fields, decimal.NewFromInt(rev), nil
}

// GetMany implements datastore.Client.
func (c *Client) GetMany(ctx context.Context, requests []datastore.GetManyRequest) (map[fqid.Collection]map[uint64]*datastore.OrderedModel, map[fqid.FQId]datastore.Revision, error) {
	out := map[fqid.Collection]map[uint64]*datastore.OrderedModel{}
	revs := map[fqid.FQId]datastore.Revision{}

	for _, req := range requests {
		if len(req.IDs) == 0 {
			continue
		}
		ids := make([]uint64, len(req.IDs))
		copy(ids, req.IDs)

		sql, args, err := psql.Select(colID, colRevision, colFields).From(tableObjects).
			Where(sq.Eq{colCollection: string(req.Collection), colID: ids}).ToSql()
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: building query: %w", err)
		}
		rows, err := c.pool.Query(ctx, sql, args...)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: querying %s: %w", req.Collection, err)
		}
		byID := map[uint64]*datastore.OrderedModel{}
		for rows.Next() {
			var id uint64
			var rev int64
			var raw []byte
			if err := rows.Scan(&id, &rev, &raw); err != nil {
				rows.Close()
				return nil, nil, fmt.Errorf("postgres: scanning %s: %w", req.Collection, err)
			}
			fields, err := scanFields(raw, req.MappedFields)
			if err != nil {
				rows.Close()
				return nil, nil, err
			}
			byID[id] = fields
			revs[fqid.FQId{Collection: req.Collection, ID: id}] = decimal.NewFromInt(rev)
		}
		rows.Close()
		out[req.Collection] = byID
	}
	return out, revs, nil
}

// GetAll implements datastore.Client.
func (c *Client) GetAll(ctx context.Context, collection fqid.Collection, mappedFields []string) ([]*datastore.OrderedModel, error) {
	return c.filter(ctx, collection, nil, mappedFields)
}

// Filter implements datastore.Client, rendering the boolean tree directly
// into a parameterized SQL predicate via squirrel.
func (c *Client) Filter(ctx context.Context, collection fqid.Collection, filter datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	return c.filter(ctx, collection, &filter, mappedFields)
}

func (c *Client) filter(ctx context.Context, collection fqid.Collection, filter *datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	builder := psql.Select(colFields).From(tableObjects).Where(sq.Eq{colCollection: string(collection)})
	if filter != nil {
		builder = builder.Where(sqlizerFor(*filter))
	}
	sql, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: building query: %w", err)
	}
	rows, err := c.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: querying %s: %w", collection, err)
	}
	defer rows.Close()

	var out []*datastore.OrderedModel
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("postgres: scanning %s: %w", collection, err)
		}
		fields, err := scanFields(raw, mappedFields)
		if err != nil {
			return nil, err
		}
		out = append(out, fields)
	}
	return out, nil
}

// sqlizerFor renders a datastore.Filter boolean tree into a squirrel
// Sqlizer over the fields JSONB column using the ->> operator.
func sqlizerFor(f datastore.Filter) sq.Sqlizer {
	if f.Not != nil {
		return sq.Expr("NOT (?)", sqlizerFor(*f.Not))
	}
	if len(f.And) > 0 {
		conj := sq.And{}
		for _, sub := range f.And {
			conj = append(conj, sqlizerFor(sub))
		}
		return conj
	}
	if len(f.Or) > 0 {
		disj := sq.Or{}
		for _, sub := range f.Or {
			disj = append(disj, sqlizerFor(sub))
		}
		return disj
	}
	jsonField := fmt.Sprintf("%s->>'%s'", colFields, f.Field)
	switch f.Operator {
	case datastore.OpEqual:
		return sq.Expr(jsonField+" = ?", fmt.Sprintf("%v", f.Value))
	case datastore.OpNotEqual:
		return sq.Expr(jsonField+" != ?", fmt.Sprintf("%v", f.Value))
	case datastore.OpLessThan:
		return sq.Expr("("+jsonField+")::numeric < ?", f.Value)
	case datastore.OpGreaterThan:
		return sq.Expr("("+jsonField+")::numeric > ?", f.Value)
	case datastore.OpLessEqual:
		return sq.Expr("("+jsonField+")::numeric <= ?", f.Value)
	case datastore.OpGreaterEqual:
		return sq.Expr("("+jsonField+")::numeric >= ?", f.Value)
	default:
		return sq.Expr(jsonField+" = ?", fmt.Sprintf("%v", f.Value))
	}
}

// Exists implements datastore.Client.
func (c *Client) Exists(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Found, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Found{}, err
	}
	pos, err := c.currentPosition(ctx)
	if err != nil {
		return datastore.Found{}, err
	}
	return datastore.Found{Exists: len(results) > 0, Position: pos}, nil
}

// Count implements datastore.Client.
func (c *Client) Count(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Count, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Count{}, err
	}
	pos, err := c.currentPosition(ctx)
	if err != nil {
		return datastore.Count{}, err
	}
	return datastore.Count{Count: uint64(len(results)), Position: pos}, nil
}

// Min implements datastore.Client.
func (c *Client) Min(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, "MIN")
}

// Max implements datastore.Client.
func (c *Client) Max(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, "MAX")
}

func (c *Client) aggregate(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field, fn string) (datastore.Aggregate, error) {
	expr := fmt.Sprintf("%s((%s->>'%s')::numeric)", fn, colFields, field)
	builder := psql.Select(expr).From(tableObjects).Where(sq.Eq{colCollection: string(collection)}).Where(sqlizerFor(filter))
	sql, args, err := builder.ToSql()
	if err != nil {
		return datastore.Aggregate{}, fmt.Errorf("postgres: building query: %w", err)
	}
	var value *float64
	if err := c.pool.QueryRow(ctx, sql, args...).Scan(&value); err != nil {
		return datastore.Aggregate{}, fmt.Errorf("postgres: aggregating %s.%s: %w", collection, field, err)
	}
	pos, err := c.currentPosition(ctx)
	if err != nil {
		return datastore.Aggregate{}, err
	}
	if value == nil {
		return datastore.Aggregate{Position: pos}, nil
	}
	return datastore.Aggregate{Value: *value, Position: pos}, nil
}

func (c *Client) currentPosition(ctx context.Context) (datastore.Revision, error) {
	var rev int64
	if err := c.pool.QueryRow(ctx, "SELECT last_value FROM global_revision").Scan(&rev); err != nil {
		return datastore.NoRevision, fmt.Errorf("postgres: reading revision: %w", err)
	}
	return decimal.NewFromInt(rev), nil
}

// ReserveIDs implements datastore.Client with a row-locked per-collection
// counter (upsert then increment).
func (c *Client) ReserveIDs(ctx context.Context, collection fqid.Collection, n int) ([]uint64, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sql := `
INSERT INTO ` + tableCounter + ` (collection, next_id) VALUES ($1, 1)
ON CONFLICT (collection) DO UPDATE SET next_id = ` + tableCounter + `.next_id
RETURNING next_id`

	var start uint64
	if err := tx.QueryRow(ctx, sql, string(collection)).Scan(&start); err != nil {
		return nil, fmt.Errorf("postgres: reading id counter for %s: %w", collection, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE `+tableCounter+` SET next_id = next_id + $1 WHERE collection = $2`, n, string(collection)); err != nil {
		return nil, fmt.Errorf("postgres: advancing id counter for %s: %w", collection, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: committing id reservation: %w", err)
	}

	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = start + uint64(i)
	}
	return out, nil
}

// Write implements datastore.Client. Every locked field is re-checked
// against the stored revision inside the same transaction that applies the
// events, so a concurrent writer either loses the race (and its Write
// returns a locked *actionerror.DatastoreError) or never overlaps at all.
func (c *Client) Write(ctx context.Context, element datastore.WriteRequestElement) (datastore.Revision, error) {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return datastore.NoRevision, fmt.Errorf("postgres: beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for key, minRev := range element.LockedFields {
		id, err := fqid.ParseFQId(key)
		if err != nil {
			continue
		}
		var rev int64
		sql, args, buildErr := psql.Select(colRevision).From(tableObjects).
			Where(sq.Eq{colCollection: string(id.Collection), colID: id.ID}).ToSql()
		if buildErr != nil {
			return datastore.NoRevision, fmt.Errorf("postgres: building lock check: %w", buildErr)
		}
		err = tx.QueryRow(ctx, sql, args...).Scan(&rev)
		if err != nil && err != pgx.ErrNoRows {
			return datastore.NoRevision, fmt.Errorf("postgres: checking lock on %s: %w", id, err)
		}
		if err == nil && decimal.NewFromInt(rev).GreaterThan(minRev) {
			return datastore.NoRevision, &actionerror.DatastoreError{
				Detail: fmt.Sprintf("%s changed since it was read", id), Locked: true,
			}
		}
	}

	var newRev int64
	if err := tx.QueryRow(ctx, `SELECT nextval('global_revision')`).Scan(&newRev); err != nil {
		return datastore.NoRevision, fmt.Errorf("postgres: advancing revision: %w", err)
	}

	for _, ev := range element.Events {
		if err := applyEvent(ctx, tx, ev, newRev); err != nil {
			return datastore.NoRevision, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return datastore.NoRevision, fmt.Errorf("postgres: committing write: %w", err)
	}
	return decimal.NewFromInt(newRev), nil
}

func applyEvent(ctx context.Context, tx pgx.Tx, ev datastore.Event, rev int64) error {
	switch ev.Type {
	case datastore.EventCreate:
		raw, err := json.Marshal(ev.Fields.Map())
		if err != nil {
			return fmt.Errorf("postgres: encoding fields for %s: %w", ev.FQId, err)
		}
		sql, args, err := psql.Insert(tableObjects).
			Columns(colCollection, colID, colRevision, colFields).
			Values(string(ev.FQId.Collection), ev.FQId.ID, rev, raw).ToSql()
		if err != nil {
			return fmt.Errorf("postgres: building insert: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return &actionerror.DatastoreError{Detail: fmt.Sprintf("%s already exists", ev.FQId)}
			}
			return fmt.Errorf("postgres: creating %s: %w", ev.FQId, err)
		}

	case datastore.EventUpdate:
		var raw []byte
		selSQL, selArgs, err := psql.Select(colFields).From(tableObjects).
			Where(sq.Eq{colCollection: string(ev.FQId.Collection), colID: ev.FQId.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("postgres: building select: %w", err)
		}
		if err := tx.QueryRow(ctx, selSQL, selArgs...).Scan(&raw); err != nil && err != pgx.ErrNoRows {
			return fmt.Errorf("postgres: reading %s: %w", ev.FQId, err)
		}
		current := map[string]any{}
		if raw != nil {
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("postgres: decoding %s: %w", ev.FQId, err)
			}
		}
		for _, k := range ev.Fields.Keys() {
			v, _ := ev.Fields.Get(k)
			current[k] = v
		}
		merged, err := json.Marshal(current)
		if err != nil {
			return fmt.Errorf("postgres: encoding %s: %w", ev.FQId, err)
		}
		updSQL, updArgs, err := psql.Insert(tableObjects).
			Columns(colCollection, colID, colRevision, colFields).
			Values(string(ev.FQId.Collection), ev.FQId.ID, rev, merged).
			Suffix("ON CONFLICT (collection, id) DO UPDATE SET revision = EXCLUDED.revision, fields = EXCLUDED.fields").
			ToSql()
		if err != nil {
			return fmt.Errorf("postgres: building upsert: %w", err)
		}
		if _, err := tx.Exec(ctx, updSQL, updArgs...); err != nil {
			return fmt.Errorf("postgres: updating %s: %w", ev.FQId, err)
		}

	case datastore.EventDelete:
		sql, args, err := psql.Delete(tableObjects).
			Where(sq.Eq{colCollection: string(ev.FQId.Collection), colID: ev.FQId.ID}).ToSql()
		if err != nil {
			return fmt.Errorf("postgres: building delete: %w", err)
		}
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("postgres: deleting %s: %w", ev.FQId, err)
		}
	}
	return nil
}
