// Package rest is the JSON-over-HTTP datastore.Client implementation that
// talks to the external datastore service: every
// request is a small JSON envelope over net/http, filter trees are rendered
// with squirrel the way internal/datastore/postgres renders them into SQL,
// and write-transaction failures are retried with backoff/v4 unless they
// are a lock conflict (which must surface immediately, not be retried).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
)

// Client is an HTTP client to the external datastore service.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// MaxElapsedTime bounds the exponential backoff applied to transport
	// failures on Write. Zero uses backoff's default.
	MaxElapsedTime time.Duration
}

// New builds a Client against baseURL with sane defaults.
func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type wireObject struct {
	Fields map[string]any `json:"fields"`
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rest: encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("rest: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &actionerror.DatastoreError{Detail: "datastore unreachable", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		// The datastore answers 400 only for a locked-fields rejection;
		// anything else wrong with the envelope is a bug on our side and
		// surfaces as a 5xx.
		return &actionerror.DatastoreError{Detail: "write rejected, a read position has advanced", Locked: true}
	}
	if resp.StatusCode != http.StatusOK {
		return &actionerror.DatastoreError{Detail: fmt.Sprintf("datastore returned status %d", resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decoding response: %w", err)
	}
	return nil
}

// Get implements datastore.Client.
func (c *Client) Get(ctx context.Context, id fqid.FQId, mappedFields []string) (*datastore.OrderedModel, datastore.Revision, error) {
	req := struct {
		FQId         string   `json:"fqid"`
		MappedFields []string `json:"mapped_fields"`
	}{FQId: id.String(), MappedFields: mappedFields}

	var resp struct {
		Object   wireObject `json:"object"`
		Position string     `json:"position"`
	}
	if err := c.post(ctx, "/get", req, &resp); err != nil {
		return nil, datastore.NoRevision, err
	}
	rev, err := decimal.NewFromString(resp.Position)
	if err != nil {
		return nil, datastore.NoRevision, fmt.Errorf("rest: malformed position %q: %w", resp.Position, err)
	}
	return toOrderedModel(resp.Object.Fields), rev, nil
}

func toOrderedModel(fields map[string]any) *datastore.OrderedModel {
	out := datastore.NewOrderedModel()
	for k, v := range fields {
		out.Set(k, v)
	}
	return out
}

// GetMany implements datastore.Client.
func (c *Client) GetMany(ctx context.Context, requests []datastore.GetManyRequest) (map[fqid.Collection]map[uint64]*datastore.OrderedModel, map[fqid.FQId]datastore.Revision, error) {
	wireReqs := make([]map[string]any, len(requests))
	for i, r := range requests {
		wireReqs[i] = map[string]any{"collection": r.Collection, "ids": r.IDs, "mapped_fields": r.MappedFields}
	}

	var resp struct {
		Objects   map[string]map[string]wireObject `json:"objects"`
		Positions map[string]string                `json:"positions"`
	}
	if err := c.post(ctx, "/get_many", map[string]any{"requests": wireReqs}, &resp); err != nil {
		return nil, nil, err
	}

	out := map[fqid.Collection]map[uint64]*datastore.OrderedModel{}
	revs := map[fqid.FQId]datastore.Revision{}
	for collection, byID := range resp.Objects {
		ids := map[uint64]*datastore.OrderedModel{}
		for idStr, obj := range byID {
			fq, err := fqid.ParseFQId(collection + fqid.KeySeparator + idStr)
			if err != nil {
				continue
			}
			ids[fq.ID] = toOrderedModel(obj.Fields)
			if posStr, ok := resp.Positions[fq.String()]; ok {
				if rev, err := decimal.NewFromString(posStr); err == nil {
					revs[fq] = rev
				}
			}
		}
		out[fqid.Collection(collection)] = ids
	}
	return out, revs, nil
}

// GetAll implements datastore.Client.
func (c *Client) GetAll(ctx context.Context, collection fqid.Collection, mappedFields []string) ([]*datastore.OrderedModel, error) {
	return c.filter(ctx, collection, nil, mappedFields)
}

// Filter implements datastore.Client, rendering the boolean tree with
// squirrel before sending it as a plain JSON predicate.
func (c *Client) Filter(ctx context.Context, collection fqid.Collection, filter datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	return c.filter(ctx, collection, &filter, mappedFields)
}

func (c *Client) filter(ctx context.Context, collection fqid.Collection, filter *datastore.Filter, mappedFields []string) ([]*datastore.OrderedModel, error) {
	req := map[string]any{"collection": collection, "mapped_fields": mappedFields}
	if filter != nil {
		sql, args, err := renderFilter(*filter)
		if err != nil {
			return nil, fmt.Errorf("rest: rendering filter: %w", err)
		}
		req["filter_sql"] = sql
		req["filter_args"] = args
	}

	var resp struct {
		Objects []wireObject `json:"objects"`
	}
	if err := c.post(ctx, "/filter", req, &resp); err != nil {
		return nil, err
	}
	out := make([]*datastore.OrderedModel, len(resp.Objects))
	for i, obj := range resp.Objects {
		out[i] = toOrderedModel(obj.Fields)
	}
	return out, nil
}

// renderFilter turns a datastore.Filter boolean tree into a parameterized
// predicate via squirrel, the same way internal/datastore/postgres renders
// it directly into SQL; here the rendered (sql, args) pair travels inside
// the JSON envelope instead of being executed locally, since this client
// only forwards requests to the external datastore service.
func renderFilter(f datastore.Filter) (string, []any, error) {
	return sqlizerFor(f).ToSql()
}

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
	switch f.Operator {
	case datastore.OpEqual:
		return sq.Eq{f.Field: f.Value}
	case datastore.OpNotEqual:
		return sq.NotEq{f.Field: f.Value}
	case datastore.OpLessThan:
		return sq.Lt{f.Field: f.Value}
	case datastore.OpGreaterThan:
		return sq.Gt{f.Field: f.Value}
	case datastore.OpLessEqual:
		return sq.LtOrEq{f.Field: f.Value}
	case datastore.OpGreaterEqual:
		return sq.GtOrEq{f.Field: f.Value}
	default:
		return sq.Eq{f.Field: f.Value}
	}
}

// Exists implements datastore.Client.
func (c *Client) Exists(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Found, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Found{}, err
	}
	return datastore.Found{Exists: len(results) > 0}, nil
}

// Count implements datastore.Client.
func (c *Client) Count(ctx context.Context, collection fqid.Collection, filter datastore.Filter) (datastore.Count, error) {
	results, err := c.Filter(ctx, collection, filter, nil)
	if err != nil {
		return datastore.Count{}, err
	}
	return datastore.Count{Count: uint64(len(results))}, nil
}

// Min implements datastore.Client.
func (c *Client) Min(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, "min")
}

// Max implements datastore.Client.
func (c *Client) Max(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field string) (datastore.Aggregate, error) {
	return c.aggregate(ctx, collection, filter, field, "max")
}

func (c *Client) aggregate(ctx context.Context, collection fqid.Collection, filter datastore.Filter, field, op string) (datastore.Aggregate, error) {
	sql, args, err := renderFilter(filter)
	if err != nil {
		return datastore.Aggregate{}, fmt.Errorf("rest: rendering filter: %w", err)
	}
	req := map[string]any{"collection": collection, "field": field, "op": op, "filter_sql": sql, "filter_args": args}
	var resp struct {
		Value any `json:"value"`
	}
	if err := c.post(ctx, "/aggregate", req, &resp); err != nil {
		return datastore.Aggregate{}, err
	}
	return datastore.Aggregate{Value: resp.Value}, nil
}

// ReserveIDs implements datastore.Client.
func (c *Client) ReserveIDs(ctx context.Context, collection fqid.Collection, n int) ([]uint64, error) {
	req := map[string]any{"collection": collection, "amount": n}
	var resp struct {
		IDs []uint64 `json:"ids"`
	}
	if err := c.post(ctx, "/reserve_ids", req, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// Write implements datastore.Client. Transport failures are retried with
// exponential backoff; a lock conflict is a business-rule rejection, not a
// transient fault, so it is returned to the caller immediately without
// consuming a retry.
func (c *Client) Write(ctx context.Context, element datastore.WriteRequestElement) (datastore.Revision, error) {
	wireEvents := make([]map[string]any, len(element.Events))
	for i, ev := range element.Events {
		entry := map[string]any{"type": string(ev.Type), "fqid": ev.FQId.String()}
		if ev.Fields != nil {
			entry["fields"] = ev.Fields.Map()
		}
		wireEvents[i] = entry
	}
	locked := make(map[string]string, len(element.LockedFields))
	for k, v := range element.LockedFields {
		locked[k] = v.String()
	}
	info := make(map[string][]string, len(element.Information))
	for k, v := range element.Information {
		info[k.String()] = v
	}
	req := map[string]any{
		"events":        wireEvents,
		"information":   info,
		"user_id":       element.UserID,
		"locked_fields": locked,
	}

	var resp struct {
		Position string `json:"position"`
	}

	op := func() error {
		err := c.post(ctx, "/write", req, &resp)
		if err == nil {
			return nil
		}
		if dsErr, ok := err.(*actionerror.DatastoreError); ok && dsErr.Locked {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Msg("retrying datastore write after transport failure")
		return err
	}

	b := backoff.NewExponentialBackOff()
	if c.MaxElapsedTime > 0 {
		b.MaxElapsedTime = c.MaxElapsedTime
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return datastore.NoRevision, err
	}

	parsed, err := decimal.NewFromString(resp.Position)
	if err != nil {
		return datastore.NoRevision, fmt.Errorf("rest: malformed position %q: %w", resp.Position, err)
	}
	return parsed, nil
}
