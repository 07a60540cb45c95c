// Package dispatch implements the action registry and the batch
// dispatcher: it looks up one Factory per dotted action name,
// runs every item of a request sequentially against a shared Base, and
// merges the resulting write-request elements into one datastore
// transaction.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openslides/backend/internal/telemetry"
	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/authadapter"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
	"github.com/openslides/backend/pkg/permission"
	"github.com/openslides/backend/pkg/relations"
)

// Registry is the process-wide map of dotted action name ("topic.create")
// to the Factory that builds it, plus the schema each validates payloads
// against. Concrete action packages populate it when actions.Build runs.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]action.Factory
	schemas   map[string]*actionschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]action.Factory{}, schemas: map[string]*actionschema.Schema{}}
}

// Register adds factory under name, along with the schema used to pre-check
// the shape of its payload before any DB-dependent work starts. schema may
// be nil for actions that validate entirely within Perform.
func (r *Registry) Register(name string, factory action.Factory, schema *actionschema.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	if schema != nil {
		r.schemas[name] = schema
	}
}

// Lookup implements action.Registry.
func (r *Registry) Lookup(name string) (action.Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

func (r *Registry) schemaFor(name string) (*actionschema.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// ActionRequest is one item of an incoming batch: the dotted action name
// and its raw payload (a single object or an array of objects).
type ActionRequest struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// Dispatcher runs a batch of ActionRequests against one model Registry and
// datastore Client, producing a single atomic write.
type Dispatcher struct {
	Actions *Registry
	Models  *model.Registry
	DB      datastore.Client
	Perm    permission.Checker
	Auth    authadapter.Service
}

// New builds a Dispatcher.
func New(actions *Registry, models *model.Registry, db datastore.Client, perm permission.Checker) *Dispatcher {
	return &Dispatcher{Actions: actions, Models: models, DB: db, Perm: perm}
}

// Handle runs one batch of actions as a single transaction. Every batch
// item's payload shape is validated concurrently via errgroup first, since
// that check touches no mutable state; everything DB-dependent (permission
// checks, Perform) then runs strictly sequentially, sharing one Overlay and
// LockedFields across the whole batch. The merged result is submitted as a
// single datastore.Client.Write, so nothing is written until every item in
// the batch has succeeded.
func (d *Dispatcher) Handle(ctx context.Context, requests []ActionRequest, userID uint64) error {
	if len(requests) == 0 {
		return nil
	}

	itemsByRequest := make([][]json.RawMessage, len(requests))

	group, _ := errgroup.WithContext(ctx)
	for i, req := range requests {
		i, req := i, req
		group.Go(func() error {
			if _, _, err := splitActionName(req.Action); err != nil {
				return err
			}
			var items []json.RawMessage
			if err := json.Unmarshal(req.Data, &items); err != nil {
				items = []json.RawMessage{req.Data}
			}
			if schema, ok := d.Actions.schemaFor(req.Action); ok {
				for _, item := range items {
					if err := schema.Validate(item); err != nil {
						return err
					}
				}
			}
			itemsByRequest[i] = items
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	overlay := relations.NewOverlay()
	locked := datastore.NewLockedFields()

	var elements []datastore.WriteRequestElement
	information := map[fqid.FQId][]string{}

	for i, req := range requests {
		collection, _, err := splitActionName(req.Action)
		if err != nil {
			return err
		}
		m, ok := d.Models.Model(collection)
		if !ok {
			return actionerror.NewActionError("dispatch: unknown collection %q in action %q", collection, req.Action)
		}
		factory, ok := d.Actions.Lookup(req.Action)
		if !ok {
			return actionerror.NewActionError("dispatch: unknown action %q", req.Action)
		}

		base := &action.Base{
			Model:      m,
			Registry:   d.Models,
			DB:         d.DB,
			Overlay:    overlay,
			Locked:     locked,
			Permission: d.Perm,
			Actions:    d.Actions,
			UserID:     userID,
		}
		act := factory(base)

		started := time.Now()
		produced, err := act.Perform(ctx, itemsByRequest[i], userID)
		telemetry.ActionDispatchDuration.WithLabelValues(req.Action).Observe(time.Since(started).Seconds())
		if err != nil {
			return err
		}
		for _, el := range produced {
			elements = append(elements, el)
			for fq, info := range el.Information {
				information[fq] = append(information[fq], info...)
			}
		}
	}

	if len(elements) == 0 {
		return nil
	}

	merged := mergeElements(elements, information, userID)
	telemetry.WriteTransactionEvents.Observe(float64(len(merged.Events)))
	_, err := d.DB.Write(ctx, merged)
	return err
}

// mergeElements folds all elements into one transaction: events
// concatenate in order (cascade-produced elements already precede their
// parent's own, per pkg/action's delete pipeline), Information concatenates
// per object, and LockedFields takes the element-wise minimum revision per
// key.
func mergeElements(elements []datastore.WriteRequestElement, information map[fqid.FQId][]string, userID uint64) datastore.WriteRequestElement {
	var events []datastore.Event
	var lockedMaps []map[string]datastore.Revision
	for _, el := range elements {
		events = append(events, el.Events...)
		lockedMaps = append(lockedMaps, el.LockedFields)
	}
	return datastore.WriteRequestElement{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: datastore.MergeLockedFields(lockedMaps),
	}
}

func splitActionName(name string) (fqid.Collection, string, error) {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return fqid.Collection(name[:i]), name[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("dispatch: malformed action name %q, expected \"collection.verb\"", name)
}
