package agendaitem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/openslides/backend/pkg/action"
	"github.com/openslides/backend/pkg/actionerror"
	"github.com/openslides/backend/pkg/actionschema"
	"github.com/openslides/backend/pkg/datastore"
	"github.com/openslides/backend/pkg/dispatch"
	"github.com/openslides/backend/pkg/fqid"
)

var numberingSchemaDoc = json.RawMessage(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "agenda_item.numbering",
	"type": "object",
	"properties": {
		"meeting_id": {"type": "integer"}
	},
	"required": ["meeting_id"],
	"additionalProperties": false
}`)

type numberingPayload struct {
	MeetingID uint64 `json:"meeting_id"`
}

type numberingNode struct {
	id       uint64
	weight   uint64
	itemType uint64
	children []*numberingNode
}

// numberingAction implements agenda_item.numbering: assign arabic-style
// hierarchical numbers ("1", "1.1", "1.2", ...) to every agenda item of a
// meeting by walking the parent_id tree in weight order, skipping internal
// items (their item_number is cleared instead).
type numberingAction struct {
	base   *action.Base
	schema *actionschema.Schema
}

func registerNumbering(actions *dispatch.Registry) error {
	schema, err := actionschema.FromDocument("agenda_item.numbering", numberingSchemaDoc)
	if err != nil {
		return err
	}
	actions.Register("agenda_item.numbering", func(b *action.Base) action.Action {
		return &numberingAction{base: b, schema: schema}
	}, schema)
	return nil
}

func (a *numberingAction) Perform(ctx context.Context, payload []json.RawMessage, userID uint64) ([]datastore.WriteRequestElement, error) {
	var all []datastore.WriteRequestElement
	for _, raw := range payload {
		if a.schema != nil {
			if err := a.schema.Validate(raw); err != nil {
				return nil, err
			}
		}
		var p numberingPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, actionerror.NewActionError("agenda_item.numbering: %s", err)
		}
		elements, err := a.performOne(ctx, p, userID)
		if err != nil {
			return nil, err
		}
		all = append(all, elements...)
	}
	return all, nil
}

func (a *numberingAction) performOne(ctx context.Context, p numberingPayload, userID uint64) ([]datastore.WriteRequestElement, error) {
	items, err := a.base.DB.Filter(ctx, Collection, datastore.Equal("meeting_id", p.MeetingID),
		[]string{"id", "item_number", "parent_id", "weight", "type"})
	if err != nil {
		return nil, err
	}

	nodes := map[uint64]*numberingNode{}
	var roots []*numberingNode
	parentOf := map[uint64]uint64{}
	hasParent := map[uint64]bool{}

	for _, item := range items {
		idVal, _ := item.Get("id")
		id, err := toUint64(idVal)
		if err != nil {
			return nil, err
		}
		weight := uint64(0)
		if w, ok := item.Get("weight"); ok && w != nil {
			weight, _ = toUint64(w)
		}
		itemType := uint64(TypeCommon)
		if t, ok := item.Get("type"); ok && t != nil {
			itemType, _ = toUint64(t)
		}
		nodes[id] = &numberingNode{id: id, weight: weight, itemType: itemType}
		if parent, ok := item.Get("parent_id"); ok && parent != nil {
			pid, err := toUint64(parent)
			if err != nil {
				return nil, err
			}
			parentOf[id] = pid
			hasParent[id] = true
		}
	}
	for id, node := range nodes {
		if hasParent[id] {
			if parent, ok := nodes[parentOf[id]]; ok {
				parent.children = append(parent.children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortSiblings(roots)
	for _, node := range nodes {
		sortSiblings(node.children)
	}

	numbers := map[uint64]string{}
	var assign func(siblings []*numberingNode, prefix string)
	assign = func(siblings []*numberingNode, prefix string) {
		for i, node := range siblings {
			var number string
			if prefix == "" {
				number = fmt.Sprint(i + 1)
			} else {
				number = fmt.Sprintf("%s.%d", prefix, i+1)
			}
			if node.itemType == TypeInternal {
				numbers[node.id] = ""
			} else {
				numbers[node.id] = number
			}
			assign(node.children, number)
		}
	}
	assign(roots, "")

	var events []datastore.Event
	information := map[fqid.FQId][]string{}
	for id, number := range numbers {
		owner := fqid.FQId{Collection: Collection, ID: id}
		fields := datastore.NewOrderedModel()
		fields.Set("item_number", number)
		events = append(events, datastore.Event{Type: datastore.EventUpdate, FQId: owner, Fields: fields})
		information[owner] = []string{"Object updated"}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].FQId.ID < events[j].FQId.ID })

	if len(events) == 0 {
		return nil, nil
	}

	return []datastore.WriteRequestElement{{
		Events:       events,
		Information:  information,
		UserID:       userID,
		LockedFields: a.base.Locked.Snapshot(),
	}}, nil
}

// sortSiblings orders nodes by weight, breaking ties by id.
func sortSiblings(nodes []*numberingNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].weight != nodes[j].weight {
			return nodes[i].weight < nodes[j].weight
		}
		return nodes[i].id < nodes[j].id
	})
}
