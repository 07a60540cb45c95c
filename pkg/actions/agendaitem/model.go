// Package agendaitem registers the agenda_item collection's model and its
// full action set: the generic create/update/delete base plus two custom
// actions, assign and numbering.
package agendaitem

import (
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// Collection is the agenda_item collection name.
const Collection fqid.Collection = "agenda_item"

// Agenda item visibility. Only common items are numbered publicly.
const (
	TypeCommon   = 1
	TypeInternal = 2
	TypeHidden   = 3
)

// Model describes the agenda_item collection.
func Model() *model.Model {
	return model.NewModel(Collection, []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "item_number", Kind: model.KindString, Default: ""},
		{Name: "comment", Kind: model.KindString},
		{Name: "type", Kind: model.KindInteger, Default: uint64(TypeCommon)},
		{Name: "weight", Kind: model.KindInteger, Default: uint64(0)},
		{Name: "duration", Kind: model.KindInteger},
		{Name: "meeting_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"meeting"},
			RelatedName: "agenda_item_ids",
			OnDelete:    model.SetNull,
		}},
		{Name: "content_object_id", Kind: model.KindString, Relation: &model.Relation{
			Type:        model.OneToOne,
			To:          []fqid.Collection{"topic"},
			RelatedName: "agenda_item_id",
			Generic:     true,
			OnDelete:    model.SetNull,
			EqualFields: []string{"meeting_id"},
		}},
		{Name: "parent_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"agenda_item"},
			RelatedName: "child_ids",
			OnDelete:    model.SetNull,
			EqualFields: []string{"meeting_id"},
		}},
		{Name: "child_ids", Kind: model.KindList, ReadOnly: true, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"agenda_item"},
			RelatedName: "parent_id",
			OnDelete:    model.SetNull,
			EqualFields: []string{"meeting_id"},
		}},
	})
}
