package action

import (
	"github.com/openslides/backend/pkg/fqid"
	"github.com/openslides/backend/pkg/model"
)

// buildTestRegistry wires a minimal two-collection schema used across
// create/update/delete tests: meeting 1:m topic, with the meeting side's
// on_delete policy configurable per test (set_null / protect / cascade).
func buildTestRegistry(meetingOnDelete model.OnDelete) *model.Registry {
	registry := model.NewRegistry()

	// Note: following the convention already established in pkg/relations'
	// tests, a relation field's declared Type names the cardinality of the
	// *reverse* direction: a scalar field (one value per instance) is
	// OneToMany, the list field on the other side is ManyToOne.
	topic := model.NewModel("topic", []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "title", Kind: model.KindString},
		{Name: "meeting_id", Kind: model.KindInteger, Relation: &model.Relation{
			Type:        model.OneToMany,
			To:          []fqid.Collection{"meeting"},
			RelatedName: "topic_ids",
			OnDelete:    model.SetNull,
		}},
	})
	registry.Register(topic)

	meeting := model.NewModel("meeting", []model.Field{
		{Name: "id", Kind: model.KindInteger, ReadOnly: true},
		{Name: "name", Kind: model.KindString},
		{Name: "topic_ids", Kind: model.KindList, Relation: &model.Relation{
			Type:        model.ManyToOne,
			To:          []fqid.Collection{"topic"},
			RelatedName: "meeting_id",
			OnDelete:    meetingOnDelete,
		}},
	})
	registry.Register(meeting)

	return registry.Build()
}
