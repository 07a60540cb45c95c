package fqid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFQIdString(t *testing.T) {
	id := FQId{Collection: "meeting", ID: 7816466305}
	require.Equal(t, "meeting/7816466305", id.String())
}

func TestFQFieldString(t *testing.T) {
	f := FQField{Collection: "topic", ID: 1312354708, Field: "agenda_item_id"}
	require.Equal(t, "topic/1312354708/agenda_item_id", f.String())
}

func TestParseFQId(t *testing.T) {
	id, err := ParseFQId("agenda_item/42")
	require.NoError(t, err)
	require.Equal(t, FQId{Collection: "agenda_item", ID: 42}, id)

	_, err = ParseFQId("agenda_item/0")
	require.Error(t, err)

	_, err = ParseFQId("agenda_item")
	require.Error(t, err)
}

func TestParseFQField(t *testing.T) {
	f, err := ParseFQField("meeting/7816466305/agenda_item_ids")
	require.NoError(t, err)
	require.Equal(t, FQField{Collection: "meeting", ID: 7816466305, Field: "agenda_item_ids"}, f)
}

func TestCollectionEquality(t *testing.T) {
	a := Collection("meeting")
	b := Collection("meeting")
	require.Equal(t, a, b)
	require.True(t, a.Valid())
	require.False(t, Collection("Meeting").Valid())
}

func TestFQIdAsMapKey(t *testing.T) {
	m := map[FQId]int{}
	m[FQId{Collection: "meeting", ID: 1}] = 1
	m[FQId{Collection: "meeting", ID: 1}] = 2
	require.Len(t, m, 1)
	require.Equal(t, 2, m[FQId{Collection: "meeting", ID: 1}])
}
