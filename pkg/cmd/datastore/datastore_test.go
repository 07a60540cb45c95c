package datastore

import (
	"context"
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/openslides/backend/pkg/fqid"
)

func TestDefaults(t *testing.T) {
	f := pflag.FlagSet{}
	expected := Config{}
	err := RegisterDatastoreFlagsWithPrefix(&f, "", &expected)
	require.NoError(t, err)
	received := DefaultDatastoreConfig()
	require.Equal(t, expected, *received)
}

func TestPrefixedFlagNames(t *testing.T) {
	f := pflag.FlagSet{}
	var cfg Config
	require.NoError(t, RegisterDatastoreFlagsWithPrefix(&f, "grpc", &cfg))
	require.NotNil(t, f.Lookup("grpc-datastore-engine"))
	require.NotNil(t, f.Lookup("grpc-datastore-rest-url"))
	require.NotNil(t, f.Lookup("grpc-datastore-postgres-uri"))
	require.NotNil(t, f.Lookup("grpc-datastore-request-timeout"))
}

func TestNewDatastoreMemoryDefaultsToEmpty(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDatastore(ctx, WithEngine(MemoryEngine))
	require.NoError(t, err)

	_, _, err = ds.Get(ctx, fqid.FQId{Collection: "user", ID: 1}, []string{"username"})
	require.Error(t, err, "an empty memory engine has no seeded objects")
}

func TestLoadDatastoreFromFileContents(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFileContents(map[string][]byte{"test": []byte(`[{"fqid":"user/1","fields":{"username":"alice"}}]`)}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	obj, _, err := ds.Get(ctx, fqid.FQId{Collection: "user", ID: 1}, []string{"username"})
	require.NoError(t, err)
	username, ok := obj.Get("username")
	require.True(t, ok)
	require.Equal(t, "alice", username)
}

func TestLoadDatastoreFromFile(t *testing.T) {
	file, err := os.CreateTemp("", "")
	require.NoError(t, err)
	_, err = file.Write([]byte(`[{"fqid":"meeting/7816466305","fields":{"name":"Plenary"}}]`))
	require.NoError(t, err)

	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFiles([]string{file.Name()}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	obj, _, err := ds.Get(ctx, fqid.FQId{Collection: "meeting", ID: 7816466305}, []string{"name"})
	require.NoError(t, err)
	name, ok := obj.Get("name")
	require.True(t, ok)
	require.Equal(t, "Plenary", name)
}

func TestLoadDatastoreFromFileAndContents(t *testing.T) {
	file, err := os.CreateTemp("", "")
	require.NoError(t, err)
	_, err = file.Write([]byte(`[{"fqid":"topic/1","fields":{"title":"Budget"}}]`))
	require.NoError(t, err)

	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFiles([]string{file.Name()}),
		SetBootstrapFileContents(map[string][]byte{"test": []byte(`[{"fqid":"user/1","fields":{"username":"alice"}}]`)}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	topic, _, err := ds.Get(ctx, fqid.FQId{Collection: "topic", ID: 1}, []string{"title"})
	require.NoError(t, err)
	title, ok := topic.Get("title")
	require.True(t, ok)
	require.Equal(t, "Budget", title)

	user, _, err := ds.Get(ctx, fqid.FQId{Collection: "user", ID: 1}, []string{"username"})
	require.NoError(t, err)
	username, ok := user.Get("username")
	require.True(t, ok)
	require.Equal(t, "alice", username)
}

func TestLoadDatastoreFromYAMLContents(t *testing.T) {
	ctx := context.Background()
	ds, err := NewDatastore(ctx,
		SetBootstrapFileContents(map[string][]byte{"seed.yaml": []byte("- fqid: topic/3\n  fields:\n    title: budget\n")}),
		WithEngine(MemoryEngine))
	require.NoError(t, err)

	obj, _, err := ds.Get(ctx, fqid.FQId{Collection: "topic", ID: 3}, []string{"title"})
	require.NoError(t, err)
	title, ok := obj.Get("title")
	require.True(t, ok)
	require.Equal(t, "budget", title)
}

func TestNewDatastoreRESTRequiresBaseURL(t *testing.T) {
	_, err := NewDatastore(context.Background(), WithEngine(RESTEngine))
	require.Error(t, err)
}

func TestNewDatastoreRESTEngine(t *testing.T) {
	ds, err := NewDatastore(context.Background(), WithEngine(RESTEngine), WithRESTBaseURL("http://datastore:9010"))
	require.NoError(t, err)
	require.NotNil(t, ds)
}

func TestNewDatastorePostgresRequiresPool(t *testing.T) {
	_, err := NewDatastore(context.Background(), WithEngine(PostgresEngine))
	require.Error(t, err)
}
