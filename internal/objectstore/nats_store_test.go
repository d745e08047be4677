package objectstore_test

import (
	"context"
	"testing"

	"github.com/book-expert/voice-service/internal/objectstore"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startJetStream runs an in-memory NATS server with JetStream enabled.
func startJetStream(t *testing.T) jetstream.JetStream {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	js, err := jetstream.New(natsConnection)
	require.NoError(t, err)

	return js
}

func TestNatsObjectStore_UploadDownload(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "audio")
	require.NoError(t, err)
	assert.Equal(t, "audio", store.Bucket())

	payload := []byte("RIFF....WAVE")

	require.NoError(t, store.Upload(ctx, "chunk.wav", payload))

	data, err := store.Download(ctx, "chunk.wav")
	require.NoError(t, err)
	assert.Equal(t, payload, data)

	require.NoError(t, store.Upload(ctx, "chunk.wav", []byte("replaced")))

	data, err = store.Download(ctx, "chunk.wav")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	first, err := objectstore.New(ctx, js, "texts")
	require.NoError(t, err)
	require.NoError(t, first.Upload(ctx, "page-1.txt", []byte("hello")))

	second, err := objectstore.New(ctx, js, "texts")
	require.NoError(t, err)

	data, err := second.Download(ctx, "page-1.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestNatsObjectStore_Errors(t *testing.T) {
	t.Parallel()

	js := startJetStream(t)
	ctx := context.Background()

	store, err := objectstore.New(ctx, js, "texts")
	require.NoError(t, err)

	_, err = store.Download(ctx, "missing.txt")
	require.ErrorIs(t, err, jetstream.ErrObjectNotFound)

	_, err = store.Download(ctx, "")
	require.ErrorIs(t, err, objectstore.ErrEmptyKey)
	require.ErrorIs(t, store.Upload(ctx, "", []byte("x")), objectstore.ErrEmptyKey)
}
