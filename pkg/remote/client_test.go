package remote

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fieldsync/pkg/devserver"
	"fieldsync/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *devserver.Server) {
	t.Helper()
	srv := devserver.New(devserver.Options{Prefix: "/demo/", Username: "ann"})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return New(ts.URL+"/demo", Options{SaveTimeout: 5 * time.Second}), srv
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func TestSaveAndLoadRecords(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	uploads := []models.UploadRecord{
		{Form: "patient", ULID: "A", Fragments: []models.UploadFragment{
			{Type: models.FragmentSave, MTime: "2024-03-01T08:00:00.000Z", Page: "identity", JSON: `{"name":"Jo"}`, Tags: `[]`},
		}},
		{Form: "visit", ULID: "B", Parent: &models.ParentRef{ULID: "A", Version: 1}, Fragments: []models.UploadFragment{
			{Type: models.FragmentSave, MTime: "2024-03-01T08:01:00.000Z", Page: "vitals", JSON: `{"w":3}`, Tags: `["draft"]`},
		}},
	}
	require.NoError(t, c.SaveRecords(ctx, uploads))
	// resending the same history appends nothing
	require.NoError(t, c.SaveRecords(ctx, uploads))
	assert.Len(t, srv.Records(), 2)

	got, err := c.LoadRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ULID)
	assert.Equal(t, int64(1), got[0].Anchor)
	assert.Equal(t, "ann", got[0].Fragments[0].Username)
	assert.Equal(t, "Jo", got[0].Fragments[0].Values["name"])
	assert.Equal(t, []string{"draft"}, got[1].Fragments[0].Tags)

	got, err = c.LoadRecords(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].ULID)

	got, err = c.LoadRecords(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestServerErrorsAreVerbatim(t *testing.T) {
	ctx := context.Background()
	c, srv := newTestClient(t)

	err := c.SaveRecords(ctx, []models.UploadRecord{
		{Form: "visit", ULID: "B", Parent: &models.ParentRef{ULID: "A"}},
	})
	var se *ServerError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Status)
	assert.Equal(t, "Parent record A does not exist", err.Error())
	assert.Empty(t, srv.Records())

	srv.FailNext(http.StatusServiceUnavailable, "Instance is being upgraded")
	_, err = c.LoadRecords(ctx, 0)
	assert.EqualError(t, err, "Instance is being upgraded")
	assert.True(t, IsStatus(err, http.StatusServiceUnavailable))
	assert.False(t, errors.Is(err, ErrNetwork))
}

func TestNetworkErrors(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := New(url, Options{LoadTimeout: time.Second})
	_, err := c.LoadRecords(context.Background(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ListFiles(ctx)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilesPublishFlow(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	list, err := c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, list.Files)

	mainJS := []byte("console.log('main')")
	require.NoError(t, c.PutFile(ctx, sum(mainJS), "main.js", mainJS))
	// the server already holds it: 409 is success
	require.NoError(t, c.PutFile(ctx, sum(mainJS), "main.js", mainJS))

	err = c.PutFile(ctx, sum([]byte("other")), "x.js", mainJS)
	assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))

	version, err := c.Publish(ctx, map[string]string{"main.js": sum(mainJS)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	list, err = c.ListFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Version)
	require.Len(t, list.Files, 1)
	assert.Equal(t, models.FileInfo{Filename: "main.js", SHA256: sum(mainJS), Size: int64(len(mainJS))}, list.Files[0])

	data, found, err := c.FetchFile(ctx, version, "main.js")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, mainJS, data)

	_, found, err = c.FetchFile(ctx, version, "pages/missing.js")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUploadLimit(t *testing.T) {
	c := New("http://127.0.0.1:1/", Options{MaxUploadBytes: 4})
	err := c.PutFile(context.Background(), "x", "big.bin", []byte("12345"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNetwork))
}
