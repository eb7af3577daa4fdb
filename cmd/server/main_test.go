package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/sketchsync/pkg/board"
	"github.com/astromechza/sketchsync/pkg/engine"
	"github.com/astromechza/sketchsync/pkg/scene"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer((&server{store: board.NewMemoryStore()}).router())
	t.Cleanup(ts.Close)
	return ts
}

func postCanvas(t *testing.T, ts *httptest.Server, body board.CreateRequest) board.Document {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+"/canvases", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var doc board.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func TestCreateCanvasAssignsIdAndEmptyScene(t *testing.T) {
	ts := testServer(t)
	doc := postCanvas(t, ts, board.CreateRequest{ViewOnly: true})
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, scene.EmptyBlob(), doc.Data)
	assert.True(t, doc.ViewOnly)
	assert.True(t, doc.CreatedAt.Equal(doc.UpdatedAt))
}

func TestGetCanvas(t *testing.T) {
	ts := testServer(t)
	created := postCanvas(t, ts, board.CreateRequest{ID: "abc"})

	resp, err := http.Get(ts.URL + "/canvases/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc board.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, created.Data, doc.Data)

	resp, err = http.Get(ts.URL + "/canvases/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func putCanvas(t *testing.T, ts *httptest.Server, id, data string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(board.PutRequest{Data: data})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, ts.URL+"/canvases/"+id, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func TestPutCanvas(t *testing.T) {
	ts := testServer(t)
	postCanvas(t, ts, board.CreateRequest{ID: "abc"})

	resp := putCanvas(t, ts, "abc", `{"background":"#000000","objects":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var doc board.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, `{"background":"#000000","objects":[]}`, doc.Data)

	assert.Equal(t, http.StatusNotFound, putCanvas(t, ts, "missing", scene.EmptyBlob()).StatusCode)
	// The stored data must always be a decodable scene blob.
	assert.Equal(t, http.StatusBadRequest, putCanvas(t, ts, "abc", "junk").StatusCode)
}

func TestGetCanvasPng(t *testing.T) {
	ts := testServer(t)
	postCanvas(t, ts, board.CreateRequest{ID: "abc"})
	resp, err := http.Get(ts.URL + "/canvases/abc/png")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestWatchPushesWrites(t *testing.T) {
	ts := testServer(t)
	postCanvas(t, ts, board.CreateRequest{ID: "abc"})

	wsUrl := "ws" + strings.TrimPrefix(ts.URL, "http") + "/canvases/abc/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	defer conn.Close()

	resp := putCanvas(t, ts, "abc", `{"background":"#123456","objects":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err)
	var doc board.Document
	require.NoError(t, json.Unmarshal(p, &doc))
	assert.Equal(t, `{"background":"#123456","objects":[]}`, doc.Data)
}

func TestWatchAcceptsSocketWrites(t *testing.T) {
	ts := testServer(t)
	postCanvas(t, ts, board.CreateRequest{ID: "abc"})

	wsUrl := "ws" + strings.TrimPrefix(ts.URL, "http") + "/canvases/abc/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsUrl, nil)
	require.NoError(t, err)
	defer conn.Close()

	raw, err := json.Marshal(board.PutRequest{Data: `{"background":"#654321","objects":[]}`})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))

	// The write lands in the store and echoes back on the same socket.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, p, err := conn.ReadMessage()
	require.NoError(t, err)
	var doc board.Document
	require.NoError(t, json.Unmarshal(p, &doc))
	assert.Equal(t, `{"background":"#654321","objects":[]}`, doc.Data)

	resp, err := http.Get(ts.URL + "/canvases/abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(t, `{"background":"#654321","objects":[]}`, doc.Data)
}

func TestWatchMissingCanvas(t *testing.T) {
	ts := testServer(t)
	resp, err := http.Get(ts.URL + "/canvases/missing/watch")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// Two engine sessions reconciling through a real server over the remote
// store: session A's shape replicates into session B's surface.
func TestTwoSessionsConvergeThroughServer(t *testing.T) {
	ts := testServer(t)

	store, err := board.NewRemoteStore(ts.URL)
	require.NoError(t, err)

	engA := engine.New(store)
	engA.SetDebounce(50 * time.Millisecond)
	defer engA.Close()
	require.NoError(t, engA.Open(context.Background(), "shared", false))
	surfaceA := engine.NewSceneSurface()
	engA.AttachSurface(surfaceA)

	engB := engine.New(store)
	engB.SetDebounce(50 * time.Millisecond)
	defer engB.Close()
	require.NoError(t, engB.Open(context.Background(), "shared", false))
	surfaceB := engine.NewSceneSurface()
	engB.AttachSurface(surfaceB)

	rect := scene.NewRectangle(0, 0, 10, 10)
	require.NoError(t, engA.AddObject(rect))

	require.Eventually(t, func() bool {
		return surfaceB.Scene().Find(rect.ID) >= 0
	}, 5*time.Second, 20*time.Millisecond)
}
