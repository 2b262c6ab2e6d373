package server

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/ssau-fiit/cloudocs-sync/client"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/document"
	"github.com/ssau-fiit/cloudocs-sync/protocol"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	store *database.MemoryStore
	srv   *Server
	http  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := database.NewMemoryStore()
	srv := New(store, WithLogger(zerolog.Nop()), WithHeartbeat(0))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{store: store, srv: srv, http: ts}
}

func (e *testEnv) createDocument(t *testing.T, name string) database.Document {
	t.Helper()
	body, _ := json.Marshal(CreateDocRequest{Name: name})
	resp, err := http.Post(e.http.URL+"/api/v1/documents/create", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc database.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	return doc
}

func (e *testEnv) wsURL(id string) string {
	return "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/documents/" + id
}

func (e *testEnv) newClient(t *testing.T, id, clientID string) *client.Client {
	t.Helper()
	nop := zerolog.Nop()
	cfg := client.DefaultConfig(e.wsURL(id), id)
	cfg.ClientID = clientID
	cfg.DebounceInterval = 5 * time.Millisecond
	cfg.VerifyChecksum = true
	cfg.Logger = &nop

	c, err := client.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectAndSync(t *testing.T, c *client.Client) {
	t.Helper()
	synced := make(chan struct{}, 1)
	id := c.On(client.EventSyncComplete, func(client.Event) {
		select {
		case synced <- struct{}{}:
		default:
		}
	})
	defer c.Off(client.EventSyncComplete, id)

	require.NoError(t, c.Connect(context.Background()))
	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("no sync after join")
	}
}

func TestDocumentsAPI(t *testing.T) {
	e := newTestEnv(t)

	resp, err := http.Get(e.http.URL + "/api/v1/documents")
	require.NoError(t, err)
	var docs []database.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
	resp.Body.Close()
	require.Empty(t, docs)

	doc := e.createDocument(t, "Plan")
	require.Len(t, doc.ID, 6)
	require.Equal(t, "Plan", doc.Name)
	require.Equal(t, "Автор", doc.Author)

	resp, err = http.Get(e.http.URL + "/api/v1/documents")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&docs))
	resp.Body.Close()
	require.Equal(t, []database.Document{doc}, docs)

	resp, err = http.Get(e.http.URL + "/api/v1/documents/" + doc.ID + "/text")
	require.NoError(t, err)
	var text TextResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&text))
	resp.Body.Close()
	require.Equal(t, TextResponse{Content: "", Version: 0, Checksum: document.Checksum("")}, text)

	req, _ := http.NewRequest(http.MethodDelete, e.http.URL+"/api/v1/documents/"+doc.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(e.http.URL + "/api/v1/documents/" + doc.ID + "/text")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateDocumentRejectsBadJSON(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Post(e.http.URL+"/api/v1/documents/create", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTwoClientsConverge(t *testing.T) {
	e := newTestEnv(t)
	doc := e.createDocument(t, "shared")

	alice := e.newClient(t, doc.ID, "alice")
	joined := make(chan string, 4)
	alice.On(client.EventCollaboratorJoined, func(ev client.Event) {
		joined <- ev.Payload["client_id"].(string)
	})
	connectAndSync(t, alice)
	require.Equal(t, "", alice.Content())
	require.Equal(t, int64(0), alice.Version())

	_, err := alice.Insert(0, "Hello")
	require.NoError(t, err)
	require.Equal(t, int64(1), alice.Version())
	require.Eventually(t, func() bool { return len(alice.PendingOperations()) == 0 }, 2*time.Second, 5*time.Millisecond)

	bob := e.newClient(t, doc.ID, "bob")
	connectAndSync(t, bob)
	require.Equal(t, "Hello", bob.Content())
	require.Equal(t, int64(1), bob.Version())
	require.Equal(t, "bob", <-joined)

	_, err = bob.Insert(5, " World")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return alice.Content() == "Hello World" }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(2), alice.Version())
	require.Eventually(t, func() bool { return len(bob.PendingOperations()) == 0 }, 2*time.Second, 5*time.Millisecond)

	text, err := e.store.LoadText(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Equal(t, database.Text{Content: "Hello World", Version: 2}, text)
}

func TestClientSeesCollaboratorLeave(t *testing.T) {
	e := newTestEnv(t)
	doc := e.createDocument(t, "presence")

	alice := e.newClient(t, doc.ID, "alice")
	left := make(chan string, 1)
	alice.On(client.EventCollaboratorLeft, func(ev client.Event) {
		left <- ev.Payload["client_id"].(string)
	})
	connectAndSync(t, alice)

	bob := e.newClient(t, doc.ID, "bob")
	connectAndSync(t, bob)
	require.NoError(t, bob.Disconnect())

	select {
	case id := <-left:
		require.Equal(t, "bob", id)
	case <-time.After(2 * time.Second):
		t.Fatal("no collaborator_left")
	}
}

func TestConnectToUnknownDocumentFails(t *testing.T) {
	e := newTestEnv(t)
	c := e.newClient(t, "000000", "alice")

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, client.Disconnected, c.ConnectionState())
}

// rawPeer talks the wire protocol directly.
type rawPeer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialRaw(t *testing.T, url string) *rawPeer {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	p := &rawPeer{t: t, conn: conn}
	require.Equal(t, protocol.TypeWelcome, p.read().Type)
	return p
}

func (p *rawPeer) write(v any) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteJSON(v))
}

func (p *rawPeer) read() protocol.Frame {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	f, err := protocol.Decode(data)
	require.NoError(p.t, err)
	return f
}

func TestRelayRequiresJoin(t *testing.T) {
	e := newTestEnv(t)
	doc := e.createDocument(t, "raw")
	p := dialRaw(t, e.wsURL(doc.ID))

	p.write(protocol.NewOperation(document.Operation{ID: "x-1", Type: document.OpInsert, Content: "a"}))
	f := p.read()
	require.Equal(t, protocol.TypeError, f.Type)
	require.Equal(t, "not_joined", f.Fields["code"])

	p.write(protocol.NewJoinSession("other", "x"))
	f = p.read()
	require.Equal(t, "session_mismatch", f.Fields["code"])

	p.write(protocol.NewJoinSession(doc.ID, "x"))
	require.Equal(t, protocol.TypeSessionJoined, p.read().Type)
}

func TestRelayAcksResentOperationOnce(t *testing.T) {
	e := newTestEnv(t)
	doc := e.createDocument(t, "dedupe")
	p := dialRaw(t, e.wsURL(doc.ID))
	p.write(protocol.NewJoinSession(doc.ID, "x"))
	p.read()

	op := document.Operation{ID: "x-1-abc", ClientID: "x", Type: document.OpInsert, Content: "once"}
	for i := 0; i < 2; i++ {
		p.write(protocol.NewOperation(op))
		f := p.read()
		var ack protocol.OperationAck
		require.NoError(t, f.Into(&ack))
		require.Equal(t, op.ID, ack.OperationID)
		require.Equal(t, int64(1), ack.Version)
	}

	p.write(protocol.NewSyncRequest(doc.ID, "x", 0))
	var sync protocol.SyncResponse
	require.NoError(t, p.read().Into(&sync))
	require.Equal(t, "once", sync.Content)
	require.Equal(t, int64(1), sync.CurrentVersion)
	require.Equal(t, document.Checksum("once"), sync.Checksum)
}

func TestRelayRejectsBadFrames(t *testing.T) {
	e := newTestEnv(t)
	doc := e.createDocument(t, "bad")
	p := dialRaw(t, e.wsURL(doc.ID))
	p.write(protocol.NewJoinSession(doc.ID, "x"))
	p.read()

	require.NoError(t, p.conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.Equal(t, "bad_frame", p.read().Fields["code"])

	p.write(protocol.NewOperation(document.Operation{ID: "x-2", Type: document.OpInsert, Position: -4}))
	require.Equal(t, "invalid_operation", p.read().Fields["code"])

	p.write(map[string]string{"type": "teleport"})
	require.Equal(t, "unknown_type", p.read().Fields["code"])

	p.write(protocol.NewSyncRequest(doc.ID, "x", 0))
	require.Equal(t, protocol.TypeSyncResponse, p.read().Type)
}

func TestRelayHeartbeat(t *testing.T) {
	store := database.NewMemoryStore()
	srv := New(store, WithLogger(zerolog.Nop()), WithHeartbeat(10*time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	require.NoError(t, store.CreateDocument(context.Background(), database.Document{ID: "123456", Name: "hb"}))

	p := dialRaw(t, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/documents/123456")
	require.Equal(t, protocol.TypeHeartbeat, p.read().Type)
}
