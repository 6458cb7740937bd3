package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mewl/minipub/activitypub"
	"github.com/mewl/minipub/db"
	"github.com/mewl/minipub/domain"
	"github.com/mewl/minipub/util"
)

const testToken = "test-api-token"

type serverFixture struct {
	server     *Server
	router     *gin.Engine
	database   *db.DB
	account    *domain.Account
	remoteKeys *activitypub.KeyPair
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	acc := domain.NewAccount("alice", "Alice")
	if err := database.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	conf := &util.AppConfig{}
	conf.Conf.Host = "127.0.0.1"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "local.example"
	conf.Conf.ApiToken = testToken

	localKeys, err := activitypub.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	localPrivate, err := activitypub.ParsePrivateKey(localKeys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	remoteKeys, err := activitypub.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	resolve := func(ctx context.Context, keyID string) (*activitypub.PublicKey, error) {
		return &activitypub.PublicKey{ID: keyID, PublicKeyPem: remoteKeys.Public}, nil
	}

	agent := activitypub.NewAgent(util.UserAgent(), localPrivate)
	dispatcher := activitypub.NewDispatcher(database, agent, conf.Origin(), util.UserAgent(), resolve)

	server := NewServer(conf, database, dispatcher, localKeys.Public)
	return &serverFixture{
		server:     server,
		router:     server.Router(),
		database:   database,
		account:    acc,
		remoteKeys: remoteKeys,
	}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *serverFixture) signedInboxPost(t *testing.T, path string, body []byte) *http.Request {
	t.Helper()
	privateKey, err := activitypub.ParsePrivateKey(f.remoteKeys.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}
	headers, err := activitypub.SignHeaders("POST", "https://local.example"+path, body,
		"https://remote.example/users/bob#main-key", privateKey, time.Now())
	if err != nil {
		t.Fatalf("SignHeaders: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(body))
	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Host = headers["Host"]
	req.Header.Set("Content-Type", "application/activity+json")
	return req
}

func TestActorById(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest("GET", "/users/"+f.account.Id.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "activity+json") {
		t.Errorf("Content-Type = %q", ct)
	}

	var person map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &person); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	wantID := "https://local.example/users/" + f.account.Id.String()
	if person["id"] != wantID || person["type"] != "Person" {
		t.Errorf("person = %v", person)
	}
	if person["preferredUsername"] != "alice" {
		t.Errorf("preferredUsername = %v", person["preferredUsername"])
	}
	key, _ := person["publicKey"].(map[string]any)
	if key == nil || key["id"] != wantID+"#main-key" {
		t.Errorf("publicKey = %v", person["publicKey"])
	}
}

func TestActorByUsernameRedirects(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest("GET", "/users/alice", nil))
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", w.Code)
	}
	want := "https://local.example/users/" + f.account.Id.String()
	if loc := w.Header().Get("Location"); loc != want {
		t.Errorf("Location = %q, want %q", loc, want)
	}
}

func TestActorNotFound(t *testing.T) {
	f := newServerFixture(t)

	for _, path := range []string{"/users/nobody", "/users/00000000-0000-0000-0000-000000000000"} {
		w := f.do(httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d", path, w.Code)
		}
	}
}

func TestInboxRejectsUnsignedPost(t *testing.T) {
	f := newServerFixture(t)

	body := []byte(`{"type":"Like","actor":"https://remote.example/users/bob","object":"x"}`)
	req := httptest.NewRequest("POST", "/users/"+f.account.Id.String()+"/inbox", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")

	w := f.do(req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestInboxRejectsBadContentType(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest("POST", "/users/"+f.account.Id.String()+"/inbox", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")

	w := f.do(req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", w.Code)
	}
}

func TestInboxRejectsMalformedActivity(t *testing.T) {
	f := newServerFixture(t)

	path := "/users/" + f.account.Id.String() + "/inbox"
	req := f.signedInboxPost(t, path, []byte(`{"actor":"https://remote.example/users/bob"}`))

	w := f.do(req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestInboxAcknowledgesUnhandledActivity(t *testing.T) {
	f := newServerFixture(t)

	path := "/users/" + f.account.Id.String() + "/inbox"
	body := []byte(`{"type":"Like","actor":"https://remote.example/users/bob","object":"https://local.example/notes/1"}`)
	req := f.signedInboxPost(t, path, body)

	w := f.do(req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	if strings.TrimSpace(w.Body.String()) != "{}" {
		t.Errorf("body = %q, want {}", w.Body.String())
	}
}

func TestInboxUnknownUser(t *testing.T) {
	f := newServerFixture(t)

	req := f.signedInboxPost(t, "/users/00000000-0000-0000-0000-000000000000/inbox",
		[]byte(`{"type":"Like","actor":"https://remote.example/users/bob","object":"x"}`))
	w := f.do(req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSharedInboxAlwaysNotFound(t *testing.T) {
	f := newServerFixture(t)

	// unsigned: rejected before the 404
	req := httptest.NewRequest("POST", "/inbox", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/activity+json")
	if w := f.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned status = %d, want 401", w.Code)
	}

	// properly signed: still 404, shared delivery is not routed
	body := []byte(`{"type":"Like","actor":"https://remote.example/users/bob","object":"x"}`)
	req = f.signedInboxPost(t, "/inbox", body)
	if w := f.do(req); w.Code != http.StatusNotFound {
		t.Errorf("signed status = %d, want 404", w.Code)
	}
}

func TestOutboxCollection(t *testing.T) {
	f := newServerFixture(t)

	for _, content := range []string{"first", "second"} {
		note := domain.NewNote(domain.CreateNoteParams{AccountId: f.account.Id, Content: content})
		if err := f.database.CreateNote(note); err != nil {
			t.Fatalf("CreateNote: %v", err)
		}
	}

	w := f.do(httptest.NewRequest("GET", "/users/"+f.account.Id.String()+"/outbox", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var coll map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &coll); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if coll["type"] != "OrderedCollection" || coll["totalItems"] != float64(2) {
		t.Errorf("collection = %v", coll)
	}
	if _, paged := coll["first"]; paged {
		t.Error("outbox must not be paginated")
	}
	items, _ := coll["orderedItems"].([]any)
	if len(items) != 2 {
		t.Fatalf("orderedItems = %v", coll["orderedItems"])
	}
	note, _ := items[0].(map[string]any)
	if note["type"] != "Note" {
		t.Errorf("item = %v", items[0])
	}
}

func TestFollowersAndFollowingCollections(t *testing.T) {
	f := newServerFixture(t)

	follower := &domain.RemoteUser{ID: "https://remote.example/users/bob"}
	if err := f.database.UpsertFollower(f.account.Id, follower); err != nil {
		t.Fatalf("UpsertFollower: %v", err)
	}

	w := f.do(httptest.NewRequest("GET", "/users/"+f.account.Id.String()+"/followers", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("followers status = %d", w.Code)
	}
	var coll map[string]any
	json.Unmarshal(w.Body.Bytes(), &coll)
	items, _ := coll["orderedItems"].([]any)
	if len(items) != 1 || items[0] != "https://remote.example/users/bob" {
		t.Errorf("followers = %v", coll)
	}

	w = f.do(httptest.NewRequest("GET", "/users/"+f.account.Id.String()+"/following", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("following status = %d", w.Code)
	}
	json.Unmarshal(w.Body.Bytes(), &coll)
	if coll["totalItems"] != float64(0) {
		t.Errorf("following = %v", coll)
	}
}

func TestWebfinger(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest("GET", "/.well-known/webfinger?resource=acct:alice@local.example", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp webfingerResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp.Subject != "acct:alice@local.example" {
		t.Errorf("subject = %q", resp.Subject)
	}
	if len(resp.Links) != 1 || resp.Links[0].Href != "https://local.example/users/"+f.account.Id.String() {
		t.Errorf("links = %+v", resp.Links)
	}

	for _, resource := range []string{"", "acct:nobody@local.example", "acct:alice@other.example", "https://local.example/users/alice"} {
		w := f.do(httptest.NewRequest("GET", "/.well-known/webfinger?resource="+resource, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("resource %q: status = %d, want 404", resource, w.Code)
		}
	}
}

func TestNodeInfo(t *testing.T) {
	f := newServerFixture(t)

	w := f.do(httptest.NewRequest("GET", "/.well-known/nodeinfo", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("discovery status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "/nodeinfo/2.1") {
		t.Errorf("discovery body = %s", w.Body.String())
	}

	w = f.do(httptest.NewRequest("GET", "/nodeinfo/2.1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("nodeinfo status = %d", w.Code)
	}
	var info map[string]any
	json.Unmarshal(w.Body.Bytes(), &info)
	software, _ := info["software"].(map[string]any)
	if software == nil || software["name"] != "minipub" {
		t.Errorf("nodeinfo = %v", info)
	}
}

func TestApiRequiresToken(t *testing.T) {
	f := newServerFixture(t)

	body := `{"username":"alice","content":"hello"}`
	req := httptest.NewRequest("POST", "/api/notes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if w := f.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/notes", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong")
	if w := f.do(req); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", w.Code)
	}
}

func TestApiCreateNote(t *testing.T) {
	f := newServerFixture(t)

	if err := f.database.UpsertFollower(f.account.Id, &domain.RemoteUser{ID: "https://remote.example/users/bob"}); err != nil {
		t.Fatalf("UpsertFollower: %v", err)
	}

	req := httptest.NewRequest("POST", "/api/notes", strings.NewReader(`{"username":"alice","content":"hello fedi"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)

	w := f.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if resp["enqueued"] != float64(1) {
		t.Errorf("enqueued = %v, want 1", resp["enqueued"])
	}

	notes, err := f.database.ReadNotesByAccId(f.account.Id)
	if err != nil || len(notes) != 1 {
		t.Fatalf("notes = %v, err = %v", notes, err)
	}
	pending, err := f.database.ReadPendingDeliveries(time.Now().UTC().Add(time.Minute), 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("pending = %v, err = %v", pending, err)
	}
}

func TestApiCreateAccount(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest("POST", "/api/accounts", strings.NewReader(`{"username":"carol"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)

	w := f.do(req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	acc, err := f.database.ReadAccByUsername("carol")
	if err != nil {
		t.Fatalf("account not stored: %v", err)
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["actor"] != "https://local.example/users/"+acc.Id.String() {
		t.Errorf("actor = %v", resp["actor"])
	}

	// duplicate username is rejected
	req = httptest.NewRequest("POST", "/api/accounts", strings.NewReader(`{"username":"carol"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	if w := f.do(req); w.Code != http.StatusConflict {
		t.Errorf("duplicate: status = %d, want 409", w.Code)
	}
}

func TestNoteObjectEndpoint(t *testing.T) {
	f := newServerFixture(t)

	note := domain.NewNote(domain.CreateNoteParams{AccountId: f.account.Id, Content: "hello"})
	if err := f.database.CreateNote(note); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	w := f.do(httptest.NewRequest("GET", "/notes/"+note.Id.String(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var obj map[string]any
	json.Unmarshal(w.Body.Bytes(), &obj)
	if obj["type"] != "Note" || obj["content"] != "hello" {
		t.Errorf("note = %v", obj)
	}
	if obj["attributedTo"] != "https://local.example/users/"+f.account.Id.String() {
		t.Errorf("attributedTo = %v", obj["attributedTo"])
	}
}

func TestFeed(t *testing.T) {
	f := newServerFixture(t)

	note := domain.NewNote(domain.CreateNoteParams{AccountId: f.account.Id, Content: "feed me"})
	if err := f.database.CreateNote(note); err != nil {
		t.Fatalf("CreateNote: %v", err)
	}

	w := f.do(httptest.NewRequest("GET", "/feed", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "feed me") {
		t.Errorf("feed body missing note: %s", w.Body.String())
	}

	w = f.do(httptest.NewRequest("GET", "/feed/"+note.Id.String(), nil))
	if w.Code != http.StatusOK {
		t.Errorf("item status = %d", w.Code)
	}

	w = f.do(httptest.NewRequest("GET", "/feed/not-a-uuid", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("bad id status = %d", w.Code)
	}
}
