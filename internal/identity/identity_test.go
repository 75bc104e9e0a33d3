package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeCDN mimics the CDN document API: GET /<folder>/<name> and POST /update-json.
type fakeCDN struct {
	mu        sync.Mutex
	docs      map[string][]byte
	failGets  int32
	gets      int32
	lastAuth  string
	lastWrite updateRequest
}

func newFakeCDN() *fakeCDN {
	return &fakeCDN{docs: make(map[string][]byte)}
}

func (f *fakeCDN) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")

	if r.Method == http.MethodPost && r.URL.Path == "/update-json" {
		var req updateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.lastWrite = req
		f.docs["/"+req.Folder+"/"+req.Filename] = req.Data
		w.WriteHeader(http.StatusOK)
		return
	}

	atomic.AddInt32(&f.gets, 1)
	if atomic.LoadInt32(&f.failGets) > 0 {
		atomic.AddInt32(&f.failGets, -1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}
	data, ok := f.docs[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(data)
}

func newHTTPStore(t *testing.T, cdn *fakeCDN) *DocumentStore {
	t.Helper()
	srv := httptest.NewServer(cdn)
	t.Cleanup(srv.Close)
	docs := NewHTTPDocuments(HTTPDocumentsOptions{
		BaseURL:    srv.URL,
		AuthToken:  "token-1",
		Timeout:    time.Second,
		MaxRetries: 3,
		Logger:     zaptest.NewLogger(t),
	})
	return NewDocumentStore(docs, "others", zaptest.NewLogger(t))
}

func TestHTTPDocumentsMissingCollectionIsEmpty(t *testing.T) {
	store := newHTTPStore(t, newFakeCDN())

	snap, err := store.ReadUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.Revision)
}

func TestHTTPDocumentsRoundTripAndAuth(t *testing.T) {
	cdn := newFakeCDN()
	store := newHTTPStore(t, cdn)
	ctx := context.Background()

	users := []User{{ID: "1", Username: "u1", Email: "u1@example.com", Password: "hash"}}
	require.NoError(t, store.WriteUsers(ctx, "", users))

	assert.Equal(t, "token-1", cdn.lastAuth)
	assert.Equal(t, "others", cdn.lastWrite.Folder)
	assert.Equal(t, "users.json", cdn.lastWrite.Filename)

	snap, err := store.ReadUsers(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "hash", snap.Items[0].Password, "password hash must survive write-all")
	assert.NotEmpty(t, snap.Revision)
}

func TestHTTPDocumentsRetriesServerErrors(t *testing.T) {
	cdn := newFakeCDN()
	cdn.docs["/others/users.json"] = []byte(`[{"id":"1","username":"u1"}]`)
	cdn.failGets = 2
	store := newHTTPStore(t, cdn)

	snap, err := store.ReadUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Items, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&cdn.gets))
}

func TestHTTPDocumentsStaleRevisionConflicts(t *testing.T) {
	cdn := newFakeCDN()
	store := newHTTPStore(t, cdn)
	ctx := context.Background()

	require.NoError(t, store.WriteUsers(ctx, "", []User{{ID: "1", Username: "u1"}}))
	snap, err := store.ReadUsers(ctx)
	require.NoError(t, err)

	// someone else writes in between
	require.NoError(t, store.WriteUsers(ctx, snap.Revision, []User{{ID: "1", Username: "u1"}, {ID: "2", Username: "u2"}}))

	err = store.WriteUsers(ctx, snap.Revision, []User{{ID: "1", Username: "renamed"}})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMemoryStoreCompareAndPut(t *testing.T) {
	store := NewMemoryStore(zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, store.WriteGroups(ctx, "", []GroupChat{{ID: "g1", Name: "one"}}))
	assert.ErrorIs(t, store.WriteGroups(ctx, "", []GroupChat{{ID: "g2"}}), ErrConflict)

	snap, err := store.ReadGroups(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	require.NoError(t, store.WriteGroups(ctx, snap.Revision, append(snap.Items, GroupChat{ID: "g2"})))

	snap, err = store.ReadGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
}

func TestSetHelpers(t *testing.T) {
	set := []string{"Alice"}
	set = AddToSet(set, "alice")
	assert.Equal(t, []string{"Alice"}, set)
	set = AddToSet(set, "bob")
	assert.Equal(t, []string{"Alice", "bob"}, set)
	set = RemoveFromSet(set, "ALICE")
	assert.Equal(t, []string{"bob"}, set)

	u := User{Username: "x", Friends: []string{"Bob"}, SentFriendRequests: []string{"carol"}}
	assert.True(t, u.HasFriend("bob"))
	assert.True(t, u.HasSentTo("Carol"))
	assert.False(t, u.HasReceivedFrom("carol"))

	clone := u.Clone()
	clone.Friends[0] = "changed"
	assert.Equal(t, "Bob", u.Friends[0])
}

func TestFindHelpers(t *testing.T) {
	users := []User{{ID: "1", Username: "Alice"}, {ID: "2", Username: "bob"}}
	i, ok := FindUsername(users, "ALICE")
	assert.True(t, ok)
	assert.Equal(t, 0, i)
	i, ok = FindUser(users, "2")
	assert.True(t, ok)
	assert.Equal(t, 1, i)
	_, ok = FindUser(users, "3")
	assert.False(t, ok)

	_, ok = FindGroup([]GroupChat{{ID: "g"}}, "g")
	assert.True(t, ok)
}
