package supabase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/storage"
	"github.com/bookleaf/assist/internal/storage/storagetest"
	"github.com/bookleaf/assist/pkg/types"
)

// fakeREST records requests and answers them from a per-route table.
type fakeREST struct {
	mu       sync.Mutex
	requests []string
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)
	handler, ok := f.routes[r.Method+" "+r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"PGRST000","message":"no route"}`))
		return
	}
	handler(w, r)
}

func (f *fakeREST) seen(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if len(r) >= len(prefix) && r[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func respond(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestStore(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) (*Store, *fakeREST) {
	t.Helper()
	fake := &fakeREST{routes: routes}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewStore(srv.URL, "service-key", nil)
	require.NoError(t, err)
	return store, fake
}

func TestNewStore_RequiresCredentials(t *testing.T) {
	_, err := NewStore("", "", nil)
	assert.Error(t, err)
}

func TestFindIdentity(t *testing.T) {
	store, _ := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("platform_identifier") == "eq.sarah.johnson@email.com" {
				respond(http.StatusOK, `[{"id":"ident-1","author_id":"author-1","platform":"email",
					"platform_identifier":"sarah.johnson@email.com","normalized_identifier":"sarah.johnson@email.com",
					"confidence_score":1,"matching_method":"exact_match","verified":true,
					"created_at":"2024-01-02T03:04:05+00:00"}]`)(w, r)
				return
			}
			respond(http.StatusOK, `[]`)(w, r)
		},
	})
	ctx := context.Background()

	ident, err := store.FindIdentity(ctx, types.PlatformEmail, "sarah.johnson@email.com")
	require.NoError(t, err)
	require.NotNil(t, ident)
	assert.Equal(t, "author-1", ident.AuthorID)
	assert.Equal(t, types.MethodExactMatch, ident.MatchingMethod)
	assert.True(t, ident.Verified)

	missing, err := store.FindIdentity(ctx, types.PlatformEmail, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetAuthor_NotFound(t *testing.T) {
	store, _ := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/authors": respond(http.StatusOK, `[]`),
	})

	_, err := store.GetAuthor(context.Background(), "missing")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestFindByIdentifier_MergesSources(t *testing.T) {
	store, _ := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities": respond(http.StatusOK, `[{"author_id":"author-b"},{"author_id":"author-a"}]`),
		"GET /rest/v1/authors":    respond(http.StatusOK, `[{"id":"author-a"},{"id":"author-c"}]`),
	})

	owners, err := store.FindByIdentifier(context.Background(), "emma.r@bookmail.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"author-a", "author-b", "author-c"}, owners)
}

func TestInsertAuthor_IdentityConflictDeletesAuthor(t *testing.T) {
	store, fake := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities":          respond(http.StatusOK, `[]`),
		"POST /rest/v1/authors":            respond(http.StatusCreated, ``),
		"POST /rest/v1/author_name_tokens": respond(http.StatusCreated, ``),
		"POST /rest/v1/identities": respond(http.StatusConflict,
			`{"code":"23505","message":"duplicate key value violates unique constraint"}`),
		"DELETE /rest/v1/authors": respond(http.StatusNoContent, ``),
	})

	a := storagetest.NewAuthor("author-1", "Sarah Johnson", "sarah.johnson@email.com", "")
	err := store.InsertAuthor(context.Background(), a,
		storagetest.NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict))
	assert.True(t, fake.seen("DELETE /rest/v1/authors?id=eq.author-1"))
}

func TestInsertAuthor_RollbackKeepsAuthorWithIdentities(t *testing.T) {
	store, fake := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("author_id") == "eq.author-1" {
				respond(http.StatusOK, `[{"id":"ident-9","author_id":"author-1","platform":"instagram",
					"platform_identifier":"@sarahj","confidence_score":0.8,"matching_method":"fuzzy_match",
					"verified":false,"created_at":"2024-01-02T03:04:05Z"}]`)(w, r)
				return
			}
			respond(http.StatusOK, `[]`)(w, r)
		},
		"POST /rest/v1/authors":            respond(http.StatusCreated, ``),
		"POST /rest/v1/author_name_tokens": respond(http.StatusCreated, ``),
		"POST /rest/v1/identities": respond(http.StatusConflict,
			`{"code":"23505","message":"duplicate key value violates unique constraint"}`),
		"DELETE /rest/v1/authors": respond(http.StatusNoContent, ``),
	})

	a := storagetest.NewAuthor("author-1", "Sarah Johnson", "sarah.johnson@email.com", "")
	err := store.InsertAuthor(context.Background(), a,
		storagetest.NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com"))

	assert.True(t, errors.Is(err, storage.ErrConflict))
	assert.False(t, fake.seen("DELETE /rest/v1/authors"))
}

func TestInsertAuthor_CancelledAfterAuthorRollsBack(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, fake := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities": respond(http.StatusOK, `[]`),
		"POST /rest/v1/authors": func(w http.ResponseWriter, r *http.Request) {
			cancel()
			respond(http.StatusCreated, ``)(w, r)
		},
		"POST /rest/v1/author_name_tokens": respond(http.StatusCreated, ``),
		"POST /rest/v1/identities":         respond(http.StatusCreated, ``),
		"DELETE /rest/v1/authors":          respond(http.StatusNoContent, ``),
	})

	a := storagetest.NewAuthor("author-1", "Sarah Johnson", "sarah.johnson@email.com", "")
	err := store.InsertAuthor(ctx, a,
		storagetest.NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", "sarah.johnson@email.com"))

	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, fake.seen("POST /rest/v1/author_name_tokens"))
	assert.False(t, fake.seen("POST /rest/v1/identities"))
	assert.True(t, fake.seen("DELETE /rest/v1/authors?id=eq.author-1"))
}

func TestInsertAuthor_KnownHandleWritesNothing(t *testing.T) {
	store, fake := newTestStore(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /rest/v1/identities": respond(http.StatusOK, `[{"id":"ident-0","author_id":"author-0","platform":"email",
			"platform_identifier":"sarah.johnson@email.com","confidence_score":0.5,"matching_method":"new_identity_created",
			"verified":false,"created_at":"2024-01-02T03:04:05Z"}]`),
	})

	a := storagetest.NewAuthor("author-1", "Sarah Johnson", "", "")
	err := store.InsertAuthor(context.Background(), a,
		storagetest.NewIdentity("ident-1", a.ID, types.PlatformEmail, "sarah.johnson@email.com", ""))

	assert.True(t, errors.Is(err, storage.ErrConflict))
	assert.False(t, fake.seen("POST /rest/v1/authors"))
}

func TestTranslateError(t *testing.T) {
	assert.True(t, errors.Is(translateError("insert", errors.New("(23505) duplicate key value")), storage.ErrConflict))
	assert.True(t, errors.Is(translateError("insert", errors.New("(23503) violates foreign key")), storage.ErrNotFound))
	other := translateError("insert", errors.New("(42501) permission denied"))
	assert.False(t, errors.Is(other, storage.ErrConflict))
}
