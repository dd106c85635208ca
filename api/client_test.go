package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/quantrail/quantachat/api"
	"github.com/quantrail/quantachat/session"
	"github.com/quantrail/quantachat/storage/memkv"
	"github.com/quantrail/quantachat/token"
	"github.com/quantrail/quantachat/token/keys"
	"github.com/quantrail/quantachat/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clientFixture struct {
	store   *session.Store
	signer  keys.Signer
	creator *token.Creator
	mux     *http.ServeMux
	server  *httptest.Server
	client  *api.Client

	revoked []*api.AuthError
	expired []*api.AuthError
}

func setupClientFixture(t *testing.T) *clientFixture {
	t.Helper()

	keyPair, err := keys.GenerateRSAKeyPair("test-key", 2048)
	require.NoError(t, err)

	f := &clientFixture{
		store:   session.NewStore(memkv.New(), memkv.New()),
		signer:  keys.NewKeyPairSigner(keyPair),
		creator: token.NewCreator("quantachat-test", time.Hour),
		mux:     http.NewServeMux(),
	}

	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	transportOptions := []api.TransportOption{
		api.WithRevokedHook(func(e *api.AuthError) { f.revoked = append(f.revoked, e) }),
		api.WithExpiredHook(func(e *api.AuthError) { f.expired = append(f.expired, e) }),
	}
	f.client, err = api.NewClient(f.server.URL, f.store, transportOptions)
	require.NoError(t, err)

	return f
}

func (f *clientFixture) mintToken(t *testing.T, user *users.User) string {
	t.Helper()
	raw, err := f.creator.CreateSessionToken(user, f.signer)
	require.NoError(t, err)
	return raw
}

func (f *clientFixture) loginAs(t *testing.T, user *users.User, persist bool) {
	t.Helper()
	require.True(t, f.store.StoreTokenForLogin(f.mintToken(t, user), persist))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestRequestPhaseHeaders(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	var got http.Header
	f.mux.HandleFunc("GET /api/auth/organization", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]any{"organization": map[string]any{"id": 1, "name": "Quantrail"}})
	})

	org, err := f.client.Organization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Quantrail", org.Name)

	sess := f.store.Read()
	require.NotNil(t, sess)
	assert.Equal(t, "Bearer "+sess.Token, got.Get("Authorization"))
	assert.Equal(t, "no-cache", got.Get("Cache-Control"))
	assert.Equal(t, "no-cache", got.Get("Pragma"))
}

func TestNoBearerWithoutSession(t *testing.T) {
	f := setupClientFixture(t)

	var got http.Header
	f.mux.HandleFunc("GET /api/auth/organization", func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		writeJSON(w, http.StatusOK, map[string]any{"organization": map[string]any{"id": 1}})
	})

	_, err := f.client.Organization(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Get("Authorization"))
}

func TestLoginStoresSession(t *testing.T) {
	f := setupClientFixture(t)
	issued := f.mintToken(t, &users.User{ID: 7, Role: users.RoleAdmin, Name: "Jane"})

	f.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jane@example.com", body["email"])

		writeJSON(w, http.StatusOK, map[string]any{
			"token": issued,
			"user":  map[string]any{"id": 7, "role": "Admin", "name": "Jane"},
		})
	})

	user, err := f.client.Login(context.Background(), "jane@example.com", "secret", true)
	require.NoError(t, err)
	assert.Equal(t, users.RoleAdmin, user.Role)

	sess := f.store.Read()
	require.NotNil(t, sess)
	assert.Equal(t, issued, sess.Token)
	assert.True(t, f.store.Persisted())
}

func TestLoginTokenNestedUnderUser(t *testing.T) {
	f := setupClientFixture(t)
	issued := f.mintToken(t, &users.User{ID: 3, Role: users.RoleEditor})

	f.mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": 3, "role": "Editor", "token": issued},
		})
	})

	_, err := f.client.Login(context.Background(), "e@example.com", "pw", false)
	require.NoError(t, err)

	sess := f.store.Read()
	require.NotNil(t, sess)
	assert.Equal(t, issued, sess.Token)
	assert.False(t, f.store.Persisted())
}

func TestCurrentUser(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user": map[string]any{"id": 7, "role": "Editor", "email": "jane@example.com"},
		})
	})

	user, err := f.client.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, users.RoleEditor, user.Role, "server-confirmed role wins over cached claims")
}

func TestServerPushedRotation(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleEditor, Name: "Jane"}, true)

	rotated := f.mintToken(t, &users.User{ID: 7, Role: users.RoleAdmin, Name: "Jane"})
	f.mux.HandleFunc("PUT /api/users/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user":     map[string]any{"id": 7, "role": "Admin", "name": "Jane"},
			"newToken": rotated,
		})
	})

	_, err := f.client.UpdateUser(context.Background(), 7, api.UserUpsert{Name: "Jane", Role: users.RoleAdmin})
	require.NoError(t, err)

	sess := f.store.Read()
	require.NotNil(t, sess)
	assert.Equal(t, rotated, sess.Token)
	assert.Equal(t, users.RoleAdmin, sess.User.Role)
	assert.True(t, f.store.Persisted(), "rotation preserves remember-me mode")
}

func TestRotationRejectsForeignToken(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)
	before := f.store.Read()
	require.NotNil(t, before)

	foreign := f.mintToken(t, &users.User{ID: 99, Role: users.RoleSuperAdmin})
	f.mux.HandleFunc("PUT /api/users/99", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"user":     map[string]any{"id": 99, "role": "Super Admin"},
			"newToken": foreign,
		})
	})

	_, err := f.client.UpdateUser(context.Background(), 99, api.UserUpsert{Role: users.RoleSuperAdmin})
	require.NoError(t, err)

	after := f.store.Read()
	require.NotNil(t, after)
	assert.Equal(t, before.Token, after.Token, "a response for another user's mutation must not hijack the session")
}

func TestExpiredTokenClearsSession(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Token expired"})
	})

	_, err := f.client.CurrentUser(context.Background())
	require.Error(t, err)

	var authErr *api.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, api.AuthErrorExpired, authErr.Class)

	assert.Nil(t, f.store.Read(), "session cleared on expiry")
	assert.Len(t, f.expired, 1)
	assert.Empty(t, f.revoked)
}

func TestRevokedTokenClearsSessionAndNotifies(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"code":    "ACCOUNT_DELETED",
			"message": "Your account has been deleted",
		})
	})

	_, err := f.client.CurrentUser(context.Background())
	require.Error(t, err)

	var authErr *api.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, api.AuthErrorRevoked, authErr.Class)

	assert.Nil(t, f.store.Read())
	assert.Len(t, f.revoked, 1)
	assert.Empty(t, f.expired)
}

func TestUnclassified401Propagates(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("GET /api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "missing scope"})
	})

	_, err := f.client.CurrentUser(context.Background())
	require.Error(t, err)

	var authErr *api.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Equal(t, api.AuthErrorOther, authErr.Class)

	assert.NotNil(t, f.store.Read(), "session survives unclassified 401s")
	assert.Empty(t, f.revoked)
	assert.Empty(t, f.expired)
}

func TestNon401ErrorsCarryServerMessage(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("POST /api/databases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "connection name already in use"})
	})

	_, err := f.client.CreateDatabase(context.Background(), api.DatabaseConnection{Name: "prod"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection name already in use")
}

func TestDatabaseCRUD(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	f.mux.HandleFunc("GET /api/databases", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"databases": []map[string]any{
			{"id": 1, "name": "prod", "database_type": "postgres"},
			{"id": 2, "name": "staging", "database_type": "mysql"},
		}})
	})
	f.mux.HandleFunc("DELETE /api/databases/2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	dbs, err := f.client.ListDatabases(context.Background())
	require.NoError(t, err)
	require.Len(t, dbs, 2)
	assert.Equal(t, "prod", dbs[0].Name)

	require.NoError(t, f.client.DeleteDatabase(context.Background(), 2))
}

func TestDocumentCRUD(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleEditor}, true)

	f.mux.HandleFunc("POST /api/docs", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		content, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, "report.docx", header.Filename)
		assert.Equal(t, "docx bytes", string(content))

		writeJSON(w, http.StatusCreated, map[string]any{
			"document": map[string]any{"id": 11, "name": "report.docx"},
		})
	})
	f.mux.HandleFunc("GET /api/docs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"documents": []map[string]any{
			{"id": 11, "name": "report.docx"},
		}})
	})
	f.mux.HandleFunc("DELETE /api/docs/11", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	doc, err := f.client.UploadDocument(context.Background(), "report.docx",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		strings.NewReader("docx bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), doc.ID)

	list, err := f.client.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "report.docx", list[0].Name)

	require.NoError(t, f.client.DeleteDocument(context.Background(), 11))
}

func TestSelectedDatabaseRoundTrip(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleAdmin}, true)

	var selected int64
	f.mux.HandleFunc("POST /api/auth/selected-database", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		selected = body["database_id"]
		w.WriteHeader(http.StatusNoContent)
	})
	f.mux.HandleFunc("GET /api/auth/selected-database", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"database_id": selected})
	})

	require.NoError(t, f.client.SetSelectedDatabase(context.Background(), 5))

	got, err := f.client.SelectedDatabase(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), got)
}

func TestRefreshSessionAppliesRotation(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleEditor}, false)

	rotated := f.mintToken(t, &users.User{ID: 7, Role: users.RoleEditor})
	f.mux.HandleFunc("GET /api/auth/refresh-session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"session": map[string]any{"token": rotated},
		})
	})

	require.NoError(t, f.client.RefreshSession(context.Background()))

	sess := f.store.Read()
	require.NotNil(t, sess)
	assert.Equal(t, rotated, sess.Token)
	assert.False(t, f.store.Persisted(), "non-remember-me sessions stay ephemeral across rotation")
}

func TestListUsersSortableByRole(t *testing.T) {
	f := setupClientFixture(t)
	f.loginAs(t, &users.User{ID: 7, Role: users.RoleSuperAdmin}, true)

	f.mux.HandleFunc("GET /api/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"users": []map[string]any{
			{"id": 1, "role": "Readonly"},
			{"id": 2, "role": "Super Admin"},
			{"id": 3, "role": "Editor"},
		}})
	})

	list, err := f.client.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)

	best := list[0]
	for _, u := range list[1:] {
		if users.Less(u.Role, best.Role) {
			best = u
		}
	}
	assert.Equal(t, int64(2), best.ID)
}
