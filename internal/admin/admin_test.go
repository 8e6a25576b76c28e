package admin

import (
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/photondb/photondb/internal/command"
	"github.com/photondb/photondb/internal/keyspace"
	"github.com/photondb/photondb/internal/pool"
	"github.com/photondb/photondb/internal/reactor"
	"github.com/photondb/photondb/internal/snapshot"
)

func newTestServer(t *testing.T) (*Server, *keyspace.Store) {
	t.Helper()
	store := keyspace.New(nil)
	workers := pool.New(1)
	t.Cleanup(workers.Close)

	dbPath := filepath.Join(t.TempDir(), "test.rdb")
	snap := snapshot.New(dbPath, store, zap.NewNop())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	disp := command.New(store, snap, nil)
	reactorSrv := reactor.New(ln, store, disp, zap.NewNop(), reactor.DefaultIdleTimeout)

	s := New(zap.NewNop(), Deps{
		Store:    store,
		Reactor:  reactorSrv,
		Pool:     workers,
		Snapshot: snap,
	}, Creds{Username: "admin", Password: "secret"}, []byte("test-secret-key-32-bytes-long!!"), false)

	return s, store
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}
}

func TestStatsReportsKeyCount(t *testing.T) {
	s, store := newTestServer(t)
	if err := store.SetString("foo", "bar"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"keys":1`) {
		t.Fatalf("stats body missing keys count: %s", rec.Body.String())
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/save", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("POST /admin/save without session = %d, want 401", rec.Code)
	}
}

func TestLoginThenSaveSucceeds(t *testing.T) {
	s, _ := newTestServer(t)

	loginReq := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"secret"}`))
	loginReq.Header.Set("Content-Type", "application/json")
	loginRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(loginRec, loginReq)

	if loginRec.Code != http.StatusOK {
		t.Fatalf("POST /admin/login = %d, want 200", loginRec.Code)
	}

	var cookie string
	for _, c := range loginRec.Result().Cookies() {
		if c.Name == "photondb_admin" {
			cookie = c.String()
		}
	}
	if cookie == "" {
		t.Fatalf("no session cookie set after login")
	}

	saveReq := httptest.NewRequest(http.MethodPost, "/admin/save", nil)
	saveReq.Header.Set("Cookie", cookie)
	saveRec := httptest.NewRecorder()
	s.Handler().ServeHTTP(saveRec, saveReq)

	if saveRec.Code != http.StatusOK {
		t.Fatalf("POST /admin/save with session = %d, want 200", saveRec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(`{"username":"admin","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials = %d, want 401", rec.Code)
	}
}
