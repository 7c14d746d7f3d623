//go:build integration

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	server "unirate/internal/adapters/http_server"
	redisad "unirate/internal/adapters/redis"
	"unirate/internal/app"
	"unirate/internal/domain"
	mysqlrepo "unirate/internal/storage/mysql"
)

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := os.Getenv("MIGRATIONS_DIR")
	if dir == "" {
		dir = filepath.Join("..", "..", "migrations")
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir %s: %v", dir, err)
	}
	var files []string
	for _, e := range ents {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".sql" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	for _, f := range files {
		sqlBytes, err := os.ReadFile(f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Exec(string(sqlBytes)); err != nil {
			t.Fatalf("exec %s: %v", f, err)
		}
	}
}

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env:        []string{"MYSQL_ROOT_PASSWORD=root", "MYSQL_DATABASE=unirate"},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/unirate?parseTime=true&multiStatements=true&loc=UTC",
		resource.GetPort("3306/tcp"))
	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	applyMigrations(t, db)
	return db
}

func getJSON[T any](t *testing.T, method, url string) T {
	t.Helper()
	req, _ := http.NewRequest(method, url, nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer res.Body.Close()
	var v T
	if err := json.NewDecoder(res.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return v
}

func TestGate_EndToEnd_RedisAndMySQL(t *testing.T) {
	db := startMySQL(t)
	mr := miniredis.RunT(t)
	rc := redisad.NewClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = rc.Close() })

	repo := mysqlrepo.New(db)
	profiles := app.NewProfileService(repo, redisad.NewCache(rc), time.Minute)
	gate := app.NewGate(redisad.NewQuotaStore(rc, 48*time.Hour), redisad.NewSessionStore(rc), repo, profiles,
		app.GateOptions{AnonPolicy: domain.DefaultPolicy, AuthPolicy: domain.DefaultPolicy})

	srv := server.New(0, 0)
	srv.MountHandlers(&server.Handlers{Gate: gate})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	dev := ts.URL + "/v1/devices/" + uuid.NewString()
	for _, id := range []string{"A", "B", "C"} {
		getJSON[domain.ViewResult](t, http.MethodPost, dev+"/reviews/"+id+"/views")
	}
	if res := getJSON[domain.AccessResult](t, http.MethodGet, dev+"/reviews/D/access"); res.Allowed {
		t.Fatalf("anonymous visitor should be gated: %+v", res)
	}

	for _, id := range []string{"A", "B", "C", "C"} {
		getJSON[domain.ViewResult](t, http.MethodPost, ts.URL+"/v1/users/u1/reviews/"+id+"/views")
	}
	if res := getJSON[domain.AccessResult](t, http.MethodGet, ts.URL+"/v1/users/u1/access"); res.Allowed {
		t.Fatalf("user should be gated: %+v", res)
	}

	if err := profiles.SetUnlimitedAccess(context.Background(), "u1", true); err != nil {
		t.Fatalf("SetUnlimitedAccess: %v", err)
	}
	if res := getJSON[domain.AccessResult](t, http.MethodGet, ts.URL+"/v1/users/u1/access"); !res.Unlimited {
		t.Fatalf("expected unlimited access: %+v", res)
	}
}
