//go:build integration

package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsletter-go/internal/config"
	"newsletter-go/internal/database"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/repository"
	"newsletter-go/migrations"
)

// postgresSettings points at the server shared by every test in this file;
// each test gets its own database on it.
var postgresSettings config.DatabaseSettings

func TestMain(m *testing.M) {
	settings := config.Defaults().Database
	settings.Host = "localhost"
	settings.Username = "postgres"
	settings.Password = "password"

	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not connect to docker: %v", err)
	}
	pool.MaxWait = time.Minute

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "15",
		Env: []string{
			"POSTGRES_USER=" + settings.Username,
			"POSTGRES_PASSWORD=" + settings.Password,
		},
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		log.Fatalf("could not start postgres: %v", err)
	}
	_ = resource.Expire(300)

	settings.Port, err = strconv.Atoi(resource.GetPort("5432/tcp"))
	if err != nil {
		log.Fatalf("could not read postgres port: %v", err)
	}

	if err := pool.Retry(func() error {
		db, err := sqlx.Open(database.DriverName, settings.ConnectionStringWithoutDB())
		if err != nil {
			return err
		}
		defer db.Close()
		return db.Ping()
	}); err != nil {
		log.Fatalf("postgres not ready: %v", err)
	}

	postgresSettings = settings
	code := m.Run()

	if err := pool.Purge(resource); err != nil {
		log.Printf("could not purge postgres: %v", err)
	}
	os.Exit(code)
}

// configureDatabase creates a throwaway database, migrates it and returns a
// pool connected to it.
func configureDatabase(t *testing.T) (*sqlx.DB, config.DatabaseSettings) {
	t.Helper()
	ctx := context.Background()

	settings := postgresSettings
	settings.DatabaseName = uuid.NewString()

	admin, err := sqlx.Open(database.DriverName, settings.ConnectionStringWithoutDB())
	require.NoError(t, err, "Failed to connect to Postgres")
	defer admin.Close()

	_, err = admin.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(settings.DatabaseName))
	require.NoError(t, err, "Failed to create database")

	require.NoError(t, migrations.Up(settings.ConnectionString()), "Failed to migrate the database")

	db, err := database.Open(ctx, settings)
	require.NoError(t, err, "Failed to connect to Postgres")
	t.Cleanup(func() { _ = db.Close() })

	return db, settings
}

type postgresTestApp struct {
	server *httptest.Server
	db     *sqlx.DB
}

func spawnPostgresApp(t *testing.T) *postgresTestApp {
	t.Helper()

	db, settings := configureDatabase(t)

	logger, err := logging.NewLoggerWithOptions(logging.Options{Output: io.Discard})
	require.NoError(t, err)

	application := Build(&Config{
		ServiceName:    "test-newsletter-api",
		ServiceVersion: "1.0.0",
		Logger:         logger,
		GinMode:        gin.TestMode,
		Repository:     repository.NewPostgresSubscriberRepository(db, settings.QueryTimeout),
	})
	server := httptest.NewServer(application.GetRouter())
	t.Cleanup(server.Close)

	return &postgresTestApp{server: server, db: db}
}

func (app *postgresTestApp) post(t *testing.T, body string) int {
	t.Helper()
	resp, err := http.Post(app.server.URL+"/subscriptions", "application/x-www-form-urlencoded", strings.NewReader(body))
	require.NoError(t, err, "Failed to execute request")
	defer resp.Body.Close()
	return resp.StatusCode
}

func (app *postgresTestApp) count(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, app.db.Get(&n, "SELECT count(*) FROM subscriptions"))
	return n
}

type savedSubscription struct {
	ID    uuid.UUID `db:"id"`
	Email string    `db:"email"`
	Name  string    `db:"name"`
}

func TestPostgresSubscribeReturns200ForValidFormData(t *testing.T) {
	app := spawnPostgresApp(t)

	assert.Equal(t, http.StatusOK, app.post(t, "name=test&email=test%40testmail.com"))

	var saved []savedSubscription
	require.NoError(t, app.db.Select(&saved, "SELECT id, email, name FROM subscriptions WHERE name = $1", "test"))
	require.Len(t, saved, 1)
	assert.Equal(t, "test@testmail.com", saved[0].Email)
}

func TestPostgresSubscribeStoresEmptyName(t *testing.T) {
	app := spawnPostgresApp(t)

	assert.Equal(t, http.StatusOK, app.post(t, "name=&email=a%40b.com"))

	var saved []savedSubscription
	require.NoError(t, app.db.Select(&saved, "SELECT id, email, name FROM subscriptions"))
	require.Len(t, saved, 1)
	assert.Equal(t, "", saved[0].Name)
	assert.Equal(t, "a@b.com", saved[0].Email)
}

func TestPostgresSubscribeReturns400WhenDataIsMissing(t *testing.T) {
	app := spawnPostgresApp(t)

	for _, body := range []string{"name=test", "email=test%40testmail.com", ""} {
		assert.Equal(t, http.StatusBadRequest, app.post(t, body), "body %q", body)
	}
	assert.Zero(t, app.count(t))
}

func TestPostgresDuplicateSubmissions(t *testing.T) {
	app := spawnPostgresApp(t)

	require.Equal(t, http.StatusOK, app.post(t, "name=test&email=test%40testmail.com"))
	require.Equal(t, http.StatusOK, app.post(t, "name=test&email=test%40testmail.com"))

	var saved []savedSubscription
	require.NoError(t, app.db.Select(&saved, "SELECT id, email, name FROM subscriptions"))
	require.Len(t, saved, 2)
	assert.NotEqual(t, saved[0].ID, saved[1].ID)
}

func TestPostgresConcurrentSubmissions(t *testing.T) {
	app := spawnPostgresApp(t)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.PostForm(app.server.URL+"/subscriptions", url.Values{
				"name":  {fmt.Sprintf("user-%d", i)},
				"email": {fmt.Sprintf("user-%d@example.com", i)},
			})
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}(i)
	}
	wg.Wait()

	var distinct int
	require.NoError(t, app.db.Get(&distinct, "SELECT count(DISTINCT id) FROM subscriptions"))
	assert.Equal(t, n, distinct)
	assert.Equal(t, n, app.count(t))
}

func TestPostgresSubscribeReturns500WhenWriteFails(t *testing.T) {
	app := spawnPostgresApp(t)

	_, err := app.db.Exec("DROP TABLE subscriptions")
	require.NoError(t, err)

	assert.Equal(t, http.StatusInternalServerError, app.post(t, "name=test&email=test%40testmail.com"))
}

func TestPostgresHealthCheckIgnoresStore(t *testing.T) {
	app := spawnPostgresApp(t)
	require.NoError(t, app.db.Close())

	resp, err := http.Get(app.server.URL + "/health_check")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(0), resp.ContentLength)
}
