package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimestats/crimestats/internal/config"
	"github.com/crimestats/crimestats/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "filtered.csv")
	content := strings.Join(types.RequiredFields, ",") + "\n" +
		"01/07/2023,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,3\n"
	require.NoError(t, os.WriteFile(data, []byte(content), 0644))

	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(dir, "state")
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.HTTP.DataPath = data
	return cfg
}

func TestApp_StartServeStop(t *testing.T) {
	a, err := New(testConfig(t), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	assert.Error(t, a.Start(context.Background()), "second Start must fail")

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/summary", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_offences":3`)
	assert.Equal(t, 1, a.Cache().Metrics().Entries)

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 0, a.Cache().Metrics().Entries, "cache purged on shutdown")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/summary", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "gcs"
	_, err := New(cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestApp_RemoteDataUsesResolver(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.DataPath = "s3://crime/filtered.csv"

	a, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	// Nothing has been uploaded to the local bucket yet.
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/summary", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
