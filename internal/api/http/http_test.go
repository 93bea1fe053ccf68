package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/crimestats/crimestats/internal/cache"
	"github.com/crimestats/crimestats/internal/merge"
	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

var header = strings.Join(types.RequiredFields, ",")

const fixtureRows = `01/07/2023,UNLEY,5061,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,3
02/08/2023,UNLEY,5061,OFFENCES AGAINST THE PERSON,ACTS INTENDED TO CAUSE INJURY,Common Assault,2
03/08/2023,NORTH ADELAIDE,5006,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,5
`

func newTestServer(t *testing.T, path string) (*httptest.Server, *cache.DatasetCache) {
	t.Helper()
	c, err := cache.New(4)
	require.NoError(t, err)

	opts := merge.DefaultOptions()
	router := NewRouter(RouterConfig{
		Dashboard: NewDashboardHandler(c, source.NewFileSource(path), types.DefaultDateFormat(), zerolog.Nop()),
		Merge:     NewMergeHandler(opts, 0),
		Logger:    zerolog.Nop(),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, c
}

func writeFixture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "filtered.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+"\n"+fixtureRows), 0644))
	return path
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	var body HealthResponse
	resp := getJSON(t, srv.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body.Status)
	assert.True(t, strings.HasSuffix(body.Dataset, "filtered.csv"))
}

func TestOptionLists(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	var suburbs SuburbsResponse
	getJSON(t, srv.URL+"/v1/suburbs", &suburbs)
	assert.Equal(t, []string{"All Data", "NORTH ADELAIDE", "UNLEY"}, suburbs.Suburbs)

	var offences OffencesResponse
	getJSON(t, srv.URL+"/v1/offences?level1="+urlEscape("OFFENCES AGAINST THE PERSON"), &offences)
	assert.Equal(t, []string{"All Data", "OFFENCES AGAINST PROPERTY", "OFFENCES AGAINST THE PERSON"}, offences.Level1)
	assert.Equal(t, []string{"All Data", "ACTS INTENDED TO CAUSE INJURY"}, offences.Level2)
	assert.Len(t, offences.Level3, 3)
}

func TestSummaryForSuburb(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	var body SummaryResponse
	resp := getJSON(t, srv.URL+"/v1/summary?suburb=UNLEY", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "UNLEY", body.Selection.Suburb)
	assert.Equal(t, 2, body.Rows)
	assert.Equal(t, int64(5), body.TotalOffences)
	assert.Equal(t, 2, body.UniqueOffenceTypes)
	assert.Equal(t, 2, body.Months)
}

func TestChartSeries(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	var monthly []map[string]interface{}
	getJSON(t, srv.URL+"/v1/monthly", &monthly)
	require.Len(t, monthly, 2)
	assert.Equal(t, "2023-07", monthly[0]["month"])
	assert.EqualValues(t, 7, monthly[1]["count"])

	var dist []map[string]interface{}
	getJSON(t, srv.URL+"/v1/distribution?level=1", &dist)
	require.Len(t, dist, 2)
	assert.Equal(t, "OFFENCES AGAINST PROPERTY", dist[0]["name"])

	var trends []map[string]interface{}
	getJSON(t, srv.URL+"/v1/trends", &trends)
	assert.Len(t, trends, 3)

	// Trends compare suburbs: a suburb selection does not narrow them.
	var selected []map[string]interface{}
	getJSON(t, srv.URL+"/v1/trends?suburb=UNLEY&level1="+urlEscape("OFFENCES AGAINST THE PERSON"), &selected)
	assert.Equal(t, trends, selected)

	var heat struct {
		Suburbs []string  `json:"suburbs"`
		Months  []string  `json:"months"`
		Counts  [][]int64 `json:"counts"`
	}
	getJSON(t, srv.URL+"/v1/heatmap", &heat)
	assert.Equal(t, []string{"NORTH ADELAIDE", "UNLEY"}, heat.Suburbs)
	assert.Equal(t, [][]int64{{0, 5}, {3, 2}}, heat.Counts)
}

func TestDistribution_BadLevel(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	for _, q := range []string{"level=9", "level=two"} {
		var body ErrorResponse
		resp := getJSON(t, srv.URL+"/v1/distribution?"+q, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.NotEmpty(t, body.RequestID, q)
	}
}

func TestExportCSV(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	resp, err := http.Get(srv.URL + "/v1/export.csv?suburb=" + urlEscape("NORTH ADELAIDE"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="filtered_crime_data_NORTH_ADELAIDE.csv"`, resp.Header.Get("Content-Disposition"))
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, header, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "03/08/2023,NORTH ADELAIDE"))
}

func TestExportXLSX(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	resp, err := http.Get(srv.URL + "/v1/export.xlsx")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "filtered_crime_data.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(sink.SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestMissingDataset(t *testing.T) {
	srv, _ := newTestServer(t, filepath.Join(t.TempDir(), "absent.csv"))

	var body ErrorResponse
	resp := getJSON(t, srv.URL+"/v1/summary", &body)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "UNREADABLE", body.Code)
}

func TestCacheServesRepeatedRequests(t *testing.T) {
	srv, c := newTestServer(t, writeFixture(t))

	getJSON(t, srv.URL+"/v1/summary", nil)
	getJSON(t, srv.URL+"/v1/monthly", nil)
	getJSON(t, srv.URL+"/v1/trends", nil)

	m := c.Metrics()
	assert.Equal(t, int64(1), m.Misses)
	assert.Equal(t, int64(2), m.Hits)

	var stats CacheResponse
	getJSON(t, srv.URL+"/v1/cache", &stats)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.001)
}

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestMerge_JSON(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	body, contentType := multipartBody(t, map[string]string{
		"july.csv":   header + "\n" + fixtureRows,
		"august.csv": header + "\n03/08/2023,NORTH ADELAIDE,5006,OFFENCES AGAINST PROPERTY,THEFT AND RELATED OFFENCES,Theft from shop,1\n",
		"broken.csv": "not,a,header\n1,2,3\n",
	})
	resp, err := http.Post(srv.URL+"/v1/merge", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out MergeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Stats.FilesProcessed)
	assert.Equal(t, 1, out.Stats.FilesSkipped)
	assert.Equal(t, 3, out.Stats.FinalRows)
	assert.Equal(t, int64(11), out.Stats.TotalCount)
	assert.Len(t, out.Fingerprint, 32)
	require.Len(t, out.SourceErrors, 1)
	assert.Equal(t, "broken.csv", out.SourceErrors[0].Source)
}

func TestMerge_CSV(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	body, contentType := multipartBody(t, map[string]string{"july.csv": header + "\n" + fixtureRows})
	resp, err := http.Post(srv.URL+"/v1/merge?format=csv", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "01/07/2023,UNLEY"))
}

func TestMerge_Errors(t *testing.T) {
	srv, _ := newTestServer(t, writeFixture(t))

	body, contentType := multipartBody(t, nil)
	resp, err := http.Post(srv.URL+"/v1/merge", contentType, body)
	require.NoError(t, err)
	var noInputs ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&noInputs))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "NO_INPUTS", noInputs.Code)

	body, contentType = multipartBody(t, map[string]string{"empty.csv": header + "\n"})
	resp, err = http.Post(srv.URL+"/v1/merge", contentType, body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/v1/merge", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMiddleware(t *testing.T) {
	var logs bytes.Buffer
	logger := zerolog.New(&logs)

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	h := DefaultMiddleware(logger)(panicky)

	req := httptest.NewRequest(http.MethodGet, "/v1/summary", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", rec.Header().Get("X-Correlation-ID"))
	assert.Contains(t, logs.String(), `"panic":"boom"`)
	assert.Contains(t, logs.String(), `"status":500`)
	assert.Contains(t, logs.String(), `"request_id":"req-123"`)
}

func TestMerge_UploadTooLarge(t *testing.T) {
	h := NewMergeHandler(merge.DefaultOptions(), 512)
	big := strings.Repeat("x", 4096)

	post := func(t *testing.T, build func(mw *multipart.Writer)) int {
		t.Helper()
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		build(mw)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/v1/merge", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	t.Run("oversized file", func(t *testing.T) {
		code := post(t, func(mw *multipart.Writer) {
			part, err := mw.CreateFormFile("files", "july.csv")
			require.NoError(t, err)
			_, err = part.Write([]byte(header + "\n" + big))
			require.NoError(t, err)
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	})

	t.Run("limit hit between parts", func(t *testing.T) {
		code := post(t, func(mw *multipart.Writer) {
			require.NoError(t, mw.WriteField("notes", big))
			part, err := mw.CreateFormFile("files", "july.csv")
			require.NoError(t, err)
			_, err = part.Write([]byte(header + "\n" + fixtureRows))
			require.NoError(t, err)
		})
		assert.Equal(t, http.StatusRequestEntityTooLarge, code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/merge", strings.NewReader("--nope\r\ngarbage"))
		req.Header.Set("Content-Type", "multipart/form-data; boundary=other")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func urlEscape(s string) string {
	return strings.ReplaceAll(s, " ", "%20")
}
