package harvest_test

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hibot-harvest/internal/fetch"
	"hibot-harvest/internal/harvest"
	"hibot-harvest/internal/hibot"
	"hibot-harvest/internal/store"
)

// provider 模拟 reportauditory/search：按 page/size 切分 total 条记录。
type provider struct {
	total int

	mu   sync.Mutex
	hits map[int]int
}

func (p *provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer tok" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var body struct {
		DateRange struct {
			StartDate string `json:"startDate"`
			EndDate   string `json:"endDate"`
		} `json:"dateRange"`
		Page int `json:"page"`
		Size int `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if body.DateRange.StartDate != "2025-12-10T00:00:00.000Z" || body.DateRange.EndDate != "2025-12-16T23:59:59.000Z" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	p.mu.Lock()
	p.hits[page]++
	p.mu.Unlock()

	items := []map[string]any{}
	for i := page * body.Size; i < (page+1)*body.Size && i < p.total; i++ {
		items = append(items, map[string]any{
			"id":        fmt.Sprintf("conv-%03d", i),
			"agentName": "Ana, \"la jefa\"",
			"duration":  i * 3,
			"client":    map[string]any{"name": "c" + strconv.Itoa(i)},
			"contacts": []any{map[string]any{
				"contactId": i,
				"account":   "521550000" + strconv.Itoa(i),
				"exclusiveAgents": []any{
					map[string]any{"agentId": "a1", "campaignId": "k1", "agent": "Ana", "campaign": "Ventas"},
				},
			}},
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"content": items, "number": page})
}

func (p *provider) duplicates() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for pg, n := range p.hits {
		if n > 1 {
			out = append(out, pg)
		}
	}
	return out
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func sortedRows(recs [][]string) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, strings.Join(r, "\x1f"))
	}
	sort.Strings(out)
	return out
}

func params(out string) harvest.Params {
	return harvest.Params{
		Start:       time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 12, 16, 23, 59, 59, 0, time.UTC),
		Output:      out,
		PageSize:    50,
		Concurrency: 8,
		BatchSize:   5,
	}
}

func TestToCSV_EndToEnd(t *testing.T) {
	prov := &provider{total: 123, hits: map[int]int{}}
	srv := httptest.NewServer(prov)
	defer srv.Close()

	cl, err := fetch.New(fetch.Options{MaxConns: 16})
	require.NoError(t, err)
	conn := hibot.Connection{BaseURL: srv.URL, ReportsPath: "core-reports", Token: "tok", TenantID: "t1", ZoneID: "z1"}
	out := filepath.Join(t.TempDir(), "CSV", "filtered_hibot_export.csv")

	sum, err := harvest.ToCSV(context.Background(), cl, conn, params(out))
	require.NoError(t, err)
	assert.Equal(t, 123, sum.RowsWritten)
	assert.Equal(t, 2, sum.StopPage)
	assert.Empty(t, prov.duplicates())

	first := readCSV(t, out)
	require.Len(t, first, 124)
	header := first[0]
	assert.Len(t, header, 44)
	idx := map[string]int{}
	for i, c := range header {
		idx[c] = i
	}
	ids := map[string]bool{}
	for _, r := range first[1:] {
		ids[r[idx["id"]]] = true
		assert.Equal(t, "Ana, \"la jefa\"", r[idx["agentName"]])
		assert.Equal(t, "1", r[idx["contacts_count"]])
		assert.Equal(t, "Ventas", r[idx["contact_exclusive_campaign_name"]])
	}
	assert.Len(t, ids, 123)

	// 第二次运行覆盖同一路径，行集合不变
	sum2, err := harvest.ToCSV(context.Background(), cl, conn, params(out))
	require.NoError(t, err)
	assert.Equal(t, 123, sum2.RowsWritten)
	assert.NotEqual(t, sum.RunID, sum2.RunID)
	second := readCSV(t, out)
	require.Len(t, second, 124)
	assert.Equal(t, header, second[0])
	assert.Equal(t, sortedRows(first[1:]), sortedRows(second[1:]))
}

func TestToCSV_WithLedger(t *testing.T) {
	prov := &provider{total: 60, hits: map[int]int{}}
	srv := httptest.NewServer(prov)
	defer srv.Close()

	dir := t.TempDir()
	st, err := store.OpenSQLite(filepath.Join(dir, "harvest.db"))
	require.NoError(t, err)
	defer st.Close()

	cl, err := fetch.New(fetch.Options{})
	require.NoError(t, err)
	conn := hibot.Connection{BaseURL: srv.URL, ReportsPath: "core-reports", Token: "tok", TenantID: "t1", ZoneID: "z1"}
	p := params(filepath.Join(dir, "out.csv"))
	p.Concurrency = 3
	p.Ledger = st
	p.RunID = "run-ledger"
	sum, err := harvest.ToCSV(context.Background(), cl, conn, p)
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-ledger", runs[0].ID)
	assert.Equal(t, 60, runs[0].Rows)
	assert.Equal(t, 1, runs[0].StopPage)
	assert.Equal(t, "2025-12-10T00:00:00.000Z", runs[0].StartDate)

	pages, err := st.ListPages(context.Background(), "run-ledger")
	require.NoError(t, err)
	assert.Len(t, pages, sum.PagesFetched)
	assert.Equal(t, 50, pages[0].Items)
	assert.Equal(t, 10, pages[1].Items)
}

func TestToCSV_Unauthorized(t *testing.T) {
	prov := &provider{total: 10, hits: map[int]int{}}
	srv := httptest.NewServer(prov)
	defer srv.Close()

	cl, err := fetch.New(fetch.Options{})
	require.NoError(t, err)
	conn := hibot.Connection{BaseURL: srv.URL, ReportsPath: "r", Token: "wrong", TenantID: "t", ZoneID: "z"}
	out := filepath.Join(t.TempDir(), "x.csv")
	_, err = harvest.ToCSV(context.Background(), cl, conn, params(out))
	var se *fetch.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	// 只有表头
	assert.Equal(t, 1, len(readCSV(t, out)))
}

func TestToCSV_RejectsInvertedRange(t *testing.T) {
	cl, err := fetch.New(fetch.Options{})
	require.NoError(t, err)
	p := params(filepath.Join(t.TempDir(), "x.csv"))
	p.Start, p.End = p.End, p.Start
	_, err = harvest.ToCSV(context.Background(), cl, hibot.Connection{}, p)
	assert.Error(t, err)
}
