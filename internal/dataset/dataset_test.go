package dataset

import (
	"bytes"
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/crimestats/crimestats/internal/sink"
	"github.com/crimestats/crimestats/internal/source"
	"github.com/crimestats/crimestats/pkg/types"
)

func incident(y int, m time.Month, d int, suburb, l1, l2, l3 string, count int64) types.Incident {
	return types.Incident{
		ReportedDate:  time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Suburb:        suburb,
		Postcode:      "5000",
		OffenceLevel1: l1,
		OffenceLevel2: l2,
		OffenceLevel3: l3,
		OffenceCount:  count,
	}
}

const (
	property = "OFFENCES AGAINST PROPERTY"
	person   = "OFFENCES AGAINST THE PERSON"
	theft    = "THEFT AND RELATED OFFENCES"
	damage   = "PROPERTY DAMAGE AND ENVIRONMENTAL"
	assault  = "ACTS INTENDED TO CAUSE INJURY"
)

func fixture() *Dataset {
	return New(types.Table{
		incident(2023, 7, 1, "UNLEY", property, theft, "Theft from shop", 3),
		incident(2023, 7, 15, "UNLEY", property, damage, "Graffiti", 1),
		incident(2023, 8, 2, "UNLEY", person, assault, "Common Assault", 2),
		incident(2023, 8, 3, "PARKSIDE", property, theft, "Theft from shop", 5),
		incident(2023, 9, 9, "PARKSIDE", property, theft, "Receive stolen goods", 4),
	})
}

func TestOptions_Cascade(t *testing.T) {
	d := fixture()

	if got := d.Suburbs(); !reflect.DeepEqual(got, []string{"PARKSIDE", "UNLEY"}) {
		t.Errorf("Suburbs = %v", got)
	}
	if got := d.Level1Options(); !reflect.DeepEqual(got, []string{AllData, property, person}) {
		t.Errorf("Level1Options = %v", got)
	}
	if got := d.Level2Options(AllData); !reflect.DeepEqual(got, []string{AllData, assault, damage, theft}) {
		t.Errorf("Level2Options(All) = %v", got)
	}
	if got := d.Level2Options(person); !reflect.DeepEqual(got, []string{AllData, assault}) {
		t.Errorf("Level2Options(person) = %v", got)
	}
	if got := d.Level3Options(theft); !reflect.DeepEqual(got, []string{AllData, "Receive stolen goods", "Theft from shop"}) {
		t.Errorf("Level3Options(theft) = %v", got)
	}
	if got := d.Level3Options(""); len(got) != 5 {
		t.Errorf("Level3Options(\"\") = %v, want all four plus AllData", got)
	}
}

func TestFilter(t *testing.T) {
	d := fixture()

	tests := []struct {
		name string
		sel  Selection
		want int
	}{
		{"everything", Selection{}, 5},
		{"all data sentinels", Selection{Suburb: AllData, Level1: AllData, Level2: AllData, Level3: AllData}, 5},
		{"suburb", Selection{Suburb: "UNLEY"}, 3},
		{"suburb and level1", Selection{Suburb: "UNLEY", Level1: property}, 2},
		{"level2", Selection{Level2: theft}, 3},
		{"level3", Selection{Suburb: "PARKSIDE", Level3: "Theft from shop"}, 1},
		{"no match", Selection{Suburb: "GLENELG"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Filter(tt.sel).Len(); got != tt.want {
				t.Errorf("Len = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	got := fixture().Filter(Selection{Suburb: "UNLEY"}).Summary()
	want := Summary{TotalOffences: 6, UniqueOffenceTypes: 3, Months: 2}
	if got != want {
		t.Errorf("Summary = %+v, want %+v", got, want)
	}

	if empty := fixture().Filter(Selection{Suburb: "GLENELG"}).Summary(); empty != (Summary{}) {
		t.Errorf("empty Summary = %+v", empty)
	}
}

func TestMonthlySeries(t *testing.T) {
	got := fixture().MonthlySeries()
	want := []MonthCount{{"2023-07", 4}, {"2023-08", 7}, {"2023-09", 4}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MonthlySeries = %v, want %v", got, want)
	}
}

func TestDistribution(t *testing.T) {
	d := fixture()

	got, err := d.Distribution(2)
	if err != nil {
		t.Fatalf("Distribution failed: %v", err)
	}
	want := []CategoryCount{{theft, 3}, {assault, 1}, {damage, 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Distribution(2) = %v, want %v", got, want)
	}

	if _, err := d.Distribution(4); err == nil {
		t.Error("expected error for level 4")
	}
}

func TestSuburbTrendsAndHeatmap(t *testing.T) {
	d := fixture()

	trends := d.SuburbTrends()
	want := []SuburbMonthCount{
		{"PARKSIDE", "2023-08", 5},
		{"PARKSIDE", "2023-09", 4},
		{"UNLEY", "2023-07", 4},
		{"UNLEY", "2023-08", 2},
	}
	if !reflect.DeepEqual(trends, want) {
		t.Errorf("SuburbTrends = %v, want %v", trends, want)
	}

	h := d.Heatmap()
	if !reflect.DeepEqual(h.Months, []string{"2023-07", "2023-08", "2023-09"}) {
		t.Errorf("months = %v", h.Months)
	}
	wantCounts := [][]int64{{0, 5, 4}, {4, 2, 0}}
	if !reflect.DeepEqual(h.Counts, wantCounts) {
		t.Errorf("counts = %v, want %v", h.Counts, wantCounts)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"NORTH ADELAIDE", "NORTH_ADELAIDE"},
		{"  MOUNT   BARKER ", "_MOUNT_BARKER_"},
		{"ST. PETERS", "ST_PETERS"},
		{"O'HALLORAN HILL", "OHALLORAN_HILL"},
		{"Café-Bar/2", "Cafe-Bar2"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := ExportFilename("filtered_crime_data", "NORTH ADELAIDE", ".csv"); got != "filtered_crime_data_NORTH_ADELAIDE.csv" {
		t.Errorf("ExportFilename = %q", got)
	}
	if got := ExportFilename("filtered_crime_data", AllData, ".xlsx"); got != "filtered_crime_data.xlsx" {
		t.Errorf("ExportFilename(AllData) = %q", got)
	}
}

func TestExport(t *testing.T) {
	d := fixture().Filter(Selection{Suburb: "PARKSIDE"})

	var csvBuf bytes.Buffer
	if err := d.ExportCSV(&csvBuf, types.DefaultDateFormat()); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[1], "03/08/2023,PARKSIDE") {
		t.Errorf("csv = %q", csvBuf.String())
	}

	var xlsxBuf bytes.Buffer
	if err := d.ExportXLSX(&xlsxBuf, types.DefaultDateFormat()); err != nil {
		t.Fatalf("ExportXLSX failed: %v", err)
	}
	f, err := excelize.OpenReader(&xlsxBuf)
	if err != nil {
		t.Fatalf("OpenReader failed: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(sink.SheetName)
	if err != nil {
		t.Fatalf("GetRows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("xlsx rows = %d, want 3", len(rows))
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	table := fixture().Table()

	csvPath := filepath.Join(dir, "filtered.csv")
	if err := sink.NewCSVSink(csvPath, types.DefaultDateFormat()).Write(ctx, table); err != nil {
		t.Fatalf("CSV write failed: %v", err)
	}
	dbPath := filepath.Join(dir, "filtered.db")
	if err := sink.NewSQLiteSink(dbPath).Write(ctx, table); err != nil {
		t.Fatalf("SQLite write failed: %v", err)
	}

	for _, path := range []string{csvPath, dbPath} {
		d, err := Load(ctx, source.NewFileSource(path), types.DefaultDateFormat())
		if err != nil {
			t.Fatalf("Load(%s) failed: %v", path, err)
		}
		if d.Len() != len(table) || d.Summary().TotalOffences != 15 {
			t.Errorf("Load(%s): len=%d summary=%+v", path, d.Len(), d.Summary())
		}
	}

	if _, err := Load(ctx, source.NewFileSource(filepath.Join(dir, "missing.csv")), types.DefaultDateFormat()); err == nil {
		t.Error("expected error for missing file")
	}
}
