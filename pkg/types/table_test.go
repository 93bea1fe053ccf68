package types

import (
	"testing"
	"time"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestTable_SortCanonical(t *testing.T) {
	tbl := Table{
		{ReportedDate: day(2), Suburb: "B", OffenceCount: 1},
		{ReportedDate: day(1), Suburb: "Z", OffenceCount: 2},
		{ReportedDate: day(1), Suburb: "A", OffenceCount: 3},
		{ReportedDate: day(1), Suburb: "A", OffenceCount: 4},
	}
	tbl.SortCanonical()

	wantCounts := []int64{3, 4, 2, 1}
	for i, want := range wantCounts {
		if tbl[i].OffenceCount != want {
			t.Errorf("row %d: count %d, want %d (stable order)", i, tbl[i].OffenceCount, want)
		}
	}
	if !tbl.IsCanonicallySorted() {
		t.Error("table should report itself sorted")
	}
	if tbl.TotalCount() != 10 {
		t.Errorf("TotalCount() = %d, want 10", tbl.TotalCount())
	}
}

func TestTable_Fingerprint(t *testing.T) {
	a := Table{
		{ReportedDate: day(1), Suburb: "A", Postcode: "5000", OffenceCount: 1},
		{ReportedDate: day(2), Suburb: "B", Postcode: "5001", OffenceCount: 2},
	}
	b := a.Clone()

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical tables should share a fingerprint")
	}

	b[1].OffenceCount = 3
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("tables with different counts should not share a fingerprint")
	}

	// Field boundaries are length-prefixed.
	c := Table{{ReportedDate: day(1), Suburb: "AB", Postcode: "C"}}
	d := Table{{ReportedDate: day(1), Suburb: "A", Postcode: "BC"}}
	if c.Fingerprint() == d.Fingerprint() {
		t.Error("shifted field boundaries should not collide")
	}
	if len(a.Fingerprint()) != 32 {
		t.Errorf("fingerprint length %d, want 32", len(a.Fingerprint()))
	}
}

func TestTable_Suburbs(t *testing.T) {
	tbl := Table{{Suburb: "UNLEY"}, {Suburb: "EASTWOOD"}, {Suburb: "UNLEY"}}
	got := tbl.Suburbs()
	if len(got) != 2 || got[0] != "EASTWOOD" || got[1] != "UNLEY" {
		t.Errorf("Suburbs() = %v", got)
	}
}
