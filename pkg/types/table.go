package types

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/spaolacci/murmur3"
)

// Table is an ordered sequence of incidents.
type Table []Incident

// Len returns the number of rows.
func (t Table) Len() int { return len(t) }

// TotalCount returns the sum of OffenceCount over all rows.
func (t Table) TotalCount() int64 {
	var total int64
	for _, in := range t {
		total += in.OffenceCount
	}
	return total
}

// SortCanonical stably sorts the table by reported date, then suburb.
func (t Table) SortCanonical() {
	sort.SliceStable(t, func(i, j int) bool {
		return CanonicalLess(t[i], t[j])
	})
}

// IsCanonicallySorted reports whether the table is ordered by date, then suburb.
func (t Table) IsCanonicallySorted() bool {
	return sort.SliceIsSorted(t, func(i, j int) bool {
		return CanonicalLess(t[i], t[j])
	})
}

// Suburbs returns the sorted unique suburbs present in the table.
func (t Table) Suburbs() []string {
	seen := make(map[string]struct{})
	for _, in := range t {
		seen[in.Suburb] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clone returns a copy of the table.
func (t Table) Clone() Table {
	if t == nil {
		return nil
	}
	out := make(Table, len(t))
	copy(out, t)
	return out
}

// Fingerprint returns a murmur3 128-bit digest of the ordered rows. Two tables
// with the same rows in the same order share a fingerprint.
func (t Table) Fingerprint() string {
	h := murmur3.New128()
	var buf [8]byte
	for _, in := range t {
		binary.BigEndian.PutUint64(buf[:], uint64(in.ReportedDate.Unix()))
		h.Write(buf[:])
		for _, s := range []string{in.Suburb, in.Postcode, in.OffenceLevel1, in.OffenceLevel2, in.OffenceLevel3} {
			binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
			h.Write(buf[:])
			h.Write([]byte(s))
		}
		binary.BigEndian.PutUint64(buf[:], uint64(in.OffenceCount))
		h.Write(buf[:])
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2)
}
