package history

import (
	"sort"
	"strings"
)

// PageCount returns the number of pages needed for total items, never less than 1.
func PageCount(total, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// Matches reports whether a record passes the query's range, search and class filters.
func (q Query) Matches(r Record) bool {
	if !q.From.IsZero() && r.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.Timestamp.After(q.To) {
		return false
	}

	if q.Class != "" {
		class := strings.ToLower(q.Class)
		if !anyClassContains(r, class) {
			return false
		}
	}

	if term := strings.ToLower(strings.TrimSpace(q.Search)); term != "" {
		pathMatch := r.SourcePath != "" && strings.Contains(strings.ToLower(r.SourcePath), term)
		if !pathMatch && !anyClassContains(r, term) {
			return false
		}
	}

	return true
}

func anyClassContains(r Record, lowerTerm string) bool {
	for _, d := range r.Detections {
		if strings.Contains(strings.ToLower(d.Class), lowerTerm) {
			return true
		}
	}
	return false
}

// Paginate filters records with q, sorts them newest first and cuts out the
// requested page. The page number is clamped into [1, TotalPages].
func Paginate(records []Record, q Query) Page {
	size := q.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}

	matched := make([]Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			matched = append(matched, r)
		}
	}
	SortNewestFirst(matched)

	p := Page{
		Total:      len(matched),
		TotalPages: PageCount(len(matched), size),
		PageSize:   size,
	}
	p.Page = min(max(q.Page, 1), p.TotalPages)

	start := (p.Page - 1) * size
	end := min(start+size, len(matched))
	p.Records = make([]Record, 0, max(end-start, 0))
	for _, r := range matched[start:end] {
		p.Records = append(p.Records, r.Clone())
	}
	return p
}

// SortNewestFirst orders records by timestamp descending, ties broken by ID descending.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].Timestamp.Equal(records[j].Timestamp) {
			return records[i].Timestamp.After(records[j].Timestamp)
		}
		return records[i].ID > records[j].ID
	})
}
