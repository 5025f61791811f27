package autosend

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// civilDayRange resolves dateFrom/dateTo strings (YYYY-MM-DD) to a
// half-open interval of the operating region's civil days: start of
// dateFrom through start of the day after dateTo. Empty values default
// to yesterday. Equal from and to cover exactly that one day.
func civilDayRange(loc *time.Location, dateFrom, dateTo string, now time.Time) (time.Time, time.Time, error) {
	yesterday := now.In(loc).AddDate(0, 0, -1)

	from := yesterday
	if dateFrom != "" {
		parsed, err := time.ParseInLocation(dateLayout, dateFrom, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_from: %w", err)
		}
		from = parsed
	}

	to := yesterday
	if dateTo != "" {
		parsed, err := time.ParseInLocation(dateLayout, dateTo, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date_to: %w", err)
		}
		to = parsed
	}

	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	if !end.After(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("date_to %s is before date_from %s", dateTo, dateFrom)
	}

	return start, end, nil
}

// chunkIDs partitions ids into consecutive chunks of at most size
// elements, preserving order. The last chunk may be smaller.
func chunkIDs(ids []int64, size int) [][]int64 {
	if size <= 0 || len(ids) == 0 {
		return nil
	}

	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
