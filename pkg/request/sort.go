package request

import (
	"fmt"
	"math"
	"strconv"
)

// Order is the direction applied to the active sort.
type Order string

const (
	// OrderAsc sorts ascending.
	OrderAsc Order = "asc"

	// OrderDesc sorts descending.
	OrderDesc Order = "desc"
)

// Valid reports whether o is a known order.
func (o Order) Valid() bool {
	return o == OrderAsc || o == OrderDesc
}

// Date bounds accepted by the API for fromdate/todate and date-typed sorts.
const (
	MinDate int64 = 0
	MaxDate int64 = 253402300799
)

// Sort names a sort key together with the min/max bounds sent for it.
// The meaning of Min and Max depends on the sort: date sorts take Unix
// timestamps, numeric sorts take integers.
type Sort struct {
	Name string
	Min  string
	Max  string
}

func dateSort(name string) Sort {
	return Sort{
		Name: name,
		Min:  strconv.FormatInt(MinDate, 10),
		Max:  strconv.FormatInt(MaxDate, 10),
	}
}

func numericSort(name string) Sort {
	return Sort{
		Name: name,
		Min:  strconv.Itoa(math.MinInt32),
		Max:  strconv.Itoa(math.MaxInt32),
	}
}

// SortActivity sorts by last activity date.
func SortActivity() Sort { return dateSort("activity") }

// SortCreation sorts by creation date.
func SortCreation() Sort { return dateSort("creation") }

// SortFeatured sorts by bounty close date.
func SortFeatured() Sort { return dateSort("featured") }

// SortVotes sorts by score.
func SortVotes() Sort { return numericSort("votes") }

// SortHot sorts by the "hot" ranking.
func SortHot() Sort { return numericSort("hot") }

// SortWeek sorts by the weekly ranking.
func SortWeek() Sort { return numericSort("week") }

// SortMonth sorts by the monthly ranking.
func SortMonth() Sort { return numericSort("month") }

// SortByName returns the sort registered under name with its default bounds.
func SortByName(name string) (Sort, error) {
	switch name {
	case "activity":
		return SortActivity(), nil
	case "creation":
		return SortCreation(), nil
	case "featured":
		return SortFeatured(), nil
	case "votes":
		return SortVotes(), nil
	case "hot":
		return SortHot(), nil
	case "week":
		return SortWeek(), nil
	case "month":
		return SortMonth(), nil
	default:
		return Sort{}, fmt.Errorf("unknown sort %q", name)
	}
}

// WithBounds returns a copy of s with explicit min/max bounds.
func (s Sort) WithBounds(min, max string) Sort {
	s.Min = min
	s.Max = max
	return s
}
