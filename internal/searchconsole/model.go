package searchconsole

import (
	"fmt"
	"time"
)

// Range is a named reporting window.
type Range string

const (
	Range7Days    Range = "7d"
	Range28Days   Range = "28d"
	Range3Months  Range = "3m"
	Range16Months Range = "16m"
)

// DateLayout is the date format of the Search Console API.
const DateLayout = "2006-01-02"

// Window returns the first and last day covered by the range, ending the day
// before now. Search Console reports whole days in UTC.
func (r Range) Window(now time.Time) (time.Time, time.Time, error) {
	y, m, d := now.UTC().Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	switch r {
	case Range7Days:
		return end.AddDate(0, 0, -6), end, nil
	case Range28Days:
		return end.AddDate(0, 0, -27), end, nil
	case Range3Months:
		return monthsEndingOn(end, 3), end, nil
	case Range16Months:
		return monthsEndingOn(end, 16), end, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown date range %q", string(r))
	}
}

// monthsEndingOn returns the first day of the n months ending on end. The
// day n months back is clamped to the length of its month, so the window
// never runs past a month end.
func monthsEndingOn(end time.Time, n int) time.Time {
	first := time.Date(end.Year(), end.Month()-time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := min(end.Day(), first.AddDate(0, 1, -1).Day())

	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

func (r Range) Valid() bool {
	switch r {
	case Range7Days, Range28Days, Range3Months, Range16Months:
		return true
	default:
		return false
	}
}

// SearchType filters the results by the search surface.
type SearchType string

const (
	SearchTypeWeb      SearchType = "web"
	SearchTypeImage    SearchType = "image"
	SearchTypeVideo    SearchType = "video"
	SearchTypeNews     SearchType = "news"
	SearchTypeDiscover SearchType = "discover"
)

func (t SearchType) Valid() bool {
	switch t {
	case SearchTypeWeb, SearchTypeImage, SearchTypeVideo, SearchTypeNews, SearchTypeDiscover:
		return true
	default:
		return false
	}
}

type Dimension string

const (
	DimensionDate    Dimension = "date"
	DimensionQuery   Dimension = "query"
	DimensionPage    Dimension = "page"
	DimensionCountry Dimension = "country"
	DimensionDevice  Dimension = "device"
)

type Site struct {
	SiteURL         string `json:"siteUrl"`
	PermissionLevel string `json:"permissionLevel"`
}

// Query is a site scoped search analytics request.
type Query struct {
	SiteURL    string
	Range      Range
	Type       SearchType
	Dimensions []Dimension
	RowLimit   int
}

type Row struct {
	Keys        []string `json:"keys,omitempty"`
	Clicks      float64  `json:"clicks"`
	Impressions float64  `json:"impressions"`
	CTR         float64  `json:"ctr"`
	Position    float64  `json:"position"`
}

// Rows is the result of a Query.
type Rows struct {
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Rows        []Row  `json:"rows"`
	Aggregation string `json:"aggregation,omitempty"`
}

// Totals sums clicks and impressions over all rows and derives the overall
// CTR and the impression weighted average position.
func (r Rows) Totals() Row {
	var total Row
	var weightedPosition float64
	for _, row := range r.Rows {
		total.Clicks += row.Clicks
		total.Impressions += row.Impressions
		weightedPosition += row.Position * row.Impressions
	}
	if total.Impressions > 0 {
		total.CTR = total.Clicks / total.Impressions
		total.Position = weightedPosition / total.Impressions
	}

	return total
}

type listSitesResponse struct {
	SiteEntry []Site `json:"siteEntry"`
}

type queryRequest struct {
	StartDate  string      `json:"startDate"`
	EndDate    string      `json:"endDate"`
	Type       SearchType  `json:"type,omitempty"`
	Dimensions []Dimension `json:"dimensions,omitempty"`
	RowLimit   int         `json:"rowLimit,omitempty"`
}

type queryResponse struct {
	Rows                    []Row  `json:"rows"`
	ResponseAggregationType string `json:"responseAggregationType"`
}

type apiErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}
