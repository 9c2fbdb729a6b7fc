package analytics

type Stats struct {
	Total       int64 `json:"total"`
	Completed   int64 `json:"completed"`
	Running     int64 `json:"running"`
	Pending     int64 `json:"pending"`
	Failed      int64 `json:"failed"`
	Cancelled   int64 `json:"cancelled"`
	SuccessRate int64 `json:"success_rate"`
}

type Count struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type Charts struct {
	ByStatus             []Count    `json:"by_status"`
	ByMode               []Count    `json:"by_mode"`
	DurationDistribution []Count    `json:"duration_distribution"`
	Trend                []DayCount `json:"trend_30days"`
}

// Duration buckets. Upper edges are inclusive: 1h falls in BucketUpTo1h and
// 4h in Bucket1To4h.
const (
	BucketUpTo1h = "<=1h"
	Bucket1To4h  = "1-4h"
	Bucket4To8h  = "4-8h"
	BucketOver8h = ">8h"
)

var DurationBuckets = []string{BucketUpTo1h, Bucket1To4h, Bucket4To8h, BucketOver8h}

func DurationBucket(hours float64) string {
	switch {
	case hours <= 1:
		return BucketUpTo1h
	case hours <= 4:
		return Bucket1To4h
	case hours <= 8:
		return Bucket4To8h
	default:
		return BucketOver8h
	}
}

const TrendDays = 30
