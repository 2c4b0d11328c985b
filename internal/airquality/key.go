package airquality

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// TimeBucket quantizes t into BucketSize slots since the Unix epoch.
func TimeBucket(t time.Time) int64 {
	return t.Unix() / int64(BucketSize/time.Second)
}

// CacheKey derives the deterministic key for a request at time now. The
// location order of the request does not affect the key. City and country are
// escaped so a separator inside either cannot collide with another pair.
func CacheKey(city, country string, now time.Time, ids []LocationID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)
	return fmt.Sprintf("pm25:%s:%s:%d:%s", url.QueryEscape(city), url.QueryEscape(country), TimeBucket(now), strings.Join(sorted, ","))
}
