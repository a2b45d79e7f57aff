package matcher

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Stats is a snapshot of a Matcher's counters.
type Stats struct {
	CacheHits       uint64 `json:"cache_hits"`
	CacheMisses     uint64 `json:"cache_misses"`
	Found           uint64 `json:"questions_found"`
	NotFound        uint64 `json:"questions_not_found"`
	TotalSearches   uint64 `json:"total_searches"`
	PoolSize        int    `json:"heading_pool_size"`
	CachedQuestions int    `json:"cached_questions"`
}

// CacheHitRate is the percentage of searches answered from the cache.
func (s Stats) CacheHitRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(s.TotalSearches) * 100
}

// SuccessRate is the percentage of searches that matched a heading through
// scoring. Cache hits are not counted as found.
func (s Stats) SuccessRate() float64 {
	if s.TotalSearches == 0 {
		return 0
	}
	return float64(s.Found) / float64(s.TotalSearches) * 100
}

// Report renders the counters as a human-readable block.
func (s Stats) Report() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	b.WriteString(line + "\n")
	b.WriteString("QUESTION MATCHER STATS\n")
	b.WriteString(line + "\n")
	fmt.Fprintf(&b, "Total searches:     %d\n", s.TotalSearches)
	fmt.Fprintf(&b, "Questions found:    %d\n", s.Found)
	fmt.Fprintf(&b, "Not found:          %d\n", s.NotFound)
	fmt.Fprintf(&b, "Success rate:       %.1f%%\n\n", s.SuccessRate())
	fmt.Fprintf(&b, "Cache hits:         %d\n", s.CacheHits)
	fmt.Fprintf(&b, "Cache misses:       %d\n", s.CacheMisses)
	fmt.Fprintf(&b, "Hit rate:           %.1f%%\n\n", s.CacheHitRate())
	fmt.Fprintf(&b, "Headings in pool:   %d\n", s.PoolSize)
	fmt.Fprintf(&b, "Cached questions:   %d\n", s.CachedQuestions)
	b.WriteString(line + "\n")
	return b.String()
}

// counters may be read from a metrics goroutine while the matcher runs.
type counters struct {
	cacheHits     atomic.Uint64
	cacheMisses   atomic.Uint64
	found         atomic.Uint64
	notFound      atomic.Uint64
	totalSearches atomic.Uint64
}
