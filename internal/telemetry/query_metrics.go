// Package telemetry collects per-index search statistics: query counts,
// zero-result queries, latency buckets and frequent terms. Nothing leaves the
// machine. Counters accumulate in memory and are flushed as deltas into the
// catalog database, so statistics survive restarts and short CLI runs.
package telemetry

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DayLayout is the format of the day column.
const DayLayout = "2006-01-02"

// LatencyBucket is one search latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyBuckets lists the buckets fastest first.
func LatencyBuckets() []LatencyBucket {
	return []LatencyBucket{BucketP10, BucketP50, BucketP100, BucketP500, BucketP1000}
}

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one completed search.
type QueryEvent struct {
	Index       string
	Query       string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult returns true if the search found nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ExtractTerms lowercases query and keeps words of at least 3 bytes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// ZeroResultQuery is a search that found nothing.
type ZeroResultQuery struct {
	Query string    `json:"query"`
	At    time.Time `json:"at"`
}

// Stats is a point-in-time view of one index's search statistics.
type Stats struct {
	Index               string                  `json:"index"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	RepeatCount         int64                   `json:"repeat_count"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TopTerms            []TermCount             `json:"top_terms"`
	// ZeroResultQueries are the most recent first.
	ZeroResultQueries []ZeroResultQuery `json:"zero_result_queries"`
	// FirstDay is the first day with a recorded search, empty if none.
	FirstDay string `json:"first_day,omitempty"`
}

// EmptyStats returns stats for an index with no recorded searches.
func EmptyStats(index string) *Stats {
	return &Stats{
		Index:               index,
		LatencyDistribution: map[LatencyBucket]int64{},
		TopTerms:            []TermCount{},
		ZeroResultQueries:   []ZeroResultQuery{},
	}
}

// ZeroResultPercentage returns the share of searches that found nothing.
func (s *Stats) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// RepeatPercentage returns the share of searches repeating a recent query.
func (s *Stats) RepeatPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.RepeatCount) / float64(s.TotalQueries) * 100
}

// Batch is the change to one index's counters since the last flush.
type Batch struct {
	Index             string
	Day               string
	Queries           int64
	ZeroResults       int64
	Repeats           int64
	Latencies         map[LatencyBucket]int64
	Terms             map[string]int64
	ZeroResultQueries []ZeroResultQuery
}

// Store persists flushed batches.
type Store interface {
	// Save adds every batch to the stored totals in one transaction.
	Save(ctx context.Context, batches []Batch) error

	// Load returns the stored totals of index with at most topTerms terms
	// and recent zero-result queries.
	Load(ctx context.Context, index string, topTerms, recent int) (*Stats, error)
}

// Config configures a QueryMetrics collector.
type Config struct {
	// TopTerms is the number of terms tracked per index between flushes
	// and reported by Stats.
	TopTerms int
	// ZeroResults is the number of zero-result queries kept per index.
	ZeroResults int
	// RecentQueries is the window used to detect repeated searches.
	RecentQueries int
	// FlushInterval is how often deltas go to the store. 0 flushes only on
	// Flush and Close.
	FlushInterval time.Duration
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		TopTerms:      100,
		ZeroResults:   100,
		RecentQueries: 500,
		FlushInterval: 60 * time.Second,
	}
}

// pending holds one index's counters since the last flush.
type pending struct {
	day         string
	queries     int64
	zeroResults int64
	repeats     int64
	latencies   map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroQueries *CircularBuffer[ZeroResultQuery]
}

// QueryMetrics collects search statistics. Safe for concurrent use.
type QueryMetrics struct {
	store  Store
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	indexes map[string]*pending
	recent  *lru.Cache[string, struct{}]
	closed  bool

	flushMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a collector. A nil store keeps statistics in memory only.
func New(store Store, cfg Config, logger *slog.Logger) *QueryMetrics {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.ZeroResults <= 0 {
		cfg.ZeroResults = def.ZeroResults
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}
	if logger == nil {
		logger = slog.Default()
	}

	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)
	m := &QueryMetrics{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		indexes: make(map[string]*pending),
		recent:  recent,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop(cfg.FlushInterval)
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				m.logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

func (m *QueryMetrics) newPending(day string) *pending {
	terms, _ := lru.New[string, int64](m.cfg.TopTerms)
	return &pending{
		day:         day,
		latencies:   make(map[LatencyBucket]int64),
		terms:       terms,
		zeroQueries: NewCircularBuffer[ZeroResultQuery](m.cfg.ZeroResults),
	}
}

// Record adds one search. It never blocks on the store.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	p := m.indexes[event.Index]
	if p == nil {
		p = m.newPending(event.Timestamp.Format(DayLayout))
		m.indexes[event.Index] = p
	}

	p.queries++
	p.latencies[LatencyToBucket(event.Latency)]++
	for _, term := range ExtractTerms(event.Query) {
		n, _ := p.terms.Get(term)
		p.terms.Add(term, n+1)
	}
	if event.IsZeroResult() {
		p.zeroResults++
		p.zeroQueries.Add(ZeroResultQuery{Query: event.Query, At: event.Timestamp})
	}

	key := event.Index + "\x00" + hashQuery(event.Query)
	if _, seen := m.recent.Get(key); seen {
		p.repeats++
	}
	m.recent.Add(key, struct{}{})
}

// hashQuery normalizes case and surrounding space before hashing.
func hashQuery(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Stats returns the stored totals of index plus everything not yet flushed.
func (m *QueryMetrics) Stats(ctx context.Context, index string) (*Stats, error) {
	stats := EmptyStats(index)
	if m.store != nil {
		stored, err := m.store.Load(ctx, index, m.cfg.TopTerms, m.cfg.ZeroResults)
		if err != nil {
			return nil, err
		}
		stats = stored
	}

	m.mu.Lock()
	var b *Batch
	if p := m.indexes[index]; p != nil {
		b = p.batch(index)
	}
	m.mu.Unlock()

	if b != nil {
		merge(stats, b, m.cfg.TopTerms, m.cfg.ZeroResults)
	}
	if stats.TopTerms == nil {
		stats.TopTerms = []TermCount{}
	}
	if stats.ZeroResultQueries == nil {
		stats.ZeroResultQueries = []ZeroResultQuery{}
	}
	return stats, nil
}

// merge adds an unflushed batch to stored stats.
func merge(stats *Stats, b *Batch, topTerms, recent int) {
	stats.TotalQueries += b.Queries
	stats.ZeroResultCount += b.ZeroResults
	stats.RepeatCount += b.Repeats
	for bucket, n := range b.Latencies {
		stats.LatencyDistribution[bucket] += n
	}
	if stats.FirstDay == "" || b.Day < stats.FirstDay {
		stats.FirstDay = b.Day
	}

	counts := make(map[string]int64, len(stats.TopTerms)+len(b.Terms))
	for _, tc := range stats.TopTerms {
		counts[tc.Term] = tc.Count
	}
	for term, n := range b.Terms {
		counts[term] += n
	}
	stats.TopTerms = SortTerms(counts, topTerms)

	fresh := slices.Clone(b.ZeroResultQueries)
	slices.Reverse(fresh)
	stats.ZeroResultQueries = append(fresh, stats.ZeroResultQueries...)
	if len(stats.ZeroResultQueries) > recent {
		stats.ZeroResultQueries = stats.ZeroResultQueries[:recent]
	}
}

// SortTerms orders counts by count descending, then term, keeping at most limit.
func SortTerms(counts map[string]int64, limit int) []TermCount {
	out := make([]TermCount, 0, len(counts))
	for term, n := range counts {
		out = append(out, TermCount{Term: term, Count: n})
	}
	slices.SortFunc(out, func(a, b TermCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return strings.Compare(a.Term, b.Term)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// batch snapshots p without resetting it. Callers hold m.mu.
func (p *pending) batch(index string) *Batch {
	terms := make(map[string]int64, p.terms.Len())
	for _, term := range p.terms.Keys() {
		if n, ok := p.terms.Peek(term); ok {
			terms[term] = n
		}
	}
	return &Batch{
		Index:             index,
		Day:               p.day,
		Queries:           p.queries,
		ZeroResults:       p.zeroResults,
		Repeats:           p.repeats,
		Latencies:         maps.Clone(p.latencies),
		Terms:             terms,
		ZeroResultQueries: p.zeroQueries.Items(),
	}
}

// Forget drops unflushed statistics of a deleted index. Stored rows go with
// the catalog record.
func (m *QueryMetrics) Forget(index string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.indexes, index)
}

// Flush writes every unflushed delta to the store. On failure the deltas are
// kept for the next flush.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	batches := make([]Batch, 0, len(m.indexes))
	for _, name := range slices.Sorted(maps.Keys(m.indexes)) {
		batches = append(batches, *m.indexes[name].batch(name))
	}
	m.indexes = make(map[string]*pending)
	m.mu.Unlock()

	if len(batches) == 0 {
		return nil
	}
	if err := m.store.Save(ctx, batches); err != nil {
		m.restore(batches)
		return err
	}
	m.logger.Debug("telemetry_flushed", slog.Int("indexes", len(batches)))
	return nil
}

// restore puts unsaved batches back in front of newer counts.
func (m *QueryMetrics) restore(batches []Batch) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range batches {
		p := m.indexes[b.Index]
		if p == nil {
			p = m.newPending(b.Day)
			m.indexes[b.Index] = p
		}
		if b.Day < p.day {
			p.day = b.Day
		}
		p.queries += b.Queries
		p.zeroResults += b.ZeroResults
		p.repeats += b.Repeats
		for bucket, n := range b.Latencies {
			p.latencies[bucket] += n
		}
		for term, n := range b.Terms {
			cur, _ := p.terms.Get(term)
			p.terms.Add(term, cur+n)
		}
		newer := p.zeroQueries.Drain()
		for _, q := range b.ZeroResultQueries {
			p.zeroQueries.Add(q)
		}
		for _, q := range newer {
			p.zeroQueries.Add(q)
		}
	}
}

// Close stops the flush loop and flushes what is left. Later Records are
// ignored.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Flush(ctx)
}
