package memory

import (
	"context"
	"sort"
	"time"

	"github.com/playvault/gamestore/docstore"
)

// Aggregate computes metrics over the documents matching the request's
// query, optionally grouped by a field or bucketed into calendar days.
func (s *Store) Aggregate(ctx context.Context, collectionName string, req docstore.AggregationRequest) (*docstore.AggregationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, docstore.ErrStoreClosed
	}

	result := &docstore.AggregationResult{
		Totals: make(map[string]float64),
	}

	c, ok := s.collections[collectionName]
	if !ok {
		return result, nil
	}

	var docs []map[string]interface{}
	for _, id := range c.order {
		doc := c.docs[id]
		if req.Query != nil {
			if _, matched := evaluate(doc, id, *req.Query); !matched {
				continue
			}
		}
		docs = append(docs, doc)
	}
	result.DocCount = int64(len(docs))

	for _, metric := range req.Metrics {
		result.Totals[metric.Name] = computeMetric(docs, metric)
	}

	if req.GroupBy != nil {
		result.Buckets = groupDocs(docs, *req.GroupBy, req.Metrics)
	}

	if req.DateHistogram != nil {
		result.Series = dailySeries(docs, *req.DateHistogram)
	}

	return result, nil
}

// computeMetric evaluates one metric over a document set. Values are
// gathered per occurrence, so dotted paths into line items weigh each
// item once.
func computeMetric(docs []map[string]interface{}, metric docstore.Metric) float64 {
	var (
		sum   float64
		count int
	)
	for _, doc := range docs {
		for _, value := range fieldValues(doc, metric.Field) {
			count++
			if f, ok := normalizeValue(value).(float64); ok {
				sum += f
			}
		}
	}
	switch metric.Kind {
	case docstore.MetricSum:
		return sum
	case docstore.MetricAvg:
		if count == 0 {
			return 0
		}
		return sum / float64(count)
	case docstore.MetricCount:
		return float64(count)
	default:
		return 0
	}
}

type bucketAccumulator struct {
	key  string
	docs []map[string]interface{}
}

// groupDocs buckets documents by every value occurrence at the group
// field, computes bucket metrics, and ranks buckets.
func groupDocs(docs []map[string]interface{}, group docstore.TermsGroup, metrics []docstore.Metric) []docstore.Bucket {
	byKey := make(map[string]*bucketAccumulator)
	var keys []string

	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, value := range fieldValues(doc, group.Field) {
			key, ok := value.(string)
			if !ok || key == "" {
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			acc, exists := byKey[key]
			if !exists {
				acc = &bucketAccumulator{key: key}
				byKey[key] = acc
				keys = append(keys, key)
			}
			acc.docs = append(acc.docs, doc)
		}
	}

	buckets := make([]docstore.Bucket, 0, len(keys))
	for _, key := range keys {
		acc := byKey[key]
		bucket := docstore.Bucket{
			Key:      key,
			DocCount: int64(len(acc.docs)),
			Metrics:  make(map[string]float64),
		}
		for _, metric := range metrics {
			bucket.Metrics[metric.Name] = computeMetric(acc.docs, metric)
		}
		buckets = append(buckets, bucket)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		if group.OrderByMetric != "" {
			return buckets[i].Metrics[group.OrderByMetric] > buckets[j].Metrics[group.OrderByMetric]
		}
		return buckets[i].DocCount > buckets[j].DocCount
	})

	if group.Size > 0 && len(buckets) > group.Size {
		buckets = buckets[:group.Size]
	}
	return buckets
}

// dailySeries buckets documents into UTC calendar days on the
// histogram field and computes per-day metrics, oldest first.
func dailySeries(docs []map[string]interface{}, histogram docstore.DateHistogram) []docstore.DateBucket {
	byDay := make(map[time.Time][]map[string]interface{})

	for _, doc := range docs {
		value := firstValue(doc, histogram.Field)
		t, ok := parseTime(value)
		if !ok {
			continue
		}
		day := t.UTC().Truncate(24 * time.Hour)
		byDay[day] = append(byDay[day], doc)
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	series := make([]docstore.DateBucket, 0, len(days))
	for _, day := range days {
		bucket := docstore.DateBucket{
			Date:     day,
			DocCount: int64(len(byDay[day])),
			Metrics:  make(map[string]float64),
		}
		for _, metric := range histogram.Metrics {
			bucket.Metrics[metric.Name] = computeMetric(byDay[day], metric)
		}
		series = append(series, bucket)
	}
	return series
}
