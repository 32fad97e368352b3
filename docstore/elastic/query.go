package elastic

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/playvault/gamestore/docstore"
)

type m = map[string]interface{}

// searchBody translates a docstore.Query into the Elasticsearch
// query DSL.
func searchBody(q docstore.Query) m {
	body := m{"query": boolQuery(q)}

	if len(q.Sort) > 0 {
		sorts := make([]m, len(q.Sort))
		for i, s := range q.Sort {
			order := "asc"
			if s.Desc {
				order = "desc"
			}
			sorts[i] = m{s.Field: m{"order": order}}
		}
		body["sort"] = sorts
	}
	if q.From > 0 {
		body["from"] = q.From
	}
	if q.Size > 0 {
		body["size"] = q.Size
	}
	return body
}

func boolQuery(q docstore.Query) m {
	var must, filter, should, mustNot []m

	if q.MultiMatch != nil {
		fields := make([]string, len(q.MultiMatch.Fields))
		for i, f := range q.MultiMatch.Fields {
			if f.Boost > 0 && f.Boost != 1 {
				fields[i] = fmt.Sprintf("%s^%g", f.Name, f.Boost)
			} else {
				fields[i] = f.Name
			}
		}
		mm := m{"query": q.MultiMatch.Term, "fields": fields}
		if q.MultiMatch.Fuzzy {
			mm["fuzziness"] = "AUTO"
		}
		must = append(must, m{"multi_match": mm})
	}
	for _, t := range q.Must {
		must = append(must, termQuery(t))
	}
	if len(q.IDs) > 0 {
		must = append(must, m{"ids": m{"values": q.IDs}})
	}

	for _, t := range q.Filter {
		filter = append(filter, termQuery(t))
	}
	if q.Range != nil {
		filter = append(filter, rangeQuery(*q.Range))
	}

	for _, t := range q.Should {
		should = append(should, termQuery(t))
	}

	if len(q.ExcludeIDs) > 0 {
		mustNot = append(mustNot, m{"ids": m{"values": q.ExcludeIDs}})
	}

	if len(must) == 0 && len(filter) == 0 && len(should) == 0 && len(mustNot) == 0 {
		return m{"match_all": m{}}
	}

	b := m{}
	if len(must) > 0 {
		b["must"] = must
	}
	if len(filter) > 0 {
		b["filter"] = filter
	}
	if len(should) > 0 {
		b["should"] = should
		if q.MinimumShouldMatch > 0 {
			b["minimum_should_match"] = q.MinimumShouldMatch
		}
	}
	if len(mustNot) > 0 {
		b["must_not"] = mustNot
	}
	return m{"bool": b}
}

func termQuery(t docstore.Term) m {
	inner := m{"value": t.Value}
	if t.Boost > 0 && t.Boost != 1 {
		inner["boost"] = t.Boost
	}
	return m{"term": m{t.Field: inner}}
}

func rangeQuery(r docstore.DateRange) m {
	bounds := m{}
	if !r.From.IsZero() {
		bounds["gte"] = r.From.Format(time.RFC3339)
	}
	if !r.To.IsZero() {
		bounds["lte"] = r.To.Format(time.RFC3339)
	}
	return m{"range": m{r.Field: bounds}}
}

const dateHistogramAgg = "per_day"

// aggregationBody builds a size-0 search carrying the requested
// aggregations.
func aggregationBody(req docstore.AggregationRequest) m {
	body := m{"size": 0}
	if req.Query != nil {
		body["query"] = boolQuery(*req.Query)
	}

	aggs := m{}
	for _, metric := range req.Metrics {
		aggs[metric.Name] = metricAgg(metric)
	}
	if req.GroupBy != nil {
		terms := m{"field": req.GroupBy.Field}
		if req.GroupBy.Size > 0 {
			terms["size"] = req.GroupBy.Size
		}
		if req.GroupBy.OrderByMetric != "" {
			terms["order"] = m{req.GroupBy.OrderByMetric: "desc"}
		}
		sub := m{}
		for _, metric := range req.Metrics {
			sub[metric.Name] = metricAgg(metric)
		}
		group := m{"terms": terms}
		if len(sub) > 0 {
			group["aggs"] = sub
		}
		aggs["groups"] = group
	}
	if req.DateHistogram != nil {
		sub := m{}
		for _, metric := range req.DateHistogram.Metrics {
			sub[metric.Name] = metricAgg(metric)
		}
		hist := m{"date_histogram": m{
			"field":             req.DateHistogram.Field,
			"calendar_interval": "day",
		}}
		if len(sub) > 0 {
			hist["aggs"] = sub
		}
		aggs[dateHistogramAgg] = hist
	}
	if len(aggs) > 0 {
		body["aggs"] = aggs
	}
	return body
}

func metricAgg(metric docstore.Metric) m {
	var kind string
	switch metric.Kind {
	case docstore.MetricSum:
		kind = "sum"
	case docstore.MetricAvg:
		kind = "avg"
	default:
		kind = "value_count"
	}
	return m{kind: m{"field": metric.Field}}
}

type aggValue struct {
	Value float64 `json:"value"`
}

type aggBucket struct {
	Key         json.RawMessage `json:"key"`
	KeyAsString string          `json:"key_as_string"`
	DocCount    int64           `json:"doc_count"`

	metrics map[string]aggValue
}

func (b *aggBucket) UnmarshalJSON(data []byte) error {
	type alias aggBucket
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*b = aggBucket(a)

	// Sub-aggregation values sit beside the fixed keys.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	b.metrics = make(map[string]aggValue)
	for name, val := range raw {
		switch name {
		case "key", "key_as_string", "doc_count":
			continue
		}
		var v aggValue
		if err := json.Unmarshal(val, &v); err == nil {
			b.metrics[name] = v
		}
	}
	return nil
}

func (b *aggBucket) keyString() string {
	if b.KeyAsString != "" {
		return b.KeyAsString
	}
	var s string
	if err := json.Unmarshal(b.Key, &s); err == nil {
		return s
	}
	return string(b.Key)
}

func (b *aggBucket) metricValues() map[string]float64 {
	out := make(map[string]float64, len(b.metrics))
	for name, v := range b.metrics {
		out[name] = v.Value
	}
	return out
}

// decodeAggregations maps the Elasticsearch aggregation response back
// onto the docstore result shape.
func decodeAggregations(body io.Reader, req docstore.AggregationRequest) (*docstore.AggregationResult, error) {
	var envelope struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
		} `json:"hits"`
		Aggregations map[string]json.RawMessage `json:"aggregations"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("docstore/elastic: failed to decode aggregation response: %w", err)
	}

	result := &docstore.AggregationResult{
		DocCount: envelope.Hits.Total.Value,
		Totals:   make(map[string]float64),
	}

	for _, metric := range req.Metrics {
		raw, ok := envelope.Aggregations[metric.Name]
		if !ok {
			continue
		}
		var v aggValue
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("docstore/elastic: failed to decode metric %s: %w", metric.Name, err)
		}
		result.Totals[metric.Name] = v.Value
	}

	if req.GroupBy != nil {
		if raw, ok := envelope.Aggregations["groups"]; ok {
			var groups struct {
				Buckets []aggBucket `json:"buckets"`
			}
			if err := json.Unmarshal(raw, &groups); err != nil {
				return nil, fmt.Errorf("docstore/elastic: failed to decode group buckets: %w", err)
			}
			for i := range groups.Buckets {
				b := &groups.Buckets[i]
				result.Buckets = append(result.Buckets, docstore.Bucket{
					Key:      b.keyString(),
					DocCount: b.DocCount,
					Metrics:  b.metricValues(),
				})
			}
		}
	}

	if req.DateHistogram != nil {
		if raw, ok := envelope.Aggregations[dateHistogramAgg]; ok {
			var hist struct {
				Buckets []aggBucket `json:"buckets"`
			}
			if err := json.Unmarshal(raw, &hist); err != nil {
				return nil, fmt.Errorf("docstore/elastic: failed to decode histogram buckets: %w", err)
			}
			for i := range hist.Buckets {
				b := &hist.Buckets[i]
				day, err := time.Parse(time.RFC3339, b.KeyAsString)
				if err != nil {
					// UTC millisecond epoch key when the string form is absent.
					var ms int64
					if jerr := json.Unmarshal(b.Key, &ms); jerr != nil {
						return nil, fmt.Errorf("docstore/elastic: failed to parse histogram key: %w", err)
					}
					day = time.UnixMilli(ms).UTC()
				}
				result.Series = append(result.Series, docstore.DateBucket{
					Date:     day,
					DocCount: b.DocCount,
					Metrics:  b.metricValues(),
				})
			}
		}
	}
	return result, nil
}
