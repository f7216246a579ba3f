package behavior

// Metric names an indicator can reference. Values are computed from the
// actor's profile and the current request at evaluation time.
const (
	MetricRequestsPerMinute = "requests_per_minute"
	MetricRequestCount      = "request_count"
	MetricUniqueEndpoints   = "unique_endpoints"
	MetricEndpointEntropy   = "endpoint_entropy"
	MetricErrorRate         = "error_rate"
	MetricAvgResponseTimeMs = "avg_response_time_ms"
	MetricHourlyEntropy     = "hourly_entropy"
)

// Indicator is one measurable condition inside a pattern.
type Indicator struct {
	Metric   string  `json:"metric" mapstructure:"metric"`
	Operator string  `json:"operator" mapstructure:"operator"`
	Value    float64 `json:"value" mapstructure:"value"`
	Weight   float64 `json:"weight" mapstructure:"weight"`
}

func (i Indicator) matches(metrics map[string]float64) bool {
	value, ok := metrics[i.Metric]
	if !ok {
		return false
	}
	switch i.Operator {
	case "gt":
		return value > i.Value
	case "gte":
		return value >= i.Value
	case "lt":
		return value < i.Value
	case "lte":
		return value <= i.Value
	case "eq":
		return value == i.Value
	default:
		return false
	}
}

// Pattern names a combination of weighted indicators describing a known
// abuse shape. It fires when the weighted share of matching indicators
// reaches ConfidenceThreshold, and contributes Score when it does.
type Pattern struct {
	Name                string      `json:"name" mapstructure:"name"`
	Description         string      `json:"description,omitempty" mapstructure:"description"`
	Score               float64     `json:"score" mapstructure:"score"`
	ConfidenceThreshold float64     `json:"confidence_threshold" mapstructure:"confidence_threshold"`
	Indicators          []Indicator `json:"indicators" mapstructure:"indicators"`
}

// Match returns the weighted share of matching indicators and whether the
// pattern fires. An indicator without a positive weight counts as 1.0.
func (p Pattern) Match(metrics map[string]float64) (float64, bool) {
	var total, matched float64
	for _, indicator := range p.Indicators {
		weight := indicator.Weight
		if weight <= 0 {
			weight = 1.0
		}
		total += weight
		if indicator.matches(metrics) {
			matched += weight
		}
	}
	if total == 0 {
		return 0, false
	}
	ratio := matched / total
	return ratio, ratio >= p.ConfidenceThreshold
}

func defaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:                "credential_stuffing",
			Description:         "burst of failing requests concentrated on few endpoints",
			Score:               0.85,
			ConfidenceThreshold: 0.75,
			Indicators: []Indicator{
				{Metric: MetricErrorRate, Operator: "gt", Value: 0.5, Weight: 1.5},
				{Metric: MetricRequestsPerMinute, Operator: "gt", Value: 20, Weight: 1.0},
				{Metric: MetricUniqueEndpoints, Operator: "lt", Value: 5, Weight: 0.5},
			},
		},
		{
			Name:                "endpoint_scraping",
			Description:         "sustained crawl across a wide spread of endpoints",
			Score:               0.7,
			ConfidenceThreshold: 0.7,
			Indicators: []Indicator{
				{Metric: MetricUniqueEndpoints, Operator: "gt", Value: 30, Weight: 1.2},
				{Metric: MetricEndpointEntropy, Operator: "gt", Value: 4.5, Weight: 1.0},
				{Metric: MetricRequestsPerMinute, Operator: "gt", Value: 10, Weight: 0.8},
			},
		},
	}
}
