package threat

import (
	"fmt"
	"time"
)

// Level classifies a threat score into a severity bucket. The breakpoints
// are fixed so that level semantics stay stable across deployments.
type Level int

const (
	LevelNone Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelCritical
)

const CombinedAnalyzerID = "combined"

func LevelFromScore(score float64) Level {
	switch {
	case score < 0.1:
		return LevelNone
	case score < 0.3:
		return LevelLow
	case score < 0.6:
		return LevelMedium
	case score < 0.8:
		return LevelHigh
	default:
		return LevelCritical
	}
}

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RequiresImmediateAction reports whether the level is high enough that the
// caller should act on the request synchronously.
func (l Level) RequiresImmediateAction() bool {
	return l >= LevelHigh
}

// Score is one analyzer's opinion about a request. Level is always derived
// from Score via LevelFromScore and must never be set independently.
type Score struct {
	AnalyzerID string                 `json:"analyzer_id"`
	Score      float64                `json:"score"`
	Level      Level                  `json:"level"`
	Confidence float64                `json:"confidence"`
	Reasons    []string               `json:"reasons,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

func NewScore(analyzerID string, score, confidence float64) Score {
	return Score{
		AnalyzerID: analyzerID,
		Score:      score,
		Level:      LevelFromScore(score),
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
	}
}

func (s Score) WithReason(reason string) Score {
	s.Reasons = append(s.Reasons, reason)
	return s
}

func (s Score) WithReasons(reasons []string) Score {
	s.Reasons = reasons
	return s
}

func (s Score) WithMetadata(key string, value interface{}) Score {
	meta := make(map[string]interface{}, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		meta[k] = v
	}
	meta[key] = value
	s.Metadata = meta
	return s
}

// Summary renders a short human-readable description of the score.
func (s Score) Summary() string {
	return fmt.Sprintf("%s threat (score: %.2f, confidence: %.2f)", s.Level, s.Score, s.Confidence)
}

// Combine merges per-analyzer scores into one opinion using a weighted
// average of score and confidence independently. Weights are looked up by
// analyzer id; a missing weight defaults to 1.0. Reasons are concatenated in
// input order without deduplication, and metadata keys are namespaced by the
// source analyzer id.
func Combine(scores []Score, weights map[string]float64) Score {
	if len(scores) == 0 {
		return NewScore(CombinedAnalyzerID, 0, 0)
	}

	var totalWeight, weightedScore, weightedConfidence float64
	for _, s := range scores {
		w, ok := weights[s.AnalyzerID]
		if !ok {
			w = 1.0
		}
		totalWeight += w
		weightedScore += s.Score * w
		weightedConfidence += s.Confidence * w
	}
	if totalWeight == 0 {
		return NewScore(CombinedAnalyzerID, 0, 0)
	}

	combined := NewScore(CombinedAnalyzerID, weightedScore/totalWeight, weightedConfidence/totalWeight)
	var reasons []string
	meta := make(map[string]interface{})
	for _, s := range scores {
		reasons = append(reasons, s.Reasons...)
		for k, v := range s.Metadata {
			meta[fmt.Sprintf("%s_%s", s.AnalyzerID, k)] = v
		}
	}
	combined.Reasons = reasons
	if len(meta) > 0 {
		combined.Metadata = meta
	}
	return combined
}

// IsActionable reports whether the score should trigger an automated
// response. Both gates are required: a high score with low confidence must
// not trigger.
func (s Score) IsActionable(threshold, minConfidence float64) bool {
	return s.Score >= threshold && s.Confidence >= minConfidence
}
