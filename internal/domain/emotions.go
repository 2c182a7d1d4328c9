package domain

import (
	"encoding/json"
	"sort"
)

// EmotionKeys is the canonical emotion order. It is also the tie-break order for ranking.
var EmotionKeys = []string{
	"anxiety", "depression", "stress", "sadness",
	"happiness", "relief", "anger", "contentment",
}

// Emotions is a fixed 8-dimensional score vector. Every component lies in [0,1].
type Emotions struct {
	Anxiety     float64 `json:"anxiety"`
	Depression  float64 `json:"depression"`
	Stress      float64 `json:"stress"`
	Sadness     float64 `json:"sadness"`
	Happiness   float64 `json:"happiness"`
	Relief      float64 `json:"relief"`
	Anger       float64 `json:"anger"`
	Contentment float64 `json:"contentment"`
}

type EmotionScore struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// EmotionsFromMap builds a vector from a loosely shaped model response.
// Unknown keys are ignored, missing keys default to 0, values are clamped.
func EmotionsFromMap(m map[string]float64) Emotions {
	var e Emotions
	for _, k := range EmotionKeys {
		if v, ok := m[k]; ok {
			e.set(k, v)
		}
	}
	return e
}

func (e Emotions) Map() map[string]float64 {
	out := make(map[string]float64, len(EmotionKeys))
	for _, k := range EmotionKeys {
		out[k] = e.Get(k)
	}
	return out
}

func (e Emotions) Get(name string) float64 {
	switch name {
	case "anxiety":
		return e.Anxiety
	case "depression":
		return e.Depression
	case "stress":
		return e.Stress
	case "sadness":
		return e.Sadness
	case "happiness":
		return e.Happiness
	case "relief":
		return e.Relief
	case "anger":
		return e.Anger
	case "contentment":
		return e.Contentment
	}
	return 0
}

func (e *Emotions) set(name string, v float64) {
	v = clamp01(v)
	switch name {
	case "anxiety":
		e.Anxiety = v
	case "depression":
		e.Depression = v
	case "stress":
		e.Stress = v
	case "sadness":
		e.Sadness = v
	case "happiness":
		e.Happiness = v
	case "relief":
		e.Relief = v
	case "anger":
		e.Anger = v
	case "contentment":
		e.Contentment = v
	}
}

// Ranked returns all scores sorted descending. Ties keep canonical key order.
func (e Emotions) Ranked() []EmotionScore {
	out := make([]EmotionScore, len(EmotionKeys))
	for i, k := range EmotionKeys {
		out[i] = EmotionScore{Name: k, Score: e.Get(k)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Top returns up to n non-zero scores in ranked order.
func (e Emotions) Top(n int) []EmotionScore {
	var out []EmotionScore
	for _, s := range e.Ranked() {
		if len(out) == n {
			break
		}
		if s.Score > 0 {
			out = append(out, s)
		}
	}
	return out
}

func (e Emotions) IsZero() bool {
	return e == Emotions{}
}

// UnmarshalJSON accepts partial objects and clamps values, so rows written by
// older code or corrected by hand still satisfy the vector invariants.
func (e *Emotions) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*e = EmotionsFromMap(m)
	return nil
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
