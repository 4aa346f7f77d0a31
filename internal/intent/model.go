package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	kberrors "github.com/assistsupport/kbsearch/internal/errors"
)

// unknownThreshold is the minimum winning probability before the model
// commits to a class. Below it the query is unknown with confidence
// 1 - max probability.
const unknownThreshold = 0.4

// modelArtifact is the JSON export of the offline trainer: a TF-IDF
// vectorizer (unigrams and bigrams, sublinear TF, smoothed IDF, L2
// normalized) feeding a multinomial logistic regression.
type modelArtifact struct {
	Classes      []string           `json:"classes"`
	Vocabulary   map[string]int     `json:"vocabulary"`
	IDF          []float64          `json:"idf"`
	Coefficients [][]float64        `json:"coefficients"`
	Intercepts   []float64          `json:"intercepts"`
	Meta         map[string]float64 `json:"meta,omitempty"`
}

// ModelClassifier runs the trained intent model.
type ModelClassifier struct {
	classes      []Intent
	vocabulary   map[string]int
	idf          []float64
	coefficients [][]float64
	intercepts   []float64
}

var _ Classifier = (*ModelClassifier)(nil)

var tokenPattern = regexp.MustCompile(`\w{2,}`)

// LoadModel reads a trained model artifact from disk.
func LoadModel(path string) (*ModelClassifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeModelLoad,
			fmt.Sprintf("read intent model %s: %v", path, err), err)
	}
	return ParseModel(data)
}

// ParseModel builds a classifier from a JSON model artifact.
func ParseModel(data []byte) (*ModelClassifier, error) {
	var art modelArtifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeModelLoad, "parse intent model", err)
	}

	if len(art.Classes) == 0 || len(art.Vocabulary) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeModelLoad, "intent model missing classes or vocabulary", nil)
	}
	if len(art.IDF) != len(art.Vocabulary) {
		return nil, kberrors.New(kberrors.ErrCodeModelLoad,
			fmt.Sprintf("idf length %d does not match vocabulary size %d", len(art.IDF), len(art.Vocabulary)), nil)
	}
	if len(art.Coefficients) != len(art.Classes) || len(art.Intercepts) != len(art.Classes) {
		return nil, kberrors.New(kberrors.ErrCodeModelLoad, "coefficient shape does not match classes", nil)
	}
	for i, row := range art.Coefficients {
		if len(row) != len(art.Vocabulary) {
			return nil, kberrors.New(kberrors.ErrCodeModelLoad,
				fmt.Sprintf("coefficient row %d has %d features, expected %d", i, len(row), len(art.Vocabulary)), nil)
		}
	}

	classes := make([]Intent, len(art.Classes))
	for i, c := range art.Classes {
		classes[i] = Intent(c)
	}
	return &ModelClassifier{
		classes:      classes,
		vocabulary:   art.Vocabulary,
		idf:          art.IDF,
		coefficients: art.Coefficients,
		intercepts:   art.Intercepts,
	}, nil
}

// Classify runs the TF-IDF + logistic regression pipeline.
func (m *ModelClassifier) Classify(query string) Classification {
	features := m.vectorize(query)
	probs := m.predictProba(features)

	bestIdx, bestProb := 0, probs[0]
	for i, p := range probs {
		if p > bestProb {
			bestIdx, bestProb = i, p
		}
	}

	if bestProb < unknownThreshold {
		return Classification{Intent: Unknown, Confidence: 1 - bestProb, Source: "model"}
	}
	return Classification{Intent: m.classes[bestIdx], Confidence: bestProb, Source: "model"}
}

// vectorize computes the sparse L2-normalized TF-IDF vector for a query.
func (m *ModelClassifier) vectorize(query string) map[int]float64 {
	tokens := tokenPattern.FindAllString(strings.ToLower(query), -1)

	counts := make(map[int]float64)
	bump := func(term string) {
		if idx, ok := m.vocabulary[term]; ok {
			counts[idx]++
		}
	}
	for i, tok := range tokens {
		bump(tok)
		if i+1 < len(tokens) {
			bump(tok + " " + tokens[i+1])
		}
	}

	var sumSq float64
	for idx, tf := range counts {
		// Sublinear term frequency.
		w := (1 + math.Log(tf)) * m.idf[idx]
		counts[idx] = w
		sumSq += w * w
	}
	if sumSq > 0 {
		norm := math.Sqrt(sumSq)
		for idx := range counts {
			counts[idx] /= norm
		}
	}
	return counts
}

// predictProba computes class probabilities via softmax over the linear scores.
func (m *ModelClassifier) predictProba(features map[int]float64) []float64 {
	scores := make([]float64, len(m.classes))
	for c := range m.classes {
		s := m.intercepts[c]
		for idx, w := range features {
			s += m.coefficients[c][idx] * w
		}
		scores[c] = s
	}

	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	var sum float64
	probs := make([]float64, len(scores))
	for i, s := range scores {
		probs[i] = math.Exp(s - maxScore)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}
