// Package intent classifies search queries to steer fusion weighting
// and category boosting.
package intent

// Intent is a query intent class.
type Intent string

const (
	// Policy covers rules, permissions, and governance questions.
	Policy Intent = "policy"
	// Procedure covers how-to and step-by-step questions.
	Procedure Intent = "procedure"
	// Reference covers definitions, overviews, and catalogs.
	Reference Intent = "reference"
	// Unknown marks queries no class fits with confidence.
	Unknown Intent = "unknown"
)

// Classification is the result of classifying a query.
type Classification struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Source records which classifier produced the result ("model" or "keyword").
	Source string `json:"source"`
}

// Classifier classifies a query into an intent.
type Classifier interface {
	Classify(query string) Classification
}
