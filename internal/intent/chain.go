package intent

import (
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// HybridClassifier runs the trained model when one is loaded and falls
// back to the keyword lexicon otherwise. When the model abstains with
// unknown, the lexicon gets a second opinion; a confident lexicon class
// wins over the model's abstention. Results are cached per normalized
// query.
type HybridClassifier struct {
	model    *ModelClassifier
	keywords *KeywordClassifier
	cache    *lru.Cache[string, Classification]
	logger   *slog.Logger
}

var _ Classifier = (*HybridClassifier)(nil)

// NewHybridClassifier builds the classifier chain. model may be nil.
func NewHybridClassifier(model *ModelClassifier, cacheSize int, logger *slog.Logger) *HybridClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = 10000
	}
	cache, _ := lru.New[string, Classification](cacheSize)
	return &HybridClassifier{
		model:    model,
		keywords: NewKeywordClassifier(),
		cache:    cache,
		logger:   logger,
	}
}

// Classify returns the intent for a query, consulting the cache first.
func (h *HybridClassifier) Classify(query string) Classification {
	key := strings.ToLower(strings.TrimSpace(query))
	if c, ok := h.cache.Get(key); ok {
		return c
	}

	c := h.classify(query)
	h.cache.Add(key, c)

	h.logger.Debug("intent_classified",
		slog.String("intent", string(c.Intent)),
		slog.Float64("confidence", c.Confidence),
		slog.String("source", c.Source))
	return c
}

func (h *HybridClassifier) classify(query string) Classification {
	if h.model == nil {
		return h.keywords.Classify(query)
	}

	c := h.model.Classify(query)
	if c.Intent != Unknown {
		return c
	}

	if kc := h.keywords.Classify(query); kc.Intent != Unknown {
		return kc
	}
	return c
}

// CacheLen reports the number of cached classifications.
func (h *HybridClassifier) CacheLen() int {
	return h.cache.Len()
}
