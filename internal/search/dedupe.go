package search

import "github.com/assistsupport/kbsearch/internal/store"

// dedupeBySourceDocument keeps only the best-ranked chunk per source
// document. Results without metadata or without a source document pass
// through untouched.
func dedupeBySourceDocument(fused []store.ScoredID, meta map[string]store.ArticleMeta) []store.ScoredID {
	seen := make(map[string]struct{})
	out := make([]store.ScoredID, 0, len(fused))

	for _, r := range fused {
		m, ok := meta[r.ID]
		if !ok || m.SourceDocumentID == nil {
			out = append(out, r)
			continue
		}
		if _, dup := seen[*m.SourceDocumentID]; dup {
			continue
		}
		seen[*m.SourceDocumentID] = struct{}{}
		out = append(out, r)
	}
	return out
}
