package rsi

import "sort"

// sortReferences gives a deterministic order over a reference set so that
// liveness/interference iteration never depends on Go's map ordering,
// per the reproducibility requirement in the data model.
func sortReferences(refs []Reference) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })
}
