package policy

import (
	"github.com/petal-labs/conduit/core"
)

// NextFallback walks chain (the request- or client-level fallback list)
// looking for the first model after index that err permits moving to: err
// must classify as fallbackable, and the chain must have an entry left.
// idx is the index into chain of the model that just failed, or -1 if the
// primary model (not itself part of chain) just failed. Returns the next
// model, its index in chain, and ok=false once the chain is exhausted or
// err does not permit a fallback move.
func NextFallback(chain []core.ModelID, idx int, err error) (core.ModelID, int, bool) {
	if !IsFallbackable(err) {
		return "", idx, false
	}
	next := idx + 1
	if next >= len(chain) {
		return "", idx, false
	}
	return chain[next], next, true
}

// IsFallbackable reports whether err's classification permits moving to
// the next model in the fallback chain.
func IsFallbackable(err error) bool {
	aiErr, ok := core.AsAIError(err)
	if !ok {
		return false
	}
	return aiErr.Fallbackable()
}
