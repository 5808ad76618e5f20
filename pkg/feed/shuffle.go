package feed

import (
	"math/rand"

	"vibenet/pkg/model"
)

// ShuffleSuggestions permutes the suggestion list in place with a uniform
// Fisher-Yates shuffle. The rand source is injected so tests can seed it.
func ShuffleSuggestions(r *rand.Rand, users []model.Profile) {
	for i := len(users) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		users[i], users[j] = users[j], users[i]
	}
}
