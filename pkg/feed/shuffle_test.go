package feed

import (
	"math/rand"
	"testing"

	"vibenet/pkg/model"

	"github.com/stretchr/testify/assert"
)

func TestShuffleSuggestionsDeterministicForSeed(t *testing.T) {
	a := makeProfiles(20)
	b := makeProfiles(20)

	ShuffleSuggestions(rand.New(rand.NewSource(42)), a)
	ShuffleSuggestions(rand.New(rand.NewSource(42)), b)

	assert.Equal(t, a, b)
}

func TestShuffleSuggestionsIsPermutation(t *testing.T) {
	users := makeProfiles(50)
	ShuffleSuggestions(rand.New(rand.NewSource(7)), users)

	assert.Len(t, users, 50)
	seen := make(map[int64]struct{}, len(users))
	for _, u := range users {
		seen[u.UserID] = struct{}{}
	}
	assert.Len(t, seen, 50)
}

func TestShuffleSuggestionsActuallyReorders(t *testing.T) {
	users := makeProfiles(50)
	ShuffleSuggestions(rand.New(rand.NewSource(7)), users)
	assert.NotEqual(t, makeProfiles(50), users)
}

func TestShuffleSuggestionsSmallInputs(t *testing.T) {
	ShuffleSuggestions(rand.New(rand.NewSource(1)), nil)

	one := []model.Profile{{UserID: 9}}
	ShuffleSuggestions(rand.New(rand.NewSource(1)), one)
	assert.Equal(t, int64(9), one[0].UserID)
}
