package feed

// Defaults for the candidate caps and the composition schedule. They are
// carried as Options fields so deployments can override them through the
// feed service config.
const (
	DefaultTopPostsCap        = 20
	DefaultFriendPostsCap     = 20
	DefaultPopularCommentsCap = 10
	DefaultSuggestionsCap     = 50
	DefaultStrangerPostsCap   = 30

	DefaultMaxCycles    = 10
	DefaultCarouselSize = 5
	// A carousel is injected on every even-indexed cycle.
	DefaultCarouselCadence = 2
)

type Options struct {
	TopPostsCap        int
	FriendPostsCap     int
	PopularCommentsCap int
	SuggestionsCap     int
	StrangerPostsCap   int

	MaxCycles       int
	CarouselSize    int
	CarouselCadence int
}

func DefaultOptions() Options {
	return Options{
		TopPostsCap:        DefaultTopPostsCap,
		FriendPostsCap:     DefaultFriendPostsCap,
		PopularCommentsCap: DefaultPopularCommentsCap,
		SuggestionsCap:     DefaultSuggestionsCap,
		StrangerPostsCap:   DefaultStrangerPostsCap,
		MaxCycles:          DefaultMaxCycles,
		CarouselSize:       DefaultCarouselSize,
		CarouselCadence:    DefaultCarouselCadence,
	}
}

// withDefaults fills zero fields so a partially populated TOML override
// cannot zero out the schedule.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopPostsCap <= 0 {
		o.TopPostsCap = d.TopPostsCap
	}
	if o.FriendPostsCap <= 0 {
		o.FriendPostsCap = d.FriendPostsCap
	}
	if o.PopularCommentsCap <= 0 {
		o.PopularCommentsCap = d.PopularCommentsCap
	}
	if o.SuggestionsCap <= 0 {
		o.SuggestionsCap = d.SuggestionsCap
	}
	if o.StrangerPostsCap <= 0 {
		o.StrangerPostsCap = d.StrangerPostsCap
	}
	if o.MaxCycles <= 0 {
		o.MaxCycles = d.MaxCycles
	}
	if o.CarouselSize <= 0 {
		o.CarouselSize = d.CarouselSize
	}
	if o.CarouselCadence <= 0 {
		o.CarouselCadence = d.CarouselCadence
	}
	return o
}
