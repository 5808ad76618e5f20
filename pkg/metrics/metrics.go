package metrics

import "github.com/ServiceWeaver/weaver/metrics"

type RegionLabel struct {
	Region string
}

type SourceLabel struct {
	Source string
}

type ItemLabel struct {
	Kind string
}

var (
	// feed service
	ComposedFeeds = metrics.NewCounterMap[RegionLabel](
		"vn_composed_feeds",
		"The number of composed feeds in the current region",
	)
	ComposeFeedDurationMs = metrics.NewHistogramMap[RegionLabel](
		"vn_compose_feed_duration_ms",
		"Duration of feed composition in milliseconds in the current region",
		metrics.NonNegativeBuckets,
	)
	EmittedFeedItems = metrics.NewCounterMap[ItemLabel](
		"vn_emitted_feed_items",
		"The number of emitted feed items by item kind",
	)
	DegradedSources = metrics.NewCounterMap[SourceLabel](
		"vn_degraded_sources",
		"The number of times a candidate source degraded to an empty list",
	)
	// like status service
	EngagementEvents = metrics.NewCounterMap[RegionLabel](
		"vn_engagement_events",
		"The number of published engagement events in the current region",
	)
	// engagement worker service
	ConsumedEngagementEvents = metrics.NewCounterMap[RegionLabel](
		"vn_consumed_engagement_events",
		"The number of consumed engagement events in the current region",
	)
	Inconsistencies = metrics.NewCounterMap[RegionLabel](
		"vn_inconsistencies",
		"The number of times a cross-store inconsistency has occured in the current region",
	)
)
