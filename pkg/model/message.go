package model

import "vibenet/pkg/trace"

// EngagementEvent is the message published to RabbitMQ when a post is
// liked or unliked, and consumed by the engagement workers.
type EngagementEvent struct {
	ReqID    int64          `json:"req_id"`
	Kind     EngagementKind `json:"kind"`
	PostID   int64          `json:"post_id"`
	AuthorID int64          `json:"author_id"`
	ActorID  int64          `json:"actor_id"`
	// Timestamp is when the engagement was applied, unix millis.
	Timestamp int64 `json:"timestamp"`
	// tracing
	SpanContext trace.SpanContext `json:"span_context"`
	// evaluation metrics
	EventSendTs int64 `json:"event_send_ts"`
}
