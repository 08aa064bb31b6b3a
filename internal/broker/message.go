package broker

// Message is the unit the broker accepts, routes, persists and delivers.
// MessageID is opaque and producer-supplied; it is never generated by the
// core (spec §3).
type Message struct {
	TopicID   string `json:"topicId"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}
