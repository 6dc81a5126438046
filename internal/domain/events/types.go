package events

// EventType names an event category. The transport routes on it.
type EventType string

const (
	// EventTypeWorkItemCreated carries one frame of a distributed enumeration.
	EventTypeWorkItemCreated EventType = "WorkItemCreated"

	// EventTypeGenerationFinished announces that a generation reached a
	// terminal status.
	EventTypeGenerationFinished EventType = "GenerationFinished"
)

// PublishOption adjusts how a single event is published.
type PublishOption func(*PublishParams)

// PublishParams are the options collected for one publish.
type PublishParams struct {
	// Key selects the partition. Work items use their generation ID so one
	// generation's items stay ordered on one partition.
	Key     string
	Headers map[string]string
}

// WithKey sets the partition key.
func WithKey(key string) PublishOption {
	return func(p *PublishParams) { p.Key = key }
}

// WithHeaders attaches transport headers.
func WithHeaders(headers map[string]string) PublishOption {
	return func(p *PublishParams) { p.Headers = headers }
}

// ApplyOptions folds opts into a PublishParams value.
func ApplyOptions(opts []PublishOption) PublishParams {
	var p PublishParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
