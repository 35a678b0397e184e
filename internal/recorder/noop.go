package recorder

// NoopRecorder drops all events. Used when no database path is configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordUnhealthy(_ *UnhealthyEvent) error { return nil }
func (n *NoopRecorder) RecordAttempt(_ *AttemptEvent) error     { return nil }
func (n *NoopRecorder) RecordResult(_ *ResultEvent) error       { return nil }
func (n *NoopRecorder) Close() error                            { return nil }
