package model

type SessionID string
type TargetID string
type RuleID string

type SessionConfig struct {
	DevToolsURL      string `json:"devToolsURL"`
	PendingCapacity  int    `json:"pendingCapacity"`
	ProcessTimeoutMS int    `json:"processTimeoutMS"`
	ReplayTimeoutMS  int    `json:"replayTimeoutMS"`
}

// EventType 拦截引擎产生的事件类型
type EventType string

const (
	EventRegistered   EventType = "registered"
	EventDuplicate    EventType = "duplicate"
	EventUnregistered EventType = "unregistered"
	EventQueued       EventType = "queued"
	EventDrained      EventType = "drained"
	EventPassthrough  EventType = "passthrough"
	EventIntercepted  EventType = "intercepted"
	EventResumed      EventType = "resumed"
	EventRace         EventType = "race"
	EventFault        EventType = "fault"
	EventDegraded     EventType = "degraded"
)

type Event struct {
	Type       EventType `json:"type"`
	Session    SessionID `json:"session,omitempty"`
	Target     TargetID  `json:"target,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
	Pattern    string    `json:"pattern,omitempty"`
	URL        string    `json:"url,omitempty"`
	Method     string    `json:"method,omitempty"`
	StatusCode int       `json:"statusCode,omitempty"`
	Relay      bool      `json:"relay,omitempty"`
	Pending    int       `json:"pending,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  int64     `json:"timestamp"`
}

type EngineStats struct {
	Patterns []string `json:"patterns"`
	Blocked  []string `json:"blocked"`
	Pending  int      `json:"pending"`
}

type TargetInfo struct {
	ID        TargetID `json:"id"`
	Type      string   `json:"type"`
	URL       string   `json:"url"`
	Title     string   `json:"title"`
	IsCurrent bool     `json:"isCurrent"`
	IsUser    bool     `json:"isUser"`
}
