package models

import "time"

// SessionStatus represents the current state of a browser session.
type SessionStatus string

const (
	SessionCreated   SessionStatus = "created"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// SessionConfig is the per-session fetch configuration. Immutable once the
// session starts.
type SessionConfig struct {
	// DelayBetweenRequests is the pause between consecutive jobs.
	DelayBetweenRequests time.Duration `json:"delayBetweenRequests"`
	// ProxyServer routes all navigation through the given proxy when set.
	ProxyServer string `json:"proxyServer,omitempty"`
	// Timeout bounds each job's navigation.
	Timeout time.Duration `json:"timeout"`
	// SessionTimeout bounds the whole session; zero disables it.
	SessionTimeout time.Duration `json:"sessionTimeout,omitempty"`
}

// PageRef ties a requested URL to the job created for it.
type PageRef struct {
	URL   string `json:"url"`
	JobID string `json:"jobId"`
}

// Session is one client-requested batch of page fetches sharing a single
// browser process.
type Session struct {
	ID          string        `json:"id"`
	Status      SessionStatus `json:"status"`
	Config      SessionConfig `json:"config"`
	Pages       []PageRef     `json:"pages"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// ContentRequest asks for the content of a batch of pages fetched through
// one browser session.
type ContentRequest struct {
	Pages  []string             `json:"pages"`
	Config ContentRequestConfig `json:"config"`
}

// ContentRequestConfig is the wire shape of SessionConfig: durations in
// seconds, all fields optional.
type ContentRequestConfig struct {
	DelayBetweenRequests int    `json:"delay_between_requests"`
	ProxyServer          string `json:"proxy_server,omitempty"`
	Timeout              int    `json:"timeout,omitempty"`
	SessionTimeout       int    `json:"session_timeout,omitempty"`
}

// ContentResponse is returned for each created session.
type ContentResponse struct {
	ID     string        `json:"id"`
	Status SessionStatus `json:"status"`
	Pages  []PageRef     `json:"pages"`
}
