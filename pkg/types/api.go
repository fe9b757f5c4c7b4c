package types

// InferRequest is the payload accepted by POST /infer.
type InferRequest struct {
	// Model selects the backend by registry name. Required; the caller never
	// says remote-vs-local, that is resolved from the registry.
	// example: tinyllama-q4
	Model string `json:"model" example:"tinyllama-q4"`
	// Prompt text to generate a completion for.
	// example: Write a haiku about the ocean.
	Prompt string `json:"prompt" example:"Write a haiku about the ocean."`
	// If true, stream results as NDJSON tokens; otherwise the response is a
	// single JSON completion.
	// example: true
	Stream bool `json:"stream,omitempty" example:"true"`
	// Maximum number of new tokens to generate.
	// example: 128
	MaxTokens int `json:"max_tokens,omitempty" example:"128"`
	// Sampling temperature (higher = more random).
	// example: 0.7
	Temperature float64 `json:"temperature,omitempty" example:"0.7"`
	// Nucleus sampling probability.
	// example: 0.9
	TopP float64 `json:"top_p,omitempty" example:"0.9"`
	// Optional stop sequences.
	Stop []string `json:"stop,omitempty"`
	// Deadline in milliseconds, applied independently to the admission wait
	// (including launch) and to the dispatched call. 0 uses the server default.
	// example: 30000
	TimeoutMS int `json:"timeout_ms,omitempty" example:"30000"`
}

// TokenChunk is one NDJSON line of a streamed /infer response.
type TokenChunk struct {
	Token        string `json:"token,omitempty"`
	Done         bool   `json:"done,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// CompletionResponse is the non-streaming /infer response body.
type CompletionResponse struct {
	// Full generated text.
	// example: Waves fold into foam
	Text string `json:"text" example:"Waves fold into foam"`
	// Why generation stopped, when the backend reports it.
	// example: stop
	FinishReason string `json:"finish_reason,omitempty" example:"stop"`
}

// Backend describes a registered backend for GET /backends.
type Backend struct {
	// Registry name used in InferRequest.Model.
	// example: tinyllama-q4
	Name string `json:"name" example:"tinyllama-q4"`
	// Either "remote" or "local".
	// example: local
	Kind string `json:"kind" example:"local"`
	// Estimated VRAM cost in MB; zero for remote backends.
	// example: 5120
	VRAMMB int64 `json:"vram_mb,omitempty" example:"5120"`
}

// BackendsResponse wraps the registry listing returned by GET /backends.
type BackendsResponse struct {
	Backends []Backend `json:"backends"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: unknown backend: ghost-7b
	Error string `json:"error" example:"unknown backend: ghost-7b"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
	// Backend the error relates to, when known.
	// example: ghost-7b
	Backend string `json:"backend,omitempty" example:"ghost-7b"`
}

// InstanceStatus summarizes one loaded local instance for GET /status.
type InstanceStatus struct {
	// Backend name this instance serves.
	Backend string `json:"backend"`
	// Instance identity.
	ID string `json:"id"`
	// Lifecycle state (pending_launch, starting, healthy, draining, failed, terminated).
	State string `json:"state"`
	// Reserved VRAM in MB.
	VRAMMB int64 `json:"vram_mb"`
	// Last time this instance served a request (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	// Requests currently executing against this instance.
	Inflight int `json:"inflight"`
}

// VRAMStatus reports the ledger view for GET /status.
type VRAMStatus struct {
	TotalMB     int64 `json:"total_mb"`
	ReservedMB  int64 `json:"reserved_mb"`
	AvailableMB int64 `json:"available_mb"`
	// Reserved MB per backend name.
	ByBackendMB map[string]int64 `json:"by_backend_mb,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Ready     bool             `json:"ready"`
	VRAM      VRAMStatus       `json:"vram"`
	Instances []InstanceStatus `json:"instances"`
	// Queued admission waiters per backend name.
	QueueDepth map[string]int `json:"queue_depth,omitempty"`
}
