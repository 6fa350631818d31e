package domain

// TriggerMode controls which handoff triggers are honoured
type TriggerMode string

// TriggerMode constants
const (
	TriggerManual TriggerMode = "manual" // customer explicitly asks
	TriggerAuto   TriggerMode = "auto"   // keywords and low confidence
	TriggerBoth   TriggerMode = "both"
)

// AllowsManual reports whether explicit customer requests trigger a handoff
func (m TriggerMode) AllowsManual() bool {
	return m == TriggerManual || m == TriggerBoth || m == ""
}

// AllowsAuto reports whether keyword and low-confidence triggers fire
func (m TriggerMode) AllowsAuto() bool {
	return m == TriggerAuto || m == TriggerBoth || m == ""
}

// ProjectConfig is the read-only per-project configuration consumed by the core
type ProjectConfig struct {
	Project     Project             `json:"project"`
	Handoff     HandoffSettings     `json:"handoff"`
	LeadCapture LeadCaptureSettings `json:"leadCapture"`
	Assistant   AssistantSettings   `json:"assistant"`
}

// HandoffSettings holds per-project handoff configuration
type HandoffSettings struct {
	Enabled         bool             `json:"enabled"`
	TriggerMode     TriggerMode      `json:"triggerMode"`
	BusinessHours   BusinessHours    `json:"businessHours"`
	Messages        HandoffMessages  `json:"messages"`
	AutoTriggers    AutoTriggerRules `json:"autoTriggers"`
	ShowOfflineForm bool             `json:"showOfflineForm"`
}

// BusinessHours is a weekly schedule evaluated in Timezone
// Schedule keys are lowercase weekday names ("monday" ... "sunday")
type BusinessHours struct {
	Enabled  bool                   `json:"enabled"`
	Timezone string                 `json:"timezone"`
	Schedule map[string]DaySchedule `json:"schedule"`
}

// DaySchedule is an opening window in "HH:MM" 24h format
type DaySchedule struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// HandoffMessages are the customer-facing templates
type HandoffMessages struct {
	Queued       string `json:"queued"`
	Assigned     string `json:"assigned"`
	Offline      string `json:"offline"`
	Transferred  string `json:"transferred"`
	Resolved     string `json:"resolved"`
	ReturnedToAI string `json:"returnedToAI"`
}

// AutoTriggerRules configure automatic handoff
type AutoTriggerRules struct {
	ConfidenceThreshold float64  `json:"confidenceThreshold"`
	Keywords            []string `json:"keywords"`
}

// LeadCaptureSettings configure the qualifying-question flow
type LeadCaptureSettings struct {
	Enabled              bool                 `json:"enabled"`
	AskAfterMessages     int                  `json:"askAfterMessages"`
	Questions            []QualifyingQuestion `json:"questions"`
	CompletionMessage    string               `json:"completionMessage"`
	InvalidAnswerMessage string               `json:"invalidAnswerMessage"`
}

// QualifyingQuestion is one scripted follow-up question
type QualifyingQuestion struct {
	Field    string `json:"field"`
	Question string `json:"question"`
	Type     string `json:"type"` // "text", "email", "phone"
	Required bool   `json:"required"`
}

// AssistantSettings configure generation for a project
type AssistantSettings struct {
	SystemPrompt      string  `json:"systemPrompt"`
	Model             string  `json:"model"`
	Temperature       float32 `json:"temperature"`
	MaxTokens         int     `json:"maxTokens"`
	RetrievalTopK     int     `json:"retrievalTopK"`
	HistoryLimit      int     `json:"historyLimit"`
	FallbackMessage   string  `json:"fallbackMessage"`
	EmptyReplyMessage string  `json:"emptyReplyMessage"`
	ToolLimitMessage  string  `json:"toolLimitMessage"`
	TimeoutMessage    string  `json:"timeoutMessage"`
	RefusalMessage    string  `json:"refusalMessage"`
}

// Default customer-facing texts, used when a project leaves a template empty
const (
	DefaultQueuedMessage       = "Thanks for your patience. You're number %d in line and a member of our team will be with you shortly."
	DefaultAssignedMessage     = "You're now connected with a member of our team."
	DefaultOfflineMessage      = "Our team is currently offline. Leave your email and we'll get back to you as soon as we're available."
	DefaultTransferredMessage  = "You're being transferred to another member of our team. You're number %d in line."
	DefaultResolvedMessage     = "This conversation has been marked as resolved. Thanks for reaching out!"
	DefaultReturnedToAIMessage = "You're back with our virtual assistant. Ask anything, or request a human at any time."
	DefaultFallbackMessage     = "Sorry, something went wrong on our side. Please try again in a moment."
	DefaultEmptyReplyMessage   = "Sorry, I couldn't come up with an answer to that. Could you rephrase your question?"
	DefaultToolLimitMessage    = "Sorry, that request is taking more steps than I can handle right now. A member of our team can help if you ask for a human."
	DefaultTimeoutMessage      = "Sorry, that took longer than expected. Please try again."
	DefaultRefusalMessage      = "Sorry, I can't share that. Is there anything else I can help you with?"
	DefaultCompletionMessage   = "Thanks! We've saved your details."
	DefaultInvalidAnswer       = "That doesn't look right. %s"
)

// Template returns value or fallback when value is empty
func Template(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
