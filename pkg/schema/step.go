package schema

// ControlValues holds the raw control values of one step, keyed by control name.
type ControlValues map[string]any

// StepType enumerates the kinds of workflow steps.
type StepType string

const (
	StepTypeEmail    StepType = "email"
	StepTypeSMS      StepType = "sms"
	StepTypeInApp    StepType = "in_app"
	StepTypePush     StepType = "push"
	StepTypeChat     StepType = "chat"
	StepTypeDigest   StepType = "digest"
	StepTypeDelay    StepType = "delay"
	StepTypeThrottle StepType = "throttle"
	StepTypeCustom   StepType = "custom"
	StepTypeTrigger  StepType = "trigger"
)

// ChannelType is the delivery channel of a channel step.
type ChannelType string

const (
	ChannelEmail ChannelType = "email"
	ChannelSMS   ChannelType = "sms"
	ChannelInApp ChannelType = "in_app"
	ChannelPush  ChannelType = "push"
	ChannelChat  ChannelType = "chat"
)

// ChannelForStep returns the channel a step type delivers through, and false
// for action steps (digest, delay, ...) that need no provider.
func ChannelForStep(t StepType) (ChannelType, bool) {
	switch t {
	case StepTypeEmail:
		return ChannelEmail, true
	case StepTypeSMS:
		return ChannelSMS, true
	case StepTypeInApp:
		return ChannelInApp, true
	case StepTypePush:
		return ChannelPush, true
	case StepTypeChat:
		return ChannelChat, true
	default:
		return "", false
	}
}

// RequiresPrimaryIntegration reports whether a channel must have a primary
// provider rather than any active one.
func RequiresPrimaryIntegration(c ChannelType) bool {
	return c == ChannelEmail || c == ChannelSMS
}

// WorkflowOrigin identifies who authored a workflow.
type WorkflowOrigin string

const (
	// OriginDashboard marks workflows authored in the dashboard editor.
	OriginDashboard WorkflowOrigin = "dashboard"
	// OriginExternal marks workflows synced from code by an external framework.
	OriginExternal WorkflowOrigin = "external"
	// OriginLegacy marks workflows created through the legacy template API.
	OriginLegacy WorkflowOrigin = "legacy"
)

// RuntimeContext is the data available to templates and rules at render or
// trigger time.
type RuntimeContext struct {
	Subscriber map[string]any `json:"subscriber"`
	Payload    map[string]any `json:"payload"`
	Steps      map[string]any `json:"steps"`
}

// Bindings returns the context as top-level template/rule variables. Nil
// namespaces become empty maps.
func (c RuntimeContext) Bindings() map[string]any {
	return map[string]any{
		"subscriber": orEmpty(c.Subscriber),
		"payload":    orEmpty(c.Payload),
		"steps":      orEmpty(c.Steps),
	}
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
