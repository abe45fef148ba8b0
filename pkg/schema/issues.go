package schema

// IssueType classifies a content problem found in a step.
type IssueType string

const (
	IssueInvalidStructure   IssueType = "INVALID_STRUCTURE"
	IssueMissingValue       IssueType = "MISSING_VALUE"
	IssueIllegalVariable    IssueType = "ILLEGAL_VARIABLE_IN_CONTROL_VALUE"
	IssueTierLimit          IssueType = "TIER_LIMIT_EXCEEDED"
	IssueMissingIntegration IssueType = "MISSING_INTEGRATION"
)

// RuleIssue is a problem found in a rule tree. Path holds the child indices
// descended from the root to reach the offending node.
type RuleIssue struct {
	Message   string    `json:"message"`
	Path      []int     `json:"path"`
	IssueType IssueType `json:"issueType"`
}

// ControlIssue is a problem attached to one control key.
type ControlIssue struct {
	Message      string    `json:"message"`
	IssueType    IssueType `json:"issueType"`
	VariableName string    `json:"variableName,omitempty"`
}

// IntegrationIssue is a problem with the providers configured for a channel.
type IntegrationIssue struct {
	IssueType IssueType `json:"issueType"`
	Message   string    `json:"message"`
}

// StepIssues is the merged issue report for one step. Empty branches are nil
// so they are omitted from the JSON output.
type StepIssues struct {
	Controls    map[string][]ControlIssue     `json:"controls,omitempty"`
	Integration map[string][]IntegrationIssue `json:"integration,omitempty"`
}

// AddControl appends an issue under a dotted control key.
func (s *StepIssues) AddControl(key string, issue ControlIssue) {
	if s.Controls == nil {
		s.Controls = make(map[string][]ControlIssue)
	}
	s.Controls[key] = append(s.Controls[key], issue)
}

// AddIntegration appends an issue under a channel name.
func (s *StepIssues) AddIntegration(channel string, issue IntegrationIssue) {
	if s.Integration == nil {
		s.Integration = make(map[string][]IntegrationIssue)
	}
	s.Integration[channel] = append(s.Integration[channel], issue)
}

// Merge deep-unions other into s. Issues under a key that already exists are
// appended after the existing ones.
func (s *StepIssues) Merge(other *StepIssues) {
	if other == nil {
		return
	}
	for key, issues := range other.Controls {
		for _, issue := range issues {
			s.AddControl(key, issue)
		}
	}
	for channel, issues := range other.Integration {
		for _, issue := range issues {
			s.AddIntegration(channel, issue)
		}
	}
}

// IsEmpty returns true when no issue was recorded in any branch.
func (s *StepIssues) IsEmpty() bool {
	return s == nil || (len(s.Controls) == 0 && len(s.Integration) == 0)
}

// Count returns the total number of issues across both branches.
func (s *StepIssues) Count() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, issues := range s.Controls {
		n += len(issues)
	}
	for _, issues := range s.Integration {
		n += len(issues)
	}
	return n
}
