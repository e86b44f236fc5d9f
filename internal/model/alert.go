package model

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

type Condition string

const (
	ConditionGTE Condition = ">="
	ConditionLTE Condition = "<="
	ConditionGT  Condition = ">"
	ConditionLT  Condition = "<"
	ConditionEQ  Condition = "=="
	ConditionNE  Condition = "!="
)

// AlertRule is immutable for the lifetime of an evaluator.
type AlertRule struct {
	Name      string    `yaml:"name" json:"name"`
	Metric    string    `yaml:"metric" json:"metric"`
	Threshold float64   `yaml:"threshold" json:"threshold"`
	Condition Condition `yaml:"condition" json:"condition"`
	// Duration is the number of seconds the condition must hold before firing.
	Duration float64  `yaml:"duration" json:"duration"`
	Severity Severity `yaml:"severity" json:"severity"`
}

type AlertEvent struct {
	Name         string    `json:"name"`
	Metric       string    `json:"metric"`
	CurrentValue float64   `json:"current_value"`
	Threshold    float64   `json:"threshold"`
	Condition    Condition `json:"condition"`
	Severity     Severity  `json:"severity"`
	Duration     float64   `json:"duration"`
	Timestamp    float64   `json:"timestamp"`
}

// Resolution is reported when a breached rule's condition stops holding.
type Resolution struct {
	Name         string  `json:"name"`
	Metric       string  `json:"metric"`
	CurrentValue float64 `json:"current_value"`
	Duration     float64 `json:"duration"`
	Timestamp    float64 `json:"timestamp"`
}
