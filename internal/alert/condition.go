package alert

import (
	"errors"
	"fmt"

	"hostmetrics-agent/internal/model"
)

var ErrUnknownCondition = errors.New("unknown alert condition")

// Compare applies cond to value and threshold with plain float comparison,
// so == and != only match exact values.
func Compare(cond model.Condition, value, threshold float64) (bool, error) {
	switch cond {
	case model.ConditionGTE:
		return value >= threshold, nil
	case model.ConditionLTE:
		return value <= threshold, nil
	case model.ConditionGT:
		return value > threshold, nil
	case model.ConditionLT:
		return value < threshold, nil
	case model.ConditionEQ:
		return value == threshold, nil
	case model.ConditionNE:
		return value != threshold, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCondition, cond)
	}
}
