package alerts

import (
	"strconv"
	"strings"

	"github.com/echoguard/echoguard/scorer/internal/pipeline"
)

// evalCondition evaluates a rule condition string against one result.
//
// Supported expressions (field operator value):
//
//	mse > 0.01
//	threshold < 0.001
//	windows_processed < 2
//	margin > 0
//	status == ANOMALY_DETECTED
//	status != HEALTHY
//
// margin is mse minus threshold. Returns (fires, triggering value); an
// expression that cannot be parsed or names an unknown field never fires.
func evalCondition(cond string, res *pipeline.Result) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], parts[2]

	if field == "status" {
		switch op {
		case "==":
			return string(res.Verdict.Status) == rhs, res.Verdict.Aggregate
		case "!=":
			return string(res.Verdict.Status) != rhs, res.Verdict.Aggregate
		default:
			return false, 0
		}
	}

	v, ok := numericField(field, res)
	if !ok {
		return false, 0
	}
	threshold, err := strconv.ParseFloat(rhs, 64)
	if err != nil {
		return false, 0
	}
	return compareFloat(v, op, threshold), v
}

func numericField(field string, res *pipeline.Result) (float64, bool) {
	switch field {
	case "mse":
		return res.Verdict.Aggregate, true
	case "threshold":
		return res.Threshold, true
	case "windows_processed":
		return float64(res.Windows), true
	case "margin":
		return res.Verdict.Aggregate - res.Threshold, true
	default:
		return 0, false
	}
}

func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
