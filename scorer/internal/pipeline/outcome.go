package pipeline

import (
	"errors"
	"net/http"

	"github.com/echoguard/echoguard/pkg/types"
)

// Outcome turns the return values of Handle into a status code and a JSON
// body: 200 with a ScoreResponse, or 500 with an ErrorResponse naming the
// failed stage.
func Outcome(res *Result, err error) (int, any) {
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) {
			return http.StatusInternalServerError, types.ErrorResponse{
				Error:   string(pe.Kind),
				Stage:   pe.Stage.String(),
				Message: pe.Error(),
			}
		}
		return http.StatusInternalServerError, types.ErrorResponse{
			Error:   "InternalError",
			Message: err.Error(),
		}
	}
	return http.StatusOK, Response(res)
}

// Response is the success body for res.
func Response(res *Result) types.ScoreResponse {
	return types.ScoreResponse{
		File:         res.Event.Key,
		Status:       res.Verdict.Status,
		MSE:          res.Verdict.Aggregate,
		Threshold:    res.Threshold,
		WindowsCount: res.Windows,
	}
}
