package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome for one id of a multi-id tool call.
type Result struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Results aggregates the per-id outcomes of a multi-id tool call.
type Results struct {
	Total      int      `json:"total"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Results    []Result `json:"results"`
}

// ParseStringOrArray accepts a single id, a JSON array of ids, or a JSON
// array encoded as a string.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		if strings.HasPrefix(v, "[") {
			var ids []any
			if err := json.Unmarshal([]byte(v), &ids); err == nil {
				return parseArray(ids, paramName)
			}
		}
		return []string{v}, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return parseArray(items, paramName)
	case []any:
		return parseArray(v, paramName)
	}
	return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
}

func parseArray(items []any, paramName string) ([]string, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%s cannot be empty", paramName)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
		}
		if str == "" {
			return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
		}
		out = append(out, str)
	}
	return out, nil
}

// Summarize counts the successful and failed results.
func Summarize(results []Result) Results {
	r := Results{
		Total:   len(results),
		Results: results,
	}
	for _, res := range results {
		if res.Status == StatusSuccess {
			r.Successful++
		} else {
			r.Failed++
		}
	}
	return r
}

// ProcessBatch calls fn for every id in order and collects the outcomes. A
// failing id does not stop the others. Once ctx is done the remaining ids
// are reported as errors without calling fn.
func ProcessBatch(ctx context.Context, ids []string, fn func(ctx context.Context, id string) (any, error)) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			results = append(results, NewErrorResult(id, err))
			continue
		}
		res, err := fn(ctx, id)
		if err != nil {
			results = append(results, NewErrorResult(id, err))
			continue
		}
		results = append(results, NewSuccessResult(id, res))
	}
	return results
}

// NewSuccessResult creates a success result
func NewSuccessResult(id string, result any) Result {
	return Result{
		ID:     id,
		Status: StatusSuccess,
		Result: result,
	}
}

// NewErrorResult creates an error result
func NewErrorResult(id string, err error) Result {
	return Result{
		ID:     id,
		Status: StatusError,
		Error:  err.Error(),
	}
}
