package specialist

import (
	"context"
	"encoding/json"
	"time"
)

// Default service names as registered with the sidecar.
const (
	ConceptsService   = "concepts-agent"
	CodeRunnerService = "code-runner"
)

// Method names exposed by the specialists.
const (
	MethodExplain = "explain"
	MethodExecute = "execute"
)

// ExplainRequest is sent to the concepts specialist.
type ExplainRequest struct {
	Question string `json:"question"`
	UserID   int64  `json:"user_id"`
}

// ExplainResponse is returned by the concepts specialist.
type ExplainResponse struct {
	Explanation string   `json:"explanation"`
	Topic       string   `json:"topic"`
	Examples    []string `json:"examples"`
	Difficulty  string   `json:"difficulty"`
}

// ExecuteRequest is sent to the code runner. Timeout is the sandbox limit in
// seconds, not the RPC timeout.
type ExecuteRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Timeout  int    `json:"timeout"`
}

// ExecuteResponse is returned by the code runner.
type ExecuteResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Explain asks service to explain a concept.
func Explain(ctx context.Context, inv Invoker, service string, req ExplainRequest, timeout time.Duration) (ExplainResponse, error) {
	var out ExplainResponse
	err := call(ctx, inv, service, MethodExplain, req, timeout, &out)
	return out, err
}

// Execute asks service to run code.
func Execute(ctx context.Context, inv Invoker, service string, req ExecuteRequest, timeout time.Duration) (ExecuteResponse, error) {
	var out ExecuteResponse
	err := call(ctx, inv, service, MethodExecute, req, timeout, &out)
	return out, err
}

func call(ctx context.Context, inv Invoker, service, method string, req any, timeout time.Duration, out any) error {
	raw, err := inv.Invoke(ctx, service, method, req, timeout)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &InvocationError{
			Kind:    KindRemote,
			Service: service,
			Method:  method,
			Status:  200,
			Body:    truncate(string(raw), maxBodyInError),
			Err:     err,
		}
	}
	return nil
}
