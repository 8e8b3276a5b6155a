package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/intent"
	"github.com/comigor/triage-go/internal/logger"
	"github.com/comigor/triage-go/internal/specialist"
)

// ErrEmptyCode is returned by RunCode for blank submissions.
var ErrEmptyCode = errors.New("code is required")

// RunCode executes code on the code-runner specialist and records the
// submission. Unlike Handle it surfaces specialist errors to the caller;
// there is no fallback for explicit runs.
func (d *Dispatcher) RunCode(ctx context.Context, userID int64, code string) (specialist.ExecuteResponse, error) {
	if strings.TrimSpace(code) == "" {
		return specialist.ExecuteResponse{}, ErrEmptyCode
	}
	ctx = context.WithoutCancel(ctx)
	service := d.routes[intent.Code]
	log := logger.L.With("user_id", userID, "service", service)

	start := time.Now()
	resp, err := specialist.Execute(ctx, d.invoker, service, specialist.ExecuteRequest{
		Code:     code,
		Language: codeLanguage,
		Timeout:  sandboxSeconds,
	}, d.codeTimeout)
	d.metrics.ObserveSpecialist(service, outcomeLabel(err), time.Since(start))
	if err != nil {
		log.Error("code execution failed", "error", err)
		return specialist.ExecuteResponse{}, fmt.Errorf("execute code: %w", err)
	}

	if err := d.store.AppendCodeSubmission(ctx, history.CodeSubmission{
		UserID:    userID,
		Code:      code,
		Stdout:    resp.Stdout,
		Stderr:    resp.Stderr,
		ExitCode:  resp.ExitCode,
		CreatedAt: d.now().UTC(),
	}); err != nil {
		d.dropPersistErr(log, "code_submission", err)
	}

	log.Info("code executed", "exit_code", resp.ExitCode)
	return resp, nil
}
