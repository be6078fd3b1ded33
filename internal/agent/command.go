package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/Prototype-Cafe-LLC/team-ai/internal/domain"
)

// CommandSpec defines how to launch a command-backed participant process.
type CommandSpec struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// CommandAgent runs a configured subprocess once per call. The process
// receives one JSON request on stdin and speaks JSON lines on stdout:
// {"type":"text","text":...} lines stream progress to the sink, and a
// final {"type":"result",...} line carries the work product or verdict.
// It implements both Producer and Reviewer; registration decides which
// capability is used.
type CommandAgent struct {
	AgentID string
	Spec    CommandSpec
	Sink    StreamSink
}

// commandLine is one stdout line from the participant process.
type commandLine struct {
	Type        string         `json:"type"`
	Text        string         `json:"text,omitempty"`
	Content     string         `json:"content,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Approved    bool           `json:"approved,omitempty"`
	Feedback    string         `json:"feedback,omitempty"`
	Suggestions []string       `json:"suggestions,omitempty"`
}

// ID returns the participant id.
func (a *CommandAgent) ID() string { return a.AgentID }

// Process asks the subprocess to generate a work product from the input.
func (a *CommandAgent) Process(ctx context.Context, input domain.PhaseInput) (*domain.WorkProduct, error) {
	result, err := a.run(ctx, map[string]any{
		"operation": "process",
		"input":     input,
	})
	if err != nil {
		return nil, err
	}
	return &domain.WorkProduct{Content: result.Content, Metadata: result.Metadata}, nil
}

// Revise asks the subprocess to rework a product given reviewer feedback.
func (a *CommandAgent) Revise(ctx context.Context, original *domain.WorkProduct, feedback string) (*domain.WorkProduct, error) {
	result, err := a.run(ctx, map[string]any{
		"operation":   "revise",
		"original":    original,
		"feedback":    feedback,
		"instruction": "Please revise your work based on the feedback provided.",
	})
	if err != nil {
		return nil, err
	}
	return &domain.WorkProduct{Content: result.Content, Metadata: result.Metadata}, nil
}

// Review asks the subprocess to evaluate a work product. A result line
// that is not valid JSON degrades to a rejecting verdict via ParseVerdict.
func (a *CommandAgent) Review(ctx context.Context, product *domain.WorkProduct) (*domain.ReviewVerdict, error) {
	raw, err := a.runRaw(ctx, map[string]any{
		"operation": "review",
		"product":   product,
	})
	if err != nil {
		return nil, err
	}
	return ParseVerdict(raw, a.AgentID), nil
}

// run executes the subprocess and decodes its result line.
func (a *CommandAgent) run(ctx context.Context, request map[string]any) (*commandLine, error) {
	raw, err := a.runRaw(ctx, request)
	if err != nil {
		return nil, err
	}
	var result commandLine
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, domain.WrapEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("agent %s returned malformed result", a.AgentID), err)
	}
	return &result, nil
}

// runRaw executes the subprocess, streaming text lines to the sink, and
// returns the raw bytes of the final result line.
func (a *CommandAgent) runRaw(ctx context.Context, request map[string]any) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrParticipantFailed.Code, "marshal agent request", err)
	}

	cmd := exec.CommandContext(ctx, a.Spec.Command, a.Spec.Args...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = os.Environ()
	for k, v := range a.Spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.WrapEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("stdout pipe for agent %s", a.AgentID), err)
	}

	if err := cmd.Start(); err != nil {
		return nil, domain.WrapEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("start agent %s", a.AgentID), err)
	}

	var result []byte
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var parsed struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(line, &parsed); err != nil {
			continue
		}
		switch parsed.Type {
		case "text":
			if a.Sink != nil {
				a.Sink(a.AgentID, parsed.Text)
			}
		case "result":
			result = append([]byte(nil), line...)
		}
	}

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, domain.WrapEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("agent %s exited", a.AgentID), waitErr)
	}
	if result == nil {
		return nil, domain.NewEngineError(domain.ErrParticipantFailed.Code,
			fmt.Sprintf("agent %s produced no result line", a.AgentID))
	}
	return result, nil
}
