// Package headless implements the Headless Driver (C9): a line-delimited
// JSON protocol over stdin/stdout that drives the Agent Loop without a
// terminal UI, for embedding in scripts, editors, or CI.
package headless

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/anvilrun/anvil/internal/agent"
	"github.com/anvilrun/anvil/internal/events"
	"github.com/anvilrun/anvil/pkg/models"
)

// sessionEnvelope is the opening line of every headless session.
type sessionEnvelope struct {
	Type             string `json:"type"`
	SessionID        string `json:"sessionId"`
	Profile          string `json:"profile"`
	Manifest         any    `json:"manifest"`
	WorkingDir       string `json:"workingDir"`
	WorkspaceContext any    `json:"workspaceContext"`
	Version          string `json:"version"`
}

type userInputEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Profile   string `json:"profile"`
	RunID     string `json:"runId"`
	Content   string `json:"content"`
}

type agentEventEnvelope struct {
	Type      string            `json:"type"`
	SessionID string            `json:"sessionId"`
	Profile   string            `json:"profile"`
	RunID     string            `json:"runId"`
	Event     models.AgentEvent `json:"event"`
}

type runCompleteEnvelope struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Profile   string `json:"profile"`
	RunID     string `json:"runId"`
}

type errorEnvelope struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	Profile   string  `json:"profile"`
	RunID     *string `json:"runId,omitempty"`
	Message   string  `json:"message"`
}

// Driver drives one Loop over the headless JSON protocol.
type Driver struct {
	Loop *agent.Loop

	SessionID        string
	Profile          string
	Manifest         any
	WorkingDir       string
	WorkspaceContext any
	Version          string

	// InitialPrompt, if non-empty, is run before any stdin is read.
	InitialPrompt string
	// NoStdin skips reading stdin after InitialPrompt completes.
	NoStdin bool

	Stdin  io.Reader
	Stdout io.Writer
}

// Run drives the session to completion and returns a process exit code:
// 0 on clean stdin EOF or initial-prompt completion, 1 on a fatal error.
func (d *Driver) Run(ctx context.Context) int {
	d.emit(sessionEnvelope{
		Type:             "session",
		SessionID:        d.SessionID,
		Profile:          d.Profile,
		Manifest:         d.Manifest,
		WorkingDir:       d.WorkingDir,
		WorkspaceContext: d.WorkspaceContext,
		Version:          d.Version,
	})

	if strings.TrimSpace(d.InitialPrompt) != "" {
		if err := d.runPrompt(ctx, d.InitialPrompt); err != nil {
			return 1
		}
	}

	if d.NoStdin {
		return 0
	}

	scanner := bufio.NewScanner(d.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := d.runPrompt(ctx, line); err != nil {
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		d.emitError(nil, err.Error())
		return 1
	}
	return 0
}

// runPrompt runs one user turn: it emits the user-input envelope, drives
// Send concurrently so every AgentEvent it pushes can be forwarded as it
// happens, then emits run-complete or error.
func (d *Driver) runPrompt(ctx context.Context, content string) error {
	runID := uuid.New().String()
	d.emit(userInputEnvelope{
		Type: "user-input", SessionID: d.SessionID, Profile: d.Profile, RunID: runID, Content: content,
	})

	stream := events.New()
	sendErr := make(chan error, 1)
	go func() {
		_, err := d.Loop.Send(ctx, content, stream)
		sendErr <- err
	}()

	for {
		event, ok, err := stream.Next()
		if err != nil {
			<-sendErr
			d.emitError(&runID, err.Error())
			return err
		}
		if !ok {
			break
		}
		d.emit(agentEventEnvelope{
			Type: "agent-event", SessionID: d.SessionID, Profile: d.Profile, RunID: runID, Event: event,
		})
	}

	if err := <-sendErr; err != nil {
		d.emitError(&runID, err.Error())
		return err
	}

	d.emit(runCompleteEnvelope{Type: "run-complete", SessionID: d.SessionID, Profile: d.Profile, RunID: runID})
	return nil
}

func (d *Driver) emitError(runID *string, message string) {
	d.emit(errorEnvelope{Type: "error", SessionID: d.SessionID, Profile: d.Profile, RunID: runID, Message: message})
}

// emit writes one JSON line to Stdout. A marshal failure here indicates a
// programming error in an envelope shape, not a runtime condition to
// recover from gracefully; it is written as a best-effort error line.
func (d *Driver) emit(envelope any) {
	data, err := json.Marshal(envelope)
	if err != nil {
		fmt.Fprintf(d.Stdout, "{\"type\":\"error\",\"message\":%q}\n", err.Error())
		return
	}
	d.Stdout.Write(data)
	d.Stdout.Write([]byte("\n"))
}
