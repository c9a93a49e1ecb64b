package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/replay"
)

const maxLineBytes = 1 << 20

// message is one NDJSON input line.
type message struct {
	Type        string         `json:"type"`
	Event       string         `json:"event,omitempty"`
	Category    string         `json:"category,omitempty"`
	Name        string         `json:"name,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	AnonymousID string         `json:"anonymousId,omitempty"`
	GroupID     string         `json:"groupId,omitempty"`
	PreviousID  string         `json:"previousId,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
	Traits      map[string]any `json:"traits,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// call maps the message onto a client method and its arguments.
func (m message) call() (string, []any, error) {
	switch m.Type {
	case replay.MethodTrack:
		return m.Type, []any{m.Event, m.Properties, m.Context}, nil
	case replay.MethodIdentify:
		return m.Type, []any{m.UserID, m.Traits, m.Context}, nil
	case replay.MethodPage, replay.MethodScreen:
		return m.Type, []any{m.Category, m.Name, m.Properties, m.Context}, nil
	case replay.MethodGroup:
		return m.Type, []any{m.GroupID, m.Traits, m.Context}, nil
	case replay.MethodAlias:
		return m.Type, []any{m.UserID, m.PreviousID}, nil
	case "":
		return "", nil, errors.New("missing type")
	default:
		return "", nil, fmt.Errorf("unsupported type %q", m.Type)
	}
}

// sendSummary is printed when send completes.
type sendSummary struct {
	Read        int      `json:"read" yaml:"read"`
	Accepted    int      `json:"accepted" yaml:"accepted"`
	Rejected    int      `json:"rejected" yaml:"rejected"`
	Diagnostics []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

func newSendCmd(a *app) *cobra.Command {
	var flushTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send NDJSON events read from stdin",
		Long: strings.TrimSpace(`
Read one JSON message per line from stdin and send it. Each message has a
"type" (track, identify, page, screen, group or alias) and the fields of
that call. Messages are queued durably and delivered before send exits,
or left in the store for the next run when the flush times out.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := a.clientOptions()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			h, err := eventship.Install(ctx, a.clientConfig(), opts...)
			if err != nil {
				return fmt.Errorf("install: %w", err)
			}

			summary, sendErr := a.send(ctx, h, cmd.InOrStdin(), flushTimeout)

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := h.Close(closeCtx); err != nil {
				a.log.Warn().Err(err).Msg("close")
			}

			if sendErr != nil {
				return sendErr
			}
			return a.print(summary)
		},
	}
	cmd.Flags().DurationVar(&flushTimeout, "flush-timeout", 30*time.Second, "how long to wait for delivery before exiting")
	return cmd
}

// send feeds every input line to h and waits for delivery.
func (a *app) send(ctx context.Context, h *eventship.Handle, in io.Reader, flushTimeout time.Duration) (sendSummary, error) {
	var summary sendSummary

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		summary.Read++

		if err := a.sendLine(ctx, h, text); err != nil {
			summary.Rejected++
			a.log.Warn().Int("line", line).Err(err).Msg("message rejected")
			continue
		}
		summary.Accepted++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read input: %w", err)
	}

	flushCtx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	loaded, err := h.Ready().Wait(flushCtx)
	if err != nil {
		return summary, fmt.Errorf("engine not ready: %w", err)
	}
	for _, d := range loaded.Replay.Diagnostics {
		summary.Diagnostics = append(summary.Diagnostics, d.Error())
	}
	summary.Rejected += len(loaded.Replay.Diagnostics)
	summary.Accepted -= len(loaded.Replay.Diagnostics)

	if err := h.Flush(flushCtx); err != nil {
		a.log.Warn().Err(err).Msg("flush incomplete; undelivered events stay queued")
	}
	return summary, nil
}

func (a *app) sendLine(ctx context.Context, h *eventship.Handle, text string) error {
	var m message
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	method, args, err := m.call()
	if err != nil {
		return err
	}
	if m.AnonymousID != "" {
		if err := h.SetAnonymousID(m.AnonymousID); err != nil {
			return err
		}
	}
	return h.Call(ctx, method, args...)
}
