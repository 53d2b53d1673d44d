package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"skald/api/saga"
	"skald/cli/style"
)

type wsEvent struct {
	Type    string            `json:"type"`
	Target  string            `json:"target"`
	SagaID  string            `json:"sagaId"`
	Payload map[string]string `json:"payload"`
}

// streamSagaEvents prints the events of a saga until it finishes, falling
// back to polling the event log when the websocket is unavailable.
func streamSagaEvents(sagaID string) error {
	err := streamViaWebSocket(sagaID)
	if err == nil {
		return nil
	}
	fmt.Fprintln(os.Stderr, style.DimText.Render("websocket unavailable, polling: "+err.Error()))
	return streamViaPolling(sagaID)
}

// terminal reports whether action ends an invocation and how.
func terminal(action string) (string, bool) {
	for _, s := range []string{"complete", "failed", "skipped"} {
		if strings.HasSuffix(action, "."+s) && !strings.HasPrefix(action, "step.") {
			return s, true
		}
	}
	return "", false
}

func printOutcome(outcome string) error {
	fmt.Println()
	switch outcome {
	case "complete":
		fmt.Println(style.SuccessBox.Render("complete"))
	case "skipped":
		fmt.Println(style.SkippedBox.Render("skipped: nothing to change"))
	default:
		fmt.Println(style.ErrorBox.Render("failed"))
		return fmt.Errorf("invocation failed")
	}
	return nil
}

func streamViaWebSocket(sagaID string) error {
	header := map[string][]string{}
	if apiToken != "" {
		header["Authorization"] = []string{"Bearer " + apiToken}
	}
	conn, _, err := websocket.DefaultDialer.Dial(client.WebSocketURL(sagaID), header)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ws read: %w", err)
		}
		var evt wsEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		if evt.SagaID != sagaID {
			continue
		}

		icon, s := eventStyle(evt)
		fmt.Printf("  %s %s\n", s.Render(icon), eventMessage(evt))
		if outcome, done := terminal(evt.Type); done {
			return printOutcome(outcome)
		}
		conn.SetReadDeadline(time.Now().Add(5 * time.Minute))
	}
}

func streamViaPolling(sagaID string) error {
	seen := map[string]bool{}
	for i := 0; i < 900; i++ {
		events, err := client.GetSagaEvents(sagaID)
		if err != nil {
			time.Sleep(2 * time.Second)
			continue
		}
		for _, evt := range events {
			if seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			fmt.Printf("  %s %s\n", actionStyle(evt.Action).Render(saga.ActionIcon(evt.Action)), evt.Message)
			if outcome, done := terminal(evt.Action); done {
				return printOutcome(outcome)
			}
		}
		time.Sleep(2 * time.Second)
	}
	return fmt.Errorf("timeout waiting for completion")
}

func actionStyle(action string) lipgloss.Style {
	switch {
	case action == "step.start":
		return style.StepRunning
	case action == "step.complete":
		return style.StepDone
	case action == "step.failed":
		return style.StepFailed
	case strings.HasSuffix(action, ".complete"):
		return style.Healthy
	case strings.HasSuffix(action, ".failed"):
		return style.Unhealthy
	case strings.HasSuffix(action, ".warning"):
		return style.Warning
	}
	return style.DimText
}

func eventStyle(evt wsEvent) (string, lipgloss.Style) {
	if strings.HasSuffix(evt.Type, ".step") {
		switch evt.Payload["status"] {
		case "running":
			return "▶", style.StepRunning
		case "complete":
			return "✓", style.StepDone
		case "failed":
			return "✗", style.StepFailed
		}
	}
	return saga.ActionIcon(evt.Type), actionStyle(evt.Type)
}

func eventMessage(evt wsEvent) string {
	switch {
	case strings.HasSuffix(evt.Type, ".step"):
		return fmt.Sprintf("%s %s", evt.Payload["step"], evt.Payload["status"])
	case evt.Type == "stack.status":
		msg := evt.Payload["stack"] + ": " + evt.Payload["status"]
		if r := evt.Payload["reason"]; r != "" {
			msg += " " + style.DimText.Render(r)
		}
		return msg
	}
	if msg := evt.Payload["message"]; msg != "" {
		return msg
	}
	return evt.Type
}
