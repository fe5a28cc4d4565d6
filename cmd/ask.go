package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

func askCmd() *cobra.Command {
	var (
		verbose    bool
		timeoutSec int
	)
	cmd := &cobra.Command{
		Use:   "ask [input]",
		Short: "Submit a request to the running daemon and wait for the answer",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runAsk(strings.Join(args, " "), verbose, timeoutSec)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print intermediate turns")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 300, "seconds to wait for a terminal result")
	return cmd
}

func runAsk(input string, verbose bool, timeoutSec int) {
	cfg := loadConfig()
	client, err := dialGateway(cfg.Listen, cfg.AuthToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer client.Close()

	payload, err := client.call(protocol.MethodSubmit, map[string]string{"input": input})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	var submitted struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(payload, &submitted); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "request %s queued\n", submitted.RequestID)
	}

	client.conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutSec) * time.Second))
	for {
		_, ev, err := client.next()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		if ev == nil {
			continue
		}

		var envelope struct {
			RequestID string          `json:"request_id"`
			Data      json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(ev.Payload, &envelope); err != nil || envelope.RequestID != submitted.RequestID {
			continue
		}

		switch ev.Event {
		case protocol.EventTurn:
			if !verbose {
				continue
			}
			var turn struct {
				Observation string `json:"observation"`
				Action      string `json:"action"`
				Response    string `json:"response"`
				Result      string `json:"result"`
			}
			if err := json.Unmarshal(envelope.Data, &turn); err == nil {
				fmt.Fprintf(os.Stderr, "[%s] %s\n", turn.Action, turn.Response)
				if turn.Result != "" {
					fmt.Fprintf(os.Stderr, "  -> %s\n", firstLine(turn.Result))
				}
			}
		case protocol.RequestEventSucceeded:
			var rec struct {
				Answer string `json:"answer"`
			}
			json.Unmarshal(envelope.Data, &rec)
			fmt.Println(rec.Answer)
			return
		case protocol.RequestEventFailed, protocol.RequestEventCancelled:
			var rec struct {
				Reason string `json:"reason"`
			}
			json.Unmarshal(envelope.Data, &rec)
			fmt.Fprintf(os.Stderr, "Request %s: %s\n", strings.TrimPrefix(ev.Event, "request."), rec.Reason)
			os.Exit(1)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
