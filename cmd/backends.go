package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/voxd/pkg/protocol"
)

func backendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backends",
		Short: "Inspect and switch speech backends",
	}
	cmd.AddCommand(backendsListCmd())
	cmd.AddCommand(backendsSelectCmd())
	return cmd
}

func backendsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List backends of every family with state and selection",
		Run: func(cmd *cobra.Command, args []string) {
			runBackendsList(jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

type backendEntry struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	Selected    bool   `json:"selected"`
	Reason      string `json:"reason,omitempty"`
}

type familyEntry struct {
	Selected string         `json:"selected"`
	Backends []backendEntry `json:"backends"`
}

func runBackendsList(jsonOutput bool) {
	cfg := loadConfig()
	client, err := dialGateway(cfg.Listen, cfg.AuthToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer client.Close()

	payload, err := client.call(protocol.MethodBackendsList, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	var families map[string]familyEntry
	if err := json.Unmarshal(payload, &families); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(families, "", "  ")
		fmt.Println(string(out))
		return
	}

	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tID\tSTATE\tSELECTED\tREASON")
	for _, name := range names {
		fam := families[name]
		for _, be := range fam.Backends {
			selected := ""
			if be.Selected {
				selected = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", name, be.ID, be.State, selected, be.Reason)
		}
	}
	w.Flush()
}

func backendsSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <family> <id>",
		Short: "Switch the selected backend of a family (stt or tts)",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			runBackendsSelect(args[0], args[1])
		},
	}
}

func runBackendsSelect(family, id string) {
	cfg := loadConfig()
	client, err := dialGateway(cfg.Listen, cfg.AuthToken)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer client.Close()

	payload, err := client.call(protocol.MethodBackendsSelect, map[string]string{
		"family": family,
		"id":     id,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	var result struct {
		Family   string `json:"family"`
		Selected string `json:"selected"`
	}
	json.Unmarshal(payload, &result)
	fmt.Printf("%s now using %s\n", result.Family, result.Selected)
}
