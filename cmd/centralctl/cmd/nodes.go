package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gorillaerror/xui-central/pkg/api"
)

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Manage gateway nodes",
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodes, err := callAPI[[]api.NodeInfo](http.MethodGet, "/api/v1/nodes", nil)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			state := "enabled"
			if !n.Enabled {
				state = "disabled"
			}
			fmt.Printf("%d\t%s\t%s\t%s\n", n.ID, n.Name, n.Domain, state)
		}
		return nil
	},
}

var (
	nodeAddApiUrl   string
	nodeAddDomain   string
	nodeAddUsername string
	nodeAddPassword string
)

var nodesAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a new node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		node, err := callAPI[api.NodeInfo](http.MethodPost, "/api/v1/nodes", api.CreateNodeRequest{
			Name:     args[0],
			ApiUrl:   nodeAddApiUrl,
			Domain:   nodeAddDomain,
			Username: nodeAddUsername,
			Password: nodeAddPassword,
		})
		if err != nil {
			return err
		}
		return printJSON(node)
	},
}

var nodesResyncCmd = &cobra.Command{
	Use:   "resync <node-id>",
	Short: "Replay every enabled client onto a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := callAPI[api.ResyncReport](http.MethodPost, "/api/v1/nodes/"+args[0]+"/resync", nil)
		if err != nil {
			return err
		}
		fmt.Printf("resync %s: %s\n", report.NodeName, report.Status)
		for _, c := range report.Clients {
			if c.OK {
				fmt.Printf("  [ok]   %s (%d keys)\n", c.Email, c.Keys)
			} else {
				fmt.Printf("  [fail] %s: %s\n", c.Email, c.Error)
			}
		}
		return nil
	},
}

var nodesPurgeCmd = &cobra.Command{
	Use:   "purge <node-id>",
	Short: "Drop all auto keys recorded for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := callAPI[map[string]string](http.MethodPost, "/api/v1/nodes/"+args[0]+"/purge", nil)
		if err != nil {
			return err
		}
		fmt.Println("purged")
		return nil
	},
}

var nodesEnableCmd = &cobra.Command{
	Use:   "enable <node-id>",
	Short: "Include a node in future fan-outs",
	Args:  cobra.ExactArgs(1),
	RunE:  setNodeEnabled(true),
}

var nodesDisableCmd = &cobra.Command{
	Use:   "disable <node-id>",
	Short: "Exclude a node from future fan-outs",
	Args:  cobra.ExactArgs(1),
	RunE:  setNodeEnabled(false),
}

func setNodeEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		_, err := callAPI[map[string]bool](http.MethodPost, "/api/v1/nodes/"+args[0]+"/enable",
			api.SetEnabledRequest{Enabled: enabled})
		return err
	}
}

func init() {
	nodesAddCmd.Flags().StringVar(&nodeAddApiUrl, "api-url", "", "management endpoint of the panel")
	nodesAddCmd.Flags().StringVar(&nodeAddDomain, "domain", "", "public domain used in client URLs")
	nodesAddCmd.Flags().StringVar(&nodeAddUsername, "username", "", "panel username")
	nodesAddCmd.Flags().StringVar(&nodeAddPassword, "password", "", "panel password")
	nodesAddCmd.MarkFlagRequired("api-url")
	nodesAddCmd.MarkFlagRequired("domain")
	nodesAddCmd.MarkFlagRequired("username")
	nodesAddCmd.MarkFlagRequired("password")

	nodesCmd.AddCommand(nodesListCmd, nodesAddCmd, nodesResyncCmd, nodesPurgeCmd,
		nodesEnableCmd, nodesDisableCmd)
	rootCmd.AddCommand(nodesCmd)
}
