package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/gorillaerror/xui-central/pkg/api"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage VPN clients",
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered clients",
	RunE: func(cmd *cobra.Command, args []string) error {
		clients, err := callAPI[[]api.ClientInfo](http.MethodGet, "/api/v1/clients", nil)
		if err != nil {
			return err
		}
		for _, c := range clients {
			state := "enabled"
			if !c.Enabled {
				state = "disabled"
			}
			fmt.Printf("%d\t%s\t%s\n", c.ID, c.Email, state)
		}
		return nil
	},
}

var clientCreateTelegramID int64

var clientsCreateCmd = &cobra.Command{
	Use:   "create <email>",
	Short: "Register a client and push it to every enabled node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.CreateClientRequest{Email: args[0]}
		if clientCreateTelegramID != 0 {
			req.TelegramID = &clientCreateTelegramID
		}
		resp, err := callAPI[api.CreateClientResponse](http.MethodPost, "/api/v1/clients", req)
		if err != nil {
			return err
		}
		printSyncReport(resp.Report)
		return nil
	},
}

var clientsEnableCmd = &cobra.Command{
	Use:   "enable <email>",
	Short: "Enable a client on every node holding its keys",
	Args:  cobra.ExactArgs(1),
	RunE:  setClientEnabled(true),
}

var clientsDisableCmd = &cobra.Command{
	Use:   "disable <email>",
	Short: "Disable a client on every node holding its keys",
	Args:  cobra.ExactArgs(1),
	RunE:  setClientEnabled(false),
}

func setClientEnabled(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		report, err := callAPI[api.SyncReport](http.MethodPost,
			"/api/v1/clients/"+args[0]+"/enable", api.SetEnabledRequest{Enabled: enabled})
		if err != nil {
			return err
		}
		printSyncReport(report)
		return nil
	}
}

var clientsDeleteCmd = &cobra.Command{
	Use:   "delete <email>",
	Short: "Remove a client from all nodes and the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := callAPI[api.SyncReport](http.MethodDelete, "/api/v1/clients/"+args[0], nil)
		if err != nil {
			return err
		}
		printSyncReport(report)
		return nil
	},
}

var clientsKeysCmd = &cobra.Command{
	Use:   "keys <email>",
	Short: "List the keys recorded for a client",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := callAPI[[]api.KeyInfo](http.MethodGet, "/api/v1/clients/"+args[0]+"/keys", nil)
		if err != nil {
			return err
		}
		for _, k := range keys {
			tag := "auto"
			if k.Manual {
				tag = "manual"
			}
			fmt.Printf("%d\tnode=%d\tinbound=%d\t%s\t%s\n", k.ID, k.NodeID, k.InboundID, tag, k.VlessUrl)
		}
		return nil
	},
}

func init() {
	clientsCreateCmd.Flags().Int64Var(&clientCreateTelegramID, "telegram-id", 0,
		"telegram account to link to the client")

	clientsCmd.AddCommand(clientsListCmd, clientsCreateCmd, clientsEnableCmd,
		clientsDisableCmd, clientsDeleteCmd, clientsKeysCmd)
	rootCmd.AddCommand(clientsCmd)
}
