// Command centralctl is the operator CLI for the admin service.
package main

import (
	"fmt"
	"os"

	"github.com/gorillaerror/xui-central/cmd/centralctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "centralctl: %v\n", err)
		os.Exit(1)
	}
}
