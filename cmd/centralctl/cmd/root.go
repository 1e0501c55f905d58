// Package cmd implements the centralctl subcommands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gorillaerror/xui-central/pkg/api"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:          "centralctl",
	Short:        "Operator CLI for the xui-central admin service",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080",
		"base URL of the admin API")
}

var httpClient = &http.Client{Timeout: 5 * time.Minute}

// callAPI performs one admin API request and decodes the envelope.
func callAPI[T any](method, path string, body any) (T, error) {
	var zero T

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return zero, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, reader)
	if err != nil {
		return zero, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return zero, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope api.Response[T]
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return zero, fmt.Errorf("unexpected response (status %d): %s", resp.StatusCode, string(respBody))
	}
	if !envelope.Success {
		if envelope.Error != nil {
			return zero, fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message)
		}
		return zero, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return envelope.Data, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printSyncReport(report api.SyncReport) {
	fmt.Printf("%s: %s\n", report.Operation, report.Status)
	for _, n := range report.Nodes {
		if n.OK {
			fmt.Printf("  [ok]   %s (%d keys)\n", n.NodeName, n.Keys)
		} else {
			fmt.Printf("  [fail] %s: %s (%s)\n", n.NodeName, n.Error, n.Kind)
		}
	}
}
