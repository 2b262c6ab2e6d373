package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/server"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage documents on the relay server",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var docs []database.Document
		if err := callAPI(http.MethodGet, "/api/v1/documents", nil, &docs); err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tAUTHOR")
		for _, doc := range docs {
			fmt.Fprintf(w, "%s\t%s\t%s\n", doc.ID, doc.Name, doc.Author)
		}
		return w.Flush()
	},
}

var documentsCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		author, _ := cmd.Flags().GetString("author")

		var doc database.Document
		req := server.CreateDocRequest{Name: args[0], Author: author}
		if err := callAPI(http.MethodPost, "/api/v1/documents/create", req, &doc); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), doc.ID)
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return callAPI(http.MethodDelete, "/api/v1/documents/"+args[0], nil, nil)
	},
}

var apiClient = &http.Client{Timeout: 10 * time.Second}

func callAPI(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(cfg.ServerURL, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := apiClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func init() {
	rootCmd.AddCommand(documentsCmd)
	documentsCmd.AddCommand(documentsListCmd, documentsCreateCmd, documentsDeleteCmd)
	documentsCreateCmd.Flags().String("author", "", "Document author")
}
