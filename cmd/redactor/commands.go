package main

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/kalambet/redactor/internal/api"
	"github.com/kalambet/redactor/internal/config"
	"github.com/kalambet/redactor/internal/results"
	"github.com/kalambet/redactor/internal/storage"
	"github.com/kalambet/redactor/internal/textstats"
)

// --- generate / correct / summarize ---

var generateCmd = &cobra.Command{
	Use:   "generate <topic>",
	Short: "Write a business text about a topic",
	Long: `Write a business text about a topic.

Examples:
  redactor generate "Aviso de cierre por inventario" --max-words 150
  redactor generate "Bienvenida a nuevos clientes" --provider anthropic`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd, "generate", strings.Join(args, " "))
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct [text]",
	Short: "Proofread and improve a text",
	Long: `Proofread and improve a text given as arguments, with --file, or on stdin with --file -.

Examples:
  redactor correct "Estimado cliente, le escrivo para..."
  redactor correct --file borrador.txt --instructions "tono más formal"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		return runAction(cmd, "correct", input)
	},
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize [text]",
	Short: "Summarize a text",
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		return runAction(cmd, "summarize", input)
	},
}

func init() {
	for _, c := range []*cobra.Command{generateCmd, correctCmd, summarizeCmd} {
		c.Flags().String("instructions", "", "additional instructions for the model")
		c.Flags().String("provider", "", "openai, gemini, anthropic, openrouter or ollama")
		c.Flags().String("model", "", "model id (default: the provider's default)")
		c.Flags().Float64("temperature", 0, "sampling temperature between 0 and 2")
	}
	generateCmd.Flags().Int("max-words", 0, "approximate length in words (default 200)")
	summarizeCmd.Flags().Int("max-words", 0, "approximate summary length in words (default 100)")
	correctCmd.Flags().String("file", "", "read the text from a file (- for stdin)")
	summarizeCmd.Flags().String("file", "", "read the text from a file (- for stdin)")
}

// readInput takes the text from --file when given, otherwise from args.
func readInput(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" && len(args) > 0 {
		return "", errors.New("pass the text either as arguments or with --file, not both")
	}

	var text string
	switch file {
	case "":
		text = strings.Join(args, " ")
	case "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		text = string(data)
	default:
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		text = string(data)
	}

	if strings.TrimSpace(text) == "" {
		return "", errors.New("no text given; pass it as arguments or with --file")
	}
	return text, nil
}

func runAction(cmd *cobra.Command, action, input string) error {
	req := map[string]any{"input": input}
	if v, _ := cmd.Flags().GetString("instructions"); v != "" {
		req["instructions"] = v
	}
	if v, _ := cmd.Flags().GetString("provider"); v != "" {
		req["provider"] = v
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		req["model"] = v
	}
	if cmd.Flags().Changed("temperature") {
		v, _ := cmd.Flags().GetFloat64("temperature")
		req["temperature"] = v
	}
	if f := cmd.Flags().Lookup("max-words"); f != nil && f.Changed {
		v, _ := cmd.Flags().GetInt("max-words")
		req["max_words"] = v
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.post(cmd.Context(), "/actions/"+action, req)
	if err != nil {
		return err
	}

	var out api.ActionResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	if out.Failed {
		return errors.New(strings.TrimPrefix(out.Text, "Error: "))
	}

	fmt.Fprintln(cmd.OutOrStdout(), out.Text)
	printSuccess("Saved %s (%d words, %d tokens, $%.4f, %s/%s)",
		out.ID, out.Words, out.TokensUsed, out.Cost, out.Provider, out.Model)
	return nil
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <id>",
	Short: "Approve or reject a stored result",
	Long: `Approve or reject a stored result. Rejected results move out of the
active history and are no longer used as style examples.

Examples:
  redactor feedback 2024-06-03T09-15-00 --approve
  redactor feedback 2024-06-03T09-15-00 --reject --comment "demasiado informal"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		approve, _ := cmd.Flags().GetBool("approve")
		reject, _ := cmd.Flags().GetBool("reject")
		comment, _ := cmd.Flags().GetString("comment")
		if approve == reject {
			return errors.New("exactly one of --approve or --reject is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/results/"+url.PathEscape(args[0])+"/feedback", map[string]any{
			"approved": approve,
			"comment":  comment,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("%s is now %s", args[0], result["status"])
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Bool("approve", false, "approve the result")
	feedbackCmd.Flags().Bool("reject", false, "reject the result")
	feedbackCmd.Flags().String("comment", "", "optional comment")
}

// --- history / show / delete / export ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored results, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")
		collection, _ := cmd.Flags().GetString("collection")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		if month != "" {
			q.Set("month", month)
		}
		if collection != "" {
			q.Set("collection", collection)
		}
		if limit > 0 {
			q.Set("limit", fmt.Sprint(limit))
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/results"
		if len(q) > 0 {
			path += "?" + q.Encode()
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var recs []results.Record
		if err := decodeJSON(resp, &recs); err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No results found.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, r := range recs {
			fmt.Fprintf(w, "%s  %-9s %-8s %4d  %s\n",
				colorize(colorCyan, r.ID),
				statusLabel(r.Feedback.Status()),
				r.Action,
				r.Words,
				textstats.ShortTitle(r.Topic, 60),
			)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("month", "", "month to list as YYYY-MM (default: current)")
	historyCmd.Flags().String("collection", "active", "active, rejected or combined")
	historyCmd.Flags().Int("limit", 20, "maximum number of results")
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/results/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var r results.Record
		if err := decodeJSON(resp, &r); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "ID:"), r.ID)
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Action:"), r.Action)
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Topic:"), r.Topic)
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Model:"), r.Model)
		fmt.Fprintf(w, "%s %d\n", colorize(colorBold, "Words:"), r.Words)
		fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Status:"), r.Feedback.Status())
		if r.Feedback.Comment != "" {
			fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Comment:"), r.Feedback.Comment)
		}
		fmt.Fprintf(w, "\n%s\n", r.Output)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored result and its usage entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/results/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a stored result as txt, json, md or html",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/results/" + url.PathEscape(args[0]) + "/export?format=" + url.QueryEscape(format)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}
		body, err := readBody(resp)
		if err != nil {
			return err
		}

		if output == "" {
			_, err := cmd.OutOrStdout().Write(body)
			return err
		}
		if err := os.WriteFile(output, body, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", output, err)
		}
		printSuccess("Exported %s to %s", args[0], output)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "txt", "txt, json, md or html")
	exportCmd.Flags().String("output", "", "output file path (default: stdout)")
}

// --- stats / usage ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show feedback statistics for a month",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/stats"
		if month != "" {
			path += "?month=" + url.QueryEscape(month)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var s results.Stats
		if err := decodeJSON(resp, &s); err != nil {
			return err
		}
		printStatus("Total", "%d", s.Total)
		printStatus("Approved", "%d", s.Approved)
		printStatus("Rejected", "%d", s.Rejected)
		printStatus("No feedback", "%d", s.NoFeedback)
		printStatus("Approval rate", "%.1f%%", s.ApprovalRate)
		return nil
	},
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show token usage and cost per provider and model",
	RunE: func(cmd *cobra.Command, args []string) error {
		month, _ := cmd.Flags().GetString("month")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/usage"
		if month != "" {
			path += "?month=" + url.QueryEscape(month)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var rows []storage.UsageSummary
		if err := decodeJSON(resp, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		var total float64
		for _, r := range rows {
			fmt.Fprintf(w, "%-40s %5d calls %3d failed %9d tokens  $%.4f\n",
				r.Provider+"/"+r.Model, r.Calls, r.Failures, r.Tokens, r.Cost)
			total += r.Cost
		}
		fmt.Fprintf(w, "%s $%.4f\n", colorize(colorBold, "Total:"), total)
		return nil
	},
}

var usageLogCmd = &cobra.Command{
	Use:   "log [entry-id]",
	Short: "List individual provider calls, newest first, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()

		if len(args) == 1 {
			resp, err := client.get(cmd.Context(), "/usage/entries/"+url.PathEscape(args[0]))
			if err != nil {
				return err
			}
			var e storage.UsageEntry
			if err := decodeJSON(resp, &e); err != nil {
				return err
			}
			printUsageEntry(w, e)
			if e.Error != "" {
				fmt.Fprintf(w, "  error: %s\n", e.Error)
			}
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if offset > 0 {
			q.Set("offset", strconv.Itoa(offset))
		}
		resp, err := client.get(cmd.Context(), "/usage/entries?"+q.Encode())
		if err != nil {
			return err
		}
		var entries []storage.UsageEntry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(w, "No usage recorded.")
			return nil
		}
		for _, e := range entries {
			printUsageEntry(w, e)
		}
		return nil
	},
}

func printUsageEntry(w io.Writer, e storage.UsageEntry) {
	ref := e.ResultID
	if e.Failed {
		ref = colorize(colorRed, "failed")
	}
	fmt.Fprintf(w, "%s  %s  %-9s %-36s %7d tokens  $%.4f  %s\n",
		e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Action,
		e.Provider+"/"+e.Model, e.TokensUsed, e.Cost, ref)
}

func init() {
	statsCmd.Flags().String("month", "", "YYYY-MM (default: current)")
	usageCmd.Flags().String("month", "", "YYYY-MM, or all (default: current)")
	usageLogCmd.Flags().Int("limit", 20, "maximum number of entries")
	usageLogCmd.Flags().Int("offset", 0, "entries to skip")
	usageCmd.AddCommand(usageLogCmd)
}

// --- ref ---

var refCmd = &cobra.Command{
	Use:   "ref",
	Short: "Manage reference texts used as style examples",
}

var refAddCmd = &cobra.Command{
	Use:   "add <file>",
	Short: "Upload a reference file (txt, md, json, html or pdf)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		req := api.AddReferenceRequest{Name: filepath.Base(args[0])}
		if utf8.Valid(data) {
			req.Content = string(data)
		} else {
			req.ContentBase64 = base64.StdEncoding.EncodeToString(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/references", req)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stored reference %s", result["name"])
		return nil
	},
}

var refListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reference files",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/references")
		if err != nil {
			return err
		}

		var refs []struct {
			Name    string `json:"name"`
			Kind    string `json:"kind"`
			Size    int64  `json:"size"`
			Preview string `json:"preview"`
		}
		if err := decodeJSON(resp, &refs); err != nil {
			return err
		}
		if len(refs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No reference files.")
			return nil
		}

		w := cmd.OutOrStdout()
		for _, r := range refs {
			fmt.Fprintf(w, "%s  %-4s %7d B  %s\n",
				colorize(colorCyan, r.Name), r.Kind, r.Size, textstats.ShortTitle(r.Preview, 60))
		}
		return nil
	},
}

var refRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Delete a reference file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/references/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted reference %s", args[0])
		return nil
	},
}

func init() {
	refCmd.AddCommand(refAddCmd, refListCmd, refRmCmd)
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List model providers, their models and key status",
	RunE: func(cmd *cobra.Command, args []string) error {
		live, _ := cmd.Flags().GetBool("live")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := "/providers"
		if live {
			path += "?live=true"
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var list []api.ProviderInfo
		if err := decodeJSON(resp, &list); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		for _, p := range list {
			key := colorize(colorGreen, "key set")
			if !p.HasKey {
				key = colorize(colorRed, "no key ("+p.KeyEnv+")")
			}
			fmt.Fprintf(w, "%s  default %s  %s\n", colorize(colorBold, p.Name), p.DefaultModel, key)
			if len(p.Models) > 0 {
				fmt.Fprintf(w, "  models: %s\n", strings.Join(p.Models, ", "))
			}
			if p.Error != "" {
				printWarning("%s: %s", p.Name, p.Error)
			}
		}
		return nil
	},
}

func init() {
	providersCmd.Flags().Bool("live", false, "ask Ollama and OpenRouter for their current models")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if strings.HasSuffix(key, "api_key") || strings.HasSuffix(key, "api_token") {
			printSuccess("Set %s", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
