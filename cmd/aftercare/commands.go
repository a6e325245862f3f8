package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/carelink/aftercare/internal/config"
	"github.com/carelink/aftercare/internal/ingest"
	"github.com/carelink/aftercare/internal/policy"
)

// --- turn ---

var turnCmd = &cobra.Command{
	Use:   "turn <message>",
	Short: "Send a patient message through the pipeline",
	Long: `Send a patient message through the running server's turn pipeline.

Examples:
  aftercare turn "When is my next appointment? My ID is 10004235"
  aftercare turn --patient 10000032 "I missed my metformin dose this morning"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patientID, _ := cmd.Flags().GetString("patient")
		input := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]string{"input": input}
		if patientID != "" {
			req["patient_id"] = patientID
		}

		resp, err := client.post("/v1/turns", req)
		if err != nil {
			return err
		}

		var turn struct {
			ID         string `json:"id"`
			Response   string `json:"response"`
			Intent     string `json:"intent"`
			TriageTier string `json:"triage_tier"`
			Decision   struct {
				Fallback bool `json:"fallback"`
			} `json:"decision"`
		}
		if err := decodeJSON(resp, &turn); err != nil {
			return err
		}

		fmt.Println(turn.Response)

		printStatus("Agent", "%s", turn.Intent)
		if turn.TriageTier != "" {
			printStatus("Risk", "%s", colorize(riskColor(turn.TriageTier), turn.TriageTier))
		}
		if turn.Decision.Fallback {
			printStatus("Routing", "keyword fallback")
		}
		return nil
	},
}

func init() {
	turnCmd.Flags().String("patient", "", "8-digit patient ID for this session")
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

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- policies ---

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Manage agent policy rules",
}

var policiesShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active policy rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		set, err := policy.Load(cfg.Policy.RulesPath)
		if err != nil {
			return err
		}

		for _, r := range set.Rules {
			fmt.Printf("\n%s\n", colorize(colorBold, r.Agent))
			if len(r.Scope) > 0 {
				fmt.Printf("  scope: %s\n", strings.Join(r.Scope, ", "))
			}
			for _, restriction := range r.Restrictions {
				fmt.Printf("  - %s\n", restriction)
			}
			if len(r.EscalateOn) > 0 {
				fmt.Printf("  escalate on: %s\n", strings.Join(r.EscalateOn, ", "))
			}
		}
		return nil
	},
}

var policiesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Draft policy rules from a clinic document",
	Long: `Extract agent policy rules from a clinic policy document (PDF, HTML,
or plain text) and merge them into the active rule set.

The draft uses the configured completion providers when credentials are
available and falls back to section-heading heuristics otherwise. Review
the merged rules with "aftercare policies show" before relying on them.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		printStep("Extracting text from %s", args[0])
		text, err := ingest.ExtractText(args[0])
		if err != nil {
			return fmt.Errorf("extracting document: %w", err)
		}

		gw, err := buildGateway(cfg)
		if err != nil {
			return err
		}

		printStep("Drafting policy rules")
		extractor := ingest.NewExtractor(gw, nil)
		rules, err := extractor.DraftRules(context.Background(), text)
		if err != nil {
			return fmt.Errorf("drafting rules: %w", err)
		}

		dest := output
		if dest == "" {
			dest = cfg.Policy.RulesPath
		}
		if dest == "" {
			dest = filepath.Join(cfg.Storage.DataDir, "policies.json")
		}

		set, err := policy.Load(cfg.Policy.RulesPath)
		if err != nil {
			return err
		}
		merged := set.Merge(rules)
		if err := merged.Save(dest); err != nil {
			return fmt.Errorf("saving rules: %w", err)
		}

		if output == "" && cfg.Policy.RulesPath == "" {
			if err := config.SetKey("policy.rules_path", dest); err != nil {
				printWarning("rules saved but config not updated: %v", err)
			}
		}

		printSuccess("Imported %d rule(s) into %s", len(rules), dest)
		return nil
	},
}

func init() {
	policiesImportCmd.Flags().String("output", "", "destination file (default: the configured rules path)")
	policiesCmd.AddCommand(policiesShowCmd)
	policiesCmd.AddCommand(policiesImportCmd)
}
