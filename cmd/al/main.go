package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"assetline/internal/app"
	"assetline/internal/config"
	"assetline/internal/dataset"
	"assetline/internal/db"
	"assetline/internal/domain"
	"assetline/internal/engine"
	"assetline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "al",
	Short: "Assetline CLI",
	Long: `Assetline turns incoming 3D asset requests into recorded decisions.
Each request runs through a fixed pipeline: the customer's preset is
validated, workflow steps are planned from routing rules, an artist is
picked from the roster, and the outcome lands as an immutable decision
in the ledger. Reference data (requests, artists, presets, rules) is
imported from JSON documents; Assetline never edits it.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ASSETLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(artistCmd())
	rootCmd.AddCommand(presetCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func importCmd() *cobra.Command {
	var dataDir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import reference documents",
		Long:  "Reads requests.json, artists.json, presets.json and rules.json from the data directory and replaces the stored snapshot. A missing file yields an empty collection; a malformed one aborts the import.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := dataset.Load(dataDir)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ImportDataset(ctx, ds); err != nil {
					return err
				}
				summary := map[string]int{
					"requests": len(ds.Requests),
					"artists":  len(ds.Artists),
					"presets":  len(ds.Presets),
					"rules":    len(ds.Rules),
				}
				if viper.GetBool("json") {
					return printJSON(summary)
				}
				fmt.Printf("Imported %d requests, %d artists, %d presets, %d rules\n",
					summary["requests"], summary["artists"], summary["presets"], summary["rules"])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dataDir, "data-dir", ".", "directory holding the reference JSON documents")
	return cmd
}

func processCmd() *cobra.Command {
	var requestID, output string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run the decision pipeline",
		Long:  "Processes one request (--request) or every stored request, appending a decision to the ledger per run. With --output the produced decisions are also written to a JSON file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var decisions []domain.Decision
				if requestID != "" {
					d, err := e.ProcessRequest(ctx, requestID)
					if err != nil {
						return err
					}
					decisions = []domain.Decision{d}
				} else {
					var failures []engine.ProcessError
					decisions, failures = e.ProcessAll(ctx)
					for _, f := range failures {
						fmt.Fprintf(os.Stderr, "failed: %v\n", f)
					}
				}
				if output != "" {
					if err := writeDecisionsFile(output, decisions); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(decisions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Decision", "Request", "Status", "Artist", "Score"})
				for _, d := range decisions {
					artist := ""
					if d.Assignment.ArtistName != nil {
						artist = *d.Assignment.ArtistName
					}
					tw.AppendRow(table.Row{d.DecisionID, d.RequestID, d.Status, artist, d.Assignment.MatchScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "process a single request id")
	cmd.Flags().StringVar(&output, "output", "", "write produced decisions to this JSON file")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				requests, err := e.Repo.ListRequests(ctx)
				if err != nil {
					return err
				}
				artists, err := e.Repo.ListArtists(ctx)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountDecisionsByStatus(ctx)
				if err != nil {
					return err
				}
				out := map[string]any{
					"requests":        len(requests),
					"artists":         len(artists),
					"decision_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Requests: %d\nArtists: %d\nDecisions:\n", len(requests), len(artists))
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "Inspect requests"}
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestValidateCmd())
	req.AddCommand(requestPlanCmd())
	req.AddCommand(requestAssignCmd())
	return req
}

func requestListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRequests(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Account", "Style", "Engine", "Topology", "Priority"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Account, r.Style, r.Engine, r.Topology, r.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(r)
			})
		},
	}
	return cmd
}

func requestValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate the request's account preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				account := ""
				if r, err := e.Repo.GetRequest(ctx, args[0]); err == nil {
					account = r.Account
				}
				result, err := e.ValidatePreset(ctx, args[0], account)
				if err != nil {
					return err
				}
				return printJSONOrIndent(result)
			})
		},
	}
	return cmd
}

func requestPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <id>",
		Short: "Plan workflow steps for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.PlanSteps(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(plan)
			})
		},
	}
	return cmd
}

func requestAssignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Pick an artist for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				assignment, err := e.AssignArtist(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(assignment)
			})
		},
	}
	return cmd
}

func artistCmd() *cobra.Command {
	artist := &cobra.Command{Use: "artist", Short: "Inspect the artist roster"}
	artist.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List artists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListArtists(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Skills", "Capacity", "Load", "Available"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, strings.Join(a.Skills, ", "), a.CapacityConcurrent, a.ActiveLoad, a.Available()})
				}
				tw.Render()
				return nil
			})
		},
	})
	return artist
}

func presetCmd() *cobra.Command {
	preset := &cobra.Command{Use: "preset", Short: "Inspect customer presets"}
	preset.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListPresets(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Account", "Version", "Channels", "Naming"})
				for _, account := range sortedKeys(items) {
					p := items[account]
					channels := len(p.Packing)
					naming := ""
					if p.Naming != nil {
						naming = p.Naming.Pattern
					}
					tw.AppendRow(table.Row{account, p.Version, channels, naming})
				}
				tw.Render()
				return nil
			})
		},
	})
	return preset
}

func ruleCmd() *cobra.Command {
	rule := &cobra.Command{Use: "rule", Short: "Inspect routing rules"}
	rule.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListRules(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Condition", "Steps", "SLA", "Queue"})
				for _, r := range items {
					cond, _ := json.Marshal(r.If)
					tw.AppendRow(table.Row{r.ID, string(cond), strings.Join(r.Then.Steps, ", "), r.Then.SLAHours, r.Then.Queue})
				}
				tw.Render()
				return nil
			})
		},
	})
	return rule
}

func decisionCmd() *cobra.Command {
	dec := &cobra.Command{
		Use:   "decision",
		Short: "Inspect the decision ledger",
		Long:  "The ledger is append-only: every pipeline run adds one decision and nothing is ever updated or removed.",
	}
	dec.AddCommand(decisionListCmd())
	dec.AddCommand(decisionShowCmd())
	dec.AddCommand(decisionExportCmd())
	return dec
}

func decisionListCmd() *cobra.Command {
	var requestID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions in insertion order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDecisions(ctx, requestID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Decision", "Request", "Status", "Artist", "Score", "Recorded"})
				for _, d := range items {
					artist := ""
					if d.Assignment.ArtistName != nil {
						artist = *d.Assignment.ArtistName
					}
					tw.AppendRow(table.Row{d.DecisionID, d.RequestID, d.Status, artist, d.Assignment.MatchScore, d.RecordedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&requestID, "request", "", "filter by request id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func decisionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Repo.GetDecision(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrIndent(d)
			})
		},
	}
	return cmd
}

func decisionExportCmd() *cobra.Command {
	var output, requestID, status string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the ledger to a JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListDecisions(ctx, requestID, status)
				if err != nil {
					return err
				}
				if err := writeDecisionsFile(output, items); err != nil {
					return err
				}
				fmt.Printf("Exported %d decisions to %s\n", len(items), output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&output, "output", "decisions.json", "output file")
	cmd.Flags().StringVar(&requestID, "request", "", "filter by request id")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show resolved config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrIndent(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default assetline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault("assetline")), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrIndent(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Open(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			handler, err := server.New(server.Config{Engine: appCtx.Engine, BasePath: basePath})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(appCtx.Engine)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Assetline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	e := appCtx.Engine
	e.AgentType = "cli"
	return fn(ctx, e)
}

func printJSONOrIndent(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeDecisionsFile(path string, decisions []domain.Decision) error {
	if decisions == nil {
		decisions = []domain.Decision{}
	}
	data, err := json.MarshalIndent(decisions, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
