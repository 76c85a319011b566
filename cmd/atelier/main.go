package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"atelier/internal/config"
	"atelier/internal/critic"
	"atelier/internal/db"
	"atelier/internal/domain"
	"atelier/internal/migrate"
	"atelier/internal/queue"
	"atelier/internal/repo"
	"atelier/internal/runner"
	"atelier/internal/server"
	"atelier/internal/validate"
)

var rootCmd = &cobra.Command{
	Use:   "atelier",
	Short: "Atelier CLI",
	Long: `Atelier runs an iterative approval pipeline for generated artifacts.
Work items wait in a priority queue (tier first, then cost-of-delay over
job size, then age). A runner claims the most urgent item, asks the
generator for an artifact, and puts the result in front of a critic panel
plus a master critic. Items that fall short come back as a fresh attempt
carrying the consolidated feedback, until they pass or the iteration
budget forces an approval with notes.`,
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
	viper.SetEnvPrefix("ATELIER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var studioID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(studioID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready at %s (db: %s)\n", workspace, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&studioID, "studio-id", "atelier", "studio id for the config")
	return cmd
}

func statusCmd() *cobra.Command {
	var dom string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, cfg *config.Config) error {
				domains := []string{dom}
				if dom == "" {
					var err error
					domains, err = q.Repo.Domains(ctx)
					if err != nil {
						return err
					}
				}
				out := map[string]any{"studio_id": cfg.Studio.ID}
				perDomain := map[string]map[string]int{}
				for _, d := range domains {
					counts, err := q.Repo.CountByStatus(ctx, d)
					if err != nil {
						return err
					}
					perDomain[d] = counts
				}
				out["domains"] = perDomain
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Studio: %s\n", cfg.Studio.ID)
				for _, d := range domains {
					fmt.Printf("%s:\n", d)
					for status, c := range perDomain[d] {
						fmt.Printf("  %s: %d\n", status, c)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&dom, "domain", "", "domain filter")
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage work items",
		Long:  "Work items are requests for generated artifacts. They flow pending -> in_progress and end approved, failed, or iterating once a revised attempt supersedes them.",
	}
	item.AddCommand(itemSubmitCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemLineageCmd())
	item.AddCommand(itemArtifactCmd())
	item.AddCommand(itemValidationsCmd())
	return item
}

func itemSubmitCmd() *cobra.Command {
	var opts queue.NewItemOptions
	var components, criteria []string
	var title, description string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.Spec = domain.WorkSpec{
				Title:              title,
				Description:        description,
				Components:         components,
				AcceptanceCriteria: criteria,
			}
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				w, err := q.EmitNew(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "queue domain")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "item kind")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringArrayVar(&components, "component", []string{}, "required component (repeatable)")
	cmd.Flags().StringArrayVar(&criteria, "criterion", []string{}, "acceptance criterion (repeatable)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "normal", "priority tier (high, normal, low)")
	cmd.Flags().Float64Var(&opts.CostOfDelay, "cost-of-delay", 1, "cost of delay")
	cmd.Flags().Float64Var(&opts.JobSize, "job-size", 1, "job size (must be positive)")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.WorkItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				items, err := q.Repo.ListWorkItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Domain", "Title", "Priority", "CoD/Size", "Iter", "Status"})
				for _, w := range items {
					tw.AppendRow(table.Row{
						w.ID, w.Domain, w.Spec.Title, w.Priority,
						fmt.Sprintf("%.2f", w.UrgencyRatio()), w.Iteration, w.Status,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Domain, "domain", "", "domain filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func itemShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				w, err := q.Repo.GetWorkItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func itemLineageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lineage <id>",
		Short: "Show the full attempt chain for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				chain, err := q.Repo.Lineage(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(chain)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Iter", "ID", "Status", "Created"})
				for _, w := range chain {
					tw.AppendRow(table.Row{w.Iteration, w.ID, w.Status, w.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func itemArtifactCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "artifact <id>",
		Short: "Show the item's artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				a, err := q.LoadArtifact(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("format: %s\nupdated: %s\n\n%s\n", a.Format, a.UpdatedAt, a.Code)
				return nil
			})
		},
	}
	return cmd
}

func itemValidationsCmd() *cobra.Command {
	var lineage bool
	cmd := &cobra.Command{
		Use:   "validations <id>",
		Short: "Show validation records for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				var (
					records []domain.ValidationResult
					err     error
				)
				if lineage {
					records, err = q.Repo.ListValidationsByLineage(ctx, args[0])
				} else {
					records, err = q.Repo.ListValidationsByItem(ctx, args[0])
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Iter", "Weighted", "Master", "Approved", "Forced"})
				for _, v := range records {
					tw.AppendRow(table.Row{v.Iteration, fmt.Sprintf("%.2f", v.WeightedScore), fmt.Sprintf("%.2f", v.MasterScore), v.Approved, v.Forced})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&lineage, "lineage", false, "include the whole attempt chain")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline",
		Long:  "Claims pending items and drives them through generation, critique, and convergence. Generator and critic backends are external commands: they read a prompt on stdin and print their answer on stdout.",
	}
	run.AddCommand(runOnceCmd())
	run.AddCommand(runDrainCmd())
	run.AddCommand(runDaemonCmd())
	return run
}

type runFlags struct {
	domains   []string
	genCmd    string
	criticCmd string
	renderCmd string
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	cmd.Flags().StringArrayVar(&f.domains, "domain", []string{}, "domain to watch (repeatable, default all)")
	cmd.Flags().StringVar(&f.genCmd, "gen-cmd", "", "generator command")
	cmd.Flags().StringVar(&f.criticCmd, "critic-cmd", "", "critic backend command")
	cmd.Flags().StringVar(&f.renderCmd, "render-cmd", "", "artifact render command (for vision critics)")
	_ = cmd.MarkFlagRequired("gen-cmd")
	_ = cmd.MarkFlagRequired("critic-cmd")
}

func newRunner(q queue.Queue, cfg *config.Config, f runFlags) *runner.Runner {
	r := &runner.Runner{
		Queue:     q,
		Config:    cfg,
		Generator: execGenerator{command: f.genCmd},
		Backend:   execBackend{command: f.criticCmd},
		Logger:    log.New(os.Stderr, "", log.LstdFlags),
		ActorID:   viper.GetString("actor-id"),
	}
	if f.renderCmd != "" {
		r.Renderer = execRenderer{command: f.renderCmd}
	}
	return r
}

func runOnceCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Process a single item",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(f.domains) != 1 {
				return fmt.Errorf("--domain required exactly once")
			}
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, cfg *config.Config) error {
				outcome, err := newRunner(q, cfg, f).RunOnce(ctx, f.domains[0])
				if errors.Is(err, repo.ErrNotFound) {
					fmt.Println("queue empty")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("outcome: %s\n", outcome)
				return nil
			})
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func runDrainCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process items until the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, cfg *config.Config) error {
				report, err := newRunner(q, cfg, f).Drain(ctx, f.domains)
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func runDaemonCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Poll for items until idle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, cfg *config.Config) error {
				report, err := newRunner(q, cfg, f).Daemon(ctx, f.domains)
				if err != nil {
					return err
				}
				printReport(report)
				return nil
			})
		},
	}
	addRunFlags(cmd, &f)
	return cmd
}

func printReport(r runner.Report) {
	if viper.GetBool("json") {
		_ = printJSON(r)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Processed", "Approved", "Forced", "Iterated", "Failed", "Elapsed"})
	tw.AppendRow(table.Row{r.Processed, r.Approved, r.ForceApproved, r.Iterated, r.Failed, r.Elapsed.Round(time.Millisecond)})
	tw.Render()
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = c.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func apikeyCmd() *cobra.Command {
	ak := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	ak.AddCommand(apikeyCreateCmd())
	ak.AddCommand(apikeyListCmd())
	ak.AddCommand(apikeyDeleteCmd())
	return ak
}

func apikeyCreateCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (plaintext printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				plaintext, record, err := server.MintAPIKey(ctx, q, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": plaintext, "id": record.ID, "actor_id": record.ActorID})
				}
				fmt.Printf("id: %s\nactor: %s\nkey: %s\n", record.ID, record.ActorID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				keys, err := q.Repo.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				return q.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var dom, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd.Context(), func(ctx context.Context, q queue.Queue, _ *config.Config) error {
				events, err := q.Repo.LatestEvents(ctx, n, dom, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&dom, "domain", "", "domain filter")
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
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("ATELIER_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("ATELIER_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Queue:    queue.New(conn),
				Config:   cfg,
				BasePath: basePath,
				Auth:     authCfg,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Atelier API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
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

// --- exec adapters ---

// execGenerator shells out to the configured command with the work spec as JSON on
// stdin; stdout becomes the artifact code.
type execGenerator struct {
	command string
}

func (g execGenerator) Produce(ctx context.Context, spec domain.WorkSpec) (domain.Artifact, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return domain.Artifact{}, err
	}
	out, err := runCommand(ctx, g.command, payload, nil)
	if err != nil {
		return domain.Artifact{}, err
	}
	return domain.Artifact{Code: out, Format: detectFormat(out)}, nil
}

// execBackend shells out with the prompt on stdin; attachments are passed as
// extra arguments.
type execBackend struct {
	command string
}

func (b execBackend) Invoke(ctx context.Context, prompt string, attachments []string) (string, error) {
	return runCommand(ctx, b.command, []byte(prompt), attachments)
}

// execRenderer shells out with the artifact code on stdin and expects the
// rendered image path on stdout.
type execRenderer struct {
	command string
}

func (r execRenderer) Render(ctx context.Context, artifact domain.Artifact) (string, error) {
	out, err := runCommand(ctx, r.command, []byte(artifact.Code), []string{artifact.Format})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func runCommand(ctx context.Context, command string, stdin []byte, extraArgs []string) (string, error) {
	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "", fmt.Errorf("empty command")
	}
	args := append(parts[1:], extraArgs...)
	cmd := exec.CommandContext(ctx, parts[0], args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%s: %s", err, msg)
		}
		return "", err
	}
	return stdout.String(), nil
}

func detectFormat(code string) string {
	trimmed := strings.TrimSpace(code)
	switch {
	case strings.HasPrefix(trimmed, "<svg") || strings.Contains(trimmed, "<svg "):
		return domain.FormatSVG
	case strings.HasPrefix(trimmed, "\\documentclass") || strings.HasPrefix(trimmed, "\\begin"):
		return domain.FormatLaTeX
	case strings.HasPrefix(trimmed, "<!doctype html") || strings.HasPrefix(trimmed, "<html"):
		return domain.FormatHTML
	}
	return domain.FormatRaw
}

// --- helpers ---

func withQueue(ctx context.Context, fn func(context.Context, queue.Queue, *config.Config) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, queue.New(conn), cfg)
}

func printJSONOrTable(v any) error {
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

var (
	_ runner.Generator  = execGenerator{}
	_ critic.Invoker    = execBackend{}
	_ validate.Renderer = execRenderer{}
)
