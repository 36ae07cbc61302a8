package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sidequest/internal/app"
	"sidequest/internal/config"
	"sidequest/internal/db"
	"sidequest/internal/domain"
	"sidequest/internal/engine"
	"sidequest/internal/generator"
	"sidequest/internal/gesture"
	"sidequest/internal/notify"
	"sidequest/internal/repo"
	"sidequest/internal/seed"
	"sidequest/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "sq",
	Short: "Sidequest CLI",
	Long: `Sidequest serves a deck of generated travel quests that users accept or reject with a swipe.
- Workspace: a directory holding sidequest.yml and the .sidequest database.
- Quests: catalogue entries, written by hand or generated with a language model.
- Deck: the quests a user has not decided yet.
- Decisions: liked or disliked, one per user and quest.
- Sessions: a live swipe over a user's deck; served over HTTP by 'sq serve' or locally by 'sq swipe'.
- Event log: audit trail of decisions and sessions, view with 'sq log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SIDEQUEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (defaults to <workspace>/sidequest.yml)")
	flags.String("driver", "", "store driver override (sqlite or postgres)")
	flags.String("dsn", "", "store DSN override")
	flags.String("log-mode", "", "log mode override (development or production)")
	flags.Bool("json", false, "output JSON")
	flags.StringP("user", "u", "local-user", "user id to act as")
	for _, name := range []string{"workspace", "config", "driver", "dsn", "log-mode", "json", "user"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(questCmd())
	rootCmd.AddCommand(deckCmd())
	rootCmd.AddCommand(decideCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(swipeCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config",
		Long:  "Config lives in sidequest.yml next to the .sidequest directory. Missing keys fall back to the defaults printed by 'sq config init'.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return printJSON(a.Config)
			})
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if path := viper.GetString("config"); path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
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
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				listen := addr
				if listen == "" {
					listen = a.Config.Server.Addr
				}
				fmt.Printf("Serving Sidequest API on http://%s/v0 (OpenAPI at /v0/openapi.json, docs at /v0/docs)\n", listen)
				return a.Serve(cmd.Context(), listen)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	return cmd
}

func questCmd() *cobra.Command {
	q := &cobra.Command{Use: "quest", Short: "Manage quests"}
	q.AddCommand(questListCmd())
	q.AddCommand(questShowCmd())
	q.AddCommand(questCreateCmd())
	q.AddCommand(questGenerateCmd())
	return q
}

func questListCmd() *cobra.Command {
	var theme, price, city string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List quests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListQuests(cmd.Context(), repo.QuestFilters{
					Theme:      theme,
					PriceRange: price,
					City:       city,
					Limit:      limit,
				})
				if err != nil {
					return err
				}
				return printQuests(items)
			})
		},
	}
	cmd.Flags().StringVar(&theme, "theme", "", "theme filter")
	cmd.Flags().StringVar(&price, "price", "", "price range filter")
	cmd.Flags().StringVar(&city, "city", "", "destination city filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max quests")
	return cmd
}

func questShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <quest-id>",
		Short: "Show a quest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				q, err := a.Engine.Repo.GetQuest(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
}

func questCreateCmd() *cobra.Command {
	var q domain.Quest
	var image string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a quest",
		RunE: func(cmd *cobra.Command, args []string) error {
			q.ImageURL = optionalString(image)
			return withApp(func(a *app.App) error {
				created, err := a.Engine.CreateQuest(cmd.Context(), q, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSON(created)
			})
		},
	}
	cmd.Flags().StringVar(&q.Name, "name", "", "quest name")
	cmd.Flags().StringVar(&q.Description, "description", "", "description")
	cmd.Flags().StringVar(&q.Theme, "theme", "", "adventure, relaxation, culture, nightlife or nature")
	cmd.Flags().StringSliceVar(&q.Activities, "activity", nil, "activity (repeatable)")
	cmd.Flags().StringVar(&q.DestinationCity, "city", "", "destination city")
	cmd.Flags().StringVar(&q.DestinationCountry, "country", "", "destination country")
	cmd.Flags().StringVar(&q.PriceRange, "price", domain.PriceMidRange, "budget, mid-range or luxury")
	cmd.Flags().IntVar(&q.DurationDays, "days", 3, "duration in days")
	cmd.Flags().StringVar(&image, "image", "", "image URL")
	return cmd
}

func questGenerateCmd() *cobra.Command {
	var req generator.Request
	var persist bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a quest with the language model",
		Long:  "Without a configured API key, or when the model output is unusable, a templated quest is returned instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				eng := a.Engine
				if eng.Generator.LLM == nil {
					eng.Generator.FallbackOnError = true
				}
				res, err := eng.GenerateQuest(cmd.Context(), req, persist, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Fallback {
					fmt.Fprintf(os.Stderr, "using fallback quest: %s\n", res.Reason)
				}
				return printJSON(res.Quest)
			})
		},
	}
	cmd.Flags().StringVar(&req.City, "city", "", "destination city")
	cmd.Flags().StringVar(&req.Country, "country", "", "destination country")
	cmd.Flags().StringVar(&req.Theme, "theme", domain.ThemeAdventure, "theme")
	cmd.Flags().StringVar(&req.Budget, "budget", domain.PriceMidRange, "budget")
	cmd.Flags().IntVar(&req.DurationDays, "days", 3, "duration in days")
	cmd.Flags().StringSliceVar(&req.Interests, "interest", nil, "user interest (repeatable)")
	cmd.Flags().BoolVar(&persist, "persist", false, "store the generated quest")
	return cmd
}

func deckCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "deck",
		Short: "Show the quests the user has not decided yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.Repo.ListUndecidedQuests(cmd.Context(), viper.GetString("user"), limit)
				if err != nil {
					return err
				}
				return printQuests(items)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max quests (0 for all)")
	return cmd
}

func decideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decide <quest-id> <liked|disliked>",
		Short: "Record a decision for the user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(func(a *app.App) error {
				d, err := a.Engine.RecordDecision(cmd.Context(), domain.Decision{
					UserID:  user,
					QuestID: args[0],
					Action:  args[1],
				}, user)
				if err != nil {
					return err
				}
				return printJSON(d)
			})
		},
	}
}

func profileCmd() *cobra.Command {
	p := &cobra.Command{Use: "profile", Short: "User travel profile"}
	p.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				profile, err := a.Engine.Repo.GetProfile(cmd.Context(), viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSON(profile)
			})
		},
	})
	var username, budget string
	var interests []string
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update the user's profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				profile, err := a.Engine.SaveProfile(cmd.Context(), viper.GetString("user"), engine.ProfileInput{
					Username:         username,
					TravelInterests:  interests,
					BudgetPreference: budget,
				})
				if err != nil {
					return err
				}
				return printJSON(profile)
			})
		},
	}
	set.Flags().StringVar(&username, "username", "", "display name")
	set.Flags().StringSliceVar(&interests, "interest", nil, "travel interest (repeatable)")
	set.Flags().StringVar(&budget, "budget", "", "budget preference")
	p.AddCommand(set)
	return p
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the user's liked quests and progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				d, err := a.Engine.Dashboard(cmd.Context(), viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				fmt.Printf("Liked: %d  Passed: %d  Remaining: %d\n", d.Counts.Liked, d.Counts.Passed, d.Counts.Remaining)
				if len(d.ByTheme) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.AppendHeader(table.Row{"Theme", "Liked"})
					for _, tc := range d.ByTheme {
						tw.AppendRow(table.Row{tc.Theme, tc.Count})
					}
					tw.Render()
				}
				return printQuests(d.Liked)
			})
		},
	}
}

func swipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swipe",
		Short: "Swipe through the user's deck in the terminal",
		Long:  "Type a (accept), r (reject) or q (quit) for each card. Decisions are stored as they are made.",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			return withApp(func(a *app.App) error {
				settled := make(chan struct{}, 1)
				reg := a.Registry(func(string, string) []gesture.Observer {
					return []gesture.Observer{settleSignal{ch: settled}}
				})
				live, err := reg.Start(cmd.Context(), user)
				if err != nil {
					return err
				}
				in := bufio.NewScanner(os.Stdin)
				for {
					view := waitSettled(cmd.Context(), live, settled)
					if view.Exhausted || view.Current == nil {
						fmt.Println("deck exhausted")
						break
					}
					q := view.Current
					fmt.Printf("[%d/%d] %s (%s, %s) %s, %d days\n  %s\n> ",
						view.Index+1, view.Total, q.Name, q.DestinationCity, q.DestinationCountry, q.PriceRange, q.DurationDays, q.Description)
					if !in.Scan() {
						break
					}
					choice := strings.ToLower(strings.TrimSpace(in.Text()))
					if choice == "q" {
						break
					}
					dir, err := gesture.ParseDirection(swipeAlias(choice))
					if err != nil {
						fmt.Println("type a, r or q")
						continue
					}
					live.Session.Decide(dir)
				}
				// Shutdown lets pending writes report failures before closing.
				reg.Shutdown()
				for _, n := range live.Recorder.Notices() {
					fmt.Printf("not saved: %s (%s): %s\n", n.QuestID, n.Action, n.Message)
				}
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Generate quests from the seed templates in the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				sum, err := seed.FromEngine(a.Engine, a.Config.Seed).Run(cmd.Context(), a.Config.Seed.Templates)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				fmt.Printf("seeded %d quests (%d fallbacks)\n", len(sum.Quests), sum.Fallbacks)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Theme", "Quests"})
				for _, tc := range sum.ByTheme {
					tw.AppendRow(table.Row{tc.Theme, tc.Count})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail: quests created, decisions, profile saves and swipe sessions.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	var all bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := viper.GetString("user")
			if all {
				user = ""
			}
			return withApp(func(a *app.App) error {
				events, err := a.Engine.Repo.LatestEvents(cmd.Context(), n, user, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "User", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.UserID, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().BoolVar(&all, "all", false, "events of every user")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow live session notifications from Redis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				r := a.Config.Redis
				if r.Addr == "" {
					return errors.New("redis.addr is not configured")
				}
				jsonOut := viper.GetBool("json")
				err := notify.Subscribe(cmd.Context(), r.Addr, r.DB, r.Channel, func(m notify.Message) {
					if jsonOut {
						_ = printJSON(m)
						return
					}
					fmt.Println(formatMessage(m))
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				issuer := a.Issuer()
				if issuer.Secret == "" {
					return fmt.Errorf("jwt secret not set; export %s", a.Config.Server.JWTSecretEnv)
				}
				token, exp, err := issuer.Issue(viper.GetString("user"), username)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"token": token, "expires_at": exp})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	return cmd
}

// --- helpers ---

func withApp(fn func(*app.App) error) error {
	a, err := app.Open(app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigFile: viper.GetString("config"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		LogMode:    viper.GetString("log-mode"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printQuests(items []domain.Quest) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Theme", "Destination", "Price", "Days"})
	for _, q := range items {
		tw.AppendRow(table.Row{q.ID, q.Name, q.Theme, q.DestinationCity + ", " + q.DestinationCountry, q.PriceRange, q.DurationDays})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func swipeAlias(choice string) string {
	switch choice {
	case "a", "y":
		return "accept"
	case "r", "n":
		return "reject"
	}
	return choice
}

// settleSignal wakes waitSettled when a commit has advanced the deck.
type settleSignal struct {
	gesture.NopObserver
	ch chan struct{}
}

func (s settleSignal) OnTransition(_, to gesture.State) {
	if to != gesture.Idle && to != gesture.Exhausted {
		return
	}
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// waitSettled blocks while the current card is committing.
func waitSettled(ctx context.Context, live *session.Live, settled <-chan struct{}) session.View {
	for {
		v := live.View()
		if v.State != gesture.Committing.String() {
			return v
		}
		select {
		case <-ctx.Done():
			return v
		case <-settled:
		}
	}
}

func formatMessage(m notify.Message) string {
	ts := m.At.Format(time.TimeOnly)
	switch m.Kind {
	case notify.KindTransition:
		return fmt.Sprintf("%s %s %s: %s -> %s", ts, m.UserID, m.SessionID, m.From, m.To)
	case notify.KindCommit:
		return fmt.Sprintf("%s %s %s: %s %q", ts, m.UserID, m.SessionID, m.Action, m.QuestName)
	case notify.KindDecisionFailed:
		return fmt.Sprintf("%s %s %s: failed to save %s on %s: %s", ts, m.UserID, m.SessionID, m.Action, m.QuestID, m.Error)
	default:
		return fmt.Sprintf("%s %s %s: %s", ts, m.UserID, m.SessionID, m.Kind)
	}
}
