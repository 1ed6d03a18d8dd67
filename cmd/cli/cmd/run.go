package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/picogrid/legion-missions/pkg/auth"
	"github.com/picogrid/legion-missions/pkg/client"
	"github.com/picogrid/legion-missions/pkg/config"
	"github.com/picogrid/legion-missions/pkg/engine"
	"github.com/picogrid/legion-missions/pkg/logger"
	"github.com/picogrid/legion-missions/pkg/mission"
	"github.com/picogrid/legion-missions/pkg/plan"
	"github.com/picogrid/legion-missions/pkg/server"
	"github.com/picogrid/legion-missions/pkg/telemetry"
)

// oauthKey as an API key setting selects interactive Keycloak login
const oauthKey = "oauth"

var runCmd = &cobra.Command{
	Use:   "run [plan files...]",
	Short: "Fly one or more mission plans",
	Long: `Fly mission plans. Plans are taken from the arguments, or discovered
under the project root and selected interactively. With the HTTP server
enabled the engine keeps accepting commands on /api/commands after the
plans finish when --keep-alive is set.`,
	RunE: runMissions,
}

func init() {
	runCmd.Flags().Bool("all", false, "fly every discovered plan without prompting")
	runCmd.Flags().Bool("keep-alive", false, "keep serving after all missions finish")
	runCmd.Flags().Bool("auto-skip", false, "skip checkpoints whose scans are exhausted instead of waiting for an operator")
	runCmd.Flags().Bool("progress", true, "show a progress bar instead of the event log when attached to a terminal")
	runCmd.Flags().Duration("tick", 0, "mission clock tick interval")
	runCmd.Flags().Int64("seed", 0, "random seed for progress increments and scans")
	runCmd.Flags().Int("max-scan-retries", 0, "scan attempts before a checkpoint is exhausted")
	runCmd.Flags().Float64("scan-success", -1, "checkpoint scan success probability (0-1)")
	runCmd.Flags().String("weather-profile", "", "drone weather profile (standard, heavy, light)")
	runCmd.Flags().String("mqtt", "", "MQTT broker carrying external telemetry")
	runCmd.Flags().String("listen", "", "HTTP listen address")
	runCmd.Flags().Bool("no-server", false, "disable the HTTP server")
	runCmd.Flags().Bool("legion", false, "publish drone positions to Legion")
}

// cliOverrides collects the flags the user actually set
func cliOverrides(cmd *cobra.Command) map[string]interface{} {
	overrides := make(map[string]interface{})
	flags := cmd.Flags()

	if flags.Changed("tick") {
		v, _ := flags.GetDuration("tick")
		overrides["tick_interval"] = v
	}
	if flags.Changed("seed") {
		v, _ := flags.GetInt64("seed")
		overrides["seed"] = v
	}
	if flags.Changed("max-scan-retries") {
		v, _ := flags.GetInt("max-scan-retries")
		overrides["max_scan_retries"] = v
	}
	if flags.Changed("scan-success") {
		v, _ := flags.GetFloat64("scan-success")
		overrides["scan_success_probability"] = v
	}
	if flags.Changed("weather-profile") {
		v, _ := flags.GetString("weather-profile")
		overrides["weather_profile"] = v
	}
	if flags.Changed("mqtt") {
		v, _ := flags.GetString("mqtt")
		overrides["mqtt_broker"] = v
	}
	if flags.Changed("listen") {
		v, _ := flags.GetString("listen")
		overrides["listen_addr"] = v
	}
	if flags.Changed("no-server") {
		v, _ := flags.GetBool("no-server")
		overrides["no_server"] = v
	}
	if flags.Changed("legion") {
		v, _ := flags.GetBool("legion")
		overrides["legion"] = v
	}
	if f := cmd.Root().PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		overrides["log_level"] = f.Value.String()
	}
	return overrides
}

func runMissions(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithOverrides(cfgFile, cliOverrides(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closeLog, err := configureLogging(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	plans, err := selectPlans(cmd, args)
	if err != nil {
		return err
	}
	if len(plans) == 0 && !cfg.Server.Enabled {
		return fmt.Errorf("no mission plans selected and the HTTP server is disabled")
	}

	keepAlive, _ := cmd.Flags().GetBool("keep-alive")
	autoSkip, _ := cmd.Flags().GetBool("auto-skip")
	wantProgress, _ := cmd.Flags().GetBool("progress")
	showProgress := wantProgress && len(plans) > 0 && term.IsTerminal(int(os.Stdout.Fd()))

	mux := telemetry.NewMultiplexer(telemetry.Options{
		FreshnessWindow:  cfg.Telemetry.FreshnessWindow,
		MinInterval:      cfg.Telemetry.MinInterval,
		SubscriberBuffer: cfg.Telemetry.SubscriberBuffer,
		Retention:        cfg.Telemetry.Retention,
	})
	gate := mission.NewThresholdGate(mission.ProfileThresholds(cfg.Safety.Profile), cfg.Safety.Conditions)
	scanner := &mission.RandomScanner{
		Rand:               mission.NewRand(cfg.Seed),
		SuccessProbability: cfg.Scanner.SuccessProbability,
		Duration:           cfg.Scanner.Duration,
	}

	// The event log and the progress bar share the terminal, so only one
	// of them is drawn
	var journalOut io.Writer = os.Stdout
	if showProgress {
		journalOut = nil
	}
	journal := engine.NewJournal(journalOut, 0)

	eng, err := engine.New(engine.Options{
		Mission:     cfg.Mission,
		Gate:        gate,
		Scanner:     scanner,
		Mux:         mux,
		Journal:     journal,
		Seed:        cfg.Seed,
		ArchiveSize: cfg.Archive.Size,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	var publisher *telemetry.Publisher
	if cfg.Legion.Enabled {
		publisher, err = newPublisher(cmd.Context(), cfg)
		if err != nil {
			return err
		}
	}

	printRunConfig(cfg, len(plans))

	// Subscribe before the first mission ticks so Legion sees take-off
	var updates <-chan telemetry.Snapshot
	unsubscribe := func() {}
	if publisher != nil {
		updates, unsubscribe = mux.Subscribe()
	}
	defer unsubscribe()

	started := 0
	for _, info := range plans {
		p := info.Plan
		res := eng.Handle(engine.StartMission(p.DroneID, p.Home, p.Waypoints))
		if !res.Accepted {
			logger.Errorf("Mission for %s rejected: %s", p.DroneID, res.Reason)
			continue
		}
		started++
		logger.Successf("Started %s on %s (mission %s)", p.Name, p.DroneID, res.MissionID)
	}
	if len(plans) > 0 && started == 0 && !cfg.Server.Enabled {
		return fmt.Errorf("no missions could be started")
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// runCtx ends either on a signal or once every mission has finished
	runCtx, finish := context.WithCancel(ctx)
	defer finish()

	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.Enabled {
		srv := server.New(server.Options{
			Addr:   cfg.Server.ListenAddr,
			Engine: eng,
			Mux:    mux,
			Hub:    telemetry.NewHub(mux),
			Gate:   gate,
		})
		g.Go(func() error { return srv.Run(gctx) })
	}

	if cfg.MQTT.Broker != "" {
		feed := telemetry.NewMQTTFeed(telemetry.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, mux)
		g.Go(func() error {
			// Missions fly on simulated telemetry when the broker is unreachable
			if err := feed.Run(gctx); err != nil {
				logger.Errorf("External telemetry feed stopped: %v", err)
			}
			return nil
		})
	}

	if publisher != nil {
		g.Go(func() error {
			if err := publisher.Run(gctx, updates); err != nil {
				logger.Warnf("Final Legion flush incomplete: %v", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return superviseMissions(gctx, eng, autoSkip, showProgress)
	})

	g.Go(func() error {
		if keepAlive || len(plans) == 0 {
			<-gctx.Done()
			return nil
		}
		if err := eng.Wait(gctx); err != nil {
			return nil
		}
		logger.Success("All missions finished")
		finish()
		return nil
	})

	err = g.Wait()

	if ctx.Err() != nil {
		logger.Warn("Received interrupt signal, cancelling missions...")
	}
	eng.Shutdown("engine shutting down")

	printMissionTable(eng)
	journal.PrintSummary(os.Stdout)
	if publisher != nil {
		stats := publisher.Stats()
		logger.Infof("Legion: %d locations sent, %d failures", stats.LocationsSent, stats.Failures)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func configureLogging(cfg config.LoggingConfig) (func() error, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Level))
	if cfg.NoColor {
		logger.SetNoColor(true)
	}
	closeFn, err := logger.EnableFile(logger.FileConfig{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return closeFn, nil
}

func printRunConfig(cfg *config.EngineConfig, plans int) {
	logger.LogSection("Mission Engine")
	logger.LogKeyValue("Plans", plans)
	logger.LogKeyValue("Tick interval", cfg.Mission.TickInterval)
	logger.LogKeyValue("Weather profile", cfg.Safety.Profile)
	logger.LogKeyValue("Scan success", fmt.Sprintf("%.0f%%", cfg.Scanner.SuccessProbability*100))
	if cfg.Server.Enabled {
		logger.LogKeyValue("HTTP", cfg.Server.ListenAddr)
	}
	if cfg.MQTT.Broker != "" {
		logger.LogKeyValue("MQTT", cfg.MQTT.Broker+" "+cfg.MQTT.Topic)
	}
	if cfg.Legion.Enabled {
		logger.LogKeyValue("Legion org", cfg.Legion.OrganizationID)
	}
}

// superviseMissions redraws the progress bar and, with autoSkip, moves
// exhausted checkpoints along so unattended runs can finish
func superviseMissions(ctx context.Context, eng *engine.Engine, autoSkip, showProgress bool) error {
	var bar *logger.ProgressBar
	if showProgress {
		bar = logger.NewProgressBar("Missions")
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if bar != nil {
				bar.Finish(fmt.Sprintf("%d archived", len(eng.Archived())))
			}
			return nil
		case <-ticker.C:
		}

		active := eng.Active()
		var total float64
		for _, m := range active {
			total += m.Progress
			if autoSkip && m.Phase == mission.PhaseScanExhausted {
				res := eng.Handle(engine.Command{Kind: engine.CmdSkipCheckpoint, DroneID: m.DroneID})
				if res.Accepted {
					logger.Warnf("Skipped exhausted checkpoint %d for %s", m.CurrentWaypointIndex+1, m.DroneID)
				}
			}
		}
		if bar != nil && len(active) > 0 {
			bar.Update(total/float64(len(active)), fmt.Sprintf("%d active", len(active)))
		}
	}
}

func printMissionTable(eng *engine.Engine) {
	missions := append(eng.Active(), eng.Archived()...)
	if len(missions) == 0 {
		return
	}

	logger.LogSection("Missions")
	table := logger.NewTable("DRONE", "MISSION", "PHASE", "PROGRESS", "WAYPOINT", "REASON")
	for _, m := range missions {
		table.AddRow(
			m.DroneID,
			m.ID.String()[:8],
			string(m.Phase),
			fmt.Sprintf("%.1f%%", m.Progress),
			fmt.Sprintf("%d/%d", min(m.CurrentWaypointIndex+1, len(m.Waypoints)), len(m.Waypoints)),
			m.Reason,
		)
	}
	table.Print()
}

// selectPlans loads the plan files named on the command line, or
// discovers plans and lets the user pick
func selectPlans(cmd *cobra.Command, args []string) ([]plan.Info, error) {
	if len(args) > 0 {
		infos := make([]plan.Info, 0, len(args))
		for _, path := range args {
			p, err := plan.Load(path)
			if err != nil {
				return nil, err
			}
			infos = append(infos, plan.Info{Path: path, Plan: p})
		}
		return infos, nil
	}

	infos, err := plan.Discover()
	if err != nil {
		return nil, fmt.Errorf("failed to discover plans: %w", err)
	}
	if len(infos) == 0 {
		logger.Warn("No mission plans found, create one with 'plan create'")
		return nil, nil
	}

	if all, _ := cmd.Flags().GetBool("all"); all {
		return infos, nil
	}
	return plan.Select(infos)
}

// newPublisher connects to the Legion environment chosen by --url,
// --env, the config file or the environments file
func newPublisher(ctx context.Context, cfg *config.EngineConfig) (*telemetry.Publisher, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	env, apiKey, err := selectEnvironment(cfg.Legion.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to select environment: %w", err)
	}

	legionClient, err := newLegionClient(ctx, env, apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create Legion client: %w", err)
	}

	err = logger.WithSpinner(fmt.Sprintf("Connecting to Legion (%s)", env.Name), func() error {
		return legionClient.ValidateConnection(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Legion: %w", err)
	}

	return telemetry.NewPublisher(legionClient, telemetry.PublisherConfig{
		OrganizationID: cfg.Legion.OrganizationID,
		FlushInterval:  cfg.Legion.FlushInterval,
		MaxConcurrent:  cfg.Legion.MaxConcurrent,
	}), nil
}

// newLegionClient authenticates with the API key, or logs in through
// Keycloak when no key is available or the key is "oauth"
func newLegionClient(ctx context.Context, env config.Environment, apiKey string) (*client.Legion, error) {
	if apiKey != "" && !strings.EqualFold(apiKey, oauthKey) {
		return client.NewLegionClient(env.URL, apiKey)
	}

	logger.Infof("No API key for %s, signing in with Legion credentials", env.Name)
	tokenManager, err := auth.AuthenticateUserWithLegion(ctx, env.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	logger.Debugf("Access token valid until %s", tokenManager.ExpiresAt().Format(time.RFC3339))
	return auth.CreateAuthenticatedClient(env.URL, tokenManager)
}

func selectEnvironment(configured string) (config.Environment, string, error) {
	if url := viper.GetString("url"); url != "" {
		return config.Environment{Name: "Custom", URL: url}, viper.GetString("api_key"), nil
	}

	envs, err := config.LoadEnvironments()
	if err != nil {
		return config.Environment{}, "", err
	}

	name := viper.GetString("env")
	if name == "" {
		name = configured
	}
	env, err := envs.Resolve(name)
	if err != nil {
		return config.Environment{}, "", err
	}

	if strings.EqualFold(env.APIKey, oauthKey) {
		return env, oauthKey, nil
	}
	apiKey := client.GetAPIKey(env.APIKey)
	if apiKey == "" && env.APIKey != "" && term.IsTerminal(int(os.Stdin.Fd())) {
		keyPrompt := &survey.Password{
			Message: fmt.Sprintf("Enter API key for %s (%s is not set, leave empty to sign in):", env.Name, env.APIKey),
		}
		if err := survey.AskOne(keyPrompt, &apiKey); err != nil {
			return config.Environment{}, "", err
		}
	}
	return env, apiKey, nil
}
