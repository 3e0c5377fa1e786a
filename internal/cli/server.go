package cli

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firesim-sync-service/internal/app"
	"firesim-sync-service/internal/config"
	"firesim-sync-service/internal/domain"
	"firesim-sync-service/internal/infra/memory"
	pgloader "firesim-sync-service/internal/infra/postgres"
	redisinfra "firesim-sync-service/internal/infra/redis"
	transport "firesim-sync-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the session sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Admin.Passcode == "" {
		return fmt.Errorf("admin passcode not configured")
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.ScenarioLoader = memory.NewStaticScenarioLoader(sampleScenarios())
	if pool != nil {
		loader = pgloader.NewScenarioLoader(pool)
	}

	scenarioTTL := config.TTLDuration(cfg.Scenario.TTL, 10*time.Minute)
	var scenarios app.ScenarioRepository
	if redisClient != nil {
		scenarios = redisinfra.NewScenarioRepository(redisClient, loader, scenarioTTL)
	} else {
		scenarios = memory.NewScenarioRepository(loader, scenarioTTL)
	}

	var repo app.SessionRepository
	if redisClient != nil {
		repo = redisinfra.NewSessionRepository(redisClient)
	} else {
		repo = memory.NewSessionRepository()
	}

	scenarioID := cfg.Scenario.ID
	if scenarioID == "" {
		scenarioID = "plant3-fire"
	}

	wsHandler := transport.NewWSHandler(repo, scenarios, scenarioID)
	adminHandler, err := transport.NewAdminHandler(ctx, repo, cfg.Admin.Passcode)
	if err != nil {
		return err
	}
	defer adminHandler.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /sessions", wsHandler.HandleOpenSessions)
	mux.HandleFunc("GET /scenarios/{id}", wsHandler.HandleScenario)
	mux.HandleFunc("GET /ws", wsHandler.ServeWS)
	adminHandler.Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No write timeout: learner websockets and admin event streams are
		// long-lived.
	}

	go func() {
		log.Printf("starting session sync service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleScenarios provides the built-in exercise content; swap the loader
// with the Postgres-backed one in production.
func sampleScenarios() map[string]domain.Scenario {
	infoCards := make([]string, 0, 72)
	for group := 1; group <= 4; group++ {
		for card := 1; card <= 18; card++ {
			infoCards = append(infoCards, fmt.Sprintf("info-card-%d-%d", group, card))
		}
	}

	return map[string]domain.Scenario{
		"plant3-fire": {
			ID: "plant3-fire",
			Briefing: domain.Briefing{
				Date:             "Thursday, August 4, 10:30",
				Location:         "Plant No. 3",
				Incident:         "Fire of unknown origin with a casualty",
				HumanDamage:      "Production foreman hospitalized with burns, four weeks recovery",
				ProductionDamage: "Production line halted, projected 4,000 unit shortfall",
				Deadline:         "August 12 delivery date",
				Client:           "Elephant Construction Co.",
				Directive:        "Report the situation and a response plan within one hour. What is the problem? Why did it happen? What will you do?",
			},
			Stages: []domain.StageContent{
				{
					ID:          domain.StepIntro,
					Title:       "Scenario Briefing",
					ShortTitle:  "Briefing",
					Description: "Emergency declared; review the CEO's directive",
					Goal:        "Grasp the severity of the crisis and identify the task at hand.",
					Guide:       "Read the incident overview and the CEO's directive carefully and confirm the mission ahead.",
				},
				{
					ID:          domain.StepFactFinding,
					Title:       "Stage 1: Fact Finding",
					ShortTitle:  "Facts",
					Description: "Collect on-site information with fact-based thinking",
					Goal:        "Exclude speculation and reconstruct the situation from verified facts only.",
					Guide:       "Record only confirmed facts, using the incident log and the interviews provided.",
					Context: []domain.ContextItem{
						{
							Type:    "report",
							Source:  "Security team incident log",
							Content: "Around 10:30 a spark at the Plant 3 switchboard ignited and the fire spread. Equipment running at the time: 2 A-Pro units, 4 B-Pro units. Initial suppression failed.",
						},
						{
							Type:    "interview",
							Source:  "Production staff interview",
							Content: "We normally run one A-Pro unit, but this rush order had both running at full load. The foreman said the breaker kept tripping and went to check the switchboard when it happened.",
						},
					},
				},
				{
					ID:          domain.StepProblemDefinition,
					Title:       "Stage 2: Problem Definition",
					ShortTitle:  "Problem",
					Description: "State the core problem to be solved",
					Goal:        "Analyze the gap between the current state and the target state, and define the problem concretely.",
					Guide:       "Define what the problem is in one sentence each for the casualty and for the production shortfall.",
					Context: []domain.ContextItem{
						{
							Type:    "email",
							Source:  "Sales team urgent mail",
							Content: "To: Production Planning\nSubject: Elephant Construction delivery\n\n10,000 units are due by 8/12. Excluding current stock we are 4,000 units short. A delay risks penalties and loss of trust.",
						},
					},
				},
				{
					ID:          domain.StepRootCause,
					Title:       "Stage 3: Root Cause Analysis",
					ShortTitle:  "Causes",
					Description: "Derive root causes with 5 Whys and a logic tree",
					Goal:        "Find the root cause rather than the surface cause, so recurrence can be prevented.",
					Guide:       "Start from \"why did the fire break out?\" and ask why five times, digging toward the fundamental cause.",
					Context: []domain.ContextItem{
						{
							Type:    "report",
							Source:  "Facilities inspection record",
							Content: "Plant 3 rated capacity: 15,000W. Estimated load on the day: 16,500W (overload). Breaker aging suspected to have prevented overcurrent cutoff. Two of three extinguishers found below pressure and inoperable.",
						},
					},
				},
				{
					ID:          domain.StepSolution,
					Title:       "Stage 4: Solutions",
					ShortTitle:  "Solutions",
					Description: "Plan downstream response and upstream prevention",
					Goal:        "Produce measures that solve the immediate problem and measures that keep it from recurring.",
					Guide:       "Propose immediate production-recovery actions (downstream) separately from equipment and process improvements (upstream).",
				},
				{
					ID:          domain.StepReport,
					Title:       "Stage 5: Final Report",
					ShortTitle:  "Report",
					Description: "Report the outcome to the CEO",
					Goal:        "Write a logical, persuasive report for the decision maker.",
					Guide:       "The final report is assembled from your entries. Review the content and submit.",
				},
			},
			InfoCards:        infoCards,
			TimeLimitSeconds: app.DefaultTimeLimit,
		},
	}
}
