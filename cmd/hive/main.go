package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hivemind-ai/hive/agent"
	"github.com/hivemind-ai/hive/bus"
	"github.com/hivemind-ai/hive/capability"
	"github.com/hivemind-ai/hive/internal/profile"
	"github.com/hivemind-ai/hive/internal/version"
	"github.com/hivemind-ai/hive/llm"
	"github.com/hivemind-ai/hive/orchestrator"
	"github.com/hivemind-ai/hive/store"
	"github.com/hivemind-ai/hive/store/db/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: `A multi-agent orchestration engine. Decompose objectives into task graphs and execute them with role-specialized LLM workers.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		if !isRunningAsSystemdService() {
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		dbDriver, err := sqlite.NewDB(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return err
		}
		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return err
		}

		llmClient := llm.NewClient(instanceProfile)
		invoker, err := capability.NewManager(instanceProfile.CapabilityDir, llmClient)
		if err != nil {
			slog.Error("failed to load capabilities", "dir", instanceProfile.CapabilityDir, "error", err)
			return err
		}

		messageBus := bus.New()
		defer messageBus.Close()
		registry := agent.NewRegistry(messageBus, invoker)

		engine, err := orchestrator.New(ctx, instanceProfile, storeInstance, messageBus, registry)
		if err != nil {
			slog.Error("failed to create orchestrator", "error", err)
			return err
		}

		if addr := viper.GetString("metrics-addr"); addr != "" {
			go serveMetrics(addr)
		}

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. SIGTERM is what
		// most process managers send first.
		signal.Notify(c, terminationSignals...)
		go func() {
			<-c
			slog.Info("shutting down")
			cancel()
		}()

		printGreetings(instanceProfile)

		if prompt := viper.GetString("prompt"); prompt != "" {
			taskID, err := engine.ExecuteAgentTask(ctx, prompt, viper.GetString("agent"), viper.GetString("model"))
			if err != nil {
				slog.Error("failed to submit task", "error", err)
				cancel()
				return err
			}
			fmt.Printf("Submitted task %s\n", taskID)
		}

		return engine.Run(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println(version.StringFull())
	},
}

func init() {
	viper.SetDefault("mode", "demo")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("agent", "PlannerAgent")
	viper.SetDefault("model", "deepseek/deepseek-chat")

	rootCmd.PersistentFlags().String("mode", "demo", `mode of the engine, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "address to serve Prometheus metrics on, empty disables")
	rootCmd.PersistentFlags().String("prompt", "", "prompt to submit as a task on startup")
	rootCmd.PersistentFlags().String("agent", "PlannerAgent", "agent to execute the startup prompt with")
	rootCmd.PersistentFlags().String("model", "deepseek/deepseek-chat", "LLM model for the startup prompt")

	for _, key := range []string{"mode", "data", "driver", "dsn", "metrics-addr", "prompt", "agent", "model"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("hive")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	rootCmd.AddCommand(versionCmd)
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("Hive %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database: %s\n", profile.DSN)
	fmt.Printf("Capability directory: %s\n", profile.CapabilityDir)
	fmt.Printf("Mode: %s\n", profile.Mode)

	providers := make([]string, 0, len(profile.Providers))
	for name := range profile.Providers {
		providers = append(providers, name)
	}
	fmt.Printf("LLM providers: %s\n", strings.Join(providers, ", "))
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
