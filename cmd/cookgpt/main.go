package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/server"
	"github.com/cookgpt/cookgpt/store"
	"github.com/cookgpt/cookgpt/store/db"
)

const version = "0.1.0"

var (
	rootCmd = &cobra.Command{
		Use:   "cookgpt",
		Short: `A cooking assistant you can chat with. Ask for recipes, substitutions and fixes for your dishes.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if viper.GetString("mode") != "prod" {
				// A missing .env is fine.
				_ = godotenv.Load()
			}
			setupLogger(viper.GetString("mode"))
		},
		Run: func(_ *cobra.Command, _ []string) {
			instanceProfile, err := loadProfile()
			if err != nil {
				slog.Error("invalid profile", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithCancel(context.Background())
			storeInstance, err := openStore(ctx, instanceProfile)
			if err != nil {
				cancel()
				slog.Error("failed to open store", "error", err)
				return
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance)
			if err != nil {
				cancel()
				slog.Error("failed to create server", "error", err)
				return
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			// The default signal sent by the `kill` command is SIGTERM,
			// which is taken as the graceful shutdown signal for many systems, eg., Kubernetes, Gunicorn.
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)

			if err := s.Start(ctx); err != nil {
				cancel()
				slog.Error("failed to start server", "error", err)
				return
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(ctx)
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8000)
	viper.SetDefault("queue", "local")
	viper.SetDefault("llm-provider", "fake")
	viper.SetDefault("llm-model", "gpt-3.5-turbo")
	viper.SetDefault("max-chat-cost", 2000)
	viper.SetDefault("worker-concurrency", 4)

	flags := rootCmd.PersistentFlags()
	flags.String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	flags.String("addr", "", "address of server")
	flags.Int("port", 8000, "port of server")
	flags.String("data", "", "data directory")
	flags.String("driver", "sqlite", "database driver: sqlite, mysql or postgres")
	flags.String("dsn", "", "database source name(aka. DSN)")
	flags.String("redis-url", "", "redis url backing the cost cache, stream transport and task queue")
	flags.String("queue", "local", `task queue: "local" or "redis"`)
	flags.String("llm-provider", "fake", "completion provider: openai, anthropic or fake")
	flags.String("llm-model", "gpt-3.5-turbo", "completion model")
	flags.String("llm-api-key", "", "completion provider api key")
	flags.String("llm-base-url", "", "completion provider base url")
	flags.String("jwt-secret", "", "secret signing access tokens")
	flags.Int("max-chat-cost", 2000, "default token budget per thread")
	flags.Int("worker-concurrency", 4, "completions run at once")
	flags.Duration("completion-timeout", 0, "timeout of a single completion")
	flags.Duration("poll-interval", 0, "stream relay poll interval")
	flags.Duration("stream-timeout", 0, "stream relay idle timeout")
	flags.Duration("job-retention", 0, "how long finished stream jobs are kept")

	for _, name := range []string{
		"mode", "addr", "port", "data", "driver", "dsn",
		"redis-url", "queue",
		"llm-provider", "llm-model", "llm-api-key", "llm-base-url",
		"jwt-secret", "max-chat-cost", "worker-concurrency",
		"completion-timeout", "poll-interval", "stream-timeout", "job-retention",
	} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("cookgpt")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(workerCmd, tokenCmd)
}

func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:              viper.GetString("mode"),
		Addr:              viper.GetString("addr"),
		Port:              viper.GetInt("port"),
		Data:              viper.GetString("data"),
		Driver:            viper.GetString("driver"),
		DSN:               viper.GetString("dsn"),
		Version:           version,
		RedisURL:          viper.GetString("redis-url"),
		Queue:             viper.GetString("queue"),
		LLMProvider:       viper.GetString("llm-provider"),
		LLMModel:          viper.GetString("llm-model"),
		LLMAPIKey:         viper.GetString("llm-api-key"),
		LLMBaseURL:        viper.GetString("llm-base-url"),
		JWTSecret:         viper.GetString("jwt-secret"),
		MaxChatCost:       viper.GetInt("max-chat-cost"),
		WorkerConcurrency: viper.GetInt("worker-concurrency"),
		CompletionTimeout: viper.GetDuration("completion-timeout"),
		PollInterval:      viper.GetDuration("poll-interval"),
		StreamTimeout:     viper.GetDuration("stream-timeout"),
		JobRetention:      viper.GetDuration("job-retention"),
	}
	if err := instanceProfile.Validate(); err != nil {
		return nil, err
	}
	return instanceProfile, nil
}

func openStore(ctx context.Context, instanceProfile *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(instanceProfile)
	if err != nil {
		return nil, err
	}
	storeInstance := store.New(dbDriver, instanceProfile)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, err
	}
	return storeInstance, nil
}

func setupLogger(mode string) {
	var handler slog.Handler
	if mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(instanceProfile *profile.Profile) {
	fmt.Printf("CookGPT %s started successfully!\n", instanceProfile.Version)
	if instanceProfile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if instanceProfile.DSN != "" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", instanceProfile.DSN)
		}
	}

	// Server information
	fmt.Printf("Data directory: %s\n", instanceProfile.Data)
	fmt.Printf("Database driver: %s\n", instanceProfile.Driver)
	fmt.Printf("Completion provider: %s (%s)\n", instanceProfile.LLMProvider, instanceProfile.LLMModel)
	fmt.Printf("Task queue: %s\n", instanceProfile.Queue)
	if len(instanceProfile.Addr) == 0 {
		fmt.Printf("Server running on port %d\n", instanceProfile.Port)
		fmt.Printf("Access your cookgpt at: http://localhost:%d\n", instanceProfile.Port)
	} else {
		fmt.Printf("Server running on %s:%d\n", instanceProfile.Addr, instanceProfile.Port)
		fmt.Printf("Access your cookgpt at: http://%s:%d\n", instanceProfile.Addr, instanceProfile.Port)
	}
	fmt.Printf("\nHappy cooking!\n")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
