package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/pixelforge/remedy/internal/agent"
	"github.com/pixelforge/remedy/internal/lifecycle"
	"github.com/pixelforge/remedy/internal/queue"
	"github.com/pixelforge/remedy/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the remediation engine",
	Long: `Run the remediation engine: rebuild the work queue from storage,
then start the worker pool. Workers claim automation-eligible reports,
invoke the configured coding agent, and drive reports through
verification. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		engine, err := lifecycle.NewEngine(store)
		if err != nil {
			return err
		}

		agentClient, err := agent.NewSubprocessClient(agent.SubprocessConfig{
			Command:    cfg.AgentCommand,
			Args:       cfg.AgentArgs,
			WorkingDir: cfg.AgentWorkingDir,
			Timeout:    cfg.AgentTimeout,
		})
		if err != nil {
			return err
		}

		q := queue.New(cfg.QueueMaxDepth)
		requeued, err := q.Rebuild(ctx, store, cfg.MaxAttempts)
		if err != nil {
			return fmt.Errorf("failed to rebuild queue: %w", err)
		}

		pool, err := worker.New(&worker.Config{
			Store:               store,
			Engine:              engine,
			Queue:               q,
			Agent:               agentClient,
			Workers:             cfg.WorkerCount,
			MaxConcurrentAgents: int64(cfg.MaxConcurrentAgents),
			MaxAttempts:         cfg.MaxAttempts,
			BackoffBase:         cfg.BackoffBase,
			BackoffCap:          cfg.BackoffCap,
			SpawnRate:           rate.Limit(cfg.AgentSpawnRate),
			SpawnBurst:          cfg.AgentSpawnBurst,
			HeartbeatPeriod:     cfg.HeartbeatPeriod,
		})
		if err != nil {
			return err
		}

		if err := pool.Start(ctx); err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("%s\n", cyan("=== remedy engine ==="))
		fmt.Printf("Instance: %s\n", pool.InstanceID())
		fmt.Printf("Agent:    %s (timeout %v)\n", cfg.AgentCommand, cfg.AgentTimeout)
		fmt.Printf("Workers:  %d (max %d concurrent agents, %d attempts per report)\n",
			cfg.WorkerCount, cfg.MaxConcurrentAgents, cfg.MaxAttempts)
		fmt.Printf("Rebuilt:  %d reports requeued from storage\n", requeued)
		fmt.Println("Press Ctrl+C to stop")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		q.Close()
		if err := pool.Stop(ctx); err != nil {
			return err
		}
		fmt.Println("Stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
