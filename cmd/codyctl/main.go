package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/danmuck/codyctl/internal/agent"
	"github.com/danmuck/codyctl/internal/install"
	"github.com/danmuck/codyctl/internal/logging"
)

func main() {
	configPath := flag.String("config", "codyctl.toml", "path to the TOML config file")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "codyctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := loadCLIConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if cfg.Agent.BinaryPath == "" {
		dir := cfg.BinaryDir
		if dir == "" {
			cache, err := os.UserCacheDir()
			if err != nil {
				return fmt.Errorf("resolve binary dir: %w", err)
			}
			dir = filepath.Join(cache, "codyctl")
		}
		path, err := install.EnsureBinary(ctx, dir, cfg.AgentVersion)
		if err != nil {
			return err
		}
		cfg.Agent.BinaryPath = path
	}

	a, err := agent.Start(ctx, cfg.Agent)
	if err != nil {
		return err
	}
	defer a.Close()

	chat, err := a.NewChat(ctx)
	if err != nil {
		return err
	}
	if cfg.Model != "" {
		if err := chat.SetModel(ctx, cfg.Model); err != nil {
			return fmt.Errorf("set model: %w", err)
		}
	}
	if len(cfg.ContextRepos) > 0 {
		if err := chat.SetContextRepos(ctx, cfg.ContextRepos); err != nil {
			return err
		}
	}

	return repl(ctx, chat, cfg.EnhancedContext)
}

// repl reads one prompt per line from stdin and prints the agent's answer.
func repl(ctx context.Context, chat *agent.Chat, enhancedContext bool) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := scanner.Text()
		if text == "" {
			continue
		}
		answer, err := chat.Answer(ctx, text, enhancedContext)
		if err != nil {
			return err
		}
		fmt.Println(answer)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
