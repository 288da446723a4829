// Command codeport ports a source project into a destination project in
// another language by letting a language model read the source, write the
// destination and fix build errors until the build check passes.
//
// Usage:
//
//	codeport [-env .env] <source-dir> <destination-dir>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/martinemde/codeport/agentloop"
	"github.com/martinemde/codeport/config"
	"github.com/martinemde/codeport/unifiedllm"
)

func main() {
	envFile := flag.String("env", ".env", "environment file to load before reading settings")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-env file] <source-dir> <destination-dir>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envFile, flag.Arg(0), flag.Arg(1), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, envFile, srcDir, dstDir string, out io.Writer) error {
	if !isDir(srcDir) {
		return errors.New("the source project directory does not exist")
	}
	if !isDir(dstDir) {
		return errors.New("the destination project directory does not exist")
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	prompts, err := cfg.Prompts()
	if err != nil {
		return err
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	src := agentloop.NewProject(srcDir, logger)
	dst := agentloop.NewProject(dstDir, logger)
	registry := agentloop.NewToolRegistry(agentloop.WithRegistryLogger(logger))
	if err := agentloop.RegisterProjectTools(registry, src, dst); err != nil {
		return err
	}

	sessionCfg := agentloop.DefaultSessionConfig()
	sessionCfg.Model = cfg.Model
	sessionCfg.Provider = cfg.Provider
	sessionCfg.DispatchPolicy = cfg.DispatchPolicy()
	sessionCfg.MaxToolRounds = cfg.MaxToolRounds

	session := agentloop.NewSession(client, registry,
		agentloop.BuildSystemPrompt(prompts, src, dst, cfg.Model),
		&sessionCfg,
		agentloop.WithLogger(logger),
	)

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(out, session.Events())
	}()

	checker := agentloop.NewCommandBuildChecker(dst.Root(), cfg.BuildCheckCommand, cfg.BuildCheckTimeout, logger)
	result, err := agentloop.Converge(ctx, session, dst, checker,
		agentloop.ConvergenceConfigFromPrompts(prompts, cfg.MaxFixIterations, logger))

	session.Close()
	<-printed

	if result != nil {
		usage := session.Usage()
		logger.Info("run finished",
			slog.String("outcome", string(result.Outcome)),
			slog.Int("iterations", result.Iterations),
			slog.Int("build_checks", result.BuildChecks),
			slog.Int("total_tokens", usage.TotalTokens),
		)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "==== Result ====\n%s after %d iteration(s)\n", result.Outcome, result.Iterations)
	return nil
}

// newClient builds the model client: the OpenAI adapter for "openai", gollm
// for every other provider, with transport retry and request logging.
func newClient(cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	var adapter unifiedllm.ProviderAdapter
	if cfg.Provider == "openai" {
		var opts []unifiedllm.OpenAIOption
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, unifiedllm.WithBaseURL(cfg.OpenAIBaseURL))
		}
		opts = append(opts, unifiedllm.WithDefaultModel(cfg.Model))
		adapter = unifiedllm.NewOpenAIAdapter(cfg.OpenAIAPIKey, opts...)
	} else {
		gollmAdapter, err := unifiedllm.NewGollmAdapter(cfg.Provider, cfg.APIKey, unifiedllm.WithModel(cfg.Model))
		if err != nil {
			return nil, err
		}
		adapter = gollmAdapter
	}

	policy := unifiedllm.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.OnRetry = unifiedllm.LogRetries(logger)

	return unifiedllm.NewClient(
		unifiedllm.WithProvider(cfg.Provider, adapter),
		unifiedllm.WithDefaultProvider(cfg.Provider),
		unifiedllm.WithMiddleware(
			unifiedllm.RetryMiddleware(policy),
			unifiedllm.LoggingMiddleware(logger),
		),
	), nil
}

// printEvents writes each conversation message to out the way an operator
// reads the transcript.
func printEvents(out io.Writer, events <-chan agentloop.SessionEvent) {
	for ev := range events {
		switch ev.Kind {
		case agentloop.EventSystemPrompt:
			dump(out, "System", ev.String("content"))
		case agentloop.EventUserInput:
			dump(out, "User", ev.String("content"))
		case agentloop.EventAssistantText:
			dump(out, "Assistant", ev.String("text"))
		case agentloop.EventToolCallStart:
			dump(out, "Assistant", fmt.Sprintf("%s(%s)", ev.String("tool_name"), ev.String("arguments")))
		case agentloop.EventToolCallEnd:
			if msg := ev.String("error"); msg != "" {
				dump(out, "Function", ev.String("tool_name")+" failed: "+msg)
			} else {
				dump(out, "Function", ev.String("output"))
			}
		case agentloop.EventLoopDetection, agentloop.EventWarning:
			dump(out, "Warning", ev.String("message"))
		case agentloop.EventToolRoundLimit:
			dump(out, "Warning", fmt.Sprintf("tool round limit reached after %v rounds", ev.Data["rounds"]))
		}
	}
}

func dump(out io.Writer, role, text string) {
	fmt.Fprintf(out, "==== %s ====\n%s\n\n", role, text)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
