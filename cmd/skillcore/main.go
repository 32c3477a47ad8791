// Command skillcore is a demo CLI that loads skills from disk and runs one
// to completion against a scripted LLM backend, printing its event stream.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/skillcore/engine/pkg/config"
	"github.com/skillcore/engine/pkg/event"
	"github.com/skillcore/engine/pkg/llm"
	"github.com/skillcore/engine/pkg/masking"
	"github.com/skillcore/engine/pkg/orchestrator"
	"github.com/skillcore/engine/pkg/skill"
	"github.com/skillcore/engine/pkg/tool"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	skillsDir := flag.String("skills-dir", getEnv("SKILLCORE_SKILLS_DIR", "./skills"), "directory containing skill subdirectories")
	configDir := flag.String("config-dir", getEnv("SKILLCORE_CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	skillName := flag.String("skill", "", "name of the skill to run")
	request := flag.String("request", "", "user request passed to the skill")
	visibility := flag.String("visibility", "detail", "event visibility level: summary|detail|full")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	if *skillName == "" {
		slog.Error("--skill is required")
		os.Exit(1)
	}

	loader := skill.NewFileLoader()
	if err := loader.Load(*skillsDir, skill.SourceProject); err != nil {
		slog.Error("failed to load skills", "dir", *skillsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("loaded skills", "count", len(loader.Names()), "names", loader.Names())

	registry := tool.NewRegistry(demoTools()...)
	bus := event.New()
	masker := masking.NewService()
	platform := loadPlatform(*configDir)

	o := &orchestrator.Orchestrator{
		Loader:   loader,
		Registry: registry,
		LLM:      demoLLM(),
		Bus:      bus,
		Masking:  masker,
		Guardrails: &orchestrator.Guardrails{
			MaxConcurrentAgents: 3,
			AgentTimeout:        2 * time.Minute,
			MaxBudgetUSD:        5.0,
		},
		PlatformConfig: platform.Overlay(),
		Limiter:        platform.NewIterationLimiter(),
	}

	taskID := uuid.NewString()
	vis := parseVisibility(*visibility)
	events := bus.Subscribe(taskID, vis)

	done := make(chan struct{})
	go printEvents(events, done)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := o.Execute(ctx, orchestrator.Request{
		SkillName:   *skillName,
		UserRequest: *request,
		TaskID:      taskID,
		SessionID:   uuid.NewString(),
	})
	<-done
	bus.CloseTask(taskID)

	if err != nil {
		slog.Error("execution failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("\noutcome: %s\n", result.Outcome)
	if result.FinalAnswer != "" {
		fmt.Printf("final answer: %s\n", result.FinalAnswer)
	}
	for _, p := range result.PartialResults {
		fmt.Printf("partial: %s\n", p)
	}
}

func parseVisibility(s string) event.Visibility {
	switch s {
	case "summary":
		return event.Summary
	case "full":
		return event.Full
	default:
		return event.Detail
	}
}

func printEvents(events <-chan event.Event, done chan<- struct{}) {
	defer close(done)
	for evt := range events {
		switch evt.Kind {
		case event.KindStatus:
			fmt.Printf("[status] %s\n", evt.State)
		case event.KindMessage:
			fmt.Printf("[message] %s\n", evt.Message)
			for _, p := range evt.Parts {
				fmt.Printf("  %s: %s\n", p.Kind, p.Content)
			}
		case event.KindError:
			fmt.Printf("[error] %s: %s\n", evt.ErrorKind, evt.Message)
		case event.KindDone:
			fmt.Printf("[done] %s\n", evt.FinalState)
			return
		}
	}
}

// demoLLM returns a scripted backend illustrating one tool call followed
// by a final answer. Swapping in a real backend means implementing
// llm.Client against a provider SDK — out of scope for this demo.
func demoLLM() llm.Client {
	return llm.NewStubClient(
		llm.Response{Text: "Action: echo\nAction Input: {\"text\": \"hello from skillcore\"}"},
		llm.Response{Text: "Final Answer: task complete"},
	)
}

// loadPlatform reads platform.yaml from configDir if present; a missing
// file is not an error for the demo CLI, it just means every knob falls
// through to the skill metadata and built-in default layers, and no
// iteration rate limiter is constructed.
func loadPlatform(configDir string) *config.Platform {
	path := filepath.Join(configDir, "platform.yaml")
	platform, err := config.Load(path)
	if err != nil {
		if errors.Is(err, config.ErrConfigNotFound) {
			slog.Info("no platform.yaml found, using built-in defaults", "path", path)
		} else {
			slog.Warn("failed to load platform.yaml, using built-in defaults", "path", path, "error", err)
		}
		return &config.Platform{}
	}
	return platform
}

type echoTool struct{}

func (echoTool) Name() string { return "echo" }
func (echoTool) Schema() []tool.Param {
	return []tool.Param{{Name: "text", Kind: tool.KindString, Required: true}}
}
func (echoTool) Execute(ctx context.Context, args map[string]any, deadline time.Time) (*tool.Result, error) {
	text, _ := args["text"].(string)
	return &tool.Result{Success: true, Value: text}, nil
}

func demoTools() []tool.Tool {
	return []tool.Tool{echoTool{}}
}
