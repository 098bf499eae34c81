package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/kea/internal/engine"
	"github.com/ChamsBouzaiene/kea/internal/eventlog"
	"github.com/ChamsBouzaiene/kea/internal/prompts"
	"github.com/ChamsBouzaiene/kea/internal/tools"
)

func main() {
	_ = godotenv.Load()

	ctx := context.Background()

	fs := flag.NewFlagSet("kea", flag.ExitOnError)
	workFlag := fs.String("dir", "", "Working directory for tools (default: current directory)")
	streamFlag := fs.Bool("stream", true, "Stream provider output")
	threadFlag := fs.String("thread", "main", "Thread id to resume or create")

	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %v", err)
	}

	env, err := prepareRuntimeEnv(ctx, *workFlag)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer env.Close()

	if err := runREPL(ctx, env, *threadFlag, *streamFlag); err != nil {
		log.Fatalf("repl failed: %v", err)
	}
}

// newAgent builds an agent for the thread, wiring the tool catalog and the
// hot-reloaded approval policy.
func newAgent(ctx context.Context, env *runtimeEnv, threadID string, streaming bool) (*engine.Agent, func(), error) {
	if err := env.Store.EnsureThread(ctx, threadID); err != nil {
		return nil, nil, fmt.Errorf("failed to ensure thread %s: %w", threadID, err)
	}

	prompt, err := prompts.DefaultRegistry().Latest("assistant")
	if err != nil {
		return nil, nil, err
	}

	// The registry is built before the agent, so markers reach the agent's
	// append path through a late-bound closure.
	var agent *engine.Agent
	registry := tools.NewToolRegistry(threadID, tools.Deps{
		WorkDir:  env.WorkDir,
		Store:    env.Store,
		Searcher: env.Searcher,
		LLM:      env.LLM,
		Model:    env.Model,
		RecordMarker: func(ctx context.Context, marker eventlog.SystemMarkerData) error {
			return agent.RecordMarker(ctx, marker)
		},
	})

	agent = engine.NewAgent(engine.AgentConfig{
		ThreadID:     threadID,
		Model:        env.Model,
		SystemPrompt: prompt.Content,
		Streaming:    streaming,
	}, env.Store, env.Searcher, env.LLM, registry, env.Policy.Lists, nil)

	ch, cancel := agent.Subscribe()
	go renderLoop(ch)

	interrupted, err := agent.Recover(ctx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("recovery failed for thread %s: %w", threadID, err)
	}
	if interrupted {
		fmt.Println("-- previous turn was interrupted mid-call; resend your message to retry")
	}
	for _, callID := range agent.PendingApprovals() {
		fmt.Printf("?? pending approval from last session: /approve %s or /deny %s\n", callID, callID)
	}

	return agent, cancel, nil
}

func runREPL(ctx context.Context, env *runtimeEnv, threadID string, streaming bool) error {
	agent, cancel, err := newAgent(ctx, env, threadID, streaming)
	if err != nil {
		return err
	}
	defer func() { cancel() }()

	fmt.Printf("kea ready on thread %s. /approve /deny /abort /search /new /quit\n", agent.ThreadID())

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			if err := agent.HandleUserMessage(ctx, line); err != nil {
				log.Printf("error: %v", err)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return nil

		case "/abort":
			if agent.Abort() {
				fmt.Println("aborting current turn")
			} else {
				fmt.Println("no active turn")
			}

		case "/approve":
			if len(fields) < 2 {
				fmt.Println("usage: /approve <call-id> [always]")
				continue
			}
			decision := eventlog.DecisionAllowOnce
			if len(fields) > 2 && fields[2] == "always" {
				decision = eventlog.DecisionAllowSession
			}
			if err := agent.ResolveApproval(ctx, fields[1], decision, "user"); err != nil {
				log.Printf("approve failed: %v", err)
			}

		case "/deny":
			if len(fields) < 2 {
				fmt.Println("usage: /deny <call-id>")
				continue
			}
			if err := agent.ResolveApproval(ctx, fields[1], eventlog.DecisionDeny, "user"); err != nil {
				log.Printf("deny failed: %v", err)
			}

		case "/search":
			if len(fields) < 2 {
				fmt.Println("usage: /search <query>")
				continue
			}
			query := strings.Join(fields[1:], " ")
			hits, err := env.Searcher.Search(query, "", 10)
			if err != nil {
				log.Printf("search failed: %v", err)
				continue
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				continue
			}
			for _, hit := range hits {
				fmt.Printf("  [%s/%s] %.2f %s\n", hit.ThreadID, hit.Type, hit.Score, clip(hit.Snippet, 120))
			}

		case "/new":
			if agent.Busy() {
				fmt.Println("finish or /abort the current turn first")
				continue
			}
			newID := uuid.NewString()
			next, nextCancel, err := newAgent(ctx, env, newID, streaming)
			if err != nil {
				log.Printf("failed to start thread: %v", err)
				continue
			}
			cancel()
			agent, cancel = next, nextCancel
			fmt.Printf("switched to new thread %s\n", newID)

		default:
			fmt.Printf("unknown command %s\n", fields[0])
		}
	}
}
