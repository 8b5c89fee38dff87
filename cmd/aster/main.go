package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/channel"
	"github.com/lunalinkco/aster/internal/config"
	"github.com/lunalinkco/aster/internal/gateway"
	"github.com/lunalinkco/aster/internal/memory"
	"github.com/lunalinkco/aster/internal/mind"
	"github.com/lunalinkco/aster/internal/paint"
	"github.com/lunalinkco/aster/internal/soul"
)

// CognitionFactory creates the cognition layer (allows mocking in tests)
type CognitionFactory func(cfg *config.Config, persona string) (soul.Cognition, func(), error)

func defaultCognitionFactory(cfg *config.Config, persona string) (soul.Cognition, func(), error) {
	if cfg.Provider.APIKey == "" {
		return nil, nil, fmt.Errorf("API key not set. Run 'aster onboard' or set ASTER_API_KEY / ANTHROPIC_API_KEY")
	}
	return mind.New(cfg, persona)
}

// ChatOptions for running the chat command with custom dependencies
type ChatOptions struct {
	CognitionFactory CognitionFactory
	Painter          channel.Painter
	Stdin            io.Reader
	Stdout           io.Writer
	Stderr           io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "aster",
	Short: "aster - a conversational companion with memory and a paintbrush",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + retrieval + compaction)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show aster status",
	RunE:  runStatus,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// runChatWithOptions runs a console conversation with injectable
// dependencies for testing. The console acts as a direct one-on-one
// channel, so every message is treated as addressed to the agent.
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	persona := buildPersona(cfg)

	factory := opts.CognitionFactory
	if factory == nil {
		factory = defaultCognitionFactory
	}
	cog, closeCog, err := factory(cfg, persona)
	if err != nil {
		return err
	}
	defer closeCog()

	engine, err := memory.NewEngine(cfg.Memory.DBPath)
	if err != nil {
		return fmt.Errorf("create memory engine: %w", err)
	}
	defer engine.Close()

	var searcher soul.Searcher
	if cfg.Retrieval.Enabled {
		engine.SetEmbedder(memory.NewEmbedder(cfg))
		searcher = engine
	}

	painter := opts.Painter
	if painter == nil && cfg.Paint.Enabled {
		painter = paint.NewClient(cfg)
	}

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := newConsoleSink(ctx, stdout, stderr, painter)
	s := soul.New(cfg, cog, engine, searcher, sink.Dispatch)
	wm := soul.NewWorkingMemory(persona)
	noPending := func() []bus.Perception { return nil }

	send := func(text string) {
		p := consolePerception(text)
		if searcher != nil {
			_ = engine.AddDocument(ctx, fmt.Sprintf("%s: %s", p.AuthorName, text))
		}
		wm = s.Process(ctx, p, noPending, wm)
		sink.Wait()
	}

	// Single message mode
	if messageFlag != "" {
		send(messageFlag)
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, "aster chat (type 'exit' to quit)")
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}
		send(input)
	}
	return nil
}

// consoleSink delivers actions to the terminal. Actions are handled on
// their own goroutine so reply streams can be drained while the
// composer is still pushing chunks.
type consoleSink struct {
	out     io.Writer
	errw    io.Writer
	painter channel.Painter
	actions chan bus.Action
	wg      sync.WaitGroup
}

func newConsoleSink(ctx context.Context, out, errw io.Writer, painter channel.Painter) *consoleSink {
	c := &consoleSink{
		out:     out,
		errw:    errw,
		painter: painter,
		actions: make(chan bus.Action, config.DefaultBufSize),
	}
	go c.loop(ctx)
	return c
}

func (c *consoleSink) Dispatch(a bus.Action) {
	c.wg.Add(1)
	c.actions <- a
}

// Wait blocks until every dispatched action has been delivered.
func (c *consoleSink) Wait() {
	c.wg.Wait()
}

func (c *consoleSink) loop(ctx context.Context) {
	for {
		select {
		case a := <-c.actions:
			c.handle(ctx, a)
			c.wg.Done()
		case <-ctx.Done():
			return
		}
	}
}

func (c *consoleSink) handle(ctx context.Context, a bus.Action) {
	switch a.Kind {
	case bus.ActionSays:
		chunks, err := a.Content.Chunks()
		if err != nil {
			fmt.Fprintf(c.errw, "Error: %v\n", err)
			return
		}
		printed := false
		for chunk := range chunks {
			fmt.Fprint(c.out, chunk)
			printed = true
		}
		if err := a.Content.Err(); err != nil {
			fmt.Fprintf(c.errw, "\nError: %v\n", err)
			return
		}
		if printed {
			fmt.Fprintln(c.out)
		}
	case bus.ActionPaint:
		if c.painter == nil {
			fmt.Fprintf(c.out, "[imagined painting: %s]\n", a.Meta.Prompt)
			return
		}
		url, err := c.painter.Generate(ctx, a.Meta.Prompt)
		if err != nil {
			fmt.Fprintf(c.errw, "Paint error: %v\n", err)
			return
		}
		fmt.Fprintln(c.out, url)
	}
}

var consoleSeq int

func consolePerception(text string) bus.Perception {
	consoleSeq++
	return bus.Perception{
		Kind:       bus.PerceptionChatted,
		Content:    text,
		AuthorName: "user",
		Meta: bus.Delivery{
			Channel:         "console",
			ChannelID:       "console",
			MessageID:       strconv.Itoa(consoleSeq),
			UserID:          "console",
			UserName:        "user",
			UserDisplayName: "user",
			Timestamp:       time.Now().UnixMilli(),
			Extra:           map[string]any{"direct": true},
		},
		ArrivalOrder: bus.NextArrivalOrder(),
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return fmt.Errorf("API key not set. Run 'aster onboard' or set ASTER_API_KEY / ANTHROPIC_API_KEY")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, _ := config.LoadConfig()
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Printf("Workspace ready: %s\n", ws)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key\n", cfgPath)
	fmt.Println("  2. Or set ASTER_API_KEY environment variable")
	fmt.Println("  3. Run 'aster chat -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Workspace: %s\n", cfg.Agent.Workspace)
	fmt.Printf("Agent: %s\n", cfg.Agent.Name)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	if cfg.Provider.APIKey != "" && len(cfg.Provider.APIKey) > 8 {
		masked := cfg.Provider.APIKey[:4] + "..." + cfg.Provider.APIKey[len(cfg.Provider.APIKey)-4:]
		fmt.Printf("API Key: %s\n", masked)
	} else if cfg.Provider.APIKey != "" {
		fmt.Println("API Key: set")
	} else {
		fmt.Println("API Key: not set")
	}
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("Paint: enabled=%v\n", cfg.Paint.Enabled)
	fmt.Printf("Retrieval: enabled=%v\n", cfg.Retrieval.Enabled)

	if _, err := os.Stat(cfg.Memory.DBPath); err != nil {
		fmt.Println("Memory: not initialized (run 'aster chat' or 'aster gateway')")
		return nil
	}
	engine, err := memory.NewEngine(cfg.Memory.DBPath)
	if err != nil {
		fmt.Printf("Memory: error (%v)\n", err)
		return nil
	}
	defer engine.Close()
	if count, err := engine.DocumentCount(); err == nil {
		fmt.Printf("Memory: %d documents\n", count)
	}

	return nil
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

// buildPersona reads the workspace's SOUL.md, falling back to a
// minimal self-description.
func buildPersona(cfg *config.Config) string {
	if data, err := os.ReadFile(filepath.Join(cfg.Agent.Workspace, "SOUL.md")); err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	return fmt.Sprintf("You are %s, a playful and curious conversationalist.", cfg.Agent.Name)
}

func writeIfNotExists(path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Printf("  Created: %s\n", path)
	}
}

const defaultSoulMD = `# Soul

You are Aster, a curious conversational companion who paints.

Your personality:
- Warm and a little mischievous
- Genuinely interested in the people you talk to
- You love turning vivid moments from a conversation into pictures
`
