package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajmerced/sherpa-cli/api/schemas"
	"github.com/ajmerced/sherpa-cli/internal/capture"
	"github.com/ajmerced/sherpa-cli/internal/llmclient"
	"github.com/ajmerced/sherpa-cli/internal/observability"
	"github.com/ajmerced/sherpa-cli/internal/orchestrator"
	"github.com/ajmerced/sherpa-cli/internal/recorder"
)

// newGuideCmd creates the `guide` command, the interactive guidance loop.
func newGuideCmd() *cobra.Command {
	guideCmd := &cobra.Command{
		Use:   "guide <goal>",
		Short: "Starts a guided session toward the given goal",
		Long: `Starts an interactive session that watches the screen and proposes one
visual step at a time until the goal is reached.

Inside the session:
  <enter>  mark the current step done and fetch the next one
  check    verify the screen still matches the task
  state    print the session state
  quit     end the session`,
		Args: cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlag("capture.mode", cmd.Flags().Lookup("capture-mode")); err != nil {
				return err
			}
			return viper.BindPFlag("capture.target_url", cmd.Flags().Lookup("target-url"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			goal := strings.TrimSpace(strings.Join(args, " "))
			return runGuideSession(ctx, goal)
		},
	}

	guideCmd.Flags().String("capture-mode", "", "Capture mode: 'browser' or 'synthetic'. (Overrides config/env)")
	guideCmd.Flags().String("target-url", "", "Page URL for browser capture mode. (Overrides config/env)")

	return guideCmd
}

// guideComponents holds the wired session dependencies.
type guideComponents struct {
	Capture  schemas.CapturePort
	Model    schemas.ModelPort
	Recorder schemas.Recorder
	DBPool   *pgxpool.Pool
}

// Shutdown releases browser and database resources.
func (gc *guideComponents) Shutdown() {
	if closer, ok := gc.Capture.(interface{ Close() error }); ok && closer != nil {
		if err := closer.Close(); err != nil {
			observability.GetLogger().Warn("Error during capture shutdown", zap.Error(err))
		}
	}
	if gc.DBPool != nil {
		gc.DBPool.Close()
	}
}

// initializeGuideComponents handles dependency injection for a session.
func initializeGuideComponents(ctx context.Context, logger *zap.Logger) (*guideComponents, error) {
	components := &guideComponents{}

	capturePort, err := capture.New(appConfig.Capture, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture: %w", err)
	}
	components.Capture = capturePort

	modelPort, err := llmclient.NewFromConfig(appConfig.LLM, logger)
	if err != nil {
		return components, fmt.Errorf("failed to initialize LLM router: %w", err)
	}
	components.Model = modelPort

	components.Recorder = recorder.Noop{}
	if appConfig.Database.Enabled {
		dbPool, err := pgxpool.New(ctx, appConfig.Database.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbRecorder, err := recorder.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize session recorder: %w", err)
		}
		components.Recorder = dbRecorder
	}

	return components, nil
}

// sessionUI mirrors the orchestrator's callbacks onto the terminal and
// tracks the step awaiting confirmation.
type sessionUI struct {
	mu         sync.Mutex
	current    *schemas.Instruction
	finished   chan struct{}
	finishOnce sync.Once
}

func newSessionUI() *sessionUI {
	return &sessionUI{finished: make(chan struct{})}
}

func (ui *sessionUI) callbacks() schemas.Callbacks {
	return schemas.Callbacks{
		OnInstruction:     ui.showInstruction,
		OnSessionComplete: ui.showSummary,
		OnError:           ui.showError,
	}
}

func (ui *sessionUI) currentStep() *schemas.Instruction {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	return ui.current
}

func (ui *sessionUI) showInstruction(inst schemas.Instruction) {
	ui.mu.Lock()
	ui.current = &inst
	ui.mu.Unlock()

	kind := "Step"
	if inst.IsSubstep {
		kind = "Back on track"
	}
	fmt.Printf("\n%s: %s\n", kind, inst.Description)
	if inst.Pixel != nil {
		b := inst.Pixel.Box
		fmt.Printf("  Look here: %s %q at (%d,%d) %dx%d\n",
			inst.Shape, inst.Label, b.X, b.Y, b.Width, b.Height)
	}
	if inst.IsFinal {
		fmt.Println("  This is the last step.")
	}
	fmt.Print("> ")
}

func (ui *sessionUI) showSummary(summary schemas.SessionSummary) {
	fmt.Printf("\nDone! %q completed in %d step(s) over %s.\n",
		summary.Goal, summary.TotalSteps, summary.Duration.Round(time.Second))
	ui.finishOnce.Do(func() { close(ui.finished) })
}

func (ui *sessionUI) showError(guideErr *schemas.GuideError) {
	fmt.Printf("\nSomething went wrong (%s): %s\n", guideErr.Stage, guideErr.Message)
	ui.finishOnce.Do(func() { close(ui.finished) })
}

// runGuideSession wires the orchestrator and drives it from stdin.
func runGuideSession(ctx context.Context, goal string) error {
	logger := observability.GetLogger()

	components, err := initializeGuideComponents(ctx, logger)
	if err != nil {
		if components != nil {
			components.Shutdown()
		}
		return fmt.Errorf("failed to initialize session components: %w", err)
	}
	defer components.Shutdown()

	orch, err := orchestrator.New(appConfig.Guide, logger, components.Capture, components.Model, components.Recorder)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	ui := newSessionUI()
	orch.SetCallbacks(ui.callbacks())

	if err := orch.SetGoal(ctx, goal); err != nil {
		return err
	}
	fmt.Printf("Goal: %s\n", goal)
	fmt.Println("Press enter when you finish a step. Type 'help' for commands.")

	orch.RequestNextStep(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return readCommands(gctx, orch, ui)
	})
	g.Go(func() error {
		select {
		case <-ui.finished:
			// Session ended, unblock the reader via stdin close on exit.
			return errSessionOver
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSessionOver) {
		if errors.Is(err, context.Canceled) {
			select {
			case <-ui.finished:
				// Completed normally; the cancellation is just teardown.
			default:
				fmt.Println("\nSession aborted.")
			}
			return nil
		}
		return err
	}
	return nil
}

var errSessionOver = errors.New("session over")

// readCommands consumes stdin line by line until the session ends.
func readCommands(ctx context.Context, orch *orchestrator.Orchestrator, ui *sessionUI) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errSessionOver
			}
			if err := dispatchCommand(ctx, orch, ui, strings.TrimSpace(line)); err != nil {
				return err
			}
		}
	}
}

func dispatchCommand(ctx context.Context, orch *orchestrator.Orchestrator, ui *sessionUI, line string) error {
	switch strings.ToLower(line) {
	case "":
		current := ui.currentStep()
		if current == nil {
			fmt.Println("No step is pending yet.")
			fmt.Print("> ")
			return nil
		}
		if current.IsSubstep {
			orch.MarkSubstepDone(ctx, current.ID)
			return nil
		}
		if err := orch.MarkDone(ctx, current.ID); err != nil {
			fmt.Printf("Could not complete step: %v\n> ", err)
		}
		return nil
	case "check":
		if err := orch.DetectAndHandleOffTask(ctx); err != nil {
			fmt.Printf("Check failed: %v\n", err)
		} else if state := orch.GetState(); state.Status == schemas.StatusInProgress {
			fmt.Println("Checked.")
		}
		fmt.Print("> ")
		return nil
	case "state":
		state := orch.GetState()
		fmt.Printf("Goal: %s\nStatus: %s\nSteps completed: %d\nElapsed: %s\n> ",
			state.Goal, state.Status, state.StepCount, state.Elapsed.Round(time.Second))
		return nil
	case "help":
		fmt.Println("Commands: <enter> = step done, check = off-task check, state = session state, quit = exit")
		fmt.Print("> ")
		return nil
	case "quit", "exit":
		fmt.Println("Ending session.")
		return errSessionOver
	default:
		fmt.Printf("Unknown command %q. Type 'help'.\n> ", line)
		return nil
	}
}
