package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/promptdesk/pkg/app"
	"github.com/go-go-golems/promptdesk/pkg/capabilities"
	"github.com/go-go-golems/promptdesk/pkg/conversation"
	"github.com/go-go-golems/promptdesk/pkg/events"
	"github.com/go-go-golems/promptdesk/pkg/execution"
)

var rootCmd = &cobra.Command{
	Use:   "promptdesk",
	Short: "Multi-turn conversation engine demo: send, stream, regenerate, navigate versions",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.Flags().String("model", "", "Backend model (OpenAI), empty for the provider default")
	rootCmd.Flags().String("prompt", "Tell me a short fact about lighthouses.", "Prompt to send")
	rootCmd.Flags().String("context", "", "Context text attached to the first turn")
	rootCmd.Flags().StringSlice("image", nil, "Image files or URLs to attach to the prompt")
	rootCmd.Flags().Bool("streaming", true, "Request streamed responses")
	rootCmd.Flags().Int("max-tabs", 10, "Maximum tabs per window")
	rootCmd.Flags().Bool("verbose", false, "Verbose event router logging")
	_ = viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("PROMPTDESK")
	viper.AutomaticEnv()
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	return nil
}

// printerHandler echoes streaming deltas to w as they flow over the topic.
func printerHandler(w io.Writer) func(msg *message.Message) error {
	return func(msg *message.Message) error {
		defer msg.Ack()
		e, err := events.NewEventFromJson(msg.Payload)
		if err != nil {
			return nil
		}
		switch ev := e.(type) {
		case *events.EventPartialCompletion:
			_, _ = fmt.Fprint(w, ev.Delta)
		case *events.EventFinal:
			_, _ = fmt.Fprintln(w)
		case *events.EventInterrupt:
			_, _ = fmt.Fprintln(w, " [interrupted]")
		}
		return nil
	}
}

func newRunner(store capabilities.SettingsStore) execution.Runner {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		log.Info().Str("model", store.DefaultModel()).Msg("using OpenAI backend")
		return execution.NewOpenAIRunner(apiKey, store.DefaultModel())
	}
	log.Info().Msg("OPENAI_API_KEY not set, using scripted backend")
	return &execution.FakeRunner{
		Chunks: []string{
			"Lighthouse lamps ", "were once fueled ", "by whale oil ",
			"before electrification.",
		},
		Delay: 40 * time.Millisecond,
	}
}

func run(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	store := capabilities.NewViperStore(viper.GetViper())

	routerOptions := []events.EventRouterOption{}
	if viper.GetBool("verbose") {
		routerOptions = append(routerOptions, events.WithVerbose(true))
	}
	router, err := events.NewEventRouter(routerOptions...)
	if err != nil {
		return errors.Wrap(err, "failed to create event router")
	}
	defer func() {
		_ = router.Close()
	}()

	router.AddHandler("printer", "chat", printerHandler(cmd.OutOrStdout()))

	shell := app.NewShell(router,
		app.WithMaxTabs(store.MaxTabs()),
		app.WithUseStreaming(store.UseStreaming()),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	window, err := shell.OpenWindow(ctx, "main", newRunner(store))
	if err != nil {
		return err
	}
	defer func() {
		_ = shell.CloseWindow("main")
	}()

	eg := errgroup.Group{}
	eg.Go(func() error {
		defer cancel()
		return router.Run(ctx)
	})
	eg.Go(func() error {
		err := window.Pump(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		defer cancel()
		<-router.Running()
		return demo(ctx, cmd.OutOrStdout(), window, store)
	})

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// demo drives one conversation end to end: send the prompt, wait for the
// streamed result, regenerate a second version, then navigate back to the
// first. Every state mutation goes through the window's event loop.
func demo(ctx context.Context, out io.Writer, window *app.Window, store capabilities.SettingsStore) error {
	state := window.State

	// do runs f on the window loop and waits for it to finish.
	do := func(f func()) error {
		done := make(chan struct{})
		window.Deliver(func() {
			defer close(done)
			f()
		})
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	send := func(input execution.TurnInput, regenerate bool) error {
		var handle *execution.Handle
		var execErr error
		if err := do(func() {
			handle, execErr = window.Execute(ctx, input, true, regenerate)
		}); err != nil {
			return err
		}
		if execErr != nil {
			return execErr
		}
		if _, err := handle.Wait(); err != nil {
			log.Warn().Err(err).Msg("execution failed, error committed as result text")
		}
		// the result delivery is queued before Wait returns; this barrier
		// lets it land
		return do(func() {})
	}

	var images []*conversation.ImageContent
	for _, path := range viper.GetStringSlice("image") {
		img, err := conversation.NewImageContentFromFile(path)
		if err != nil {
			return errors.Wrapf(err, "failed to attach image %s", path)
		}
		images = append(images, img)
	}

	prompt := viper.GetString("prompt")
	if err := do(func() {
		state.Input.Undo.SetText(prompt)
		state.Input.Undo.Flush()
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "user: %s\nassistant: ", prompt)
	if err := send(execution.TurnInput{
		Text:        prompt,
		Images:      images,
		ContextText: viper.GetString("context"),
	}, false); err != nil {
		return err
	}

	fmt.Fprint(out, "regenerating: ")
	if err := do(func() {}); err != nil {
		return err
	}
	var regenerateInput execution.TurnInput
	if err := do(func() {
		regenerateInput = execution.TurnInput{
			Displayed: state.Output.Undo.Text(),
			UndoState: state.Output.Undo.Snapshot(),
		}
	}); err != nil {
		return err
	}
	if err := send(regenerateInput, true); err != nil {
		return err
	}

	return do(func() {
		current, total := state.VersionInfo()
		fmt.Fprintf(out, "version %d of %d: %s\n", current, total, state.Turns.Last().SelectedOutput())

		if state.VersionPrev() {
			current, total = state.VersionInfo()
			fmt.Fprintf(out, "version %d of %d: %s\n", current, total, state.Output.Undo.Text())
		}
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
