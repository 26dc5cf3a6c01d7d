package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jacobedelsonuw/visionboard-ai/core"
	"github.com/jacobedelsonuw/visionboard-ai/imagegen"
	"github.com/jacobedelsonuw/visionboard-ai/shutdown"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	save bool
	raw  bool
}

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	opts := generateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Run one prompt through the quality sequence and print each step",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), cfg, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().BoolVar(&opts.save, "save", false, "Store every image in DOWNLOADS_DIR")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "Send the prompt as typed, without the coherence check")
	return cmd
}

func runGenerate(ctx context.Context, out io.Writer, cfg *core.Config, text string, opts generateOptions) error {
	logger, err := newLogger(cfg, io.Discard)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	p, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	var dl *imagegen.Downloader
	if opts.save {
		if dl, err = imagegen.NewDownloader(cfg, p.client); err != nil {
			return err
		}
	}

	pub := imagegen.NewChannelPublisher(64)
	tracker := shutdown.NewOperationTracker()
	orch, err := p.orchestrator(pub, tracker)
	if err != nil {
		return err
	}

	if !opts.raw {
		prepared, replaced := p.sanitizer.Prepare(text, nil)
		if replaced {
			color.New(color.FgYellow).Fprintf(out, "! prompt looks incomplete, using %q instead\n", prepared)
		}
		text = prepared
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := &eventPrinter{out: out, saver: dl, ctx: ctx}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range pub.Events() {
			printer.print(e)
		}
	}()

	color.New(color.FgCyan, color.Bold).Fprintf(out, "━━━ %s ━━━\n", text)
	res := orch.Run(ctx, text)
	<-res.Done()
	pub.Close()
	<-done

	if err := ctx.Err(); err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("no backend produced an image (%d failed attempts)", len(res.Failures))
	}
	return nil
}

// eventPrinter renders orchestrator events as terminal lines.
type eventPrinter struct {
	out   io.Writer
	saver *imagegen.Downloader
	ctx   context.Context
	start time.Time
}

func (p *eventPrinter) print(e imagegen.Event) {
	if p.start.IsZero() {
		p.start = e.Time
	}
	elapsed := color.New(color.FgHiBlack).Sprintf("%6s", e.Time.Sub(p.start).Round(100*time.Millisecond))

	switch e.Kind {
	case imagegen.EventInitial, imagegen.EventUpgrade:
		label, clr := "initial", color.New(color.FgGreen)
		if e.Kind == imagegen.EventUpgrade {
			label, clr = "upgrade", color.New(color.FgBlue)
		}
		img := e.Image
		clr.Fprintf(p.out, "%s ✓ %-7s %-13s %s", elapsed, label, img.Quality, img.Backend)
		fmt.Fprintf(p.out, "  %s\n", describeHandle(img.Handle))
		if p.saver != nil {
			name := fmt.Sprintf("%s_%s", e.SlotID, strings.ToLower(img.Quality.String()))
			if r, err := p.saver.Save(p.ctx, img.Handle, name); err != nil {
				color.New(color.FgRed).Fprintf(p.out, "       └─ save failed: %v\n", err)
			} else {
				color.New(color.FgHiBlack).Fprintf(p.out, "       └─ saved %s\n", r.Path)
			}
		}
	case imagegen.EventNotice:
		for _, r := range e.Reasons {
			color.New(color.FgYellow).Fprintf(p.out, "%s ! %s\n", elapsed, r)
		}
	case imagegen.EventFailed:
		for _, r := range e.Reasons {
			color.New(color.FgRed).Fprintf(p.out, "%s ✗ %s\n", elapsed, r)
		}
	case imagegen.EventCompleted:
		color.New(color.FgHiBlack).Fprintf(p.out, "%s ○ done\n", elapsed)
	}
}

func describeHandle(h *imagegen.ImageHandle) string {
	switch {
	case h == nil:
		return ""
	case h.URL != "":
		return h.URL
	case len(h.Data) > 0:
		return fmt.Sprintf("<%s, %d bytes>", h.MIMEType, len(h.Data))
	default:
		return h.Location()
	}
}
