package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/osvaldoandrade/captureq/internal/codec"
	"github.com/osvaldoandrade/captureq/pkg/app"
	"github.com/osvaldoandrade/captureq/pkg/config"
)

// openApp builds the same component graph the server runs, pointed at the
// configured Redis, for commands that act on the queues directly.
func openApp(g *globals, logs io.Writer) (*app.Application, error) {
	cfg, err := config.LoadConfigOptional(g.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.NewApplication(cfg, app.WithLogOutput(logs))
}

type enqueueFlags struct {
	id         string
	url        string
	document   string
	userAgent  string
	referer    string
	proxy      string
	engine     string
	device     string
	listing    bool
	listingSet bool
	priority   int
	bucket     string
	notQueued  bool
	timeoutSec int
}

func (f enqueueFlags) fields() (map[string]string, error) {
	fields := map[string]string{}
	switch {
	case f.document != "":
		raw, err := os.ReadFile(f.document)
		if err != nil {
			return nil, errors.Wrap(err, "read document")
		}
		fields[codec.FieldDocument] = string(raw)
		fields[codec.FieldDocumentName] = filepath.Base(f.document)
	case f.url != "":
		fields[codec.FieldURL] = f.url
	default:
		return nil, errors.New("--url or --document is required")
	}
	set := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	set(codec.FieldUserAgent, f.userAgent)
	set(codec.FieldReferer, f.referer)
	set(codec.FieldProxy, f.proxy)
	set(codec.FieldBrowserEngine, f.engine)
	set(codec.FieldDeviceName, f.device)
	if f.listingSet {
		fields[codec.FieldListing] = strconv.FormatBool(f.listing)
	}
	if f.priority != 0 {
		fields[codec.FieldPriority] = strconv.Itoa(f.priority)
	}
	if f.timeoutSec > 0 {
		fields[codec.FieldGeneralTimeout] = strconv.Itoa(f.timeoutSec)
	}
	if f.notQueued {
		fields[codec.FieldNotQueued] = "1"
	}
	return fields, nil
}

func enqueueCmd(g *globals, ui *ui) *cobra.Command {
	var f enqueueFlags
	cmd := &cobra.Command{
		Use:     "enqueue",
		Short:   "Write a capture request to the queue, as a producer would",
		Example: "captureq enqueue --url 'hxxps://example[.]com' --priority 5 --bucket ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.listingSet = cmd.Flags().Changed("listing")
			fields, err := f.fields()
			if err != nil {
				return err
			}
			id := f.id
			if id == "" {
				id = uuid.NewString()
			}
			a, err := openApp(g, io.Discard)
			if err != nil {
				return err
			}
			defer a.Redis.Close()

			if err := a.Repo.Enqueue(cmd.Context(), id, fields, float64(f.priority), f.bucket); err != nil {
				return err
			}
			fmt.Printf("%s Capture enqueued: %s\n", ui.ok("[OK]"), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.id, "uuid", "", "Capture uuid (generated when empty)")
	cmd.Flags().StringVar(&f.url, "url", "", "URL to capture; defanged forms are accepted")
	cmd.Flags().StringVar(&f.document, "document", "", "Local file to capture instead of a URL")
	cmd.Flags().StringVar(&f.userAgent, "user-agent", "", "User agent")
	cmd.Flags().StringVar(&f.referer, "referer", "", "Referer")
	cmd.Flags().StringVar(&f.proxy, "proxy", "", "Proxy URL")
	cmd.Flags().StringVar(&f.engine, "engine", "", "Browser engine: chromium, firefox, webkit")
	cmd.Flags().StringVar(&f.device, "device", "", "Device name to emulate")
	cmd.Flags().BoolVar(&f.listing, "listing", true, "List the capture publicly (server default when unset)")
	cmd.Flags().IntVar(&f.priority, "priority", 0, "Priority; higher is claimed first")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "Producer bucket for queue accounting")
	cmd.Flags().BoolVar(&f.notQueued, "not-queued", false, "Flag the capture as never handed to the backend")
	cmd.Flags().IntVar(&f.timeoutSec, "timeout", 0, "General timeout in seconds")
	return cmd
}

func drainCmd(g *globals, ui *ui) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Process pending captures in this process until the queue is empty",
		RunE: func(cmd *cobra.Command, args []string) error {
			var logs io.Writer = io.Discard
			if verbose {
				logs = os.Stderr
			}
			a, err := openApp(g, logs)
			if err != nil {
				return err
			}
			defer a.Redis.Close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			stats, err := a.Repo.QueueStats(ctx)
			if err != nil {
				return err
			}
			bar := progressbar.NewOptions64(stats.Pending,
				progressbar.OptionSetDescription("Capturing"),
				progressbar.OptionSetWidth(24),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)
			processed, err := drainQueue(ctx, a.Consumer, func() { _ = bar.Add(1) })
			_ = bar.Finish()
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			if ctx.Err() != nil {
				fmt.Println(ui.warn("[WARN]"), "Interrupted")
			}
			fmt.Printf("%s %d capture(s) processed\n", ui.ok("[OK]"), processed)
			if a.TracingShutdown != nil {
				_ = a.TracingShutdown(context.Background())
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Stream service logs to stderr")
	return cmd
}

type oneShot interface {
	ProcessOne(ctx context.Context) (bool, error)
}

func drainQueue(ctx context.Context, c oneShot, tick func()) (int, error) {
	n := 0
	for ctx.Err() == nil {
		ok, err := c.ProcessOne(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
		tick()
	}
	return n, ctx.Err()
}
