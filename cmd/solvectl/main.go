// solvectl drives plate solves from the command line against the same
// pipeline the service runs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"platesolver/internal/astrometry"
	"platesolver/internal/config"
	"platesolver/internal/credentials"
	"platesolver/internal/session"
	"platesolver/internal/solve"
)

type cliOptions struct {
	keyFile     string
	customURL   string
	imageURL    string
	scaleUnits  string
	scaleLower  float64
	scaleUpper  float64
	quiet       bool
	pollSeconds int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "solvectl",
		Short:         "Plate-solve astrophotography images via a remote solver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.keyFile, "key-file", defaultKeyFile(), "path to the solver API key file")
	root.PersistentFlags().StringVar(&opts.customURL, "server", "", "custom solver URL (default: nova.astrometry.net)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")

	root.AddCommand(newSolveCmd(opts))
	root.AddCommand(newKeyCmd(opts))
	return root
}

func defaultKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".solvectl-key"
	}
	return filepath.Join(home, ".config", "solvectl", "api-key")
}

func newSolveCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "solve [file]",
		Short: "Solve a local image file or a remote image URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filePath string
			if len(args) == 1 {
				filePath = args[0]
			}
			if (filePath == "") == (opts.imageURL == "") {
				return fmt.Errorf("pass exactly one of a file argument or --url")
			}
			return runSolve(cmd.Context(), opts, filePath)
		},
	}
	cmd.Flags().StringVar(&opts.imageURL, "url", "", "solve a remote image URL instead of a file")
	cmd.Flags().StringVar(&opts.scaleUnits, "scale-units", string(config.ScaleDegWidth), "scale units: degwidth, arcminwidth or arcsecperpix")
	cmd.Flags().Float64Var(&opts.scaleLower, "scale-lower", 0, "lower field scale bound (0 = unset)")
	cmd.Flags().Float64Var(&opts.scaleUpper, "scale-upper", 0, "upper field scale bound (0 = unset)")
	cmd.Flags().IntVar(&opts.pollSeconds, "poll-interval", 5, "seconds between status polls")
	return cmd
}

func newKeyCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the stored solver API key",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <api-key>",
		Short: "Store the solver API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewFileStore(opts.keyFile)
			if err != nil {
				return err
			}
			if err := store.Save(args[0]); err != nil {
				return err
			}
			fmt.Println("API key stored in", opts.keyFile)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print whether an API key is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewFileStore(opts.keyFile)
			if err != nil {
				return err
			}
			key, err := store.Get()
			if err != nil {
				return err
			}
			if key == "" {
				fmt.Println("No API key stored")
				return nil
			}
			fmt.Printf("API key stored (%d characters)\n", len(key))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := credentials.NewFileStore(opts.keyFile)
			if err != nil {
				return err
			}
			if err := store.Delete(); err != nil {
				return err
			}
			fmt.Println("API key deleted")
			return nil
		},
	})

	return cmd
}

func runSolve(parent context.Context, opts *cliOptions, filePath string) error {
	if opts.quiet {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}

	cfg := config.LoadSolverConfig()
	cfg.ScaleUnits = config.ScaleUnits(opts.scaleUnits)
	cfg.ScaleLower = opts.scaleLower
	cfg.ScaleUpper = opts.scaleUpper
	if opts.pollSeconds > 0 {
		cfg.PollInterval = time.Duration(opts.pollSeconds) * time.Second
	}
	if opts.customURL != "" {
		cfg.UseCustomServer = true
		cfg.CustomServerURL = opts.customURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := credentials.NewFileStore(opts.keyFile)
	if err != nil {
		return err
	}

	client := astrometry.NewClient(astrometry.Options{
		ReadTimeout:   cfg.ReadTimeout,
		UploadTimeout: cfg.UploadTimeout,
	})
	orchestrator := solve.NewOrchestrator(solve.Options{
		Transport: client,
		Sessions:  session.NewManager(client, store, cfg),
		Config:    cfg,
	})

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	req := solve.Request{ID: fmt.Sprintf("cli-%d", time.Now().Unix())}
	if filePath != "" {
		req.FilePath = filePath
	} else {
		req.ImageURL = opts.imageURL
	}

	patches, err := orchestrator.StartSolve(ctx, req)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			orchestrator.Cancel(req.ID)
			<-drain(patches)
			return fmt.Errorf("interrupted")
		case patch, ok := <-patches:
			if !ok {
				return nil
			}
			if !opts.quiet {
				fmt.Printf("%-10s %3d%%\n", patch.Status, patch.Progress)
			}
			if !patch.Status.Terminal() {
				continue
			}
			switch patch.Status {
			case solve.StatusSuccess:
				printResult(patch)
				return nil
			case solve.StatusCancelled:
				return fmt.Errorf("solve cancelled")
			default:
				return fmt.Errorf("%s (%s)", patch.Error, patch.ErrorCode)
			}
		}
	}
}

// drain consumes remaining patches so the pipeline can emit its terminal
// patch and close the channel.
func drain(patches <-chan solve.Patch) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range patches {
		}
	}()
	return done
}

func printResult(patch solve.Patch) {
	r := patch.Result
	if r == nil {
		return
	}
	fmt.Printf("Center:      RA %.4f°, Dec %.4f°\n", r.Calibration.RA, r.Calibration.Dec)
	fmt.Printf("Field:       %.3f° x %.3f° (radius %.3f°)\n", r.Calibration.WidthDeg, r.Calibration.HeightDeg, r.Calibration.Radius)
	fmt.Printf("Pixel scale: %.3f arcsec/px, orientation %.1f°\n", r.Calibration.PixScale, r.Calibration.Orientation)
	if len(r.Tags) > 0 {
		fmt.Println("Objects:")
		for _, tag := range r.Tags {
			fmt.Println("  -", tag)
		}
	}
}
