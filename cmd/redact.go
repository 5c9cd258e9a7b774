package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/pipeline"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/andresmejia3/veil/internal/worker"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	redactOpts   Options
	redactInputs []string
	redactOutput string
)

var redactCmd = &cobra.Command{
	Use:   "redact",
	Short: "Blur or pixelate every detected face in images and videos",
	Long: `Detects faces in each input and writes a redacted copy.

With a single input, --output names the output file (or a directory to write
processed_<name> into). With several inputs, --output is a directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runRedact(cmd.Context(), redactOpts)
	},
}

func init() {
	redactCmd.Flags().StringArrayVarP(&redactInputs, "input", "i", nil, "Path to an input image or video (repeatable)")
	redactCmd.Flags().StringVarP(&redactOutput, "output", "o", "", "Output file, or directory for several inputs (default: $VEIL_OUTPUT_DIR or ./processed)")
	registerEffectFlags(redactCmd.Flags(), &redactOpts)

	redactCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(redactCmd)
}

func runRedact(ctx context.Context, opts Options) error {
	// Create a cancellable context to ensure all child processes (FFmpeg)
	// are killed immediately if this function returns early (e.g. on error).
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	params, err := validateEffectOptions(&opts)
	if err != nil {
		return err
	}

	jobs, err := planRedactJobs(redactInputs, redactOutput, params)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if kind, _ := pipeline.KindOf(job.Input); kind == types.KindVideo {
			if err := utils.CheckInstallation(); err != nil {
				utils.ShowError("FFmpeg is required for video inputs", err, nil)
				return err
			}
			break
		}
	}

	if len(jobs) == 1 {
		return runSingleRedaction(ctx, opts, jobs[0])
	}
	return runBatchRedaction(ctx, opts, jobs)
}

// planRedactJobs validates the inputs and assigns each one an output path.
func planRedactJobs(inputs []string, output string, params config.Params) ([]worker.Job, error) {
	if len(inputs) == 0 {
		err := fmt.Errorf("at least one --input is required")
		utils.ShowError("Configuration Error", err, nil)
		return nil, err
	}

	for _, in := range inputs {
		if err := validateInput(in); err != nil {
			return nil, err
		}
	}

	if len(inputs) == 1 {
		out, err := singleOutputPath(inputs[0], output)
		if err != nil {
			return nil, err
		}
		return []worker.Job{worker.NewJob(inputs[0], out, params)}, nil
	}

	dir := output
	if dir == "" {
		dir = cfg.OutputDir
	}
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		err := fmt.Errorf("%s is a file", dir)
		utils.ShowError("With several inputs --output must be a directory", err, nil)
		return nil, err
	}
	if err := ensureDir(dir); err != nil {
		utils.ShowError("Unable to create output directory", err, nil)
		return nil, err
	}

	jobs := make([]worker.Job, 0, len(inputs))
	seen := make(map[string]string, len(inputs))
	for _, in := range inputs {
		out := outputName(in, dir)
		if prev, dup := seen[out]; dup {
			err := fmt.Errorf("%s and %s would both be written to %s", prev, in, out)
			utils.ShowError("Conflicting output names", err, nil)
			return nil, err
		}
		seen[out] = in
		jobs = append(jobs, worker.NewJob(in, out, params))
	}
	return jobs, nil
}

func validateInput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			utils.ShowError("Input file does not exist", err, nil)
			return err
		}
		utils.ShowError("Unable to access input file", err, nil)
		return err
	}
	if info.IsDir() {
		err := fmt.Errorf("%s is a directory", path)
		utils.ShowError("Input path is a directory, expected an image or video file", err, nil)
		return err
	}
	if _, ok := pipeline.KindOf(path); !ok {
		err := fmt.Errorf("%w: unsupported media type %q", types.ErrDecode, filepath.Ext(path))
		utils.ShowError("Unsupported input", err, nil)
		return err
	}
	return nil
}

// singleOutputPath resolves --output for one input. The output must be the
// same kind of media as the input and must not overwrite it.
func singleOutputPath(input, output string) (string, error) {
	switch {
	case output == "":
		if err := ensureDir(cfg.OutputDir); err != nil {
			utils.ShowError("Unable to create output directory", err, nil)
			return "", err
		}
		output = outputName(input, cfg.OutputDir)
	default:
		if info, err := os.Stat(output); err == nil && info.IsDir() {
			output = outputName(input, output)
		}
	}

	inKind, _ := pipeline.KindOf(input)
	outKind, ok := pipeline.KindOf(output)
	if !ok || outKind != inKind {
		err := fmt.Errorf("%w: cannot write %s output to %q", types.ErrEncode, inKind, filepath.Ext(output))
		utils.ShowError("Unsupported output", err, nil)
		return "", err
	}

	// Safety Check: Prevent overwriting input file which causes corruption
	if samePath(input, output) {
		err := fmt.Errorf("input and output paths must be different to prevent file corruption")
		utils.ShowError("Configuration Error", err, nil)
		return "", err
	}
	return output, nil
}

func runSingleRedaction(ctx context.Context, opts Options, job worker.Job) error {
	var bar *progressbar.ProgressBar
	popts := opts.pipelineOptions()
	popts.Hooks = pipeline.Hooks{
		VideoStarted: func(info utils.VideoInfo) {
			total := int64(info.TotalFrames)
			if total <= 0 {
				total = -1 // Trigger spinner mode
			}
			bar = progressbar.NewOptions64(total,
				progressbar.OptionSetDescription("🎭 Redacting"),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
		},
		FrameDone: func(index, faces int) {
			if bar != nil {
				bar.Add(1)
			}
		},
	}

	fmt.Fprintf(os.Stderr, "📼 Processing %s (job %s)\n", job.Input, job.ID.String()[:8])
	started := time.Now()
	res, err := worker.SessionProcessor(popts)(ctx, job)
	if bar != nil {
		bar.Finish()
	}
	recordJob(ctx, worker.Result{Job: job, Result: res, Err: err, Started: started, Finished: time.Now()})

	if err != nil {
		utils.ShowError(describeFailure(err), err, nil)
		return err
	}
	fmt.Fprintf(os.Stderr, "\n✅ Redacted %s -> %s (%d faces)\n", job.Input, res.OutputPath, res.FacesDetected)
	return nil
}

func runBatchRedaction(ctx context.Context, opts Options, jobs []worker.Job) error {
	fmt.Fprintf(os.Stderr, "⚙️  Spawning %d Worker Engines for %d files...\n", opts.NumEngines, len(jobs))

	pool := worker.NewPool(opts.NumEngines, worker.SessionProcessor(opts.pipelineOptions()), log)
	pool.Start(ctx)

	go func() {
		defer pool.Close()
		for _, job := range jobs {
			if err := pool.Submit(ctx, job); err != nil {
				return
			}
		}
	}()

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("🎭 Redacting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	var failed []worker.Result
	faces := 0
	for res := range pool.Results() {
		recordJob(ctx, res)
		bar.Add(1)
		if res.Err != nil {
			failed = append(failed, res)
			continue
		}
		faces += res.Result.FacesDetected
	}
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "📊 REDACTION SUMMARY\n")
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "✅ Succeeded: %d\n", len(jobs)-len(failed))
	fmt.Fprintf(os.Stderr, "👁️  Faces Detected: %d\n", faces)
	for _, res := range failed {
		fmt.Fprintf(os.Stderr, "❌ %s: %v\n", res.Job.Input, res.Err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(failed), len(jobs))
	}
	return nil
}

// describeFailure picks the headline for the error box.
func describeFailure(err error) string {
	switch {
	case errors.Is(err, types.ErrModelLoad):
		return "Failed to load detection model"
	case errors.Is(err, types.ErrInvalidEffect), errors.Is(err, types.ErrInvalidParameter):
		return "Configuration Error"
	case errors.Is(err, types.ErrDecode):
		return "Failed to decode input"
	case errors.Is(err, types.ErrEncode):
		return "Failed to write output"
	case errors.Is(err, context.Canceled):
		return "Interrupted"
	default:
		return "Redaction failed"
	}
}
