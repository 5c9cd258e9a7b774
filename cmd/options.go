package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/pipeline"
	"github.com/andresmejia3/veil/internal/store"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/andresmejia3/veil/internal/worker"
	"github.com/spf13/pflag"
)

// Options holds shared configuration for the redact and watch commands.
type Options struct {
	Effect       string
	Model        string
	BlurStrength int
	PixelSize    int
	NumEngines   int
	DebugDir     string
	VideoCodec   string
	// Set holds extra key=value named parameters, applied after the flags.
	Set []string
}

// registerEffectFlags binds the redaction flags shared by redact and watch.
func registerEffectFlags(fs *pflag.FlagSet, opts *Options) {
	fs.StringVar(&opts.Effect, "effect", config.DefaultEffect, "Redaction effect: blur, pixelate")
	fs.StringVarP(&opts.Model, "model", "m", config.DefaultModel, "Detection model: haar_default, haar_alt, haar_alt2, haar_profile")
	fs.IntVarP(&opts.BlurStrength, "strength", "s", config.DefaultBlurStrength, "Gaussian kernel size (rounded up to odd)")
	fs.IntVar(&opts.PixelSize, "pixel-size", config.DefaultPixelSize, "Pixelation divisor (higher = bigger blocks)")
	fs.IntVarP(&opts.NumEngines, "engines", "e", 1, "Number of files processed in parallel")
	fs.StringVar(&opts.DebugDir, "debug-dir", "", "Save annotated snapshots of sampled frames to this directory")
	fs.StringVar(&opts.VideoCodec, "codec", "", "ffmpeg video encoder (default: $VEIL_VIDEO_CODEC or mpeg4)")
	fs.StringArrayVar(&opts.Set, "set", nil, "Extra named parameter as key=value (e.g. --set pixel_size=12)")
}

// params converts the flags into named parameters.
func (o Options) params() (config.Params, error) {
	raw := map[string]interface{}{
		config.ParamEffect:       o.Effect,
		config.ParamModel:        o.Model,
		config.ParamBlurStrength: o.BlurStrength,
		config.ParamPixelSize:    o.PixelSize,
	}
	for _, kv := range o.Set {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return config.Params{}, fmt.Errorf("%w: --set %q is not key=value", types.ErrInvalidParameter, kv)
		}
		raw[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return config.FromParams(raw)
}

// pipelineOptions builds the Session settings common to every job.
func (o Options) pipelineOptions() pipeline.Options {
	codec := o.VideoCodec
	if codec == "" {
		codec = cfg.VideoCodec
	}
	return pipeline.Options{
		CascadeDir: cascadeDir,
		VideoCodec: codec,
		DebugDir:   o.DebugDir,
		Logger:     log,
	}
}

// validateEffectOptions rejects settings that would fail every job, before
// any file is touched.
func validateEffectOptions(opts *Options) (config.Params, error) {
	if opts.NumEngines < 1 {
		opts.NumEngines = 1
	}
	params, err := opts.params()
	if err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return config.Params{}, err
	}
	if _, err := types.ParseEffect(params.Effect); err != nil {
		utils.ShowError("Configuration Error", err, nil)
		return config.Params{}, err
	}
	return params, nil
}

// recordJob writes a finished job to the ledger if one is configured.
// Ledger failures are reported but never fail the job.
func recordJob(ctx context.Context, res worker.Result) {
	if DB == nil {
		return
	}
	job := res.Job
	rec := store.JobRecord{
		ID:            job.ID,
		InputPath:     job.Input,
		OutputPath:    job.Output,
		Effect:        job.Params.Effect,
		Model:         job.Params.Model().ExternalName(),
		BlurStrength:  job.Params.BlurStrength,
		PixelSize:     job.Params.PixelSize,
		FacesDetected: res.Result.FacesDetected,
		Status:        store.StatusDone,
		StartedAt:     res.Started,
		FinishedAt:    res.Finished,
	}
	if kind, ok := pipeline.KindOf(job.Input); ok {
		rec.Kind = kind
	}
	if res.Err != nil {
		rec.Status = store.StatusFailed
		rec.Error = res.Err.Error()
	}

	// Detach from cancellation so a Ctrl+C still lets the outcome reach the ledger.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if mediaID, err := utils.GenerateMediaID(job.Input); err == nil {
		if err := DB.RegisterMedia(ctx, mediaID, job.Input, rec.Kind); err == nil {
			rec.MediaID = mediaID
		} else {
			log.WithError(err).Warn("Failed to register media")
		}
	}
	if err := DB.RecordJob(ctx, rec); err != nil {
		log.WithError(err).WithField("job", job.ID.String()).Warn("Failed to record job")
	}
}

// outputName is the processed_<name> file written for an input inside dir.
func outputName(input, dir string) string {
	return filepath.Join(dir, "processed_"+filepath.Base(input))
}

// samePath reports whether two paths resolve to the same file.
func samePath(a, b string) bool {
	aAbs, errA := filepath.Abs(a)
	bAbs, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return aAbs == bAbs
}

func ensureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", path, err)
	}
	return nil
}
