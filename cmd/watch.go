package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/pipeline"
	"github.com/andresmejia3/veil/internal/utils"
	"github.com/andresmejia3/veil/internal/worker"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watchOpts   Options
	watchDir    string
	watchOut    string
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a directory and redact every image or video dropped into it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runWatch(cmd.Context(), watchOpts)
	},
}

func init() {
	watchCmd.Flags().StringVarP(&watchDir, "dir", "d", "", "Directory to watch")
	watchCmd.Flags().StringVarP(&watchOut, "out", "o", "", "Directory for redacted files (default: $VEIL_OUTPUT_DIR or ./processed)")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 0, "How long a file must stop changing before it is processed (default: $VEIL_SETTLE or 2s)")
	registerEffectFlags(watchCmd.Flags(), &watchOpts)

	watchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, opts Options) error {
	params, err := validateEffectOptions(&opts)
	if err != nil {
		return err
	}
	if err := validateWatchFlags(); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		utils.ShowError("Failed to create file watcher", err, nil)
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(watchDir); err != nil {
		utils.ShowError("Failed to watch directory", err, nil)
		return err
	}

	pool := worker.NewPool(opts.NumEngines, worker.SessionProcessor(opts.pipelineOptions()), log)
	pool.Start(ctx)

	resultsDone := make(chan struct{})
	go func() {
		defer close(resultsDone)
		for res := range pool.Results() {
			recordJob(ctx, res)
			if res.Err != nil {
				fmt.Fprintf(os.Stderr, "❌ %s: %v\n", res.Job.Input, res.Err)
				continue
			}
			fmt.Fprintf(os.Stderr, "✅ %s -> %s (%d faces, %s)\n",
				res.Job.Input, res.Job.Output, res.Result.FacesDetected, res.Duration().Round(time.Millisecond))
		}
	}()

	ready := make(chan string, opts.NumEngines)
	debounce := newSettler(watchSettle, ready)
	defer debounce.Stop()

	fmt.Fprintf(os.Stderr, "👀 Watching %s (output: %s, engines: %d)\n", watchDir, watchOut, opts.NumEngines)

	watchLoop(ctx, watcher, debounce, ready, func(path string) {
		job := worker.NewJob(path, watchOutputPath(path, watchOut), params)
		log.WithFields(logrus.Fields{"job": job.ID.String(), "input": path}).Debug("Queueing job")
		if err := pool.Submit(ctx, job); err != nil {
			log.WithError(err).WithField("input", path).Warn("Job not queued")
		}
	})

	pool.Close()
	<-resultsDone
	fmt.Fprintln(os.Stderr, "🏁 Watch stopped.")
	return nil
}

// watchLoop routes watcher events into the settler and settled paths into
// submit until ctx is done or the watcher closes.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, s *settler, ready <-chan string, submit func(string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && isWatchCandidate(event.Name) {
				s.Touch(event.Name)
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				s.Forget(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Received file watcher error")
		case path := <-ready:
			submit(path)
		}
	}
}

func validateWatchFlags() error {
	info, err := os.Stat(watchDir)
	if err != nil {
		utils.ShowError("Unable to access watch directory", err, nil)
		return err
	}
	if !info.IsDir() {
		err := fmt.Errorf("%s is not a directory", watchDir)
		utils.ShowError("Invalid watch directory", err, nil)
		return err
	}
	if watchOut == "" {
		watchOut = cfg.OutputDir
	}
	if watchSettle <= 0 {
		watchSettle = cfg.Settle
	}
	if err := ensureDir(watchOut); err != nil {
		utils.ShowError("Unable to create output directory", err, nil)
		return err
	}
	return nil
}

// isWatchCandidate filters events down to supported media that veil did not
// write itself.
func isWatchCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "processed_") || strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := pipeline.KindOf(path)
	return ok
}

// watchOutputPath names the output processed_<uuid>.<ext>, so repeated drops
// of the same file name never collide.
func watchOutputPath(input, outDir string) string {
	return filepath.Join(outDir, fmt.Sprintf("processed_%s%s", uuid.NewString(), strings.ToLower(filepath.Ext(input))))
}

// settler reports a path once it has gone quiet for the settle period.
// Each Touch restarts that path's timer.
type settler struct {
	settle time.Duration
	ready  chan<- string
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]*settleEntry
	stopped bool
}

type settleEntry struct {
	timer *time.Timer
}

func newSettler(settle time.Duration, ready chan<- string) *settler {
	if settle <= 0 {
		settle = config.Load().Settle
	}
	return &settler{
		settle:  settle,
		ready:   ready,
		done:    make(chan struct{}),
		pending: make(map[string]*settleEntry),
	}
}

// Touch records activity on path.
func (s *settler) Touch(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if e, ok := s.pending[path]; ok {
		e.timer.Reset(s.settle)
		return
	}
	e := &settleEntry{}
	e.timer = time.AfterFunc(s.settle, func() { s.fire(path, e) })
	s.pending[path] = e
}

// Forget drops a pending path, e.g. when the file was removed.
func (s *settler) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pending[path]; ok {
		e.timer.Stop()
		delete(s.pending, path)
	}
}

// Pending is the number of paths still settling.
func (s *settler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer and unblocks timers already firing.
func (s *settler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	for path, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, path)
	}
}

func (s *settler) fire(path string, e *settleEntry) {
	s.mu.Lock()
	// A timer re-armed after it already fired must not report twice.
	if s.stopped || s.pending[path] != e {
		s.mu.Unlock()
		return
	}
	delete(s.pending, path)
	s.mu.Unlock()

	select {
	case s.ready <- path:
	case <-s.done:
	}
}
