package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hooksbot/client/internal/api"
	"github.com/hooksbot/client/internal/config"
	"github.com/hooksbot/client/internal/model"
	"github.com/hooksbot/client/internal/notify"
	"github.com/hooksbot/client/internal/task"
)

type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	var (
		scriptPath string
		csvPath    string
		videoPaths stringList
		voiceID    string
		apiKey     string
		parallel   int
		outPath    string
	)

	flag.StringVar(&scriptPath, "script", "", "script file (required)")
	flag.StringVar(&csvPath, "csv", "", "input CSV file (required)")
	flag.Var(&videoPaths, "video", "video file, repeatable (at least one required)")
	flag.StringVar(&voiceID, "voice", "", "voice id (required)")
	flag.StringVar(&apiKey, "api-key", "", "speech synthesis API key (required)")
	flag.IntVar(&parallel, "parallel", 0, "parallel processing factor (default from config)")
	flag.StringVar(&outPath, "out", "hooks_output.zip", "where to save the result bundle")
	flag.Parse()

	if scriptPath == "" || csvPath == "" || len(videoPaths) == 0 || voiceID == "" || apiKey == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(scriptPath, csvPath, videoPaths, voiceID, apiKey, parallel, outPath); err != nil {
		log.Fatalf("hooksctl: %v", err)
	}
}

func run(scriptPath, csvPath string, videoPaths []string, voiceID, apiKey string, parallel int, outPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if parallel <= 0 {
		parallel = cfg.Task.DefaultParallel
	}

	svc := api.NewClient(cfg.Server.BaseURL, cfg.Server.HTTPTimeout())

	// transitions carries every state change; the main loop below is the
	// only consumer of terminal states.
	transitions := make(chan model.JobState, 16)

	coord := task.New(svc, task.Listener{
		OnStateChange: func(from, to model.JobState) {
			log.Printf("state: %s -> %s", from, to)
			transitions <- to
		},
		OnProgress: func(progress float64, step string) {
			fmt.Printf("\r%6.2f%%  %-50s", progress, step)
		},
		OnResult: func(item model.ResultItem) {
			fmt.Printf("\n  ready: %s (%s)\n", item.Name, item.URI)
		},
		OnNotice: func(message string) {
			fmt.Printf("\n%s\n", message)
		},
	}, task.Options{
		CancelGrace:  cfg.Task.CancelGraceDuration(),
		DiagInterval: cfg.Task.DiagIntervalDuration(),
	})
	defer coord.Close()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dialCancel()
	channel, err := notify.Dial(dialCtx, cfg.Server.WebSocketURL,
		notify.WithDisconnectHandler(func(err error) {
			log.Printf("notification channel disconnected: %v", err)
		}),
	)
	if err != nil {
		return err
	}
	defer channel.Close()

	detach := coord.Attach(channel)
	defer detach()

	sub, closeFiles, err := buildSubmission(scriptPath, csvPath, videoPaths, voiceID, apiKey, parallel)
	if err != nil {
		return err
	}
	defer closeFiles()

	handle, err := coord.Submit(*sub)
	if err != nil {
		return err
	}
	log.Printf("submitted task %s (%d videos)", handle.ID, len(videoPaths))

	// First interrupt cancels the job; the lifecycle then resolves to
	// idle on its own and the loop below exits.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		fmt.Println("\ncanceling...")
		if err := coord.Cancel(); err != nil && !errors.Is(err, task.ErrNoActiveJob) {
			log.Printf("cancel failed: %v", err)
		}
	}()

	for {
		select {
		case state := <-transitions:
			switch state {
			case model.StateCompleted:
				return finish(coord, svc, outPath)
			case model.StateFailed:
				job := coord.Snapshot()
				_ = coord.Acknowledge()
				return fmt.Errorf("processing failed: %s", job.ErrorMessage)
			case model.StateIdle:
				// Submission failure or resolved cancellation.
				return errors.New("job did not complete")
			}

		case <-channel.Done():
			return errors.New("notification channel closed")
		}
	}
}

func buildSubmission(scriptPath, csvPath string, videoPaths []string, voiceID, apiKey string, parallel int) (*task.Submission, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	open := func(path string) (api.Upload, error) {
		f, err := os.Open(path)
		if err != nil {
			return api.Upload{}, fmt.Errorf("failed to open %s: %w", path, err)
		}
		files = append(files, f)
		return api.Upload{FileName: filepath.Base(path), Content: f}, nil
	}

	script, err := open(scriptPath)
	if err != nil {
		return nil, closeAll, err
	}
	csv, err := open(csvPath)
	if err != nil {
		return nil, closeAll, err
	}
	videos := make([]api.Upload, 0, len(videoPaths))
	for _, p := range videoPaths {
		v, err := open(p)
		if err != nil {
			return nil, closeAll, err
		}
		videos = append(videos, v)
	}

	return &task.Submission{
		Script:   script,
		InputCSV: csv,
		Videos:   videos,
		Params: model.Parameters{
			VoiceID:            voiceID,
			APIKey:             apiKey,
			ParallelProcessing: parallel,
		},
	}, closeAll, nil
}

// finish downloads the result bundle, releases server temp space and
// reports where everything landed.
func finish(coord *task.Coordinator, svc api.JobService, outPath string) error {
	job := coord.Snapshot()
	fmt.Printf("\ncompleted: %d hook(s)\n", len(job.Results))
	for _, r := range job.Results {
		fmt.Printf("  %s  %s\n", r.Name, r.URI)
	}

	if job.BundleRef != "" {
		out, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outPath, err)
		}
		defer out.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := svc.DownloadOutput(ctx, job.BundleRef, out); err != nil {
			return fmt.Errorf("bundle download failed: %w", err)
		}
		fmt.Printf("bundle saved to %s\n", outPath)
	}

	return coord.Reset()
}
