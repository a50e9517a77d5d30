package e2e

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/hooksbot/client/internal/api"
	"github.com/hooksbot/client/internal/config"
	"github.com/hooksbot/client/internal/model"
	"github.com/hooksbot/client/internal/notify"
	"github.com/hooksbot/client/internal/simserver"
	"github.com/hooksbot/client/internal/task"
)

// testEnv is a running simulator plus a fully wired client stack.
type testEnv struct {
	sim     *simserver.Server
	svc     *api.Client
	channel *notify.Channel
	coord   *task.Coordinator

	states  chan model.JobState
	notices chan string
	results chan model.ResultItem
}

// setupEnv starts the simulator on an ephemeral port and connects a real
// client to it over HTTP and websocket, the way hooksctl does.
func setupEnv(t *testing.T, stepDelayMS int) *testEnv {
	t.Helper()

	sim, err := simserver.New(config.SimConfig{
		BodyLimit: 50,
		StepDelay: stepDelayMS,
	})
	if err != nil {
		t.Fatalf("failed to create simulator: %v", err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go sim.Serve(ln)
	t.Cleanup(func() { sim.Shutdown() })

	baseURL := "http://" + ln.Addr().String()
	wsURL := "ws://" + ln.Addr().String() + "/ws"

	env := &testEnv{
		sim:     sim,
		svc:     api.NewClient(baseURL, 10*time.Second),
		states:  make(chan model.JobState, 64),
		notices: make(chan string, 64),
		results: make(chan model.ResultItem, 64),
	}

	env.coord = task.New(env.svc, task.Listener{
		OnStateChange: func(from, to model.JobState) { env.states <- to },
		OnNotice:      func(message string) { env.notices <- message },
		OnResult:      func(item model.ResultItem) { env.results <- item },
	}, task.Options{
		CancelGrace:  5 * time.Second,
		DiagInterval: 100 * time.Millisecond,
	})
	t.Cleanup(env.coord.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	env.channel, err = notify.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("failed to dial notification channel: %v", err)
	}
	t.Cleanup(func() { env.channel.Close() })

	detach := env.coord.Attach(env.channel)
	t.Cleanup(detach)

	return env
}

// submission builds an in-memory job request with the given video names.
func submission(videoNames ...string) task.Submission {
	videos := make([]api.Upload, 0, len(videoNames))
	for _, name := range videoNames {
		videos = append(videos, api.Upload{
			FileName: name,
			Content:  strings.NewReader("fake video bytes for " + name),
		})
	}
	return task.Submission{
		Script:   api.Upload{FileName: "script.txt", Content: strings.NewReader("the script")},
		InputCSV: api.Upload{FileName: "input.csv", Content: strings.NewReader("hook,line")},
		Videos:   videos,
		Params: model.Parameters{
			VoiceID:            "voice-e2e",
			APIKey:             "key-e2e",
			ParallelProcessing: 4,
		},
	}
}

// waitState consumes transitions until the wanted state appears.
func (env *testEnv) waitState(t *testing.T, want model.JobState, timeout time.Duration) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case got := <-env.states:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (now %s)", want, env.coord.Snapshot().State)
		}
	}
}

// waitResult blocks until one result arrives.
func (env *testEnv) waitResult(t *testing.T, timeout time.Duration) model.ResultItem {
	t.Helper()
	select {
	case item := <-env.results:
		return item
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a result")
		return model.ResultItem{}
	}
}
