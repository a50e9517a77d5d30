package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hooksbot/client/internal/api"
	"github.com/hooksbot/client/internal/model"
)

func testParams() model.Parameters {
	return model.Parameters{VoiceID: "voice-1", APIKey: "key-1", ParallelProcessing: 8}
}

func submitRequest(taskID string) *api.SubmitRequest {
	return &api.SubmitRequest{
		TaskID:   taskID,
		Script:   api.Upload{FileName: "script.txt", Content: strings.NewReader("hello")},
		InputCSV: api.Upload{FileName: "input.csv", Content: strings.NewReader("a,b")},
		Videos: []api.Upload{
			{FileName: "one.mp4", Content: strings.NewReader("vvv1")},
			{FileName: "two.mp4", Content: strings.NewReader("vvv2")},
		},
		Params: testParams(),
	}
}

func TestSubmitJobSendsFormContract(t *testing.T) {
	var seen struct {
		taskID   string
		voiceID  string
		parallel string
		videos   []string
		script   string
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/process", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(32<<20))

		seen.taskID = r.FormValue("task_id")
		seen.voiceID = r.FormValue("voice_id")
		seen.parallel = r.FormValue("parallel_processing")

		for _, fh := range r.MultipartForm.File["video"] {
			seen.videos = append(seen.videos, fh.Filename)
		}
		if files := r.MultipartForm.File["script"]; len(files) == 1 {
			f, err := files[0].Open()
			require.NoError(t, err)
			data, _ := io.ReadAll(f)
			f.Close()
			seen.script = string(data)
		}

		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	require.NoError(t, c.SubmitJob(context.Background(), submitRequest("task-42")))

	assert.Equal(t, "task-42", seen.taskID)
	assert.Equal(t, "voice-1", seen.voiceID)
	assert.Equal(t, "8", seen.parallel)
	assert.Equal(t, []string{"one.mp4", "two.mp4"}, seen.videos)
	assert.Equal(t, "hello", seen.script)
}

func TestSubmitJobSynchronousRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "voice_id is required"}`))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	err := c.SubmitJob(context.Background(), submitRequest("task-1"))

	var rej *api.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, "voice_id is required", rej.Reason)
}

func TestSubmitJobAbort(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		io.Copy(io.Discard, r.Body)
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	// An endless body keeps the transfer in flight until the abort.
	req := submitRequest("task-1")
	req.Videos = []api.Upload{{FileName: "big.mp4", Content: neverEndingReader{}}}

	c := api.NewClient(srv.URL, 5*time.Second)
	err := c.SubmitJob(ctx, req)
	require.ErrorIs(t, err, context.Canceled)
}

type neverEndingReader struct{}

func (neverEndingReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'x'
	}
	time.Sleep(time.Millisecond)
	return len(p), nil
}

func TestSubmitJobHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway timeout", http.StatusGatewayTimeout)
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	err := c.SubmitJob(context.Background(), submitRequest("task-1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.Canceled)
}

func TestCancelTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cancel_task", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "task-9", body["task_id"])

		json.NewEncoder(w).Encode(map[string]string{"message": "Task task-9 has been canceled"})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	msg, err := c.CancelTask(context.Background(), "task-9")
	require.NoError(t, err)
	assert.Equal(t, "Task task-9 has been canceled", msg)
}

func TestDeleteTempFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/delete_temp_files", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"message": "deleted"})
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	msg, err := c.DeleteTempFiles(context.Background(), "task-9")
	require.NoError(t, err)
	assert.Equal(t, "deleted", msg)
}

func TestDownloadOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download_output", r.URL.Path)
		require.Equal(t, "task-1/output.zip", r.URL.Query().Get("zip_path"))
		w.Write([]byte("zipbytes"))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	var buf bytes.Buffer
	require.NoError(t, c.DownloadOutput(context.Background(), "task-1/output.zip", &buf))
	assert.Equal(t, "zipbytes", buf.String())
}

func TestDownloadAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/download_all", r.URL.Path)

		var body map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, []string{"/files/task-1/a.mp4"}, body["video_paths"])

		w.Write([]byte("bundle"))
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	var buf bytes.Buffer
	require.NoError(t, c.DownloadAll(context.Background(), []string{"/files/task-1/a.mp4"}, &buf))
	assert.Equal(t, "bundle", buf.String())
}

func TestDownloadOutputHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bundle not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := api.NewClient(srv.URL, 5*time.Second)
	err := c.DownloadOutput(context.Background(), "nope.zip", io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
