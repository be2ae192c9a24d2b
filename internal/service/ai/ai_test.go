package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestOpenAI(url string) *OpenAIClient {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: url, TranscriptionModel: "whisper-1", ChatModel: "gpt-test"}, zap.NewNop())
	c.initialDelay = time.Millisecond
	return c
}

func TestTranscribe_ParsesVerboseJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad multipart body: %v", err)
			return
		}
		if r.FormValue("response_format") != "verbose_json" {
			t.Errorf("expected verbose_json")
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if hdr.Filename != "talk.mp3" || string(data) != "AUDIO" {
			t.Errorf("unexpected file %s %q", hdr.Filename, data)
		}
		_, _ = w.Write([]byte(`{"text":" hello world ","language":"english","duration":61.5,"segments":[{"start":0,"end":1.2,"text":" hello"}]}`))
	}))
	defer srv.Close()

	tr, err := newTestOpenAI(srv.URL).Transcribe(context.Background(), "talk.mp3", strings.NewReader("AUDIO"))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "hello world" || tr.DurationSeconds != 61.5 || len(tr.Segments) != 1 {
		t.Errorf("unexpected transcription %+v", tr)
	}
}

func TestSummarize_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
			return
		}
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "gpt-test" || req.ResponseFormat.Type != "json_object" {
			t.Errorf("unexpected request %+v", req)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"summary\":\"short\",\"key_points\":[\"a\",\"b\"]}"}}],"usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	s, err := newTestOpenAI(srv.URL).Summarize(context.Background(), "long text")
	if err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("expected one retry, got %d calls", calls)
	}
	if s.Text != "short" || len(s.KeyPoints) != 2 || s.TokensUsed != 42 {
		t.Errorf("unexpected summary %+v", s)
	}
}

func TestAnalyze_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model"}}`))
	}))
	defer srv.Close()

	_, err := newTestOpenAI(srv.URL).Analyze(context.Background(), "text")
	if err == nil || !strings.Contains(err.Error(), "bad model") {
		t.Fatalf("expected api error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("400 must not be retried, got %d calls", calls)
	}
}

func TestSpeech_StreamsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-1" || r.Header.Get("xi-api-key") != "el-key" {
			t.Errorf("unexpected request %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("MP3DATA"))
	}))
	defer srv.Close()

	c := NewElevenLabsClient(ElevenLabsConfig{APIKey: "el-key", BaseURL: srv.URL, VoiceID: "voice-1"})
	rc, err := c.Speech(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "MP3DATA" {
		t.Errorf("unexpected audio %q", data)
	}
}
