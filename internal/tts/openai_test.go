package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAISynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["input"] != "hello" {
			t.Errorf("input = %v", body["input"])
		}
		if body["voice"] != "alloy" {
			t.Errorf("voice = %v", body["voice"])
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer srv.Close()

	p := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", APIBase: srv.URL})
	res, err := p.Synthesize(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Audio) != "mp3-bytes" {
		t.Fatalf("audio = %q", res.Audio)
	}
	if res.Extension != "mp3" || res.MimeType != "audio/mpeg" {
		t.Fatalf("ext=%s mime=%s", res.Extension, res.MimeType)
	}
}

func TestOpenAISynthesizeOpusFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["response_format"] != "opus" {
			t.Errorf("response_format = %v", body["response_format"])
		}
		w.Write([]byte("ogg-bytes"))
	}))
	defer srv.Close()

	p := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", APIBase: srv.URL})
	res, err := p.Synthesize(context.Background(), "hi", Options{Format: "opus"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Extension != "ogg" || res.MimeType != "audio/ogg" {
		t.Fatalf("ext=%s mime=%s", res.Extension, res.MimeType)
	}
}

func TestOpenAISynthesizeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad voice"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", APIBase: srv.URL})
	if _, err := p.Synthesize(context.Background(), "hi", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenAIPrepareRequiresKey(t *testing.T) {
	p := NewOpenAISynthesizer(OpenAIConfig{})
	if err := p.Prepare(context.Background()); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "el-key" {
			t.Errorf("xi-api-key = %q", r.Header.Get("xi-api-key"))
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	p := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "el-key", BaseURL: srv.URL})
	res, err := p.Synthesize(context.Background(), "hello", Options{})
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Audio) != "audio" {
		t.Fatalf("audio = %q", res.Audio)
	}
}
