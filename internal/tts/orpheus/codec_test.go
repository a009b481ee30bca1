package orpheus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestHTTPCodec(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/decode" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req decodeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if len(req.Codes) != FrameSize {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Write([]byte{byte(req.Count), 0})
	}))
	defer srv.Close()

	codec := NewHTTPCodec(srv.URL+"/", time.Second)
	pcm, err := codec.Decode(context.Background(), make([]int, FrameSize), 35)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 2 || pcm[0] != 35 {
		t.Fatalf("unexpected pcm %v", pcm)
	}

	pcm, err = codec.Decode(context.Background(), []int{1}, 1)
	if err != nil || pcm != nil {
		t.Fatalf("expected empty result for 204, got %v %v", pcm, err)
	}
}

func TestExecCodec(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	script := filepath.Join(t.TempDir(), "decoder.sh")
	body := "#!/bin/sh\nwhile read -r line; do\n  echo '{\"pcm_base64\":\"AQACAA==\"}'\ndone\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	codec, err := NewExecCodec(script, 5*time.Second, newLogger())
	if err != nil {
		t.Fatalf("new exec codec: %v", err)
	}
	defer codec.Close()

	for i := 0; i < 2; i++ {
		pcm, err := codec.Decode(context.Background(), make([]int, FrameSize), 28+7*i)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if len(pcm) != 4 || pcm[0] != 1 || pcm[2] != 2 {
			t.Fatalf("unexpected pcm %v", pcm)
		}
	}
}

func TestNewExecCodecRejectsEmptyCommand(t *testing.T) {
	if _, err := NewExecCodec("   ", time.Second, nil); err == nil {
		t.Fatal("expected error for empty command")
	}
}
