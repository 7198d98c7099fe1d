package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gaspardpetit/manim-mcp/internal/config"
	"github.com/gaspardpetit/manim-mcp/internal/logx"
	"github.com/gaspardpetit/manim-mcp/internal/mcpclient"
)

// TestHelperToolServer is not a real test; it is the tool server binary
// spawned by TestToolServerOverStdio.
func TestHelperToolServer(t *testing.T) {
	if os.Getenv("MANIM_MCP_HELPER") != "1" {
		return
	}
	logx.Configure("error")
	cfg := config.ToolConfig{
		ProjectRoot:   os.Getenv("MANIM_PROJECT_ROOT"),
		Container:     "false",
		Python:        "python3",
		RenderTimeout: 10 * time.Second,
		PublicURL:     "http://localhost:8002",
	}
	if err := serve(context.Background(), cfg, os.Stdin, os.Stdout); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

type toolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func callText(t *testing.T, c *mcpclient.Client, name string, args map[string]any) (string, bool) {
	t.Helper()
	resp, err := c.CallTool(context.Background(), name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	if resp.Error != nil {
		t.Fatalf("%s: rpc error %d %s", name, resp.Error.Code, resp.Error.Message)
	}
	var r toolResult
	if err := json.Unmarshal(resp.Result, &r); err != nil {
		t.Fatalf("%s: decode result: %v", name, err)
	}
	if len(r.Content) == 0 {
		t.Fatalf("%s: empty content", name)
	}
	return r.Content[0].Text, r.IsError
}

func TestToolServerOverStdio(t *testing.T) {
	cfg := mcpclient.Config{
		Command: os.Args[0],
		Args:    []string{"-test.run=^TestHelperToolServer$"},
		Env:     []string{"MANIM_MCP_HELPER=1", "MANIM_PROJECT_ROOT=" + t.TempDir()},
	}
	cfg.SetDefaults()
	cfg.InitTimeout = 10 * time.Second
	cfg.CallTimeout = 10 * time.Second
	cfg.StopTimeout = time.Second
	c := mcpclient.New(cfg, mcpclient.NewCommandLauncher(cfg))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.Close(ctx); err != nil {
			t.Errorf("close: %v", err)
		}
	}()

	resp, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatalf("tools/list: %v", err)
	}
	var list struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	if len(list.Tools) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(list.Tools))
	}
	if st := c.Status(); st.ServerName != "manim" {
		t.Fatalf("unexpected server name %q", st.ServerName)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.CallTool(context.Background(), "render_manim_animation", map[string]any{
				"scene_name": "Intro",
				"quality":    "bogus",
			})
			if err != nil {
				errs <- err.Error()
				return
			}
			var r toolResult
			if err := json.Unmarshal(resp.Result, &r); err != nil || len(r.Content) == 0 {
				errs <- "undecodable result " + string(resp.Result)
				return
			}
			if !r.IsError || r.Content[0].Text != "Error: Unknown quality level: bogus" {
				errs <- "unexpected result " + r.Content[0].Text
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}

	if text, isErr := callText(t, c, "write_manim_script", map[string]any{"content": "x = 1", "filename": "a/b.py"}); !isErr || text != "Error: Filename should not include path separators" {
		t.Fatalf("unexpected write result %v %q", isErr, text)
	}
	if text, isErr := callText(t, c, "read_file", map[string]any{"filepath": "/tmp/../etc/passwd"}); !isErr || text != "Error: Path traversal attempts are not allowed" {
		t.Fatalf("unexpected read result %v %q", isErr, text)
	}

	text, isErr := callText(t, c, "write_manim_script", map[string]any{"content": "print('scene')\n", "filename": "scene.py"})
	if isErr {
		t.Fatalf("write failed: %s", text)
	}
	path, _, ok := strings.Cut(strings.TrimPrefix(text, "Successfully wrote script to "), ". You can")
	if !ok {
		t.Fatalf("unexpected write result %q", text)
	}
	if text, isErr := callText(t, c, "read_file", map[string]any{"filepath": path}); isErr || !strings.Contains(text, "print('scene')") {
		t.Fatalf("unexpected read back %v %q", isErr, text)
	}
}
