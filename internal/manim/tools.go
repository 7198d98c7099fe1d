package manim

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is announced in the initialize response.
const ServerName = "manim"

// NewServer returns an MCP server exposing the workspace tools.
func NewServer(w *Workspace, version string) *server.MCPServer {
	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Write Manim scene scripts, render them and fetch the resulting videos."),
	)
	Register(s, w)
	return s
}

// Register adds the workspace tools to s.
func Register(s *server.MCPServer, w *Workspace) {
	s.AddTool(mcp.NewTool("list_directories",
		mcp.WithDescription("List files and directories in the workspace"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("directory", mcp.Description("Directory path to list"), mcp.DefaultString("/")),
		mcp.WithBoolean("recursive", mcp.Description("Whether to list files recursively"), mcp.DefaultBool(false)),
		mcp.WithBoolean("show_hidden", mcp.Description("Whether to show hidden files"), mcp.DefaultBool(false)),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(w.ListDirectories(
			req.GetString("directory", "/"),
			req.GetBool("recursive", false),
			req.GetBool("show_hidden", false),
		))
	})

	s.AddTool(mcp.NewTool("write_manim_script",
		mcp.WithDescription("Write a Manim script to a file that can be executed"),
		mcp.WithString("content", mcp.Required(), mcp.Description("The Python code for the Manim script")),
		mcp.WithString("filename", mcp.Description("Filename to save the script as"), mcp.DefaultString("ai_generated_manim_script.py")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return result("", invalid("%s", err.Error()))
		}
		return result(w.WriteScript(content, req.GetString("filename", "")))
	})

	s.AddTool(mcp.NewTool("render_manim_animation",
		mcp.WithDescription("Render a Manim animation from a Python script"),
		mcp.WithString("scene_name", mcp.Required(), mcp.Description("Name of the scene class to render")),
		mcp.WithString("filepath", mcp.Description("Path to the Python file with Manim scenes")),
		mcp.WithString("quality",
			mcp.Description("Quality: low_quality, medium_quality, high_quality, or production_quality"),
			mcp.DefaultString("low_quality"),
			mcp.Enum("low_quality", "medium_quality", "high_quality", "production_quality"),
		),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(w.Render(ctx, RenderRequest{
			SceneName: req.GetString("scene_name", ""),
			Filepath:  req.GetString("filepath", ""),
			Quality:   req.GetString("quality", "low_quality"),
		}))
	})

	s.AddTool(mcp.NewTool("get_animation_result",
		mcp.WithDescription("Get the animation results for a specific job ID"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID returned from the render_manim_animation function")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(w.AnimationResult(req.GetString("job_id", "")))
	})

	s.AddTool(mcp.NewTool("read_file",
		mcp.WithDescription("Read the contents of a file"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to the file to read")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		p, err := req.RequireString("filepath")
		if err != nil {
			return result("", invalid("%s", err.Error()))
		}
		return result(w.ReadFile(p))
	})

	s.AddTool(mcp.NewTool("get_manim_help",
		mcp.WithDescription("Get help information about using Manim with this MCP server"),
		mcp.WithReadOnlyHintAnnotation(true),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(Help), nil
	})

	s.AddTool(mcp.NewTool("get_video_url",
		mcp.WithDescription("Get the direct URL to access a rendered video file"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("The job ID returned from the render_manim_animation function")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return result(w.VideoURL(req.GetString("job_id", "")))
	})
}

// result turns a tool outcome into text. Failures stay in-band as an error
// result prefixed with "Error: " so the protocol exchange itself succeeds.
func result(text string, err error) (*mcp.CallToolResult, error) {
	if err == nil {
		return mcp.NewToolResultText(text), nil
	}
	var ext *ExternalToolError
	if errors.As(err, &ext) && ext.Report != "" {
		return mcp.NewToolResultError(ext.Report), nil
	}
	return mcp.NewToolResultError("Error: " + err.Error()), nil
}
