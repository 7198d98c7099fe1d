package manim

// Help is the text returned by get_manim_help.
const Help = `# Manim MCP Server Help

This server allows you to create and run mathematical animations using Manim.

## Available Tools

1. **list_directories**: Browse files in the workspace
2. **write_manim_script**: Save a Manim Python script to a file
3. **render_manim_animation**: Run Manim to generate animations
4. **get_animation_result**: View generated animation files for a specific job
5. **read_file**: Read the contents of a file
6. **get_manim_help**: Show this help information
7. **get_video_url**: Get the HTTP URL of a rendered video

## Typical Workflow

1. Write a Manim script using ` + "`write_manim_script`" + `
2. Render the animation using ` + "`render_manim_animation`" + `
3. View the results using ` + "`get_animation_result`" + ` or ` + "`get_video_url`" + `

Quality levels: low_quality (480p15), medium_quality (720p30),
high_quality (1080p60), production_quality (2160p60).

## Example Manim Script

` + "```python" + `
from manim import *

class ExampleScene(Scene):
    def construct(self):
        circle = Circle(radius=2.0, color=BLUE)
        self.play(Create(circle))
        self.wait(1)

        square = Square(side_length=4.0, color=RED)
        self.play(Transform(circle, square))
        self.wait(1)

        text = Text("Hello, Manim!", font_size=36)
        self.play(Write(text))
        self.wait(2)
` + "```" + `

For more information about Manim, visit: https://www.manim.community/
`
