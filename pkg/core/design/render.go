package design

import "fmt"

// Renderer identifies the presentation component responsible for a view
// style. One renderer exists per style; DispatchRenderer is the single
// switch over the closed ViewStyle set, so adding a style without a
// renderer fails here rather than rendering nothing.
type Renderer string

const (
	RendererGallery Renderer = "gallery_view"
	RendererBoard   Renderer = "board_view"
	RendererTable   Renderer = "table_view"
)

// DispatchRenderer maps a view style to its renderer.
func DispatchRenderer(s ViewStyle) (Renderer, error) {
	switch s {
	case StyleGallery:
		return RendererGallery, nil
	case StyleBoard:
		return RendererBoard, nil
	case StyleTable:
		return RendererTable, nil
	default:
		return "", fmt.Errorf("no renderer for view style %q", s)
	}
}
