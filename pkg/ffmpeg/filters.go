package ffmpeg

import (
	"fmt"
)

// CropPixels adds a crop filter with pixel coordinates.
func CropPixels(w, h, x, y int) Option {
	return Filter(fmt.Sprintf("crop=%d:%d:%d:%d", w, h, x, y))
}

// CropExpr adds a crop filter whose x/y positions are ffmpeg expressions,
// used for animated pans where the window position depends on t.
func CropExpr(w, h int, xExpr, yExpr string) Option {
	return Filter(fmt.Sprintf("crop=%d:%d:%s:%s", w, h, xExpr, yExpr))
}

// ScaleFilter represents a scale filter.
type ScaleFilter struct {
	Width  int // Use -1 or -2 for auto-calculate maintaining aspect ratio
	Height int // Use -2 to ensure even dimensions (required for h264)
}

// String returns the ffmpeg filter string.
func (s ScaleFilter) String() string {
	return fmt.Sprintf("scale=%d:%d", s.Width, s.Height)
}

// Scale adds a scale filter.
// Use -2 for width or height to auto-calculate while maintaining aspect ratio
// and ensuring even dimensions (required for h264).
func Scale(width, height int) Option {
	return Filter(ScaleFilter{width, height}.String())
}

// FPS adds an fps filter to change frame rate.
func FPS(rate float64) Option {
	return Filter(fmt.Sprintf("fps=%g", rate))
}

// Subtitles burns in an ASS/SRT subtitle file. The path is escaped for the
// filter graph parser.
func Subtitles(path string) Option {
	return Filter("subtitles=" + EscapeFilterPath(path))
}

// EvenDimensions ensures output dimensions are divisible by 2 (required for h264).
// This should be applied after any crop filter that may produce odd dimensions.
func EvenDimensions() Option {
	return Filter("scale=trunc(iw/2)*2:trunc(ih/2)*2")
}

// EscapeFilterPath escapes a filesystem path for use inside a filter graph
// argument. Colons and quotes are special to the filter parser.
func EscapeFilterPath(path string) string {
	out := make([]rune, 0, len(path))
	for _, r := range path {
		switch r {
		case ':', '\'', '\\', '[', ']', ',', ';':
			out = append(out, '\\', r)
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
