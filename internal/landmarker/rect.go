package landmarker

import (
	"fmt"
	"math"

	"github.com/andresmejia3/landmarker/internal/formats"
)

// Rect is a region in normalized image coordinates.
type Rect struct {
	Left, Top, Right, Bottom float32
}

// ImageProcessingOptions adjusts how one image is fed to the engine.
type ImageProcessingOptions struct {
	// RegionOfInterest is not supported by face landmarking and must be nil.
	RegionOfInterest *Rect
	// RotationDegrees is applied clockwise before processing. Multiple of 90.
	RotationDegrees int
}

// normalizedRect converts ipo into the rect fed on the NORM_RECT input. A nil
// ipo selects the full, unrotated image.
func normalizedRect(ipo *ImageProcessingOptions) (formats.NormalizedRect, error) {
	rect := formats.NormalizedRect{XCenter: 0.5, YCenter: 0.5, Width: 1, Height: 1}
	if ipo == nil {
		return rect, nil
	}
	if ipo.RegionOfInterest != nil {
		return rect, fmt.Errorf("%w: face landmarking does not support a region of interest", ErrInvalidArgument)
	}
	if ipo.RotationDegrees%90 != 0 {
		return rect, fmt.Errorf("%w: rotation must be a multiple of 90 degrees, got %d", ErrInvalidArgument, ipo.RotationDegrees)
	}
	// The engine expects counter-clockwise radians.
	rect.Rotation = float32(-float64(ipo.RotationDegrees) * math.Pi / 180)
	return rect, nil
}
