// Package astrometry is a stateless client for the remote astrometric
// calibration service's REST API.
package astrometry

import (
	"regexp"
	"strings"
)

// Category classifies a recognized object annotation.
type Category string

const (
	CategoryStar    Category = "star"
	CategoryHD      Category = "hd"
	CategoryNGC     Category = "ngc"
	CategoryIC      Category = "ic"
	CategoryMessier Category = "messier"
	CategoryBright  Category = "bright"
	CategoryOther   Category = "other"
)

// messierShortForm matches names like "M 42" or "M42".
var messierShortForm = regexp.MustCompile(`^[Mm]\s?\d+$`)

// NormalizeCategory maps the service's free-text annotation type into the
// fixed category set. Unrecognized text maps to CategoryOther.
func NormalizeCategory(raw string) Category {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(t, "messier") || messierShortForm.MatchString(t):
		return CategoryMessier
	case strings.Contains(t, "ngc"):
		return CategoryNGC
	case strings.Contains(t, "ic"):
		return CategoryIC
	case strings.Contains(t, "hd"):
		return CategoryHD
	case strings.Contains(t, "bright"):
		return CategoryBright
	case strings.Contains(t, "star"):
		return CategoryStar
	case t == "":
		return CategoryOther
	default:
		return CategoryOther
	}
}

// Calibration describes where on the sky a solved image points.
// Angles are degrees; PixScale is arcseconds per pixel.
type Calibration struct {
	RA          float64 `json:"ra"`
	Dec         float64 `json:"dec"`
	Radius      float64 `json:"radius"`
	PixScale    float64 `json:"pixscale"`
	Orientation float64 `json:"orientation"`
	Parity      float64 `json:"parity"`
	WidthDeg    float64 `json:"widthDeg"`
	HeightDeg   float64 `json:"heightDeg"`
}

// Annotation is a recognized celestial object located in a solved image.
// Pixel coordinates are image-relative; Radius is in pixels.
type Annotation struct {
	Category Category `json:"category"`
	Names    []string `json:"names"`
	PixelX   float64  `json:"pixelX"`
	PixelY   float64  `json:"pixelY"`
	Radius   float64  `json:"radius,omitempty"`
}

// Result is the assembled outcome of a successful solve.
// Immutable once attached to a solve.
type Result struct {
	Calibration Calibration  `json:"calibration"`
	Annotations []Annotation `json:"annotations"`
	Tags        []string     `json:"tags"`
}

// SubmissionStatus reports the solver jobs spawned by an upload submission.
type SubmissionStatus struct {
	JobIDs            []int64
	ProcessingStarted string
	UserImageIDs      []int64
}

// JobState is the remote solver's status for a single job.
type JobState string

const (
	JobSolving JobState = "solving"
	JobSuccess JobState = "success"
	JobFailure JobState = "failure"
)

// JobInfo carries the solver's own metadata about a finished job.
type JobInfo struct {
	Status           string
	OriginalFilename string
	Tags             []string
	MachineTags      []string
	ObjectsInField   []string
	Calibration      *Calibration
}

// UploadOptions parameterize file and URL submissions.
type UploadOptions struct {
	SessionToken       string
	ScaleUnits         string
	ScaleLower         float64 // 0 = unset
	ScaleUpper         float64 // 0 = unset
	PubliclyVisible    bool
	AllowCommercialUse bool
}
