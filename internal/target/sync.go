package target

import (
	"fmt"
	"math"
	"strings"
	"time"

	"platesolver/internal/astrometry"
)

// DefaultMatchRadiusDeg is the coordinate proximity threshold.
const DefaultMatchRadiusDeg = 0.5

// BestName selects the display name for a result by annotation priority:
// Messier, then NGC, then IC, then the first annotation carrying any name.
// A field with no named annotations gets a synthesized name from the
// calibration center.
func BestName(result *astrometry.Result) string {
	byCategory := func(cat astrometry.Category) string {
		for _, ann := range result.Annotations {
			if ann.Category == cat && len(ann.Names) > 0 && ann.Names[0] != "" {
				return ann.Names[0]
			}
		}
		return ""
	}
	for _, cat := range []astrometry.Category{astrometry.CategoryMessier, astrometry.CategoryNGC, astrometry.CategoryIC} {
		if name := byCategory(cat); name != "" {
			return name
		}
	}
	for _, ann := range result.Annotations {
		if len(ann.Names) > 0 && ann.Names[0] != "" {
			return ann.Names[0]
		}
	}
	return fmt.Sprintf("Field RA%.2f", result.Calibration.RA)
}

// annotationNames collects every name across the result's annotations,
// deduplicated case-insensitively while keeping first-seen order and casing.
func annotationNames(result *astrometry.Result) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, ann := range result.Annotations {
		for _, name := range ann.Names {
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			names = append(names, name)
		}
	}
	return names
}

// InferType classifies the field by keyword search over the result's tags.
func InferType(tags []string) Type {
	for _, tag := range tags {
		lower := strings.ToLower(tag)
		switch {
		case strings.Contains(lower, "galaxy"):
			return TypeGalaxy
		case strings.Contains(lower, "nebula"),
			strings.Contains(lower, "emission"),
			strings.Contains(lower, "planetary"):
			return TypeNebula
		case strings.Contains(lower, "cluster"),
			strings.Contains(lower, "globular"):
			return TypeCluster
		}
	}
	return TypeOther
}

// CreateTargetFromResult builds a new catalog entry for a solved field. The
// result is never mutated. fileID, when non-empty, seeds the image list.
func CreateTargetFromResult(result *astrometry.Result, fileID string) *Target {
	name := BestName(result)
	var aliases []string
	for _, candidate := range annotationNames(result) {
		if !strings.EqualFold(candidate, name) {
			aliases = append(aliases, candidate)
		}
	}

	ra := result.Calibration.RA
	dec := result.Calibration.Dec
	now := time.Now().UTC()
	t := &Target{
		ID:      newID(),
		Name:    name,
		Aliases: aliases,
		Type:    InferType(result.Tags),
		RA:      &ra,
		Dec:     &dec,
		Status:  StatusAcquiring,
		Created: now,
		Changes: []Change{{Time: now, Message: "created from plate solve"}},
	}
	if fileID != "" {
		t.ImageIDs = []string{fileID}
	}
	return t
}

// FindMatchingTarget returns the catalog entry the result belongs to, or nil.
// Three passes run in order: exact best-name match against a target's name or
// aliases, then any intersection between the result's annotation names and a
// target's names, then coordinate proximity. A name hit always wins over a
// geometrically closer coordinate hit.
func FindMatchingTarget(targets []Target, result *astrometry.Result) *Target {
	best := strings.ToLower(BestName(result))
	for i := range targets {
		if targetHasName(&targets[i], best) {
			return &targets[i]
		}
	}

	names := annotationNames(result)
	for i := range targets {
		for _, name := range names {
			if targetHasName(&targets[i], strings.ToLower(name)) {
				return &targets[i]
			}
		}
	}

	for i := range targets {
		t := &targets[i]
		if t.RA == nil || t.Dec == nil {
			continue
		}
		if IsCoordinateMatch(*t.RA, *t.Dec, result.Calibration.RA, result.Calibration.Dec, DefaultMatchRadiusDeg) {
			return t
		}
	}
	return nil
}

func targetHasName(t *Target, lower string) bool {
	if strings.ToLower(t.Name) == lower {
		return true
	}
	for _, alias := range t.Aliases {
		if strings.ToLower(alias) == lower {
			return true
		}
	}
	return false
}

// IsCoordinateMatch reports whether two sky positions fall within radiusDeg
// of each other under a small-angle tangent-plane approximation: the RA delta
// is scaled by cos(dec1) before the Euclidean norm. Accuracy degrades near
// the celestial poles; good enough for catalog matching, not astrometry.
func IsCoordinateMatch(ra1, dec1, ra2, dec2, radiusDeg float64) bool {
	if radiusDeg <= 0 {
		radiusDeg = DefaultMatchRadiusDeg
	}
	dRA := (ra1 - ra2) * math.Cos(dec1*math.Pi/180)
	dDec := dec1 - dec2
	return math.Sqrt(dRA*dRA+dDec*dDec) <= radiusDeg
}
