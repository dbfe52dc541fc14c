package domain

import "log/slog"

// ITUMaterials lists the radio materials known to the ray tracer, in the
// order the material indices refer to.
var ITUMaterials = []string{
	"vacuum",
	"concrete",
	"brick",
	"plasterboard",
	"wood",
	"glass",
	"ceiling_board",
	"chipboard",
	"plywood",
	"marble",
	"floorboard",
	"metal",
	"very_dry_ground",
	"medium_dry_ground",
	"wet_ground",
}

// MaterialConfig selects materials by index into ITUMaterials.
// It only affects appearance, never geometry.
type MaterialConfig struct {
	GroundIdx  int `json:"ground_idx" mapstructure:"ground_idx"`
	RooftopIdx int `json:"rooftop_idx" mapstructure:"rooftop_idx"`
	WallIdx    int `json:"wall_idx" mapstructure:"wall_idx"`
}

// DefaultMaterials returns medium dry ground, brick rooftops and concrete walls.
func DefaultMaterials() MaterialConfig {
	return MaterialConfig{GroundIdx: 13, RooftopIdx: 2, WallIdx: 1}
}

// ResolveMaterial maps an index to a material name, falling back to the
// first entry for unknown indices.
func ResolveMaterial(idx int) string {
	if idx < 0 || idx >= len(ITUMaterials) {
		slog.Warn("invalid material index, using default", "index", idx, "default", ITUMaterials[0])
		return ITUMaterials[0]
	}
	return ITUMaterials[idx]
}
