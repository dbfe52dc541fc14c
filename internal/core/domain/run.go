package domain

import "time"

// Stage names a step of the generation pipeline.
type Stage string

const (
	StageInitialized        Stage = "initialized"
	StageBaseSceneGenerated Stage = "base_scene_generated"
	StageTerrainAcquired    Stage = "terrain_acquired"
	StageTerrainProcessed   Stage = "terrain_processed"
	StageStructuresAligned  Stage = "structures_aligned"
	StageFinalized          Stage = "finalized"
)

// Stages lists the pipeline stages in execution order.
var Stages = []Stage{
	StageInitialized,
	StageBaseSceneGenerated,
	StageTerrainAcquired,
	StageTerrainProcessed,
	StageStructuresAligned,
	StageFinalized,
}

// RunStatus is the outcome of a generation run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// StructureKind distinguishes buildings from telecom infrastructure.
type StructureKind string

const (
	KindBuilding StructureKind = "building"
	KindTelecom  StructureKind = "telecom"
)

// SkippedStructure records a structure excluded from the final scene.
type SkippedStructure struct {
	ID     string        `json:"id"`
	Kind   StructureKind `json:"kind"`
	Reason string        `json:"reason"`
}

// RunReport summarises a generation run.
type RunReport struct {
	ID                 string             `json:"id"`
	Bounds             Bounds             `json:"bounds"`
	Status             RunStatus          `json:"status"`
	Stage              Stage              `json:"stage"`
	FailedStage        Stage              `json:"failed_stage,omitempty"`
	Error              string             `json:"error,omitempty"`
	ReferenceElevation float64            `json:"reference_elevation"`
	TerrainVertices    int                `json:"terrain_vertices"`
	TerrainFaces       int                `json:"terrain_faces"`
	BuildingsAligned   int                `json:"buildings_aligned"`
	TelecomAligned     int                `json:"telecom_aligned"`
	Skipped            []SkippedStructure `json:"skipped,omitempty"`
	Outputs            []string           `json:"outputs,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at,omitempty"`
}

// RunEvent is published while a run progresses.
type RunEvent struct {
	RunID string    `json:"run_id"`
	Stage Stage     `json:"stage"`
	Time  time.Time `json:"time"`
	Error string    `json:"error,omitempty"`
}
