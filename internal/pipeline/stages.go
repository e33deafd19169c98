// Package pipeline implements the resumable stage sequencer for NarraForge.
package pipeline

// Stage is one fixed step of the production pipeline. Stages are data
// inside the core; their behavior is supplied by the injected executor.
type Stage string

const (
	StageInterpretBrief    Stage = "interpret-brief"
	StageBuildWorld        Stage = "build-world"
	StageBuildActors       Stage = "build-actors"
	StageDesignStructure   Stage = "design-structure"
	StagePlanSegments      Stage = "plan-segments"
	StageGenerateContent   Stage = "generate-content"
	StageValidateCoherence Stage = "validate-coherence"
	StageRefineLanguage    Stage = "refine-language"
	StageEditorialReview   Stage = "editorial-review"
	StageFinalizeOutput    Stage = "finalize-output"
)

// stageOrder is the fixed, total ordering of the pipeline.
var stageOrder = []Stage{
	StageInterpretBrief,
	StageBuildWorld,
	StageBuildActors,
	StageDesignStructure,
	StagePlanSegments,
	StageGenerateContent,
	StageValidateCoherence,
	StageRefineLanguage,
	StageEditorialReview,
	StageFinalizeOutput,
}

// stageContract declares the core's per-stage contract: which prior output
// keys the stage consumes, and whether its failure blocks the pipeline. The
// table is resolved once at sequencer construction, never looked up by
// name at runtime.
type stageContract struct {
	// inputKeys must be present in the accumulated context before the
	// stage runs. Absence is a programming-contract violation, not a
	// retryable failure.
	inputKeys []string
	// nonBlocking stages record failures and low-quality results as job
	// warnings instead of aborting. Strict mode overrides this for
	// validate-coherence.
	nonBlocking bool
}

var stageContracts = map[Stage]stageContract{
	StageInterpretBrief:    {},
	StageBuildWorld:        {inputKeys: []string{"interpretation"}},
	StageBuildActors:       {inputKeys: []string{"interpretation", "world"}},
	StageDesignStructure:   {inputKeys: []string{"interpretation", "world", "actors"}},
	StagePlanSegments:      {inputKeys: []string{"structure"}},
	StageGenerateContent:   {inputKeys: []string{"world", "actors", "segments"}},
	StageValidateCoherence: {inputKeys: []string{"content"}, nonBlocking: true},
	StageRefineLanguage:    {inputKeys: []string{"content"}},
	StageEditorialReview:   {inputKeys: []string{"refined_content"}, nonBlocking: true},
	StageFinalizeOutput:    {inputKeys: []string{"refined_content"}},
}

// finalOutputKeys are the context keys merged into the aggregate artifact
// after the terminal stage.
var finalOutputKeys = []string{
	"title", "interpretation", "world", "actors", "structure",
	"segments", "content", "refined_content", "validation", "review",
}

// Stages returns the fixed stage order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// StageIndex returns the position of a stage in the fixed order, or -1.
func StageIndex(stage Stage) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// KnownStage reports whether name is one of the fixed stages.
func KnownStage(name string) bool {
	return StageIndex(Stage(name)) >= 0
}

// NonBlocking reports whether a stage's failure is recorded as a warning
// rather than aborting the pipeline.
func NonBlocking(stage Stage) bool {
	return stageContracts[stage].nonBlocking
}

// RequiredKeys returns the context keys a stage declares as inputs.
func RequiredKeys(stage Stage) []string {
	return stageContracts[stage].inputKeys
}
