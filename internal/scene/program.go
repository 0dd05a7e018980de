package scene

// Program is the resolved puzzle authoring variant. The three variants
// replace the loosely-typed metadata bag the authoring UI produces, so
// downstream code never inspects untyped maps at runtime.
type Program interface {
	isProgram()
}

// LegacyProgram is a single flat win-condition group (the oldest puzzle
// authoring format).
type LegacyProgram struct {
	WinConditions ConditionGroup
}

// StagedProgram is an ordered list of stages, each with its own win
// conditions.
type StagedProgram struct {
	Stages []Stage
}

// TimelineProgram is a block-based timeline interpreted by the timeline
// executor.
type TimelineProgram struct {
	Blocks []Block
}

func (LegacyProgram) isProgram()   {}
func (StagedProgram) isProgram()   {}
func (TimelineProgram) isProgram() {}

// ResolveProgram picks the program variant for a puzzle config. Timeline
// takes precedence over stages, which take precedence over legacy win
// conditions. Returns nil for non-puzzles and for puzzles that declare no
// authoring surface at all.
func ResolveProgram(cfg Config) Program {
	if cfg.Type != TypePuzzle {
		return nil
	}
	if len(cfg.Timeline) > 0 {
		return TimelineProgram{Blocks: cfg.Timeline}
	}
	if len(cfg.Stages) > 0 {
		return StagedProgram{Stages: cfg.Stages}
	}
	if cfg.WinConditions != nil {
		return LegacyProgram{WinConditions: *cfg.WinConditions}
	}
	return nil
}

// PuzzleStages flattens a program to stage form. A legacy program is
// modeled as a single synthetic stage wrapping its win conditions; timeline
// programs have no stage form.
func PuzzleStages(p Program) []Stage {
	switch prog := p.(type) {
	case StagedProgram:
		return prog.Stages
	case LegacyProgram:
		return []Stage{{
			ID:            "default",
			Name:          "Main Puzzle",
			Description:   "Default single-state puzzle",
			WinConditions: prog.WinConditions,
		}}
	default:
		return nil
	}
}
