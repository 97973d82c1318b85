package analysis

import "errors"

// Sentinel errors for the game analyzer (C4), per the §7 error taxonomy.
var (
	ErrAlreadyAnalyzing  = errors.New("analysis: game already analyzing")
	ErrAnalysisCancelled = errors.New("analysis: cancelled")
	ErrPersistence       = errors.New("analysis: persistence error")
)
