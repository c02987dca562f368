// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package node

import "fmt"

// Mode selects where a node's heuristic and cost come from.
type Mode string

const (
	// ModeLL uses the loss for both heuristic and cost.
	ModeLL Mode = "ll"

	// ModeHL uses the heuristic model and the loss as cost.
	ModeHL Mode = "hl"

	// ModeLC uses the loss as heuristic and the cost model.
	ModeLC Mode = "lc"

	// ModeHC uses both learned models. The only mode without ground truth.
	ModeHC Mode = "hc"

	// ModeLearnH searches with the loss and records heuristic features.
	ModeLearnH Mode = "learnh"

	// ModeLearnC searches with the learned heuristic and records cost
	// features against the loss.
	ModeLearnC Mode = "learnc"

	// ModeLearnCOracleH searches with the loss and records cost features.
	ModeLearnCOracleH Mode = "learncoracle"
)

// Modes lists every mode in schedule order.
var Modes = []Mode{ModeLearnH, ModeLearnC, ModeLearnCOracleH, ModeLL, ModeHL, ModeLC, ModeHC}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// NeedsTruth reports whether the mode computes the loss.
func (m Mode) NeedsTruth() bool {
	return m != ModeHC
}

// LearnedHeuristic reports whether the heuristic comes from a model.
func (m Mode) LearnedHeuristic() bool {
	return m == ModeHL || m == ModeHC || m == ModeLearnC
}

// LearnedCost reports whether the cost comes from a model.
func (m Mode) LearnedCost() bool {
	return m == ModeLC || m == ModeHC
}

// KeepsHeuristicFeatures reports whether nodes retain heuristic features.
func (m Mode) KeepsHeuristicFeatures() bool {
	return m == ModeHL || m == ModeHC || m == ModeLearnH || m == ModeLearnC
}

// KeepsCostFeatures reports whether nodes retain cost features.
func (m Mode) KeepsCostFeatures() bool {
	return m == ModeLC || m == ModeHC || m == ModeLearnC || m == ModeLearnCOracleH
}

// Learning reports whether the mode trains a model.
func (m Mode) Learning() bool {
	return m == ModeLearnH || m == ModeLearnC || m == ModeLearnCOracleH
}
