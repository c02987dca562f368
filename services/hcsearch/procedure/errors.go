// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package procedure

import "errors"

var (
	// ErrEmptyCostSet is returned when a search ends with no visited state.
	// The root is always visited, so this indicates a broken invariant.
	ErrEmptyCostSet = errors.New("cost set is empty")

	// ErrInvalidBeam is returned for a beam size below one.
	ErrInvalidBeam = errors.New("beam size must be positive")

	// ErrUnknownProcedure is returned for an unrecognized procedure name.
	ErrUnknownProcedure = errors.New("unknown search procedure")

	// ErrMissingLearner is returned when a learning mode has no model to
	// receive training examples.
	ErrMissingLearner = errors.New("learning mode requires a learner")

	// ErrInvalidRequest is returned for a request missing its environment,
	// space or example.
	ErrInvalidRequest = errors.New("invalid search request")
)
