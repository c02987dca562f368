// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rank

import "errors"

var (
	// ErrMalformedModel is returned when a model file cannot be parsed.
	ErrMalformedModel = errors.New("malformed model file")

	// ErrMalformedRankingFile is returned when a ranking file line cannot
	// be parsed.
	ErrMalformedRankingFile = errors.New("malformed ranking file")

	// ErrDimensionMismatch is returned when two feature vectors that must
	// align have different lengths.
	ErrDimensionMismatch = errors.New("feature dimension mismatch")

	// ErrTrainingNotStarted is returned by Train on a batch model whose
	// training file has not been opened.
	ErrTrainingNotStarted = errors.New("training not started")

	// ErrTrainingInProgress is returned when StartTraining is called twice.
	ErrTrainingInProgress = errors.New("training already in progress")

	// ErrTrainerFailed is returned when the external trainer keeps failing
	// after all retries.
	ErrTrainerFailed = errors.New("external trainer failed")

	// ErrUnknownModel is returned for an unrecognized model type name.
	ErrUnknownModel = errors.New("unknown rank model type")
)
