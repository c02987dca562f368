// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package learning

import "errors"

var (
	// ErrEmptySchedule is returned by Run for a schedule with no stages.
	ErrEmptySchedule = errors.New("empty schedule")

	// ErrInvalidOptions is returned for options that cannot drive a run.
	ErrInvalidOptions = errors.New("invalid learning options")

	// ErrModelMissing is returned when a stage needs a model that was
	// neither learned earlier in the run nor found in the model directory.
	ErrModelMissing = errors.New("model not available")

	// ErrNoTrainingExamples is returned when a learning stage produced no
	// ranking examples across all workers.
	ErrNoTrainingExamples = errors.New("no training examples")
)
