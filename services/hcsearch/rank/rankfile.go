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

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AleutianAI/hcsearch/services/hcsearch/labeling"
)

// Ranking targets. The trainer learns to score higher targets higher, so
// worse examples get the larger target and lower scores rank better.
const (
	targetBetter = 1
	targetWorse  = 2
)

// writeRankingLine writes "<target> qid:<qid> <idx>:<val> ..." with
// 1-based indices and zero entries omitted.
func writeRankingLine(w *bufio.Writer, target, qid int, f Features) error {
	w.WriteString(strconv.Itoa(target))
	w.WriteString(" qid:")
	w.WriteString(strconv.Itoa(qid))
	for i, v := range f {
		if v == 0 {
			continue
		}
		w.WriteByte(' ')
		w.WriteString(strconv.Itoa(i + 1))
		w.WriteByte(':')
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	_, err := w.WriteString("\n")
	return err
}

// WriteRankingExamples writes one query group: every vector in better with
// the better target and every vector in worse with the worse target, all
// under the same qid.
func WriteRankingExamples(w *bufio.Writer, qid int, better, worse []Features) error {
	for _, f := range better {
		if err := writeRankingLine(w, targetBetter, qid, f); err != nil {
			return err
		}
	}
	for _, f := range worse {
		if err := writeRankingLine(w, targetWorse, qid, f); err != nil {
			return err
		}
	}
	return nil
}

// parseQID extracts the qid token of a ranking line.
func parseQID(line string) (qid int, rest string, target string, err error) {
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[1], "qid:") {
		return 0, "", "", fmt.Errorf("%w: %q", ErrMalformedRankingFile, line)
	}
	qid, err = strconv.Atoi(strings.TrimPrefix(fields[1], "qid:"))
	if err != nil {
		return 0, "", "", fmt.Errorf("%w: bad qid in %q", ErrMalformedRankingFile, line)
	}
	if len(fields) == 3 {
		rest = fields[2]
	}
	return qid, rest, fields[0], nil
}

// MergeRankingFiles concatenates ranking files into out, renumbering qids
// so that query groups from different inputs never collide. Missing inputs
// are skipped, since a worker with no examples never creates its file.
//
// Outputs:
//   - int: Number of query groups in the merged file.
//   - error: Non-nil on a malformed input or write failure.
func MergeRankingFiles(out string, inputs ...string) (int, error) {
	total := 0
	err := labeling.WriteFileAtomic(out, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for _, in := range inputs {
			n, err := appendRenumbered(bw, in, total)
			if err != nil {
				return err
			}
			total += n
		}
		return bw.Flush()
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func appendRenumbered(w *bufio.Writer, path string, offset int) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	seen := make(map[int]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		qid, rest, target, err := parseQID(line)
		if err != nil {
			return 0, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		id, ok := seen[qid]
		if !ok {
			id = offset + len(seen) + 1
			seen[qid] = id
		}
		w.WriteString(target)
		w.WriteString(" qid:")
		w.WriteString(strconv.Itoa(id))
		if rest != "" {
			w.WriteByte(' ')
			w.WriteString(rest)
		}
		w.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	return len(seen), nil
}
