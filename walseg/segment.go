/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
// Package walseg models WAL segment names and the look-ahead neighborhoods
// derived from them.
package walseg

import (
	"fmt"
	"regexp"
)

// Segment is the parsed form of a 24-hex-digit WAL segment name:
// 8 hex timeline, 8 hex logical log number, 8 hex segment number.
type Segment struct {
	Timeline uint32
	LogID    uint32
	SegNo    uint32
}

// nameRE matches a bare WAL segment name, not a history or partial/backup-label file.
var nameRE = regexp.MustCompile(`^[0-9A-Fa-f]{24}$`)

// IsSegmentName reports whether name looks like a plain WAL segment (as opposed
// to a .history file or a backup-label/partial file, which bypass the async
// pipeline per spec).
func IsSegmentName(name string) bool {
	return nameRE.MatchString(name)
}

// ParseSegment parses a 24-hex-digit segment name.
func ParseSegment(name string) (Segment, error) {
	if !IsSegmentName(name) {
		return Segment{}, fmt.Errorf("walseg: %q is not a well-formed WAL segment name", name)
	}
	var tli, log, seg uint32
	if _, err := fmt.Sscanf(name[0:8], "%08x", &tli); err != nil {
		return Segment{}, fmt.Errorf("walseg: bad timeline in %q: %w", name, err)
	}
	if _, err := fmt.Sscanf(name[8:16], "%08x", &log); err != nil {
		return Segment{}, fmt.Errorf("walseg: bad log id in %q: %w", name, err)
	}
	if _, err := fmt.Sscanf(name[16:24], "%08x", &seg); err != nil {
		return Segment{}, fmt.Errorf("walseg: bad segment number in %q: %w", name, err)
	}
	return Segment{Timeline: tli, LogID: log, SegNo: seg}, nil
}

// String renders the segment back to its canonical 24-hex-digit name.
func (s Segment) String() string {
	return fmt.Sprintf("%08X%08X%08X", s.Timeline, s.LogID, s.SegNo)
}

// The segments-per-log count is fixed by PostgreSQL's WAL addressing: a logical log
// covers 0x100000000 bytes' worth of LSN space, divided into walSegSize
// segments. segPerLog derives that count from the configured segment size.
func segPerLog(walSegSize uint32) uint32 {
	// 0x100000000 / walSegSize, i.e. 4GiB worth of LSN space per log id.
	return uint32(0x100000000 / uint64(walSegSize))
}

// Next returns the segment immediately following s, wrapping the segment
// number into the next logical log (never across timelines: a timeline
// boundary is where the neighborhood stops being meaningful for archive-get,
// since archive-get is always asked for segments on the database's current
// timeline).
func (s Segment) Next(walSegSize uint32) Segment {
	perLog := segPerLog(walSegSize)
	n := s
	n.SegNo++
	if n.SegNo >= perLog {
		n.SegNo = 0
		n.LogID++
	}
	return n
}

// Neighborhood returns the ordered sequence of n consecutive segments
// beginning at (and including) s.
func (s Segment) Neighborhood(n int, walSegSize uint32) []Segment {
	if n < 1 {
		n = 1
	}
	out := make([]Segment, n)
	cur := s
	for i := 0; i < n; i++ {
		out[i] = cur
		cur = cur.Next(walSegSize)
	}
	return out
}

// NeighborhoodNames is Neighborhood rendered to wire-form segment names.
func (s Segment) NeighborhoodNames(n int, walSegSize uint32) []string {
	segs := s.Neighborhood(n, walSegSize)
	names := make([]string, len(segs))
	for i, sg := range segs {
		names[i] = sg.String()
	}
	return names
}

// IdealQueueLength implements the IdealQueue sizing rule from the spec:
// max(2, floor(queueMax / segmentSize)).
func IdealQueueLength(queueMax int64, segmentSize uint32) int {
	if segmentSize == 0 {
		return 2
	}
	n := int(queueMax / int64(segmentSize))
	if n < 2 {
		n = 2
	}
	return n
}
