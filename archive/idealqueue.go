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
package archive

import "github.com/walarc/walarc/walseg"

// IdealQueueFor computes the IdealQueue: walseg.Neighborhood sized
// max(2, queueMax/segmentSize), beginning at seg if found is false (the
// requested segment is still missing and should itself be fetched) or at
// seg's successor if found is true (the requested segment was already
// delivered by a prior run; look further ahead).
func IdealQueueFor(seg walseg.Segment, found bool, queueMaxBytes int64, segmentSize, walSegSize uint32) []string {
	start := seg
	if found {
		start = seg.Next(walSegSize)
	}
	n := walseg.IdealQueueLength(queueMaxBytes, segmentSize)
	return start.NeighborhoodNames(n, walSegSize)
}
