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

// Package archive implements §4.F/§4.G/§4.H: the file operation that
// materializes one segment into the spool by trying candidate repositories
// in order, the foreground deadline loop that consumes it, and the async
// run that drives a worker pool over an ideal queue.
package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/walarc/walarc/iostream"
	"github.com/walarc/walarc/spool"
	"github.com/walarc/walarc/storage"
	"github.com/walarc/walarc/walarcerr"
)

// Candidate is one repository archive-get tries, in the order supplied.
type Candidate struct {
	Backend    storage.Backend
	ArchiveID  string
	CipherType string // "" or "aes-256-cbc"
	CipherPass string
}

// matchRE is §4.F step 1b's listing filter: the segment name, optionally
// followed by "-<40 hex sha1>", optionally followed by a compression
// extension.
var matchRE = regexp.MustCompile(`^(SEG)(-[0-9a-fA-F]{40})?(\.(gz|bz2|lz4|zst|xz))?$`)

func matchRegexFor(seg string) *regexp.Regexp {
	pattern := strings.Replace(matchRE.String(), "SEG", regexp.QuoteMeta(seg), 1)
	return regexp.MustCompile(pattern)
}

// GetResult is §4.F step 1f's return shape.
type GetResult struct {
	Found        bool
	SelectedIdx  int
	Warnings     []string
}

// archivePath computes §4.F step 1a's repository path. Segment names are
// 24 hex digits; anything else (history files, etc.) is addressed directly
// under the archive id with no SEG[0:16] bucket.
func archivePath(archiveID, seg string) string {
	if len(seg) == 24 {
		return path.Join(archiveID, seg[0:16])
	}
	return archiveID
}

// Get implements §4.F: try candidates in order, and on the first hit
// materialize seg into sp atomically. Returns not-found (Found=false, no
// error) when no candidate yields a file; returns an error only for the
// abort cases step "Errors that abort the operation" lists (decrypt
// failure, hash mismatch, short read, destination I/O error).
func Get(ctx context.Context, seg string, candidates []Candidate, sp *spool.Spool) (GetResult, error) {
	re := matchRegexFor(seg)
	dir := ""

	for idx, c := range candidates {
		dir = archivePath(c.ArchiveID, seg)
		names, err := c.Backend.List(ctx, dir, storage.ListOptions{Regex: re.String(), SortAscending: true})
		if err != nil {
			// A missing directory (no such archive id / bucket yet) is simply
			// "this candidate doesn't have it" -- continue, don't abort.
			continue
		}
		if len(names) == 0 {
			continue
		}

		var warnings []string
		selected := names[0]
		if len(names) > 1 {
			warnings = append(warnings, fmt.Sprintf("multiple objects matched %s under %s; selected %s by ascending lexical order", seg, dir, selected))
		}

		if err := deliverOne(ctx, c, dir, selected, seg, sp); err != nil {
			return GetResult{}, err
		}
		return GetResult{Found: true, SelectedIdx: idx, Warnings: warnings}, nil
	}

	return GetResult{Found: false}, nil
}

// sha1SuffixRE extracts the 40-hex-digit sha1 embedded in a matched object
// name, if present.
var sha1SuffixRE = regexp.MustCompile(`-([0-9a-fA-F]{40})`)

func deliverOne(ctx context.Context, c Candidate, dir, objectName, seg string, sp *spool.Spool) error {
	ext := path.Ext(objectName)
	stem := strings.TrimSuffix(objectName, ext)
	expectedSha1 := ""
	if m := sha1SuffixRE.FindStringSubmatch(stem); m != nil {
		expectedSha1 = m[1]
	}

	r, ok, err := c.Backend.NewRead(ctx, path.Join(dir, objectName), storage.ReadOptions{})
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "open %s", objectName)
	}
	if !ok {
		// Vanished between List and NewRead. This is not treated as a miss
		// for this candidate: Get's try-next-candidate loop only covers the
		// listing step, so the race surfaces as a TransientIO error that
		// aborts Get.
		return walarcerr.New(walarcerr.TransientIO, "object %s vanished before read", objectName)
	}
	defer r.Close()

	passphrase := ""
	if c.CipherType != "" {
		passphrase = c.CipherPass
	}
	chain := iostream.NewReadChain(ext, passphrase, expectedSha1)
	stream, err := chain.Apply(r)
	if err != nil {
		return walarcerr.Wrap(walarcerr.Integrity, err, "build read chain for %s", objectName)
	}

	w, err := sp.OpenSegmentWriter(ctx, seg)
	if err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "open spool writer for %s", seg)
	}
	if _, err := io.Copy(w, stream); err != nil {
		w.Close()
		return walarcerr.Wrap(walarcerr.Integrity, err, "materialize %s", seg)
	}
	if err := w.Close(); err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "finalize spool write for %s", seg)
	}
	return nil
}

// SortCandidateNames is exposed for callers (and tests) that need the same
// lexical tie-break §4.F step 1c specifies, outside of Get's own listing.
func SortCandidateNames(names []string) {
	sort.Strings(names)
}
