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

import (
	"context"
	"fmt"

	"github.com/walarc/walarc/applog"
	"github.com/walarc/walarc/spool"
	"github.com/walarc/walarc/walarcerr"
	"github.com/walarc/walarc/worker"
)

// Dispatcher is what AsyncGet drives jobs through: worker.Pool satisfies
// this in production; tests substitute a fake that resolves jobs without
// spawning real re-exec'd children.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobs []worker.Job) ([]worker.Result, error)
}

// AsyncConfig carries everything AsyncGet needs beyond the ideal queue
// itself.
type AsyncConfig struct {
	Spool      *spool.Spool
	Dispatcher Dispatcher
	Candidates []worker.CandidateRepo
}

// AsyncGet implements §4.H: given the ideal queue (ordered segment names),
// sweep the spool to preserve-or-evict (I1), then dispatch one job per
// segment and translate each result into the spool's marker protocol.
func AsyncGet(ctx context.Context, idealQueue []string, cfg AsyncConfig) error {
	log := applog.For("archive-async")

	if _, err := cfg.Spool.Sweep(ctx, idealQueue); err != nil {
		return walarcerr.Wrap(walarcerr.TransientIO, err, "async sweep")
	}

	jobs := make([]worker.Job, len(idealQueue))
	for i, seg := range idealQueue {
		jobs[i] = worker.Job{Segment: seg, Candidates: cfg.Candidates}
	}

	results, err := cfg.Dispatcher.Dispatch(ctx, jobs)
	if err != nil {
		gerr := walarcerr.Wrap(walarcerr.Protocol, err, "worker dispatch failed")
		if werr := cfg.Spool.WriteGlobalError(ctx, spool.ErrorMarker{Code: int32(gerr.Code), Message: gerr.Message}); werr != nil {
			log.WithError(werr).Error("archive-get-async: failed to write global.error")
		}
		return gerr
	}

	for _, res := range results {
		switch {
		case res.Err != nil:
			log.WithField("segment", res.Job.Segment).WithError(res.Err).Warn("archive-get-async: worker error")
			if err := cfg.Spool.WriteError(ctx, res.Job.Segment, spool.ErrorMarker{Code: res.Err.Code, Message: res.Err.Message}); err != nil {
				return walarcerr.Wrap(walarcerr.TransientIO, err, "write error marker for %s", res.Job.Segment)
			}
		case res.SelectedIndex == worker.NotFoundIndex:
			if err := cfg.Spool.WriteOK(ctx, res.Job.Segment, spool.OKMarker{Warnings: res.Warnings}); err != nil {
				return walarcerr.Wrap(walarcerr.TransientIO, err, "write ok marker for %s", res.Job.Segment)
			}
		default:
			log.WithField("segment", res.Job.Segment).Info("archive-get-async: segment delivered")
		}
	}
	return nil
}

// LocalHandler is the worker.Handler a re-exec'd archive-get:local process
// runs: call Get against the candidates embedded in the request and report
// the selected index or not-found.
func LocalHandler(sp *spool.Spool, resolve func(worker.CandidateRepo) Candidate) worker.Handler {
	return func(ctx context.Context, j worker.Job) (uint32, []string, error) {
		candidates := make([]Candidate, len(j.Candidates))
		for i, c := range j.Candidates {
			candidates[i] = resolve(c)
		}
		res, err := Get(ctx, j.Segment, candidates, sp)
		if err != nil {
			return 0, nil, err
		}
		if !res.Found {
			return worker.NotFoundIndex, res.Warnings, nil
		}
		if res.SelectedIdx < 0 || res.SelectedIdx > int(^uint32(0)) {
			return 0, nil, fmt.Errorf("archive: candidate index %d out of range", res.SelectedIdx)
		}
		return uint32(res.SelectedIdx), res.Warnings, nil
	}
}
