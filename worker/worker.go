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

// Package worker implements the single-parent, multi-child worker protocol:
// a framed pack message per request/response over each child's stdio pair.
// Go has no safe fork-without-exec, so "child" here is a re-exec of the
// current binary in a dedicated worker role via os/exec, wired over
// os.Pipe pairs -- the Go-idiomatic reading of spec.md §4.E, recorded as a
// deviation in SPEC_FULL.md rather than left implicit.
//
// Scheduling fans Jobs out across a pool of running children with one
// goroutine per job (job i goes to child i mod the child count), bounded by a
// golang.org/x/sync/semaphore so at most processMax jobs are in flight --
// there is no further concurrency within one child: a per-child mutex makes
// request N fully complete before request N+1 is sent on the same pipe,
// matching the teacher's one-thing-at-a-time process model.
package worker

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/walarc/walarc/pack"
	"github.com/walarc/walarc/walarcerr"
)

// CandidateRepo is one repository archive-get tries a segment against, the
// five-field-per-candidate shape §6's wire format lists.
type CandidateRepo struct {
	ArchivePath string
	RepoIdx     uint32
	ArchiveID   string
	CipherType  uint32
	CipherPass  string // empty means "no passphrase" (nullable on the wire)
}

// Job is one unit of work dispatched to a child: fetch Segment, trying
// Candidates in order.
type Job struct {
	Segment    string
	Candidates []CandidateRepo
}

// NotFoundIndex is the sentinel §6 specifies for "no candidate yielded the
// segment".
const NotFoundIndex = ^uint32(0)

// Result is a worker's response to one Job.
type Result struct {
	Job           Job
	SelectedIndex uint32 // NotFoundIndex when not found
	Warnings      []string
	Err           *ProtocolError // non-nil on an error response
}

// ProtocolError is the worker's error response: a code, a message and an
// optional stack. On the wire they travel in responseWire fields 3, 4 and 5
// with field 6 set, not in fields 1-3.
type ProtocolError struct {
	Code    int32
	Message string
	Stack   string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("worker: code %d: %s", e.Code, e.Message)
}

// requestWire / responseWire are the pack struct-tag layouts used on both
// ends of the pipe. A request carries the command (field 1), the segment
// (field 2) and the candidates as an array of five-field objects (field 3).
// A response carries the selected index and warnings in fields 1-2; an error
// response uses the same record with code, message and stack in fields 3-5
// and field 6 set.
type requestWire struct {
	Command    string           `pack:"1"`
	Segment    string           `pack:"2"`
	Candidates []candidateWire  `pack:"3"`
}

type candidateWire struct {
	ArchivePath string `pack:"1"`
	RepoIdx     uint32 `pack:"2"`
	ArchiveID   string `pack:"3"`
	CipherType  uint32 `pack:"4"`
	CipherPass  string `pack:"5"`
}

type responseWire struct {
	SelectedIndex uint32   `pack:"1"`
	Warnings      []string `pack:"2"`
	ErrCode       int32    `pack:"3"`
	ErrMessage    string   `pack:"4"`
	ErrStack      string   `pack:"5"`
	IsError       bool     `pack:"6"`
}

// WriteFrame writes one length-prefixed pack frame: uint32-be length ||
// pack-bytes.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("worker: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("worker: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed pack frame.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("worker: short frame body: %w", err)
	}
	return body, nil
}

// EncodeRequest packs a Job into a §6-conformant request frame body.
func EncodeRequest(j Job) ([]byte, error) {
	req := requestWire{Command: "archive-get", Segment: j.Segment}
	for _, c := range j.Candidates {
		req.Candidates = append(req.Candidates, candidateWire{
			ArchivePath: c.ArchivePath, RepoIdx: c.RepoIdx, ArchiveID: c.ArchiveID,
			CipherType: c.CipherType, CipherPass: c.CipherPass,
		})
	}
	return pack.Marshal(&req)
}

// DecodeRequest is the worker-side counterpart of EncodeRequest.
func DecodeRequest(data []byte) (Job, error) {
	var req requestWire
	if err := pack.Unmarshal(data, &req); err != nil {
		return Job{}, fmt.Errorf("worker: decode request: %w", err)
	}
	j := Job{Segment: req.Segment}
	for _, c := range req.Candidates {
		j.Candidates = append(j.Candidates, CandidateRepo{
			ArchivePath: c.ArchivePath, RepoIdx: c.RepoIdx, ArchiveID: c.ArchiveID,
			CipherType: c.CipherType, CipherPass: c.CipherPass,
		})
	}
	return j, nil
}

// EncodeResult packs a successful Result into a response frame body.
func EncodeResult(selected uint32, warnings []string) ([]byte, error) {
	return pack.Marshal(&responseWire{SelectedIndex: selected, Warnings: warnings})
}

// EncodeError packs a ProtocolError into an error response frame body.
func EncodeError(e *ProtocolError) ([]byte, error) {
	return pack.Marshal(&responseWire{IsError: true, ErrCode: e.Code, ErrMessage: e.Message, ErrStack: e.Stack})
}

// DecodeResponse is the parent-side counterpart of EncodeResult/EncodeError.
func DecodeResponse(data []byte) (selected uint32, warnings []string, protoErr *ProtocolError, err error) {
	var resp responseWire
	if err := pack.Unmarshal(data, &resp); err != nil {
		return 0, nil, nil, fmt.Errorf("worker: decode response: %w", err)
	}
	if resp.IsError {
		return 0, nil, &ProtocolError{Code: resp.ErrCode, Message: resp.ErrMessage, Stack: resp.ErrStack}, nil
	}
	return resp.SelectedIndex, resp.Warnings, nil, nil
}

// Handler is the worker-role's business logic: given a Job, produce the
// selected candidate index (NotFoundIndex if none matched) and warnings, or
// an error.
type Handler func(ctx context.Context, j Job) (selected uint32, warnings []string, err error)

// Serve runs the archive-get:local worker role: read one framed request at
// a time from r, dispatch to handler, write one framed response to w. It
// returns when r reaches EOF (the parent closed its write end because no
// jobs remain), matching "a worker exists only for one async invocation;
// it terminates when no jobs remain."
func Serve(ctx context.Context, r io.Reader, w io.Writer, handler Handler) error {
	br := bufio.NewReader(r)
	for {
		body, err := ReadFrame(br)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker: serve read: %w", err)
		}
		job, err := DecodeRequest(body)
		if err != nil {
			return err
		}

		selected, warnings, herr := handler(ctx, job)
		var respBody []byte
		if herr != nil {
			code := int32(1)
			var werr *walarcerr.Error
			if errors.As(herr, &werr) {
				code = werr.Code
			}
			respBody, err = EncodeError(&ProtocolError{Code: code, Message: herr.Error()})
		} else {
			respBody, err = EncodeResult(selected, warnings)
		}
		if err != nil {
			return err
		}
		if err := WriteFrame(w, respBody); err != nil {
			return err
		}
	}
}

// Pool manages processMax re-exec'd children and fans Jobs out across them.
// Each job runs in its own goroutine against child (job index mod child
// count); a per-child mutex serializes round trips on that child's stdio
// pair, and a semaphore bounds how many jobs are in flight across the whole
// pool at once.
type Pool struct {
	cmds            []*exec.Cmd
	pipes           []childPipe
	sem             *semaphore.Weighted
	wg              sync.WaitGroup
	protocolTimeout time.Duration
}

type childPipe struct {
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	dead   bool // set once a round trip times out; never written to again
}

// NewPool launches processMax children by re-executing exe with args
// (archive-get:local plus whatever the worker role needs), one per
// pipe-connected child. protocolTimeout bounds every request/response round
// trip (spec.md's protocol-timeout option, §7's Protocol/worker-timeout
// case); zero disables the bound.
func NewPool(ctx context.Context, exe string, args []string, processMax int, protocolTimeout time.Duration) (*Pool, error) {
	if processMax < 1 {
		processMax = 1
	}
	p := &Pool{sem: semaphore.NewWeighted(int64(processMax)), protocolTimeout: protocolTimeout}
	for i := 0; i < processMax; i++ {
		cmd := exec.CommandContext(ctx, exe, args...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("worker: stdin pipe: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("worker: stdout pipe: %w", err)
		}
		if err := cmd.Start(); err != nil {
			p.Close()
			return nil, fmt.Errorf("worker: start child %d: %w", i, err)
		}
		p.cmds = append(p.cmds, cmd)
		p.pipes = append(p.pipes, childPipe{stdin: stdin, stdout: bufio.NewReader(stdout)})
	}
	return p, nil
}

// Close closes every child's stdin (signalling "no more jobs") and waits
// for each to exit.
func (p *Pool) Close() error {
	for _, pipe := range p.pipes {
		pipe.stdin.Close()
	}
	var firstErr error
	for _, cmd := range p.cmds {
		if cmd.Process == nil {
			continue
		}
		if err := cmd.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Dispatch runs jobs across the pool's children, respecting the semaphore
// bound, and returns one Result per Job in the order jobs was given
// (ordering here is a convenience for callers; the protocol itself makes no
// cross-worker ordering guarantee, only within-one-worker ordering).
func (p *Pool) Dispatch(ctx context.Context, jobs []Job) ([]Result, error) {
	results := make([]Result, len(jobs))
	var wg sync.WaitGroup
	errCh := make(chan error, len(jobs))

	for i, job := range jobs {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("worker: acquire slot: %w", err)
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer p.sem.Release(1)
			childIdx := i % len(p.pipes)
			res, err := p.roundTrip(ctx, childIdx, job)
			if err != nil {
				errCh <- err
				return
			}
			results[i] = res
		}(i, job)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return nil, err
	}
	return results, nil
}

// roundTrip sends one request and waits for its response, bounded by
// p.protocolTimeout (spec.md's protocol-timeout, §7's "Protocol ... worker
// timeout" case). A child that doesn't answer in time is marked dead: this
// roundTrip returns a *ProtocolError instead of blocking Dispatch forever,
// and every later call routed at this childIdx fails fast instead of writing
// a second request on top of the one the stalled child never consumed.
func (p *Pool) roundTrip(ctx context.Context, childIdx int, job Job) (Result, error) {
	pipe := &p.pipes[childIdx]
	pipe.mu.Lock()
	defer pipe.mu.Unlock()

	if pipe.dead {
		return Result{}, &ProtocolError{Code: 1, Message: fmt.Sprintf("worker: child %d already timed out, not retrying", childIdx)}
	}

	reqCtx := ctx
	if p.protocolTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, p.protocolTimeout)
		defer cancel()
	}

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		body, err := EncodeRequest(job)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		if err := WriteFrame(pipe.stdin, body); err != nil {
			done <- outcome{err: fmt.Errorf("worker: send job for %s: %w", job.Segment, err)}
			return
		}
		respBody, err := ReadFrame(pipe.stdout)
		if err != nil {
			done <- outcome{err: fmt.Errorf("worker: read response for %s: %w", job.Segment, err)}
			return
		}
		selected, warnings, protoErr, err := DecodeResponse(respBody)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		done <- outcome{res: Result{Job: job, SelectedIndex: selected, Warnings: warnings, Err: protoErr}}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-reqCtx.Done():
		pipe.dead = true
		return Result{}, &ProtocolError{Code: 1, Message: fmt.Sprintf("worker: child %d timed out waiting for %s: %v", childIdx, job.Segment, reqCtx.Err())}
	}
}
