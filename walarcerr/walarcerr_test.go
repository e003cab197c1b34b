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
package walarcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNotFoundExitsOne(t *testing.T) {
	err := New(NotFound, "segment %s absent from every candidate", "0A")
	require.Equal(t, 1, err.ExitCode())
	require.Equal(t, "not-found: segment 0A absent from every candidate", err.Error())
}

func TestOtherKindsExitTwo(t *testing.T) {
	for _, k := range []Kind{InvalidArgument, ConfigEnv, LockContention, TransientIO, Integrity, Protocol, Assertion} {
		err := New(k, "boom")
		require.Equal(t, 2, err.ExitCode())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(TransientIO, cause, "write failed")
	require.ErrorIs(t, err, cause)
}

func TestKindCodeRoundTrip(t *testing.T) {
	err := New(Protocol, "malformed pack frame")
	require.EqualValues(t, Protocol, err.Code)
}
