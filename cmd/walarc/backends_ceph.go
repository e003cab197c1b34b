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

//go:build ceph

// This file is only compiled with -tags ceph, matching storage/ceph's own
// build tag: the RADOS client library is a host dependency most build
// environments don't carry, so "ceph" repo-type support is opt-in at build
// time rather than always linked.
package main

import _ "github.com/walarc/walarc/storage/ceph"
