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

// Package applog is the structured logging this module carries as ambient
// stack regardless of feature Non-goals. The teacher logs with bare
// fmt.Println; this module instead uses github.com/sirupsen/logrus (present
// in the example pack's dependency graph) with WithField-style structured
// entries, keeping the teacher's terse, lowercase, component-prefixed
// message style ("archive-get: segment delivered", "worker: child exited")
// rather than full sentences.
package applog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel adjusts verbosity; "debug", "info" (default), "warn", "error".
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	base.SetLevel(lvl)
	return nil
}

// For returns a component-scoped entry, e.g. applog.For("archive").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
