// Copyright 2018 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package slog is the signal core's logging facade. The teacher
// consumes its own pkg/log indirection everywhere (runsc/cli,
// platform/ptrace); that package isn't part of the retrieval pack, so
// this is backed directly by the logrus dependency already present in
// the teacher's go.mod.
package slog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	base = logrus.New()
	once sync.Once
)

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// SetLevel configures the minimum logged level (used by cmd/sigcore's
// -debug flag).
func SetLevel(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}

// Fields is a shorthand for logrus.Fields.
type Fields = logrus.Fields

// Debugf logs a low-volume delivery-path message.
func Debugf(format string, args ...any) {
	base.Debugf(format, args...)
}

// Infof logs a routine event.
func Infof(format string, args ...any) {
	base.Infof(format, args...)
}

// Warn logs a dropped-signal or queue-overflow condition with fields.
func Warn(fields Fields, format string, args ...any) {
	base.WithFields(fields).Warnf(format, args...)
}

// Errorf logs a condition the core treats as a bug report (spec §7
// "Internal fault"), but from which the calling upcall will still pause
// rather than return an error.
func Errorf(fields Fields, format string, args ...any) {
	base.WithFields(fields).Errorf(format, args...)
}

// Limiter rate-limits a noisy log site (spec §7: queue overflow under a
// fault storm must not itself become a denial of service against the
// log sink). One Limiter is meant to be shared by all callers of a
// single log call site.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter returns a Limiter allowing burst immediate messages and
// persec thereafter.
func NewLimiter(persec float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(persec), burst)}
}

// Allow reports whether the caller may log now.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}
