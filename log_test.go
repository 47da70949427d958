// Copyright 2026 The Taskvisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package taskvisor

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("The log ring", t, func() {
		log := NewLog(3)
		recs, id := log.GetRecords(0)
		So(len(recs), ShouldEqual, 0)

		Convey("Splits structured records", func() {
			logger := NewLogger("test", log)
			logger.Warn().Str("worker", "w1").Msg("hello")

			recs, id2 := log.GetRecords(id)
			So(id2, ShouldEqual, id+1)
			So(len(recs), ShouldEqual, 1)
			So(recs[0].Text, ShouldEqual, "hello")
			So(recs[0].Level, ShouldEqual, "warn")
			So(recs[0].Worker, ShouldEqual, "w1")
			So(recs[0].Id, ShouldEqual, id2)

			Convey("And reports no change", func() {
				recs, id3 := log.GetRecords(id2)
				So(recs, ShouldBeNil)
				So(id3, ShouldEqual, id2)
			})
		})

		Convey("Keeps plain lines as text", func() {
			log.Write([]byte("one\ntwo\n"))
			recs, _ := log.GetRecords(0)
			So(len(recs), ShouldEqual, 2)
			So(recs[0].Text, ShouldEqual, "one")
			So(recs[1].Text, ShouldEqual, "two")
			So(recs[1].Level, ShouldEqual, "")
		})

		Convey("Keeps only the newest records", func() {
			log.Write([]byte("1\n2\n3\n4\n5\n"))
			recs, _ := log.GetRecords(0)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "3")
			So(recs[2].Text, ShouldEqual, "5")
		})
	})
}

func TestMultiLogger(t *testing.T) {
	Convey("A multi logger", t, func() {
		m := NewMultiLogger("test")
		a, b := NewLog(10), NewLog(10)
		m.AddWriter(a)
		m.AddWriter(b)
		m.AddWriter(a)
		logger := m.Logger()

		logger.Info().Msg("first")
		ra, _ := a.GetRecords(0)
		rb, _ := b.GetRecords(0)
		So(len(ra), ShouldEqual, 1)
		So(len(rb), ShouldEqual, 1)

		m.DelWriter(b)
		logger.Info().Msg("second")
		ra, _ = a.GetRecords(0)
		rb, _ = b.GetRecords(0)
		So(len(ra), ShouldEqual, 2)
		So(len(rb), ShouldEqual, 1)

		Convey("Captures messages during a call", func() {
			logger.Info().Msg("before")
			out := m.Capture(func() {
				logger.Info().Msg("a")
				logger.Error().Str("extra", "x").Msg("b")
			})
			logger.Info().Msg("after")
			So(out, ShouldEqual, "a\nb\n")
		})

		Convey("Captures nothing from a quiet call", func() {
			So(m.Capture(func() {}), ShouldEqual, "")
		})
	})
}

func TestCapture(t *testing.T) {
	Convey("A capture sink", t, func() {
		c := &Capture{}
		c.Write([]byte(`{"level":"info","message":"structured"}` + "\n"))
		c.Write([]byte("plain text\n\n"))
		So(c.String(), ShouldEqual, "structured\nplain text\n")
	})
}
