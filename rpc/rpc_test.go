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

package rpc

import (
	"encoding/json"
	"net"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPair(t *testing.T) {
	Convey("A socket pair", t, func() {
		local, remote, e := Pair()
		So(e, ShouldBeNil)
		peer, e := FromFile(remote)
		So(e, ShouldBeNil)
		remote.Close()
		Reset(func() {
			local.Close()
			peer.Close()
		})

		Convey("Carries a call and its response", func() {
			go func() {
				req, e := peer.ReceiveRequest()
				if e != nil {
					return
				}
				peer.SendResponse(&Response{
					ID:      req.ID,
					Success: true,
					Payload: req.Action + ":" + req.Args[0].(string),
				})
			}()
			rsp, e := local.Call(&Request{ID: "1", Action: "echo", Args: []interface{}{"hi"}})
			So(e, ShouldBeNil)
			So(rsp.Success, ShouldBeTrue)
			So(rsp.Payload, ShouldEqual, "echo:hi")
		})

		Convey("Sends empty arguments as a list", func() {
			So(local.SendRequest(&Request{ID: "2", Action: "status"}), ShouldBeNil)
			req, e := peer.ReceiveRequest()
			So(e, ShouldBeNil)
			So(req.Args, ShouldNotBeNil)
			So(len(req.Args), ShouldEqual, 0)
		})

		Convey("Keeps integers exact", func() {
			So(local.SendRequest(&Request{ID: "5", Action: "log",
				Args: []interface{}{json.Number("1760000000123456789")}}), ShouldBeNil)
			req, e := peer.ReceiveRequest()
			So(e, ShouldBeNil)
			So(req.Args, ShouldResemble, []interface{}{json.Number("1760000000123456789")})
		})

		Convey("Detects a mismatched response", func() {
			go func() {
				if _, e := peer.ReceiveRequest(); e == nil {
					peer.SendResponse(&Response{ID: "other"})
				}
			}()
			_, e := local.Call(&Request{ID: "3", Action: "status"})
			So(e, ShouldEqual, ErrMismatch)
		})

		Convey("Notify does not wait", func() {
			So(local.Notify(&Request{ID: "4", Action: "restart"}), ShouldBeNil)
			req, e := peer.ReceiveRequest()
			So(e, ShouldBeNil)
			So(req.Action, ShouldEqual, "restart")
		})

		Convey("Reports a closed peer", func() {
			peer.Close()
			_, e := local.ReceiveResponse()
			So(e, ShouldEqual, ErrClosed)
		})

		Convey("Reports a closed end", func() {
			local.Close()
			_, e := local.ReceiveRequest()
			So(e, ShouldEqual, ErrClosed)
		})
	})
}

func TestNewConn(t *testing.T) {
	Convey("Conn over a plain pipe", t, func() {
		a, b := net.Pipe()
		ca, cb := NewConn(a), NewConn(b)
		Reset(func() {
			ca.Close()
			cb.Close()
		})
		go ca.Send(&Request{ID: "p", Action: "log", Args: []interface{}{float64(7)}})
		req, e := cb.ReceiveRequest()
		So(e, ShouldBeNil)
		So(req.ID, ShouldEqual, "p")
		So(req.Args, ShouldResemble, []interface{}{float64(7)})
	})
}
