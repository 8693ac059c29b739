package mcp

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMessageCodec(t *testing.T) {

	Convey("Given a message with unknown top level fields", t, func() {

		data := []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"printEnv"},"_meta":{"trace":"abc"},"x-custom":[1,2]}`)

		Convey("Decoding should keep unknown fields in Extra", func() {

			m := Message{}
			So(json.Unmarshal(data, &m), ShouldBeNil)
			So(m.JSONRPC, ShouldEqual, "2.0")
			So(m.ID, ShouldEqual, json.Number("3"))
			So(m.Method, ShouldEqual, "tools/call")
			So(m.Params, ShouldResemble, map[string]any{"name": "printEnv"})
			So(len(m.Extra), ShouldEqual, 2)
			So(string(m.Extra["_meta"]), ShouldEqual, `{"trace":"abc"}`)
		})

		Convey("Encoding it again should round trip", func() {

			m := Message{}
			So(json.Unmarshal(data, &m), ShouldBeNil)

			out, err := json.Marshal(m)
			So(err, ShouldBeNil)

			var expected, got map[string]any
			So(json.Unmarshal(data, &expected), ShouldBeNil)
			So(json.Unmarshal(out, &got), ShouldBeNil)
			So(got, ShouldResemble, expected)
		})
	})

	Convey("Given a response message", t, func() {

		data := []byte(`{"jsonrpc":"2.0","id":"a","result":{"tools":[{"name":"a"}]}}`)

		m := Message{}
		So(json.Unmarshal(data, &m), ShouldBeNil)
		So(m.Extra, ShouldBeNil)
		So(m.Result["tools"], ShouldResemble, []any{map[string]any{"name": "a"}})
		So(m.IDString(), ShouldEqual, "a")
	})

	Convey("Given numbers that do not fit in a float64", t, func() {

		data := []byte(`{"jsonrpc":"2.0","id":9007199254740993,"result":{"tools":[{"name":"a"}],"nextCursor":12345678901234567890,"ratio":0.1}}`)

		m := Message{}
		So(json.Unmarshal(data, &m), ShouldBeNil)
		So(m.ID, ShouldEqual, json.Number("9007199254740993"))
		So(m.IDString(), ShouldEqual, "9007199254740993")
		So(RelatedIDs(m.ID, int64(9007199254740993)), ShouldBeTrue)
		So(RelatedIDs(m.ID, int64(9007199254740992)), ShouldBeFalse)

		out, err := json.Marshal(m)
		So(err, ShouldBeNil)
		So(string(out), ShouldContainSubstring, `"id":9007199254740993`)
		So(string(out), ShouldContainSubstring, `"nextCursor":12345678901234567890`)
		So(string(out), ShouldContainSubstring, `"ratio":0.1`)
	})

	Convey("Given a ping response with an empty result", t, func() {

		data := []byte(`{"jsonrpc":"2.0","id":1,"result":{}}`)

		m := Message{}
		So(json.Unmarshal(data, &m), ShouldBeNil)
		So(m.Result, ShouldNotBeNil)

		out, err := json.Marshal(m)
		So(err, ShouldBeNil)
		So(string(out), ShouldEqual, `{"id":1,"jsonrpc":"2.0","result":{}}`)

		So(json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":2,"method":"ping","params":{}}`), &m), ShouldBeNil)
		out, err = json.Marshal(m)
		So(err, ShouldBeNil)
		So(string(out), ShouldEqual, `{"id":2,"jsonrpc":"2.0","method":"ping","params":{}}`)
	})

	Convey("Given invalid data", t, func() {

		m := Message{}
		So(json.Unmarshal([]byte(`{"params":"nope"}`), &m), ShouldNotBeNil)
		So(json.Unmarshal([]byte(`[]`), &m), ShouldNotBeNil)
	})

	Convey("Extra must not shadow known fields when encoding", t, func() {

		m := NewMessage(1)
		m.Method = "ping"
		m.Extra = map[string]json.RawMessage{"method": json.RawMessage(`"evil"`)}

		out, err := json.Marshal(m)
		So(err, ShouldBeNil)
		So(string(out), ShouldEqual, `{"id":1,"jsonrpc":"2.0","method":"ping"}`)
	})
}

func TestMessageHelpers(t *testing.T) {

	Convey("ToolName should work", t, func() {

		m := NewMessage(1)
		m.Method = MethodToolsCall
		m.Params = map[string]any{"name": "list_directory"}

		name, ok := m.ToolName()
		So(ok, ShouldBeTrue)
		So(name, ShouldEqual, "list_directory")

		m.Params["name"] = 42
		_, ok = m.ToolName()
		So(ok, ShouldBeFalse)

		m.Method = "tools/list"
		m.Params["name"] = "list_directory"
		_, ok = m.ToolName()
		So(ok, ShouldBeFalse)
	})

	Convey("Clone should not alias the top level maps", t, func() {

		m := NewMessage("id")
		m.Result = map[string]any{"tools": []any{}}
		m.Error = &Error{Code: 1}

		c := m.Clone()
		c.Result["other"] = true
		c.Error.Code = 2

		So(m.Result, ShouldNotContainKey, "other")
		So(m.Error.Code, ShouldEqual, 1)
	})

	Convey("NewMessage with zero id should not set it", t, func() {
		So(NewMessage("").ID, ShouldBeNil)
		So(NewMessage(0).ID, ShouldBeNil)
		m := NewMessage(2)
		So(m.IDString(), ShouldEqual, "2")
	})
}

func TestRelatedIDs(t *testing.T) {

	tests := []struct {
		name string
		a    any
		b    any
		want bool
	}{
		{"same strings", "a", "a", true},
		{"different strings", "a", "b", false},
		{"string and int", "1", 1, false},
		{"int and float", 1, float64(1), true},
		{"int and json number", int64(42), json.Number("42"), true},
		{"fractional float", 1.5, 1, false},
		{"nils", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RelatedIDs(tt.a, tt.b); got != tt.want {
				t.Errorf("RelatedIDs(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}
