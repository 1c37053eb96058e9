package message

import (
	"encoding/json"
	"reflect"
	"testing"
)

// assertJSON 按语义比较 JSON
func assertJSON(t *testing.T, want string, got []byte) {
	t.Helper()
	var w, g interface{}
	if err := json.Unmarshal([]byte(want), &w); err != nil {
		t.Fatalf("bad expected json: %v", err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("bad json %s: %v", got, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("json mismatch\nwant: %s\ngot:  %s", want, got)
	}
}

func TestSegJSONShape(t *testing.T) {
	tree := List(Text("hi"), List(Image("aGk=")), Reply("123"))

	b, err := json.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	assertJSON(t, `{"type":"seglist","data":[
		{"type":"text","data":"hi"},
		{"type":"seglist","data":[{"type":"image","data":"aGk="}]},
		{"type":"reply","data":"123"}
	]}`, b)

	var back Seg
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(tree, back) {
		t.Errorf("round trip changed tree: %+v", back)
	}
}

func TestSegUnmarshalScalarData(t *testing.T) {
	var s Seg
	if err := json.Unmarshal([]byte(`{"type":"reply","data":98765}`), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(s, Reply("98765")) {
		t.Errorf("numeric data should become a string, got %+v", s)
	}

	if err := json.Unmarshal([]byte(`{"type":"seglist","data":null}`), &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !s.IsList() || len(s.Children) != 0 {
		t.Errorf("null seglist should be empty, got %+v", s)
	}

	if err := json.Unmarshal([]byte(`{"data":"x"}`), &s); err == nil {
		t.Errorf("segment without type should be rejected")
	}
}

func TestMapReturnsNewTree(t *testing.T) {
	orig := List(Text("a"), List(Image("img"), Emoji("emo")))

	mapped := Map(orig, func(s Seg) Seg {
		if s.IsImage() {
			return Text("[x]")
		}
		return s
	})

	if want := List(Text("a"), List(Text("[x]"), Text("[x]"))); !reflect.DeepEqual(mapped, want) {
		t.Errorf("mapped = %+v", mapped)
	}
	if n := CountImages(orig); n != 2 {
		t.Errorf("original tree must be untouched, has %d images", n)
	}
	if n := CountImages(mapped); n != 0 {
		t.Errorf("mapped tree still has %d images", n)
	}
}

func TestPlainText(t *testing.T) {
	tree := List(Text("看"), Image("b64"), Text("这个"), Emoji("b64"))
	if got := PlainText(tree); got != "看[图片]这个[表情包]" {
		t.Errorf("PlainText = %q", got)
	}
}

func TestEnvelopeJSON(t *testing.T) {
	env := Envelope{
		MessageInfo: BaseMessageInfo{
			Platform:  "qq",
			MessageID: "1001",
			Time:      1700000000,
			UserInfo:  &UserInfo{Platform: "qq", UserID: "42", UserNickname: "nick"},
			GroupInfo: &GroupInfo{Platform: "qq", GroupID: "7", GroupName: "g"},
		},
		MessageSegment: List(Text("hi")),
		RawMessage:     "hi",
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	assertJSON(t, `{
		"message_info":{
			"platform":"qq","message_id":1001,"time":1700000000,
			"user_info":{"platform":"qq","user_id":42,"user_nickname":"nick"},
			"group_info":{"platform":"qq","group_id":7,"group_name":"g"}
		},
		"message_segment":{"type":"seglist","data":[{"type":"text","data":"hi"}]},
		"raw_message":"hi"
	}`, b)

	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.MessageInfo.MessageID != FlexID("1001") {
		t.Errorf("message_id = %q", decoded.MessageInfo.MessageID)
	}
	if decoded.Platform() != "qq" {
		t.Errorf("platform = %q", decoded.Platform())
	}
}

func TestNoticeMessageIDStaysString(t *testing.T) {
	b, err := json.Marshal(BaseMessageInfo{Platform: "qq", MessageID: NoticeMessageID})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	assertJSON(t, `{"platform":"qq","message_id":"notice"}`, b)
}

func TestDecodeRejectsMissingPlatform(t *testing.T) {
	if _, err := Decode([]byte(`{"message_info":{},"message_segment":{"type":"text","data":"x"}}`)); err == nil {
		t.Fatalf("expected error for envelope without platform")
	}
}
