package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/napcatbridge/correlation"
	"github.com/smallnest/napcatbridge/types"
)

func mustClassify(t *testing.T, payload string) Frame {
	t.Helper()
	frame, err := Classify([]byte(payload))
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	return frame
}

func TestClassifyGroupMessage(t *testing.T) {
	payload := `{"post_type":"message","message_type":"group","sub_type":"normal",
		"self_id":10001,"group_id":"555","user_id":42,"message_id":7,
		"message":[{"type":"text","data":{"text":"hi"}}],
		"sender":{"user_id":42,"nickname":"nick","card":"card"}}`

	frame := mustClassify(t, payload)
	if frame.Kind != KindEvent || frame.Event == nil {
		t.Fatalf("expected event frame, got %v", frame.Kind)
	}

	ev := frame.Event
	if ev.GroupID != 555 || ev.SelfID != 10001 {
		t.Errorf("ids: group=%d self=%d", ev.GroupID, ev.SelfID)
	}
	if !ev.IsGroup() {
		t.Errorf("expected group message")
	}
	if len(ev.Message) != 1 || ev.Message[0].Type != "text" || ev.Message[0].Str("text") != "hi" {
		t.Errorf("message = %+v", ev.Message)
	}
	if ev.Sender.Card != "card" {
		t.Errorf("card = %q", ev.Sender.Card)
	}

	var want, got interface{}
	_ = json.Unmarshal([]byte(payload), &want)
	if err := json.Unmarshal(ev.Raw, &got); err != nil || !reflect.DeepEqual(want, got) {
		t.Errorf("raw payload not preserved: %s", ev.Raw)
	}
}

func TestClassifyStringMessage(t *testing.T) {
	frame := mustClassify(t, `{"post_type":"message","message_type":"private","user_id":1,"message":"plain"}`)
	if len(frame.Event.Message) != 1 || frame.Event.Message[0].Str("text") != "plain" {
		t.Fatalf("string message should become one text element, got %+v", frame.Event.Message)
	}
}

func TestClassifyResponse(t *testing.T) {
	frame := mustClassify(t, `{"status":"ok","retcode":0,"data":{"message_id":9},"echo":"abc"}`)
	if frame.Kind != KindResponse {
		t.Fatalf("kind = %v", frame.Kind)
	}
	resp := frame.Response
	if resp.Echo != "abc" || !resp.OK() {
		t.Errorf("response = %+v", resp)
	}
	if id := resp.Get("message_id").Int(); id != 9 {
		t.Errorf("message_id = %d", id)
	}

	frame = mustClassify(t, `{"status":"ok","retcode":0,"echo":123}`)
	if frame.Response.Echo != "123" {
		t.Errorf("numeric echo = %q", frame.Response.Echo)
	}
}

func TestClassifyHeartbeat(t *testing.T) {
	frame := mustClassify(t, `{"post_type":"meta_event","meta_event_type":"heartbeat","self_id":1,
		"status":{"online":true,"good":true},"interval":5000}`)
	if !frame.Event.Status.Healthy() {
		t.Errorf("status should be healthy")
	}
	if frame.Event.Interval != 5000 {
		t.Errorf("interval = %d", frame.Event.Interval)
	}
}

func TestClassifyUnknownPostType(t *testing.T) {
	frame := mustClassify(t, `{"post_type":"request","request_type":"friend"}`)
	if frame.Kind != KindUnknown || frame.PostType != "request" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestClassifyDecodeErrors(t *testing.T) {
	cases := map[string]string{
		"invalid json":      `{"post_type":`,
		"not object":        `[1,2,3]`,
		"response no echo":  `{"status":"ok","retcode":0}`,
		"message no type":   `{"post_type":"message","user_id":1}`,
		"group no group id": `{"post_type":"message","message_type":"group"}`,
		"meta no type":      `{"post_type":"meta_event"}`,
		"notice no type":    `{"post_type":"notice"}`,
		"bad id":            `{"post_type":"message","message_type":"private","user_id":"abc"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Classify([]byte(payload))
			var decodeErr *types.ProtocolDecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected ProtocolDecodeError, got %T: %v", err, err)
			}
		})
	}
}

func TestRawInfoText(t *testing.T) {
	ev := Event{RawInfo: json.RawMessage(`[{"type":"qq"},{"type":"nor"},{"txt":"拍了拍"},{"type":"qq"},{"txt":"的脑袋"}]`)}
	empty := Event{}
	tests := []struct {
		ev       Event
		index    int
		fallback string
		want     string
	}{
		{ev, 2, "戳了戳", "拍了拍"},
		{ev, 4, "", "的脑袋"},
		{ev, 9, "默认", "默认"},
		{empty, 2, "戳了戳", "戳了戳"},
	}
	for _, tt := range tests {
		if got := tt.ev.RawInfoText(tt.index, tt.fallback); got != tt.want {
			t.Errorf("RawInfoText(%d) = %q, want %q", tt.index, got, tt.want)
		}
	}
}

// loopbackConn 把请求交给 reply 生成响应并写回关联表
type loopbackConn struct {
	mu    sync.Mutex
	store *correlation.Store[*Response]
	reply func(req Request) *Response
	sent  []Request
	fail  error
}

func (c *loopbackConn) SendJSON(v interface{}) error {
	if c.fail != nil {
		return c.fail
	}
	req := v.(Request)
	c.mu.Lock()
	c.sent = append(c.sent, req)
	c.mu.Unlock()
	if resp := c.reply(req); resp != nil {
		resp.Echo = req.Echo
		go c.store.Put(req.Echo, resp)
	}
	return nil
}

func TestCallerDecodesData(t *testing.T) {
	store := correlation.NewStore[*Response]()
	conn := &loopbackConn{store: store, reply: func(req Request) *Response {
		return &Response{Status: "ok", Data: json.RawMessage(`{"user_id":"10001","nickname":"bot"}`)}
	}}
	caller := NewCaller(conn, store, time.Second, nil)

	info, err := caller.GetLoginInfo(context.Background())
	if err != nil {
		t.Fatalf("GetLoginInfo failed: %v", err)
	}
	if info.UserID != 10001 || info.Nickname != "bot" {
		t.Errorf("info = %+v", info)
	}
	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 request, got %d", len(conn.sent))
	}
	if conn.sent[0].Action != ActionGetLoginInfo || conn.sent[0].Echo == "" {
		t.Errorf("request = %+v", conn.sent[0])
	}
	if store.Pending() != 0 {
		t.Errorf("pending=%d after answered call", store.Pending())
	}
}

func TestCallerActionFailure(t *testing.T) {
	store := correlation.NewStore[*Response]()
	conn := &loopbackConn{store: store, reply: func(req Request) *Response {
		return &Response{Status: "failed", RetCode: 1200, Wording: "not a member"}
	}}
	caller := NewCaller(conn, store, time.Second, nil)

	_, err := caller.GetGroupMemberInfo(context.Background(), 1, 2)
	var actionErr *types.ActionFailureError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionFailureError, got %v", err)
	}
	if actionErr.Action != ActionGetGroupMemberInfo || actionErr.Message != "not a member" {
		t.Errorf("error = %+v", actionErr)
	}
}

func TestCallerTimeout(t *testing.T) {
	store := correlation.NewStore[*Response]()
	conn := &loopbackConn{store: store, reply: func(req Request) *Response { return nil }}
	caller := NewCaller(conn, store, 20*time.Millisecond, nil)

	_, err := caller.GetMessage(context.Background(), "1")
	if types.KindOf(err) != types.ErrorKindCorrelationTimeout {
		t.Fatalf("expected correlation timeout, got %v", err)
	}
}

func TestCallerWriteFailure(t *testing.T) {
	store := correlation.NewStore[*Response]()
	conn := &loopbackConn{store: store, fail: errors.New("broken pipe")}
	caller := NewCaller(conn, store, time.Second, nil)

	_, err := caller.SendPrivateMsg(context.Background(), 1, nil)
	if types.KindOf(err) != types.ErrorKindConnectionLost {
		t.Fatalf("expected connection lost, got %v", err)
	}
}

func TestForwardNodeElements(t *testing.T) {
	var node ForwardNode
	if err := json.Unmarshal([]byte(`{"sender":{"nickname":"a"},"content":[{"type":"text","data":{"text":"x"}}]}`), &node); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	elems := node.Elements()
	if len(elems) != 1 || elems[0].Str("text") != "x" {
		t.Fatalf("elements = %+v", elems)
	}
}
