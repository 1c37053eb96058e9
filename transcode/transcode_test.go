package transcode

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/napcatbridge/message"
	"github.com/smallnest/napcatbridge/onebot"
)

var errNotFound = errors.New("not found")

type fakeAPI struct {
	mu       sync.Mutex
	login    *onebot.LoginInfo
	members  map[onebot.ID]*onebot.MemberInfo
	messages map[string]*onebot.MessageDetail
	forwards map[string][]onebot.ForwardNode
	calls    []string
}

func (f *fakeAPI) record(action string) {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	f.mu.Unlock()
}

func (f *fakeAPI) GetLoginInfo(ctx context.Context) (*onebot.LoginInfo, error) {
	f.record(onebot.ActionGetLoginInfo)
	if f.login == nil {
		return nil, errNotFound
	}
	return f.login, nil
}

func (f *fakeAPI) GetGroupInfo(ctx context.Context, groupID onebot.ID) (*onebot.GroupInfo, error) {
	f.record(onebot.ActionGetGroupInfo)
	return nil, errNotFound
}

func (f *fakeAPI) GetGroupMemberInfo(ctx context.Context, groupID, userID onebot.ID) (*onebot.MemberInfo, error) {
	f.record(onebot.ActionGetGroupMemberInfo)
	if m, ok := f.members[userID]; ok {
		return m, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) GetStrangerInfo(ctx context.Context, userID onebot.ID) (*onebot.StrangerInfo, error) {
	f.record(onebot.ActionGetStrangerInfo)
	return nil, errNotFound
}

func (f *fakeAPI) GetMessage(ctx context.Context, messageID string) (*onebot.MessageDetail, error) {
	f.record(onebot.ActionGetMsg)
	if m, ok := f.messages[messageID]; ok {
		return m, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) GetForwardMessage(ctx context.Context, id string) ([]onebot.ForwardNode, error) {
	f.record(onebot.ActionGetForwardMsg)
	if nodes, ok := f.forwards[id]; ok {
		return nodes, nil
	}
	return nil, errNotFound
}

func (f *fakeAPI) SendGroupMsg(ctx context.Context, groupID onebot.ID, msg []onebot.Element) (*onebot.Response, error) {
	return &onebot.Response{Status: "ok"}, nil
}

func (f *fakeAPI) SendPrivateMsg(ctx context.Context, userID onebot.ID, msg []onebot.Element) (*onebot.Response, error) {
	return &onebot.Response{Status: "ok"}, nil
}

// fakeFetcher 返回 "B64:" + url，failing 中的 url 返回错误
type fakeFetcher struct {
	mu      sync.Mutex
	failing map[string]bool
	fetched []string
}

func (f *fakeFetcher) FetchBase64(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if f.failing[url] {
		return "", errors.New("boom")
	}
	return "B64:" + url, nil
}

func textEl(s string) onebot.Element {
	return onebot.NewElement("text", map[string]interface{}{"text": s})
}

func imageEl(url string, subType int) onebot.Element {
	return onebot.NewElement("image", map[string]interface{}{"url": url, "sub_type": subType})
}

func node(nick string, elems ...onebot.Element) onebot.ForwardNode {
	return onebot.ForwardNode{Sender: onebot.Sender{Nickname: nick}, Message: elems}
}

func nestedForwardEl(nodes []onebot.ForwardNode) onebot.Element {
	return onebot.NewElement("forward", map[string]interface{}{"id": "nested", "content": nodes})
}

func newTestInbound(fetcher *fakeFetcher) *Inbound {
	return NewInbound(fetcher, DefaultForwardImageLimit, nil)
}

func assertSegs(t *testing.T, want, got []message.Seg) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Errorf("segments mismatch\nwant: %+v\ngot:  %+v", want, got)
	}
}

func TestTranscodeText(t *testing.T) {
	in := newTestInbound(&fakeFetcher{})
	segs := in.Transcode(context.Background(), onebot.Elements{textEl("hi")}, Context{API: &fakeAPI{}})
	assertSegs(t, []message.Seg{message.Text("hi")}, segs)
}

func TestTranscodeImage(t *testing.T) {
	fetcher := &fakeFetcher{failing: map[string]bool{"http://bad": true, "http://bad-emoji": true}}
	in := newTestInbound(fetcher)

	segs := in.Transcode(context.Background(), onebot.Elements{
		imageEl("http://ok", 0),
		imageEl("http://bad", 0),
		imageEl("http://emoji", 1),
		imageEl("http://bad-emoji", 1),
		textEl("after"),
	}, Context{API: &fakeAPI{}})

	assertSegs(t, []message.Seg{
		message.Image("B64:http://ok"),
		message.Text("[图片]"),
		message.Emoji("B64:http://emoji"),
		message.Text("[表情包]"),
		message.Text("after"),
	}, segs)
}

func TestTranscodeMentions(t *testing.T) {
	api := &fakeAPI{
		login:   &onebot.LoginInfo{UserID: 10001, Nickname: "麦麦"},
		members: map[onebot.ID]*onebot.MemberInfo{42: {UserID: 42, Nickname: "nick", Card: "card"}},
	}
	in := newTestInbound(&fakeFetcher{})
	at := func(qq string) onebot.Element {
		return onebot.NewElement("at", map[string]interface{}{"qq": qq})
	}

	segs := in.Transcode(context.Background(),
		onebot.Elements{at("10001"), at("42"), at("99"), at("all")},
		Context{API: api, SelfID: 10001, GroupID: 555})

	assertSegs(t, []message.Seg{
		message.Text("@麦麦(10001)"),
		message.Text("@card(42)"),
		message.Text("@全体成员"),
	}, segs)
}

func TestTranscodeReply(t *testing.T) {
	api := &fakeAPI{messages: map[string]*onebot.MessageDetail{
		"100": {
			Sender: onebot.Sender{UserID: 42, Nickname: "nick"},
			Message: onebot.Elements{
				onebot.NewElement("reply", map[string]interface{}{"id": "99"}),
				textEl("quoted"),
			},
		},
		"200": {Message: onebot.Elements{textEl("anon")}},
	}}
	in := newTestInbound(&fakeFetcher{})
	reply := func(id string) onebot.Element {
		return onebot.NewElement("reply", map[string]interface{}{"id": id})
	}

	segs := in.Transcode(context.Background(), onebot.Elements{reply("100"), textEl("me too")}, Context{API: api})
	assertSegs(t, []message.Seg{
		message.Text("[回复 nick(42)："),
		message.Text("quoted"),
		message.Text("]，说："),
		message.Text("me too"),
	}, segs)
	// 被引用消息里的 reply 不再展开
	if !reflect.DeepEqual(api.calls, []string{onebot.ActionGetMsg}) {
		t.Errorf("calls = %v, want a single get_msg", api.calls)
	}

	segs = in.Transcode(context.Background(), onebot.Elements{reply("200")}, Context{API: api})
	if len(segs) == 0 || !reflect.DeepEqual(segs[0], message.Text("[回复 QQ用户(未知id)：")) {
		t.Errorf("anonymous quote header = %+v", segs)
	}

	segs = in.Transcode(context.Background(), onebot.Elements{reply("missing"), textEl("x")}, Context{API: api})
	assertSegs(t, []message.Seg{message.Text("x")}, segs)
}

func TestTranscodeUnsupported(t *testing.T) {
	in := newTestInbound(&fakeFetcher{})
	elems := onebot.Elements{}
	for _, typ := range []string{"face", "record", "video", "rps", "dice", "shake", "share", "node"} {
		elems = append(elems, onebot.NewElement(typ, nil))
	}
	if segs := in.Transcode(context.Background(), elems, Context{API: &fakeAPI{}}); len(segs) != 0 {
		t.Errorf("unsupported elements should be dropped, got %+v", segs)
	}
}

func TestForwardFetchFailureDropsOnlyForward(t *testing.T) {
	in := newTestInbound(&fakeFetcher{})
	elems := onebot.Elements{
		textEl("before"),
		onebot.NewElement("forward", map[string]interface{}{"id": "gone"}),
		textEl("after"),
	}
	segs := in.Transcode(context.Background(), elems, Context{API: &fakeAPI{}})
	assertSegs(t, []message.Seg{message.Text("before"), message.Text("after")}, segs)
}

func TestForwardImagePolicy(t *testing.T) {
	cases := []struct {
		images    int
		wantB64   int
		wantHolds int
	}{
		{images: 0},
		{images: 3, wantB64: 3},
		{images: 5, wantHolds: 5},
		{images: 10, wantHolds: 10},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d images", tc.images), func(t *testing.T) {
			nodes := []onebot.ForwardNode{node("a", textEl("hello"))}
			for i := 0; i < tc.images; i++ {
				nodes = append(nodes, node("b", imageEl(fmt.Sprintf("http://img/%d", i), 0)))
			}
			api := &fakeAPI{forwards: map[string][]onebot.ForwardNode{"f1": nodes}}
			fetcher := &fakeFetcher{}
			in := newTestInbound(fetcher)

			segs := in.Transcode(context.Background(),
				onebot.Elements{onebot.NewElement("forward", map[string]interface{}{"id": "f1"})},
				Context{API: api})
			if len(segs) != 1 {
				t.Fatalf("expected one forward tree, got %d segments", len(segs))
			}
			tree := segs[0]

			var b64, holds, urls int
			message.Walk(tree, func(s message.Seg) bool {
				switch {
				case s.Type == message.TypeImage && strings.HasPrefix(s.Data, "B64:"):
					b64++
				case s.Type == message.TypeImage:
					urls++
				case s.Type == message.TypeText && s.Data == "【图片】":
					holds++
				}
				return true
			})
			if b64 != tc.wantB64 || holds != tc.wantHolds {
				t.Errorf("b64=%d holds=%d, want %d/%d", b64, holds, tc.wantB64, tc.wantHolds)
			}
			if urls != 0 {
				t.Errorf("no leaf may keep its raw url, found %d", urls)
			}
			if (tc.images >= DefaultForwardImageLimit || tc.images == 0) && len(fetcher.fetched) != 0 {
				t.Errorf("nothing should be fetched, got %v", fetcher.fetched)
			}
			if text := message.PlainText(tree); !strings.Contains(text, "【a】:hello\n") {
				t.Errorf("forward text = %q", text)
			}
		})
	}
}

func TestForwardEmojiPlaceholder(t *testing.T) {
	var nodes []onebot.ForwardNode
	for i := 0; i < 6; i++ {
		nodes = append(nodes, node("n", imageEl(fmt.Sprintf("http://e/%d", i), 1)))
	}
	in := newTestInbound(&fakeFetcher{})
	tree, ok := in.ExpandForward(context.Background(), nodes, Context{})
	if !ok {
		t.Fatalf("expected forward tree")
	}
	if got, want := message.PlainText(tree), strings.Repeat("【n】:【动画表情】\n", 6); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestForwardDepthIsCapped(t *testing.T) {
	// 5 层嵌套
	inner := []onebot.ForwardNode{node("leaf", textEl("deep"))}
	for level := 5; level >= 1; level-- {
		inner = []onebot.ForwardNode{node(fmt.Sprintf("L%d", level), nestedForwardEl(inner))}
	}

	in := newTestInbound(&fakeFetcher{})
	done := make(chan message.Seg, 1)
	go func() {
		tree, _ := in.ExpandForward(context.Background(), inner, Context{})
		done <- tree
	}()

	var tree message.Seg
	select {
	case tree = <-done:
	case <-time.After(time.Second):
		t.Fatal("forward expansion did not terminate")
	}

	text := message.PlainText(tree)
	if n := strings.Count(text, "合并转发消息内容"); n != 3 {
		t.Errorf("expected 3 expanded levels, got %d", n)
	}
	for _, want := range []string{
		"------【L4】:【转发消息】\n",
		"【L1】: 合并转发消息内容：\n",
		"--【L2】: 合并转发消息内容：\n",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in %q", want, text)
		}
	}
	if strings.Contains(text, "deep") {
		t.Errorf("levels past the cap must not be expanded")
	}
}

func TestForwardEmptyIsDropped(t *testing.T) {
	in := newTestInbound(&fakeFetcher{})
	if _, ok := in.ExpandForward(context.Background(), nil, Context{}); ok {
		t.Fatalf("empty forward should be dropped")
	}
}

func TestFlattenHoistsReply(t *testing.T) {
	tree := message.List(
		message.Text("a"),
		message.List(message.Text("b"), message.Reply("777")),
		message.Seg{Type: message.TypeFace, Data: "1"},
		message.Image("aW1n"),
	)

	out := NewOutbound(nil).Flatten(tree)
	if len(out) != 4 {
		t.Fatalf("expected 4 elements, got %+v", out)
	}
	if out[0].Type != "reply" || out[0].Str("id") != "777" {
		t.Errorf("first element should be the reply, got %+v", out[0])
	}
	if out[1].Str("text") != "a" || out[2].Str("text") != "b" {
		t.Errorf("text order = %q, %q", out[1].Str("text"), out[2].Str("text"))
	}
	if out[3].Type != "image" || out[3].Str("file") != "base64://aW1n" || out[3].Get("subtype").Int() != 0 {
		t.Errorf("image element = %+v", out[3])
	}
}

func TestFlattenDropsNoticeAndExtraReply(t *testing.T) {
	out := NewOutbound(nil).Flatten(message.List(
		message.Reply(message.NoticeMessageID),
		message.Text("x"),
	))
	if len(out) != 1 || out[0].Type != "text" {
		t.Errorf("notice reply should be dropped, got %+v", out)
	}

	out = NewOutbound(nil).Flatten(message.List(message.Reply("1"), message.Reply("2")))
	if len(out) != 1 || out[0].Str("id") != "1" {
		t.Errorf("only the first reply is kept, got %+v", out)
	}
}

func TestFlattenEmojiBecomesGIF(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	pngB64 := base64.StdEncoding.EncodeToString(buf.Bytes())

	out := NewOutbound(nil).Flatten(message.List(message.Emoji(pngB64)))
	if len(out) != 1 {
		t.Fatalf("expected 1 element, got %d", len(out))
	}
	if out[0].Get("subtype").Int() != 1 || out[0].Str("summary") != "[动画表情]" {
		t.Errorf("emoji element = %+v", out[0])
	}

	file := strings.TrimPrefix(out[0].Str("file"), "base64://")
	raw, err := base64.StdEncoding.DecodeString(file)
	if err != nil {
		t.Fatalf("decode file: %v", err)
	}
	if !bytes.HasPrefix(raw, []byte("GIF8")) {
		t.Errorf("emoji should be re-encoded as GIF")
	}
}

func TestToGIFKeepsGIFAndBadInput(t *testing.T) {
	gifB64 := base64.StdEncoding.EncodeToString([]byte("GIF89a-fake"))
	got, err := ToGIF(gifB64)
	if err != nil || got != gifB64 {
		t.Errorf("GIF input should pass through, got %q, %v", got, err)
	}

	got, err = ToGIF("not base64!!")
	if err == nil {
		t.Errorf("expected error for bad base64")
	}
	if got != "not base64!!" {
		t.Errorf("bad input should be returned unchanged, got %q", got)
	}
}

func TestHTTPImageFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	f := NewHTTPImageFetcher(time.Second)
	got, err := f.FetchBase64(context.Background(), srv.URL+"/a.png")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if want := base64.StdEncoding.EncodeToString([]byte("pixels")); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := f.FetchBase64(context.Background(), srv.URL+"/missing"); err == nil {
		t.Errorf("expected error for 404")
	}
	if _, err := f.FetchBase64(context.Background(), ""); err == nil {
		t.Errorf("expected error for empty url")
	}
}

func TestHTTPImageFetcherVerifiesChain(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	// 自签名证书不在系统信任链中
	if _, err := NewHTTPImageFetcher(time.Second).FetchBase64(context.Background(), srv.URL); err == nil {
		t.Fatalf("self-signed certificate should be rejected")
	}
}
