package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const okMessage = `{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`

type sentCall struct {
	method  string
	text    string
	caption string
	chatID  string
}

// fakeBotAPI answers the Bot API methods the notifier uses.
type fakeBotAPI struct {
	mu       sync.Mutex
	calls    []sentCall
	failSend int // sendMessage fails this many times first
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	if method == "getMe" {
		fmt.Fprint(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"lens","username":"lens_bot"}}`)
		return
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		_ = r.ParseMultipartForm(1 << 20)
	} else {
		_ = r.ParseForm()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{
		method:  method,
		text:    r.FormValue("text"),
		caption: r.FormValue("caption"),
		chatID:  r.FormValue("chat_id"),
	})
	if method == "sendMessage" && f.failSend > 0 {
		f.failSend--
		fmt.Fprint(w, `{"ok":false,"error_code":429,"description":"Too Many Requests"}`)
		return
	}
	fmt.Fprint(w, okMessage)
}

func (f *fakeBotAPI) sent() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func newTestNotifier(t *testing.T, api *fakeBotAPI) *TelegramNotifier {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	n, err := newTelegramNotifier("TOKEN", "42", srv.URL+"/bot%s/%s", srv.Client())
	if err != nil {
		t.Fatalf("newTelegramNotifier: %v", err)
	}
	n.Backoff = time.Millisecond
	return n
}

func TestNewTelegramNotifier_BadChatID(t *testing.T) {
	if _, err := newTelegramNotifier("TOKEN", "not-a-number", "http://127.0.0.1:1/bot%s/%s", http.DefaultClient); err == nil {
		t.Fatal("expected chat id parse error")
	}
}

func TestSend(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)

	if err := n.Send(context.Background(), "<b>hi</b>"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	calls := api.sent()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	if calls[0].method != "sendMessage" || calls[0].text != "<b>hi</b>" || calls[0].chatID != "42" {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestSend_CancelledContext(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := n.Send(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(api.sent()) != 0 {
		t.Error("nothing should be sent after cancel")
	}
}

func TestSendPhoto(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)

	if err := n.SendPhoto(context.Background(), "AAPL.png", []byte("\x89PNG"), "AAPL 180d"); err != nil {
		t.Fatalf("SendPhoto: %v", err)
	}
	calls := api.sent()
	if len(calls) != 1 || calls[0].method != "sendPhoto" || calls[0].caption != "AAPL 180d" {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestSendWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failSend  int
		wantErr   bool
		wantCalls int
	}{
		{"first try", 0, false, 1},
		{"recovers", 2, false, 3},
		{"exhausted", 5, true, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBotAPI{failSend: tt.failSend}
			n := newTestNotifier(t, api)

			err := n.SendWithRetry(context.Background(), "report", 2)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := len(api.sent()); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	api := &fakeBotAPI{}
	n := newTestNotifier(t, api)

	var got []string
	handler := func(_ context.Context, text string) Reply {
		got = append(got, text)
		if text == "/chart AAPL" {
			return Reply{Photo: []byte("png"), Caption: "chart", Text: "done"}
		}
		return Reply{Text: "pong"}
	}

	updates := []tgbotapi.Update{
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: " /ping "}},
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}, Text: "/ping"}},
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: ""}},
		{},
		{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 42}, Text: "/chart AAPL"}},
	}
	for _, u := range updates {
		n.dispatch(context.Background(), u, handler)
	}

	if len(got) != 2 || got[0] != "/ping" || got[1] != "/chart AAPL" {
		t.Fatalf("handler saw %q", got)
	}
	var methods []string
	for _, c := range api.sent() {
		methods = append(methods, c.method)
	}
	want := "sendMessage,sendPhoto,sendMessage"
	if strings.Join(methods, ",") != want {
		t.Errorf("methods = %v, want %s", methods, want)
	}
}
