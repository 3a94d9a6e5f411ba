package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"loom/internal/api"
	"loom/internal/config"
)

// newStreamServer 启动只服务流式发送接口的测试后端
func newStreamServer(handler http.HandlerFunc) (*httptest.Server, *Orchestrator) {
	server := httptest.NewServer(handler)
	client := api.New(&config.APIConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	return server, NewOrchestrator(client)
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestOrchestrator_Stream(t *testing.T) {
	Convey("Orchestrator 消费帧式事件流", t, func() {
		Convey("token 按到达顺序累计，EOF 产出 stream_end", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: token\ndata: {\"text\":\"Hello \"}\n\n")
				fmt.Fprint(w, "event: token\ndata: {\"text\":\"world\"}\n\n")
				fmt.Fprint(w, "event: done\ndata: {}\n\n")
			})
			defer server.Close()

			ch, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldBeNil)

			events := collect(ch)
			So(events, ShouldHaveLength, 4)
			So(events[0].Delta, ShouldEqual, "Hello ")
			So(events[1].Text, ShouldEqual, "Hello world")
			So(events[2].Type, ShouldEqual, EventDone)
			So(events[3].Type, ShouldEqual, EventStreamEnd)
			So(events[3].Text, ShouldEqual, "Hello world")
			So(events[3].Canceled, ShouldBeFalse)
		})

		Convey("goals/insights/question/title/structured_data 逐类分发", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: goals\ndata: [{\"id\":\"g1\",\"text\":\"goal\",\"category\":\"c\"}]\n\n")
				fmt.Fprint(w, "event: insights\ndata: [{\"id\":\"i1\",\"text\":\"insight\",\"type\":\"t\"}]\n\n")
				fmt.Fprint(w, "event: question\ndata: {\"question_id\":\"q1\",\"question_text\":\"why\",\"options\":[{\"id\":\"o1\",\"text\":\"a\"}]}\n\n")
				fmt.Fprint(w, "event: title\ndata: {\"title\":\"Named\"}\n\n")
				fmt.Fprint(w, "event: structured_data\ndata: {\"documents\":[{\"id\":\"d1\",\"name\":\"doc\",\"matrix_data\":{\"cells\":{}}}]}\n\n")
			})
			defer server.Close()

			ch, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldBeNil)

			events := collect(ch)
			So(events, ShouldHaveLength, 6)
			So(events[0].Goals[0].ID, ShouldEqual, "g1")
			So(events[1].Insights[0].Type, ShouldEqual, "t")
			So(events[2].Question.ID, ShouldEqual, "q1")
			So(events[2].Question.MessageID, ShouldBeEmpty)
			So(events[3].Title, ShouldEqual, "Named")
			So(events[4].Documents, ShouldHaveLength, 1)
			So(string(events[4].Raw), ShouldContainSubstring, "documents")
			So(events[5].Type, ShouldEqual, EventStreamEnd)
		})

		Convey("error 事件终结流且不产出 stream_end", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				for i := 0; i < 10; i++ {
					fmt.Fprintf(w, "event: token\ndata: {\"text\":\"t%d \"}\n\n", i)
				}
				fmt.Fprint(w, "event: error\ndata: {\"message\":\"backend exploded\"}\n\n")
			})
			defer server.Close()

			ch, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldBeNil)

			events := collect(ch)
			So(events, ShouldHaveLength, 11)
			last := events[len(events)-1]
			So(last.Type, ShouldEqual, EventError)
			So(last.Message, ShouldEqual, "backend exploded")
		})

		Convey("坏 JSON 与未知事件跳过，不中断流", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: token\ndata: {not json}\n\n")
				fmt.Fprint(w, "event: mystery\ndata: {}\n\n")
				fmt.Fprint(w, "event: token\ndata: {\"text\":\"ok\"}\n\n")
			})
			defer server.Close()

			ch, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldBeNil)

			events := collect(ch)
			So(events, ShouldHaveLength, 2)
			So(events[0].Text, ShouldEqual, "ok")
			So(events[1].Type, ShouldEqual, EventStreamEnd)
		})

		Convey("取消归类为正常终结并携带已累计内容", func() {
			release := make(chan struct{})
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: token\ndata: {\"text\":\"Hello wor\"}\n\n")
				w.(http.Flusher).Flush()
				<-release
			})
			defer server.Close()
			defer close(release)

			ctx, cancelFn := context.WithCancel(context.Background())
			ch, err := o.Stream(ctx, "conv-1", "hi")
			So(err, ShouldBeNil)

			first := <-ch
			So(first.Text, ShouldEqual, "Hello wor")
			cancelFn()

			events := collect(ch)
			last := events[len(events)-1]
			So(last.Type, ShouldEqual, EventStreamEnd)
			So(last.Canceled, ShouldBeTrue)
			So(last.Text, ShouldEqual, "Hello wor")
		})

		Convey("非取消的连接中断产出 stream_fail", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "event: token\ndata: {\"text\":\"partial\"}\n\n")
				w.(http.Flusher).Flush()
				conn, _, _ := w.(http.Hijacker).Hijack()
				conn.Close()
			})
			defer server.Close()

			ch, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldBeNil)

			events := collect(ch)
			last := events[len(events)-1]
			So(last.Type, ShouldEqual, EventStreamFail)
			So(last.Message, ShouldNotBeEmpty)
		})

		Convey("非 200 响应直接返回错误", func() {
			server, o := newStreamServer(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"code":50001,"message":"no credits"}`, http.StatusPaymentRequired)
			})
			defer server.Close()

			_, err := o.Stream(context.Background(), "conv-1", "hi")
			So(err, ShouldNotBeNil)
		})
	})
}
