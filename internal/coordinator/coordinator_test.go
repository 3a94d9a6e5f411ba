package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"loom/internal/api"
	"loom/internal/cache"
	"loom/internal/config"
	"loom/internal/model"
	"loom/internal/state"
)

func newCoordinator(baseURL string) *Coordinator {
	client := api.New(&config.APIConfig{BaseURL: baseURL, Timeout: 5 * time.Second})
	return New(client, cache.New(20, 5*time.Minute), nil)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestSelect_LastRequestWins(t *testing.T) {
	Convey("快速连续切换 A→B 时最终展示的总是 B", t, func() {
		aArrived := make(chan struct{})
		aRelease := make(chan struct{})

		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/conversations/conv-a", func(w http.ResponseWriter, r *http.Request) {
			close(aArrived)
			select {
			case <-aRelease:
			case <-r.Context().Done():
				return
			}
			writeJSON(w, model.Conversation{ID: "conv-a"})
		})
		mux.HandleFunc("GET /api/conversations/conv-b", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.Conversation{ID: "conv-b", Title: "B"})
		})
		mux.HandleFunc("GET /api/conversations/conv-b/messages", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.MessageListResponse{Messages: []model.Message{
				{ID: "mb", Role: model.RoleAssistant, Content: "from B"},
			}})
		})
		mux.HandleFunc("GET /api/conversations/conv-b/questions", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.QuestionListResponse{})
		})
		mux.HandleFunc("GET /api/conversations/conv-b/documents", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.DocumentListResponse{})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)

		aDone := make(chan error, 1)
		go func() { aDone <- coord.Select(context.Background(), "conv-a") }()
		<-aArrived

		// A 的请求仍在途时切到 B
		So(coord.Select(context.Background(), "conv-b"), ShouldBeNil)

		// 释放 A，无论 A 何时返回都不得覆盖 B
		close(aRelease)
		So(<-aDone, ShouldBeNil)

		w := coord.Store().Read()
		So(w.ActiveConversationID, ShouldEqual, "conv-b")
		So(w.Messages, ShouldHaveLength, 1)
		So(w.Messages[0].Content, ShouldEqual, "from B")
		So(w.Err, ShouldBeEmpty)
	})
}

func TestSelect_RequiredAndOptional(t *testing.T) {
	Convey("切换的必需与可选子拉取", t, func() {
		Convey("消息历史失败则整个切换中止并给出错误", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/conversations/conv-1", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, model.Conversation{ID: "conv-1"})
			})
			mux.HandleFunc("GET /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"code":50000,"message":"boom"}`, http.StatusInternalServerError)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			coord := newCoordinator(server.URL)
			So(coord.Select(context.Background(), "conv-1"), ShouldNotBeNil)

			w := coord.Store().Read()
			So(w.Err, ShouldEqual, "failed to open conversation")
			So(w.Switching, ShouldBeFalse)
		})

		Convey("文档与问题失败时降级为空列表，不中止切换", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /api/conversations/conv-1", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, model.Conversation{ID: "conv-1"})
			})
			mux.HandleFunc("GET /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, model.MessageListResponse{Messages: []model.Message{{ID: "m1", Role: model.RoleUser, Content: "hi"}}})
			})
			mux.HandleFunc("GET /api/conversations/conv-1/questions", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusBadGateway)
			})
			mux.HandleFunc("GET /api/conversations/conv-1/documents", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "oops", http.StatusBadGateway)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			coord := newCoordinator(server.URL)
			So(coord.Select(context.Background(), "conv-1"), ShouldBeNil)

			w := coord.Store().Read()
			So(w.Err, ShouldBeEmpty)
			So(w.ActiveConversationID, ShouldEqual, "conv-1")
			So(w.Messages, ShouldHaveLength, 1)
			So(w.Questions, ShouldBeEmpty)
			So(w.Documents, ShouldBeEmpty)
		})
	})
}

func TestSelect_CacheOptimistic(t *testing.T) {
	Convey("缓存命中时先乐观渲染，网络结果覆盖", t, func() {
		netArrived := make(chan struct{})
		netRelease := make(chan struct{})

		mux := http.NewServeMux()
		mux.HandleFunc("GET /api/conversations/conv-1", func(w http.ResponseWriter, r *http.Request) {
			close(netArrived)
			<-netRelease
			writeJSON(w, model.Conversation{ID: "conv-1"})
		})
		mux.HandleFunc("GET /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.MessageListResponse{Messages: []model.Message{{ID: "m1", Role: model.RoleUser, Content: "fresh"}}})
		})
		mux.HandleFunc("GET /api/conversations/conv-1/questions", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.QuestionListResponse{})
		})
		mux.HandleFunc("GET /api/conversations/conv-1/documents", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, model.DocumentListResponse{})
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.cache.Put("conv-1", cache.Entry{
			Messages: []model.Message{{ID: "m0", Role: model.RoleUser, Content: "cached"}},
		})

		done := make(chan error, 1)
		go func() { done <- coord.Select(context.Background(), "conv-1") }()
		<-netArrived

		// 网络返回前就应看到缓存快照
		w := coord.Store().Read()
		So(w.ActiveConversationID, ShouldEqual, "conv-1")
		So(w.Messages[0].Content, ShouldEqual, "cached")

		close(netRelease)
		So(<-done, ShouldBeNil)

		// 真相来源覆盖乐观展示
		w = coord.Store().Read()
		So(w.Messages[0].Content, ShouldEqual, "fresh")
	})
}

func TestSend_CancelSettlement(t *testing.T) {
	Convey("流式应答的取消落定规则", t, func() {
		tokensSent := make(chan struct{})
		release := make(chan struct{})

		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "event: token\ndata: {\"text\":\"Hello wor\"}\n\n")
			w.(http.Flusher).Flush()
			close(tokensSent)
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		server := httptest.NewServer(mux)
		defer server.Close()
		defer close(release)

		coord := newCoordinator(server.URL)
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.ActiveConversationID = "conv-1"
			return w
		})

		Convey("部分内容已累计时取消提交为助手消息", func() {
			done := make(chan error, 1)
			go func() { done <- coord.Send(context.Background(), "hi") }()
			<-tokensSent

			So(waitFor(func() bool {
				return coord.Store().Read().StreamingContent == "Hello wor"
			}), ShouldBeTrue)

			coord.StopStreaming()
			So(<-done, ShouldBeNil)

			w := coord.Store().Read()
			So(w.Streaming, ShouldBeFalse)
			So(w.Err, ShouldBeEmpty)
			So(w.Messages, ShouldHaveLength, 2) // 用户消息 + 部分助手消息
			So(w.Messages[1].Role, ShouldEqual, model.RoleAssistant)
			So(w.Messages[1].Content, ShouldEqual, "Hello wor")
		})
	})
}

func TestSend_CancelBeforeTokens(t *testing.T) {
	Convey("未收到任何 token 就取消则不产生助手消息", t, func() {
		arrived := make(chan struct{})
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			close(arrived)
			<-r.Context().Done()
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.ActiveConversationID = "conv-1"
			return w
		})

		done := make(chan error, 1)
		go func() { done <- coord.Send(context.Background(), "hi") }()
		<-arrived

		coord.StopStreaming()
		So(<-done, ShouldBeNil)

		w := coord.Store().Read()
		So(w.Streaming, ShouldBeFalse)
		So(w.Messages, ShouldHaveLength, 1) // 只有乐观入列的用户消息
		So(w.Messages[0].Role, ShouldEqual, model.RoleUser)
	})
}

func TestSend_ErrorEvent(t *testing.T) {
	Convey("error 事件清除进行中状态并抑制助手消息", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
			for i := 0; i < 10; i++ {
				fmt.Fprintf(w, "event: token\ndata: {\"text\":\"t%d \"}\n\n", i)
			}
			fmt.Fprint(w, "event: error\ndata: {\"message\":\"inference failed\"}\n\n")
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.ActiveConversationID = "conv-1"
			return w
		})

		So(coord.Send(context.Background(), "hi"), ShouldBeNil)

		w := coord.Store().Read()
		So(w.Streaming, ShouldBeFalse)
		So(w.Err, ShouldEqual, "inference failed")
		So(w.Messages, ShouldHaveLength, 1) // 用户消息保留，无助手消息
	})
}

func TestSend_NetworkFailure(t *testing.T) {
	Convey("非取消的网络失败保留用户消息并给出错误", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/conversations/conv-1/messages", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "event: token\ndata: {\"text\":\"part\"}\n\n")
			w.(http.Flusher).Flush()
			conn, _, _ := w.(http.Hijacker).Hijack()
			conn.Close()
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.ActiveConversationID = "conv-1"
			return w
		})

		So(coord.Send(context.Background(), "hi"), ShouldBeNil)

		w := coord.Store().Read()
		So(w.Streaming, ShouldBeFalse)
		So(w.Err, ShouldNotBeEmpty)
		So(w.Messages, ShouldHaveLength, 1)
		So(w.Messages[0].Role, ShouldEqual, model.RoleUser)
	})
}

func TestAnswerQuestion_Optimistic(t *testing.T) {
	Convey("问题选项的乐观选择", t, func() {
		seed := func(coord *Coordinator) {
			coord.store.Update(func(w state.Workspace) state.Workspace {
				w.Questions = []model.Question{{
					ID:               "q1",
					Text:             "why",
					SelectedOptionID: "opt-old",
				}}
				return w
			})
		}

		Convey("持久化成功时新值保留", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("PATCH /api/questions/q1", func(w http.ResponseWriter, r *http.Request) {
				var req model.QuestionSelectionRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.SelectedOptionID != "opt-new" {
					http.Error(w, "wrong option", http.StatusBadRequest)
					return
				}
				w.WriteHeader(http.StatusNoContent)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			coord := newCoordinator(server.URL)
			seed(coord)

			So(coord.AnswerQuestion(context.Background(), "q1", "opt-new"), ShouldBeNil)
			So(coord.Store().Read().Questions[0].SelectedOptionID, ShouldEqual, "opt-new")
		})

		Convey("持久化失败时回滚到先前值并给出通知", func() {
			mux := http.NewServeMux()
			mux.HandleFunc("PATCH /api/questions/q1", func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"code":50000,"message":"boom"}`, http.StatusInternalServerError)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			coord := newCoordinator(server.URL)
			seed(coord)

			So(coord.AnswerQuestion(context.Background(), "q1", "opt-new"), ShouldNotBeNil)

			w := coord.Store().Read()
			So(w.Questions[0].SelectedOptionID, ShouldEqual, "opt-old")
			So(w.Notice, ShouldNotBeEmpty)
		})
	})
}

func TestSetFeedback_Optimistic(t *testing.T) {
	Convey("消息反馈的乐观更新", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("PATCH /api/messages/m1/feedback", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.Messages = []model.Message{{ID: "m1", Role: model.RoleAssistant, Feedback: model.FeedbackUp}}
			return w
		})

		So(coord.SetFeedback(context.Background(), "m1", model.FeedbackDown), ShouldNotBeNil)
		So(coord.Store().Read().Messages[0].Feedback, ShouldEqual, model.FeedbackUp)
	})
}

func TestDelete(t *testing.T) {
	Convey("删除对话需服务端确认后再清除本地", t, func() {
		deleted := false
		mux := http.NewServeMux()
		mux.HandleFunc("DELETE /api/conversations/conv-1", func(w http.ResponseWriter, r *http.Request) {
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		})
		server := httptest.NewServer(mux)
		defer server.Close()

		coord := newCoordinator(server.URL)
		coord.cache.Put("conv-1", cache.Entry{})
		coord.store.Update(func(w state.Workspace) state.Workspace {
			w.Conversations = []model.Conversation{{ID: "conv-1"}, {ID: "conv-2"}}
			w.ActiveConversationID = "conv-1"
			w.Messages = []model.Message{{ID: "m1"}}
			return w
		})

		So(coord.Delete(context.Background(), "conv-1"), ShouldBeNil)
		So(deleted, ShouldBeTrue)

		w := coord.Store().Read()
		So(w.Conversations, ShouldHaveLength, 1)
		So(w.ActiveConversationID, ShouldBeEmpty)
		So(w.Messages, ShouldBeEmpty)
		_, ok := coord.cache.Get("conv-1")
		So(ok, ShouldBeFalse)
	})
}
