package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[{"name":"llama3.2","size":2019393189},{"name":"qwen2.5"}]}`)
	}))
	defer srv.Close()

	models, err := NewClient().ListModels(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.2", models[0].Name)
	assert.Equal(t, int64(2019393189), models[0].Size)
}

func TestListModelsTrailingSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	_, err := NewClient().ListModels(context.Background(), srv.URL+"/")
	require.NoError(t, err)
}

func TestListModelsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient().ListModels(context.Background(), srv.URL)
	var unexpected *UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
}

func TestListModelsMalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	_, err := NewClient().ListModels(context.Background(), srv.URL)
	var unexpected *UnexpectedResponseError
	require.ErrorAs(t, err, &unexpected)
}

func TestListModelsUnreachable(t *testing.T) {
	_, err := NewClient().ListModels(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)

	// 网络失败不是响应异常，两类错误驱动不同的健康状态
	var unexpected *UnexpectedResponseError
	assert.False(t, errors.As(err, &unexpected))
}

func streamBody(w http.ResponseWriter, lines ...string) {
	flusher := w.(http.Flusher)
	for _, line := range lines {
		fmt.Fprintln(w, line)
		flusher.Flush()
	}
}

func TestStreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)

		var req map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "llama3.2", req["model"])
		assert.Equal(t, true, req["stream"])
		opts := req["options"].(map[string]interface{})
		assert.Equal(t, 0.2, opts["temperature"])
		assert.Equal(t, float64(512), opts["num_predict"])

		streamBody(w,
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"eval_count":42,"prompt_eval_count":7}`,
		)
	}))
	defer srv.Close()

	temperature := 0.2
	maxTokens := 512
	var got []string
	stats, err := NewClient().StreamChat(context.Background(), srv.URL, "llama3.2",
		[]Message{{Role: "user", Content: "hi"}},
		&Options{Temperature: &temperature, MaxTokens: &maxTokens},
		func(content string) error {
			got = append(got, content)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo"}, got)
	require.NotNil(t, stats)
	assert.Equal(t, 42, stats.EvalCount)
	assert.Equal(t, 7, stats.PromptEvalCount)
}

func TestStreamChatOnChunkErrorAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamBody(w,
			`{"message":{"role":"assistant","content":"a"},"done":false}`,
			`{"message":{"role":"assistant","content":"b"},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true}`,
		)
	}))
	defer srv.Close()

	abort := errors.New("caller aborted")
	calls := 0
	_, err := NewClient().StreamChat(context.Background(), srv.URL, "llama3.2", nil, nil,
		func(content string) error {
			calls++
			return abort
		})
	require.ErrorIs(t, err, abort)
	assert.Equal(t, 1, calls)
}

func TestStreamChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamBody(w, `{"error":"model not found"}`)
	}))
	defer srv.Close()

	_, err := NewClient().StreamChat(context.Background(), srv.URL, "missing", nil, nil,
		func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestStreamChatTruncatedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 只发一个分块就断开，不发 done
		streamBody(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
	}))
	defer srv.Close()

	var got []string
	_, err := NewClient().StreamChat(context.Background(), srv.URL, "llama3.2", nil, nil,
		func(content string) error {
			got = append(got, content)
			return nil
		})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, []string{"partial"}, got)
}

func TestStreamChatContextCancel(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamBody(w, `{"message":{"role":"assistant","content":"first"},"done":false}`)
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := NewClient().StreamChat(ctx, srv.URL, "llama3.2", nil, nil,
		func(content string) error {
			cancel()
			return nil
		})
	require.Error(t, err)
}

func TestChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, false, req["stream"])

		fmt.Fprint(w, `{"message":{"role":"assistant","content":"Short Title"},"done":true}`)
	}))
	defer srv.Close()

	reply, err := NewClient().Chat(context.Background(), srv.URL, "llama3.2",
		[]Message{{Role: "user", Content: "summarize"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Short Title", reply)
}

func TestChatNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient().Chat(context.Background(), srv.URL, "llama3.2", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-200")
}
