package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"ollama-chat-go/internal/model"
	"ollama-chat-go/pkg/ollama"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistryFixture(client *scriptedOllama) (*fakeServerRepo, RegistryService) {
	repo := newFakeServerRepo()
	return repo, NewRegistryService(repo, client, time.Second)
}

func addServer(t *testing.T, repo *fakeServerRepo, name string, active bool, status string) *model.InferenceServer {
	t.Helper()
	server := &model.InferenceServer{
		Name:     name,
		BaseURL:  "http://" + name + ":11434",
		IsActive: active,
		Status:   status,
	}
	require.NoError(t, repo.Create(server))
	return server
}

func TestCreateServerStartsUnknown(t *testing.T) {
	_, svc := newRegistryFixture(&scriptedOllama{})

	server := &model.InferenceServer{Name: "gpu-1", BaseURL: "http://gpu-1:11434", Status: "online"}
	require.NoError(t, svc.CreateServer(server))
	assert.Equal(t, model.ServerStatusUnknown, server.Status)
}

func TestCheckServerOnline(t *testing.T) {
	client := &scriptedOllama{models: []ollama.ModelInfo{{Name: "llama3.2"}, {Name: "qwen2.5"}}}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", true, model.ServerStatusUnknown)

	checked, err := svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ServerStatusOnline, checked.Status)
	assert.Equal(t, 2, checked.ModelsCount)
	assert.Nil(t, checked.LastError)
	require.NotNil(t, checked.LastCheckedAt)
	require.NotNil(t, checked.AvgLatencyMs)
}

func TestCheckServerOffline(t *testing.T) {
	client := &scriptedOllama{modelsErr: errors.New("dial tcp: connection refused")}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", true, model.ServerStatusOnline)

	checked, err := svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)

	assert.Equal(t, model.ServerStatusOffline, checked.Status)
	require.NotNil(t, checked.LastError)
	assert.Contains(t, *checked.LastError, "connection refused")
}

func TestCheckServerUnexpectedResponse(t *testing.T) {
	client := &scriptedOllama{modelsErr: &ollama.UnexpectedResponseError{Reason: "invalid tags payload"}}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", true, model.ServerStatusOnline)

	checked, err := svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)

	// 可达但响应异常的服务器标记为 error，与 offline 区分
	assert.Equal(t, model.ServerStatusError, checked.Status)
	require.NotNil(t, checked.LastError)
}

func TestCheckServerProbesInactive(t *testing.T) {
	client := &scriptedOllama{models: []ollama.ModelInfo{{Name: "llama3.2"}}}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", false, model.ServerStatusUnknown)

	// 周期扫描跳过停用的服务器，手动检查不跳过
	checked, err := svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ServerStatusOnline, checked.Status)
}

func TestCheckServerNotFound(t *testing.T) {
	_, svc := newRegistryFixture(&scriptedOllama{})

	_, err := svc.CheckServer(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrServerNotFound)
}

func TestUpdateServerKeepsMonitorHealthFields(t *testing.T) {
	client := &scriptedOllama{models: []ollama.ModelInfo{{Name: "llama3.2"}}}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", true, model.ServerStatusUnknown)

	// 管理员先读到 unknown 的快照
	snapshot, err := svc.GetServer(server.ID)
	require.NoError(t, err)

	// 快照保存前探测完成并落库
	_, err = svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)

	// 带旧快照写回身份字段，不得覆盖探测结论
	snapshot.Description = "primary GPU box"
	require.NoError(t, svc.UpdateServer(snapshot, false))

	stored, err := svc.GetServer(server.ID)
	require.NoError(t, err)
	assert.Equal(t, "primary GPU box", stored.Description)
	assert.Equal(t, model.ServerStatusOnline, stored.Status)
	require.NotNil(t, stored.LastCheckedAt)

	usable, err := svc.UsableServers()
	require.NoError(t, err)
	require.Len(t, usable, 1)
}

func TestUpdateServerBaseURLChangeResetsHealth(t *testing.T) {
	client := &scriptedOllama{models: []ollama.ModelInfo{{Name: "llama3.2"}}}
	repo, svc := newRegistryFixture(client)
	server := addServer(t, repo, "gpu-1", true, model.ServerStatusUnknown)

	_, err := svc.CheckServer(context.Background(), server.ID)
	require.NoError(t, err)

	snapshot, err := svc.GetServer(server.ID)
	require.NoError(t, err)
	snapshot.BaseURL = "http://gpu-1-new:11434"
	require.NoError(t, svc.UpdateServer(snapshot, true))

	stored, err := svc.GetServer(server.ID)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-1-new:11434", stored.BaseURL)
	assert.Equal(t, model.ServerStatusUnknown, stored.Status)
	assert.Nil(t, stored.LastCheckedAt)
	assert.Nil(t, stored.AvgLatencyMs)
	assert.Equal(t, 0, stored.ModelsCount)
}

func TestUsableServersExcludesOfflineAndInactive(t *testing.T) {
	repo, svc := newRegistryFixture(&scriptedOllama{})
	addServer(t, repo, "online", true, model.ServerStatusOnline)
	addServer(t, repo, "offline", true, model.ServerStatusOffline)
	addServer(t, repo, "disabled", false, model.ServerStatusOnline)
	addServer(t, repo, "errored", true, model.ServerStatusError)

	usable, err := svc.UsableServers()
	require.NoError(t, err)
	require.Len(t, usable, 1)
	assert.Equal(t, "online", usable[0].Name)
}

func TestUpdateLatencyEMA(t *testing.T) {
	// 首个样本直接采纳
	first := updateLatencyEMA(nil, 100)
	require.NotNil(t, first)
	assert.Equal(t, int64(100), *first)

	// 之后按权重平滑：100*0.7 + 200*0.3 = 130
	second := updateLatencyEMA(first, 200)
	require.NotNil(t, second)
	assert.Equal(t, int64(130), *second)

	// 平滑值向新样本缓慢靠拢，不会跳变
	third := updateLatencyEMA(second, 50)
	assert.InDelta(t, 106, float64(*third), 1)
}

func TestMonitorSweepUpdatesAllActive(t *testing.T) {
	client := &scriptedOllama{models: []ollama.ModelInfo{{Name: "llama3.2"}}}
	repo, svc := newRegistryFixture(client)

	a := addServer(t, repo, "a", true, model.ServerStatusUnknown)
	b := addServer(t, repo, "b", true, model.ServerStatusUnknown)
	skipped := addServer(t, repo, "skipped", false, model.ServerStatusUnknown)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.StartMonitor(ctx, time.Hour)
		close(done)
	}()

	// 启动即有一轮同步扫描，轮询等待其落库
	deadline := time.After(2 * time.Second)
	for {
		sa, _ := repo.FindByID(a.ID)
		sb, _ := repo.FindByID(b.ID)
		if sa.Status == model.ServerStatusOnline && sb.Status == model.ServerStatusOnline {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor sweep did not update server status in time")
		case <-time.After(10 * time.Millisecond):
		}
	}

	unprobed, _ := repo.FindByID(skipped.ID)
	assert.Equal(t, model.ServerStatusUnknown, unprobed.Status)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after context cancel")
	}
}
