package repo_test

import (
	"context"
	"testing"
	"time"

	"hammerhead/internal/logger"
	"hammerhead/internal/storage/db"
	"hammerhead/internal/storage/model"
	"hammerhead/internal/storage/repo"
	"hammerhead/pkg/domain"
)

// setupEventTestDB 创建用于 EventRepo 测试的内存数据库
func setupEventTestDB(t *testing.T, opts repo.EventRepoOptions) *repo.EventRepo {
	gdb, err := db.New(db.Options{
		FullPath: db.MemoryPath,
		Prefix:   "test_",
	})
	if err != nil {
		t.Fatalf("创建内存数据库失败: %v", err)
	}
	if err := db.Migrate(gdb, model.All()...); err != nil {
		t.Fatalf("迁移数据库失败: %v", err)
	}

	r := repo.NewEventRepo(gdb, logger.NewNop(), opts)
	t.Cleanup(r.Stop)
	return r
}

func event(session, url, method, result string, status int, ts int64) *domain.NetworkEvent {
	return &domain.NetworkEvent{
		Session:     domain.SessionID(session),
		IsMatched:   result != domain.FinalResultPassed,
		Request:     domain.RequestInfo{URL: url, Method: method},
		Response:    domain.ResponseInfo{StatusCode: status},
		FinalResult: result,
		Timestamp:   ts,
	}
}

// TestEventRepo_AsyncWrite 达到批量大小后自动写入
func TestEventRepo_AsyncWrite(t *testing.T) {
	r := setupEventTestDB(t, repo.EventRepoOptions{
		BatchSize:     5,
		FlushInterval: time.Hour,
		MaxBufferSize: 100,
	})

	for i := 0; i < 10; i++ {
		r.RecordEvent(event("test-session", "http://example.com", "GET", domain.FinalResultPassed, 200, time.Now().UnixMilli()))
	}

	deadline := time.Now().Add(2 * time.Second)
	var total int64
	for time.Now().Before(deadline) {
		_, total, _ = r.Query(context.Background(), repo.QueryOptions{SessionID: "test-session"})
		if total == 10 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if total != 10 {
		t.Errorf("预期写入 10 条记录，实际为 %d", total)
	}
}

// TestEventRepo_StopFlushes 停止时剩余事件落库
func TestEventRepo_StopFlushes(t *testing.T) {
	r := setupEventTestDB(t, repo.EventRepoOptions{BatchSize: 100, FlushInterval: time.Hour})

	r.RecordEvent(event("s", "http://a.com", "GET", domain.FinalResultMocked, 201, 1))
	r.RecordEvent(nil)
	r.Stop()

	records, total, err := r.Query(context.Background(), repo.QueryOptions{})
	if err != nil {
		t.Fatalf("查询事件失败: %v", err)
	}
	if total != 1 || len(records) != 1 {
		t.Fatalf("预期 1 条记录，实际 %d", total)
	}
	if records[0].StatusCode != 201 || records[0].FinalResult != domain.FinalResultMocked || !records[0].IsMatched {
		t.Errorf("记录内容不符: %+v", records[0])
	}
}

// TestEventRepo_BufferOverflow 缓冲满时丢弃新事件
func TestEventRepo_BufferOverflow(t *testing.T) {
	r := setupEventTestDB(t, repo.EventRepoOptions{BatchSize: 100, FlushInterval: time.Hour, MaxBufferSize: 2})

	for i := 0; i < 5; i++ {
		r.RecordEvent(event("s", "http://a.com", "GET", domain.FinalResultPassed, 200, int64(i+1)))
	}
	if got := r.Dropped(); got != 3 {
		t.Errorf("Dropped() = %d, want 3", got)
	}
}

// TestEventRepo_QueryWithFilters 查询过滤条件
func TestEventRepo_QueryWithFilters(t *testing.T) {
	r := setupEventTestDB(t, repo.EventRepoOptions{BatchSize: 100, FlushInterval: time.Hour})

	for _, evt := range []*domain.NetworkEvent{
		event("s1", "http://a.com/x", "GET", domain.FinalResultPassed, 200, 1000),
		event("s1", "http://b.com/y", "POST", domain.FinalResultMocked, 403, 2000),
		event("s2", "http://c.com/x", "GET", domain.FinalResultModified, 200, 3000),
	} {
		r.RecordEvent(evt)
	}
	r.Stop()
	ctx := context.Background()

	tests := []struct {
		name string
		opts repo.QueryOptions
		want int64
	}{
		{"按会话", repo.QueryOptions{SessionID: "s1"}, 2},
		{"按结果", repo.QueryOptions{FinalResult: domain.FinalResultMocked}, 1},
		{"按方法", repo.QueryOptions{Method: "POST"}, 1},
		{"按 URL 子串", repo.QueryOptions{URL: "/x"}, 2},
		{"仅命中", repo.QueryOptions{MatchedOnly: true}, 2},
		{"时间范围", repo.QueryOptions{StartTime: 1500, EndTime: 3000}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := r.Query(ctx, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if total != tt.want {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}

	records, total, _ := r.Query(ctx, repo.QueryOptions{Limit: 1, Offset: 1})
	if total != 3 || len(records) != 1 || records[0].Timestamp != 2000 {
		t.Errorf("分页结果不符: total=%d records=%+v", total, records)
	}

	n, err := r.DeleteBySession(ctx, "s1")
	if err != nil || n != 2 {
		t.Errorf("DeleteBySession = %d, %v", n, err)
	}
	n, err = r.CleanupOldEvents(ctx, 1)
	if err != nil || n != 1 {
		t.Errorf("CleanupOldEvents = %d, %v", n, err)
	}
}
