package engine_test

import (
	"testing"

	"hammerhead/internal/engine"
	"hammerhead/pkg/domain"
	"hammerhead/pkg/rulespec"
)

func oneRule(stage rulespec.Stage, m rulespec.Match) *rulespec.Config {
	cfg := rulespec.NewConfig("test")
	cfg.Rules = []rulespec.Rule{{
		ID:      "rule1",
		Name:    "test rule",
		Enabled: true,
		Stage:   stage,
		Match:   m,
	}}
	return cfg
}

func allOf(c ...rulespec.Condition) rulespec.Match { return rulespec.Match{AllOf: c} }

func newRequest() *domain.Request {
	req := &domain.Request{
		ID:           "req1",
		SessionID:    "sess1",
		URL:          "https://example.com/api/users?id=42",
		Method:       "POST",
		Headers:      domain.Header{},
		Query:        map[string]string{"id": "42"},
		Cookies:      map[string]string{"token": "abc123"},
		Body:         []byte(`{"user":{"name":"alice","age":30}}`),
		ResourceType: domain.ResourceTypeAjax,
		IsAjax:       true,
	}
	req.Headers.Set("Authorization", "Bearer token")
	req.Headers.Set("Content-Type", "application/json")
	return req
}

func TestEval_Conditions(t *testing.T) {
	tests := []struct {
		name string
		cond rulespec.Condition
		want bool
	}{
		{"urlEquals", rulespec.Condition{Type: rulespec.ConditionURLEquals, Value: "https://example.com/api/users?id=42"}, true},
		{"urlEquals 不等", rulespec.Condition{Type: rulespec.ConditionURLEquals, Value: "https://example.com"}, false},
		{"urlPrefix", rulespec.Condition{Type: rulespec.ConditionURLPrefix, Value: "https://example.com/api"}, true},
		{"urlSuffix", rulespec.Condition{Type: rulespec.ConditionURLSuffix, Value: "id=42"}, true},
		{"urlContains", rulespec.Condition{Type: rulespec.ConditionURLContains, Value: "notfound.com"}, false},
		{"urlRegex", rulespec.Condition{Type: rulespec.ConditionURLRegex, Pattern: `/api/users\?id=\d+$`}, true},
		{"urlRegex 非法", rulespec.Condition{Type: rulespec.ConditionURLRegex, Pattern: `(`}, false},
		{"hostEquals", rulespec.Condition{Type: rulespec.ConditionHostEquals, Value: "Example.com"}, true},
		{"hostEquals 子域不符", rulespec.Condition{Type: rulespec.ConditionHostEquals, Value: "api.example.com"}, false},
		{"hostSuffix 自身", rulespec.Condition{Type: rulespec.ConditionHostSuffix, Value: ".example.com"}, true},
		{"hostSuffix 非域边界", rulespec.Condition{Type: rulespec.ConditionHostSuffix, Value: "ample.com"}, false},
		{"session", rulespec.Condition{Type: rulespec.ConditionSession, Values: []string{"other", "sess1"}}, true},
		{"session 区分大小写", rulespec.Condition{Type: rulespec.ConditionSession, Values: []string{"SESS1"}}, false},
		{"method", rulespec.Condition{Type: rulespec.ConditionMethod, Values: []string{"get", "post"}}, true},
		{"method 不符", rulespec.Condition{Type: rulespec.ConditionMethod, Values: []string{"GET"}}, false},
		{"resourceType", rulespec.Condition{Type: rulespec.ConditionResourceType, Values: []string{"page", "AJAX"}}, true},
		{"resourceType 不符", rulespec.Condition{Type: rulespec.ConditionResourceType, Values: []string{"script"}}, false},
		{"isAjax", rulespec.Condition{Type: rulespec.ConditionIsAjax, Value: "true"}, true},
		{"isAjax false", rulespec.Condition{Type: rulespec.ConditionIsAjax, Value: "false"}, false},
		{"isAjax 非法值", rulespec.Condition{Type: rulespec.ConditionIsAjax, Value: "yes"}, false},
		{"headerExists", rulespec.Condition{Type: rulespec.ConditionHeaderExists, Name: "authorization"}, true},
		{"headerNotExists", rulespec.Condition{Type: rulespec.ConditionHeaderNotExists, Name: "X-Custom"}, true},
		{"headerEquals", rulespec.Condition{Type: rulespec.ConditionHeaderEquals, Name: "Content-Type", Value: "application/json"}, true},
		{"headerContains", rulespec.Condition{Type: rulespec.ConditionHeaderContains, Name: "Authorization", Value: "Bearer"}, true},
		{"headerRegex", rulespec.Condition{Type: rulespec.ConditionHeaderRegex, Name: "Authorization", Pattern: `^Basic `}, false},
		{"queryExists", rulespec.Condition{Type: rulespec.ConditionQueryExists, Name: "id"}, true},
		{"queryNotExists", rulespec.Condition{Type: rulespec.ConditionQueryNotExists, Name: "id"}, false},
		{"queryEquals", rulespec.Condition{Type: rulespec.ConditionQueryEquals, Name: "id", Value: "42"}, true},
		{"queryContains", rulespec.Condition{Type: rulespec.ConditionQueryContains, Name: "id", Value: "4"}, true},
		{"queryRegex", rulespec.Condition{Type: rulespec.ConditionQueryRegex, Name: "id", Pattern: `^\d+$`}, true},
		{"cookieExists", rulespec.Condition{Type: rulespec.ConditionCookieExists, Name: "token"}, true},
		{"cookieNotExists", rulespec.Condition{Type: rulespec.ConditionCookieNotExists, Name: "session"}, true},
		{"cookieEquals", rulespec.Condition{Type: rulespec.ConditionCookieEquals, Name: "token", Value: "abc123"}, true},
		{"cookieContains", rulespec.Condition{Type: rulespec.ConditionCookieContains, Name: "token", Value: "xyz"}, false},
		{"cookieRegex", rulespec.Condition{Type: rulespec.ConditionCookieRegex, Name: "token", Pattern: `^[a-z]+\d+$`}, true},
		{"bodyContains", rulespec.Condition{Type: rulespec.ConditionBodyContains, Value: "alice"}, true},
		{"bodyRegex", rulespec.Condition{Type: rulespec.ConditionBodyRegex, Pattern: `"age":\s*30`}, true},
		{"bodyJsonPath", rulespec.Condition{Type: rulespec.ConditionBodyJsonPath, Path: "$.user.name", Value: "alice"}, true},
		{"bodyJsonPath 无前缀", rulespec.Condition{Type: rulespec.ConditionBodyJsonPath, Path: "user.age", Value: "30"}, true},
		{"bodyJsonPath 不存在", rulespec.Condition{Type: rulespec.ConditionBodyJsonPath, Path: "$.user.email", Value: ""}, false},
		{"未知条件", rulespec.Condition{Type: "unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := engine.New(oneRule(rulespec.StageRequest, allOf(tt.cond)))
			matched := eng.Eval(newRequest(), rulespec.StageRequest)
			if got := len(matched) == 1; got != tt.want {
				t.Errorf("matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEval_NoConfig(t *testing.T) {
	eng := engine.New(nil)
	if matched := eng.Eval(newRequest(), rulespec.StageRequest); matched != nil {
		t.Errorf("got %v, want nil", matched)
	}
}

func TestUpdate(t *testing.T) {
	cond := rulespec.Condition{Type: rulespec.ConditionURLContains, Value: "example.com"}
	eng := engine.New(oneRule(rulespec.StageRequest, allOf(cond)))
	if len(eng.Eval(newRequest(), rulespec.StageRequest)) != 1 {
		t.Fatal("expected rule1 to match before update")
	}

	eng.Update(rulespec.NewConfig("empty"))
	if matched := eng.Eval(newRequest(), rulespec.StageRequest); matched != nil {
		t.Errorf("Eval() after update = %v, want nil", matched)
	}
}

func TestEval_Priority(t *testing.T) {
	cond := rulespec.Condition{Type: rulespec.ConditionURLContains, Value: "example.com"}
	cfg := rulespec.NewConfig("test")
	cfg.Rules = []rulespec.Rule{
		{ID: "low", Enabled: true, Priority: 1, Stage: rulespec.StageRequest, Match: allOf(cond)},
		{ID: "high", Enabled: true, Priority: 10, Stage: rulespec.StageRequest, Match: allOf(cond)},
		{ID: "low2", Enabled: true, Priority: 1, Stage: rulespec.StageRequest, Match: allOf(cond)},
	}

	matched := engine.New(cfg).Eval(newRequest(), rulespec.StageRequest)
	want := []string{"high", "low", "low2"}
	if len(matched) != len(want) {
		t.Fatalf("got %d matches, want %d", len(matched), len(want))
	}
	for i, id := range want {
		if matched[i].Rule.ID != id {
			t.Errorf("matched[%d] = %s, want %s", i, matched[i].Rule.ID, id)
		}
	}
}

func TestEval_DisabledAndStage(t *testing.T) {
	cond := rulespec.Condition{Type: rulespec.ConditionURLContains, Value: "example.com"}

	cfg := oneRule(rulespec.StageRequest, allOf(cond))
	cfg.Rules[0].Enabled = false
	if matched := engine.New(cfg).Eval(newRequest(), rulespec.StageRequest); matched != nil {
		t.Errorf("disabled rule matched: %v", matched)
	}

	cfg = oneRule(rulespec.StageResponse, allOf(cond))
	eng := engine.New(cfg)
	if matched := eng.Eval(newRequest(), rulespec.StageRequest); matched != nil {
		t.Errorf("response rule matched in request stage: %v", matched)
	}
	if matched := eng.Eval(newRequest(), rulespec.StageResponse); len(matched) != 1 {
		t.Errorf("response rule not matched in response stage")
	}
}

func TestEval_AllOfAndAnyOf(t *testing.T) {
	tests := []struct {
		name  string
		match rulespec.Match
		want  bool
	}{
		{"空条件总是匹配", rulespec.Match{}, true},
		{"anyOf 任一满足", rulespec.Match{AnyOf: []rulespec.Condition{
			{Type: rulespec.ConditionURLContains, Value: "test.com"},
			{Type: rulespec.ConditionURLContains, Value: "example.com"},
		}}, true},
		{"anyOf 全不满足", rulespec.Match{AnyOf: []rulespec.Condition{
			{Type: rulespec.ConditionURLContains, Value: "test.com"},
		}}, false},
		{"allOf 与 anyOf 同时满足", rulespec.Match{
			AllOf: []rulespec.Condition{{Type: rulespec.ConditionIsAjax, Value: "true"}},
			AnyOf: []rulespec.Condition{{Type: rulespec.ConditionMethod, Values: []string{"POST"}}},
		}, true},
		{"allOf 不满足", rulespec.Match{
			AllOf: []rulespec.Condition{{Type: rulespec.ConditionIsAjax, Value: "false"}},
			AnyOf: []rulespec.Condition{{Type: rulespec.ConditionMethod, Values: []string{"POST"}}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched := engine.New(oneRule(rulespec.StageRequest, tt.match)).Eval(newRequest(), rulespec.StageRequest)
			if got := len(matched) == 1; got != tt.want {
				t.Errorf("matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStats(t *testing.T) {
	cond := rulespec.Condition{Type: rulespec.ConditionURLContains, Value: "example.com"}
	eng := engine.New(oneRule(rulespec.StageRequest, allOf(cond)))

	stats := eng.GetStats()
	if stats.Total != 0 || stats.Matched != 0 || len(stats.ByRule) != 0 {
		t.Fatalf("initial stats = %+v, want zero", stats)
	}

	eng.RecordStats(eng.Eval(newRequest(), rulespec.StageRequest))
	other := newRequest()
	other.URL = "https://other.org/"
	eng.RecordStats(eng.Eval(other, rulespec.StageRequest))

	stats = eng.GetStats()
	if stats.Total != 2 {
		t.Errorf("total = %d, want 2", stats.Total)
	}
	if stats.Matched != 1 {
		t.Errorf("matched = %d, want 1", stats.Matched)
	}
	if stats.ByRule["rule1"] != 1 {
		t.Errorf("byRule[rule1] = %d, want 1", stats.ByRule["rule1"])
	}

	eng.ResetStats()
	if stats = eng.GetStats(); stats.Total != 0 || len(stats.ByRule) != 0 {
		t.Errorf("stats after reset = %+v", stats)
	}
}
