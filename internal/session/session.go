package session

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"hammerhead/internal/cookie"
	"hammerhead/pkg/domain"

	"golang.org/x/time/rate"
)

// Credentials 站点的 HTTP 认证信息
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// DownloadInfo 附件下载信息
type DownloadInfo struct {
	URL           string `json:"url"`
	Filename      string `json:"filename"`
	ContentType   string `json:"contentType"`
	ContentLength int64  `json:"contentLength"`
}

// PageError 页面请求失败信息
type PageError struct {
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode"`
	Err        error  `json:"-"`
}

// Session 代表一个浏览任务的代理会话
type Session struct {
	ID                domain.SessionID
	OwnerToken        string
	UploadStoragePath string
	Cookies           *cookie.Jar
	CreatedAt         time.Time

	mu              sync.RWMutex
	credentials     map[string]Credentials // 按源（scheme://host:port）索引
	injectedScripts []string
	startURL        string
	onDownload      func(ctx context.Context, info DownloadInfo)
	onPageError     func(ctx context.Context, pe PageError)
	limiter         *rate.Limiter
}

// New 创建一个新的会话实例
func New(id domain.SessionID, ownerToken, uploadStoragePath string) *Session {
	return &Session{
		ID:                id,
		OwnerToken:        ownerToken,
		UploadStoragePath: uploadStoragePath,
		Cookies:           cookie.NewJar(),
		CreatedAt:         time.Now(),
		credentials:       make(map[string]Credentials),
	}
}

// GetAuthCredentials 获取目标地址所在源的认证信息，未设置时返回 nil
func (s *Session) GetAuthCredentials(rawURL string) *Credentials {
	origin, ok := originKey(rawURL)
	if !ok {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[origin]
	if !ok {
		return nil
	}
	return &c
}

// SetAuthCredentials 设置源的认证信息，creds 为 nil 时删除
func (s *Session) SetAuthCredentials(rawURL string, creds *Credentials) bool {
	origin, ok := originKey(rawURL)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if creds == nil {
		delete(s.credentials, origin)
		return true
	}
	s.credentials[origin] = *creds
	return true
}

// InjectedScripts 返回需要注入页面的脚本地址
func (s *Session) InjectedScripts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.injectedScripts))
	copy(out, s.injectedScripts)
	return out
}

// SetInjectedScripts 设置注入页面的脚本地址
func (s *Session) SetInjectedScripts(scripts []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectedScripts = append([]string(nil), scripts...)
}

// StartURL 会话打开的首个页面地址
func (s *Session) StartURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startURL
}

// SetStartURL 记录首个页面地址，已设置时不覆盖
func (s *Session) SetStartURL(u string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startURL == "" {
		s.startURL = u
	}
}

// OnFileDownload 设置附件下载回调
func (s *Session) OnFileDownload(fn func(ctx context.Context, info DownloadInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDownload = fn
}

// OnPageError 设置页面错误回调
func (s *Session) OnPageError(fn func(ctx context.Context, pe PageError)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPageError = fn
}

// HandleFileDownload 通知附件下载，未设置回调时不做任何事
func (s *Session) HandleFileDownload(ctx context.Context, info DownloadInfo) {
	s.mu.RLock()
	fn := s.onDownload
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, info)
	}
}

// HandlePageError 通知页面错误，未设置回调时不做任何事
func (s *Session) HandlePageError(ctx context.Context, pe PageError) {
	s.mu.RLock()
	fn := s.onPageError
	s.mu.RUnlock()
	if fn != nil {
		fn(ctx, pe)
	}
}

// WaitOutbound 出站限速，未配置限速时立即返回
func (s *Session) WaitOutbound(ctx context.Context) error {
	s.mu.RLock()
	l := s.limiter
	s.mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}

func (s *Session) setLimiter(l *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter = l
}

func originKey(rawURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "https", "wss":
			port = "443"
		default:
			port = "80"
		}
	}
	return scheme + "://" + strings.ToLower(u.Hostname()) + ":" + port, true
}
