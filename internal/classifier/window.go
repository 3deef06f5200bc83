package classifier

import "sync"

// Window 框架树中的一个窗口
type Window interface {
	IsTop() bool
	Parent() Window // 顶层窗口返回 nil
}

// WindowResolver 由宿主提供的窗口查询能力
type WindowResolver interface {
	Current() Window
	ResolveWindowByName(name string) Window // 未找到返回 nil
}

// Frame 内存中的框架树节点，名称可随时修改
type Frame struct {
	mu       *sync.RWMutex
	name     string
	parent   *Frame
	children []*Frame
}

// NewTopFrame 创建顶层窗口
func NewTopFrame(name string) *Frame {
	return &Frame{mu: &sync.RWMutex{}, name: name}
}

// AddChild 添加子框架
func (f *Frame) AddChild(name string) *Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &Frame{mu: f.mu, name: name, parent: f}
	f.children = append(f.children, c)
	return c
}

// Remove 从父框架中移除
func (f *Frame) Remove() {
	if f.parent == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	siblings := f.parent.children
	for i, c := range siblings {
		if c == f {
			f.parent.children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
}

// Rename 修改窗口名
func (f *Frame) Rename(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

// Name 窗口名
func (f *Frame) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.name
}

func (f *Frame) IsTop() bool { return f.parent == nil }

func (f *Frame) Parent() Window {
	if f.parent == nil {
		return nil
	}
	return f.parent
}

func (f *Frame) top() *Frame {
	t := f
	for t.parent != nil {
		t = t.parent
	}
	return t
}

// FrameResolver 以某个框架为当前窗口，在整棵框架树中按名称查找
type FrameResolver struct {
	current *Frame
}

// NewFrameResolver 创建框架树查询
func NewFrameResolver(current *Frame) *FrameResolver {
	return &FrameResolver{current: current}
}

func (r *FrameResolver) Current() Window { return r.current }

// ResolveWindowByName 先查当前窗口及其祖先，再从顶层开始广度优先查找
func (r *FrameResolver) ResolveWindowByName(name string) Window {
	if name == "" {
		return nil
	}
	r.current.mu.RLock()
	defer r.current.mu.RUnlock()

	for f := r.current; f != nil; f = f.parent {
		if f.name == name {
			return f
		}
	}
	queue := []*Frame{r.current.top()}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if f.name == name {
			return f
		}
		queue = append(queue, f.children...)
	}
	return nil
}

// DocumentContext 服务端改写时的窗口上下文：只知道文档是否位于子框架中
type DocumentContext struct {
	InIframe bool
}

type staticWindow struct {
	top    bool
	parent Window
}

func (w staticWindow) IsTop() bool    { return w.top }
func (w staticWindow) Parent() Window { return w.parent }

func (d DocumentContext) Current() Window {
	if !d.InIframe {
		return staticWindow{top: true}
	}
	return staticWindow{top: false, parent: staticWindow{top: true}}
}

// ResolveWindowByName 服务端无法观察窗口名
func (d DocumentContext) ResolveWindowByName(string) Window { return nil }
