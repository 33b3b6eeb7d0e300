package traffic

import (
	"net/http"
	"slices"
	"strings"
)

// Header 多值头部存储：键统一转小写，同一键的值按写入顺序保存且不去重，
// 键的首次出现顺序同样保留，便于按原样重放
type Header struct {
	keys   []string
	values map[string][]string
}

// NewHeader 创建空头部
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

// Add 追加一个值
func (h *Header) Add(key, value string) {
	k := strings.ToLower(key)
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.values[k] = append(h.values[k], value)
}

// Set 用单个值替换该键已有的全部值
func (h *Header) Set(key, value string) {
	h.Del(key)
	h.Add(key, value)
}

// Del 删除指定键
func (h *Header) Del(key string) {
	k := strings.ToLower(key)
	if _, ok := h.values[k]; !ok {
		return
	}
	delete(h.values, k)
	h.keys = slices.DeleteFunc(h.keys, func(s string) bool { return s == k })
}

// Get 获取第一个值（大小写不敏感）
func (h *Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if vv := h.values[strings.ToLower(key)]; len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// Values 返回该键全部值的副本，未设置时返回空切片
func (h *Header) Values(key string) []string {
	if h == nil {
		return []string{}
	}
	vv := h.values[strings.ToLower(key)]
	out := make([]string, len(vv))
	copy(out, vv)
	return out
}

// Has 判断是否设置过该键
func (h *Header) Has(key string) bool {
	if h == nil {
		return false
	}
	_, ok := h.values[strings.ToLower(key)]
	return ok
}

// Contains 判断该键的值中是否存在 value
func (h *Header) Contains(key, value string) bool {
	if h == nil {
		return false
	}
	return slices.Contains(h.values[strings.ToLower(key)], value)
}

// Keys 按首次出现顺序返回所有键
func (h *Header) Keys() []string {
	if h == nil {
		return nil
	}
	return slices.Clone(h.keys)
}

// Len 返回键的数量
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.keys)
}

// Each 按键顺序、值顺序遍历所有键值对
func (h *Header) Each(fn func(key, value string)) {
	if h == nil {
		return
	}
	for _, k := range h.keys {
		for _, v := range h.values[k] {
			fn(k, v)
		}
	}
}

// Clone 深拷贝
func (h *Header) Clone() *Header {
	c := NewHeader()
	h.Each(c.Add)
	return c
}

// Reset 清空所有键值
func (h *Header) Reset() {
	h.keys = nil
	h.values = make(map[string][]string)
}

// FromHTTP 由 net/http 头部构建，键顺序按字典序
func FromHTTP(src http.Header) *Header {
	h := NewHeader()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		for _, v := range src[k] {
			h.Add(k, v)
		}
	}
	return h
}

// ToHTTP 转换为 net/http 头部
func (h *Header) ToHTTP() http.Header {
	out := make(http.Header, h.Len())
	h.Each(out.Add)
	return out
}

// Request 中立的请求模型
type Request struct {
	ID           string  // 事务唯一ID
	URL          string  // 完整URL
	Method       string  // HTTP方法
	Headers      *Header // 请求头
	Body         []byte  // 请求体原始数据
	ResourceType string  // 资源类型 (如 Document, XHR)
}

// Response 中立的响应模型
type Response struct {
	StatusCode int     // 状态码
	Headers    *Header // 响应头
	Body       []byte  // 响应体数据
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{Headers: NewHeader()}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    NewHeader(),
	}
}
