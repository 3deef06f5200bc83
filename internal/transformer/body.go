// Package transformer 提供请求与响应体的文本级变换
package transformer

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"net/url"
	"sort"
	"strings"

	"hammerhead/pkg/rulespec"

	"github.com/tidwall/sjson"
)

// ReplaceText 文本替换
func ReplaceText(body string, search, replace string, all bool) string {
	if search == "" {
		return body
	}
	if all {
		return strings.ReplaceAll(body, search, replace)
	}
	return strings.Replace(body, search, replace, 1)
}

// PatchJSON 应用 JSON Patch 修改 (基于 sjson)
//
// 仅支持 add、replace、remove；路径末尾的 "-" 表示追加到数组。
func PatchJSON(body string, patches []rulespec.JSONPatchOp) (string, error) {
	if body == "" || len(patches) == 0 {
		return body, nil
	}

	currentBody := body
	for _, patch := range patches {
		if patch.Path == "" {
			continue
		}
		path := pointerToPath(patch.Path)

		var err error
		switch patch.Op {
		case "add", "replace":
			currentBody, err = sjson.Set(currentBody, path, patch.Value)
		case "remove":
			currentBody, err = sjson.Delete(currentBody, path)
		}
		if err != nil {
			return body, err
		}
	}
	return currentBody, nil
}

// pointerToPath 将 JSON Pointer (/a/b/0) 转换为 sjson 路径 (a.b.0)
func pointerToPath(p string) string {
	segs := strings.Split(strings.TrimPrefix(p, "/"), "/")
	for i, s := range segs {
		s = strings.ReplaceAll(s, "~1", "/")
		s = strings.ReplaceAll(s, "~0", "~")
		if s == "-" {
			segs[i] = "-1"
			continue
		}
		segs[i] = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(s)
	}
	return strings.Join(segs, ".")
}

// SetFormUrlencoded 设置 x-www-form-urlencoded 字段
func SetFormUrlencoded(body, key, value string) (string, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body, err
	}
	values.Set(key, value)
	return values.Encode(), nil
}

// RemoveFormUrlencoded 移除 x-www-form-urlencoded 字段
func RemoveFormUrlencoded(body, key string) (string, error) {
	values, err := url.ParseQuery(body)
	if err != nil {
		return body, err
	}
	values.Del(key)
	return values.Encode(), nil
}

// SetFormField 按 Content-Type 设置表单字段，不是表单时原样返回
func SetFormField(body, contentType, key, value string) (string, error) {
	return editForm(body, contentType, key, &value)
}

// RemoveFormField 按 Content-Type 移除表单字段，不是表单时原样返回
func RemoveFormField(body, contentType, key string) (string, error) {
	return editForm(body, contentType, key, nil)
}

func editForm(body, contentType, key string, value *string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return body, nil
	}
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if value == nil {
			return RemoveFormUrlencoded(body, key)
		}
		return SetFormUrlencoded(body, key, *value)
	case "multipart/form-data":
		return editMultipart(body, params["boundary"], key, value)
	}
	return body, nil
}

// editMultipart 重写 multipart 表单，保留边界与其余分段
func editMultipart(body, boundary, key string, value *string) (string, error) {
	if boundary == "" {
		return body, nil
	}
	r := multipart.NewReader(strings.NewReader(body), boundary)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary(boundary); err != nil {
		return body, err
	}

	replaced := false
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return body, err
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return body, err
		}
		if part.FormName() == key && part.FileName() == "" {
			if value != nil && !replaced {
				if err := w.WriteField(key, *value); err != nil {
					return body, err
				}
				replaced = true
			}
			continue
		}
		pw, err := w.CreatePart(part.Header)
		if err != nil {
			return body, err
		}
		if _, err := pw.Write(data); err != nil {
			return body, err
		}
	}
	if value != nil && !replaced {
		if err := w.WriteField(key, *value); err != nil {
			return body, err
		}
	}
	if err := w.Close(); err != nil {
		return body, err
	}
	return buf.String(), nil
}

// DecodeBody 根据编码方式解码
func DecodeBody(input string, encoding rulespec.BodyEncoding) (string, error) {
	if encoding == rulespec.BodyEncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(input)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}
	return input, nil
}

// ParseQuery 解析 URL 的查询参数，同名参数取第一个值
func ParseQuery(rawURL string) map[string]string {
	out := make(map[string]string)
	u, err := url.Parse(rawURL)
	if err != nil {
		return out
	}
	for k, vs := range u.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

// EditQuery 设置与删除 URL 查询参数，参数按名称排序输出
func EditQuery(rawURL string, set map[string]string, remove []string) (string, error) {
	if len(set) == 0 && len(remove) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, err
	}
	q := u.Query()
	for _, name := range remove {
		q.Del(name)
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		q.Set(name, set[name])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
