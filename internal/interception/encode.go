package interception

import (
	"sort"
	"strconv"
	"strings"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// buildContinueArgs 构造 Fetch.continueRequest 参数，PostData 由 JSON 编码为 base64
func buildContinueArgs(id string, o ContinueOverrides) *fetch.ContinueRequestArgs {
	args := &fetch.ContinueRequestArgs{
		RequestID: fetch.RequestID(id),
		URL:       o.URL,
		Method:    o.Method,
	}
	if o.PostData != nil {
		args.PostData = []byte(*o.PostData)
	}
	if o.Headers != nil {
		args.Headers = headerEntries(o.Headers)
	}
	return args
}

// buildFulfillArgs 构造 Fetch.fulfillRequest 参数
func buildFulfillArgs(id string, r ResponseSpec) *fetch.FulfillRequestArgs {
	status := r.Status
	if status == 0 {
		status = 200
	}

	raw := make(map[string]*string, len(r.Headers))
	for k, v := range r.Headers {
		v := v
		raw[k] = &v
	}
	headers := foldHeaders(raw)
	if r.ContentType != "" {
		ct := r.ContentType
		headers["content-type"] = &ct
	}
	if len(r.Body) > 0 {
		if _, ok := headers["content-length"]; !ok {
			cl := strconv.Itoa(len(r.Body))
			headers["content-length"] = &cl
		}
	}

	args := &fetch.FulfillRequestArgs{
		RequestID:       fetch.RequestID(id),
		ResponseCode:    status,
		ResponseHeaders: headerEntries(headers),
	}
	if r.Phrase != "" {
		phrase := r.Phrase
		args.ResponsePhrase = &phrase
	} else if phrase, ok := StatusText(status); ok {
		args.ResponsePhrase = &phrase
	}
	if len(r.Body) > 0 {
		args.Body = r.Body
	}
	return args
}

func buildFailArgs(id string, reason network.ErrorReason) *fetch.FailRequestArgs {
	return &fetch.FailRequestArgs{RequestID: fetch.RequestID(id), ErrorReason: reason}
}

// foldHeaders 按小写名称合并请求头。名称仅大小写不同时按原名字典序处理，
// 后者覆盖前者，因此已是小写的写法总是胜出。
func foldHeaders(h map[string]*string) map[string]*string {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make(map[string]*string, len(h))
	for _, k := range names {
		out[strings.ToLower(k)] = h[k]
	}
	return out
}

// headerEntries 展平为有序的头列表，名称转小写并跳过 nil 值
func headerEntries(h map[string]*string) []fetch.HeaderEntry {
	folded := foldHeaders(h)
	names := make([]string, 0, len(folded))
	for k, v := range folded {
		if v == nil {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]fetch.HeaderEntry, 0, len(names))
	for _, k := range names {
		out = append(out, fetch.HeaderEntry{Name: k, Value: *folded[k]})
	}
	return out
}
