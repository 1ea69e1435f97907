package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/sjson"

	"cdpintercept/internal/interception"
	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// applyRule 以规则优先级调用协作式接口
func applyRule(req *interception.InterceptedRequest, src *traffic.Request, rule *rulespec.Rule) error {
	a := rule.Action
	switch a.Type {
	case rulespec.ActionContinue:
		o, err := continueOverrides(src, a)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		return req.ContinueWithPriority(o, rule.Priority)
	case rulespec.ActionRespond:
		spec, err := responseSpec(a)
		if err != nil {
			return fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		return req.RespondWithPriority(spec, rule.Priority)
	case rulespec.ActionAbort:
		return req.AbortWithPriority(a.ErrorCode, rule.Priority)
	default:
		return fmt.Errorf("rule %s: unknown action type %q", rule.ID, a.Type)
	}
}

// continueOverrides 基于原始请求构造放行覆盖项；移除的头以 nil 标记，下发时跳过
func continueOverrides(src *traffic.Request, a rulespec.Action) (interception.ContinueOverrides, error) {
	o := interception.ContinueOverrides{URL: a.URL, Method: a.Method}

	if len(a.SetHeaders) > 0 || len(a.RemoveHeaders) > 0 {
		headers := make(map[string]*string, len(src.Headers)+len(a.SetHeaders))
		for k, v := range src.Headers {
			v := v
			headers[k] = &v
		}
		for _, k := range sortedKeys(a.SetHeaders) {
			v := a.SetHeaders[k]
			headers[strings.ToLower(k)] = &v
		}
		for _, k := range a.RemoveHeaders {
			headers[strings.ToLower(k)] = nil
		}
		o.Headers = headers
	}

	body := string(src.Body)
	changed := false
	if a.PostData != nil {
		body = *a.PostData
		changed = true
	}
	if len(a.PostDataPatch) > 0 {
		patched, err := patchJSON(body, a.PostDataPatch)
		if err != nil {
			return o, err
		}
		body = patched
		changed = true
	}
	if changed {
		o.PostData = &body
	}
	return o, nil
}

func responseSpec(a rulespec.Action) (interception.ResponseSpec, error) {
	spec := interception.ResponseSpec{
		Status:      a.Status,
		Headers:     a.Headers,
		ContentType: a.ContentType,
	}
	body := a.Body
	if len(a.BodyPatch) > 0 {
		patched, err := patchJSON(body, a.BodyPatch)
		if err != nil {
			return spec, err
		}
		body = patched
		if spec.ContentType == "" {
			spec.ContentType = "application/json"
		}
	}
	if body != "" {
		spec.Body = []byte(body)
	}
	return spec, nil
}

// patchJSON 按路径字典序依次写入，保证结果确定
func patchJSON(doc string, patch map[string]any) (string, error) {
	var err error
	for _, p := range sortedKeys(patch) {
		doc, err = sjson.Set(doc, p, patch[p])
		if err != nil {
			return "", fmt.Errorf("patch %q: %w", p, err)
		}
	}
	return doc, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
