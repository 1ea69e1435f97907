package rules

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"cdpintercept/pkg/rulespec"
	"cdpintercept/pkg/traffic"
)

// regexCache 编译后的正则缓存，容量与存活时间有界
var regexCache = newRegexpCache(512, 10*time.Minute)

type regexpCache struct {
	lru *expirable.LRU[string, *regexp.Regexp]
}

func newRegexpCache(size int, ttl time.Duration) *regexpCache {
	return &regexpCache{lru: expirable.NewLRU[string, *regexp.Regexp](size, nil, ttl)}
}

// Get 获取或编译正则
func (c *regexpCache) Get(pattern string) (*regexp.Regexp, error) {
	if re, ok := c.lru.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.lru.Add(pattern, re)
	return re, nil
}

func matchRule(req *traffic.Request, m rulespec.Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(req, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(req, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(req, m.NoneOf)
	}
	return ok
}

func allOf(req *traffic.Request, cs []rulespec.Condition) bool {
	for i := range cs {
		if !cond(req, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(req *traffic.Request, cs []rulespec.Condition) bool {
	for i := range cs {
		if cond(req, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(req *traffic.Request, cs []rulespec.Condition) bool { return !anyOf(req, cs) }

func cond(req *traffic.Request, c rulespec.Condition) bool {
	switch c.Type {
	case rulespec.ConditionURL:
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(req.URL, c.Pattern)
		case "regex":
			return matchRegex(req.URL, c.Pattern)
		case "exact":
			return req.URL == c.Pattern
		default:
			return glob(req.URL, c.Pattern)
		}
	case rulespec.ConditionMethod:
		return containsFold(c.Values, req.Method)
	case rulespec.ConditionResourceType:
		return containsFold(c.Values, req.ResourceType)
	case rulespec.ConditionNavigation:
		want, err := strconv.ParseBool(c.Value)
		if err != nil {
			want = true
		}
		return req.IsNavigation == want
	case rulespec.ConditionHeader:
		v, ok := req.Headers[strings.ToLower(c.Key)]
		return ok && matchOp(v, c.Op, c.Value)
	case rulespec.ConditionQuery:
		v, ok := req.Query[strings.ToLower(c.Key)]
		return ok && matchOp(v, c.Op, c.Value)
	case rulespec.ConditionCookie:
		v, ok := req.Cookies[strings.ToLower(c.Key)]
		return ok && matchOp(v, c.Op, c.Value)
	case rulespec.ConditionText:
		if len(req.Body) == 0 {
			return false
		}
		return matchOp(string(req.Body), c.Op, c.Value)
	case rulespec.ConditionJSON:
		if len(req.Body) == 0 || !gjson.ValidBytes(req.Body) {
			return false
		}
		res := gjson.GetBytes(req.Body, c.Path)
		if !res.Exists() {
			return false
		}
		return matchOp(res.String(), c.Op, c.Value)
	default:
		return false
	}
}

func matchOp(v, op, value string) bool {
	switch op {
	case "equals":
		return v == value
	case "contains":
		return strings.Contains(v, value)
	case "prefix":
		return strings.HasPrefix(v, value)
	case "suffix":
		return strings.HasSuffix(v, value)
	case "regex":
		return matchRegex(v, value)
	default:
		return true
	}
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		return strings.Contains(s, strings.Trim(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}
