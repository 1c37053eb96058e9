package router

import "sort"

// Target 下游连接目标
type Target struct {
	URL   string `mapstructure:"url" yaml:"url" json:"url"`
	Token string `mapstructure:"token" yaml:"token,omitempty" json:"token,omitempty"`
}

// RouteTable 平台到目标的映射
type RouteTable map[string]Target

// Clone 深拷贝
func (t RouteTable) Clone() RouteTable {
	out := make(RouteTable, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Platforms 按字母序返回所有平台
func (t RouteTable) Platforms() []string {
	out := make([]string, 0, len(t))
	for k := range t {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Diff 比较新旧路由表，URL 或 token 变化视为 changed
func (t RouteTable) Diff(next RouteTable) (added, removed, changed []string) {
	for platform, target := range next {
		old, ok := t[platform]
		switch {
		case !ok:
			added = append(added, platform)
		case old != target:
			changed = append(changed, platform)
		}
	}
	for platform := range t {
		if _, ok := next[platform]; !ok {
			removed = append(removed, platform)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	sort.Strings(changed)
	return added, removed, changed
}
