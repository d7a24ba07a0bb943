package domain

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/text/cases"

	"mailsink/backend/internal/snowflake"
)

// MinDataLength 持久化所需的最小原始数据长度（不含）
const MinDataLength = 20

// Direction 地址方向
type Direction int

const (
	DirectionFrom Direction = iota
	DirectionTo
)

// String 返回路由中使用的方向名称
func (d Direction) String() string {
	if d == DirectionTo {
		return "to"
	}
	return "from"
}

// Mail 一封被捕获的邮件
//
// ID 只在 NewMail 中分配，之后不再变化；Data 为 DATA 与结束符之间的原始文本。
type Mail struct {
	ID      snowflake.ID
	From    mapset.Set[string]
	To      mapset.Set[string]
	Subject string
	Data    string
}

// NewMail 组装新邮件并分配 ID
func NewMail(gen *snowflake.Generator, from, to mapset.Set[string], data string) *Mail {
	if from == nil {
		from = mapset.NewSet[string]()
	}
	if to == nil {
		to = mapset.NewSet[string]()
	}
	return &Mail{
		ID:      gen.Next(),
		From:    from,
		To:      to,
		Subject: ParseSubject(data),
		Data:    data,
	}
}

// Timestamp 邮件创建时间（毫秒），由 ID 解码
func (m *Mail) Timestamp() uint64 {
	return m.ID.Timestamp()
}

// Body 按 MIME 结构选择展示正文
func (m *Mail) Body() string {
	return ParseBody(m.Data)
}

// Persistable 发件人、收件人均非空且数据长度超过阈值时才值得保存
func (m *Mail) Persistable() bool {
	return m.From.Cardinality() > 0 &&
		m.To.Cardinality() > 0 &&
		len(m.Data) > MinDataLength
}

// HasAddress 忽略大小写判断地址是否出现在指定方向
func (m *Mail) HasAddress(dir Direction, addr string) bool {
	set := m.From
	if dir == DirectionTo {
		set = m.To
	}

	fold := cases.Fold()
	want := fold.String(addr)
	found := false
	set.Each(func(candidate string) bool {
		if fold.String(candidate) == want {
			found = true
			return true
		}
		return false
	})
	return found
}

// SortedFrom 排序后的发件人列表
func (m *Mail) SortedFrom() []string {
	return sortedSlice(m.From)
}

// SortedTo 排序后的收件人列表
func (m *Mail) SortedTo() []string {
	return sortedSlice(m.To)
}

func sortedSlice(set mapset.Set[string]) []string {
	if set == nil {
		return []string{}
	}
	out := set.ToSlice()
	sort.Strings(out)
	return out
}
