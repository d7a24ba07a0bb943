package domain

import (
	"mime"
	"net/mail"
	"strings"

	"github.com/emersion/go-message/charset"
	"github.com/jhillyerd/enmime"
)

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// ParseBody 选择邮件的展示正文
//
// 无法按 RFC 822 解析时返回首个空行之后的原文；单段邮件返回解码后的正文；
// 多段邮件优先返回第一个 text/html 部分，否则返回第一个子部分。
func ParseBody(data string) string {
	if _, err := mail.ReadMessage(strings.NewReader(data)); err != nil {
		return rawBody(data)
	}

	root, err := enmime.ReadParts(strings.NewReader(data))
	if err != nil {
		return rawBody(data)
	}

	if root.FirstChild == nil {
		return string(root.Content)
	}

	html := root.DepthMatchFirst(func(p *enmime.Part) bool {
		return p != root && strings.EqualFold(p.ContentType, "text/html")
	})
	if html != nil {
		return string(html.Content)
	}

	return string(root.FirstChild.Content)
}

// ParseSubject 返回解码后的 Subject 头，不存在时返回空字符串
func ParseSubject(data string) string {
	msg, err := mail.ReadMessage(strings.NewReader(data))
	if err != nil {
		return ""
	}

	raw := msg.Header.Get("Subject")
	if raw == "" {
		return ""
	}

	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// rawBody 返回首个空行之后的内容，没有空行时返回全文
func rawBody(data string) string {
	idx, sep := -1, 0
	if i := strings.Index(data, "\r\n\r\n"); i >= 0 {
		idx, sep = i, 4
	}
	if i := strings.Index(data, "\n\n"); i >= 0 && (idx < 0 || i < idx) {
		idx, sep = i, 2
	}
	if idx < 0 {
		return data
	}
	return data[idx+sep:]
}
