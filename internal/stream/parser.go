package stream

import "strings"

// Frame 协议帧：event 类型 + data JSON 原文
type Frame struct {
	Event string
	Data  []byte
}

// Parser 帧解析器
// 网络交付可能把一个帧拆到多次读取，也可能把多个帧并到一次读取；
// 解析器缓冲不完整的尾部数据，只在凑齐空行分隔的完整单元后产出帧
type Parser struct {
	buf string
}

// Feed 送入一段原始数据，返回其中完整的帧
// 行结束符统一归一为 LF 后再按空行切分
func (p *Parser) Feed(data []byte) []Frame {
	p.buf += string(data)

	norm := strings.ReplaceAll(p.buf, "\r\n", "\n")

	// 末尾孤立的 \r 可能是被拆开的 CRLF，留到下一次交付
	var hold string
	if strings.HasSuffix(norm, "\r") {
		hold = "\r"
		norm = norm[:len(norm)-1]
	}

	var frames []Frame
	for {
		i := strings.Index(norm, "\n\n")
		if i < 0 {
			break
		}
		raw := norm[:i]
		norm = norm[i+2:]
		if f, ok := parseFrame(raw); ok {
			frames = append(frames, f)
		}
	}

	p.buf = norm + hold
	return frames
}

// Flush 流结束时解析缓冲中剩余的数据
// 文法允许最后一个帧不带结尾空行
func (p *Parser) Flush() (Frame, bool) {
	raw := strings.ReplaceAll(p.buf, "\r\n", "\n")
	p.buf = ""
	if strings.TrimSpace(raw) == "" {
		return Frame{}, false
	}
	return parseFrame(raw)
}

// parseFrame 解析单个帧，帧型不完整时丢弃
func parseFrame(raw string) (Frame, bool) {
	var f Frame
	var haveEvent, haveData bool

	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			haveEvent = true
		case strings.HasPrefix(line, "data:"):
			f.Data = []byte(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			haveData = true
		}
	}

	if !haveEvent || !haveData || f.Event == "" {
		return Frame{}, false
	}
	return f, true
}
