// Package llm 负责与上游补全服务的交互
// 包含流式响应的增量解码器和 HTTP 客户端
package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	// dataPrefix 数据帧的固定前缀
	dataPrefix = "data: "

	// doneMarker 流结束的哨兵标记
	// 上游在所有数据帧之后发送 "data: [DONE]"
	doneMarker = "[DONE]"

	// commentPrefix SSE 注释行前缀，直接忽略
	commentPrefix = ":"

	// MaxPendingBytes 未消费缓冲区的上限
	// 病态的流（JSON 永远不完整）会让回推的行无限增长，
	// 超过上限时直接报错终止，避免内存被拖垮
	MaxPendingBytes = 64 * 1024
)

// ErrFrameTooLarge 单个数据帧超过缓冲区上限
var ErrFrameTooLarge = errors.New("stream frame exceeds buffer limit")

// streamChunk 上游数据帧的 JSON 结构
// 只解析需要的字段，其余忽略
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// content 返回第一个 choice 的增量文本，没有则返回空串
func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// StreamDecoder 流式响应的增量解码器
//
// 以"缓冲区 + 游标"的方式工作：每次 Feed 把新到的字节追加到
// 缓冲区，然后反复提取完整行进行解析。块边界不一定与行边界
// 对齐，所以存在两种不完整情况：
//  1. 行尾的换行符还没到 —— 行保留在缓冲区里等下一块；
//  2. 行收到了但 JSON 解析失败 —— 视为半帧，把行回推到缓冲区
//     （前置，并补回换行符），等更多字节到达后重试。
//
// 解码器不是并发安全的，一次发送周期独占一个实例。
type StreamDecoder struct {
	pending []byte          // 未消费的字节
	accum   strings.Builder // 累积的助手文本
	done    bool            // 是否已看到哨兵标记
}

// NewStreamDecoder 创建解码器实例
func NewStreamDecoder() *StreamDecoder {
	return &StreamDecoder{}
}

// Feed 消费一块响应字节
// 返回本次解出的增量文本切片（按帧顺序），一块里可能有零个
// 或多个数据帧。遇到哨兵标记后 Done 返回 true，后续字节被忽略。
// 参数:
//   - chunk: 响应体的一块原始字节，可以为空
//
// 返回:
//   - []string: 本次解出的增量文本
//   - error: 缓冲区超限错误
func (d *StreamDecoder) Feed(chunk []byte) ([]string, error) {
	if d.done {
		return nil, nil
	}

	d.pending = append(d.pending, chunk...)
	if len(d.pending) > MaxPendingBytes {
		return nil, ErrFrameTooLarge
	}

	var deltas []string
	for {
		line, ok := d.nextLine()
		if !ok {
			// 没有完整行了，等下一块
			return deltas, nil
		}

		// 空行和注释行不影响累积内容和缓冲状态
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}

		// 非数据帧跳过，不报错
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
		if payload == doneMarker {
			d.done = true
			return deltas, nil
		}

		var frame streamChunk
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// 半帧：块边界落在了 JSON 中间
			// 把行回推到缓冲区，补回换行符，等更多字节
			d.pushBack(line)
			return deltas, nil
		}

		if delta := frame.content(); delta != "" {
			d.accum.WriteString(delta)
			deltas = append(deltas, delta)
		}
	}
}

// nextLine 从缓冲区提取下一个完整行
// 行内容不含换行符，容忍行尾的回车符
// 返回:
//   - string: 行内容
//   - bool: 是否提取到完整行
func (d *StreamDecoder) nextLine() (string, bool) {
	idx := -1
	for i, b := range d.pending {
		if b == '\n' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}

	line := string(d.pending[:idx])
	d.pending = d.pending[idx+1:]
	line = strings.TrimSuffix(line, "\r")
	return line, true
}

// pushBack 把行回推到缓冲区开头，行后补换行符
func (d *StreamDecoder) pushBack(line string) {
	restored := make([]byte, 0, len(line)+1+len(d.pending))
	restored = append(restored, line...)
	restored = append(restored, '\n')
	restored = append(restored, d.pending...)
	d.pending = restored
}

// Done 是否已看到流结束的哨兵标记
func (d *StreamDecoder) Done() bool {
	return d.done
}

// Content 当前累积的完整助手文本
// 等于所有数据帧的增量文本按帧顺序拼接的结果
func (d *StreamDecoder) Content() string {
	return d.accum.String()
}
