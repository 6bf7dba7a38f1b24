// Package profanity 提供文本脏话检测与屏蔽。
package profanity

import (
	goaway "github.com/TwiN/go-away"
)

// Detector 基于 go-away 的脏话检测器，可并发使用
type Detector struct {
	detector *goaway.ProfanityDetector
}

// New 创建检测器
func New() *Detector {
	return &Detector{detector: goaway.NewProfanityDetector()}
}

// Filter 返回屏蔽后的文本以及是否命中脏话；未命中时原样返回
func (d *Detector) Filter(text string) (string, bool) {
	if !d.detector.IsProfane(text) {
		return text, false
	}
	return d.detector.Censor(text), true
}

// Contains 判断文本是否包含脏话
func (d *Detector) Contains(text string) bool {
	return d.detector.IsProfane(text)
}
