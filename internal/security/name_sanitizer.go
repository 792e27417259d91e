// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はプレイヤーの表示名からHTMLを除去し、
// ランキング表示や通知本文へのマークアップ混入を防ぐ。
package security

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDisplayNameRunes は表示名パーツの最大文字数（rune数）。
const MaxDisplayNameRunes = 64

// NameSanitizer は表示名のサニタイズ機能のインターフェースを定義する。
type NameSanitizer interface {
	// Sanitize は表示名をプレーンテキストに正規化する。
	// HTMLタグと制御文字を除去し、前後の空白を削り、MaxDisplayNameRunes 文字に切り詰める。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// nameSanitizer はNameSanitizerの実装。
// bluemondayのStrictPolicyは全タグを除去するため、テキストのみが残る。
type nameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerの新しいインスタンスを生成する。
func NewNameSanitizer() *nameSanitizer {
	return &nameSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は表示名をプレーンテキストに正規化する。
func (s *nameSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	// StrictPolicyは & や ' をエスケープするため、プレーンテキストに戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))

	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)

	return truncateRunes(text, MaxDisplayNameRunes)
}

// truncateRunes は文字列を最大max文字（rune数）に切り詰める。
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}
