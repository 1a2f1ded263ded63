// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package query

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"

	"grounded-rag/internal/pipeline/common"
	"grounded-rag/pkg/config"
)

// Classifier 问题分类：语言、意图、领域，每个请求只计算一次
type Classifier struct {
	chitchat keywords
	domains  map[string]keywords
}

// NewClassifier 创建分类器
func NewClassifier(cfg config.RouterConfig) *Classifier {
	domains := make(map[string]keywords, len(cfg.DomainKeywords))
	for domain, kws := range cfg.DomainKeywords {
		if k := newKeywords(kws); !k.empty() {
			domains[strings.ToLower(domain)] = k
		}
	}
	return &Classifier{chitchat: newKeywords(cfg.ChitchatVocab), domains: domains}
}

// Classify 计算问题元数据
func (c *Classifier) Classify(text string) common.Question {
	kt := newKeywordText(text)
	intent := common.IntentTask
	if c.chitchat.matchAny(kt) {
		intent = common.IntentChitchat
	}
	return common.Question{
		Text:   text,
		Lang:   DetectLanguage(text),
		Length: utf8.RuneCountInString(text),
		Intent: intent,
		Domain: c.domain(kt),
	}
}

// domain 命中关键词最多的领域；平局按领域名排序取第一个
func (c *Classifier) domain(kt keywordText) string {
	best, bestHits := common.DefaultDomain, 0
	for domain, kws := range c.domains {
		hits := kws.count(kt)
		if hits > bestHits || (hits == bestHits && hits > 0 && domain < best) {
			best, bestHits = domain, hits
		}
	}
	return best
}

// DetectLanguage 返回 ISO 639-1 语言码；无法识别时返回空串
func DetectLanguage(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	info := whatlanggo.Detect(text)
	return strings.ToLower(info.Lang.Iso6391())
}

// keywords 关键词表。以空白分词的文字按完整词（或连续词组）匹配，
// 含汉字、假名或泰文的关键词没有词边界，按子串匹配。
type keywords struct {
	phrases [][]string
	substrs []string
}

func newKeywords(list []string) keywords {
	var k keywords
	for _, kw := range list {
		kw = strings.ToLower(strings.TrimSpace(kw))
		switch {
		case kw == "":
		case strings.IndexFunc(kw, isUnspacedScript) >= 0:
			k.substrs = append(k.substrs, kw)
		default:
			if words := splitWords(kw); len(words) > 0 {
				k.phrases = append(k.phrases, words)
			}
		}
	}
	return k
}

func (k keywords) empty() bool {
	return len(k.phrases) == 0 && len(k.substrs) == 0
}

func (k keywords) matchAny(t keywordText) bool {
	for _, p := range k.phrases {
		if containsPhrase(t.words, p) {
			return true
		}
	}
	for _, s := range k.substrs {
		if strings.Contains(t.lowered, s) {
			return true
		}
	}
	return false
}

// count 命中的关键词个数（每个关键词最多计一次）
func (k keywords) count(t keywordText) int {
	n := 0
	for _, p := range k.phrases {
		if containsPhrase(t.words, p) {
			n++
		}
	}
	for _, s := range k.substrs {
		if strings.Contains(t.lowered, s) {
			n++
		}
	}
	return n
}

// keywordText 小写后的问题文本及其分词
type keywordText struct {
	lowered string
	words   []string
}

func newKeywordText(text string) keywordText {
	lowered := strings.ToLower(text)
	return keywordText{lowered: lowered, words: splitWords(lowered)}
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func containsPhrase(words, phrase []string) bool {
	for i := 0; i+len(phrase) <= len(words); i++ {
		if slices.Equal(words[i:i+len(phrase)], phrase) {
			return true
		}
	}
	return false
}

func isUnspacedScript(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Thai)
}
