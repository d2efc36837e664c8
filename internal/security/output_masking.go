// This file implements output masking to prevent sensitive data exposure
// through command output.
//
// このファイルはコマンド出力を通じた機密データの露出を防ぐための出力マスキングを実装します。

package security

import (
	"log/slog"
	"regexp"

	"github.com/YujiSuzuki/hostgate/internal/config"
)

// OutputMasker applies masking rules to command output to hide sensitive data.
// It holds compiled patterns and is immutable after construction.
//
// OutputMaskerはコマンド出力にマスキングルールを適用して機密データを隠します。
// コンパイル済みパターンを保持し、構築後は不変です。
type OutputMasker struct {
	enabled     bool
	replacement string
	patterns    []*regexp.Regexp
}

// NewOutputMasker creates a new OutputMasker from configuration.
// Invalid patterns are skipped with a warning.
//
// NewOutputMaskerは設定から新しいOutputMaskerを作成します。
// 無効なパターンは警告を出してスキップされます。
func NewOutputMasker(cfg *config.OutputMaskingConfig) *OutputMasker {
	if cfg == nil {
		return &OutputMasker{}
	}

	masker := &OutputMasker{
		enabled:     cfg.Enabled,
		replacement: cfg.Replacement,
		patterns:    make([]*regexp.Regexp, 0, len(cfg.Patterns)),
	}
	if masker.replacement == "" {
		masker.replacement = "[MASKED]"
	}

	for _, pattern := range cfg.Patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			slog.Warn("Skipping invalid output masking pattern", "pattern", pattern, "error", err)
			continue
		}
		masker.patterns = append(masker.patterns, re)
	}

	return masker
}

// MaskOutput applies all masking patterns to output.
// MaskOutputは出力にすべてのマスキングパターンを適用します。
func (m *OutputMasker) MaskOutput(output string) string {
	if m == nil || !m.enabled || len(m.patterns) == 0 {
		return output
	}

	result := output
	for _, pattern := range m.patterns {
		result = pattern.ReplaceAllString(result, m.replacement)
	}
	return result
}

// IsEnabled returns true if output masking is enabled.
// IsEnabledは出力マスキングが有効な場合にtrueを返します。
func (m *OutputMasker) IsEnabled() bool {
	return m != nil && m.enabled
}

// PatternCount returns the number of active masking patterns.
// PatternCountはアクティブなマスキングパターンの数を返します。
func (m *OutputMasker) PatternCount() int {
	if m == nil {
		return 0
	}
	return len(m.patterns)
}
