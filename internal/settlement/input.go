package settlement

import (
	"strings"

	"github.com/shopspring/decimal"
)

// InputKind classifies raw amount input.
type InputKind string

const (
	InputSingle     InputKind = "single"
	InputExpression InputKind = "expression"
	InputBatch      InputKind = "batch"
)

// ParsedItem is one amount of a parsed input. Err is set instead of Amount
// when the item could not be evaluated.
type ParsedItem struct {
	Raw    string
	Amount decimal.Decimal
	Err    error
}

// ParsedInput is the classified form of raw user input.
type ParsedInput struct {
	Kind  InputKind
	Items []ParsedItem
}

// Raw returns the raw text of every item, in order.
func (p ParsedInput) Raw() []string {
	out := make([]string, 0, len(p.Items))
	for _, item := range p.Items {
		out = append(out, item.Raw)
	}
	return out
}

const batchSeparators = "\n;"

// ParseInput classifies raw as a single amount, an arithmetic expression or a
// batch of newline/semicolon separated amounts. Single and expression inputs
// fail with InvalidExpression when they cannot be evaluated; batch items carry
// their own errors.
func ParseInput(raw string) (ParsedInput, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ParsedInput{}, invalidExpression("empty input")
	}

	if strings.ContainsAny(trimmed, batchSeparators) {
		parts := strings.FieldsFunc(trimmed, func(r rune) bool {
			return strings.ContainsRune(batchSeparators, r)
		})
		items := make([]ParsedItem, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			items = append(items, evaluateItem(part))
		}
		if len(items) == 0 {
			return ParsedInput{}, invalidExpression("empty batch")
		}
		return ParsedInput{Kind: InputBatch, Items: items}, nil
	}

	item := evaluateItem(trimmed)
	if item.Err != nil {
		return ParsedInput{}, item.Err
	}
	kind := InputSingle
	if isExpression(trimmed) {
		kind = InputExpression
	}
	return ParsedInput{Kind: kind, Items: []ParsedItem{item}}, nil
}

func evaluateItem(raw string) ParsedItem {
	amount, err := EvaluateExpression(raw)
	if err != nil {
		return ParsedItem{Raw: raw, Err: err}
	}
	return ParsedItem{Raw: raw, Amount: amount}
}

// isExpression reports whether raw contains any operator beyond a plain
// number literal.
func isExpression(raw string) bool {
	for i := 0; i < len(raw); i++ {
		if _, ok := operatorTokens[raw[i]]; ok {
			return true
		}
	}
	return false
}
