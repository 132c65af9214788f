package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const httpToolMaxBody = 64 * 1024

// BuiltinTools returns the toolkit that ships with the service.
func BuiltinTools() []Tool {
	return []Tool{
		NewFuncTool(
			"calculator",
			"Evaluate a basic arithmetic expression with +, -, *, / and parentheses.",
			objectSchema(map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Expression to evaluate, e.g. \"(2+3)*4\"",
				},
			}, "expression"),
			calculate,
		),
		NewFuncTool(
			"current_time",
			"Return the current date and time, optionally in a named IANA timezone.",
			objectSchema(map[string]any{
				"timezone": map[string]any{
					"type":        "string",
					"description": "IANA timezone name, e.g. \"Asia/Shanghai\". Defaults to UTC.",
				},
			}),
			currentTime,
		),
		NewFuncTool(
			"http_request",
			"Fetch a URL with HTTP GET and return the response body as text.",
			objectSchema(map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "Absolute http(s) URL to fetch.",
				},
			}, "url"),
			httpRequest,
		),
	}
}

func currentTime(ctx context.Context, args map[string]any) (string, error) {
	loc := time.UTC
	if tz := stringArg(args, "timezone", ""); tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		loc = parsed
	}
	return time.Now().In(loc).Format("2006-01-02 15:04:05 MST"), nil
}

func httpRequest(ctx context.Context, args map[string]any) (string, error) {
	url := stringArg(args, "url", "")
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "", fmt.Errorf("url must be absolute http(s)")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpToolMaxBody))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// calculate evaluates an arithmetic expression with a small recursive
// descent parser. Supports + - * / and parentheses.
func calculate(_ context.Context, args map[string]any) (string, error) {
	expr := strings.ReplaceAll(stringArg(args, "expression", ""), " ", "")
	if expr == "" {
		return "", fmt.Errorf("expression is required")
	}
	p := &exprParser{input: expr}
	val, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.input) {
		return "", fmt.Errorf("unexpected character at position %d", p.pos)
	}
	return strconv.FormatFloat(val, 'f', -1, 64), nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.input) {
		op := p.input[p.pos]
		if op != '+' && op != '-' {
			break
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
	return left, nil
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseFactor()
	if err != nil {
		return 0, err
	}
	for p.pos < len(p.input) {
		op := p.input[p.pos]
		if op != '*' && op != '/' {
			break
		}
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return 0, err
		}
		if op == '*' {
			left *= right
		} else {
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		}
	}
	return left, nil
}

func (p *exprParser) parseFactor() (float64, error) {
	if p.pos >= len(p.input) {
		return 0, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		val, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return val, nil
	}
	if p.input[p.pos] == '-' {
		p.pos++
		val, err := p.parseFactor()
		return -val, err
	}

	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] == '.' || (p.input[p.pos] >= '0' && p.input[p.pos] <= '9')) {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	return strconv.ParseFloat(p.input[start:p.pos], 64)
}
