package bouncer

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/config"
)

// multiLogic combines named sub-bouncers with a boolean expression such
// as "lan and (users or guests)". Evaluation short-circuits left to
// right; a sub-bouncer asking for a challenge round suspends evaluation
// and the challenge is surfaced to the client. The next round follows
// the same path back to the asking term.
type multiLogic struct {
	expr   boolExpr
	logics map[string]logic
}

func newMulti(cfg config.BouncerConfig) (*multiLogic, error) {
	if cfg.Expression == "" {
		return nil, fmt.Errorf("multi bouncer requires an expression")
	}
	if len(cfg.Bouncers) == 0 {
		return nil, fmt.Errorf("multi bouncer requires named sub-bouncers")
	}

	logics := make(map[string]logic, len(cfg.Bouncers))
	for name, sub := range cfg.Bouncers {
		if sub.Kind == "multi" {
			return nil, fmt.Errorf("sub-bouncer %q: multi cannot nest", name)
		}
		lg, err := newLogic(sub)
		if err != nil {
			return nil, fmt.Errorf("sub-bouncer %q: %w", name, err)
		}
		logics[name] = lg
	}

	expr, err := parseBoolExpr(cfg.Expression)
	if err != nil {
		return nil, fmt.Errorf("parsing expression: %w", err)
	}
	if err := expr.check(logics); err != nil {
		return nil, err
	}
	return &multiLogic{expr: expr, logics: logics}, nil
}

func (l *multiLogic) authenticate(keycard *auth.Keycard) (*auth.Keycard, error) {
	granted, challenge, err := l.expr.eval(l.logics, keycard)
	if err != nil {
		return nil, err
	}
	if challenge != nil {
		return challenge, nil
	}
	if granted {
		keycard.State = auth.Authenticated
	} else {
		keycard.State = auth.Refused
	}
	return keycard, nil
}

// boolExpr is a parsed combination node. eval returns the boolean
// outcome, or a non-nil challenge keycard when a term needs another
// round.
type boolExpr interface {
	eval(logics map[string]logic, keycard *auth.Keycard) (bool, *auth.Keycard, error)
	check(logics map[string]logic) error
}

type termExpr struct{ name string }

func (e termExpr) check(logics map[string]logic) error {
	if _, ok := logics[e.name]; !ok {
		return fmt.Errorf("expression references unknown bouncer %q", e.name)
	}
	return nil
}

func (e termExpr) eval(logics map[string]logic, keycard *auth.Keycard) (bool, *auth.Keycard, error) {
	result, err := logics[e.name].authenticate(keycard)
	if err != nil {
		return false, nil, err
	}
	if result == nil {
		return false, nil, nil
	}
	switch result.State {
	case auth.Authenticated:
		return true, nil, nil
	case auth.Requesting:
		return false, result, nil
	}
	return false, nil, nil
}

type notExpr struct{ inner boolExpr }

func (e notExpr) check(logics map[string]logic) error { return e.inner.check(logics) }

func (e notExpr) eval(logics map[string]logic, keycard *auth.Keycard) (bool, *auth.Keycard, error) {
	granted, challenge, err := e.inner.eval(logics, keycard)
	if err != nil || challenge != nil {
		return false, challenge, err
	}
	return !granted, nil, nil
}

type andExpr struct{ left, right boolExpr }

func (e andExpr) check(logics map[string]logic) error {
	if err := e.left.check(logics); err != nil {
		return err
	}
	return e.right.check(logics)
}

func (e andExpr) eval(logics map[string]logic, keycard *auth.Keycard) (bool, *auth.Keycard, error) {
	granted, challenge, err := e.left.eval(logics, keycard)
	if err != nil || challenge != nil || !granted {
		return false, challenge, err
	}
	return e.right.eval(logics, keycard)
}

type orExpr struct{ left, right boolExpr }

func (e orExpr) check(logics map[string]logic) error {
	if err := e.left.check(logics); err != nil {
		return err
	}
	return e.right.check(logics)
}

func (e orExpr) eval(logics map[string]logic, keycard *auth.Keycard) (bool, *auth.Keycard, error) {
	granted, challenge, err := e.left.eval(logics, keycard)
	if err != nil || challenge != nil || granted {
		return granted, challenge, err
	}
	return e.right.eval(logics, keycard)
}

// Expression grammar, lowest precedence first:
//
//	or    := and { "or" and }
//	and   := unary { "and" unary }
//	unary := "not" unary | "(" or ")" | ident
type exprParser struct {
	tokens []string
	pos    int
}

func parseBoolExpr(s string) (boolExpr, error) {
	p := &exprParser{tokens: tokenizeExpr(s)}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q", p.tokens[p.pos])
	}
	return expr, nil
}

func tokenizeExpr(s string) []string {
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsSpace(r):
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func (p *exprParser) parseOr() (boolExpr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (boolExpr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peekKeyword("and") {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andExpr{left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseUnary() (boolExpr, error) {
	if p.pos >= len(p.tokens) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	tok := p.tokens[p.pos]
	switch {
	case strings.EqualFold(tok, "not"):
		p.pos++
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{inner: inner}, nil
	case tok == "(":
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos] != ")" {
			return nil, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return inner, nil
	case tok == ")":
		return nil, fmt.Errorf("unexpected closing parenthesis")
	case strings.EqualFold(tok, "and") || strings.EqualFold(tok, "or"):
		return nil, fmt.Errorf("unexpected keyword %q", tok)
	}
	p.pos++
	return termExpr{name: tok}, nil
}

func (p *exprParser) peekKeyword(kw string) bool {
	return p.pos < len(p.tokens) && strings.EqualFold(p.tokens[p.pos], kw)
}
