// Package printer writes human-facing CLI output: status lines, check
// items, and error boxes for broker exceptions and config validation.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
	"golang.org/x/term"

	"github.com/hay-kot/weave/internal/core/werr"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorBlue      = "\033[38;2;122;162;247m" // #7aa2f7
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

// Symbols
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
)

type ctxKey struct{}

// Printer writes formatted lines to a writer. Colors are applied only when
// enabled.
type Printer struct {
	w     io.Writer
	color bool
}

// New creates a Printer for w. Colors are used only when w is a terminal and
// NO_COLOR is unset.
func New(w io.Writer) *Printer {
	return &Printer{
		w:     w,
		color: isTerminal(w) && os.Getenv("NO_COLOR") == "",
	}
}

// WithColor forces colors on or off.
func (p *Printer) WithColor(enabled bool) *Printer {
	p.color = enabled
	return p
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// NewContext returns a context carrying p.
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx returns the printer carried by ctx, or a stderr printer.
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

func (p *Printer) line(s string) {
	_, _ = io.WriteString(p.w, s+"\n")
}

// box writes a titled error box. Each body line is prefixed by the gutter.
func (p *Printer) box(title string, body ...string) {
	gutter := p.colorize(ColorRed, "│")
	p.line(p.colorize(ColorRed, "╭ "+title))
	for _, b := range body {
		if b == "" {
			p.line(gutter)
			continue
		}
		p.line(gutter + " " + b)
	}
	p.line(p.colorize(ColorRed, "╵"))
}

// FatalError prints err in an error box. It does not exit.
//
// Config validation errors get one line per field. Broker exceptions show
// their kind in the title so scripts and humans see the same identifier the
// wire carries.
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.validationBox(err, fieldErrs)
		return
	}

	title := "Error"
	var we *werr.Error
	if errors.As(err, &we) {
		title = "Broker Error (" + string(we.Kind) + ")"
	}
	p.box(title, p.colorize(ColorGray, err.Error()))
}

func (p *Printer) validationBox(wrapped error, fieldErrs criterio.FieldErrors) {
	var body []string

	// Whatever precedes the field list in the wrapped message ("load config")
	// is shown as context.
	full, fields := wrapped.Error(), fieldErrs.Error()
	if idx := strings.Index(full, fields); idx > 0 {
		body = append(body, p.colorize(ColorGray, strings.TrimSuffix(full[:idx], ": ")), "")
	}

	for _, fe := range fieldErrs {
		entry := p.colorize(ColorRed, Cross) + " "
		if fe.Field != "" {
			entry += p.colorize(ColorGray, fe.Field+": ")
		}
		body = append(body, entry+fe.Err.Error())
	}

	p.box("Validation Error", body...)
}

func (p *Printer) status(color, symbol, format string, args []any) {
	p.line(p.colorize(color, symbol+" "+fmt.Sprintf(format, args...)))
}

// Errorf prints a red failure line.
func (p *Printer) Errorf(format string, args ...any) { p.status(ColorRed, Cross, format, args) }

// Successf prints a green success line.
func (p *Printer) Successf(format string, args ...any) { p.status(ColorGreen, Check, format, args) }

// Infof prints a gray info line.
func (p *Printer) Infof(format string, args ...any) { p.status(ColorGray, Dot, format, args) }

// Warnf prints a yellow warning line.
func (p *Printer) Warnf(format string, args ...any) { p.status(ColorYellow, Dot, format, args) }

// Printf prints a plain line.
func (p *Printer) Printf(format string, args ...any) {
	p.line(fmt.Sprintf(format, args...))
}

// KeyValue prints an aligned "key  value" line with the value highlighted,
// used for listener addresses.
func (p *Printer) KeyValue(key, value string) {
	p.line(fmt.Sprintf("  %-10s %s", key, p.colorize(ColorBlue, value)))
}

func (p *Printer) colorize(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

// Section prints a bold underlined header.
func (p *Printer) Section(title string) {
	p.line(p.colorize(ColorBold+ColorUnderline, title))
}

// CheckItem prints an indented passing item.
func (p *Printer) CheckItem(label, detail string) { p.item(ColorGreen, Check, label, detail) }

// WarnItem prints an indented warning item.
func (p *Printer) WarnItem(label, detail string) { p.item(ColorYellow, Dot, label, detail) }

// FailItem prints an indented failing item.
func (p *Printer) FailItem(label, detail string) { p.item(ColorRed, Cross, label, detail) }

func (p *Printer) item(color, symbol, label, detail string) {
	s := "  " + p.colorize(color, symbol) + " " + label
	if detail != "" {
		s += ": " + detail
	}
	p.line(s)
}
