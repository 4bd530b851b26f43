package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether colouring is turned off with BBTRACE_NO_COLOR.
func Disabled() bool {
	return os.Getenv("BBTRACE_NO_COLOR") != ""
}

// getAssemblyLexer returns an x86 assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	candidates := []string{"nasm", "gas", "GAS"}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	candidates := []string{"disasm-dark", "dracula", "monokai"}
	for _, name := range candidates {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	candidates := []string{"terminal16m", "terminal256"}
	for _, name := range candidates {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// ColorizeAssembly applies syntax highlighting to Intel syntax x86 code
func ColorizeAssembly(code string) (string, error) {
	if Disabled() {
		return code, nil
	}

	lexer := getAssemblyLexer()
	if lexer == nil {
		return code, nil
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}

	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code, err
	}

	return buf.String(), nil
}

// ColorizeInstructionLine colorizes one listing line of the form
// "0x<address>  <hex bytes>  <instruction>". Lines that do not match are
// returned unchanged.
func ColorizeInstructionLine(line string) string {
	if Disabled() {
		return line
	}

	addr, rest, ok := strings.Cut(line, "  ")
	if !ok || !strings.HasPrefix(addr, "0x") || !isHex(addr[2:]) {
		return line
	}

	// the byte column is padded, so the instruction follows the last double space
	i := strings.LastIndex(rest, "  ")
	if i < 0 {
		return line
	}
	hexBytes, text := rest[:i+2], rest[i+2:]

	colored, err := ColorizeAssembly(text)
	if err != nil {
		colored = text
	}

	// Address in gray (79, 79, 79), bytes in dim gray (133, 133, 133)
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m  \033[38;2;133;133;133m%s\033[0m%s",
		addr, hexBytes, strings.ReplaceAll(colored, "\n", ""))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}
